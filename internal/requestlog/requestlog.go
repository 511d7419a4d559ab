// Package requestlog keeps a fixed-capacity in-memory ring of completed
// requests. The logging middleware pushes one entry per request; the
// management API reads them back with filtering and pagination.
package requestlog

import (
	"strconv"
	"sync"
)

// Entry describes one completed inbound request. Timestamp is unix
// milliseconds; token and cost fields are nil when the exchange produced no
// usage data.
type Entry struct {
	Timestamp    int64    `json:"timestamp"`
	RequestID    string   `json:"request_id"`
	Method       string   `json:"method"`
	Path         string   `json:"path"`
	Status       int      `json:"status"`
	LatencyMS    int64    `json:"latency_ms"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	InputTokens  *int64   `json:"input_tokens,omitempty"`
	OutputTokens *int64   `json:"output_tokens,omitempty"`
	Cost         *float64 `json:"cost,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Query filters and paginates log reads. Zero values mean "no filter";
// PageSize 0 selects the default of 50.
type Query struct {
	Page     int
	PageSize int
	Provider string
	Model    string
	// Status matches a class ("2xx", "4xx", "5xx") or an exact code ("429").
	Status string
	From   int64
	To     int64
}

// Page is one page of query results, newest first.
type Page struct {
	Items    []Entry `json:"items"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
}

// Stats summarizes the current ring contents.
type Stats struct {
	TotalEntries int   `json:"total_entries"`
	Capacity     int   `json:"capacity"`
	ErrorCount   int   `json:"error_count"`
	AvgLatencyMS int64 `json:"avg_latency_ms"`
}

// Store is a concurrency-safe ring buffer of request log entries. When full,
// pushing evicts the oldest entry.
type Store struct {
	mu       sync.RWMutex
	entries  []Entry
	head     int // index of the oldest entry once the ring is full
	capacity int
}

// NewStore builds a ring with the given capacity (default 1000).
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Store{capacity: capacity}
}

// Push appends an entry, evicting the oldest when at capacity.
func (s *Store) Push(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) < s.capacity {
		s.entries = append(s.entries, entry)
		return
	}
	s.entries[s.head] = entry
	s.head = (s.head + 1) % s.capacity
}

// Query returns the matching entries newest first, paginated.
func (s *Store) Query(q Query) Page {
	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize == 0 {
		pageSize = 50
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 200 {
		pageSize = 200
	}

	s.mu.RLock()
	n := len(s.entries)
	filtered := make([]Entry, 0, n)
	for k := 0; k < n; k++ {
		entry := s.entries[(s.head+n-1-k)%n]
		if q.Provider != "" && entry.Provider != q.Provider {
			continue
		}
		if q.Model != "" && entry.Model != q.Model {
			continue
		}
		if q.Status != "" && !statusMatches(q.Status, entry.Status) {
			continue
		}
		if q.From != 0 && entry.Timestamp < q.From {
			continue
		}
		if q.To != 0 && entry.Timestamp > q.To {
			continue
		}
		filtered = append(filtered, entry)
	}
	s.mu.RUnlock()

	total := len(filtered)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return Page{Items: filtered[start:end], Total: total, Page: page, PageSize: pageSize}
}

// Stats returns summary statistics over the current ring contents.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{TotalEntries: len(s.entries), Capacity: s.capacity}
	var latencySum int64
	for _, entry := range s.entries {
		if entry.Status >= 400 {
			stats.ErrorCount++
		}
		latencySum += entry.LatencyMS
	}
	if stats.TotalEntries > 0 {
		stats.AvgLatencyMS = latencySum / int64(stats.TotalEntries)
	}
	return stats
}

func statusMatches(filter string, status int) bool {
	switch filter {
	case "2xx":
		return status >= 200 && status < 300
	case "4xx":
		return status >= 400 && status < 500
	case "5xx":
		return status >= 500 && status < 600
	default:
		code, err := strconv.Atoi(filter)
		if err != nil {
			return true
		}
		return status == code
	}
}
