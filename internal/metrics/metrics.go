// Package metrics keeps lightweight in-process counters for the gateway:
// request/error totals, token totals, per-model and per-provider counts, a
// latency histogram, and accumulated cost. Everything lives in memory and is
// reported as a JSON snapshot by /metrics and the management usage endpoint.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// bucket upper bounds in milliseconds; the last bucket is unbounded.
var bucketBounds = [5]int64{100, 500, 1000, 5000, 30000}

var bucketLabels = [6]string{"<100", "100-499", "500-999", "1000-4999", "5000-29999", ">=30000"}

// Metrics holds atomic counters shared across the dispatch loop and the
// HTTP middleware.
type Metrics struct {
	totalRequests     atomic.Uint64
	totalErrors       atomic.Uint64
	totalInputTokens  atomic.Uint64
	totalOutputTokens atomic.Uint64
	// cost is stored in micro-USD so it can live in an atomic
	totalCostMicro atomic.Uint64
	totalLatencyMS atomic.Uint64
	latencyBuckets [6]atomic.Uint64

	mu             sync.Mutex
	modelCounts    map[string]uint64
	providerCounts map[string]uint64
	modelCosts     map[string]float64

	createdAt time.Time
}

// New constructs an empty metrics registry.
func New() *Metrics {
	return &Metrics{
		modelCounts:    make(map[string]uint64),
		providerCounts: make(map[string]uint64),
		modelCosts:     make(map[string]float64),
		createdAt:      time.Now(),
	}
}

// RecordRequest counts one upstream attempt against a model and provider.
func (m *Metrics) RecordRequest(model, provider string) {
	m.totalRequests.Add(1)
	m.mu.Lock()
	m.modelCounts[model]++
	m.providerCounts[provider]++
	m.mu.Unlock()
}

// RecordError counts one request that ultimately failed.
func (m *Metrics) RecordError() {
	m.totalErrors.Add(1)
}

// RecordLatency files one request duration into the histogram.
func (m *Metrics) RecordLatency(ms int64) {
	if ms < 0 {
		ms = 0
	}
	bucket := len(bucketBounds)
	for i, bound := range bucketBounds {
		if ms < bound {
			bucket = i
			break
		}
	}
	m.latencyBuckets[bucket].Add(1)
	m.totalLatencyMS.Add(uint64(ms))
}

// RecordTokens accumulates token totals for one exchange.
func (m *Metrics) RecordTokens(input, output int64) {
	if input > 0 {
		m.totalInputTokens.Add(uint64(input))
	}
	if output > 0 {
		m.totalOutputTokens.Add(uint64(output))
	}
}

// RecordCost accumulates the estimated USD cost of one exchange.
func (m *Metrics) RecordCost(model string, cost float64) {
	if cost < 0 {
		return
	}
	m.totalCostMicro.Add(uint64(cost * 1e6))
	m.mu.Lock()
	m.modelCosts[model] += cost
	m.mu.Unlock()
}

// Snapshot is the JSON shape served by /metrics.
type Snapshot struct {
	TotalRequests     uint64             `json:"total_requests"`
	TotalErrors       uint64             `json:"total_errors"`
	TotalInputTokens  uint64             `json:"total_input_tokens"`
	TotalOutputTokens uint64             `json:"total_output_tokens"`
	TotalCostUSD      float64            `json:"total_cost_usd"`
	LatencyMS         map[string]uint64  `json:"latency_ms"`
	ByModel           map[string]uint64  `json:"by_model"`
	ByProvider        map[string]uint64  `json:"by_provider"`
	CostByModel       map[string]float64 `json:"cost_by_model"`
	TotalTokens       uint64             `json:"total_tokens"`
	ActiveProviders   int                `json:"active_providers"`
	RequestsPerMinute float64            `json:"requests_per_minute"`
	AvgLatencyMS      float64            `json:"avg_latency_ms"`
	ErrorRate         float64            `json:"error_rate"`
	UptimeSeconds     uint64             `json:"uptime_seconds"`
}

// Snapshot returns a point-in-time copy of all counters plus the derived
// fields the dashboard-style consumers expect.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		TotalRequests:     m.totalRequests.Load(),
		TotalErrors:       m.totalErrors.Load(),
		TotalInputTokens:  m.totalInputTokens.Load(),
		TotalOutputTokens: m.totalOutputTokens.Load(),
		TotalCostUSD:      float64(m.totalCostMicro.Load()) / 1e6,
		LatencyMS:         make(map[string]uint64, len(bucketLabels)),
	}
	for i, label := range bucketLabels {
		snap.LatencyMS[label] = m.latencyBuckets[i].Load()
	}

	m.mu.Lock()
	snap.ByModel = make(map[string]uint64, len(m.modelCounts))
	for model, n := range m.modelCounts {
		snap.ByModel[model] = n
	}
	snap.ByProvider = make(map[string]uint64, len(m.providerCounts))
	for provider, n := range m.providerCounts {
		snap.ByProvider[provider] = n
	}
	snap.CostByModel = make(map[string]float64, len(m.modelCosts))
	for model, c := range m.modelCosts {
		snap.CostByModel[model] = c
	}
	m.mu.Unlock()

	snap.TotalTokens = snap.TotalInputTokens + snap.TotalOutputTokens
	snap.ActiveProviders = len(snap.ByProvider)
	snap.UptimeSeconds = uint64(time.Since(m.createdAt).Seconds())
	if snap.TotalRequests > 0 {
		snap.ErrorRate = float64(snap.TotalErrors) / float64(snap.TotalRequests)
		snap.AvgLatencyMS = float64(m.totalLatencyMS.Load()) / float64(snap.TotalRequests)
	}
	if snap.UptimeSeconds > 0 {
		snap.RequestsPerMinute = float64(snap.TotalRequests) / float64(snap.UptimeSeconds) * 60
	}
	return snap
}
