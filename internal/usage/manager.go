// Package usage provides an asynchronous pipeline for per-request usage
// statistics. Dispatch publishes a record after each completed exchange;
// registered plugins consume them off a buffered queue so accounting never
// blocks the request path.
package usage

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Record contains the usage captured for a single upstream exchange.
type Record struct {
	Provider     string
	Model        string
	CredentialID string
	RequestedAt  time.Time
	Detail       Detail
	// CostUSD is the estimated cost for the exchange, nil when the model
	// has no known price.
	CostUSD *float64
}

// Detail breaks token usage down by direction.
type Detail struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// Plugin consumes usage records emitted by the dispatch loop.
type Plugin interface {
	HandleUsage(ctx context.Context, record Record)
}

type envelope struct {
	ctx context.Context
	rec Record
}

// Manager fans usage records out to registered plugins from a single
// worker goroutine.
type Manager struct {
	startOnce sync.Once
	stopOnce  sync.Once

	mu      sync.RWMutex
	plugins []Plugin
	closed  bool

	queue chan envelope
	stop  chan struct{}
}

// NewManager constructs a manager whose queue holds buffer records.
// Non-positive buffers fall back to 256.
func NewManager(buffer int) *Manager {
	if buffer <= 0 {
		buffer = 256
	}
	return &Manager{
		queue: make(chan envelope, buffer),
		stop:  make(chan struct{}),
	}
}

// Start launches the worker goroutine. Repeat calls are no-ops.
func (m *Manager) Start(ctx context.Context) {
	if m == nil {
		return
	}
	m.startOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		go m.worker(ctx)
	})
}

// Stop shuts the worker down after it flushes whatever the queue still
// holds. Records published after Stop are discarded.
func (m *Manager) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.stop)
	})
}

// Register adds a consumer for subsequent records.
func (m *Manager) Register(plugin Plugin) {
	if m == nil || plugin == nil {
		return
	}
	m.mu.Lock()
	m.plugins = append(m.plugins, plugin)
	m.mu.Unlock()
}

// Publish enqueues a usage record, starting the worker if Start was never
// called. When the queue is full the record is dropped so the request path
// never blocks on accounting.
func (m *Manager) Publish(ctx context.Context, record Record) {
	if m == nil {
		return
	}
	m.Start(context.Background())

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return
	}

	select {
	case m.queue <- envelope{ctx: ctx, rec: record}:
	default:
		log.Debugf("usage queue full, dropping %s record", record.Provider)
	}
}

func (m *Manager) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.flush()
			return
		case <-m.stop:
			m.flush()
			return
		case env := <-m.queue:
			m.deliver(env)
		}
	}
}

// flush hands out everything still buffered without waiting for more.
func (m *Manager) flush() {
	for {
		select {
		case env := <-m.queue:
			m.deliver(env)
		default:
			return
		}
	}
}

func (m *Manager) deliver(env envelope) {
	m.mu.RLock()
	plugins := append([]Plugin(nil), m.plugins...)
	m.mu.RUnlock()

	for _, plugin := range plugins {
		m.invoke(plugin, env)
	}
}

// invoke isolates plugin panics so one misbehaving consumer cannot take
// down the pipeline or starve the remaining plugins.
func (m *Manager) invoke(plugin Plugin, env envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("usage plugin panicked: %v", r)
		}
	}()
	plugin.HandleUsage(env.ctx, env.rec)
}
