package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type capturePlugin struct {
	mu      sync.Mutex
	records []Record
}

func (p *capturePlugin) HandleUsage(_ context.Context, record Record) {
	p.mu.Lock()
	p.records = append(p.records, record)
	p.mu.Unlock()
}

func (p *capturePlugin) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

type panicPlugin struct{}

func (p *panicPlugin) HandleUsage(context.Context, Record) { panic("boom") }

func TestManagerDeliversRecords(t *testing.T) {
	m := NewManager(8)
	defer m.Stop()
	capture := &capturePlugin{}
	m.Register(capture)
	m.Start(context.Background())

	for i := 0; i < 3; i++ {
		m.Publish(context.Background(), Record{
			Provider:     "claude",
			Model:        "claude-sonnet-4-5",
			CredentialID: "claude-0",
			RequestedAt:  time.Now(),
			Detail:       Detail{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		})
	}

	require.Eventually(t, func() bool { return capture.count() == 3 }, time.Second, 5*time.Millisecond)
	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Equal(t, "claude", capture.records[0].Provider)
	require.Equal(t, int64(15), capture.records[0].Detail.TotalTokens)
}

func TestManagerRecoversFromPluginPanic(t *testing.T) {
	m := NewManager(8)
	defer m.Stop()
	capture := &capturePlugin{}
	m.Register(&panicPlugin{})
	m.Register(capture)
	m.Start(context.Background())

	m.Publish(context.Background(), Record{Provider: "gemini", Model: "gemini-2.0-flash"})
	m.Publish(context.Background(), Record{Provider: "gemini", Model: "gemini-2.0-flash"})

	require.Eventually(t, func() bool { return capture.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPublishStartsWorkerLazily(t *testing.T) {
	m := NewManager(4)
	defer m.Stop()
	capture := &capturePlugin{}
	m.Register(capture)

	// no explicit Start; Publish must bring the worker up
	m.Publish(context.Background(), Record{Provider: "openai", Model: "gpt-4o"})

	require.Eventually(t, func() bool { return capture.count() == 1 }, time.Second, 5*time.Millisecond)
}
