package metrics

import (
	"context"

	"github.com/modelgate/modelgate/internal/usage"
)

// UsagePlugin feeds usage pipeline records into the metrics counters so
// token totals and cost accumulate off the request path.
type UsagePlugin struct {
	metrics *Metrics
}

// NewUsagePlugin wraps a metrics registry as a usage pipeline plugin.
func NewUsagePlugin(m *Metrics) *UsagePlugin {
	return &UsagePlugin{metrics: m}
}

// HandleUsage implements usage.Plugin.
func (p *UsagePlugin) HandleUsage(_ context.Context, record usage.Record) {
	p.metrics.RecordTokens(record.Detail.InputTokens, record.Detail.OutputTokens)
	if record.CostUSD != nil {
		p.metrics.RecordCost(record.Model, *record.CostUSD)
	}
}
