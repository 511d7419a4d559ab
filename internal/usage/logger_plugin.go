package usage

import (
	"context"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// LoggerPlugin writes every usage record to the application log at debug
// level. It is registered by the server entry point alongside the metrics
// plugin.
type LoggerPlugin struct{}

// NewLoggerPlugin returns the debug-log usage consumer.
func NewLoggerPlugin() *LoggerPlugin { return &LoggerPlugin{} }

// HandleUsage implements Plugin.
func (p *LoggerPlugin) HandleUsage(_ context.Context, record Record) {
	cost := "n/a"
	if record.CostUSD != nil {
		cost = strconv.FormatFloat(*record.CostUSD, 'f', 6, 64)
	}
	log.Debugf("usage: provider=%s model=%s credential=%s tokens=%d/%d/%d cost=%s",
		record.Provider, record.Model, record.CredentialID,
		record.Detail.InputTokens, record.Detail.OutputTokens, record.Detail.TotalTokens, cost)
}
