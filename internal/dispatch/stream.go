package dispatch

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/modelgate/modelgate/internal/constant"
	"github.com/modelgate/modelgate/internal/runtime/executor"
	"github.com/modelgate/modelgate/internal/sse"
	"github.com/modelgate/modelgate/internal/translator/translator"
	"github.com/modelgate/modelgate/internal/usage"
)

// accounting identifies one upstream exchange for usage publication.
type accounting struct {
	provider string
	model    string
	credID   string
	start    time.Time
}

// forwardStream pumps upstream SSE events to the client channel, translating
// each event when the dialects differ. Claude-dialect passthrough preserves
// event names as composite items; translated streams stop at the [DONE]
// sentinel after emitting it. A mid-stream upstream failure becomes one final
// error document so clients see a structured tail instead of a silent close.
func (d *Dispatcher) forwardStream(ctx context.Context, from, to constant.Format, acct accounting, originalBody []byte, events <-chan executor.StreamChunk, out chan<- string) {
	defer close(out)

	needTranslate := translator.NeedTranslate(from, to)
	state := &translator.State{ContentIndex: -1, ToolCallIndex: -1}

	var inTokens, outTokens *int64
	defer func() { d.publishUsage(acct, inTokens, outTokens) }()

	for {
		var chunk executor.StreamChunk
		var ok bool
		select {
		case chunk, ok = <-events:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}

		if chunk.Err != nil {
			log.Warnf("upstream stream error: %v", chunk.Err)
			emit(ctx, out, streamErrorJSON(chunk.Err))
			return
		}

		// Token counts arrive spread over the event flow; the latest
		// observation of each side wins.
		if in, outT := extractStreamUsage(chunk.Data); in != nil || outT != nil {
			if in != nil {
				inTokens = in
			}
			if outT != nil {
				outTokens = outT
			}
		}

		if !needTranslate {
			item := string(chunk.Data)
			if from == constant.Claude {
				item = sse.FormatEvent(chunk.Event, string(chunk.Data))
			}
			if !emit(ctx, out, item) {
				return
			}
			continue
		}

		lines, err := translator.Stream(from, to, acct.model, originalBody, chunk.Event, chunk.Data, state)
		if err != nil {
			log.Warnf("stream translation error: %v", err)
			emit(ctx, out, streamErrorJSON(err))
			return
		}
		for _, line := range lines {
			if !emit(ctx, out, line) {
				return
			}
			if line == sse.Done {
				return
			}
		}
	}
}

// keepaliveTail finishes a non-stream request whose upstream outlived the
// keepalive threshold: it emits one space per interval while the exchange is
// still in flight, then the translated document (or an error document) as the
// final chunk.
func (d *Dispatcher) keepaliveTail(ctx context.Context, resultCh <-chan execOutcome, interval time.Duration, from, to constant.Format, acct accounting, originalBody []byte, out chan<- string) {
	defer close(out)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case outcome := <-resultCh:
			if outcome.err != nil {
				emit(ctx, out, keepaliveErrorJSON(outcome.err.Error()))
				return
			}
			translated, err := translator.NonStream(from, to, acct.model, originalBody, outcome.resp.Payload)
			if err != nil {
				emit(ctx, out, keepaliveErrorJSON(err.Error()))
				return
			}
			inTokens, outTokens := extractUsage([]byte(translated))
			d.publishUsage(acct, inTokens, outTokens)
			emit(ctx, out, translated)
			return
		case <-ticker.C:
			if !emit(ctx, out, " ") {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// publishUsage files the accounting record for a finished exchange when both
// token counts were observed, and returns the cost estimate for the caller's
// metadata. The background context keeps the record alive past the request's
// own cancellation.
func (d *Dispatcher) publishUsage(acct accounting, input, output *int64) *float64 {
	if input == nil || output == nil {
		return nil
	}
	record := usage.Record{
		Provider:     acct.provider,
		Model:        acct.model,
		CredentialID: acct.credID,
		RequestedAt:  acct.start,
		Detail:       usage.Detail{InputTokens: *input, OutputTokens: *output, TotalTokens: *input + *output},
	}
	if c, ok := d.cost.Calculate(acct.model, *input, *output); ok {
		record.CostUSD = &c
	}
	d.usage.Publish(context.Background(), record)
	return record.CostUSD
}

// extractStreamUsage reads token counts out of one stream event in any
// dialect: the Claude message_start nests them under message.usage, everything
// else matches the non-stream shapes.
func extractStreamUsage(data []byte) (*int64, *int64) {
	if !gjson.ValidBytes(data) {
		return nil, nil
	}
	if u := gjson.GetBytes(data, "message.usage"); u.Exists() {
		return firstNumber(u, "input_tokens"), firstNumber(u, "output_tokens")
	}
	return extractUsage(data)
}

// emit sends one item unless it is empty or the context is gone. It reports
// whether the pump should keep going.
func emit(ctx context.Context, out chan<- string, item string) bool {
	if item == "" {
		return true
	}
	select {
	case out <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

func streamErrorJSON(err error) string {
	doc, mErr := json.Marshal(map[string]map[string]string{
		"error": {"message": err.Error()},
	})
	if mErr != nil {
		return `{"error":{"message":"stream failed"}}`
	}
	return string(doc)
}

func keepaliveErrorJSON(msg string) string {
	doc, err := json.Marshal(map[string]map[string]string{
		"error": {"message": msg, "type": "server_error"},
	})
	if err != nil {
		return `{"error":{"message":"request failed","type":"server_error"}}`
	}
	return string(doc)
}
