// Package dispatch implements the routing core of the gateway. One dispatch
// walks the model fallback chain, and for each model runs retry rounds over
// the providers that can serve it: pick a credential, translate the body,
// apply payload rules and cloaking, execute, and classify failures into
// retryable (cool the credential down, rotate on) and terminal (surface to
// the caller immediately).
package dispatch

import (
	"context"
	"math/rand"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/modelgate/modelgate/internal/apierror"
	"github.com/modelgate/modelgate/internal/cloak"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/constant"
	"github.com/modelgate/modelgate/internal/cost"
	"github.com/modelgate/modelgate/internal/credential"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/payload"
	"github.com/modelgate/modelgate/internal/runtime/executor"
	"github.com/modelgate/modelgate/internal/translator/translator"
	"github.com/modelgate/modelgate/internal/usage"
)

// Request carries one inbound API call through the dispatch loop.
type Request struct {
	// SourceFormat is the dialect the client speaks.
	SourceFormat constant.Format

	// Model is the requested model name, possibly prefixed or aliased.
	Model string

	// Models is the optional fallback chain, tried in order. Empty means
	// just Model.
	Models []string

	// Stream reports whether the client requested streaming.
	Stream bool

	// Body is the raw request body.
	Body []byte

	// AllowedFormats restricts provider resolution. Nil auto-resolves from
	// the model name.
	AllowedFormats []constant.Format

	// UserAgent is the client User-Agent header, used by cloak auto mode.
	UserAgent string

	// Debug asks for x-debug-* routing headers on the response.
	Debug bool
}

// Meta records how a dispatch was routed. The API layer turns it into debug
// headers and the request-log entry.
type Meta struct {
	Provider   string
	Model      string
	Credential string
	// Attempts lists every "model@format" pair tried, plus skip markers for
	// models that resolved no provider.
	Attempts     []string
	InputTokens  *int64
	OutputTokens *int64
	Cost         *float64
}

// Result is the outcome of a successful dispatch. Exactly one of JSON,
// Stream, and Keepalive is set.
type Result struct {
	// JSON is the complete translated response document.
	JSON []byte

	// Headers carries upstream passthrough headers for JSON results.
	Headers http.Header

	// Stream delivers SSE output items: JSON documents, the [DONE]
	// sentinel, or "event: X\ndata: Y" composites. Closed when the
	// upstream stream ends.
	Stream <-chan string

	// Keepalive delivers raw chunked-body pieces: heartbeat spaces while
	// the upstream is still working, then the final JSON document.
	Keepalive <-chan string

	Meta Meta
}

// Dispatcher owns the per-request routing pipeline and its collaborators.
type Dispatcher struct {
	cfg       *config.Store
	router    *credential.Router
	executors *executor.Registry
	metrics   *metrics.Metrics
	cost      *cost.Calculator
	usage     *usage.Manager
}

// New wires a dispatcher.
func New(cfg *config.Store, router *credential.Router, executors *executor.Registry, m *metrics.Metrics, costCalc *cost.Calculator, usageMgr *usage.Manager) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		router:    router,
		executors: executors,
		metrics:   m,
		cost:      costCalc,
		usage:     usageMgr,
	}
}

type execOutcome struct {
	resp executor.Response
	err  error
}

// Dispatch routes one request and returns the response payload in whichever
// shape the exchange produced. The error is terminal: retryable failures
// only reach the caller once every candidate is exhausted.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, *apierror.Error) {
	start := time.Now()
	cfg := d.cfg.Load()

	chain := req.Models
	if len(chain) == 0 {
		chain = []string{req.Model}
	}

	meta := Meta{}
	var lastErr *apierror.Error

modelLoop:
	for _, currentModel := range chain {
		if cfg.ForceModelPrefix && !d.router.ModelHasPrefix(currentModel) {
			meta.Attempts = append(meta.Attempts, currentModel+": prefix_required")
			continue
		}

		providers := req.AllowedFormats
		if providers == nil {
			providers = d.router.ResolveProviders(currentModel)
		}
		if len(providers) == 0 {
			meta.Attempts = append(meta.Attempts, currentModel+": no_provider")
			continue
		}

		body := req.Body
		if currentModel != req.Model {
			body = rewriteModel(req.Body, currentModel)
		}

		tried := make(map[string]struct{})
		bootstrapAttempts := 0

		for attempt := 0; attempt < cfg.Retry.MaxRetries; attempt++ {
			for _, target := range providers {
				cred := d.router.Pick(target, currentModel, tried)
				if cred == nil {
					continue
				}
				exec := d.executors.GetByFormat(target)
				if exec == nil {
					continue
				}
				actualModel := cred.ResolveModelID(currentModel)

				meta.Attempts = append(meta.Attempts, actualModel+"@"+target.String())
				d.metrics.RecordRequest(actualModel, target.String())

				translated, err := translator.Request(req.SourceFormat, target, actualModel, body, req.Stream)
				if err != nil {
					return nil, apierror.From(err)
				}
				translated = d.applyPayloadRules(translated, cfg, actualModel, target)

				var extraHeaders map[string]string
				if target == constant.Claude && cloak.ShouldCloak(cred.Cloak, req.UserAgent) {
					translated = cloak.Apply(translated, cred.Cloak, cred.APIKey)
					if len(cfg.ClaudeHeaderDefaults) > 0 {
						extraHeaders = make(map[string]string, len(cfg.ClaudeHeaderDefaults))
						for k, v := range cfg.ClaudeHeaderDefaults {
							extraHeaders[k] = v
						}
					}
				}

				provReq := executor.Request{
					Model:   actualModel,
					Payload: translated,
					Headers: extraHeaders,
				}

				meta.Provider = target.String()
				meta.Model = actualModel
				meta.Credential = cred.DisplayName()

				if req.Stream {
					streamRes, execErr := exec.ExecuteStream(ctx, cred, provReq)
					if execErr != nil {
						if ctx.Err() != nil {
							return nil, apierror.Internal("request canceled: %v", ctx.Err())
						}
						apiErr := apierror.From(execErr)
						bootstrapAttempts++
						tried[cred.ID] = struct{}{}
						retryable := d.classifyAndCooldown(cred.ID, apiErr, cfg)
						lastErr = apiErr
						if !retryable {
							d.metrics.RecordLatency(time.Since(start).Milliseconds())
							return nil, apiErr
						}
						if bootstrapAttempts > cfg.Streaming.BootstrapRetries {
							log.Warnf("streaming bootstrap retry limit reached (%d), moving on", cfg.Streaming.BootstrapRetries)
							d.metrics.RecordError()
							d.metrics.RecordLatency(time.Since(start).Milliseconds())
							continue modelLoop
						}
						continue
					}

					d.metrics.RecordLatency(time.Since(start).Milliseconds())
					out := make(chan string)
					acct := accounting{provider: target.String(), model: actualModel, credID: cred.ID, start: start}
					go d.forwardStream(ctx, req.SourceFormat, target, acct, body, streamRes.Events, out)
					return &Result{Stream: out, Meta: meta}, nil
				}

				if cfg.NonStreamKeepaliveSecs > 0 {
					resultCh := make(chan execOutcome, 1)
					go func(cred *credential.Credential, provReq executor.Request) {
						resp, execErr := exec.Execute(ctx, cred, provReq)
						resultCh <- execOutcome{resp: resp, err: execErr}
					}(cred, provReq)

					timer := time.NewTimer(time.Duration(cfg.NonStreamKeepaliveSecs) * time.Second)
					select {
					case outcome := <-resultCh:
						timer.Stop()
						if outcome.err == nil {
							return d.finishJSON(cfg, req, meta, start, target, actualModel, cred, body, outcome.resp)
						}
						if ctx.Err() != nil {
							return nil, apierror.Internal("request canceled: %v", ctx.Err())
						}
						apiErr := apierror.From(outcome.err)
						tried[cred.ID] = struct{}{}
						if !d.classifyAndCooldown(cred.ID, apiErr, cfg) {
							d.metrics.RecordLatency(time.Since(start).Milliseconds())
							return nil, apiErr
						}
						lastErr = apiErr
					case <-timer.C:
						log.Debugf("non-stream request exceeded %ds, switching to keepalive body", cfg.NonStreamKeepaliveSecs)
						d.metrics.RecordLatency(time.Since(start).Milliseconds())
						out := make(chan string)
						interval := time.Duration(cfg.NonStreamKeepaliveSecs) * time.Second
						acct := accounting{provider: target.String(), model: actualModel, credID: cred.ID, start: start}
						go d.keepaliveTail(ctx, resultCh, interval, req.SourceFormat, target, acct, body, out)
						return &Result{Keepalive: out, Meta: meta}, nil
					}
					continue
				}

				resp, execErr := exec.Execute(ctx, cred, provReq)
				if execErr != nil {
					if ctx.Err() != nil {
						return nil, apierror.Internal("request canceled: %v", ctx.Err())
					}
					apiErr := apierror.From(execErr)
					tried[cred.ID] = struct{}{}
					if !d.classifyAndCooldown(cred.ID, apiErr, cfg) {
						d.metrics.RecordLatency(time.Since(start).Milliseconds())
						return nil, apiErr
					}
					lastErr = apiErr
					continue
				}
				return d.finishJSON(cfg, req, meta, start, target, actualModel, cred, body, resp)
			}

			if attempt+1 < cfg.Retry.MaxRetries {
				if !sleepWithJitter(ctx, attempt, cfg.Retry.MaxBackoffSecs) {
					return nil, apierror.Internal("request canceled: %v", ctx.Err())
				}
			}
		}
	}

	d.metrics.RecordError()
	d.metrics.RecordLatency(time.Since(start).Milliseconds())

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, apierror.NoCredentials("all", strings.Join(chain, ","))
}

// finishJSON completes the non-stream success path: translate the upstream
// body back to the client dialect, collect passthrough headers, extract
// usage, and publish the accounting record.
func (d *Dispatcher) finishJSON(cfg *config.Config, req Request, meta Meta, start time.Time, target constant.Format, actualModel string, cred *credential.Credential, originalBody []byte, resp executor.Response) (*Result, *apierror.Error) {
	d.metrics.RecordLatency(time.Since(start).Milliseconds())

	translated, err := translator.NonStream(req.SourceFormat, target, actualModel, originalBody, resp.Payload)
	if err != nil {
		return nil, apierror.From(err)
	}

	headers := make(http.Header)
	for _, name := range cfg.PassthroughHeaders {
		if v := resp.Headers.Get(name); v != "" {
			headers.Set(name, v)
		}
	}

	input, output := extractUsage([]byte(translated))
	meta.InputTokens = input
	meta.OutputTokens = output
	acct := accounting{provider: target.String(), model: actualModel, credID: cred.ID, start: start}
	meta.Cost = d.publishUsage(acct, input, output)

	return &Result{JSON: []byte(translated), Headers: headers, Meta: meta}, nil
}

// classifyAndCooldown applies the retry policy for one failed attempt: 429
// and 5xx cool the credential for the upstream-suggested or configured
// duration, network errors for the network cooldown. It returns false when
// the error is terminal and must surface to the caller unchanged.
func (d *Dispatcher) classifyAndCooldown(credID string, apiErr *apierror.Error, cfg *config.Config) bool {
	d.metrics.RecordError()
	switch {
	case apiErr.Kind == apierror.KindUpstream && apiErr.UpstreamStatus == http.StatusTooManyRequests:
		cd := cooldownFor(apiErr.RetryAfter, cfg.Retry.Cooldown429Secs)
		d.router.MarkUnavailable(credID, cd)
		log.Warnf("rate limited (429), cooling down credential for %s", cd)
		return true
	case apiErr.Kind == apierror.KindUpstream && apiErr.UpstreamStatus >= 500 && apiErr.UpstreamStatus <= 599:
		cd := cooldownFor(apiErr.RetryAfter, cfg.Retry.Cooldown5xxSecs)
		d.router.MarkUnavailable(credID, cd)
		log.Warnf("upstream error (%d), cooling down credential for %s", apiErr.UpstreamStatus, cd)
		return true
	case apiErr.Kind == apierror.KindNetwork:
		cd := time.Duration(cfg.Retry.CooldownNetworkSecs) * time.Second
		d.router.MarkUnavailable(credID, cd)
		log.Warnf("network error, cooling down credential for %s", cd)
		return true
	default:
		return false
	}
}

func cooldownFor(retryAfter *time.Duration, defaultSecs int) time.Duration {
	if retryAfter != nil {
		return *retryAfter
	}
	return time.Duration(defaultSecs) * time.Second
}

// sleepWithJitter pauses between retry rounds for a uniform random duration
// in [0, min(2^attempt, maxBackoffSecs)) seconds. It returns false when the
// context was canceled during the sleep.
func sleepWithJitter(ctx context.Context, attempt, maxBackoffSecs int) bool {
	capSecs := float64(maxBackoffSecs)
	if attempt < 30 {
		if pow := float64(int64(1) << uint(attempt)); pow < capSecs {
			capSecs = pow
		}
	}
	if capSecs <= 0 {
		return ctx.Err() == nil
	}
	sleep := time.Duration(rand.Float64() * capSecs * float64(time.Second))
	select {
	case <-time.After(sleep):
		return true
	case <-ctx.Done():
		return false
	}
}

// applyPayloadRules runs the configured payload phases when the translated
// body is a JSON object; anything else is forwarded untouched.
func (d *Dispatcher) applyPayloadRules(body []byte, cfg *config.Config, model string, target constant.Format) []byte {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return body
	}
	return payload.Apply(body, cfg.Payload, model, target)
}

// rewriteModel overwrites the body's model field for a fallback attempt.
// Bodies that do not parse as an object with a model key pass through.
func rewriteModel(body []byte, model string) []byte {
	if !gjson.ValidBytes(body) {
		return body
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() || !root.Get("model").Exists() {
		return body
	}
	out, err := sjson.SetBytes(body, "model", model)
	if err != nil {
		return body
	}
	return out
}

// extractUsage pulls token counts out of a response document in any dialect:
// usage.prompt_tokens/input_tokens and completion_tokens/output_tokens, or
// the Gemini usageMetadata counters.
func extractUsage(body []byte) (*int64, *int64) {
	if !gjson.ValidBytes(body) {
		return nil, nil
	}
	root := gjson.ParseBytes(body)
	if u := root.Get("usage"); u.Exists() {
		return firstNumber(u, "prompt_tokens", "input_tokens"),
			firstNumber(u, "completion_tokens", "output_tokens")
	}
	if u := root.Get("usageMetadata"); u.Exists() {
		return firstNumber(u, "promptTokenCount"), firstNumber(u, "candidatesTokenCount")
	}
	return nil, nil
}

func firstNumber(v gjson.Result, keys ...string) *int64 {
	for _, key := range keys {
		if field := v.Get(key); field.Type == gjson.Number {
			n := field.Int()
			return &n
		}
	}
	return nil
}
