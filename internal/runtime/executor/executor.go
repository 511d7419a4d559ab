// Package executor contains the per-provider HTTP clients. An executor
// receives a fully translated and transformed request body and performs one
// upstream exchange: it builds the URL and auth headers its provider family
// expects, sends the request through the credential's proxy, and returns
// either the complete response or a decoded SSE event stream. Retry and
// credential rotation live above this layer, in dispatch.
package executor

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/modelgate/modelgate/internal/apierror"
	"github.com/modelgate/modelgate/internal/constant"
	"github.com/modelgate/modelgate/internal/credential"
	"github.com/modelgate/modelgate/internal/sse"
	"github.com/modelgate/modelgate/internal/util"
)

// Request is one upstream attempt. Payload is already in the provider's
// native format; Model is the resolved upstream model id used for URL
// construction; Headers carry per-request extras added by dispatch.
type Request struct {
	Model   string
	Payload []byte
	Headers map[string]string
}

// Response is a complete non-streaming upstream reply.
type Response struct {
	Payload []byte
	Headers http.Header
}

// StreamChunk is one decoded upstream SSE event. Err is set on the final
// chunk when the stream ends abnormally.
type StreamChunk struct {
	Event string
	Data  []byte
	Err   error
}

// StreamResult couples the upstream response headers with the event channel.
// The channel closes when the upstream stream ends.
type StreamResult struct {
	Headers http.Header
	Events  <-chan StreamChunk
}

// Executor is one provider family's HTTP client.
type Executor interface {
	// Identifier is the stable provider name used in logs and debug headers.
	Identifier() string

	// Format is the wire protocol this executor speaks natively.
	Format() constant.Format

	// DefaultBaseURL is the endpoint used when a credential has none.
	DefaultBaseURL() string

	// Execute performs a non-streaming exchange.
	Execute(ctx context.Context, cred *credential.Credential, req Request) (Response, error)

	// ExecuteStream performs a streaming exchange and decodes the SSE body.
	ExecuteStream(ctx context.Context, cred *credential.Credential, req Request) (StreamResult, error)
}

// Settings are the construction parameters shared by every executor. They
// are captured once at startup; changing the global proxy or the timeouts
// requires a restart.
type Settings struct {
	// GlobalProxy is the proxy used when a credential defines none.
	GlobalProxy string

	// ConnectTimeoutSecs bounds the upstream TCP+TLS handshake.
	ConnectTimeoutSecs int

	// RequestTimeoutSecs bounds the whole exchange, including the streaming
	// body.
	RequestTimeoutSecs int
}

// Registry holds one executor per provider family.
type Registry struct {
	order    []Executor
	byName   map[string]Executor
	byFormat map[constant.Format]Executor
}

// NewRegistry builds the four built-in executors from shared settings.
func NewRegistry(settings Settings) *Registry {
	r := &Registry{
		byName:   make(map[string]Executor),
		byFormat: make(map[constant.Format]Executor),
	}
	r.register(NewOpenAIExecutor(settings))
	r.register(NewClaudeExecutor(settings))
	r.register(NewGeminiExecutor(settings))
	r.register(NewOpenAICompatExecutor(settings))
	return r
}

func (r *Registry) register(e Executor) {
	r.order = append(r.order, e)
	r.byName[e.Identifier()] = e
	r.byFormat[e.Format()] = e
}

// Get returns the executor with the given identifier, or nil.
func (r *Registry) Get(name string) Executor { return r.byName[name] }

// GetByFormat returns the executor whose native format matches, or nil.
func (r *Registry) GetByFormat(format constant.Format) Executor { return r.byFormat[format] }

// All returns the executors in registration order.
func (r *Registry) All() []Executor { return r.order }

// newHTTPClient builds the per-attempt client honoring the credential's
// proxy override and the shared timeouts.
func newHTTPClient(settings Settings, cred *credential.Credential) *http.Client {
	proxyURL := util.ResolveProxyURL(cred.ProxyURL, settings.GlobalProxy)
	return util.NewHTTPClient(proxyURL, settings.ConnectTimeoutSecs, settings.RequestTimeoutSecs)
}

// applyHeaders layers per-request extras then per-credential statics onto an
// outbound request, so credential headers win on conflict.
func applyHeaders(req *http.Request, extra, static map[string]string) {
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	for k, v := range static {
		req.Header.Set(k, v)
	}
}

// handleResponse consumes a non-streaming reply. Statuses >= 400 become
// Upstream errors carrying the body and any integer-seconds Retry-After.
func handleResponse(resp *http.Response) (Response, error) {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, apierror.Network(err)
	}
	if resp.StatusCode >= 400 {
		return Response{}, apierror.Upstream(resp.StatusCode, body, ParseRetryAfter(resp.Header))
	}
	return Response{Payload: body, Headers: resp.Header}, nil
}

// handleStreamResponse attaches the SSE decoder to a streaming reply. A
// status >= 400 drains the body into an Upstream error instead.
func handleStreamResponse(ctx context.Context, resp *http.Response) (StreamResult, error) {
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return StreamResult{}, apierror.Upstream(resp.StatusCode, body, ParseRetryAfter(resp.Header))
	}
	events := make(chan StreamChunk)
	go func() {
		defer close(events)
		defer func() { _ = resp.Body.Close() }()
		decoder := sse.NewDecoder(resp.Body)
		for {
			event, err := decoder.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case events <- StreamChunk{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case events <- StreamChunk{Event: event.Name, Data: []byte(event.Data)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return StreamResult{Headers: resp.Header, Events: events}, nil
}

// ParseRetryAfter reads the integer-seconds form of Retry-After. HTTP-date
// values are ignored and fall back to the configured cooldown default.
func ParseRetryAfter(h http.Header) *time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return nil
	}
	secs, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil
	}
	d := time.Duration(secs) * time.Second
	return &d
}
