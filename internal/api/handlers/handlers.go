// Package handlers provides the shared plumbing for the gateway's API
// endpoints: inbound request parsing, error rendering, and the three dispatch
// result renderers (plain JSON, SSE streaming, chunked keepalive body).
package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/modelgate/modelgate/internal/apierror"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/credential"
	"github.com/modelgate/modelgate/internal/dispatch"
	"github.com/modelgate/modelgate/internal/sse"
)

// Gin context keys shared between the endpoint handlers and the server
// middleware.
const (
	// CtxRequestID carries the request id minted by the request-id middleware.
	CtxRequestID = "requestID"

	// CtxDispatchMeta carries the dispatch.Meta of a completed dispatch so
	// the logging middleware can file provider, model, and usage into the
	// request log.
	CtxDispatchMeta = "dispatchMeta"

	// CtxDispatchError carries the error message rendered to the client.
	CtxDispatchError = "dispatchError"
)

// BaseHandler bundles the collaborators every endpoint handler needs.
type BaseHandler struct {
	// Cfg is the live configuration store.
	Cfg *config.Store

	// Dispatcher routes requests to upstream providers.
	Dispatcher *dispatch.Dispatcher

	// Router exposes the credential pool for model listing and the
	// Responses API passthrough.
	Router *credential.Router
}

// NewBaseHandler wires the shared handler state.
func NewBaseHandler(cfg *config.Store, dispatcher *dispatch.Dispatcher, router *credential.Router) *BaseHandler {
	return &BaseHandler{Cfg: cfg, Dispatcher: dispatcher, Router: router}
}

// Parsed holds the dispatch-relevant fields of one inbound request.
type Parsed struct {
	// Model is the requested model name. Required.
	Model string

	// Models is the optional fallback chain; non-string entries are dropped.
	Models []string

	// Stream is true only when the body carries a literal JSON true.
	Stream bool

	// UserAgent is the caller's User-Agent header.
	UserAgent string

	// Debug reports whether the caller asked for routing debug headers.
	Debug bool

	// Body is the raw request body.
	Body []byte
}

// ParseRequest reads and validates an inbound request body. The model field
// is required; debug mode is requested through the x-debug header.
func ParseRequest(c *gin.Context) (*Parsed, *apierror.Error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, apierror.BadRequest("failed to read request body: %v", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, apierror.BadRequest("invalid JSON body")
	}
	root := gjson.ParseBytes(body)

	model := root.Get("model")
	if model.Type != gjson.String {
		return nil, apierror.BadRequest("missing model field")
	}

	var models []string
	if arr := root.Get("models"); arr.IsArray() {
		for _, v := range arr.Array() {
			if v.Type == gjson.String {
				models = append(models, v.String())
			}
		}
	}

	debug := c.GetHeader("x-debug")

	return &Parsed{
		Model:     model.String(),
		Models:    models,
		Stream:    root.Get("stream").Type == gjson.True,
		UserAgent: c.GetHeader("User-Agent"),
		Debug:     debug == "true" || debug == "1",
		Body:      body,
	}, nil
}

// ClientToken extracts the caller's key: Authorization bearer token first,
// x-api-key header second.
func ClientToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.GetHeader("x-api-key")
}

// RenderError writes the unified error document and remembers the message
// for the request log.
func RenderError(c *gin.Context, apiErr *apierror.Error) {
	c.Set(CtxDispatchError, apiErr.Message)
	c.Data(apiErr.StatusCode(), "application/json", apiErr.JSONBody())
}

// RenderResult writes a dispatch result in whichever of the three shapes it
// carries.
func (h *BaseHandler) RenderResult(c *gin.Context, debug bool, result *dispatch.Result) {
	c.Set(CtxDispatchMeta, result.Meta)
	switch {
	case result.Stream != nil:
		h.renderStream(c, debug, result)
	case result.Keepalive != nil:
		renderKeepalive(c, debug, result)
	default:
		renderJSON(c, debug, result)
	}
}

func renderJSON(c *gin.Context, debug bool, result *dispatch.Result) {
	for name, values := range result.Headers {
		for _, v := range values {
			c.Header(name, v)
		}
	}
	setDebugHeaders(c, debug, result.Meta)
	c.Data(http.StatusOK, "application/json", result.JSON)
}

// renderStream forwards dispatch output as an SSE response, inserting a
// comment block whenever the upstream stays silent for the configured
// keepalive interval.
func (h *BaseHandler) renderStream(c *gin.Context, debug bool, result *dispatch.Result) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	setDebugHeaders(c, debug, result.Meta)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		RenderError(c, apierror.Internal("streaming not supported"))
		return
	}
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	flusher.Flush()

	interval := time.Duration(h.Cfg.Load().Streaming.KeepaliveSeconds) * time.Second
	var idle *time.Timer
	var idleC <-chan time.Time
	if interval > 0 {
		idle = time.NewTimer(interval)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		select {
		case item, open := <-result.Stream:
			if !open {
				return
			}
			if data := sse.EncodeItem(item); len(data) > 0 {
				if _, err := c.Writer.Write(data); err != nil {
					return
				}
				flusher.Flush()
			}
			if idle != nil {
				idle.Reset(interval)
			}
		case <-idleC:
			if _, err := c.Writer.WriteString(sse.KeepAlive); err != nil {
				return
			}
			flusher.Flush()
			idle.Reset(interval)
		case <-c.Request.Context().Done():
			return
		}
	}
}

// renderKeepalive streams the chunked keepalive body: heartbeat spaces while
// the upstream is still working, then the final JSON document. Upstream
// headers are dropped because the body framing changes.
func renderKeepalive(c *gin.Context, debug bool, result *dispatch.Result) {
	c.Header("Content-Type", "application/json")
	setDebugHeaders(c, debug, result.Meta)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		RenderError(c, apierror.Internal("streaming not supported"))
		return
	}
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	flusher.Flush()

	for chunk := range result.Keepalive {
		if _, err := c.Writer.WriteString(chunk); err != nil {
			return
		}
		flusher.Flush()
	}
}

// setDebugHeaders exposes routing decisions when the caller sent x-debug.
func setDebugHeaders(c *gin.Context, debug bool, meta dispatch.Meta) {
	if !debug {
		return
	}
	if meta.Provider != "" {
		c.Header("x-debug-provider", meta.Provider)
	}
	if meta.Model != "" {
		c.Header("x-debug-model", meta.Model)
	}
	if meta.Credential != "" {
		c.Header("x-debug-credential", meta.Credential)
	}
	if len(meta.Attempts) > 0 {
		c.Header("x-debug-attempts", strings.Join(meta.Attempts, ", "))
	}
}
