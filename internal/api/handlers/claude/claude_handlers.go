// Package claude implements the Anthropic Messages endpoint.
package claude

import (
	"github.com/gin-gonic/gin"

	"github.com/modelgate/modelgate/internal/api/handlers"
	"github.com/modelgate/modelgate/internal/constant"
	"github.com/modelgate/modelgate/internal/dispatch"
)

// Handler serves POST /v1/messages.
type Handler struct {
	*handlers.BaseHandler
}

// NewHandler creates the Claude endpoint handler.
func NewHandler(base *handlers.BaseHandler) *Handler {
	return &Handler{BaseHandler: base}
}

// Messages handles POST /v1/messages. The body is already in the Claude
// dialect, so dispatch is restricted to Claude credentials and nothing is
// translated on either leg.
func (h *Handler) Messages(c *gin.Context) {
	parsed, apiErr := handlers.ParseRequest(c)
	if apiErr != nil {
		handlers.RenderError(c, apiErr)
		return
	}

	result, apiErr := h.Dispatcher.Dispatch(c.Request.Context(), dispatch.Request{
		SourceFormat:   constant.Claude,
		Model:          parsed.Model,
		Models:         parsed.Models,
		Stream:         parsed.Stream,
		Body:           parsed.Body,
		AllowedFormats: []constant.Format{constant.Claude},
		UserAgent:      parsed.UserAgent,
		Debug:          parsed.Debug,
	})
	if apiErr != nil {
		handlers.RenderError(c, apiErr)
		return
	}
	h.RenderResult(c, parsed.Debug, result)
}
