// Package openai implements the OpenAI-dialect endpoints: chat completions,
// the model catalog, and the Responses API passthrough.
package openai

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/modelgate/modelgate/internal/api/handlers"
	openaischema "github.com/modelgate/modelgate/internal/apischema/openai"
	"github.com/modelgate/modelgate/internal/constant"
	"github.com/modelgate/modelgate/internal/dispatch"
)

// Handler serves the OpenAI-dialect /v1 routes.
type Handler struct {
	*handlers.BaseHandler
}

// NewHandler creates the OpenAI endpoint handler.
func NewHandler(base *handlers.BaseHandler) *Handler {
	return &Handler{BaseHandler: base}
}

// ChatCompletions handles POST /v1/chat/completions. The provider is
// resolved from the model name; responses come back in the OpenAI dialect
// regardless of which provider served them.
func (h *Handler) ChatCompletions(c *gin.Context) {
	parsed, apiErr := handlers.ParseRequest(c)
	if apiErr != nil {
		handlers.RenderError(c, apiErr)
		return
	}

	result, apiErr := h.Dispatcher.Dispatch(c.Request.Context(), dispatch.Request{
		SourceFormat: constant.OpenAI,
		Model:        parsed.Model,
		Models:       parsed.Models,
		Stream:       parsed.Stream,
		Body:         parsed.Body,
		UserAgent:    parsed.UserAgent,
		Debug:        parsed.Debug,
	})
	if apiErr != nil {
		handlers.RenderError(c, apiErr)
		return
	}
	h.RenderResult(c, parsed.Debug, result)
}

// Models handles GET /v1/models: every model advertised by an available
// credential, in the OpenAI list shape.
func (h *Handler) Models(c *gin.Context) {
	created := time.Now().Unix()
	models := h.Router.AllModels()
	data := make([]openaischema.Model, 0, len(models))
	for _, m := range models {
		data = append(data, openaischema.Model{
			ID:      m.ID,
			Object:  "model",
			Created: created,
			OwnedBy: m.Provider,
		})
	}
	c.JSON(http.StatusOK, openaischema.ModelList{Object: "list", Data: data})
}
