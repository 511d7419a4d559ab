package openai

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/modelgate/modelgate/internal/api/handlers"
	"github.com/modelgate/modelgate/internal/apierror"
	"github.com/modelgate/modelgate/internal/constant"
	"github.com/modelgate/modelgate/internal/runtime/executor"
	"github.com/modelgate/modelgate/internal/util"
)

// Responses handles POST /v1/responses. The Responses API has no translation
// layer, so the body forwards verbatim to the first OpenAI-family credential
// serving the model.
func (h *Handler) Responses(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		handlers.RenderError(c, apierror.BadRequest("failed to read request body: %v", err))
		return
	}
	if !gjson.ValidBytes(body) {
		handlers.RenderError(c, apierror.BadRequest("invalid JSON body"))
		return
	}
	model := gjson.GetBytes(body, "model")
	if model.Type != gjson.String {
		handlers.RenderError(c, apierror.BadRequest("missing model field"))
		return
	}

	var target constant.Format
	found := false
	for _, format := range h.Router.ResolveProviders(model.String()) {
		if format == constant.OpenAI || format == constant.OpenAICompat {
			target = format
			found = true
			break
		}
	}
	if !found {
		handlers.RenderError(c, apierror.BadRequest("responses API only supported by OpenAI-compatible providers"))
		return
	}

	cred := h.Router.Pick(target, model.String(), nil)
	if cred == nil {
		handlers.RenderError(c, apierror.NoCredentials(target.String(), model.String()))
		return
	}

	url := cred.BaseURLOrDefault("https://api.openai.com") + "/v1/responses"
	httpReq, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		handlers.RenderError(c, apierror.Internal("build responses request: %v", err))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cred.APIKey)
	for k, v := range cred.Headers {
		httpReq.Header.Set(k, v)
	}

	cfg := h.Cfg.Load()
	client := util.NewHTTPClient(util.ResolveProxyURL(cred.ProxyURL, cfg.ProxyURL), cfg.ConnectTimeout, cfg.RequestTimeout)
	resp, err := client.Do(httpReq)
	if err != nil {
		handlers.RenderError(c, apierror.Network(err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		handlers.RenderError(c, apierror.Network(err))
		return
	}
	if resp.StatusCode >= 400 {
		handlers.RenderError(c, apierror.Upstream(resp.StatusCode, respBody, executor.ParseRetryAfter(resp.Header)))
		return
	}
	c.Data(http.StatusOK, "application/json", respBody)
}
