package api

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/cost"
	"github.com/modelgate/modelgate/internal/credential"
	"github.com/modelgate/modelgate/internal/dispatch"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/ratelimit"
	"github.com/modelgate/modelgate/internal/requestlog"
	"github.com/modelgate/modelgate/internal/runtime/executor"
	_ "github.com/modelgate/modelgate/internal/translator"
	"github.com/modelgate/modelgate/internal/usage"
)

// loadConfig round-trips YAML through the real loader so key lookup sets and
// entry sanitization behave exactly as they do in production.
func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	return cfg
}

type gateway struct {
	server  *Server
	logs    *requestlog.Store
	metrics *metrics.Metrics
}

func newGateway(t *testing.T, cfg *config.Config) *gateway {
	t.Helper()
	store := config.NewStore(cfg)
	router := credential.NewRouter(cfg.Routing.Strategy)
	router.UpdateFromConfig(cfg)
	registry := executor.NewRegistry(executor.Settings{ConnectTimeoutSecs: 5, RequestTimeoutSecs: 30})
	m := metrics.New()
	usageMgr := usage.NewManager(16)
	usageMgr.Register(metrics.NewUsagePlugin(m))
	t.Cleanup(usageMgr.Stop)
	dispatcher := dispatch.New(store, router, registry, m, cost.NewCalculator(cfg.ModelPrices), usageMgr)
	logs := requestlog.NewStore(cfg.RequestLogCapacity)
	limiter := ratelimit.New(cfg.RateLimit)
	return &gateway{
		server:  NewServer(store, dispatcher, router, m, logs, limiter),
		logs:    logs,
		metrics: m,
	}
}

func (g *gateway) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	g.server.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	g := newGateway(t, config.DefaultConfig())

	w := g.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", gjson.Get(w.Body.String(), "status").String())
	assert.Equal(t, Version, gjson.Get(w.Body.String(), "version").String())
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestCORSPreflight(t *testing.T) {
	g := newGateway(t, config.DefaultConfig())

	w := g.do(t, http.MethodOptions, "/v1/chat/completions", "", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Api-Key")
}

func TestClientAuthDisabledWithoutKeys(t *testing.T) {
	g := newGateway(t, config.DefaultConfig())

	w := g.do(t, http.MethodGet, "/v1/models", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	// No rate limit configured either, so no quota headers.
	assert.Empty(t, w.Header().Get("x-ratelimit-limit"))
}

func TestClientAuth(t *testing.T) {
	cfg := loadConfig(t, "api-keys:\n  - sk-client\n")
	g := newGateway(t, cfg)

	w := g.do(t, http.MethodGet, "/v1/models", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "authentication_error", gjson.Get(w.Body.String(), "error.type").String())
	assert.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "Invalid API key")

	w = g.do(t, http.MethodGet, "/v1/models", "", map[string]string{"Authorization": "Bearer wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = g.do(t, http.MethodGet, "/v1/models", "", map[string]string{"Authorization": "Bearer sk-client"})
	require.Equal(t, http.StatusOK, w.Code)

	w = g.do(t, http.MethodGet, "/v1/models", "", map[string]string{"x-api-key": "sk-client"})
	require.Equal(t, http.StatusOK, w.Code)

	// Health and admin views stay public.
	w = g.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = g.do(t, http.MethodGet, "/admin/config", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestChatCompletionsRejectsBadBodies(t *testing.T) {
	g := newGateway(t, config.DefaultConfig())

	w := g.do(t, http.MethodPost, "/v1/chat/completions", "{not json", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "invalid JSON body")

	w = g.do(t, http.MethodPost, "/v1/chat/completions", `{"messages":[]}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "missing model field")

	// A non-string model is as good as missing.
	w = g.do(t, http.MethodPost, "/v1/chat/completions", `{"model":123}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "missing model field")
}

func TestModelsList(t *testing.T) {
	cfg := loadConfig(t, `
openai-api-key:
  - api-key: sk-a
    models:
      - id: gpt-4o
claude-api-key:
  - api-key: sk-b
    models:
      - id: claude-3
        alias: best
`)
	g := newGateway(t, cfg)

	w := g.do(t, http.MethodGet, "/v1/models", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	root := gjson.Parse(w.Body.String())
	assert.Equal(t, "list", root.Get("object").String())
	data := root.Get("data").Array()
	require.Len(t, data, 2)

	owners := make(map[string]string, len(data))
	for _, item := range data {
		assert.Equal(t, "model", item.Get("object").String())
		assert.Positive(t, item.Get("created").Int())
		owners[item.Get("id").String()] = item.Get("owned_by").String()
	}
	// Aliased models list under their alias.
	assert.Equal(t, "openai", owners["gpt-4o"])
	assert.Equal(t, "claude", owners["best"])
}

func TestRateLimitHeadersAndRejection(t *testing.T) {
	cfg := loadConfig(t, `
api-keys:
  - sk-client
rate-limit:
  enabled: true
  per-key-rpm: 1
`)
	g := newGateway(t, cfg)
	auth := map[string]string{"Authorization": "Bearer sk-client"}

	w := g.do(t, http.MethodGet, "/v1/models", "", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("x-ratelimit-limit"))
	assert.Equal(t, "0", w.Header().Get("x-ratelimit-remaining"))
	assert.NotEmpty(t, w.Header().Get("x-ratelimit-reset"))

	w = g.do(t, http.MethodGet, "/v1/models", "", auth)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limit_error", gjson.Get(w.Body.String(), "error.type").String())
	assert.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "Rate limit exceeded")
}

func TestRateLimitRunsAfterAuth(t *testing.T) {
	cfg := loadConfig(t, `
api-keys:
  - sk-client
rate-limit:
  enabled: true
  per-key-rpm: 1
`)
	g := newGateway(t, cfg)

	// Unauthorized requests are rejected before touching the limiter, so the
	// caller's quota survives them.
	for i := 0; i < 3; i++ {
		w := g.do(t, http.MethodGet, "/v1/models", "", nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := g.do(t, http.MethodGet, "/v1/models", "", map[string]string{"Authorization": "Bearer sk-client"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBodyLimitRejectsOversizedDeclaredLength(t *testing.T) {
	g := newGateway(t, config.DefaultConfig())

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"m"}`))
	req.ContentLength = 11 << 20
	w := httptest.NewRecorder()
	g.server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "request_too_large", gjson.Get(w.Body.String(), "error.code").String())
	assert.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "10MB")
}

func TestChatCompletionsEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer upstream.Close()

	cfg := loadConfig(t, fmt.Sprintf(`
openai-api-key:
  - api-key: sk-up
    name: primary
    base-url: %s
    models:
      - id: gpt-4o
`, upstream.URL))
	g := newGateway(t, cfg)

	w := g.do(t, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`,
		map[string]string{"x-debug": "true"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "chat.completion", gjson.Get(w.Body.String(), "object").String())

	assert.Equal(t, "openai", w.Header().Get("x-debug-provider"))
	assert.Equal(t, "gpt-4o", w.Header().Get("x-debug-model"))
	assert.Equal(t, "primary", w.Header().Get("x-debug-credential"))
	assert.Equal(t, "gpt-4o@openai", w.Header().Get("x-debug-attempts"))

	// The logging middleware filed the exchange, usage included.
	page := g.logs.Query(requestlog.Query{})
	require.Equal(t, 1, page.Total)
	entry := page.Items[0]
	assert.Equal(t, "/v1/chat/completions", entry.Path)
	assert.Equal(t, http.StatusOK, entry.Status)
	assert.Equal(t, "openai", entry.Provider)
	assert.Equal(t, "gpt-4o", entry.Model)
	require.NotNil(t, entry.InputTokens)
	assert.Equal(t, int64(10), *entry.InputTokens)
	require.NotNil(t, entry.OutputTokens)
	assert.Equal(t, int64(5), *entry.OutputTokens)

	// Token totals arrive through the async usage pipeline.
	require.Eventually(t, func() bool {
		return g.metrics.Snapshot().TotalInputTokens == 10
	}, time.Second, 10*time.Millisecond)

	w = g.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "total_requests").Int())
	assert.Equal(t, int64(15), gjson.Get(w.Body.String(), "total_tokens").Int())
}

func TestChatCompletionsNoDebugHeadersByDefault(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"object":"chat.completion"}`))
	}))
	defer upstream.Close()

	cfg := loadConfig(t, fmt.Sprintf(`
openai-api-key:
  - api-key: sk-up
    base-url: %s
    models:
      - id: gpt-4o
`, upstream.URL))
	g := newGateway(t, cfg)

	w := g.do(t, http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4o","messages":[]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("x-debug-provider"))
	assert.Empty(t, w.Header().Get("x-debug-attempts"))
}

func TestChatCompletionsStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\"}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	cfg := loadConfig(t, fmt.Sprintf(`
openai-api-key:
  - api-key: sk-up
    base-url: %s
    models:
      - id: gpt-4o
`, upstream.URL))
	g := newGateway(t, cfg)

	w := g.do(t, http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4o","stream":true,"messages":[]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, `data: {"id":"chatcmpl-1","object":"chat.completion.chunk"}`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestMessagesEndpoint(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant",` +
			`"content":[{"type":"text","text":"hello"}],"stop_reason":"end_turn",` +
			`"usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer upstream.Close()

	cfg := loadConfig(t, fmt.Sprintf(`
claude-api-key:
  - api-key: sk-claude
    base-url: %s
    models:
      - id: claude-3
    cloak:
      mode: never
`, upstream.URL))
	g := newGateway(t, cfg)

	w := g.do(t, http.MethodPost, "/v1/messages",
		`{"model":"claude-3","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/v1/messages", gotPath)
	// Same dialect on both legs, so the body passes through untranslated.
	assert.Equal(t, "message", gjson.Get(w.Body.String(), "type").String())
	assert.Equal(t, "hello", gjson.Get(w.Body.String(), "content.0.text").String())
}

func TestResponsesPassthrough(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"id":"resp_1","object":"response","status":"completed"}`))
	}))
	defer upstream.Close()

	cfg := loadConfig(t, fmt.Sprintf(`
openai-api-key:
  - api-key: sk-up
    base-url: %s
    models:
      - id: gpt-4o
`, upstream.URL))
	g := newGateway(t, cfg)

	body := `{"model":"gpt-4o","input":"hi"}`
	w := g.do(t, http.MethodPost, "/v1/responses", body, nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "/v1/responses", gotPath)
	assert.Equal(t, "Bearer sk-up", gotAuth)
	assert.Equal(t, body, string(gotBody))
	assert.Equal(t, "resp_1", gjson.Get(w.Body.String(), "id").String())
}

func TestResponsesRequiresOpenAIFamily(t *testing.T) {
	cfg := loadConfig(t, `
claude-api-key:
  - api-key: sk-claude
    models:
      - id: claude-3
`)
	g := newGateway(t, cfg)

	w := g.do(t, http.MethodPost, "/v1/responses", `{"model":"claude-3","input":"hi"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "OpenAI-compatible")
}

func TestResponsesForwardsUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exhausted"}}`))
	}))
	defer upstream.Close()

	cfg := loadConfig(t, fmt.Sprintf(`
openai-api-key:
  - api-key: sk-up
    base-url: %s
    models:
      - id: gpt-4o
`, upstream.URL))
	g := newGateway(t, cfg)

	w := g.do(t, http.MethodPost, "/v1/responses", `{"model":"gpt-4o"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "quota exhausted", gjson.Get(w.Body.String(), "error.message").String())
}

func TestManagementHiddenWithoutKeys(t *testing.T) {
	g := newGateway(t, config.DefaultConfig())

	w := g.do(t, http.MethodGet, "/v0/management/usage", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestManagementAuthAndUsage(t *testing.T) {
	cfg := loadConfig(t, "management-keys:\n  - mk-1\n")
	g := newGateway(t, cfg)

	w := g.do(t, http.MethodGet, "/v0/management/usage", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "Invalid management key")

	w = g.do(t, http.MethodGet, "/v0/management/usage", "", map[string]string{"Authorization": "Bearer mk-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "total_requests").Exists())
}

func TestManagementRequestLogs(t *testing.T) {
	cfg := loadConfig(t, "management-keys:\n  - mk-1\n")
	g := newGateway(t, cfg)
	auth := map[string]string{"x-api-key": "mk-1"}

	// One success and one client error to query back.
	g.do(t, http.MethodGet, "/health", "", nil)
	g.do(t, http.MethodPost, "/v1/chat/completions", "{bad", nil)

	w := g.do(t, http.MethodGet, "/v0/management/request-logs", "", auth)
	require.Equal(t, http.StatusOK, w.Code)
	root := gjson.Parse(w.Body.String())
	assert.Equal(t, int64(2), root.Get("total").Int())
	// Newest first, with the rendered error message attached.
	assert.Equal(t, "/v1/chat/completions", root.Get("items.0.path").String())
	assert.Equal(t, int64(http.StatusBadRequest), root.Get("items.0.status").Int())
	assert.Contains(t, root.Get("items.0.error").String(), "invalid JSON")
	assert.NotEmpty(t, root.Get("items.0.request_id").String())

	w = g.do(t, http.MethodGet, "/v0/management/request-logs?status=4xx", "", auth)
	root = gjson.Parse(w.Body.String())
	assert.Equal(t, int64(1), root.Get("total").Int())

	// Every request so far is in the ring by now, including the two
	// management reads above.
	w = g.do(t, http.MethodGet, "/v0/management/request-logs/stats", "", auth)
	root = gjson.Parse(w.Body.String())
	assert.Equal(t, int64(4), root.Get("total_entries").Int())
	assert.Equal(t, int64(1), root.Get("error_count").Int())
}

func TestAdminConfigOmitsSecrets(t *testing.T) {
	cfg := loadConfig(t, `
api-keys:
  - super-secret-key
claude-api-key:
  - api-key: sk-claude-secret
    models:
      - id: claude-3
`)
	g := newGateway(t, cfg)

	w := g.do(t, http.MethodGet, "/admin/config", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.NotContains(t, body, "super-secret-key")
	assert.NotContains(t, body, "sk-claude-secret")

	root := gjson.Parse(body)
	assert.Equal(t, int64(1), root.Get("api_keys_count").Int())
	assert.Equal(t, int64(1), root.Get("claude_keys_count").Int())
	assert.Equal(t, int64(0), root.Get("openai_keys_count").Int())
	assert.Equal(t, "round-robin", root.Get("routing.strategy").String())
	assert.Equal(t, int64(3), root.Get("retry.max-retries").Int())
	assert.Equal(t, int64(15), root.Get("streaming.keepalive-seconds").Int())
}

func TestAdminModels(t *testing.T) {
	cfg := loadConfig(t, `
claude-api-key:
  - api-key: sk-claude
    models:
      - id: claude-3
`)
	g := newGateway(t, cfg)

	w := g.do(t, http.MethodGet, "/admin/models", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	models := gjson.Get(w.Body.String(), "models").Array()
	require.Len(t, models, 1)
	assert.Equal(t, "claude-3", models[0].Get("id").String())
	assert.Equal(t, "claude", models[0].Get("provider").String())
}
