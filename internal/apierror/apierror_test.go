package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestStatusAndTaxonomy(t *testing.T) {
	cases := []struct {
		err    *Error
		status int
		typ    string
		code   string
	}{
		{Auth("bad key"), http.StatusUnauthorized, "authentication_error", "invalid_api_key"},
		{BadRequest("missing model"), http.StatusBadRequest, "invalid_request_error", "invalid_request"},
		{ModelNotFound("gpt-x"), http.StatusNotFound, "invalid_request_error", "model_not_found"},
		{NoCredentials("claude", "claude-3"), http.StatusServiceUnavailable, "insufficient_quota", "insufficient_quota"},
		{ModelCooldown("gpt-4o", 30), http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded"},
		{RateLimited("retry after 12s"), http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded"},
		{Network(errors.New("dial tcp: refused")), http.StatusBadGateway, "server_error", "internal_error"},
		{Translation("bad shape"), http.StatusInternalServerError, "server_error", "internal_error"},
		{Internal("boom"), http.StatusInternalServerError, "server_error", "internal_error"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.status, tc.err.StatusCode(), tc.err.Message)
		assert.Equal(t, tc.typ, tc.err.Type(), tc.err.Message)
		assert.Equal(t, tc.code, tc.err.Code(), tc.err.Message)
	}
}

func TestUpstreamStatusForwarded(t *testing.T) {
	err := Upstream(429, []byte(`{"error":"slow down"}`), nil)
	assert.Equal(t, 429, err.StatusCode())
	assert.Equal(t, "upstream_error", err.Type())

	// Out-of-range status degrades to 502.
	weird := Upstream(0, nil, nil)
	assert.Equal(t, http.StatusBadGateway, weird.StatusCode())
}

func TestRetryableClassification(t *testing.T) {
	retryAfter := 7 * time.Second

	assert.True(t, Upstream(429, nil, &retryAfter).Retryable())
	assert.True(t, Upstream(500, nil, nil).Retryable())
	assert.True(t, Upstream(503, nil, nil).Retryable())
	assert.True(t, Network(errors.New("reset")).Retryable())

	assert.False(t, Upstream(400, nil, nil).Retryable())
	assert.False(t, Upstream(403, nil, nil).Retryable())
	assert.False(t, Auth("nope").Retryable())
	assert.False(t, BadRequest("x").Retryable())
	assert.False(t, RateLimited("client quota").Retryable())
}

func TestJSONBodyShape(t *testing.T) {
	body := Auth("token not recognized").JSONBody()
	require.True(t, gjson.ValidBytes(body))
	assert.Equal(t, "authentication failed: token not recognized", gjson.GetBytes(body, "error.message").String())
	assert.Equal(t, "authentication_error", gjson.GetBytes(body, "error.type").String())
	assert.Equal(t, "invalid_api_key", gjson.GetBytes(body, "error.code").String())
}

func TestJSONBodyUpstreamPassthrough(t *testing.T) {
	upstream := []byte(`{"error":{"message":"overloaded","type":"overloaded_error"}}`)
	err := Upstream(529, upstream, nil)
	assert.Equal(t, upstream, err.JSONBody())

	// Non-JSON upstream bodies fall back to the standard envelope.
	errText := Upstream(500, []byte("<html>oops</html>"), nil)
	body := errText.JSONBody()
	require.True(t, gjson.ValidBytes(body))
	assert.Equal(t, "upstream_error", gjson.GetBytes(body, "error.type").String())
}

func TestFromUnwrapsWrappedErrors(t *testing.T) {
	orig := ModelNotFound("claude-9")
	wrapped := fmt.Errorf("dispatch: %w", orig)
	assert.Same(t, orig, From(wrapped))

	plain := From(errors.New("misc"))
	assert.Equal(t, KindInternal, plain.Kind)
}
