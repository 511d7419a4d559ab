// Package apierror defines the unified error taxonomy for gateway
// operations: client-facing HTTP status, OpenAI-style error type/code, and
// the retry classification the dispatch loop relies on.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Kind enumerates the stable error categories.
type Kind int

const (
	KindConfig Kind = iota
	KindAuth
	KindNoCredentials
	KindModelCooldown
	KindRateLimited
	KindUpstream
	KindNetwork
	KindTranslation
	KindBadRequest
	KindModelNotFound
	KindInternal
)

// Error is the unified gateway error. Upstream errors additionally carry the
// raw upstream body (forwarded verbatim when it is valid JSON) and the parsed
// Retry-After duration when the upstream provided one.
type Error struct {
	Kind    Kind
	Message string

	// Upstream only.
	UpstreamStatus int
	Body           []byte
	RetryAfter     *time.Duration
}

func (e *Error) Error() string { return e.Message }

// Config reports an invalid configuration value.
func Config(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: "configuration error: " + fmt.Sprintf(format, args...)}
}

// Auth reports a client credential that is not in the allowlist.
func Auth(reason string) *Error {
	return &Error{Kind: KindAuth, Message: "authentication failed: " + reason}
}

// NoCredentials reports that every candidate credential was tried or cooling.
func NoCredentials(provider, model string) *Error {
	return &Error{
		Kind:    KindNoCredentials,
		Message: fmt.Sprintf("no credentials available for provider %s, model %s", provider, model),
	}
}

// ModelCooldown reports a model-level cooldown.
func ModelCooldown(model string, seconds int64) *Error {
	return &Error{
		Kind:    KindModelCooldown,
		Message: fmt.Sprintf("model %s is in cooldown for %ds", model, seconds),
	}
}

// RateLimited reports an inbound request rejected by the client rate
// limiter (as opposed to an upstream 429, which is KindUpstream).
func RateLimited(reason string) *Error {
	return &Error{Kind: KindRateLimited, Message: "rate limited: " + reason}
}

// Upstream wraps a non-2xx upstream reply. retryAfter is nil unless the
// upstream sent an integer-seconds Retry-After header.
func Upstream(status int, body []byte, retryAfter *time.Duration) *Error {
	return &Error{
		Kind:           KindUpstream,
		Message:        fmt.Sprintf("upstream error (status %d): %s", status, string(body)),
		UpstreamStatus: status,
		Body:           body,
		RetryAfter:     retryAfter,
	}
}

// Network classifies a transport failure (DNS, TCP, TLS, client timeout).
func Network(err error) *Error {
	msg := err.Error()
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		msg = "request timed out: " + err.Error()
	}
	return &Error{Kind: KindNetwork, Message: "network error: " + msg}
}

// Translation reports a body that did not match the expected wire shape.
func Translation(format string, args ...any) *Error {
	return &Error{Kind: KindTranslation, Message: "translation error: " + fmt.Sprintf(format, args...)}
}

// BadRequest reports a malformed client request.
func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Message: "bad request: " + fmt.Sprintf(format, args...)}
}

// ModelNotFound reports a model no credential supports.
func ModelNotFound(model string) *Error {
	return &Error{Kind: KindModelNotFound, Message: "model not found: " + model}
}

// Internal reports an unexpected condition.
func Internal(format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: "internal error: " + fmt.Sprintf(format, args...)}
}

// StatusCode maps the error to the HTTP status returned to the caller.
// Upstream statuses are forwarded; out-of-range values degrade to 502.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindConfig, KindInternal, KindTranslation:
		return http.StatusInternalServerError
	case KindAuth:
		return http.StatusUnauthorized
	case KindNoCredentials:
		return http.StatusServiceUnavailable
	case KindModelCooldown, KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		if e.UpstreamStatus >= 100 && e.UpstreamStatus < 600 {
			return e.UpstreamStatus
		}
		return http.StatusBadGateway
	case KindNetwork:
		return http.StatusBadGateway
	case KindBadRequest:
		return http.StatusBadRequest
	case KindModelNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Type returns the OpenAI-style error type string.
func (e *Error) Type() string {
	switch e.Kind {
	case KindAuth:
		return "authentication_error"
	case KindNoCredentials:
		return "insufficient_quota"
	case KindModelCooldown, KindRateLimited:
		return "rate_limit_error"
	case KindBadRequest, KindModelNotFound:
		return "invalid_request_error"
	case KindUpstream:
		return "upstream_error"
	default:
		return "server_error"
	}
}

// Code returns the OpenAI-style error code string.
func (e *Error) Code() string {
	switch e.Kind {
	case KindAuth:
		return "invalid_api_key"
	case KindNoCredentials:
		return "insufficient_quota"
	case KindModelCooldown, KindRateLimited:
		return "rate_limit_exceeded"
	case KindModelNotFound:
		return "model_not_found"
	case KindBadRequest:
		return "invalid_request"
	default:
		return "internal_error"
	}
}

// Retryable reports whether the dispatch loop may rotate credentials and try
// again: 429s, upstream 5xx, and network failures qualify. Other upstream
// 4xx responses are configuration problems and surface immediately.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork:
		return true
	case KindUpstream:
		return e.UpstreamStatus == http.StatusTooManyRequests ||
			(e.UpstreamStatus >= 500 && e.UpstreamStatus <= 599)
	default:
		return false
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// JSONBody renders the client-facing error document. Upstream errors whose
// body already parses as JSON are forwarded verbatim.
func (e *Error) JSONBody() []byte {
	if e.Kind == KindUpstream && json.Valid(e.Body) {
		return e.Body
	}
	out, err := json.Marshal(errorBody{Error: errorDetail{
		Message: e.Message,
		Type:    e.Type(),
		Code:    e.Code(),
	}})
	if err != nil {
		return []byte(`{"error":{"message":"internal error","type":"server_error","code":"internal_error"}}`)
	}
	return out
}

// From coerces any error into an *Error, wrapping unknown values as Internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("%v", err)
}
