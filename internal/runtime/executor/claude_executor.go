package executor

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/modelgate/modelgate/internal/apierror"
	"github.com/modelgate/modelgate/internal/constant"
	"github.com/modelgate/modelgate/internal/credential"
)

const (
	claudeDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion     = "2023-06-01"
	anthropicBeta        = "output-128k-2025-02-19"
)

// ClaudeExecutor speaks the Anthropic messages API. Against anthropic.com it
// authenticates with x-api-key; third-party gateways exposing the same wire
// format get a Bearer token instead.
type ClaudeExecutor struct {
	settings Settings
}

func NewClaudeExecutor(settings Settings) *ClaudeExecutor {
	return &ClaudeExecutor{settings: settings}
}

func (e *ClaudeExecutor) Identifier() string { return "claude" }

func (e *ClaudeExecutor) Format() constant.Format { return constant.Claude }

func (e *ClaudeExecutor) DefaultBaseURL() string { return claudeDefaultBaseURL }

func (e *ClaudeExecutor) Execute(ctx context.Context, cred *credential.Credential, req Request) (Response, error) {
	httpReq, err := e.buildRequest(ctx, cred, req, false)
	if err != nil {
		return Response{}, err
	}
	resp, err := newHTTPClient(e.settings, cred).Do(httpReq)
	if err != nil {
		return Response{}, apierror.Network(err)
	}
	return handleResponse(resp)
}

func (e *ClaudeExecutor) ExecuteStream(ctx context.Context, cred *credential.Credential, req Request) (StreamResult, error) {
	httpReq, err := e.buildRequest(ctx, cred, req, true)
	if err != nil {
		return StreamResult{}, err
	}
	resp, err := newHTTPClient(e.settings, cred).Do(httpReq)
	if err != nil {
		return StreamResult{}, apierror.Network(err)
	}
	return handleStreamResponse(ctx, resp)
}

func (e *ClaudeExecutor) buildRequest(ctx context.Context, cred *credential.Credential, req Request, stream bool) (*http.Request, error) {
	baseURL := cred.BaseURLOrDefault(claudeDefaultBaseURL)
	url := baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Payload))
	if err != nil {
		return nil, apierror.Internal("build claude request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("anthropic-beta", anthropicBeta)
	if strings.Contains(baseURL, "anthropic.com") {
		httpReq.Header.Set("x-api-key", cred.APIKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+cred.APIKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	applyHeaders(httpReq, req.Headers, cred.Headers)
	return httpReq, nil
}
