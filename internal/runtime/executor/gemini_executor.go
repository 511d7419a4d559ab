package executor

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/modelgate/modelgate/internal/apierror"
	"github.com/modelgate/modelgate/internal/constant"
	"github.com/modelgate/modelgate/internal/credential"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"

// GeminiExecutor speaks the Google Generative Language v1beta API. The model
// is part of the URL path; streaming uses the SSE variant of the endpoint.
type GeminiExecutor struct {
	settings Settings
}

func NewGeminiExecutor(settings Settings) *GeminiExecutor {
	return &GeminiExecutor{settings: settings}
}

func (e *GeminiExecutor) Identifier() string { return "gemini" }

func (e *GeminiExecutor) Format() constant.Format { return constant.Gemini }

func (e *GeminiExecutor) DefaultBaseURL() string { return geminiDefaultBaseURL }

func (e *GeminiExecutor) Execute(ctx context.Context, cred *credential.Credential, req Request) (Response, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		cred.BaseURLOrDefault(geminiDefaultBaseURL), req.Model)
	httpReq, err := e.buildRequest(ctx, cred, req, url, false)
	if err != nil {
		return Response{}, err
	}
	resp, err := newHTTPClient(e.settings, cred).Do(httpReq)
	if err != nil {
		return Response{}, apierror.Network(err)
	}
	return handleResponse(resp)
}

func (e *GeminiExecutor) ExecuteStream(ctx context.Context, cred *credential.Credential, req Request) (StreamResult, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse",
		cred.BaseURLOrDefault(geminiDefaultBaseURL), req.Model)
	httpReq, err := e.buildRequest(ctx, cred, req, url, true)
	if err != nil {
		return StreamResult{}, err
	}
	resp, err := newHTTPClient(e.settings, cred).Do(httpReq)
	if err != nil {
		return StreamResult{}, apierror.Network(err)
	}
	return handleStreamResponse(ctx, resp)
}

func (e *GeminiExecutor) buildRequest(ctx context.Context, cred *credential.Credential, req Request, url string, stream bool) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Payload))
	if err != nil {
		return nil, apierror.Internal("build gemini request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", cred.APIKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	applyHeaders(httpReq, req.Headers, cred.Headers)
	return httpReq, nil
}
