package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/modelgate/modelgate/internal/apierror"
	"github.com/modelgate/modelgate/internal/apischema/openai"
	"github.com/modelgate/modelgate/internal/constant"
	"github.com/modelgate/modelgate/internal/credential"
	"github.com/modelgate/modelgate/internal/util"
)

// OpenAICompatExecutor speaks the OpenAI chat-completions dialect. One
// instance serves api.openai.com, another serves arbitrary third-party
// endpoints that require a base-url per credential. Credentials flagged with
// the responses wire API get their bodies rewritten Chat->Responses on the
// way out and Responses->Chat on the way back.
type OpenAICompatExecutor struct {
	name           string
	defaultBaseURL string
	format         constant.Format
	settings       Settings
}

// NewOpenAIExecutor builds the executor for api.openai.com.
func NewOpenAIExecutor(settings Settings) *OpenAICompatExecutor {
	return &OpenAICompatExecutor{
		name:           "openai",
		defaultBaseURL: "https://api.openai.com",
		format:         constant.OpenAI,
		settings:       settings,
	}
}

// NewOpenAICompatExecutor builds the generic executor. It has no default
// base URL; configuration entries must carry one.
func NewOpenAICompatExecutor(settings Settings) *OpenAICompatExecutor {
	return &OpenAICompatExecutor{
		name:     "openai-compat",
		format:   constant.OpenAICompat,
		settings: settings,
	}
}

func (e *OpenAICompatExecutor) Identifier() string { return e.name }

func (e *OpenAICompatExecutor) Format() constant.Format { return e.format }

func (e *OpenAICompatExecutor) DefaultBaseURL() string { return e.defaultBaseURL }

func (e *OpenAICompatExecutor) Execute(ctx context.Context, cred *credential.Credential, req Request) (Response, error) {
	baseURL := cred.BaseURLOrDefault(e.defaultBaseURL)
	url := baseURL + "/v1/chat/completions"
	body := req.Payload
	useResponses := cred.WireAPI == constant.WireAPIResponses
	if useResponses {
		url = baseURL + "/v1/responses"
		var err error
		if body, err = chatToResponses(req.Payload); err != nil {
			return Response{}, err
		}
	}

	httpReq, err := e.buildRequest(ctx, cred, req, url, body, false)
	if err != nil {
		return Response{}, err
	}
	resp, err := newHTTPClient(e.settings, cred).Do(httpReq)
	if err != nil {
		return Response{}, apierror.Network(err)
	}
	out, err := handleResponse(resp)
	if err != nil {
		return Response{}, err
	}
	if useResponses {
		if out.Payload, err = responsesToChat(out.Payload); err != nil {
			return Response{}, err
		}
	}
	return out, nil
}

func (e *OpenAICompatExecutor) ExecuteStream(ctx context.Context, cred *credential.Credential, req Request) (StreamResult, error) {
	if cred.WireAPI == constant.WireAPIResponses {
		return e.synthesizeStream(ctx, cred, req)
	}

	url := cred.BaseURLOrDefault(e.defaultBaseURL) + "/v1/chat/completions"
	httpReq, err := e.buildRequest(ctx, cred, req, url, req.Payload, true)
	if err != nil {
		return StreamResult{}, err
	}
	resp, err := newHTTPClient(e.settings, cred).Do(httpReq)
	if err != nil {
		return StreamResult{}, apierror.Network(err)
	}
	return handleStreamResponse(ctx, resp)
}

// synthesizeStream emulates streaming over the Responses wire API: it runs
// the non-streaming exchange and replays the rewritten reply as four chunks
// (role, full content, finish with usage, done). Observably coarser than a
// native stream; the whole answer arrives in one content delta.
func (e *OpenAICompatExecutor) synthesizeStream(ctx context.Context, cred *credential.Credential, req Request) (StreamResult, error) {
	resp, err := e.Execute(ctx, cred, req)
	if err != nil {
		return StreamResult{}, err
	}
	root := gjson.ParseBytes(resp.Payload)

	id := root.Get("id").String()
	created := root.Get("created").Int()
	model := "unknown"
	if v := root.Get("model"); v.Type == gjson.String {
		model = v.String()
	}
	content := ""
	if v := root.Get("choices.0.message.content"); v.Type == gjson.String {
		content = v.String()
	}
	usage := root.Get("usage")

	roleChunk := synthChunk(id, created, model, openai.Delta{Role: "assistant", Content: openai.StringPtr("")}, nil)
	contentChunk := synthChunk(id, created, model, openai.Delta{Content: openai.StringPtr(content)}, nil)
	stopChunk := synthChunk(id, created, model, openai.Delta{}, openai.StringPtr("stop"))
	if usage.Exists() {
		stopChunk, _ = sjson.SetRaw(stopChunk, "usage", usage.Raw)
	} else {
		stopChunk, _ = sjson.SetRaw(stopChunk, "usage", "{}")
	}

	events := make(chan StreamChunk, 4)
	events <- StreamChunk{Data: []byte(roleChunk)}
	events <- StreamChunk{Data: []byte(contentChunk)}
	events <- StreamChunk{Data: []byte(stopChunk)}
	events <- StreamChunk{Data: []byte("[DONE]")}
	close(events)
	return StreamResult{Headers: resp.Headers, Events: events}, nil
}

func (e *OpenAICompatExecutor) buildRequest(ctx context.Context, cred *credential.Credential, req Request, url string, body []byte, stream bool) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apierror.Internal("build %s request: %v", e.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cred.APIKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	applyHeaders(httpReq, req.Headers, cred.Headers)
	return httpReq, nil
}

func synthChunk(id string, created int64, model string, delta openai.Delta, finishReason *string) string {
	chunk := openai.ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []openai.ChunkChoice{{Delta: delta, FinishReason: finishReason}},
	}
	out, _ := json.Marshal(chunk)
	return string(out)
}

// chatToResponses rewrites a Chat Completions request into the Responses API
// shape: messages become input with system text hoisted into instructions,
// max_tokens becomes max_output_tokens, and stream is dropped.
func chatToResponses(rawJSON []byte) ([]byte, error) {
	if !gjson.ValidBytes(rawJSON) {
		return nil, apierror.BadRequest("invalid JSON body")
	}
	root := gjson.ParseBytes(rawJSON)
	if !root.IsObject() {
		return nil, apierror.BadRequest("expected JSON object")
	}

	out := string(rawJSON)
	if messages := root.Get("messages"); messages.Exists() {
		out, _ = sjson.Delete(out, "messages")
		if messages.IsArray() {
			var instructions []string
			input := make([]interface{}, 0, len(messages.Array()))
			messages.ForEach(func(_, message gjson.Result) bool {
				if message.Get("role").String() == "system" {
					if content := message.Get("content"); content.Type == gjson.String {
						instructions = append(instructions, content.String())
					}
					return true
				}
				input = append(input, message.Value())
				return true
			})
			if len(instructions) > 0 && !root.Get("instructions").Exists() {
				out, _ = sjson.Set(out, "instructions", strings.Join(instructions, "\n"))
			}
			inputJSON, err := json.Marshal(input)
			if err != nil {
				return nil, apierror.Internal("encode responses input: %v", err)
			}
			out, _ = sjson.SetRaw(out, "input", string(inputJSON))
		} else {
			out, _ = sjson.SetRaw(out, "input", messages.Raw)
		}
	}

	if root.Get("max_tokens").Exists() {
		if root.Get("max_output_tokens").Exists() {
			// An explicit max_output_tokens wins; just drop the chat field.
			out, _ = sjson.Delete(out, "max_tokens")
		} else if renamed, err := util.RenameKey(out, "max_tokens", "max_output_tokens"); err == nil {
			out = renamed
		}
	}
	out, _ = sjson.Delete(out, "stream")
	return []byte(out), nil
}

// responsesToChat rewrites a Responses API reply into Chat Completions
// shape. Text from output message parts concatenates into one assistant
// message; the response status maps onto finish_reason.
func responsesToChat(rawJSON []byte) ([]byte, error) {
	if !gjson.ValidBytes(rawJSON) {
		return nil, apierror.Internal("invalid responses payload")
	}
	root := gjson.ParseBytes(rawJSON)

	var content strings.Builder
	root.Get("output").ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() != "message" {
			return true
		}
		item.Get("content").ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "output_text" {
				if text := part.Get("text"); text.Type == gjson.String {
					content.WriteString(text.String())
				}
			}
			return true
		})
		return true
	})

	model := "unknown"
	if v := root.Get("model"); v.Type == gjson.String {
		model = v.String()
	}
	id := ""
	if v := root.Get("id"); v.Type == gjson.String {
		id = v.String()
	}
	finishReason := "stop"
	if root.Get("status").String() == "incomplete" {
		finishReason = "length"
	}
	usage := root.Get("usage")
	promptTokens := usage.Get("input_tokens").Int()
	completionTokens := usage.Get("output_tokens").Int()

	chat := openai.ChatCompletion{
		ID:      "chatcmpl-" + id,
		Object:  "chat.completion",
		Created: root.Get("created_at").Int(),
		Model:   model,
		Choices: []openai.Choice{{
			Message:      &openai.Message{Role: "assistant", Content: openai.StringPtr(content.String())},
			FinishReason: openai.StringPtr(finishReason),
		}},
		Usage: &openai.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
	out, err := json.Marshal(chat)
	if err != nil {
		return nil, apierror.Internal("encode chat response: %v", err)
	}
	return out, nil
}
