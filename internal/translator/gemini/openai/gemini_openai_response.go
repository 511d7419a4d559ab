package openai

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/modelgate/modelgate/internal/apierror"
	"github.com/modelgate/modelgate/internal/translator/translator"
)

// ConvertGeminiResponseToOpenAINonStream converts a complete Gemini
// generateContent response into an OpenAI chat completion document. Only the
// first candidate is considered. Gemini does not echo a response id, so a
// fresh one is minted; tool calls likewise receive generated call ids.
func ConvertGeminiResponseToOpenAINonStream(_ string, _ []byte, rawJSON []byte) (string, error) {
	if !gjson.ValidBytes(rawJSON) {
		return "", apierror.Translation("gemini response is not valid JSON")
	}
	root := gjson.ParseBytes(rawJSON)

	model := root.Get("modelVersion").String()
	if model == "" {
		model = "gemini"
	}

	var textParts []string
	var toolCalls []interface{}
	finishReason := "stop"

	if candidate := root.Get("candidates.0"); candidate.Exists() {
		candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Type == gjson.String {
				textParts = append(textParts, text.String())
			} else if functionCall := part.Get("functionCall"); functionCall.Exists() {
				toolCalls = append(toolCalls, map[string]interface{}{
					"id":   "call_" + uuid.NewString(),
					"type": "function",
					"function": map[string]interface{}{
						"name":      functionCall.Get("name").String(),
						"arguments": stringifyArgs(functionCall.Get("args")),
					},
					"index": len(toolCalls),
				})
			}
			return true
		})
		finishReason = mapGeminiFinishReason(candidate.Get("finishReason").String())
	}

	content := strings.Join(textParts, "")
	message := map[string]interface{}{"role": "assistant"}
	if content == "" && len(toolCalls) > 0 {
		message["content"] = nil
	} else {
		message["content"] = content
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	response := map[string]interface{}{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []interface{}{
			map[string]interface{}{
				"index":         0,
				"message":       message,
				"finish_reason": finishReason,
			},
		},
	}
	if usage := root.Get("usageMetadata"); usage.Exists() {
		prompt := usage.Get("promptTokenCount").Int()
		completion := usage.Get("candidatesTokenCount").Int()
		total := prompt + completion
		if v := usage.Get("totalTokenCount"); v.Exists() {
			total = v.Int()
		}
		response["usage"] = map[string]interface{}{
			"prompt_tokens":     prompt,
			"completion_tokens": completion,
			"total_tokens":      total,
		}
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		return "", apierror.Translation("encode openai response: %v", err)
	}
	return string(responseJSON), nil
}

// ConvertGeminiResponseToOpenAI converts one Gemini stream chunk into OpenAI
// chat completion chunks. Gemini streams carry no event names; the first
// chunk initializes the state and emits the role chunk, each candidate part
// emits a delta, and a finishReason closes the stream with a finish chunk,
// cumulative usage, and [DONE].
func ConvertGeminiResponseToOpenAI(_ string, _ []byte, _ string, rawJSON []byte, state *translator.State) ([]string, error) {
	if !gjson.ValidBytes(rawJSON) {
		return nil, apierror.Translation("gemini stream chunk is not valid JSON")
	}
	root := gjson.ParseBytes(rawJSON)
	var chunks []string

	if state.ResponseID == "" {
		state.ResponseID = "chatcmpl-" + uuid.NewString()
		state.Created = time.Now().Unix()
		state.ToolCallIndex = -1

		chunk := newChunk(state)
		chunk, _ = sjson.SetRaw(chunk, "choices.0.delta", `{"role":"assistant","content":""}`)
		state.SentRole = true
		chunks = append(chunks, chunk)
	}

	candidate := root.Get("candidates.0")
	if !candidate.Exists() {
		return chunks, nil
	}

	if modelVersion := root.Get("modelVersion"); modelVersion.Type == gjson.String {
		state.Model = modelVersion.String()
	}

	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Type == gjson.String {
			chunk := newChunk(state)
			chunk, _ = sjson.Set(chunk, "choices.0.delta.content", text.String())
			chunks = append(chunks, chunk)
		} else if functionCall := part.Get("functionCall"); functionCall.Exists() {
			state.ToolCallIndex++
			toolCall := `{"index":0,"id":"","type":"function","function":{"name":"","arguments":""}}`
			toolCall, _ = sjson.Set(toolCall, "index", state.ToolCallIndex)
			toolCall, _ = sjson.Set(toolCall, "id", "call_"+uuid.NewString())
			toolCall, _ = sjson.Set(toolCall, "function.name", functionCall.Get("name").String())
			toolCall, _ = sjson.Set(toolCall, "function.arguments", stringifyArgs(functionCall.Get("args")))

			chunk := newChunk(state)
			chunk, _ = sjson.SetRaw(chunk, "choices.0.delta.tool_calls", "["+toolCall+"]")
			chunks = append(chunks, chunk)
		}
		return true
	})

	if finish := candidate.Get("finishReason"); finish.Type == gjson.String {
		chunk := newChunk(state)
		chunk, _ = sjson.Set(chunk, "choices.0.finish_reason", mapGeminiFinishReason(finish.String()))
		if usage := root.Get("usageMetadata"); usage.Exists() {
			prompt := usage.Get("promptTokenCount").Int()
			completion := usage.Get("candidatesTokenCount").Int()
			usageJSON := `{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}`
			usageJSON, _ = sjson.Set(usageJSON, "prompt_tokens", prompt)
			usageJSON, _ = sjson.Set(usageJSON, "completion_tokens", completion)
			usageJSON, _ = sjson.Set(usageJSON, "total_tokens", prompt+completion)
			chunk, _ = sjson.SetRaw(chunk, "usage", usageJSON)
		}
		chunks = append(chunks, chunk)
		chunks = append(chunks, "[DONE]")
	}

	return chunks, nil
}

// newChunk builds the constant frame of a chat completion chunk; callers
// fill in the delta and finish_reason.
func newChunk(state *translator.State) string {
	chunk := `{"id":"","object":"chat.completion.chunk","created":0,"model":"","choices":[{"index":0,"delta":{},"finish_reason":null}]}`
	chunk, _ = sjson.Set(chunk, "id", state.ResponseID)
	chunk, _ = sjson.Set(chunk, "created", state.Created)
	chunk, _ = sjson.Set(chunk, "model", state.Model)
	return chunk
}

// stringifyArgs renders a functionCall args value as the OpenAI arguments
// string, defaulting to an empty object.
func stringifyArgs(args gjson.Result) string {
	if !args.Exists() {
		return "{}"
	}
	argsJSON, err := json.Marshal(args.Value())
	if err != nil {
		return "{}"
	}
	return string(argsJSON)
}

// mapGeminiFinishReason maps Gemini finish reasons to OpenAI finish reasons.
func mapGeminiFinishReason(finishReason string) string {
	switch finishReason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return "stop"
	}
}
