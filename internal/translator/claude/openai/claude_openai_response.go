package openai

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/modelgate/modelgate/internal/apierror"
	"github.com/modelgate/modelgate/internal/translator/translator"
)

// ConvertClaudeResponseToOpenAINonStream converts a complete Anthropic
// Messages response into an OpenAI chat completion document. Text blocks
// concatenate into the message content; tool_use blocks become tool_calls
// with stringified arguments.
func ConvertClaudeResponseToOpenAINonStream(_ string, _ []byte, rawJSON []byte) (string, error) {
	if !gjson.ValidBytes(rawJSON) {
		return "", apierror.Translation("claude response is not valid JSON")
	}
	root := gjson.ParseBytes(rawJSON)

	id := root.Get("id").String()
	if id == "" {
		id = "unknown"
	}
	model := root.Get("model").String()
	if model == "" {
		model = "unknown"
	}

	var textParts []string
	var toolCalls []interface{}

	root.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			if text := block.Get("text"); text.Type == gjson.String {
				textParts = append(textParts, text.String())
			}
		case "tool_use":
			arguments := "{}"
			if input := block.Get("input"); input.Exists() {
				if inputJSON, err := json.Marshal(input.Value()); err == nil {
					arguments = string(inputJSON)
				}
			}
			toolCalls = append(toolCalls, map[string]interface{}{
				"id":   block.Get("id").String(),
				"type": "function",
				"function": map[string]interface{}{
					"name":      block.Get("name").String(),
					"arguments": arguments,
				},
				"index": len(toolCalls),
			})
		}
		return true
	})

	content := strings.Join(textParts, "")
	message := map[string]interface{}{"role": "assistant"}
	// A pure tool-call turn carries a null content per the OpenAI schema.
	if content == "" && len(toolCalls) > 0 {
		message["content"] = nil
	} else {
		message["content"] = content
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}

	response := map[string]interface{}{
		"id":      "chatcmpl-" + id,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []interface{}{
			map[string]interface{}{
				"index":         0,
				"message":       message,
				"finish_reason": mapClaudeStopReason(root.Get("stop_reason").String()),
			},
		},
	}
	if usage := root.Get("usage"); usage.Exists() {
		inputTokens := usage.Get("input_tokens").Int()
		outputTokens := usage.Get("output_tokens").Int()
		response["usage"] = map[string]interface{}{
			"prompt_tokens":     inputTokens,
			"completion_tokens": outputTokens,
			"total_tokens":      inputTokens + outputTokens,
		}
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		return "", apierror.Translation("encode openai response: %v", err)
	}
	return string(responseJSON), nil
}

// ConvertClaudeResponseToOpenAI converts one Anthropic stream event into
// OpenAI chat completion chunks. The event name drives a state machine:
// message_start initializes the state and emits the role chunk,
// content_block_start/delta emit content and tool-call deltas, message_delta
// emits the finish chunk with usage, and message_stop terminates the stream.
// ping and content_block_stop produce no output.
func ConvertClaudeResponseToOpenAI(_ string, _ []byte, eventName string, rawJSON []byte, state *translator.State) ([]string, error) {
	if !gjson.ValidBytes(rawJSON) {
		return nil, apierror.Translation("claude stream event is not valid JSON")
	}
	root := gjson.ParseBytes(rawJSON)
	var chunks []string

	switch eventName {
	case "message_start":
		if message := root.Get("message"); message.Exists() {
			id := message.Get("id").String()
			if id == "" {
				id = "unknown"
			}
			model := message.Get("model").String()
			if model == "" {
				model = "unknown"
			}
			state.ResponseID = "chatcmpl-" + id
			state.Model = model
			state.Created = time.Now().Unix()
			state.ContentIndex = -1
			state.ToolCallIndex = -1
			state.SentRole = false
			state.InputTokens = message.Get("usage.input_tokens").Int()
		}

		chunk := newChunk(state)
		chunk, _ = sjson.SetRaw(chunk, "choices.0.delta", `{"role":"assistant","content":""}`)
		state.SentRole = true
		chunks = append(chunks, chunk)

	case "content_block_start":
		state.ContentIndex++
		if block := root.Get("content_block"); block.Get("type").String() == "tool_use" {
			state.ToolCallIndex++
			toolCall := `{"index":0,"id":"","type":"function","function":{"name":"","arguments":""}}`
			toolCall, _ = sjson.Set(toolCall, "index", state.ToolCallIndex)
			toolCall, _ = sjson.Set(toolCall, "id", block.Get("id").String())
			toolCall, _ = sjson.Set(toolCall, "function.name", block.Get("name").String())

			chunk := newChunk(state)
			chunk, _ = sjson.SetRaw(chunk, "choices.0.delta.tool_calls", "["+toolCall+"]")
			chunks = append(chunks, chunk)
		}

	case "content_block_delta":
		delta := root.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			chunk := newChunk(state)
			chunk, _ = sjson.Set(chunk, "choices.0.delta.content", delta.Get("text").String())
			chunks = append(chunks, chunk)
		case "input_json_delta":
			toolCall := `{"index":0,"function":{"arguments":""}}`
			toolCall, _ = sjson.Set(toolCall, "index", state.ToolCallIndex)
			toolCall, _ = sjson.Set(toolCall, "function.arguments", delta.Get("partial_json").String())

			chunk := newChunk(state)
			chunk, _ = sjson.SetRaw(chunk, "choices.0.delta.tool_calls", "["+toolCall+"]")
			chunks = append(chunks, chunk)
		}

	case "message_delta":
		if delta := root.Get("delta"); delta.Exists() {
			chunk := newChunk(state)
			chunk, _ = sjson.Set(chunk, "choices.0.finish_reason", mapClaudeStopReason(delta.Get("stop_reason").String()))
			if usage := root.Get("usage"); usage.Exists() {
				outputTokens := usage.Get("output_tokens").Int()
				usageJSON := `{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}`
				usageJSON, _ = sjson.Set(usageJSON, "prompt_tokens", state.InputTokens)
				usageJSON, _ = sjson.Set(usageJSON, "completion_tokens", outputTokens)
				usageJSON, _ = sjson.Set(usageJSON, "total_tokens", state.InputTokens+outputTokens)
				chunk, _ = sjson.SetRaw(chunk, "usage", usageJSON)
			}
			chunks = append(chunks, chunk)
		}

	case "message_stop":
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

// mapClaudeStopReason maps Anthropic stop reasons to OpenAI finish reasons.
func mapClaudeStopReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}
