// Package openai translates between the OpenAI Chat Completions dialect and
// the Anthropic Messages dialect. The request direction rewrites an OpenAI
// chat request into a Messages request: system messages hoist into the
// top-level system field, tool call and tool result messages become
// tool_use/tool_result content blocks, and image data URLs become inline
// base64 sources. The response direction converts Messages replies (complete
// bodies and stream events) back into Chat Completions documents.
package openai

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/modelgate/modelgate/internal/apierror"
)

// ConvertOpenAIRequestToClaude rewrites an OpenAI Chat Completions request
// into an Anthropic Messages request. modelName replaces the model field;
// stream is set only when true because the Messages API treats an explicit
// false the same as absent.
func ConvertOpenAIRequestToClaude(modelName string, rawJSON []byte, stream bool) ([]byte, error) {
	if !gjson.ValidBytes(rawJSON) {
		return nil, apierror.Translation("request body is not valid JSON")
	}
	root := gjson.ParseBytes(rawJSON)

	messages := root.Get("messages")
	if !messages.Exists() || !messages.IsArray() {
		return nil, apierror.Translation("missing messages field")
	}

	// Base Messages API template with the default token limit.
	out := `{"model":"","max_tokens":8192,"messages":[]}`
	out, _ = sjson.Set(out, "model", modelName)

	if maxTokens := root.Get("max_tokens"); maxTokens.Exists() {
		out, _ = sjson.Set(out, "max_tokens", maxTokens.Int())
	} else if maxTokens = root.Get("max_completion_tokens"); maxTokens.Exists() {
		out, _ = sjson.Set(out, "max_tokens", maxTokens.Int())
	}

	// System messages hoist into the top-level system field, joined by blank
	// lines. Both plain string content and text parts contribute.
	var systemParts []string
	messages.ForEach(func(_, message gjson.Result) bool {
		if message.Get("role").String() != "system" {
			return true
		}
		content := message.Get("content")
		switch {
		case content.Type == gjson.String:
			systemParts = append(systemParts, content.String())
		case content.IsArray():
			content.ForEach(func(_, part gjson.Result) bool {
				if text := part.Get("text"); text.Type == gjson.String {
					systemParts = append(systemParts, text.String())
				}
				return true
			})
		}
		return true
	})
	if systemText := strings.Join(systemParts, "\n\n"); systemText != "" {
		out, _ = sjson.Set(out, "system", systemText)
	}

	var claudeMessages []map[string]interface{}

	messages.ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		content := message.Get("content")

		switch role {
		case "system":
			// Already hoisted above.

		case "tool":
			toolResult := map[string]interface{}{
				"type":        "tool_result",
				"tool_use_id": message.Get("tool_call_id").String(),
				"content":     stringContent(content),
			}
			// Tool results belong to the preceding user turn when it already
			// carries a block list.
			if n := len(claudeMessages); n > 0 && claudeMessages[n-1]["role"] == "user" {
				if blocks, ok := claudeMessages[n-1]["content"].([]interface{}); ok {
					claudeMessages[n-1]["content"] = append(blocks, toolResult)
					return true
				}
			}
			claudeMessages = append(claudeMessages, map[string]interface{}{
				"role":    "user",
				"content": []interface{}{toolResult},
			})

		case "assistant":
			var blocks []interface{}
			if content.Type == gjson.String && content.String() != "" {
				blocks = append(blocks, map[string]interface{}{
					"type": "text",
					"text": content.String(),
				})
			}
			if toolCalls := message.Get("tool_calls"); toolCalls.IsArray() {
				toolCalls.ForEach(func(_, toolCall gjson.Result) bool {
					blocks = append(blocks, map[string]interface{}{
						"type":  "tool_use",
						"id":    toolCall.Get("id").String(),
						"name":  toolCall.Get("function.name").String(),
						"input": parseArguments(toolCall.Get("function.arguments")),
					})
					return true
				})
			}
			if len(blocks) == 0 {
				blocks = append(blocks, map[string]interface{}{"type": "text", "text": ""})
			}
			claudeMessages = append(claudeMessages, map[string]interface{}{
				"role":    "assistant",
				"content": blocks,
			})

		default:
			claudeMessages = append(claudeMessages, map[string]interface{}{
				"role":    "user",
				"content": convertUserContent(content),
			})
		}
		return true
	})

	if len(claudeMessages) > 0 {
		messagesJSON, _ := json.Marshal(claudeMessages)
		out, _ = sjson.SetRaw(out, "messages", string(messagesJSON))
	}

	if temp := root.Get("temperature"); temp.Exists() {
		out, _ = sjson.SetRaw(out, "temperature", temp.Raw)
	}
	if topP := root.Get("top_p"); topP.Exists() {
		out, _ = sjson.SetRaw(out, "top_p", topP.Raw)
	}

	// Tools mapping: OpenAI function declarations -> Claude tools.
	if tools := root.Get("tools"); tools.IsArray() {
		var claudeTools []interface{}
		tools.ForEach(func(_, tool gjson.Result) bool {
			function := tool.Get("function")
			if !function.Exists() {
				return true
			}
			name := function.Get("name")
			if name.Type != gjson.String {
				return true
			}
			var inputSchema interface{} = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
			if parameters := function.Get("parameters"); parameters.Exists() {
				inputSchema = parameters.Value()
			}
			claudeTools = append(claudeTools, map[string]interface{}{
				"name":         name.String(),
				"description":  function.Get("description").String(),
				"input_schema": inputSchema,
			})
			return true
		})
		if len(claudeTools) > 0 {
			toolsJSON, _ := json.Marshal(claudeTools)
			out, _ = sjson.SetRaw(out, "tools", string(toolsJSON))
		}
	}

	if stop := root.Get("stop"); stop.Exists() {
		if stop.Type == gjson.String {
			out, _ = sjson.Set(out, "stop_sequences", []string{stop.String()})
		} else if stop.IsArray() {
			out, _ = sjson.SetRaw(out, "stop_sequences", stop.Raw)
		}
	}

	if stream {
		out, _ = sjson.Set(out, "stream", true)
	}

	// Extended thinking passes through verbatim.
	if thinking := root.Get("thinking"); thinking.Exists() {
		out, _ = sjson.SetRaw(out, "thinking", thinking.Raw)
	}

	if toolChoice := root.Get("tool_choice"); toolChoice.Exists() {
		choiceJSON, _ := json.Marshal(convertToolChoice(toolChoice))
		out, _ = sjson.SetRaw(out, "tool_choice", string(choiceJSON))
	}

	return []byte(out), nil
}

// stringContent extracts plain string content, treating anything else as
// empty.
func stringContent(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	return ""
}

// parseArguments decodes an OpenAI tool-call arguments string into a JSON
// value, falling back to an empty object when the string does not parse.
func parseArguments(arguments gjson.Result) interface{} {
	argsStr := "{}"
	if arguments.Type == gjson.String {
		argsStr = arguments.String()
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(argsStr), &parsed); err != nil {
		return map[string]interface{}{}
	}
	return parsed
}

// convertUserContent maps OpenAI user content to Claude content: strings
// pass through, part arrays become content blocks, anything else collapses
// to an empty string.
func convertUserContent(content gjson.Result) interface{} {
	switch {
	case content.Type == gjson.String:
		return content.String()
	case content.IsArray():
		blocks := []interface{}{}
		content.ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "text":
				blocks = append(blocks, map[string]interface{}{
					"type": "text",
					"text": part.Get("text").String(),
				})
			case "image_url":
				if part.Get("image_url").Exists() {
					blocks = append(blocks, convertImageURL(part.Get("image_url.url").String()))
				}
			}
			return true
		})
		return blocks
	default:
		return ""
	}
}

// convertImageURL maps an OpenAI image reference to a Claude image block.
// Data URLs become inline base64 sources; every other URL uses the url
// source type.
func convertImageURL(url string) map[string]interface{} {
	if strings.HasPrefix(url, "data:") {
		parts := strings.SplitN(url[len("data:"):], ",", 2)
		if len(parts) == 2 {
			return map[string]interface{}{
				"type": "image",
				"source": map[string]interface{}{
					"type":       "base64",
					"media_type": strings.Split(parts[0], ";")[0],
					"data":       parts[1],
				},
			}
		}
	}
	return map[string]interface{}{
		"type": "image",
		"source": map[string]interface{}{
			"type": "url",
			"url":  url,
		},
	}
}

// convertToolChoice maps the OpenAI tool_choice field to the Claude
// equivalent, defaulting to auto for unrecognized shapes.
func convertToolChoice(toolChoice gjson.Result) map[string]interface{} {
	switch toolChoice.Type {
	case gjson.String:
		switch toolChoice.String() {
		case "none":
			return map[string]interface{}{"type": "none"}
		case "auto":
			return map[string]interface{}{"type": "auto"}
		case "required":
			return map[string]interface{}{"type": "any"}
		}
	case gjson.JSON:
		if toolChoice.IsObject() {
			if name := toolChoice.Get("function.name"); name.Type == gjson.String {
				return map[string]interface{}{"type": "tool", "name": name.String()}
			}
		}
	}
	return map[string]interface{}{"type": "auto"}
}
