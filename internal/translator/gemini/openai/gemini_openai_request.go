// Package openai translates between the OpenAI Chat Completions dialect and
// the Google Gemini generateContent dialect. The request direction rewrites
// an OpenAI chat request into a generateContent body: system messages hoist
// into systemInstruction, messages become role-merged contents with text,
// inlineData, functionCall, and functionResponse parts, and sampling knobs
// move under generationConfig. The response direction converts Gemini
// replies (complete bodies and stream chunks) back into Chat Completions
// documents.
package openai

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/modelgate/modelgate/internal/apierror"
	"github.com/modelgate/modelgate/internal/util"
)

// ConvertOpenAIRequestToGemini rewrites an OpenAI Chat Completions request
// into a Gemini generateContent body. The model travels in the request URL
// rather than the body, and streaming is selected by the endpoint, so both
// parameters are ignored here.
func ConvertOpenAIRequestToGemini(_ string, rawJSON []byte, _ bool) ([]byte, error) {
	if !gjson.ValidBytes(rawJSON) {
		return nil, apierror.Translation("request body is not valid JSON")
	}
	root := gjson.ParseBytes(rawJSON)

	messages := root.Get("messages")
	if !messages.Exists() || !messages.IsArray() {
		return nil, apierror.Translation("missing messages field")
	}

	out := `{"contents":[]}`

	var contents []map[string]interface{}

	// Consecutive turns with the same Gemini role merge their parts; tool
	// results fold into the preceding user turn the same way.
	appendOrMerge := func(role string, parts []interface{}) {
		if n := len(contents); n > 0 && contents[n-1]["role"] == role {
			if existing, ok := contents[n-1]["parts"].([]interface{}); ok {
				contents[n-1]["parts"] = append(existing, parts...)
				return
			}
		}
		contents = append(contents, map[string]interface{}{
			"role":  role,
			"parts": parts,
		})
	}

	messages.ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		switch role {
		case "system":
			// Hoisted into systemInstruction below.

		case "tool":
			name := "function"
			if v := message.Get("name"); v.Type == gjson.String {
				name = v.String()
			}
			contentText := ""
			if v := message.Get("content"); v.Type == gjson.String {
				contentText = v.String()
			}
			// Tool output that parses as JSON passes through; plain text is
			// wrapped in a result object.
			var response interface{} = map[string]interface{}{"result": contentText}
			var parsed interface{}
			if err := json.Unmarshal([]byte(contentText), &parsed); err == nil {
				response = parsed
			}
			appendOrMerge("user", []interface{}{
				map[string]interface{}{
					"functionResponse": map[string]interface{}{
						"name":     name,
						"response": response,
					},
				},
			})

		default:
			geminiRole := "user"
			if role == "assistant" {
				geminiRole = "model"
			}
			appendOrMerge(geminiRole, convertContentToParts(message))
		}
		return true
	})

	if len(contents) > 0 {
		contentsJSON, _ := json.Marshal(contents)
		out, _ = sjson.SetRaw(out, "contents", string(contentsJSON))
	}

	// System messages hoist into systemInstruction parts.
	var systemParts []interface{}
	messages.ForEach(func(_, message gjson.Result) bool {
		if message.Get("role").String() != "system" {
			return true
		}
		content := message.Get("content")
		switch {
		case content.Type == gjson.String:
			systemParts = append(systemParts, map[string]interface{}{"text": content.String()})
		case content.IsArray():
			content.ForEach(func(_, part gjson.Result) bool {
				if text := part.Get("text"); text.Type == gjson.String {
					systemParts = append(systemParts, map[string]interface{}{"text": text.String()})
				}
				return true
			})
		}
		return true
	})
	if len(systemParts) > 0 {
		systemJSON, _ := json.Marshal(map[string]interface{}{"parts": systemParts})
		out, _ = sjson.SetRaw(out, "systemInstruction", string(systemJSON))
	}

	// Sampling knobs move under generationConfig.
	config := "{}"
	hasConfig := false
	if temp := root.Get("temperature"); temp.Exists() {
		config, _ = sjson.SetRaw(config, "temperature", temp.Raw)
		hasConfig = true
	}
	if topP := root.Get("top_p"); topP.Exists() {
		config, _ = sjson.SetRaw(config, "topP", topP.Raw)
		hasConfig = true
	}
	maxTokens := root.Get("max_tokens")
	if !maxTokens.Exists() {
		maxTokens = root.Get("max_completion_tokens")
	}
	if maxTokens.Exists() {
		config, _ = sjson.SetRaw(config, "maxOutputTokens", maxTokens.Raw)
		hasConfig = true
	}
	if stop := root.Get("stop"); stop.Exists() {
		if stop.Type == gjson.String {
			config, _ = sjson.Set(config, "stopSequences", []string{stop.String()})
			hasConfig = true
		} else if stop.IsArray() {
			config, _ = sjson.SetRaw(config, "stopSequences", stop.Raw)
			hasConfig = true
		}
	}
	if hasConfig {
		out, _ = sjson.SetRaw(out, "generationConfig", config)
	}

	// Tools mapping: OpenAI function declarations -> Gemini
	// functionDeclarations under a single tools entry. Parameter schemas are
	// sanitized because Gemini rejects several JSON Schema constructs.
	if tools := root.Get("tools"); tools.IsArray() {
		var declarations []interface{}
		tools.ForEach(func(_, tool gjson.Result) bool {
			function := tool.Get("function")
			if !function.Exists() {
				return true
			}
			declaration := map[string]interface{}{
				"name":        function.Get("name").String(),
				"description": function.Get("description").String(),
			}
			if parameters := function.Get("parameters"); parameters.Exists() {
				sanitized := util.SanitizeSchemaForGemini(parameters.Raw)
				declaration["parameters"] = gjson.Parse(sanitized).Value()
			}
			declarations = append(declarations, declaration)
			return true
		})
		if len(declarations) > 0 {
			toolsJSON, _ := json.Marshal([]interface{}{
				map[string]interface{}{"functionDeclarations": declarations},
			})
			out, _ = sjson.SetRaw(out, "tools", string(toolsJSON))
		}
	}

	return []byte(out), nil
}

// convertContentToParts maps one OpenAI message to Gemini parts: text and
// image content first, then functionCall parts for assistant tool calls.
// Messages that produce nothing yield a single empty text part.
func convertContentToParts(message gjson.Result) []interface{} {
	var parts []interface{}

	content := message.Get("content")
	switch {
	case content.Type == gjson.String:
		parts = append(parts, map[string]interface{}{"text": content.String()})
	case content.IsArray():
		content.ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "text":
				parts = append(parts, map[string]interface{}{"text": part.Get("text").String()})
			case "image_url":
				if part.Get("image_url").Exists() {
					parts = append(parts, convertImageURLToPart(part.Get("image_url.url").String()))
				}
			}
			return true
		})
	}

	if toolCalls := message.Get("tool_calls"); toolCalls.IsArray() {
		toolCalls.ForEach(func(_, toolCall gjson.Result) bool {
			argsStr := "{}"
			if v := toolCall.Get("function.arguments"); v.Type == gjson.String {
				argsStr = v.String()
			}
			var args interface{} = map[string]interface{}{}
			var parsed interface{}
			if err := json.Unmarshal([]byte(argsStr), &parsed); err == nil {
				args = parsed
			}
			parts = append(parts, map[string]interface{}{
				"functionCall": map[string]interface{}{
					"name": toolCall.Get("function.name").String(),
					"args": args,
				},
			})
			return true
		})
	}

	if len(parts) == 0 {
		parts = append(parts, map[string]interface{}{"text": ""})
	}
	return parts
}

// convertImageURLToPart maps an OpenAI image reference to a Gemini part.
// Data URLs become inlineData; Gemini cannot fetch arbitrary URLs inline, so
// anything else degrades to a text reference.
func convertImageURLToPart(url string) map[string]interface{} {
	if strings.HasPrefix(url, "data:") {
		parts := strings.SplitN(url[len("data:"):], ",", 2)
		if len(parts) == 2 {
			return map[string]interface{}{
				"inlineData": map[string]interface{}{
					"mimeType": strings.Split(parts[0], ";")[0],
					"data":     parts[1],
				},
			}
		}
	}
	return map[string]interface{}{"text": "[image: " + url + "]"}
}
