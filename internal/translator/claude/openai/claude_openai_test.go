package openai

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	claudeschema "github.com/modelgate/modelgate/internal/apischema/claude"
	openaischema "github.com/modelgate/modelgate/internal/apischema/openai"
	"github.com/modelgate/modelgate/internal/translator/translator"
)

func TestRequestHoistsSystemMessages(t *testing.T) {
	body := []byte(`{"model":"m","messages":[` +
		`{"role":"system","content":"A"},` +
		`{"role":"system","content":"B"},` +
		`{"role":"user","content":"hi"}],"max_tokens":100}`)

	out, err := ConvertOpenAIRequestToClaude("m", body, false)
	require.NoError(t, err)

	root := gjson.ParseBytes(out)
	assert.Equal(t, "A\n\nB", root.Get("system").String())
	assert.Equal(t, int64(100), root.Get("max_tokens").Int())
	require.Len(t, root.Get("messages").Array(), 1)
	assert.Equal(t, "user", root.Get("messages.0.role").String())
	assert.Equal(t, "hi", root.Get("messages.0.content").String())
}

func TestRequestWholeShape(t *testing.T) {
	body := []byte(`{"model":"gpt-x","messages":[
		{"role":"system","content":"Be brief."},
		{"role":"user","content":"hi"},
		{"role":"assistant","content":"hello"},
		{"role":"user","content":"bye"}
	],"max_tokens":256,"temperature":0.5,"stop":"END"}`)

	out, err := ConvertOpenAIRequestToClaude("claude-sonnet-4", body, true)
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &got))

	want := map[string]interface{}{
		"model":      "claude-sonnet-4",
		"max_tokens": float64(256),
		"system":     "Be brief.",
		"messages": []interface{}{
			map[string]interface{}{"role": "user", "content": "hi"},
			map[string]interface{}{"role": "assistant", "content": []interface{}{
				map[string]interface{}{"type": "text", "text": "hello"},
			}},
			map[string]interface{}{"role": "user", "content": "bye"},
		},
		"temperature":    float64(0.5),
		"stop_sequences": []interface{}{"END"},
		"stream":         true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("translated request mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestDefaultsMaxTokens(t *testing.T) {
	out, err := ConvertOpenAIRequestToClaude("m", []byte(`{"messages":[{"role":"user","content":"x"}]}`), false)
	require.NoError(t, err)
	assert.Equal(t, int64(8192), gjson.GetBytes(out, "max_tokens").Int())

	out, err = ConvertOpenAIRequestToClaude("m", []byte(`{"messages":[],"max_completion_tokens":512}`), false)
	require.NoError(t, err)
	assert.Equal(t, int64(512), gjson.GetBytes(out, "max_tokens").Int())
}

func TestRequestMissingMessages(t *testing.T) {
	_, err := ConvertOpenAIRequestToClaude("m", []byte(`{"model":"m"}`), false)
	assert.Error(t, err)
}

func TestRequestAssistantToolCalls(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"assistant","content":"on it","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Oslo\"}"}},
			{"id":"call_2","type":"function","function":{"name":"bad_args","arguments":"not json"}}
		]},
		{"role":"tool","tool_call_id":"call_1","content":"sunny"}
	]}`)

	out, err := ConvertOpenAIRequestToClaude("m", body, false)
	require.NoError(t, err)
	root := gjson.ParseBytes(out)

	blocks := root.Get("messages.0.content")
	require.Len(t, blocks.Array(), 3)
	assert.Equal(t, "text", blocks.Get("0.type").String())
	assert.Equal(t, "on it", blocks.Get("0.text").String())
	assert.Equal(t, "tool_use", blocks.Get("1.type").String())
	assert.Equal(t, "call_1", blocks.Get("1.id").String())
	assert.Equal(t, "Oslo", blocks.Get("1.input.city").String())
	// Unparseable arguments degrade to an empty input object.
	assert.Equal(t, "{}", blocks.Get("2.input").Raw)

	toolResult := root.Get("messages.1.content.0")
	assert.Equal(t, "tool_result", toolResult.Get("type").String())
	assert.Equal(t, "call_1", toolResult.Get("tool_use_id").String())
	assert.Equal(t, "sunny", toolResult.Get("content").String())
}

func TestRequestMergesToolResultIntoPriorUserTurn(t *testing.T) {
	body := []byte(`{"messages":[
		{"role":"tool","tool_call_id":"call_1","content":"one"},
		{"role":"tool","tool_call_id":"call_2","content":"two"}
	]}`)

	out, err := ConvertOpenAIRequestToClaude("m", body, false)
	require.NoError(t, err)
	root := gjson.ParseBytes(out)

	require.Len(t, root.Get("messages").Array(), 1)
	blocks := root.Get("messages.0.content")
	require.Len(t, blocks.Array(), 2)
	assert.Equal(t, "call_1", blocks.Get("0.tool_use_id").String())
	assert.Equal(t, "call_2", blocks.Get("1.tool_use_id").String())
}

func TestRequestImageParts(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":[
		{"type":"text","text":"look"},
		{"type":"image_url","image_url":{"url":"data:image/jpeg;base64,aGk="}},
		{"type":"image_url","image_url":{"url":"https://example.com/cat.png"}}
	]}]}`)

	out, err := ConvertOpenAIRequestToClaude("m", body, false)
	require.NoError(t, err)
	blocks := gjson.GetBytes(out, "messages.0.content")
	require.Len(t, blocks.Array(), 3)

	assert.Equal(t, "base64", blocks.Get("1.source.type").String())
	assert.Equal(t, "image/jpeg", blocks.Get("1.source.media_type").String())
	assert.Equal(t, "aGk=", blocks.Get("1.source.data").String())

	assert.Equal(t, "url", blocks.Get("2.source.type").String())
	assert.Equal(t, "https://example.com/cat.png", blocks.Get("2.source.url").String())
}

func TestRequestToolsAndChoice(t *testing.T) {
	body := []byte(`{"messages":[],"tools":[
		{"type":"function","function":{"name":"lookup","description":"d","parameters":{"type":"object","properties":{"q":{"type":"string"}}}}},
		{"type":"function","function":{"name":"bare"}}
	],"tool_choice":{"type":"function","function":{"name":"lookup"}}}`)

	out, err := ConvertOpenAIRequestToClaude("m", body, false)
	require.NoError(t, err)
	root := gjson.ParseBytes(out)

	tools := root.Get("tools")
	require.Len(t, tools.Array(), 2)
	assert.Equal(t, "lookup", tools.Get("0.name").String())
	assert.Equal(t, "string", tools.Get("0.input_schema.properties.q.type").String())
	// Tools without parameters get the empty object schema.
	assert.Equal(t, "object", tools.Get("1.input_schema.type").String())

	assert.Equal(t, "tool", root.Get("tool_choice.type").String())
	assert.Equal(t, "lookup", root.Get("tool_choice.name").String())
}

func TestRequestToolChoiceStrings(t *testing.T) {
	for choice, want := range map[string]string{
		`"none"`:     "none",
		`"auto"`:     "auto",
		`"required"`: "any",
		`"other"`:    "auto",
	} {
		out, err := ConvertOpenAIRequestToClaude("m", []byte(`{"messages":[],"tool_choice":`+choice+`}`), false)
		require.NoError(t, err)
		assert.Equal(t, want, gjson.GetBytes(out, "tool_choice.type").String(), "choice %s", choice)
	}
}

func TestRequestStopAndStream(t *testing.T) {
	out, err := ConvertOpenAIRequestToClaude("m", []byte(`{"messages":[],"stop":"END"}`), true)
	require.NoError(t, err)
	root := gjson.ParseBytes(out)
	assert.Equal(t, `["END"]`, root.Get("stop_sequences").Raw)
	assert.True(t, root.Get("stream").Bool())

	out, err = ConvertOpenAIRequestToClaude("m", []byte(`{"messages":[],"stop":["a","b"]}`), false)
	require.NoError(t, err)
	root = gjson.ParseBytes(out)
	assert.Equal(t, `["a","b"]`, root.Get("stop_sequences").Raw)
	assert.False(t, root.Get("stream").Exists())
}

func TestNonStreamResponseTextAndUsage(t *testing.T) {
	body, err := json.Marshal(claudeschema.Message{
		ID:    "msg_01",
		Type:  "message",
		Role:  "assistant",
		Model: "claude-sonnet-4",
		Content: []claudeschema.ContentBlock{
			{Type: "text", Text: "Hello"},
			{Type: "text", Text: " world"},
		},
		StopReason: "end_turn",
		Usage:      &claudeschema.Usage{InputTokens: 12, OutputTokens: 5},
	})
	require.NoError(t, err)

	out, err := ConvertClaudeResponseToOpenAINonStream("m", nil, body)
	require.NoError(t, err)
	root := gjson.Parse(out)

	assert.Equal(t, "chatcmpl-msg_01", root.Get("id").String())
	assert.Equal(t, "chat.completion", root.Get("object").String())
	assert.Equal(t, "claude-sonnet-4", root.Get("model").String())
	assert.Equal(t, "Hello world", root.Get("choices.0.message.content").String())
	assert.Equal(t, "stop", root.Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(12), root.Get("usage.prompt_tokens").Int())
	assert.Equal(t, int64(5), root.Get("usage.completion_tokens").Int())
	assert.Equal(t, int64(17), root.Get("usage.total_tokens").Int())
}

func TestNonStreamResponseToolUse(t *testing.T) {
	body, err := json.Marshal(claudeschema.Message{
		ID:    "msg_02",
		Type:  "message",
		Role:  "assistant",
		Model: "claude-sonnet-4",
		Content: []claudeschema.ContentBlock{
			{Type: "tool_use", ID: "toolu_1", Name: "get_weather", Input: json.RawMessage(`{"city":"Oslo"}`)},
		},
		StopReason: "tool_use",
	})
	require.NoError(t, err)

	out, err := ConvertClaudeResponseToOpenAINonStream("m", nil, body)
	require.NoError(t, err)
	root := gjson.Parse(out)

	// Pure tool-call turns carry a null content.
	content := root.Get("choices.0.message.content")
	assert.Equal(t, gjson.Null, content.Type)

	toolCall := root.Get("choices.0.message.tool_calls.0")
	assert.Equal(t, "toolu_1", toolCall.Get("id").String())
	assert.Equal(t, "function", toolCall.Get("type").String())
	assert.Equal(t, "get_weather", toolCall.Get("function.name").String())
	assert.Equal(t, `{"city":"Oslo"}`, toolCall.Get("function.arguments").String())
	assert.Equal(t, "tool_calls", root.Get("choices.0.finish_reason").String())
}

func TestStreamLifecycle(t *testing.T) {
	var state translator.State

	events := []struct {
		name string
		data string
	}{
		{"message_start", `{"type":"message_start","message":{"id":"msg_1","model":"claude-m","usage":{"input_tokens":7}}}`},
		{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
		{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`},
		{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}`},
		{"message_stop", `{"type":"message_stop"}`},
	}

	var lines []string
	for _, ev := range events {
		out, err := ConvertClaudeResponseToOpenAI("m", nil, ev.name, []byte(ev.data), &state)
		require.NoError(t, err)
		lines = append(lines, out...)
	}

	require.Len(t, lines, 4)

	role := gjson.Parse(lines[0])
	assert.Equal(t, "chatcmpl-msg_1", role.Get("id").String())
	assert.Equal(t, "chat.completion.chunk", role.Get("object").String())
	assert.Equal(t, "claude-m", role.Get("model").String())
	assert.Equal(t, "assistant", role.Get("choices.0.delta.role").String())

	content := gjson.Parse(lines[1])
	assert.Equal(t, "hi", content.Get("choices.0.delta.content").String())
	assert.Equal(t, gjson.Null, content.Get("choices.0.finish_reason").Type)

	finish := gjson.Parse(lines[2])
	assert.Equal(t, "stop", finish.Get("choices.0.finish_reason").String())
	assert.Equal(t, int64(7), finish.Get("usage.prompt_tokens").Int())
	assert.Equal(t, int64(3), finish.Get("usage.completion_tokens").Int())
	assert.Equal(t, int64(10), finish.Get("usage.total_tokens").Int())

	assert.Equal(t, "[DONE]", lines[3])
}

func TestStreamToolCallDeltas(t *testing.T) {
	var state translator.State

	_, err := ConvertClaudeResponseToOpenAI("m", nil, "message_start",
		[]byte(`{"type":"message_start","message":{"id":"msg_2","model":"claude-m","usage":{"input_tokens":1}}}`), &state)
	require.NoError(t, err)

	// Text block first: no chunk on start, index advances.
	out, err := ConvertClaudeResponseToOpenAI("m", nil, "content_block_start",
		[]byte(`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`), &state)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = ConvertClaudeResponseToOpenAI("m", nil, "content_block_start",
		[]byte(`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_9","name":"lookup"}}`), &state)
	require.NoError(t, err)
	require.Len(t, out, 1)

	var start openaischema.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(out[0]), &start))
	assert.Equal(t, "chatcmpl-msg_2", start.ID)
	assert.Equal(t, "chat.completion.chunk", start.Object)
	assert.Equal(t, "claude-m", start.Model)
	wantChoices := []openaischema.ChunkChoice{{
		Delta: openaischema.Delta{ToolCalls: []openaischema.ToolCall{{
			Index:    openaischema.IntPtr(0),
			ID:       "toolu_9",
			Type:     "function",
			Function: openaischema.FunctionCall{Name: "lookup"},
		}}},
	}}
	if diff := cmp.Diff(wantChoices, start.Choices); diff != "" {
		t.Errorf("tool call start chunk mismatch (-want +got):\n%s", diff)
	}

	out, err = ConvertClaudeResponseToOpenAI("m", nil, "content_block_delta",
		[]byte(`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"q\":"}}`), &state)
	require.NoError(t, err)
	require.Len(t, out, 1)
	delta := gjson.Parse(out[0]).Get("choices.0.delta.tool_calls.0")
	assert.Equal(t, int64(0), delta.Get("index").Int())
	assert.Equal(t, `{"q":`, delta.Get("function.arguments").String())

	// ping and content_block_stop stay silent.
	out, err = ConvertClaudeResponseToOpenAI("m", nil, "ping", []byte(`{"type":"ping"}`), &state)
	require.NoError(t, err)
	assert.Empty(t, out)
	out, err = ConvertClaudeResponseToOpenAI("m", nil, "content_block_stop", []byte(`{"type":"content_block_stop","index":1}`), &state)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRoundTripStability(t *testing.T) {
	request := []byte(`{"model":"claude-sonnet-4","messages":[{"role":"user","content":"hello"}]}`)

	claudeReq, err := ConvertOpenAIRequestToClaude("claude-sonnet-4", request, false)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4", gjson.GetBytes(claudeReq, "model").String())

	claudeResp := []byte(`{"id":"msg_rt","model":"claude-sonnet-4","content":[{"type":"text","text":"hey"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`)
	out, err := ConvertClaudeResponseToOpenAINonStream("claude-sonnet-4", claudeReq, claudeResp)
	require.NoError(t, err)

	root := gjson.Parse(out)
	assert.Equal(t, "chat.completion", root.Get("object").String())
	assert.Equal(t, "assistant", root.Get("choices.0.message.role").String())
	assert.NotEmpty(t, root.Get("model").String())
	assert.True(t, strings.HasPrefix(root.Get("id").String(), "chatcmpl-"))
}
