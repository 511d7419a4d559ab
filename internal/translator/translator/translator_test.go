package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/modelgate/modelgate/internal/constant"
)

func TestRequestSameFormatReplacesModel(t *testing.T) {
	body := []byte(`{"model":"sonnet","messages":[{"role":"user","content":"hi"}]}`)

	out, err := Request(constant.Claude, constant.Claude, "claude-sonnet-4-5-20250929", body, false)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5-20250929", gjson.GetBytes(out, "model").String())
	assert.Equal(t, "hi", gjson.GetBytes(out, "messages.0.content").String())
}

func TestRequestSameFormatWithoutModelFieldUntouched(t *testing.T) {
	body := []byte(`{"messages":[]}`)

	out, err := Request(constant.OpenAI, constant.OpenAI, "gpt-4o", body, false)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestRequestSameFormatInvalidJSON(t *testing.T) {
	_, err := Request(constant.OpenAI, constant.OpenAI, "gpt-4o", []byte("{nope"), false)
	assert.Error(t, err)
}

func TestRequestUnregisteredPairPassesThrough(t *testing.T) {
	body := []byte(`{"model":"m"}`)

	out, err := Request(constant.Gemini, constant.Claude, "claude-3", body, true)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestStreamSameFormatPassesThrough(t *testing.T) {
	var state State
	lines, err := Stream(constant.Claude, constant.Claude, "m", nil, "message_start", []byte(`{"type":"message_start"}`), &state)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"type":"message_start"}`}, lines)
}

func TestStreamDoneSentinelSurvivesTranslation(t *testing.T) {
	var state State
	lines, err := Stream(constant.OpenAI, constant.Claude, "m", nil, "", []byte("[DONE]"), &state)
	require.NoError(t, err)
	assert.Equal(t, []string{"[DONE]"}, lines)
}

func TestNonStreamSameFormatPassesThrough(t *testing.T) {
	out, err := NonStream(constant.Gemini, constant.Gemini, "m", nil, []byte(`{"candidates":[]}`))
	require.NoError(t, err)
	assert.Equal(t, `{"candidates":[]}`, out)
}

func TestRegisterRoutesToPair(t *testing.T) {
	Register(constant.OpenAI, constant.Gemini,
		func(modelName string, rawJSON []byte, stream bool) ([]byte, error) {
			return []byte(`{"translated":true}`), nil
		},
		Response{
			Stream: func(modelName string, originalReq []byte, eventName string, rawJSON []byte, state *State) ([]string, error) {
				return []string{"stream:" + eventName}, nil
			},
			NonStream: func(modelName string, originalReq, rawJSON []byte) (string, error) {
				return "nonstream", nil
			},
		},
	)

	assert.True(t, NeedTranslate(constant.OpenAI, constant.Gemini))
	assert.False(t, NeedTranslate(constant.OpenAI, constant.OpenAI))
	assert.False(t, NeedTranslate(constant.Claude, constant.Gemini))

	out, err := Request(constant.OpenAI, constant.Gemini, "m", []byte(`{}`), false)
	require.NoError(t, err)
	assert.Equal(t, `{"translated":true}`, string(out))

	var state State
	lines, err := Stream(constant.OpenAI, constant.Gemini, "m", nil, "chunk", []byte(`{}`), &state)
	require.NoError(t, err)
	assert.Equal(t, []string{"stream:chunk"}, lines)

	body, err := NonStream(constant.OpenAI, constant.Gemini, "m", nil, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "nonstream", body)
}
