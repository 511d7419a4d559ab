package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func strPtr(s string) *string { return &s }

func TestResolveProxyURL(t *testing.T) {
	assert.Equal(t, "socks5://global:1080", ResolveProxyURL(nil, "socks5://global:1080"))
	assert.Equal(t, "", ResolveProxyURL(strPtr(""), "socks5://global:1080"))
	assert.Equal(t, "http://entry:8080", ResolveProxyURL(strPtr("http://entry:8080"), "socks5://global:1080"))
}

func TestValidateProxyURL(t *testing.T) {
	assert.NoError(t, ValidateProxyURL("socks5://127.0.0.1:1080"))
	assert.NoError(t, ValidateProxyURL("http://proxy.local:8080"))
	assert.NoError(t, ValidateProxyURL("https://proxy.local:8443"))
	assert.Error(t, ValidateProxyURL("ftp://proxy.local:21"))
	assert.Error(t, ValidateProxyURL("://bad"))
}

func TestHideAPIKey(t *testing.T) {
	assert.Equal(t, "sk-a...wxyz", HideAPIKey("sk-abcdefghijklmnopqrstuvwxyz"))
	assert.Equal(t, "ab...ef", HideAPIKey("abcdef"))
	assert.Equal(t, "a...c", HideAPIKey("abc"))
	assert.Equal(t, "ab", HideAPIKey("ab"))
}

func TestWalkFindsNestedFields(t *testing.T) {
	doc := `{"type":"object","properties":{"name":{"type":"string"},"tags":{"type":"array","items":{"type":"string"}}}}`
	var paths []string
	Walk(gjson.Parse(doc), "", "type", &paths)
	assert.Equal(t, []string{
		"type",
		"properties.name.type",
		"properties.tags.type",
		"properties.tags.items.type",
	}, paths)
}

func TestRenameKey(t *testing.T) {
	out, err := RenameKey(`{"max_tokens":128,"model":"m"}`, "max_tokens", "max_output_tokens")
	require.NoError(t, err)
	assert.Equal(t, int64(128), gjson.Get(out, "max_output_tokens").Int())
	assert.False(t, gjson.Get(out, "max_tokens").Exists())

	_, err = RenameKey(`{}`, "missing", "anywhere")
	assert.Error(t, err)
}

func TestSanitizeSchemaForGemini(t *testing.T) {
	schema := `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"name": {"type": ["string", "null"]},
			"count": {"type": ["null", "integer"]},
			"choice": {"anyOf": [{"type": "string"}, {"type": "number"}]}
		}
	}`
	out := SanitizeSchemaForGemini(schema)

	assert.False(t, gjson.Get(out, "$schema").Exists())
	assert.False(t, gjson.Get(out, `additionalProperties`).Exists())
	assert.False(t, gjson.Get(out, "properties.choice.anyOf").Exists())
	assert.Equal(t, "string", gjson.Get(out, "properties.name.type").String())
	assert.Equal(t, "integer", gjson.Get(out, "properties.count.type").String())
	assert.Equal(t, "object", gjson.Get(out, "type").String())
}
