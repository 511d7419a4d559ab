// Package claude defines the subset of the Anthropic Messages wire schema
// the gateway inspects: response messages, content blocks, and usage. The
// messages endpoint itself forwards raw JSON.
package claude

import "encoding/json"

// Message is a non-streaming Messages API response.
// https://docs.anthropic.com/en/api/messages
type Message struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
}

// ContentBlock is one element of a message's content array. Text blocks set
// Text; tool_use blocks set ID, Name and Input.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Usage is the Anthropic token accounting block.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}
