// Package openai defines the subset of the OpenAI Chat Completions wire
// schema the gateway produces itself: synthesized stream chunks, the model
// listing document, and the shapes tests assert against. Translation keeps
// request bodies as raw JSON so unknown fields pass through untouched; these
// types exist for the places where the gateway is the message author.
package openai

// ChatCompletion is a non-streaming chat completion response.
// https://platform.openai.com/docs/api-reference/chat/object
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is one completion alternative. The gateway only ever emits index 0.
type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	FinishReason *string  `json:"finish_reason"`
}

// Message is an assistant message in a non-streaming response.
type Message struct {
	Role      string     `json:"role"`
	Content   *string    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ChatCompletionChunk is one streaming delta frame.
// https://platform.openai.com/docs/api-reference/chat/streaming
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ChunkChoice carries the incremental delta for one stream frame.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the incremental message payload inside a stream chunk. Content is
// a pointer so the opening role chunk can carry an explicit empty string.
type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   *string    `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a function invocation requested by the model. Index is set on
// streaming deltas so clients can stitch partial arguments together.
type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// Usage is the token accounting block.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Model is one entry in the /v1/models listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the /v1/models response document.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// StringPtr returns a pointer to s, for optional schema fields.
func StringPtr(s string) *string { return &s }

// IntPtr returns a pointer to i, for optional schema fields.
func IntPtr(i int) *int { return &i }
