// Package constant defines the provider format identifiers used throughout
// the gateway, ensuring consistent naming across routing, translation, and
// dispatch.
package constant

// Format identifies a wire protocol family.
type Format string

const (
	// Claude represents the Anthropic Messages protocol.
	Claude Format = "claude"

	// Gemini represents the Google Gemini generateContent protocol.
	Gemini Format = "gemini"

	// OpenAI represents the OpenAI Chat Completions protocol.
	OpenAI Format = "openai"

	// OpenAICompat represents third-party OpenAI-compatible endpoints.
	OpenAICompat Format = "openai-compat"
)

// String returns the lowercase protocol identifier.
func (f Format) String() string { return string(f) }

// Formats lists every provider format in resolution order.
func Formats() []Format {
	return []Format{Claude, Gemini, OpenAI, OpenAICompat}
}

// WireAPI selects the body shape for OpenAI-compatible upstreams.
type WireAPI string

const (
	// WireAPIChat targets the classic /v1/chat/completions endpoint.
	WireAPIChat WireAPI = "chat"

	// WireAPIResponses targets the /v1/responses endpoint.
	WireAPIResponses WireAPI = "responses"
)
