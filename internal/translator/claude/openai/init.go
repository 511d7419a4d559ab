package openai

import (
	"github.com/modelgate/modelgate/internal/constant"
	"github.com/modelgate/modelgate/internal/translator/translator"
)

func init() {
	translator.Register(
		constant.OpenAI,
		constant.Claude,
		ConvertOpenAIRequestToClaude,
		translator.Response{
			Stream:    ConvertClaudeResponseToOpenAI,
			NonStream: ConvertClaudeResponseToOpenAINonStream,
		},
	)
}
