package openai

import (
	"github.com/modelgate/modelgate/internal/constant"
	"github.com/modelgate/modelgate/internal/translator/translator"
)

func init() {
	translator.Register(
		constant.OpenAI,
		constant.Gemini,
		ConvertOpenAIRequestToGemini,
		translator.Response{
			Stream:    ConvertGeminiResponseToOpenAI,
			NonStream: ConvertGeminiResponseToOpenAINonStream,
		},
	)
}
