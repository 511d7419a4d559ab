// Package translator wires the translation pairs into the registry.
// Importing it for side effects installs every pair the gateway ships.
package translator

import (
	_ "github.com/modelgate/modelgate/internal/translator/claude/openai"
	_ "github.com/modelgate/modelgate/internal/translator/gemini/openai"
)
