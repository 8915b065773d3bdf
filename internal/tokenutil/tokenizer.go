package tokenutil

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer implements the engine's Tokenizer port. The zero value uses the
// shared cl100k_base encoding; ForModel selects a model-specific encoding
// when tiktoken knows one.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// Default returns a tokenizer backed by the shared cl100k_base encoding.
func Default() *Tokenizer {
	return &Tokenizer{}
}

// ForModel returns a tokenizer using the encoding registered for the given
// model name. Unknown models fall back to the default encoding; this mirrors
// the adapter fallback behavior so an unrecognized target model never fails.
func ForModel(model string) *Tokenizer {
	model = strings.TrimSpace(model)
	if model == "" {
		return Default()
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return Default()
	}
	return &Tokenizer{enc: enc}
}

// CountTokens counts tokens for text with the selected encoding.
func (t *Tokenizer) CountTokens(text string) int {
	if t == nil || t.enc == nil {
		return CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}
