package copywriter

import (
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// TokenBudget counts and trims prompt text. Every backend is approximated
// with the GPT-4 encoding.
type TokenBudget struct {
	codec tokenizer.Codec
}

// NewTokenBudget loads the codec. When it cannot be loaded, counting falls
// back to four characters per token.
func NewTokenBudget() *TokenBudget {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &TokenBudget{}
	}
	return &TokenBudget{codec: codec}
}

// Count returns the number of tokens in text.
func (b *TokenBudget) Count(text string) int {
	if b.codec == nil {
		return len(text) / 4
	}
	n, err := b.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Fit drops trailing words until text is within limit tokens.
func (b *TokenBudget) Fit(text string, limit int) string {
	if limit <= 0 || b.Count(text) <= limit {
		return text
	}
	words := strings.Fields(text)
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if b.Count(strings.Join(words[:mid], " ")) <= limit {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.Join(words[:lo], " ")
}
