package ai

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
)

// CountTokens returns the number of tokens in text using the cl100k_base
// encoding. Falls back to a chars/4 estimate when the encoding cannot be
// loaded (offline environments).
func CountTokens(text string) int {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, using char estimate", "error", err)
			return
		}
		tokenizer = enc
	})

	if tokenizer == nil {
		return (len(text) + 3) / 4
	}
	return len(tokenizer.Encode(text, nil, nil))
}
