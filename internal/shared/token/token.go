// Package token provides token counting for prompt budgeting. Estimate is the
// cheap context-assembly heuristic; Count uses the cl100k_base encoding via
// tiktoken when available and falls back to Estimate otherwise.
package token

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func initEncoding() {
	once.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			encoding = enc
		}
	})
}

// Estimate returns ceil(len(text)/4), the heuristic used when assembling
// context under a token budget.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Count returns an accurate token count when the encoding is available.
func Count(text string) int {
	initEncoding()
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return Estimate(text)
}

// Truncate cuts text to approximately maxTokens under the Estimate heuristic,
// appending marker when anything was dropped.
func Truncate(text string, maxTokens int, marker string) string {
	if maxTokens <= 0 {
		return marker
	}
	limit := maxTokens * 4
	if len(text) <= limit {
		return text
	}
	cut := strings.ToValidUTF8(text[:limit], "")
	return cut + marker
}
