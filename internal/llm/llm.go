// Package llm abstracts chat-completion providers behind a single Client
// interface. The runtime core only ever sees Chat and Health; wire formats
// stay inside each provider.
package llm

import (
	"context"
	"errors"
	"fmt"

	"tooey/internal/config"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Usage reports token accounting for one response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a provider-agnostic chat result. Raw preserves the decoded
// provider body for debugging.
type Response struct {
	Content string
	Model   string
	Usage   Usage
	Raw     map[string]any
}

// ErrUnavailable marks transport-level failures: the tick survives them, the
// current cycle does not.
var ErrUnavailable = errors.New("llm unavailable")

// Unavailable wraps cause as an ErrUnavailable.
func Unavailable(cause error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, cause)
}

// Client is the capability surface the agent core depends on.
type Client interface {
	// Chat sends the ordered messages and returns the assistant reply.
	Chat(ctx context.Context, messages []Message) (*Response, error)
	// Health reports whether the provider is reachable.
	Health() bool
	// Model returns the configured model name.
	Model() string
}

// New builds the provider selected by cfg, wrapped with transport retries.
func New(cfg config.LLMConfig, maxRetries int) (Client, error) {
	var client Client
	switch cfg.Provider {
	case "ollama":
		client = newOllamaClient(cfg.Model, cfg.Ollama)
	case "openai":
		client = newOpenAIClient(cfg.Model, cfg.OpenAI)
	case "anthropic":
		client = newAnthropicClient(cfg.Model, cfg.Anthropic)
	case "mock":
		client = NewMockClient(cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
	}
	if maxRetries > 0 {
		client = withRetry(client, maxRetries)
	}
	return client, nil
}
