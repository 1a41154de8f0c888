package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tooey/internal/config"
	"tooey/internal/shared/jsonx"
	"tooey/internal/shared/logging"
)

// anthropicClient talks to the Anthropic Messages API. System messages are
// lifted into the top-level system field as the API requires.
type anthropicClient struct {
	model      string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logging.Logger
}

func newAnthropicClient(model string, cfg config.ProviderConfig) *anthropicClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &anthropicClient{
		model:      model,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewLLMLogger("anthropic-client"),
	}
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *anthropicClient) Model() string { return c.model }

func (c *anthropicClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	system := ""
	chat := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		chat = append(chat, m)
	}

	body, err := jsonx.Marshal(anthropicRequest{
		Model:       c.model,
		MaxTokens:   4096,
		Messages:    chat,
		System:      system,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	endpoint := c.baseURL + "/v1/messages"
	c.logger.Debug("POST %s model=%s messages=%d", endpoint, c.model, len(chat))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Unavailable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, Unavailable(fmt.Errorf("anthropic status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var decoded anthropicResponse
	if err := jsonx.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, Unavailable(fmt.Errorf("decode anthropic response: %w", err))
	}
	if decoded.Error != nil {
		return nil, Unavailable(fmt.Errorf("anthropic error: %s", decoded.Error.Message))
	}
	if len(decoded.Content) == 0 {
		return nil, Unavailable(fmt.Errorf("anthropic response had no content"))
	}

	model := decoded.Model
	if model == "" {
		model = c.model
	}
	return &Response{
		Content: decoded.Content[0].Text,
		Model:   model,
		Usage: Usage{
			PromptTokens:     decoded.Usage.InputTokens,
			CompletionTokens: decoded.Usage.OutputTokens,
			TotalTokens:      decoded.Usage.InputTokens + decoded.Usage.OutputTokens,
		},
		Raw: map[string]any{"model": decoded.Model},
	}, nil
}

// Health reports key presence; the Messages API has no liveness endpoint.
func (c *anthropicClient) Health() bool {
	return c.apiKey != ""
}
