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

// ollamaClient talks to a local Ollama server's /api/chat endpoint.
type ollamaClient struct {
	model      string
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

func newOllamaClient(model string, cfg config.ProviderConfig) *ollamaClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ollamaClient{
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewLLMLogger("ollama-client"),
	}
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error"`
}

func (c *ollamaClient) Model() string { return c.model }

func (c *ollamaClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	body, err := jsonx.Marshal(ollamaRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options:  map[string]any{"temperature": 0.7},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	endpoint := c.baseURL + "/api/chat"
	c.logger.Debug("POST %s model=%s messages=%d", endpoint, c.model, len(messages))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Unavailable(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, Unavailable(fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var decoded ollamaResponse
	if err := jsonx.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, Unavailable(fmt.Errorf("decode ollama response: %w", err))
	}
	if decoded.Error != "" {
		return nil, Unavailable(fmt.Errorf("ollama error: %s", decoded.Error))
	}

	model := decoded.Model
	if model == "" {
		model = c.model
	}
	return &Response{
		Content: decoded.Message.Content,
		Model:   model,
		Usage: Usage{
			PromptTokens:     decoded.PromptEvalCount,
			CompletionTokens: decoded.EvalCount,
			TotalTokens:      decoded.PromptEvalCount + decoded.EvalCount,
		},
		Raw: map[string]any{"model": decoded.Model, "done": decoded.Done},
	}, nil
}

func (c *ollamaClient) Health() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
