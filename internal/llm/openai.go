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

// openaiClient talks to an OpenAI-compatible /chat/completions endpoint.
type openaiClient struct {
	model      string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logging.Logger
}

func newOpenAIClient(model string, cfg config.ProviderConfig) *openaiClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &openaiClient{
		model:      model,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewLLMLogger("openai-client"),
	}
}

type openaiRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *openaiClient) Model() string { return c.model }

func (c *openaiClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	body, err := jsonx.Marshal(openaiRequest{Model: c.model, Messages: messages, Temperature: 0.7})
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	c.logger.Debug("POST %s model=%s messages=%d", endpoint, c.model, len(messages))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Unavailable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, Unavailable(fmt.Errorf("openai status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var decoded openaiResponse
	if err := jsonx.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, Unavailable(fmt.Errorf("decode openai response: %w", err))
	}
	if decoded.Error != nil {
		return nil, Unavailable(fmt.Errorf("openai error: %s", decoded.Error.Message))
	}
	if len(decoded.Choices) == 0 {
		return nil, Unavailable(fmt.Errorf("openai response had no choices"))
	}

	model := decoded.Model
	if model == "" {
		model = c.model
	}
	return &Response{
		Content: decoded.Choices[0].Message.Content,
		Model:   model,
		Usage:   decoded.Usage,
		Raw:     map[string]any{"model": decoded.Model},
	}, nil
}

func (c *openaiClient) Health() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
