package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"tooey/internal/shared/logging"
)

// retryClient retries transport-level failures with exponential backoff.
// Provider errors that are not ErrUnavailable pass through untouched.
type retryClient struct {
	inner      Client
	maxRetries uint64
	logger     logging.Logger
}

func withRetry(inner Client, maxRetries int) Client {
	return &retryClient{
		inner:      inner,
		maxRetries: uint64(maxRetries),
		logger:     logging.NewLLMLogger("llm-retry"),
	}
}

func (c *retryClient) Model() string { return c.inner.Model() }
func (c *retryClient) Health() bool  { return c.inner.Health() }

func (c *retryClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(500*time.Millisecond),
			backoff.WithMaxInterval(10*time.Second),
		),
		c.maxRetries,
	), ctx)

	var resp *Response
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var chatErr error
		resp, chatErr = c.inner.Chat(ctx, messages)
		if chatErr == nil {
			return nil
		}
		if !errors.Is(chatErr, ErrUnavailable) || ctx.Err() != nil {
			return backoff.Permanent(chatErr)
		}
		c.logger.Warn("chat attempt %d failed: %v", attempt, chatErr)
		return chatErr
	}, policy)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
