package llm

import (
	"context"
	"sync"
)

// MockClient returns scripted responses in order, then repeats the last one.
// Used by the mock provider and throughout the engine and loop tests.
type MockClient struct {
	mu        sync.Mutex
	model     string
	responses []string
	errs      []error
	calls     int
	Requests  [][]Message
	healthy   bool
}

// NewMockClient builds a healthy mock with a single canned reply.
func NewMockClient(model string) *MockClient {
	if model == "" {
		model = "mock"
	}
	return &MockClient{model: model, responses: []string{"ok"}, healthy: true}
}

// Script replaces the canned replies. A nil error slot means success.
func (m *MockClient) Script(responses []string, errs []error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.errs = errs
	m.calls = 0
	return m
}

// SetHealthy controls the Health probe result.
func (m *MockClient) SetHealthy(ok bool) { m.mu.Lock(); m.healthy = ok; m.mu.Unlock() }

// Calls returns how many Chat invocations have happened.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockClient) Model() string { return m.model }

func (m *MockClient) Chat(ctx context.Context, messages []Message) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	m.calls++
	m.Requests = append(m.Requests, messages)

	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	content := ""
	if len(m.responses) > 0 {
		if idx >= len(m.responses) {
			idx = len(m.responses) - 1
		}
		content = m.responses[idx]
	}
	return &Response{
		Content: content,
		Model:   m.model,
		Usage:   Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}, nil
}

func (m *MockClient) Health() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}
