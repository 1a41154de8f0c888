package llm

import (
	"context"
	"errors"
	"testing"

	"tooey/internal/config"
)

func TestMockScriptOrderAndRepeat(t *testing.T) {
	mock := NewMockClient("test-model")
	mock.Script([]string{"one", "two"}, nil)

	for _, want := range []string{"one", "two", "two", "two"} {
		resp, err := mock.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}})
		if err != nil {
			t.Fatalf("Chat: %v", err)
		}
		if resp.Content != want {
			t.Errorf("content = %q, want %q", resp.Content, want)
		}
	}
	if mock.Calls() != 4 {
		t.Errorf("calls = %d", mock.Calls())
	}
	if len(mock.Requests) != 4 || mock.Requests[0][0].Content != "hi" {
		t.Errorf("requests = %+v", mock.Requests)
	}
}

func TestMockScriptedErrors(t *testing.T) {
	mock := NewMockClient("")
	mock.Script([]string{"recovered"}, []error{Unavailable(errors.New("connection refused")), nil})

	_, err := mock.Chat(context.Background(), nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
	resp, err := mock.Chat(context.Background(), nil)
	if err != nil || resp.Content != "recovered" {
		t.Errorf("resp = %+v, err = %v", resp, err)
	}
	if mock.Model() != "mock" {
		t.Errorf("model = %q", mock.Model())
	}
}

func TestMockCancelledContext(t *testing.T) {
	mock := NewMockClient("test-model")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mock.Chat(ctx, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v", err)
	}
	if mock.Calls() != 0 {
		t.Errorf("cancelled call should not count, calls = %d", mock.Calls())
	}
}

func TestRetryRecoversFromUnavailable(t *testing.T) {
	mock := NewMockClient("test-model")
	mock.Script(
		[]string{"", "", "third time lucky"},
		[]error{Unavailable(errors.New("timeout")), Unavailable(errors.New("timeout")), nil},
	)
	client := withRetry(mock, 3)

	resp, err := client.Chat(context.Background(), []Message{{Role: "user", Content: "go"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "third time lucky" {
		t.Errorf("content = %q", resp.Content)
	}
	if mock.Calls() != 3 {
		t.Errorf("calls = %d", mock.Calls())
	}
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	mock := NewMockClient("test-model")
	mock.Script(nil, []error{
		Unavailable(errors.New("down")),
		Unavailable(errors.New("down")),
	})
	client := withRetry(mock, 1)

	_, err := client.Chat(context.Background(), nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if mock.Calls() != 2 {
		t.Errorf("calls = %d, want the original plus one retry", mock.Calls())
	}
}

func TestRetryPassesThroughProviderErrors(t *testing.T) {
	providerErr := errors.New("model refused the request")
	mock := NewMockClient("test-model")
	mock.Script(nil, []error{providerErr})
	client := withRetry(mock, 3)

	_, err := client.Chat(context.Background(), nil)
	if !errors.Is(err, providerErr) {
		t.Fatalf("err = %v", err)
	}
	if mock.Calls() != 1 {
		t.Errorf("calls = %d, provider errors must not retry", mock.Calls())
	}
}

func TestRetryPreservesSurface(t *testing.T) {
	mock := NewMockClient("test-model")
	client := withRetry(mock, 2)
	if client.Model() != "test-model" {
		t.Errorf("model = %q", client.Model())
	}
	if !client.Health() {
		t.Error("healthy inner client should report healthy")
	}
	mock.SetHealthy(false)
	if client.Health() {
		t.Error("unhealthy inner client should report unhealthy")
	}
}

func TestNewSelectsProvider(t *testing.T) {
	cfg := config.Default().LLM
	cfg.Provider = "mock"
	cfg.Model = "scripted"

	client, err := New(cfg, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if client.Model() != "scripted" {
		t.Errorf("model = %q", client.Model())
	}

	cfg.Provider = "bard"
	if _, err := New(cfg, 0); err == nil {
		t.Error("unknown provider should error")
	}
}
