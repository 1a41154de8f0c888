package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tooey/internal/agent"
	"tooey/internal/beliefs"
	"tooey/internal/config"
	"tooey/internal/events"
	"tooey/internal/task"
)

func newTestServer(t *testing.T) (*Server, *agent.Services) {
	t.Helper()
	cfg := config.Default()
	cfg.AgentHome = t.TempDir()
	cfg.LLM.Provider = "mock"
	cfg.Execution.MaxRetries = 0

	svc, err := agent.NewServices(&cfg)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Events.Close() })

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.Tasks.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})

	a := agent.New(svc).WithCycleSleep(time.Millisecond)
	require.NoError(t, a.Initialize())
	return New(a, svc), svc
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewBuffer(raw)
	} else {
		payload = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStatus(t *testing.T) {
	s, svc := newTestServer(t)
	_, err := svc.Tasks.Create("Pending work item", task.OriginUser, task.CreateOptions{})
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode(t, rec)
	assert.Equal(t, "", got["active_task"])
	assert.Equal(t, float64(1), got["pending_count"])
	assert.Equal(t, true, got["health_ok"])
	assert.Contains(t, got, "budget_status")
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode(t, rec)
	for _, name := range []string{"agent_home", "boot_files", "logs_writable", "llm_connection", "invariants"} {
		check, ok := got[name].(map[string]any)
		require.True(t, ok, "check %s missing", name)
		assert.Equal(t, true, check["ok"], name)
	}
}

func TestTaskCreateAndList(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/tasks", map[string]any{
		"description":      "Rotate the expiring TLS certificates",
		"priority":         "high",
		"success_criteria": []string{"New certs deployed", "Old certs revoked"},
		"deadline":         "2026-04-01T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode(t, rec)
	assert.Equal(t, "high", created["priority"])
	assert.Equal(t, "2026-04-01T00:00:00Z", created["deadline"])

	rec = doJSON(t, s, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	pending, ok := got["pending"].([]any)
	require.True(t, ok)
	require.Len(t, pending, 1)
	first := pending[0].(map[string]any)
	assert.Equal(t, "Rotate the expiring TLS certificates", first["description"])
}

func TestTaskCreateValidation(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/tasks", map[string]any{"priority": "high"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/tasks", map[string]any{
		"description": "Task with a sloppy deadline",
		"deadline":    "tomorrow",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "RFC3339")
}

func TestBeliefEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/beliefs", map[string]any{
		"claim":      "The staging cluster sits behind a rate limiter",
		"confidence": 0.8,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode(t, rec)
	assert.Equal(t, "B-000001", created["id"])
	assert.Equal(t, "external", created["type"])

	rec = doJSON(t, s, http.MethodGet, "/api/beliefs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	active, ok := got["active"].([]any)
	require.True(t, ok)
	require.Len(t, active, 1)

	rec = doJSON(t, s, http.MethodPost, "/api/beliefs/B-000001/contest", map[string]any{
		"reason": "rate limiter was removed last week",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	contested := decode(t, rec)
	assert.Equal(t, "contested", contested["status"])

	rec = doJSON(t, s, http.MethodPost, "/api/beliefs/B-999999/contest", map[string]any{"reason": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSkillEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/skills/draft", map[string]any{
		"name":      "Queue Drain",
		"purpose":   "Drain a stuck message queue safely",
		"procedure": "1. pause consumers\n2. inspect backlog",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate drafts conflict.
	rec = doJSON(t, s, http.MethodPost, "/api/skills/draft", map[string]any{
		"name":      "Queue Drain",
		"purpose":   "again",
		"procedure": "steps",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/skills", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	byStatus, ok := got["by_status"].(map[string]any)
	require.True(t, ok)
	candidates, ok := byStatus["candidate"].([]any)
	require.True(t, ok)
	assert.Len(t, candidates, 1)

	// An unproven candidate cannot be promoted.
	rec = doJSON(t, s, http.MethodPost, "/api/skills/Queue%20Drain/promote", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMemoryEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPut, "/api/memory/working", map[string]any{
		"content": "# Working Memory\n\n- investigating the flaky test\n",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/memory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Contains(t, got["working"], "investigating the flaky test")
	assert.Contains(t, got["beliefs"], "No active beliefs")

	rec = doJSON(t, s, http.MethodPut, "/api/memory/secrets", map[string]any{"content": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsEndpoint(t *testing.T) {
	s, svc := newTestServer(t)
	require.NoError(t, svc.Events.Append(events.TaskUpdate("USE-X", "activated", "work started")))
	require.NoError(t, svc.Events.Append(events.ErrorEvent("USE-X", "probe", "transient failure")))

	rec := doJSON(t, s, http.MethodGet, "/api/events?type=task_update", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	evs, ok := got["events"].([]any)
	require.True(t, ok)
	require.Len(t, evs, 1)
	first := evs[0].(map[string]any)
	assert.Equal(t, "task_update", first["event_type"])
}

func TestControlClearWorking(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPut, "/api/memory/working", map[string]any{"content": "scratch"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/api/control/clear-working", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/memory", nil)
	got := decode(t, rec)
	assert.Contains(t, got["working"], "*Cleared*")
}

func TestControlCoherenceCheck(t *testing.T) {
	s, svc := newTestServer(t)
	_, err := svc.Beliefs.Add("A solid claim about the deploy cadence", beliefs.AddOptions{Confidence: 0.9})
	require.NoError(t, err)

	rec := doJSON(t, s, http.MethodPost, "/api/control/coherence-check", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, float64(1), got["total_beliefs"])
	assert.Contains(t, got["report_path"], "coherence-")
}

func TestRequestIDHeader(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/status", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-Request-ID", "req-42")
	echo := httptest.NewRecorder()
	s.Handler().ServeHTTP(echo, req)
	assert.Equal(t, "req-42", echo.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
