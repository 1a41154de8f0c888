package executor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"tooey/internal/events"
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *sinkRecorder) Append(ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func newTestExecutor(t *testing.T) (*Executor, *sinkRecorder) {
	t.Helper()
	sink := &sinkRecorder{}
	return New(t.TempDir(), sink, 10*time.Second), sink
}

func TestExecuteShellCapturesOutput(t *testing.T) {
	e, sink := newTestExecutor(t)

	res := e.ExecuteShell(context.Background(), "echo hello; echo oops >&2", Options{TaskID: "USE-1"})
	if res.ExitCode != 0 {
		t.Fatalf("exit = %d, stderr = %q", res.ExitCode, res.Stderr)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("stderr = %q", res.Stderr)
	}

	if len(sink.events) != 1 {
		t.Fatalf("logged %d events", len(sink.events))
	}
	ev := sink.events[0]
	if ev.EventType != "command_execution" || ev.Context.TaskID != "USE-1" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Execution.ExitCodes[0] != 0 {
		t.Errorf("exit codes = %v", ev.Execution.ExitCodes)
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	e, _ := newTestExecutor(t)
	res := e.ExecuteShell(context.Background(), "exit 3", Options{})
	if res.ExitCode != 3 {
		t.Errorf("exit = %d", res.ExitCode)
	}
	if res.TimedOut {
		t.Error("plain failure should not report a timeout")
	}
}

func TestExecuteMissingBinary(t *testing.T) {
	e, _ := newTestExecutor(t)
	res := e.Execute(context.Background(), "/no/such/binary", nil, Options{})
	if res.ExitCode != 127 {
		t.Errorf("exit = %d", res.ExitCode)
	}
	if res.Stderr != "Command not found" {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestExecuteTimeout(t *testing.T) {
	e, _ := newTestExecutor(t)
	res := e.ExecuteShell(context.Background(), "sleep 5", Options{Timeout: 100 * time.Millisecond})
	if !res.TimedOut {
		t.Fatal("expected a timeout")
	}
	if res.ExitCode != -1 {
		t.Errorf("exit = %d", res.ExitCode)
	}
	if !strings.HasPrefix(res.Stderr, "Command timed out after ") {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestExecuteCancelled(t *testing.T) {
	e, _ := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	res := e.ExecuteShell(ctx, "sleep 5", Options{})
	if res.ExitCode != -1 {
		t.Errorf("exit = %d", res.ExitCode)
	}
	if res.TimedOut {
		t.Error("cancellation should not read as a timeout")
	}
	if res.Stderr != "Command cancelled" {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestExecuteDefaultsToScratchDir(t *testing.T) {
	home := t.TempDir()
	e := New(home, nil, time.Second)
	res := e.ExecuteShell(context.Background(), "pwd", Options{})
	if res.ExitCode != 0 {
		t.Fatalf("exit = %d", res.ExitCode)
	}
	if !strings.Contains(res.Stdout, "scratch") {
		t.Errorf("cwd = %q", res.Stdout)
	}
	if !strings.HasSuffix(res.Cwd, "scratch") {
		t.Errorf("result cwd = %q", res.Cwd)
	}
}

func TestExecuteExplicitCwd(t *testing.T) {
	e, _ := newTestExecutor(t)
	dir := t.TempDir()
	res := e.ExecuteShell(context.Background(), "pwd", Options{Cwd: dir})
	if strings.TrimSpace(res.Stdout) != dir {
		t.Errorf("pwd = %q, want %q", res.Stdout, dir)
	}
}
