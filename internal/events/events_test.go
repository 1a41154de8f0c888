package events

import (
	"os"
	"strings"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	now := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func newTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := NewLog(t.TempDir())
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log.WithClock(fixedClock())
}

func TestAppendFillsDefaults(t *testing.T) {
	log := newTestLog(t)

	if err := log.Append(Event{EventType: "heartbeat"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := log.Read("2026-01-15")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("read %d events", len(got))
	}
	if got[0].Timestamp != "2026-01-15T10:30:00Z" {
		t.Errorf("timestamp = %q", got[0].Timestamp)
	}
	if got[0].Level != "INFO" {
		t.Errorf("level = %q", got[0].Level)
	}
}

func TestAppendKeepsExplicitFields(t *testing.T) {
	log := newTestLog(t)

	if err := log.Append(Event{
		EventType: "error",
		Level:     "ERROR",
		Timestamp: "2026-01-15T09:00:00Z",
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, _ := log.Read("2026-01-15")
	if got[0].Level != "ERROR" || got[0].Timestamp != "2026-01-15T09:00:00Z" {
		t.Errorf("event = %+v", got[0])
	}
}

func TestReadToleratesGarbage(t *testing.T) {
	log := newTestLog(t)

	if err := log.Append(TaskUpdate("USE-1", "activated", "starting work")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	f, err := os.OpenFile(log.Path("2026-01-15"), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// A half-written line and a JSON object with no event_type.
	f.WriteString("{\"event_ty\n")
	f.WriteString("{\"level\":\"INFO\"}\n")
	f.Close()
	if err := log.Append(ErrorEvent("USE-1", "run tests", "compile failed")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := log.Read("2026-01-15")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d events, want the two valid ones", len(got))
	}
	if got[0].EventType != "task_update" || got[1].EventType != "error" {
		t.Errorf("types = %s, %s", got[0].EventType, got[1].EventType)
	}
}

func TestReadMissingDate(t *testing.T) {
	log := newTestLog(t)
	got, err := log.Read("1999-01-01")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != nil {
		t.Errorf("events = %v", got)
	}
}

func TestConstructors(t *testing.T) {
	ev := CommandExecuted("bash", []string{"-c", "ls"}, "/tmp", 0, 42, "USE-1", "shell")
	if ev.EventType != "command_execution" {
		t.Errorf("type = %q", ev.EventType)
	}
	if ev.Execution == nil || len(ev.Execution.Commands) != 1 || ev.Execution.Commands[0].Cmd != "bash" {
		t.Errorf("execution = %+v", ev.Execution)
	}
	if ev.Execution.ExitCodes[0] != 0 || ev.Execution.DurationMS != 42 {
		t.Errorf("execution = %+v", ev.Execution)
	}
	if ev.Context.TaskID != "USE-1" || ev.Context.TriggeringSkill != "shell" {
		t.Errorf("context = %+v", ev.Context)
	}

	ev = TaskUpdate("USE-2", "completed", "all criteria met")
	if ev.Outcomes.Observations != "completed: all criteria met" {
		t.Errorf("observations = %q", ev.Outcomes.Observations)
	}

	ev = ErrorEvent("USE-3", "deploy", "ssh refused")
	if ev.Level != "ERROR" || ev.Context.Intent != "deploy" {
		t.Errorf("event = %+v", ev)
	}

	ev = Generic("cycle_complete", "INFO", "USE-4", map[string]int{"cycle": 3})
	if !strings.Contains(ev.Outcomes.Observations, `"cycle":3`) {
		t.Errorf("observations = %q", ev.Outcomes.Observations)
	}
	if ev.Context == nil || ev.Context.TaskID != "USE-4" {
		t.Errorf("context = %+v", ev.Context)
	}
	if Generic("tick", "INFO", "", nil).Context != nil {
		t.Error("empty task id should leave context nil")
	}
}

func TestDayPartitioning(t *testing.T) {
	home := t.TempDir()
	log, err := NewLog(home)
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	defer log.Close()

	now := time.Date(2026, 1, 15, 23, 59, 0, 0, time.UTC)
	log.WithClock(func() time.Time { return now })

	if err := log.Append(Event{EventType: "tick"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := log.Append(Event{EventType: "tick"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	day1, _ := log.Read("2026-01-15")
	day2, _ := log.Read("2026-01-16")
	if len(day1) != 1 || len(day2) != 1 {
		t.Errorf("day1 = %d events, day2 = %d events", len(day1), len(day2))
	}
}
