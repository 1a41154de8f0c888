package budget

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLimits() Limits {
	return Limits{
		MaxIterationsPerTask:      3,
		MaxConsecutiveFailures:    3,
		MaxActionsWithoutProgress: 5,
		MaxActiveTasks:            10,
		MaxPendingTasks:           50,
		MaxTaskDurationMinutes:    30,
		MaxCuriosityTasksPerDay:   2,
		MaxCuriosityDepth:         2,
		MinCuriosityValue:         0.6,
		CuriosityEnabled:          true,
	}
}

func newTestLedger(t *testing.T, limits Limits) *Ledger {
	t.Helper()
	ledger, err := NewLedger(limits, t.TempDir())
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	return ledger
}

func TestCanContinueIterationLimit(t *testing.T) {
	ledger := newTestLedger(t, testLimits())
	ledger.ResetForTask()

	for i := 0; i < 3; i++ {
		if ok, reason := ledger.CanContinue(); !ok {
			t.Fatalf("blocked early at %d: %s", i, reason)
		}
		ledger.Record(true, false)
	}
	ok, reason := ledger.CanContinue()
	if ok {
		t.Fatal("expected iteration limit")
	}
	if reason != "Reached maximum iterations (3) for this task" {
		t.Errorf("reason = %q", reason)
	}
}

func TestCanContinueFailureLimit(t *testing.T) {
	ledger := newTestLedger(t, Limits{
		MaxIterationsPerTask:      20,
		MaxConsecutiveFailures:    3,
		MaxActionsWithoutProgress: 10,
		MaxTaskDurationMinutes:    30,
	})
	ledger.ResetForTask()

	for i := 0; i < 3; i++ {
		ledger.Record(false, true)
	}
	ok, reason := ledger.CanContinue()
	if ok {
		t.Fatal("expected failure limit")
	}
	if reason != "Too many consecutive failures (3)" {
		t.Errorf("reason = %q", reason)
	}
}

func TestCanContinueNoProgressLimit(t *testing.T) {
	ledger := newTestLedger(t, Limits{
		MaxIterationsPerTask:      20,
		MaxConsecutiveFailures:    20,
		MaxActionsWithoutProgress: 5,
		MaxTaskDurationMinutes:    30,
	})
	ledger.ResetForTask()

	// Successful cycles that never advance the task.
	for i := 0; i < 5; i++ {
		ledger.Record(false, false)
	}
	ok, reason := ledger.CanContinue()
	if ok {
		t.Fatal("expected no-progress limit")
	}
	if reason != "No progress for 5 consecutive actions" {
		t.Errorf("reason = %q", reason)
	}
}

func TestCanContinueTimeLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	ledger := newTestLedger(t, testLimits()).WithClock(func() time.Time { return now })
	ledger.ResetForTask()

	now = now.Add(31 * time.Minute)
	ok, reason := ledger.CanContinue()
	if ok {
		t.Fatal("expected time limit")
	}
	if reason != "Task exceeded time limit (30 minutes)" {
		t.Errorf("reason = %q", reason)
	}
}

func TestRecordResets(t *testing.T) {
	ledger := newTestLedger(t, testLimits())
	ledger.ResetForTask()

	ledger.Record(false, true)
	ledger.Record(false, true)
	if ledger.Counters.ConsecutiveFailures != 2 {
		t.Errorf("failures = %d", ledger.Counters.ConsecutiveFailures)
	}
	ledger.Record(true, false)
	if ledger.Counters.ConsecutiveFailures != 0 {
		t.Error("a clean cycle should reset the failure streak")
	}
	if ledger.Counters.ActionsWithoutProgress != 0 {
		t.Error("progress should reset the no-progress streak")
	}
	if ledger.Counters.Iterations != 3 {
		t.Errorf("iterations = %d", ledger.Counters.Iterations)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	home := t.TempDir()
	ledger, err := NewLedger(testLimits(), home)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	ledger.ResetForTask()
	ledger.Record(false, true)
	ledger.Record(false, true)
	if err := ledger.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored, err := NewLedger(testLimits(), home)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	restored.Load()
	if restored.Counters.Iterations != 2 {
		t.Errorf("iterations = %d", restored.Counters.Iterations)
	}
	if restored.Counters.ConsecutiveFailures != 2 {
		t.Errorf("failures = %d", restored.Counters.ConsecutiveFailures)
	}
	if restored.Counters.TaskStartedAt == nil {
		t.Error("task start time should survive the round trip")
	}
}

func TestLoadMissingOrCorrupt(t *testing.T) {
	ledger := newTestLedger(t, testLimits())
	ledger.Load() // absent file: counters stay zero
	if ledger.Counters.Iterations != 0 {
		t.Errorf("iterations = %d", ledger.Counters.Iterations)
	}
}

func TestCanCreateTaskCaps(t *testing.T) {
	ledger := newTestLedger(t, testLimits())

	if ok, _ := ledger.CanCreateTask(49, 0); !ok {
		t.Error("under the cap should pass")
	}
	ok, reason := ledger.CanCreateTask(50, 0)
	if ok {
		t.Fatal("expected pending cap")
	}
	if reason != "Too many pending tasks (50/50)" {
		t.Errorf("reason = %q", reason)
	}
	ok, reason = ledger.CanCreateTask(0, 10)
	if ok {
		t.Fatal("expected active cap")
	}
	if reason != "Too many active tasks (10/10)" {
		t.Errorf("reason = %q", reason)
	}
}

func TestCuriosityBudgets(t *testing.T) {
	limits := testLimits()
	limits.CuriosityEnabled = false
	ledger := newTestLedger(t, limits)
	if ok, reason := ledger.CanCreateCuriosity(1); ok || reason != "Curiosity is disabled" {
		t.Errorf("disabled: ok=%t reason=%q", ok, reason)
	}

	ledger = newTestLedger(t, testLimits())
	if ok, reason := ledger.CanCreateCuriosity(2); ok || reason != "Curiosity depth limit reached (2/2)" {
		t.Errorf("depth: ok=%t reason=%q", ok, reason)
	}

	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	ledger = newTestLedger(t, testLimits()).WithClock(func() time.Time { return now })
	ledger.RecordCuriosity()
	ledger.RecordCuriosity()
	ok, reason := ledger.CanCreateCuriosity(1)
	if ok {
		t.Fatal("expected daily budget")
	}
	if reason != "Daily curiosity budget exhausted (2/2)" {
		t.Errorf("reason = %q", reason)
	}

	// A new day resets the budget.
	now = now.Add(24 * time.Hour)
	if ok, reason := ledger.CanCreateCuriosity(1); !ok {
		t.Errorf("new day should reset the budget: %s", reason)
	}
	ledger.RecordCuriosity()
	if ledger.Counters.CuriosityTasksToday != 1 {
		t.Errorf("today counter = %d", ledger.Counters.CuriosityTasksToday)
	}
}

func TestStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	ledger := newTestLedger(t, testLimits()).WithClock(func() time.Time { return now })
	ledger.ResetForTask()
	ledger.Record(true, false)
	now = now.Add(90 * time.Second)

	status := ledger.Status()
	if status.Iterations != "1/3" {
		t.Errorf("iterations = %q", status.Iterations)
	}
	if status.Failures != "0/3" {
		t.Errorf("failures = %q", status.Failures)
	}
	if status.TaskRuntime != "1m30s" {
		t.Errorf("runtime = %q", status.TaskRuntime)
	}
}

func TestStageCommitDiscard(t *testing.T) {
	home := t.TempDir()
	ledger, err := NewLedger(testLimits(), home)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	ledger.ResetForTask()
	ledger.Record(true, false)

	staged, err := ledger.Stage()
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if _, err := os.Stat(ledger.path); !os.IsNotExist(err) {
		t.Fatal("staged counters must not be visible before commit")
	}
	staged.Discard()
	if _, err := os.Stat(ledger.path); !os.IsNotExist(err) {
		t.Fatal("discarded stage must leave nothing at the ledger path")
	}
	leftovers, _ := filepath.Glob(filepath.Join(home, "runtime", ".budgets-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}

	staged, err = ledger.Stage()
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := staged.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reloaded, err := NewLedger(testLimits(), home)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	reloaded.Load()
	if reloaded.Counters.Iterations != 1 {
		t.Errorf("iterations = %d after commit", reloaded.Counters.Iterations)
	}
}
