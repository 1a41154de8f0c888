package curiosity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tooey/internal/budget"
	"tooey/internal/engine"
	"tooey/internal/reflection"
	"tooey/internal/task"
)

func testLimits() budget.Limits {
	return budget.Limits{
		MaxIterationsPerTask:      20,
		MaxConsecutiveFailures:    3,
		MaxActionsWithoutProgress: 5,
		MaxActiveTasks:            10,
		MaxPendingTasks:           50,
		MaxTaskDurationMinutes:    30,
		MaxCuriosityTasksPerDay:   5,
		MaxCuriosityDepth:         2,
		MinCuriosityValue:         0.6,
		CuriosityEnabled:          true,
	}
}

func newTestAdmitter(t *testing.T, limits budget.Limits) (*Admitter, *task.Store, string) {
	t.Helper()
	home := t.TempDir()

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	store, err := task.NewStore(home)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	store.WithClock(tick)

	ledger, err := budget.NewLedger(limits, home)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}

	filter := reflection.NewCuriosityFilter(limits.MinCuriosityValue, 2)
	return New(store, ledger, filter, home), store, home
}

func proposal(desc, category string, value float64) engine.CuriosityProposal {
	return engine.CuriosityProposal{
		Description:    desc,
		Justification:  "this came up repeatedly while working the parent task",
		Priority:       "low",
		EstimatedValue: value,
		Category:       category,
	}
}

func readAuditLog(t *testing.T, home string) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(home, "logs", "curiosity.jsonl"))
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	return string(raw)
}

func TestProcessAdmitsAndRejects(t *testing.T) {
	admitter, store, home := newTestAdmitter(t, testLimits())

	created := admitter.Process([]engine.CuriosityProposal{
		proposal("Verify the restore path actually restores data", "verification", 0.9),
		proposal("Document how the snapshot rotation is configured", "documentation", 0.7),
		proposal("Poke around the scratch directory for leftovers", "exploration", 0.4),
	}, "USE-1", 0)

	if len(created) != 2 {
		t.Fatalf("created = %d", len(created))
	}
	for _, child := range created {
		if !strings.HasPrefix(child.TaskID, "CUR-") {
			t.Errorf("child id = %q", child.TaskID)
		}
		if child.CuriosityDepth != 1 || child.ParentTaskID != "USE-1" {
			t.Errorf("child = %+v", child)
		}
	}

	pending, err := store.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending = %d", len(pending))
	}

	log := readAuditLog(t, home)
	if !strings.Contains(log, `"reason":"low_value"`) {
		t.Errorf("audit log missing rejection:\n%s", log)
	}
	if strings.Count(log, `"admitted":true`) != 2 {
		t.Errorf("audit log admissions wrong:\n%s", log)
	}
}

func TestProcessDailyBudgetExhausted(t *testing.T) {
	limits := testLimits()
	limits.MaxCuriosityTasksPerDay = 1
	admitter, _, home := newTestAdmitter(t, limits)

	created := admitter.Process([]engine.CuriosityProposal{
		proposal("Verify the restore path actually restores data", "verification", 0.9),
		proposal("Document how the snapshot rotation is configured", "documentation", 0.8),
	}, "USE-1", 0)

	if len(created) != 1 {
		t.Fatalf("created = %d", len(created))
	}
	if !strings.Contains(readAuditLog(t, home), ReasonDailyExhausted) {
		t.Error("second proposal should hit the daily budget")
	}
}

func TestProcessDepthLimit(t *testing.T) {
	admitter, _, home := newTestAdmitter(t, testLimits())

	created := admitter.Process([]engine.CuriosityProposal{
		proposal("Verify the restore path actually restores data", "verification", 0.9),
	}, "CUR-1", 1)

	if len(created) != 0 {
		t.Fatalf("created = %d", len(created))
	}
	if !strings.Contains(readAuditLog(t, home), ReasonDepthExceeded) {
		t.Error("expected depth rejection in the audit log")
	}
}

func TestProcessCuriosityDisabled(t *testing.T) {
	limits := testLimits()
	limits.CuriosityEnabled = false
	admitter, _, home := newTestAdmitter(t, limits)

	created := admitter.Process([]engine.CuriosityProposal{
		proposal("Verify the restore path actually restores data", "verification", 0.9),
	}, "USE-1", 0)

	if len(created) != 0 {
		t.Fatalf("created = %d", len(created))
	}
	if !strings.Contains(readAuditLog(t, home), ReasonCuriosityDisabled) {
		t.Error("expected disabled rejection in the audit log")
	}
}

func TestProcessQueueFull(t *testing.T) {
	limits := testLimits()
	limits.MaxPendingTasks = 1
	admitter, store, home := newTestAdmitter(t, limits)

	if _, err := store.Create("Existing pending work", task.OriginUser, task.CreateOptions{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	created := admitter.Process([]engine.CuriosityProposal{
		proposal("Verify the restore path actually restores data", "verification", 0.9),
	}, "USE-1", 0)

	if len(created) != 0 {
		t.Fatalf("created = %d", len(created))
	}
	if !strings.Contains(readAuditLog(t, home), ReasonQueueFull) {
		t.Error("expected queue-full rejection in the audit log")
	}
}

func TestProcessEmpty(t *testing.T) {
	admitter, _, _ := newTestAdmitter(t, testLimits())
	if created := admitter.Process(nil, "USE-1", 0); created != nil {
		t.Errorf("created = %v", created)
	}
}
