// Package budget enforces hard limits on agent behavior. Limits are
// enforced by the runtime, not the model: exceeding one forces a pause,
// never a silent continue.
package budget

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tooey/internal/config"
	"tooey/internal/shared/jsonx"
	"tooey/internal/shared/logging"
)

// Limits are the configured hard constraints.
type Limits struct {
	MaxIterationsPerTask      int
	MaxConsecutiveFailures    int
	MaxActionsWithoutProgress int
	MaxActiveTasks            int
	MaxPendingTasks           int
	MaxTaskDurationMinutes    int
	MaxCuriosityTasksPerDay   int
	MaxCuriosityDepth         int
	MinCuriosityValue         float64
	CuriosityEnabled          bool
}

// LimitsFromConfig maps the budgets and curiosity config sections.
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		MaxIterationsPerTask:      cfg.Budgets.MaxIterationsPerTask,
		MaxConsecutiveFailures:    cfg.Budgets.MaxConsecutiveFailures,
		MaxActionsWithoutProgress: cfg.Budgets.MaxActionsWithoutProgress,
		MaxActiveTasks:            cfg.Budgets.MaxActiveTasks,
		MaxPendingTasks:           cfg.Budgets.MaxPendingTasks,
		MaxTaskDurationMinutes:    cfg.Budgets.MaxTaskDurationMinutes,
		MaxCuriosityTasksPerDay:   cfg.Curiosity.MaxTasksPerDay,
		MaxCuriosityDepth:         cfg.Curiosity.MaxDepth,
		MinCuriosityValue:         cfg.Curiosity.MinValueThreshold,
		CuriosityEnabled:          cfg.Curiosity.Enabled,
	}
}

// Counters are the runtime tracking values, persisted after each cycle.
type Counters struct {
	Iterations             int        `json:"task_iterations"`
	ConsecutiveFailures    int        `json:"task_failures"`
	ActionsWithoutProgress int        `json:"actions_without_progress"`
	CuriosityTasksToday    int        `json:"curiosity_tasks_today"`
	CuriosityDate          string     `json:"curiosity_tasks_date,omitempty"`
	TaskStartedAt          *time.Time `json:"task_started_at,omitempty"`
}

// Ledger tracks counters against limits and persists them under
// runtime/budgets.json.
type Ledger struct {
	Limits   Limits
	Counters Counters
	path     string
	logger   logging.Logger
	now      func() time.Time
}

// NewLedger creates the runtime directory if missing.
func NewLedger(limits Limits, agentHome string) (*Ledger, error) {
	path := filepath.Join(agentHome, "runtime", "budgets.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}
	return &Ledger{
		Limits: limits,
		path:   path,
		logger: logging.NewComponentLogger("budgets"),
		now:    time.Now,
	}, nil
}

// WithClock overrides the ledger's clock. Tests only.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// ResetForTask zeroes the per-task counters and stamps the start time.
func (l *Ledger) ResetForTask() {
	now := l.now()
	l.Counters.Iterations = 0
	l.Counters.ConsecutiveFailures = 0
	l.Counters.ActionsWithoutProgress = 0
	l.Counters.TaskStartedAt = &now
}

// Record accounts for one completed iteration.
func (l *Ledger) Record(madeProgress, hadFailure bool) {
	l.Counters.Iterations++
	if hadFailure {
		l.Counters.ConsecutiveFailures++
	} else {
		l.Counters.ConsecutiveFailures = 0
	}
	if madeProgress {
		l.Counters.ActionsWithoutProgress = 0
	} else {
		l.Counters.ActionsWithoutProgress++
	}
}

// CanContinue reports whether another cycle is allowed, with the reason
// when it is not.
func (l *Ledger) CanContinue() (bool, string) {
	c, lim := l.Counters, l.Limits
	if c.Iterations >= lim.MaxIterationsPerTask {
		return false, fmt.Sprintf("Reached maximum iterations (%d) for this task", lim.MaxIterationsPerTask)
	}
	if c.ConsecutiveFailures >= lim.MaxConsecutiveFailures {
		return false, fmt.Sprintf("Too many consecutive failures (%d)", c.ConsecutiveFailures)
	}
	if c.ActionsWithoutProgress >= lim.MaxActionsWithoutProgress {
		return false, fmt.Sprintf("No progress for %d consecutive actions", c.ActionsWithoutProgress)
	}
	if c.TaskStartedAt != nil {
		elapsed := l.now().Sub(*c.TaskStartedAt)
		if elapsed.Minutes() > float64(lim.MaxTaskDurationMinutes) {
			return false, fmt.Sprintf("Task exceeded time limit (%d minutes)", lim.MaxTaskDurationMinutes)
		}
	}
	return true, ""
}

// CanCreateTask enforces the global queue caps.
func (l *Ledger) CanCreateTask(pendingN, activeN int) (bool, string) {
	if pendingN >= l.Limits.MaxPendingTasks {
		return false, fmt.Sprintf("Too many pending tasks (%d/%d)", pendingN, l.Limits.MaxPendingTasks)
	}
	if activeN >= l.Limits.MaxActiveTasks {
		return false, fmt.Sprintf("Too many active tasks (%d/%d)", activeN, l.Limits.MaxActiveTasks)
	}
	return true, ""
}

// CanCreateCuriosity checks the disable flag, depth budget, and day budget
// for a would-be child at the given depth.
func (l *Ledger) CanCreateCuriosity(depth int) (bool, string) {
	if !l.Limits.CuriosityEnabled {
		return false, "Curiosity is disabled"
	}
	if depth >= l.Limits.MaxCuriosityDepth {
		return false, fmt.Sprintf("Curiosity depth limit reached (%d/%d)", depth, l.Limits.MaxCuriosityDepth)
	}
	today := l.today()
	if l.Counters.CuriosityDate == today && l.Counters.CuriosityTasksToday >= l.Limits.MaxCuriosityTasksPerDay {
		return false, fmt.Sprintf("Daily curiosity budget exhausted (%d/%d)", l.Counters.CuriosityTasksToday, l.Limits.MaxCuriosityTasksPerDay)
	}
	return true, ""
}

// RecordCuriosity rolls the day counter if the date changed, then counts one.
func (l *Ledger) RecordCuriosity() {
	today := l.today()
	if l.Counters.CuriosityDate != today {
		l.Counters.CuriosityDate = today
		l.Counters.CuriosityTasksToday = 0
	}
	l.Counters.CuriosityTasksToday++
}

func (l *Ledger) today() string {
	return l.now().Format("2006-01-02")
}

type persisted struct {
	Timestamp string `json:"timestamp"`
	Budgets   struct {
		Current Counters `json:"current"`
	} `json:"budgets"`
}

// Staged is a counter snapshot written to disk but not yet visible at
// runtime/budgets.json. Commit publishes it; Discard drops it.
type Staged struct {
	tmp  string
	path string
}

// Stage writes the current counters to a temp file in the runtime dir
// without touching budgets.json. The caller commits after its other
// writes for the cycle have landed.
func (l *Ledger) Stage() (*Staged, error) {
	var state persisted
	state.Timestamp = l.now().Format(time.RFC3339)
	state.Budgets.Current = l.Counters
	data, err := jsonx.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal budget state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".budgets-*")
	if err != nil {
		return nil, fmt.Errorf("write budget state: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write budget state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write budget state: %w", err)
	}
	return &Staged{tmp: tmp.Name(), path: l.path}, nil
}

// Commit renames the staged snapshot over budgets.json.
func (s *Staged) Commit() error {
	return os.Rename(s.tmp, s.path)
}

// Discard removes the staged snapshot.
func (s *Staged) Discard() {
	os.Remove(s.tmp)
}

// Save persists counters via temp file and rename.
func (l *Ledger) Save() error {
	staged, err := l.Stage()
	if err != nil {
		return err
	}
	return staged.Commit()
}

// Load restores persisted counters. Absence or corruption is non-fatal:
// counting restarts from zero with a warning.
func (l *Ledger) Load() {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		l.logger.Warn("could not read budget state: %v", err)
		return
	}
	var state persisted
	if err := jsonx.Unmarshal(data, &state); err != nil {
		l.logger.Warn("could not load budget state: %v", err)
		return
	}
	l.Counters = state.Budgets.Current
	l.logger.Info("loaded budget state: iterations=%d failures=%d no_progress=%d",
		l.Counters.Iterations, l.Counters.ConsecutiveFailures, l.Counters.ActionsWithoutProgress)
}

// Status is the human-readable counter summary reported by the CLI and the
// web facade.
type Status struct {
	Iterations     string `json:"iterations"`
	Failures       string `json:"consecutive_failures"`
	NoProgress     string `json:"actions_without_progress"`
	CuriosityToday string `json:"curiosity_today"`
	TaskRuntime    string `json:"task_runtime,omitempty"`
}

// Status snapshots the counters against their limits.
func (l *Ledger) Status() Status {
	s := Status{
		Iterations:     fmt.Sprintf("%d/%d", l.Counters.Iterations, l.Limits.MaxIterationsPerTask),
		Failures:       fmt.Sprintf("%d/%d", l.Counters.ConsecutiveFailures, l.Limits.MaxConsecutiveFailures),
		NoProgress:     fmt.Sprintf("%d/%d", l.Counters.ActionsWithoutProgress, l.Limits.MaxActionsWithoutProgress),
		CuriosityToday: fmt.Sprintf("%d/%d", l.Counters.CuriosityTasksToday, l.Limits.MaxCuriosityTasksPerDay),
	}
	if l.Counters.TaskStartedAt != nil {
		s.TaskRuntime = l.now().Sub(*l.Counters.TaskStartedAt).Round(time.Second).String()
	}
	return s
}
