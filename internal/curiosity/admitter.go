// Package curiosity turns filtered proposals into inbox tasks under the
// day and depth budgets, and keeps an audit log of every verdict.
package curiosity

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tooey/internal/budget"
	"tooey/internal/engine"
	"tooey/internal/reflection"
	"tooey/internal/shared/jsonx"
	"tooey/internal/shared/logging"
	"tooey/internal/task"
)

// Budget reason codes, distinct from the filter's quality codes.
const (
	ReasonCuriosityDisabled = "curiosity_disabled"
	ReasonDepthExceeded     = "depth_exceeded"
	ReasonDailyExhausted    = "daily_budget_exhausted"
	ReasonQueueFull         = "queue_full"
)

// Record is one line of logs/curiosity.jsonl.
type Record struct {
	Timestamp      string  `json:"timestamp"`
	ParentTaskID   string  `json:"parent_task_id"`
	Description    string  `json:"description"`
	Category       string  `json:"category"`
	EstimatedValue float64 `json:"estimated_value"`
	Admitted       bool    `json:"admitted"`
	Reason         string  `json:"reason,omitempty"`
	TaskID         string  `json:"task_id,omitempty"`
}

// Admitter validates proposals and promotes the survivors into tasks.
type Admitter struct {
	mu      sync.Mutex
	store   *task.Store
	ledger  *budget.Ledger
	filter  *reflection.CuriosityFilter
	logPath string
	logger  logging.Logger
	now     func() time.Time
}

// New builds an admitter writing its audit trail under agentHome/logs.
func New(store *task.Store, ledger *budget.Ledger, filter *reflection.CuriosityFilter, agentHome string) *Admitter {
	return &Admitter{
		store:   store,
		ledger:  ledger,
		filter:  filter,
		logPath: filepath.Join(agentHome, "logs", "curiosity.jsonl"),
		logger:  logging.NewComponentLogger("curiosity"),
		now:     time.Now,
	}
}

// WithClock overrides the admitter's clock. Tests only.
func (a *Admitter) WithClock(now func() time.Time) *Admitter {
	a.now = now
	return a
}

// Process filters the proposals, then admits each survivor that passes the
// curiosity and queue budgets. Returns the created tasks; every verdict,
// admitted or not, lands in the audit log.
func (a *Admitter) Process(proposals []engine.CuriosityProposal, parentTaskID string, parentDepth int) []task.Task {
	if len(proposals) == 0 {
		return nil
	}

	pending, err := a.store.Pending()
	if err != nil {
		a.logger.Warn("could not read pending tasks: %v", err)
	}
	var existing []string
	for _, t := range pending {
		existing = append(existing, t.Description)
	}

	accepted, rejected := a.filter.Evaluate(proposals, existing)
	for _, rej := range rejected {
		a.record(Record{
			ParentTaskID:   parentTaskID,
			Description:    rej.Proposal.Description,
			Category:       rej.Proposal.Category,
			EstimatedValue: rej.Proposal.EstimatedValue,
			Reason:         string(rej.Reason),
		})
	}

	var created []task.Task
	childDepth := parentDepth + 1
	for _, p := range accepted {
		if ok, reason := a.ledger.CanCreateCuriosity(childDepth); !ok {
			a.record(Record{
				ParentTaskID:   parentTaskID,
				Description:    p.Description,
				Category:       p.Category,
				EstimatedValue: p.EstimatedValue,
				Reason:         budgetReasonCode(reason),
			})
			continue
		}

		activeN := 0
		if active, err := a.store.Active(); err == nil && active != nil {
			activeN = 1
		}
		if ok, _ := a.ledger.CanCreateTask(len(pending)+len(created), activeN); !ok {
			a.record(Record{
				ParentTaskID:   parentTaskID,
				Description:    p.Description,
				Category:       p.Category,
				EstimatedValue: p.EstimatedValue,
				Reason:         ReasonQueueFull,
			})
			continue
		}

		child, err := a.store.Create(p.Description, task.OriginCuriosity, task.CreateOptions{
			Priority:       p.Priority,
			ParentTaskID:   parentTaskID,
			Context:        p.Justification,
			CuriosityDepth: childDepth,
		})
		if err != nil {
			a.logger.Error("could not create curiosity task: %v", err)
			continue
		}
		a.ledger.RecordCuriosity()
		a.record(Record{
			ParentTaskID:   parentTaskID,
			Description:    p.Description,
			Category:       p.Category,
			EstimatedValue: p.EstimatedValue,
			Admitted:       true,
			TaskID:         child.TaskID,
		})
		created = append(created, *child)
	}
	return created
}

// budgetReasonCode maps the ledger's human-readable refusal to a stable code.
func budgetReasonCode(reason string) string {
	switch {
	case strings.Contains(reason, "disabled"):
		return ReasonCuriosityDisabled
	case strings.Contains(reason, "depth"):
		return ReasonDepthExceeded
	case strings.Contains(reason, "Daily"):
		return ReasonDailyExhausted
	default:
		return ReasonQueueFull
	}
}

func (a *Admitter) record(rec Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec.Timestamp = a.now().UTC().Format(time.RFC3339)
	line, err := jsonx.Marshal(rec)
	if err != nil {
		a.logger.Error("could not marshal curiosity record: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(a.logPath), 0o755); err != nil {
		a.logger.Error("could not create logs dir: %v", err)
		return
	}
	f, err := os.OpenFile(a.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		a.logger.Error("could not open curiosity log: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		a.logger.Error("could not append curiosity record: %v", err)
	}
}
