// Package agent is the outer loop: tick selects work, the engine reasons,
// and this package owns every commit (task state, cycle log, budgets).
package agent

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"tooey/internal/assembler"
	"tooey/internal/beliefs"
	"tooey/internal/budget"
	"tooey/internal/config"
	"tooey/internal/curiosity"
	"tooey/internal/cyclelog"
	"tooey/internal/engine"
	"tooey/internal/events"
	"tooey/internal/executor"
	"tooey/internal/llm"
	"tooey/internal/maintenance"
	"tooey/internal/metrics"
	"tooey/internal/reflection"
	"tooey/internal/shared/logging"
	"tooey/internal/skills"
	"tooey/internal/task"
)

// Services holds every constructed collaborator. Built once at startup and
// passed through the loop; nothing here is global.
type Services struct {
	Config      *config.Config
	LLM         llm.Client
	Events      *events.Log
	Executor    *executor.Executor
	Tasks       *task.Store
	Cycles      *cyclelog.Log
	Budgets     *budget.Ledger
	Stuck       *reflection.StuckDetector
	Curiosity   *curiosity.Admitter
	Context     *assembler.Assembler
	Engine      *engine.Engine
	Metrics     *metrics.Registry
	Skills      *skills.Manager
	Beliefs     *beliefs.Manager
	Maintenance *maintenance.Manager
}

// TickResult is what one tick reports back to the caller.
type TickResult struct {
	Success               bool   `json:"success"`
	TaskProcessed         string `json:"task_processed,omitempty"`
	Message               string `json:"message"`
	CyclesRun             int    `json:"cycles_run"`
	Decision              string `json:"decision,omitempty"`
	CuriosityTasksCreated int    `json:"curiosity_tasks_created"`
}

// Agent runs ticks against a Services record.
type Agent struct {
	svc        *Services
	logger     logging.Logger
	cycleSleep time.Duration
}

// New wires an agent over the given services.
func New(svc *Services) *Agent {
	return &Agent{
		svc:        svc,
		logger:     logging.NewComponentLogger("agent"),
		cycleSleep: 500 * time.Millisecond,
	}
}

// WithCycleSleep overrides the inter-cycle delay. Tests only.
func (a *Agent) WithCycleSleep(d time.Duration) *Agent {
	a.cycleSleep = d
	return a
}

// Tick runs one iteration: preflight, select work, cycle until a terminal
// decision or a budget/stuck verdict.
func (a *Agent) Tick(ctx context.Context) TickResult {
	a.logger.Info("starting tick")
	if a.svc.Metrics != nil {
		a.svc.Metrics.TicksTotal.Inc()
	}

	if ok, problems := a.Preflight(); !ok {
		for _, p := range problems {
			a.logger.Error("preflight: %s", p)
		}
		return TickResult{Success: false, Message: "Pre-flight checks failed"}
	}

	a.svc.Budgets.Load()

	active, err := a.svc.Tasks.Active()
	if err != nil {
		return TickResult{Success: false, Message: fmt.Sprintf("Cannot read active task: %v", err)}
	}
	if active == nil {
		pending, err := a.svc.Tasks.Pending()
		if err != nil {
			return TickResult{Success: false, Message: fmt.Sprintf("Cannot read inbox: %v", err)}
		}
		if len(pending) > 0 {
			next := pending[0]
			if err := a.svc.Tasks.Activate(next); err != nil {
				return TickResult{Success: false, Message: fmt.Sprintf("Cannot activate task: %v", err)}
			}
			a.svc.Budgets.ResetForTask()
			if err := a.svc.Events.Append(events.TaskUpdate(next.TaskID, "activated", "Task moved to active")); err != nil {
				return TickResult{Success: false, Message: fmt.Sprintf("Event log write failed: %v", err)}
			}
			active = &next
		}
	}
	if active == nil {
		a.logger.Info("no pending tasks")
		return TickResult{Success: true, Message: "No pending tasks"}
	}

	return a.runCycles(ctx, *active)
}

func (a *Agent) runCycles(ctx context.Context, t task.Task) TickResult {
	a.logger.Info("starting cycles for task %s", t.TaskID)

	history, err := a.svc.Cycles.Load(t.TaskID)
	if err != nil {
		return TickResult{Success: false, Message: fmt.Sprintf("Cannot load cycle history: %v", err)}
	}
	cyclesRun := 0
	curiosityCreated := 0

	for {
		if ctx.Err() != nil {
			// Shutdown at a cycle boundary: the task stays active.
			return TickResult{
				Success:       true,
				TaskProcessed: t.TaskID,
				Message:       "Shutdown requested",
				CyclesRun:     cyclesRun,
			}
		}

		// Numbered off the committed log so ids stay dense: a discarded
		// cycle never consumes a number.
		cycleNum := len(history) + 1
		cyclesRun++
		a.logger.Info("cycle %d for task %s", cycleNum, t.TaskID)

		if ok, reason := a.svc.Budgets.CanContinue(); !ok {
			a.logger.Warn("budget exceeded: %s", reason)
			return a.pauseExceeded(t, reason, cyclesRun, "budget_exceeded", curiosityCreated)
		}
		if stuck, reason := a.svc.Stuck.IsStuck(history); stuck {
			a.logger.Warn("agent stuck: %s", reason)
			return a.pauseStuck(t, reason, cyclesRun, curiosityCreated)
		}

		view := a.budgetView()
		result, err := a.svc.Engine.RunCycle(ctx, t, cycleNum, history, view)
		if err != nil {
			// Model transport failure: the cycle is discarded, the loop
			// continues, and the failure counts toward the budget.
			a.logger.Error("cycle %d failed: %v", cycleNum, err)
			if a.svc.Metrics != nil {
				a.svc.Metrics.LLMCallFailures.Inc()
			}
			a.svc.Budgets.Record(false, true)
			if err := a.svc.Budgets.Save(); err != nil {
				return TickResult{Success: false, Message: fmt.Sprintf("Budget save failed: %v", err)}
			}
			continue
		}

		// Two-file commit: stage the counter write, append the cycle, then
		// publish the stage. A failed append discards the stage, so the
		// cycle never lands in only one of the two files.
		a.svc.Budgets.Record(result.MadeProgress, result.HadFailure)
		staged, err := a.svc.Budgets.Stage()
		if err != nil {
			return TickResult{Success: false, Message: fmt.Sprintf("Budget save failed: %v", err)}
		}
		if err := a.svc.Cycles.Append(result.State); err != nil {
			staged.Discard()
			return TickResult{Success: false, Message: fmt.Sprintf("Cycle log write failed: %v", err)}
		}
		history = append(history, result.State)
		if err := staged.Commit(); err != nil {
			return TickResult{Success: false, Message: fmt.Sprintf("Budget save failed: %v", err)}
		}

		if err := a.svc.Events.Append(events.Generic("cycle_complete", "INFO", t.TaskID, map[string]any{
			"task_id":  t.TaskID,
			"cycle_id": cycleNum,
			"decision": string(result.Decision),
			"progress": result.MadeProgress,
		})); err != nil {
			return TickResult{Success: false, Message: fmt.Sprintf("Event log write failed: %v", err)}
		}
		if a.svc.Metrics != nil {
			a.svc.Metrics.CyclesTotal.WithLabelValues(string(result.Decision)).Inc()
		}

		if len(result.ProposedTasks) > 0 && a.svc.Curiosity != nil {
			created := a.svc.Curiosity.Process(result.ProposedTasks, t.TaskID, t.CuriosityDepth)
			curiosityCreated += len(created)
			if a.svc.Metrics != nil {
				a.svc.Metrics.CuriosityTotal.WithLabelValues("admitted").Add(float64(len(created)))
				a.svc.Metrics.CuriosityTotal.WithLabelValues("rejected").Add(float64(len(result.ProposedTasks) - len(created)))
			}
			if len(created) > 0 {
				if err := a.svc.Budgets.Save(); err != nil {
					return TickResult{Success: false, Message: fmt.Sprintf("Budget save failed: %v", err)}
				}
			}
		}

		switch result.Decision {
		case engine.DecisionComplete:
			return a.completeTask(ctx, t, result, cyclesRun, curiosityCreated)
		case engine.DecisionBlocked:
			return a.blockTask(t, result, cyclesRun, curiosityCreated)
		case engine.DecisionAskUser:
			return a.pauseForUser(t, result, cyclesRun, curiosityCreated)
		case engine.DecisionBudgetExceeded:
			return a.pauseExceeded(t, "Budget exceeded", cyclesRun, "budget_exceeded", curiosityCreated)
		}

		select {
		case <-ctx.Done():
		case <-time.After(a.cycleSleep):
		}
	}
}

func (a *Agent) budgetView() engine.BudgetView {
	c, lim := a.svc.Budgets.Counters, a.svc.Budgets.Limits
	return engine.BudgetView{
		CyclesUsed:    c.Iterations,
		MaxCycles:     lim.MaxIterationsPerTask,
		Failures:      c.ConsecutiveFailures,
		MaxFailures:   lim.MaxConsecutiveFailures,
		NoProgress:    c.ActionsWithoutProgress,
		MaxNoProgress: lim.MaxActionsWithoutProgress,
	}
}

func (a *Agent) completeTask(ctx context.Context, t task.Task, result *engine.CycleResult, cyclesRun, curiosityCreated int) TickResult {
	summary := result.Summary
	if summary == "" {
		summary = "Task completed"
	}

	history, _ := a.svc.Cycles.Load(t.TaskID)
	var approachLines []string
	var artifacts []string
	recent := history
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	for _, cycle := range recent {
		if cycle.Action != nil {
			approachLines = append(approachLines, fmt.Sprintf("- Cycle %d: %s", cycle.CycleID, cycle.Action.Type))
		}
	}
	for _, cycle := range history {
		if cycle.Observation != nil {
			artifacts = append(artifacts, cycle.Observation.FilesModified...)
		}
	}
	approach := "Single cycle completion"
	if len(approachLines) > 0 {
		approach = joinLines(approachLines)
	}
	learnings := fmt.Sprintf("Completed in %d cycles. Created %d curiosity tasks.", cyclesRun, curiosityCreated)

	if err := a.svc.Tasks.Complete(t, summary, approach, artifacts, learnings); err != nil {
		return TickResult{Success: false, Message: fmt.Sprintf("Cannot complete task: %v", err)}
	}
	if err := a.svc.Events.Append(events.TaskUpdate(t.TaskID, "completed", summary)); err != nil {
		return TickResult{Success: false, Message: fmt.Sprintf("Event log write failed: %v", err)}
	}
	if a.svc.Metrics != nil {
		a.svc.Metrics.TasksCompleted.Inc()
	}
	if a.svc.Beliefs != nil {
		extracted := a.svc.Beliefs.ExtractFromOutcome(ctx, a.svc.LLM, t.TaskID, t.Description, summary, true)
		if len(extracted) > 0 {
			a.logger.Info("extracted %d beliefs from task %s", len(extracted), t.TaskID)
		}
	}
	return TickResult{
		Success:               true,
		TaskProcessed:         t.TaskID,
		Message:               "Completed: " + summary,
		CyclesRun:             cyclesRun,
		Decision:              "complete",
		CuriosityTasksCreated: curiosityCreated,
	}
}

func (a *Agent) blockTask(t task.Task, result *engine.CycleResult, cyclesRun, curiosityCreated int) TickResult {
	reason := result.Summary
	if reason == "" {
		reason = "Task blocked"
	}
	if err := a.svc.Tasks.Block(t, reason); err != nil {
		return TickResult{Success: false, Message: fmt.Sprintf("Cannot block task: %v", err)}
	}
	if err := a.svc.Events.Append(events.TaskUpdate(t.TaskID, "blocked", reason)); err != nil {
		return TickResult{Success: false, Message: fmt.Sprintf("Event log write failed: %v", err)}
	}
	if a.svc.Metrics != nil {
		a.svc.Metrics.TasksBlocked.Inc()
	}
	return TickResult{
		Success:               true,
		TaskProcessed:         t.TaskID,
		Message:               "Blocked: " + reason,
		CyclesRun:             cyclesRun,
		Decision:              "blocked",
		CuriosityTasksCreated: curiosityCreated,
	}
}

func (a *Agent) pauseForUser(t task.Task, result *engine.CycleResult, cyclesRun, curiosityCreated int) TickResult {
	reason := result.Summary
	if reason == "" {
		reason = "Needs user clarification"
	}
	if err := a.svc.Tasks.Pause(t, reason); err != nil {
		return TickResult{Success: false, Message: fmt.Sprintf("Cannot pause task: %v", err)}
	}
	if err := a.svc.Events.Append(events.TaskUpdate(t.TaskID, "paused", reason)); err != nil {
		return TickResult{Success: false, Message: fmt.Sprintf("Event log write failed: %v", err)}
	}
	if a.svc.Metrics != nil {
		a.svc.Metrics.TasksPaused.Inc()
	}
	return TickResult{
		Success:               true,
		TaskProcessed:         t.TaskID,
		Message:               "Paused for user: " + reason,
		CyclesRun:             cyclesRun,
		Decision:              "ask_user",
		CuriosityTasksCreated: curiosityCreated,
	}
}

func (a *Agent) pauseExceeded(t task.Task, reason string, cyclesRun int, decision string, curiosityCreated int) TickResult {
	full := "Budget exceeded: " + reason
	if err := a.svc.Tasks.Pause(t, full); err != nil {
		return TickResult{Success: false, Message: fmt.Sprintf("Cannot pause task: %v", err)}
	}
	if err := a.svc.Events.Append(events.TaskUpdate(t.TaskID, "paused", full)); err != nil {
		return TickResult{Success: false, Message: fmt.Sprintf("Event log write failed: %v", err)}
	}
	if err := a.svc.Events.Append(events.Generic("budget_exceeded", "WARNING", t.TaskID, map[string]any{
		"task_id": t.TaskID,
		"reason":  reason,
	})); err != nil {
		return TickResult{Success: false, Message: fmt.Sprintf("Event log write failed: %v", err)}
	}
	if a.svc.Metrics != nil {
		a.svc.Metrics.TasksPaused.Inc()
	}
	return TickResult{
		Success:               true,
		TaskProcessed:         t.TaskID,
		Message:               full,
		CyclesRun:             cyclesRun,
		Decision:              decision,
		CuriosityTasksCreated: curiosityCreated,
	}
}

func (a *Agent) pauseStuck(t task.Task, reason string, cyclesRun, curiosityCreated int) TickResult {
	full := "Agent stuck: " + reason
	if err := a.svc.Tasks.Pause(t, full); err != nil {
		return TickResult{Success: false, Message: fmt.Sprintf("Cannot pause task: %v", err)}
	}
	if err := a.svc.Events.Append(events.TaskUpdate(t.TaskID, "paused", full)); err != nil {
		return TickResult{Success: false, Message: fmt.Sprintf("Event log write failed: %v", err)}
	}
	if err := a.svc.Events.Append(events.Generic("stuck_detected", "WARNING", t.TaskID, map[string]any{
		"task_id": t.TaskID,
		"reason":  reason,
	})); err != nil {
		return TickResult{Success: false, Message: fmt.Sprintf("Event log write failed: %v", err)}
	}
	if a.svc.Metrics != nil {
		a.svc.Metrics.TasksPaused.Inc()
	}
	return TickResult{
		Success:               true,
		TaskProcessed:         t.TaskID,
		Message:               full,
		CyclesRun:             cyclesRun,
		Decision:              "stuck",
		CuriosityTasksCreated: curiosityCreated,
	}
}

// Run ticks continuously. A processed task triggers an immediate re-tick;
// otherwise the loop sleeps interval. SIGINT and SIGTERM stop the loop at a
// cycle boundary.
func (a *Agent) Run(ctx context.Context, interval time.Duration) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.svc.Events.Append(events.Generic("startup", "INFO", "", nil)); err != nil {
		a.logger.Error("startup event failed: %v", err)
	}
	a.logger.Info("agent started in continuous mode")

	defer func() {
		if err := a.svc.Events.Append(events.Generic("shutdown", "INFO", "", nil)); err != nil {
			a.logger.Error("shutdown event failed: %v", err)
		}
		a.logger.Info("agent stopped")
	}()

	for ctx.Err() == nil {
		result := a.Tick(ctx)
		if result.TaskProcessed != "" {
			continue
		}
		a.logger.Debug("idle, sleeping for %s", interval)
		select {
		case <-ctx.Done():
		case <-time.After(interval):
		}
	}
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
