// Package engine drives one PLAN, ACT, OBSERVE, REFLECT, DECIDE pass for a
// task. The engine produces immutable data; all commits (history, budgets,
// task state) belong to the caller.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tooey/internal/executor"
	"tooey/internal/llm"
	"tooey/internal/shared/jsonx"
	"tooey/internal/shared/logging"
	"tooey/internal/task"
)

// Runner is the slice of the executor the engine dispatches commands to.
type Runner interface {
	ExecuteShell(ctx context.Context, script string, opts executor.Options) executor.Result
}

// BudgetView is a read-only snapshot of the ledger for the DECIDE prompt.
type BudgetView struct {
	CyclesUsed    int
	MaxCycles     int
	Failures      int
	MaxFailures   int
	NoProgress    int
	MaxNoProgress int
}

// Engine runs reasoning cycles against a model and an executor.
type Engine struct {
	client    llm.Client
	runner    Runner
	logger    logging.Logger
	now       func() time.Time
	contextFn func(taskSpec string) string
}

// New builds an engine over the given model client and command runner.
func New(client llm.Client, runner Runner) *Engine {
	return &Engine{
		client: client,
		runner: runner,
		logger: logging.NewComponentLogger("engine"),
		now:    time.Now,
	}
}

// WithClock overrides the engine's clock. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithContextProvider installs a function that wraps the raw task spec in
// assembled context (identity, memory, relevant skills) for the PLAN prompt.
func (e *Engine) WithContextProvider(fn func(taskSpec string) string) *Engine {
	e.contextFn = fn
	return e
}

// RunCycle executes one full cycle. A model transport error aborts the
// cycle and is returned; everything else is captured in the result.
func (e *Engine) RunCycle(ctx context.Context, t task.Task, cycleID int, history []CycleState, budgets BudgetView) (*CycleResult, error) {
	state := CycleState{
		CycleID:   cycleID,
		TaskID:    t.TaskID,
		Phase:     PhasePlan,
		Decision:  DecisionContinue,
		Timestamp: e.now().UTC(),
	}

	plan, planParsed, err := e.plan(ctx, t, cycleID, history, budgets.MaxCycles)
	if err != nil {
		return nil, err
	}
	state.Plan = &plan
	state.Action = &plan.NextAction

	// Terminal actions skip ACT/REFLECT/DECIDE.
	switch plan.NextAction.Type {
	case ActionCompleteTask:
		state.Decision = DecisionComplete
		return &CycleResult{
			State:        state,
			Decision:     DecisionComplete,
			Summary:      orDefault(plan.NextAction.Payload.Summary, "Task completed"),
			MadeProgress: true,
		}, nil
	case ActionBlockTask:
		state.Decision = DecisionBlocked
		return &CycleResult{
			State:    state,
			Decision: DecisionBlocked,
			Summary:  orDefault(plan.NextAction.Payload.Summary, "Task blocked"),
		}, nil
	case ActionAskUser:
		state.Decision = DecisionAskUser
		return &CycleResult{
			State:    state,
			Decision: DecisionAskUser,
			Summary:  orDefault(plan.NextAction.Payload.Question, "Need clarification"),
		}, nil
	}

	state.Phase = PhaseAct
	observation := e.act(ctx, t, plan.NextAction)
	state.Observation = &observation
	state.Phase = PhaseObserve

	state.Phase = PhaseReflect
	reflection, err := e.reflect(ctx, t, plan.NextAction, observation, history)
	if err != nil {
		return nil, err
	}
	state.Reflection = &reflection

	state.Phase = PhaseDecide
	decision, err := e.decide(ctx, reflection, budgets)
	if err != nil {
		return nil, err
	}
	state.Decision = decision

	madeProgress := reflection.ProgressMade && planParsed
	hadFailure := !observation.Success || !planParsed
	return &CycleResult{
		State:         state,
		Decision:      decision,
		ProposedTasks: reflection.ProposedTasks,
		Summary:       reflection.WhatLearned,
		MadeProgress:  madeProgress,
		HadFailure:    hadFailure,
	}, nil
}

func (e *Engine) plan(ctx context.Context, t task.Task, cycleID int, history []CycleState, maxCycles int) (Plan, bool, error) {
	var spec strings.Builder
	fmt.Fprintf(&spec, "Task ID: %s\nPriority: %s\nDescription: %s\n\nSuccess Criteria:\n", t.TaskID, t.Priority, t.Description)
	if len(t.SuccessCriteria) == 0 {
		spec.WriteString("- Complete the task successfully\n")
	} else {
		for _, c := range t.SuccessCriteria {
			fmt.Fprintf(&spec, "- %s\n", c)
		}
	}

	taskSpec := spec.String()
	if e.contextFn != nil {
		taskSpec = e.contextFn(taskSpec)
	}

	prompt := fmt.Sprintf(planPrompt,
		taskSpec,
		taskContextSection(t, "Additional Context / User Replies"),
		historySummary(history),
		cycleID,
		maxCycles,
	)

	resp, err := e.client.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return Plan{}, false, fmt.Errorf("plan phase: %w", err)
	}
	plan, parsed := parsePlan(resp.Content)
	if !parsed {
		e.logger.Warn("plan response was not valid JSON, using fallback (task=%s cycle=%d)", t.TaskID, cycleID)
	}
	return plan, parsed, nil
}

func (e *Engine) act(ctx context.Context, t task.Task, action Action) Observation {
	start := e.now()
	elapsed := func() int64 { return time.Since(start).Milliseconds() }

	switch action.Type {
	case ActionExecuteCommand:
		command := orDefault(action.Payload.Command, "echo 'No command'")
		res := e.runner.ExecuteShell(ctx, command, executor.Options{TaskID: t.TaskID})
		obs := Observation{
			Success:    res.ExitCode == 0,
			Output:     res.Stdout,
			DurationMS: res.DurationMS,
		}
		if res.ExitCode != 0 {
			obs.Error = res.Stderr
		}
		return obs

	case ActionReadFile:
		content, err := os.ReadFile(action.Payload.Path)
		if err != nil {
			return Observation{
				Error:      fmt.Sprintf("File not found: %s", action.Payload.Path),
				DurationMS: elapsed(),
			}
		}
		if len(content) > 5000 {
			content = content[:5000]
		}
		return Observation{Success: true, Output: string(content), DurationMS: elapsed()}

	case ActionWriteFile:
		path := action.Payload.Path
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return Observation{Error: err.Error(), DurationMS: elapsed()}
		}
		if err := os.WriteFile(path, []byte(action.Payload.Content), 0o644); err != nil {
			return Observation{Error: err.Error(), DurationMS: elapsed()}
		}
		return Observation{
			Success:       true,
			Output:        fmt.Sprintf("Wrote %d bytes to %s", len(action.Payload.Content), path),
			FilesModified: []string{path},
			DurationMS:    elapsed(),
		}

	case ActionInternalReasoning:
		return Observation{
			Success:    true,
			Output:     orDefault(action.Payload.Reasoning, "Internal reasoning step"),
			DurationMS: elapsed(),
		}

	default:
		return Observation{
			Error:      fmt.Sprintf("Unknown action type: %s", action.Type),
			DurationMS: elapsed(),
		}
	}
}

func (e *Engine) reflect(ctx context.Context, t task.Task, action Action, obs Observation, history []CycleState) (Reflection, error) {
	payload, err := jsonx.Marshal(action.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	output := obs.Output
	if output == "" {
		output = "(no output)"
	} else if len(output) > 1000 {
		output = output[:1000]
	}
	errText := obs.Error
	if errText == "" {
		errText = "(no error)"
	}

	prompt := fmt.Sprintf(reflectPrompt,
		t.Description,
		taskContextSection(t, "User Replies / Context"),
		action.Type,
		string(payload),
		action.Reasoning,
		obs.Success,
		output,
		errText,
		historySummary(history),
	)

	resp, err := e.client.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return Reflection{}, fmt.Errorf("reflect phase: %w", err)
	}
	return parseReflection(resp.Content), nil
}

func (e *Engine) decide(ctx context.Context, reflection Reflection, budgets BudgetView) (Decision, error) {
	prompt := fmt.Sprintf(decidePrompt,
		reflection.ProgressMade,
		reflection.WhatLearned,
		reflection.PlanStillValid,
		reflection.StuckIndicators,
		reflection.Confidence,
		budgets.CyclesUsed, budgets.MaxCycles,
		budgets.Failures, budgets.MaxFailures,
		budgets.NoProgress, budgets.MaxNoProgress,
	)

	resp, err := e.client.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return DecisionContinue, fmt.Errorf("decide phase: %w", err)
	}
	return parseDecision(resp.Content), nil
}

func taskContextSection(t task.Task, heading string) string {
	if t.Context == "" {
		return ""
	}
	return fmt.Sprintf("\n## %s\n%s", heading, t.Context)
}

// historySummary condenses the last five cycles for the prompts: action,
// payload highlights, result, truncated output, and learnings.
func historySummary(history []CycleState) string {
	if len(history) == 0 {
		return "No previous cycles. This is a fresh start."
	}
	recent := history
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}

	var blocks []string
	for _, cycle := range recent {
		actionType := "unknown"
		if cycle.Action != nil {
			actionType = string(cycle.Action.Type)
		}
		lines := []string{fmt.Sprintf("### Cycle %d: %s", cycle.CycleID, actionType)}

		if cycle.Action != nil {
			p := cycle.Action.Payload
			switch cycle.Action.Type {
			case ActionExecuteCommand:
				lines = append(lines, fmt.Sprintf("Command: `%s`", orDefault(p.Command, "N/A")))
			case ActionReadFile:
				lines = append(lines, fmt.Sprintf("File: `%s`", orDefault(p.Path, "N/A")))
			case ActionWriteFile:
				lines = append(lines, fmt.Sprintf("Wrote to: `%s`", orDefault(p.Path, "N/A")))
			case ActionAskUser:
				lines = append(lines, fmt.Sprintf("Question: %s", orDefault(p.Question, "N/A")))
			}
			if cycle.Action.Reasoning != "" {
				lines = append(lines, fmt.Sprintf("Reasoning: %s", cycle.Action.Reasoning))
			}
		}

		if cycle.Observation != nil {
			mark := "✗"
			if cycle.Observation.Success {
				mark = "✓"
			}
			lines = append(lines, fmt.Sprintf("Result: %s", mark))
			if cycle.Observation.Output != "" {
				out := cycle.Observation.Output
				if len(out) > 500 {
					out = out[:500] + "...(truncated)"
				}
				lines = append(lines, fmt.Sprintf("Output: %s", out))
			}
			if cycle.Observation.Error != "" {
				lines = append(lines, fmt.Sprintf("Error: %s", cycle.Observation.Error))
			}
		}

		if cycle.Reflection != nil {
			if cycle.Reflection.WhatLearned != "" {
				lines = append(lines, fmt.Sprintf("Learned: %s", cycle.Reflection.WhatLearned))
			}
			if !cycle.Reflection.ProgressMade {
				lines = append(lines, "(No progress this cycle)")
			}
		}

		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
