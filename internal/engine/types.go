package engine

import (
	"time"
)

// Phase names a stage of the reasoning cycle.
type Phase string

const (
	PhasePlan    Phase = "plan"
	PhaseAct     Phase = "act"
	PhaseObserve Phase = "observe"
	PhaseReflect Phase = "reflect"
	PhaseDecide  Phase = "decide"
)

// ActionType enumerates the single actions the agent may take per cycle.
type ActionType string

const (
	ActionExecuteCommand    ActionType = "execute_command"
	ActionReadFile          ActionType = "read_file"
	ActionWriteFile         ActionType = "write_file"
	ActionAskUser           ActionType = "ask_user"
	ActionInternalReasoning ActionType = "internal_reasoning"
	ActionCompleteTask      ActionType = "complete_task"
	ActionBlockTask         ActionType = "block_task"
)

// Decision is the verdict reached at the end of a cycle.
type Decision string

const (
	DecisionContinue       Decision = "continue"
	DecisionComplete       Decision = "complete"
	DecisionBlocked        Decision = "blocked"
	DecisionAskUser        Decision = "ask_user"
	DecisionBudgetExceeded Decision = "budget_exceeded"
)

// Payload carries the per-type arguments of an action. Only the fields
// relevant to the action type are populated.
type Payload struct {
	Command   string `json:"command,omitempty"`
	Path      string `json:"path,omitempty"`
	Content   string `json:"content,omitempty"`
	Question  string `json:"question,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// Action is exactly one thing to do this cycle.
type Action struct {
	Type      ActionType `json:"action_type"`
	Payload   Payload    `json:"payload"`
	Reasoning string     `json:"reasoning,omitempty"`
}

// Plan is the intent produced by the PLAN phase.
type Plan struct {
	Goal           string   `json:"goal"`
	Approach       string   `json:"approach"`
	NextAction     Action   `json:"next_action"`
	RemainingSteps []string `json:"remaining_steps,omitempty"`
	Confidence     float64  `json:"confidence"`
}

// Observation is the recorded outcome of executing an action. Output is
// truncated to 2000 bytes when the state is serialized.
type Observation struct {
	Success       bool     `json:"success"`
	Output        string   `json:"output"`
	Error         string   `json:"error,omitempty"`
	FilesModified []string `json:"files_modified,omitempty"`
	DurationMS    int64    `json:"duration_ms"`
}

// CuriosityProposal is a follow-up task suggested during REFLECT.
type CuriosityProposal struct {
	Description    string  `json:"description"`
	Justification  string  `json:"justification"`
	Priority       string  `json:"priority"`
	EstimatedValue float64 `json:"estimated_value"`
	Category       string  `json:"category"`
}

// Reflection is the structured self-assessment after each action.
type Reflection struct {
	ProgressMade       bool                `json:"progress_made"`
	WhatLearned        string              `json:"what_learned"`
	PlanStillValid     bool                `json:"plan_still_valid"`
	ProposedTasks      []CuriosityProposal `json:"proposed_tasks,omitempty"`
	StuckIndicators    []string            `json:"stuck_indicators,omitempty"`
	Confidence         float64             `json:"confidence"`
	NextStepSuggestion string              `json:"next_step_suggestion,omitempty"`
}

// CycleState is the fully serializable record of one reasoning cycle.
type CycleState struct {
	CycleID     int          `json:"cycle_id"`
	TaskID      string       `json:"task_id"`
	Phase       Phase        `json:"phase"`
	Plan        *Plan        `json:"plan,omitempty"`
	Action      *Action      `json:"action,omitempty"`
	Observation *Observation `json:"observation,omitempty"`
	Reflection  *Reflection  `json:"reflection,omitempty"`
	Decision    Decision     `json:"decision"`
	Timestamp   time.Time    `json:"timestamp"`
}

// CycleResult is what one engine run hands back to the loop for commit.
// MadeProgress and HadFailure are the ledger inputs: a parse fallback or a
// failed observation counts as a failure even though the cycle committed.
type CycleResult struct {
	State         CycleState
	Decision      Decision
	ProposedTasks []CuriosityProposal
	Summary       string
	MadeProgress  bool
	HadFailure    bool
}

const observationStoreLimit = 2000

// TruncateForStorage caps the observation output before persistence.
func (o Observation) TruncateForStorage() Observation {
	if len(o.Output) > observationStoreLimit {
		o.Output = o.Output[:observationStoreLimit]
	}
	return o
}
