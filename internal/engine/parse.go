package engine

import (
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"tooey/internal/shared/jsonx"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON strips a single optional fenced code block around the payload.
func extractJSON(content string) string {
	if m := fencedBlock.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	return strings.TrimSpace(content)
}

// decodeLoose unmarshals model output into v, repairing malformed JSON
// (trailing prose, single quotes, missing commas) before giving up.
func decodeLoose(content string, v any) bool {
	raw := extractJSON(content)
	if err := jsonx.Unmarshal([]byte(raw), v); err == nil {
		return true
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return false
	}
	return jsonx.Unmarshal([]byte(repaired), v) == nil
}

// fallbackPlan is the minimal safe plan used when the model's PLAN output
// cannot be parsed. The echo keeps the cycle observable without side effects.
func fallbackPlan() Plan {
	return Plan{
		Goal:     "Continue task",
		Approach: "Proceed with available information",
		NextAction: Action{
			Type:      ActionExecuteCommand,
			Payload:   Payload{Command: "echo 'Parse error, continuing'"},
			Reasoning: "JSON parse failed, using fallback",
		},
		Confidence: 0.7,
	}
}

func fallbackReflection() Reflection {
	return Reflection{
		ProgressMade:   false,
		WhatLearned:    "Response parsing failed",
		PlanStillValid: true,
		Confidence:     0.5,
	}
}

// parsePlan turns raw model output into a Plan, normalizing gaps the way
// the prompts allow (missing goal, missing action type). The second return
// is false when the fallback plan had to be substituted.
func parsePlan(content string) (Plan, bool) {
	var data struct {
		Goal       string `json:"goal"`
		Approach   string `json:"approach"`
		NextAction struct {
			ActionType string  `json:"action_type"`
			Payload    Payload `json:"payload"`
			Reasoning  string  `json:"reasoning"`
		} `json:"next_action"`
		RemainingSteps []string `json:"remaining_steps"`
		Confidence     *float64 `json:"confidence"`
	}
	if !decodeLoose(content, &data) {
		return fallbackPlan(), false
	}

	actionType := ActionType(data.NextAction.ActionType)
	if actionType == "" {
		actionType = ActionExecuteCommand
	}
	goal := data.Goal
	if goal == "" {
		goal = "Complete the task"
	}
	confidence := 0.7
	if data.Confidence != nil {
		confidence = *data.Confidence
	}
	return Plan{
		Goal:     goal,
		Approach: data.Approach,
		NextAction: Action{
			Type:      actionType,
			Payload:   data.NextAction.Payload,
			Reasoning: data.NextAction.Reasoning,
		},
		RemainingSteps: data.RemainingSteps,
		Confidence:     confidence,
	}, true
}

func parseReflection(content string) Reflection {
	var data struct {
		ProgressMade       bool                `json:"progress_made"`
		WhatLearned        string              `json:"what_learned"`
		PlanStillValid     *bool               `json:"plan_still_valid"`
		ProposedTasks      []CuriosityProposal `json:"proposed_tasks"`
		StuckIndicators    []string            `json:"stuck_indicators"`
		Confidence         *float64            `json:"confidence"`
		NextStepSuggestion string              `json:"next_step_suggestion"`
	}
	if !decodeLoose(content, &data) {
		return fallbackReflection()
	}

	planValid := true
	if data.PlanStillValid != nil {
		planValid = *data.PlanStillValid
	}
	confidence := 0.5
	if data.Confidence != nil {
		confidence = *data.Confidence
	}
	proposals := data.ProposedTasks
	for i := range proposals {
		if proposals[i].Priority == "" {
			proposals[i].Priority = "low"
		}
		if proposals[i].Category == "" {
			proposals[i].Category = "general"
		}
	}
	return Reflection{
		ProgressMade:       data.ProgressMade,
		WhatLearned:        data.WhatLearned,
		PlanStillValid:     planValid,
		ProposedTasks:      proposals,
		StuckIndicators:    data.StuckIndicators,
		Confidence:         confidence,
		NextStepSuggestion: data.NextStepSuggestion,
	}
}

// parseDecision is first-matching-token with CONTINUE as the default.
func parseDecision(content string) Decision {
	text := strings.ToUpper(strings.TrimSpace(content))
	switch {
	case strings.Contains(text, "COMPLETE"):
		return DecisionComplete
	case strings.Contains(text, "BLOCKED"):
		return DecisionBlocked
	case strings.Contains(text, "ASK_USER"):
		return DecisionAskUser
	default:
		return DecisionContinue
	}
}
