// Package reflection inspects recent cycle history: stuck patterns that
// force a pause, progress metrics, and quality filtering of curiosity
// proposals.
package reflection

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"tooey/internal/engine"
	"tooey/internal/shared/jsonx"
	"tooey/internal/shared/logging"
	"tooey/internal/shared/textutil"
)

// StuckDetector finds syntactic no-progress patterns in recent cycles.
type StuckDetector struct {
	windowSize int
}

// NewStuckDetector uses the default window of 5 when size is not positive.
func NewStuckDetector(windowSize int) *StuckDetector {
	if windowSize <= 0 {
		windowSize = 5
	}
	return &StuckDetector{windowSize: windowSize}
}

// IsStuck reports whether the history shows a stuck pattern, with the
// human-readable reason used for the pause annotation.
func (d *StuckDetector) IsStuck(history []engine.CycleState) (bool, string) {
	recent := history
	if len(recent) > d.windowSize {
		recent = recent[len(recent)-d.windowSize:]
	}

	actions := actionKeys(recent)
	if len(actions) >= 3 {
		last3 := actions[len(actions)-3:]
		if last3[0] == last3[1] && last3[1] == last3[2] {
			return true, fmt.Sprintf("Repeating same action: %s", last3[2].actionType)
		}
	}

	var errs []string
	for _, c := range recent {
		if c.Observation != nil && c.Observation.Error != "" {
			errs = append(errs, c.Observation.Error)
		}
	}
	if len(errs) >= 3 {
		last3 := errs[len(errs)-3:]
		if errorsSimilar(last3) {
			tail := last3[2]
			if len(tail) > 100 {
				tail = tail[:100]
			}
			return true, fmt.Sprintf("Same error repeating: %s", tail)
		}
	}

	// Sustained no-progress is only meaningful over a full window.
	if len(recent) >= d.windowSize {
		noProgress := 0
		for _, c := range recent {
			if c.Reflection != nil && !c.Reflection.ProgressMade {
				noProgress++
			}
		}
		if noProgress >= d.windowSize-1 {
			return true, fmt.Sprintf("No progress for %d consecutive cycles", noProgress)
		}
	}

	if n := len(actions); n >= 4 {
		if actions[n-4] == actions[n-2] && actions[n-3] == actions[n-1] && actions[n-4] != actions[n-3] {
			return true, "Oscillating between two actions"
		}
	}

	return false, ""
}

type actionKey struct {
	actionType string
	payload    string
}

func actionKeys(cycles []engine.CycleState) []actionKey {
	var keys []actionKey
	for _, c := range cycles {
		if c.Action == nil {
			continue
		}
		payload, err := jsonx.Marshal(c.Action.Payload)
		if err != nil {
			payload = nil
		}
		keys = append(keys, actionKey{
			actionType: string(c.Action.Type),
			payload:    string(payload),
		})
	}
	return keys
}

var (
	digitRun = regexp.MustCompile(`\d+`)
	pathRun  = regexp.MustCompile(`/[^\s]+`)
)

// normalizeError collapses the variable parts of an error so that retries
// of the same failure compare equal.
func normalizeError(e string) string {
	e = digitRun.ReplaceAllString(e, "N")
	e = pathRun.ReplaceAllString(e, "/PATH")
	e = strings.ToLower(e)
	if len(e) > 100 {
		e = e[:100]
	}
	return e
}

func errorsSimilar(errs []string) bool {
	if len(errs) == 0 {
		return false
	}
	first := normalizeError(errs[0])
	for _, e := range errs[1:] {
		if normalizeError(e) != first {
			return false
		}
	}
	return true
}

// Indicators lists softer warning signs over the last five cycles.
func (d *StuckDetector) Indicators(history []engine.CycleState) []string {
	var indicators []string
	if len(history) < 2 {
		return indicators
	}
	recent := history
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}

	failures := 0
	noProgress := 0
	var confidences []float64
	for _, c := range recent {
		if c.Observation != nil && !c.Observation.Success {
			failures++
		}
		if c.Reflection != nil {
			if !c.Reflection.ProgressMade {
				noProgress++
			}
			confidences = append(confidences, c.Reflection.Confidence)
		}
	}
	if failures >= 2 {
		indicators = append(indicators, fmt.Sprintf("%d recent failures", failures))
	}
	if noProgress >= 2 {
		indicators = append(indicators, fmt.Sprintf("%d cycles without progress", noProgress))
	}
	if len(confidences) >= 3 {
		low := true
		for _, conf := range confidences[len(confidences)-3:] {
			if conf >= 0.4 {
				low = false
				break
			}
		}
		if low {
			indicators = append(indicators, "Low confidence for multiple cycles")
		}
	}
	return indicators
}

// Progress summarizes how a task is advancing across its history.
type Progress struct {
	Status         string  `json:"status"`
	Cycles         int     `json:"cycles"`
	SuccessRate    float64 `json:"success_rate"`
	ProgressRate   float64 `json:"progress_rate"`
	AvgConfidence  float64 `json:"avg_confidence"`
	Trend          string  `json:"trend"`
	RecentProgress int     `json:"recent_progress"`
}

// AnalyzeProgress computes rates and a qualitative trend from the last
// three cycles: two or more progressing cycles is improving, one is
// stagnating, zero is declining.
func AnalyzeProgress(history []engine.CycleState) Progress {
	if len(history) == 0 {
		return Progress{Status: "no_history"}
	}
	total := len(history)
	successes := 0
	progressCycles := 0
	var confidences []float64
	for _, c := range history {
		if c.Observation != nil && c.Observation.Success {
			successes++
		}
		if c.Reflection != nil {
			if c.Reflection.ProgressMade {
				progressCycles++
			}
			confidences = append(confidences, c.Reflection.Confidence)
		}
	}

	avgConfidence := 0.5
	if len(confidences) > 0 {
		sum := 0.0
		for _, conf := range confidences {
			sum += conf
		}
		avgConfidence = sum / float64(len(confidences))
	}

	recentProgress := progressCycles
	if total >= 3 {
		recentProgress = 0
		for _, c := range history[total-3:] {
			if c.Reflection != nil && c.Reflection.ProgressMade {
				recentProgress++
			}
		}
	}
	trend := "declining"
	switch {
	case recentProgress >= 2:
		trend = "improving"
	case recentProgress == 1:
		trend = "stagnating"
	}

	return Progress{
		Status:         "active",
		Cycles:         total,
		SuccessRate:    float64(successes) / float64(total),
		ProgressRate:   float64(progressCycles) / float64(total),
		AvgConfidence:  avgConfidence,
		Trend:          trend,
		RecentProgress: recentProgress,
	}
}

// RejectReason codes why a proposal was filtered or refused admission.
type RejectReason string

const (
	ReasonLowValue          RejectReason = "low_value"
	ReasonBadCategory       RejectReason = "bad_category"
	ReasonThinJustification RejectReason = "thin_justification"
	ReasonVagueDescription  RejectReason = "vague_description"
	ReasonDuplicate         RejectReason = "duplicate"
)

var allowedCategories = map[string]bool{
	"verification":  true,
	"documentation": true,
	"robustness":    true,
	"exploration":   true,
}

// CuriosityFilter applies quality gates before the budget check.
type CuriosityFilter struct {
	minValueThreshold    float64
	maxProposalsPerCycle int
	logger               logging.Logger
}

// NewCuriosityFilter builds a filter from the configured thresholds.
func NewCuriosityFilter(minValueThreshold float64, maxProposalsPerCycle int) *CuriosityFilter {
	if maxProposalsPerCycle <= 0 {
		maxProposalsPerCycle = 2
	}
	return &CuriosityFilter{
		minValueThreshold:    minValueThreshold,
		maxProposalsPerCycle: maxProposalsPerCycle,
		logger:               logging.NewComponentLogger("curiosity-filter"),
	}
}

// Rejection pairs a filtered proposal with its reason code.
type Rejection struct {
	Proposal engine.CuriosityProposal
	Reason   RejectReason
}

// Evaluate filters, ranks, and caps proposals. existingDescriptions are the
// pending task descriptions used for near-duplicate detection.
func (f *CuriosityFilter) Evaluate(proposals []engine.CuriosityProposal, existingDescriptions []string) (accepted []engine.CuriosityProposal, rejected []Rejection) {
	for _, p := range proposals {
		switch {
		case p.EstimatedValue < f.minValueThreshold:
			f.logger.Debug("rejecting low-value proposal: %.50s", p.Description)
			rejected = append(rejected, Rejection{Proposal: p, Reason: ReasonLowValue})
		case !allowedCategories[p.Category]:
			f.logger.Debug("rejecting invalid category: %s", p.Category)
			rejected = append(rejected, Rejection{Proposal: p, Reason: ReasonBadCategory})
		case len(p.Justification) < 10:
			f.logger.Debug("rejecting proposal without justification")
			rejected = append(rejected, Rejection{Proposal: p, Reason: ReasonThinJustification})
		case len(p.Description) < 20:
			f.logger.Debug("rejecting vague proposal")
			rejected = append(rejected, Rejection{Proposal: p, Reason: ReasonVagueDescription})
		case f.isDuplicate(p, existingDescriptions):
			f.logger.Debug("rejecting duplicate proposal: %.50s", p.Description)
			rejected = append(rejected, Rejection{Proposal: p, Reason: ReasonDuplicate})
		default:
			accepted = append(accepted, p)
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].EstimatedValue > accepted[j].EstimatedValue
	})
	if len(accepted) > f.maxProposalsPerCycle {
		accepted = accepted[:f.maxProposalsPerCycle]
	}
	return accepted, rejected
}

// isDuplicate checks whether 70% or more of the proposal's tokens already
// appear in some existing task description.
func (f *CuriosityFilter) isDuplicate(p engine.CuriosityProposal, existing []string) bool {
	for _, desc := range existing {
		if textutil.OverlapRatio(p.Description, desc) >= 0.7 {
			return true
		}
	}
	return false
}
