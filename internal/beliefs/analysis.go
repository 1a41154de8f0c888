package beliefs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"tooey/internal/llm"
)

// ContradictionResult is the verdict of a contradiction probe.
type ContradictionResult struct {
	HasContradiction bool
	Conflicting      []*Belief
	Analysis         string
}

var contradictsRe = regexp.MustCompile(`CONTRADICTS:\s*(B-\d+)`)

// CheckContradiction asks the model whether a new claim contradicts any
// similar existing belief. With a nil client only the similarity prefilter
// runs and the result is always clean.
func (m *Manager) CheckContradiction(ctx context.Context, claim string, client llm.Client) ContradictionResult {
	result := ContradictionResult{}

	similar := m.FindSimilar(claim, 0.3)
	if len(similar) == 0 || client == nil {
		return result
	}

	var beliefsText strings.Builder
	for i, s := range similar {
		if i >= 5 {
			break
		}
		beliefsText.WriteString(fmt.Sprintf("- %s: %s\n", s.Belief.ID, s.Belief.Claim))
	}

	messages := []llm.Message{
		{Role: "system", Content: "You analyze claims for logical contradictions. Be precise and concise."},
		{Role: "user", Content: fmt.Sprintf(`Does this new claim contradict any of the existing beliefs?

NEW CLAIM: %s

EXISTING BELIEFS:
%s
Reply in this format:
CONTRADICTS: <belief_id> or NONE
REASON: <brief explanation>`, claim, beliefsText.String())},
	}

	response, err := client.Chat(ctx, messages)
	if err != nil {
		m.logger.Warn("contradiction check failed: %v", err)
		return result
	}
	result.Analysis = response.Content

	if match := contradictsRe.FindStringSubmatch(response.Content); match != nil {
		if belief := m.Get(match[1]); belief != nil {
			result.HasContradiction = true
			result.Conflicting = []*Belief{belief}
		}
	}
	return result
}

// CoherenceReport summarizes a full belief-base health pass.
type CoherenceReport struct {
	TotalBeliefs   int
	Active         int
	Contested      int
	LowConfidence  []*Belief
	Contradictions []ContradictionFinding
	ReportPath     string
}

// ContradictionFinding names one belief that conflicts with others.
type ContradictionFinding struct {
	BeliefID      string
	ConflictsWith []string
	Analysis      string
}

// RunCoherenceCheck scans the belief base for low-confidence beliefs and,
// when a client is given, probes a sample of active beliefs for
// contradictions. A report is written under logs/health.
func (m *Manager) RunCoherenceCheck(ctx context.Context, client llm.Client) (*CoherenceReport, error) {
	report := &CoherenceReport{
		TotalBeliefs: len(m.beliefs),
		Active:       len(m.All("active")),
		Contested:    len(m.All("contested")),
	}

	active := m.All("active")
	for _, belief := range active {
		if belief.Confidence < 0.5 {
			report.LowConfidence = append(report.LowConfidence, belief)
		}
	}

	// Pairwise checks are expensive, so only a sample goes to the model.
	if client != nil && len(active) > 1 {
		for i, belief := range active {
			if i >= 10 {
				break
			}
			check := m.CheckContradiction(ctx, belief.Claim, client)
			if !check.HasContradiction {
				continue
			}
			finding := ContradictionFinding{BeliefID: belief.ID, Analysis: check.Analysis}
			for _, c := range check.Conflicting {
				finding.ConflictsWith = append(finding.ConflictsWith, c.ID)
			}
			report.Contradictions = append(report.Contradictions, finding)
		}
	}

	path, err := m.writeCoherenceReport(report)
	if err != nil {
		return report, fmt.Errorf("write coherence report: %w", err)
	}
	report.ReportPath = path
	m.logger.Info("coherence check complete: %d issues found", len(report.Contradictions))
	return report, nil
}

func (m *Manager) writeCoherenceReport(report *CoherenceReport) (string, error) {
	dir := filepath.Join(m.agentHome, "logs", "health")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	year, week := m.now().UTC().ISOWeek()
	label := fmt.Sprintf("%d-W%02d", year, week)

	var b strings.Builder
	b.WriteString(fmt.Sprintf(`# Coherence Check - %s

Generated: %s

## Summary

- Total beliefs: %d
- Active: %d
- Contested: %d
- Low confidence (<0.5): %d
- Potential contradictions: %d

## Low Confidence Beliefs

`, label, m.now().UTC().Format("2006-01-02T15:04:05"),
		report.TotalBeliefs, report.Active, report.Contested,
		len(report.LowConfidence), len(report.Contradictions)))

	if len(report.LowConfidence) == 0 {
		b.WriteString("*None*\n")
	}
	for _, belief := range report.LowConfidence {
		b.WriteString(fmt.Sprintf("- **%s** (%.2f): %s\n", belief.ID, belief.Confidence, belief.Claim))
	}

	b.WriteString("\n## Potential Contradictions\n\n")
	if len(report.Contradictions) == 0 {
		b.WriteString("*None detected*\n")
	}
	for _, finding := range report.Contradictions {
		analysis := finding.Analysis
		if len(analysis) > 200 {
			analysis = analysis[:200] + "..."
		}
		b.WriteString(fmt.Sprintf("- **%s** conflicts with %v\n  Analysis: %s\n\n",
			finding.BeliefID, finding.ConflictsWith, analysis))
	}

	b.WriteString("\n## Recommendations\n\n")
	switch {
	case len(report.LowConfidence) == 0 && len(report.Contradictions) == 0:
		b.WriteString("- Belief system is coherent ✓\n")
	default:
		if len(report.LowConfidence) > 0 {
			b.WriteString("- Review and validate low-confidence beliefs\n")
		}
		if len(report.Contradictions) > 0 {
			b.WriteString("- Resolve contradictions by contesting or deprecating beliefs\n")
		}
	}

	path := filepath.Join(dir, "coherence-"+label+".md")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

var observationRe = regexp.MustCompile(`OBSERVATION:\s*(.+?)\nCONFIDENCE:\s*([\d.]+)\nTYPE:\s*(\w+)`)

// ExtractFromOutcome asks the model for factual observations in a finished
// task's outcome and records the non-contradicting ones as beliefs.
func (m *Manager) ExtractFromOutcome(ctx context.Context, client llm.Client, taskID, taskDescription, outcome string, success bool) []*Belief {
	if client == nil {
		return nil
	}

	result := "Failure"
	if success {
		result = "Success"
	}
	if len(outcome) > 2000 {
		outcome = outcome[:2000]
	}

	messages := []llm.Message{
		{Role: "system", Content: `You extract factual observations from task outcomes.
Only extract concrete, verifiable facts - not opinions or speculation.
Each observation should be a single, clear statement.`},
		{Role: "user", Content: fmt.Sprintf(`Task: %s
Outcome: %s

Agent's response:
%s

Extract 0-3 factual observations from this outcome. Format:
OBSERVATION: <factual claim>
CONFIDENCE: <0.0-1.0>
TYPE: observed | inferred

If nothing worth recording, respond with: NO_OBSERVATIONS`, taskDescription, result, outcome)},
	}

	response, err := client.Chat(ctx, messages)
	if err != nil {
		m.logger.Error("failed to extract beliefs: %v", err)
		return nil
	}
	if strings.Contains(response.Content, "NO_OBSERVATIONS") {
		return nil
	}

	var extracted []*Belief
	for _, match := range observationRe.FindAllStringSubmatch(response.Content, -1) {
		claim := strings.TrimSpace(match[1])
		confidence, err := strconv.ParseFloat(match[2], 64)
		if err != nil {
			confidence = 0.7
		}

		if m.CheckContradiction(ctx, claim, client).HasContradiction {
			m.logger.Warn("skipping contradicting observation: %.50s", claim)
			continue
		}

		belief, err := m.Add(claim, AddOptions{
			Confidence: confidence,
			Type:       strings.TrimSpace(match[3]),
			Source:     "task:" + taskID,
			Notes:      "Extracted from task outcome",
		})
		if err != nil {
			m.logger.Error("failed to record extracted belief: %v", err)
			continue
		}
		extracted = append(extracted, belief)
	}
	return extracted
}
