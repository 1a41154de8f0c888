// Package maintenance covers the housekeeping that keeps an agent home
// healthy over weeks of operation: daily summaries, git snapshots, memory
// promotion, and recovery.
package maintenance

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"tooey/internal/events"
	"tooey/internal/shared/jsonx"
	"tooey/internal/shared/logging"
	"tooey/internal/shared/textutil"
)

// Manager runs maintenance against one agent home.
type Manager struct {
	agentHome string
	eventLog  *events.Log
	logger    logging.Logger
	now       func() time.Time
}

// New creates a maintenance manager and its output directories.
func New(agentHome string, eventLog *events.Log) (*Manager, error) {
	for _, dir := range []string{
		filepath.Join(agentHome, "logs", "daily"),
		filepath.Join(agentHome, "snapshots", "daily"),
		filepath.Join(agentHome, "snapshots", "weekly"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create maintenance dir: %w", err)
		}
	}
	return &Manager{
		agentHome: agentHome,
		eventLog:  eventLog,
		logger:    logging.NewComponentLogger("maintenance"),
		now:       time.Now,
	}, nil
}

// WithClock overrides the time source (tests).
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) today() string {
	return m.now().UTC().Format("2006-01-02")
}

// GenerateDailySummary builds a markdown summary of one day's events.
func (m *Manager) GenerateDailySummary(date string) string {
	if date == "" {
		date = m.today()
	}
	evs, err := m.eventLog.Read(date)
	if err != nil {
		m.logger.Warn("could not read events for %s: %v", date, err)
	}
	if len(evs) == 0 {
		return fmt.Sprintf("# Daily Summary: %s\n\nNo events recorded.\n", date)
	}

	var completed, blocked, errors []string
	commands := 0
	for _, ev := range evs {
		switch ev.EventType {
		case "task_update":
			obs := ""
			if ev.Outcomes != nil {
				obs = strings.ToLower(ev.Outcomes.Observations)
			}
			taskID := "unknown"
			if ev.Context != nil && ev.Context.TaskID != "" {
				taskID = ev.Context.TaskID
			}
			if strings.Contains(obs, "completed") {
				completed = append(completed, taskID)
			} else if strings.Contains(obs, "blocked") {
				blocked = append(blocked, taskID)
			}
		case "command_execution":
			commands++
		case "error":
			obs := ""
			if ev.Outcomes != nil {
				obs = ev.Outcomes.Observations
			}
			if len(obs) > 100 {
				obs = obs[:100]
			}
			errors = append(errors, obs)
		}
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf(`# Daily Summary: %s

## Overview
- **Total events**: %d
- **Commands executed**: %d
- **Tasks completed**: %d
- **Tasks blocked**: %d
- **Errors**: %d

## Tasks Completed
%s

## Tasks Blocked
%s

## Errors
%s

## Event Timeline
`, date, len(evs), commands, len(completed), len(blocked), len(errors),
		bulletList(completed), bulletList(blocked), bulletList(errors)))

	for i, ev := range evs {
		if i >= 20 {
			break
		}
		ts := ev.Timestamp
		if len(ts) > 19 {
			ts = ts[:19]
		}
		taskStr := ""
		if ev.Context != nil && ev.Context.TaskID != "" {
			taskStr = " [" + ev.Context.TaskID + "]"
		}
		b.WriteString(fmt.Sprintf("- `%s` %s%s\n", ts, ev.EventType, taskStr))
	}
	if len(evs) > 20 {
		b.WriteString(fmt.Sprintf("\n... and %d more events\n", len(evs)-20))
	}
	b.WriteString(fmt.Sprintf("\n---\n*Generated: %s*\n", m.now().UTC().Format(time.RFC3339)))
	return b.String()
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- None"
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

// WriteDailySummary generates and writes the summary, returning its path.
func (m *Manager) WriteDailySummary(date string) (string, error) {
	if date == "" {
		date = m.today()
	}
	summary := m.GenerateDailySummary(date)
	path := filepath.Join(m.agentHome, "logs", "daily", date+".md")
	if err := os.WriteFile(path, []byte(summary), 0o644); err != nil {
		return "", fmt.Errorf("write daily summary: %w", err)
	}
	m.logger.Info("wrote daily summary to %s", path)
	return path, nil
}

// SnapshotResult describes one snapshot attempt.
type SnapshotResult struct {
	Success   bool   `json:"success"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason"`
	Commit    string `json:"commit,omitempty"`
	Tag       string `json:"tag,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (m *Manager) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = m.agentHome
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// CreateSnapshot commits the agent home to its local git repo and tags the
// commit. Metadata is written alongside the daily snapshots regardless of
// outcome.
func (m *Manager) CreateSnapshot(reason string) SnapshotResult {
	if reason == "" {
		reason = "scheduled"
	}
	result := SnapshotResult{
		Timestamp: m.now().UTC().Format(time.RFC3339),
		Reason:    reason,
	}
	defer m.writeSnapshotMeta(&result)

	if _, err := os.Stat(filepath.Join(m.agentHome, ".git")); err != nil {
		if out, err := m.git("init"); err != nil {
			result.Error = "Git error: " + out
			m.logger.Error("snapshot failed: %s", result.Error)
			return result
		}
		m.logger.Info("initialized git repository")
	}

	if out, err := m.git("add", "-A"); err != nil {
		result.Error = "Git error: " + out
		m.logger.Error("snapshot failed: %s", result.Error)
		return result
	}

	status, _ := m.git("status", "--porcelain")
	if status == "" {
		result.Success = true
		result.Error = "No changes to snapshot"
		m.logger.Info("no changes to snapshot")
		return result
	}

	stamp := m.now().UTC().Format("2006-01-02_150405")
	if out, err := m.git("commit", "-m", fmt.Sprintf("Snapshot: %s (%s)", reason, stamp)); err != nil {
		result.Error = "Git error: " + out
		m.logger.Error("snapshot failed: %s", result.Error)
		return result
	}

	if hash, err := m.git("rev-parse", "HEAD"); err == nil && len(hash) >= 12 {
		result.Commit = hash[:12]
	}

	tag := "snapshot-" + stamp
	if out, err := m.git("tag", tag); err != nil {
		result.Error = "Git error: " + out
		m.logger.Error("snapshot failed: %s", result.Error)
		return result
	}
	result.Tag = tag
	result.Success = true
	m.logger.Info("created snapshot: %s (%s)", result.Commit, tag)
	return result
}

func (m *Manager) writeSnapshotMeta(result *SnapshotResult) {
	path := filepath.Join(m.agentHome, "snapshots", "daily", m.today()+".json")
	data, err := jsonx.MarshalIndent(result, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		m.logger.Warn("could not write snapshot metadata: %v", err)
	}
}

// Snapshot is one entry of the snapshot history.
type Snapshot struct {
	Commit  string `json:"commit"`
	Message string `json:"message"`
}

// ListSnapshots returns recent tagged snapshot commits, newest first.
func (m *Manager) ListSnapshots(limit int) []Snapshot {
	if limit <= 0 {
		limit = 10
	}
	out, err := m.git("log", "--oneline", fmt.Sprintf("-%d", limit), "--tags")
	if err != nil {
		m.logger.Error("failed to list snapshots: %v", err)
		return nil
	}
	var snapshots []Snapshot
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		snap := Snapshot{Commit: parts[0]}
		if len(parts) > 1 {
			snap.Message = parts[1]
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots
}

// RestoreSnapshot checks the agent home files back out from a previous
// snapshot after taking a backup of the current state.
func (m *Manager) RestoreSnapshot(ref string) error {
	m.CreateSnapshot("pre-restore-backup")

	if out, err := m.git("checkout", ref, "--", "."); err != nil {
		m.logger.Error("restore failed: %s", out)
		return fmt.Errorf("git checkout %s: %s", ref, out)
	}
	m.logger.Info("restored to %s", ref)
	return nil
}

// PromotionResult lists what moved from working to long-term memory.
type PromotionResult struct {
	Promoted       []string
	WorkingCleared bool
}

// PromoteMemory moves lines tagged [PROMOTE] or [IMPORTANT] from
// memory/working.md into a dated section of memory/long_term.md.
func (m *Manager) PromoteMemory() (PromotionResult, error) {
	result := PromotionResult{}
	workingPath := filepath.Join(m.agentHome, "memory", "working.md")
	longTermPath := filepath.Join(m.agentHome, "memory", "long_term.md")

	raw, err := os.ReadFile(workingPath)
	if err != nil {
		return result, nil
	}

	var promote, keep []string
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.Contains(line, "[PROMOTE]") || strings.Contains(line, "[IMPORTANT]") {
			clean := strings.ReplaceAll(line, "[PROMOTE]", "")
			clean = strings.TrimSpace(strings.ReplaceAll(clean, "[IMPORTANT]", ""))
			if clean != "" {
				promote = append(promote, clean)
			}
			continue
		}
		keep = append(keep, line)
	}
	if len(promote) == 0 {
		return result, nil
	}

	longTerm := "# Long-Term Memory\n\n"
	if existing, err := os.ReadFile(longTermPath); err == nil {
		longTerm = string(existing)
	}
	longTerm += fmt.Sprintf("\n## Promoted on %s\n", m.today())
	for _, item := range promote {
		longTerm += "- " + item + "\n"
		result.Promoted = append(result.Promoted, item)
	}

	if err := os.WriteFile(longTermPath, []byte(longTerm), 0o644); err != nil {
		return result, fmt.Errorf("write long-term memory: %w", err)
	}
	if err := os.WriteFile(workingPath, []byte(strings.Join(keep, "\n")), 0o644); err != nil {
		return result, fmt.Errorf("rewrite working memory: %w", err)
	}
	result.WorkingCleared = true
	m.logger.Info("promoted %d items to long-term memory", len(promote))
	return result, nil
}

// UpdateWorkingMemory replaces or appends a named section in
// memory/working.md.
func (m *Manager) UpdateWorkingMemory(content, section string) error {
	if section == "" {
		section = "Session Notes"
	}
	path := filepath.Join(m.agentHome, "memory", "working.md")

	current := "# Working Memory\n\n"
	if raw, err := os.ReadFile(path); err == nil {
		current = string(raw)
	}

	header := "## " + section
	var next string
	if idx := strings.Index(current, header); idx >= 0 {
		before := current[:idx]
		rest := current[idx+len(header):]
		after := ""
		if nextIdx := strings.Index(rest, "\n## "); nextIdx >= 0 {
			after = rest[nextIdx:]
		}
		next = before + header + "\n" + content + "\n" + after
	} else {
		next = current + "\n" + header + "\n" + content + "\n"
	}
	return os.WriteFile(path, []byte(next), 0o644)
}

// PreflightCheck verifies maintenance can read boot files and write its
// output locations.
func (m *Manager) PreflightCheck() map[string]bool {
	checks := map[string]bool{}
	for name, rel := range map[string]string{
		"read_identity":   filepath.Join("boot", "identity.md"),
		"read_invariants": filepath.Join("boot", "invariants.md"),
	} {
		raw, err := os.ReadFile(filepath.Join(m.agentHome, rel))
		checks[name] = err == nil && strings.TrimSpace(string(raw)) != ""
	}
	for name, rel := range map[string]string{
		"write_events": filepath.Join("logs", "events"),
		"write_daily":  filepath.Join("logs", "daily"),
	} {
		testPath := filepath.Join(m.agentHome, rel, ".write_test")
		if err := os.WriteFile(testPath, []byte("test"), 0o644); err != nil {
			checks[name] = false
			continue
		}
		os.Remove(testPath)
		checks[name] = true
	}
	return checks
}

// DailyResult aggregates one full maintenance pass.
type DailyResult struct {
	Timestamp   string
	Preflight   map[string]bool
	SummaryPath string
	Promotion   PromotionResult
	Snapshot    SnapshotResult
	Success     bool
}

// RunDaily runs preflight, the daily summary, memory promotion, and a
// snapshot. Preflight failure aborts the pass.
func (m *Manager) RunDaily() DailyResult {
	result := DailyResult{
		Timestamp: m.now().UTC().Format(time.RFC3339),
		Success:   true,
	}

	result.Preflight = m.PreflightCheck()
	for _, ok := range result.Preflight {
		if !ok {
			result.Success = false
			m.logger.Error("pre-flight checks failed")
			return result
		}
	}

	path, err := m.WriteDailySummary("")
	if err != nil {
		result.Success = false
		m.logger.Error("daily summary failed: %v", err)
	}
	result.SummaryPath = path

	promotion, err := m.PromoteMemory()
	if err != nil {
		m.logger.Error("memory promotion failed: %v", err)
	}
	result.Promotion = promotion

	result.Snapshot = m.CreateSnapshot("daily-maintenance")
	if !result.Snapshot.Success {
		result.Success = false
	}

	m.logger.Info("daily maintenance complete: success=%t", result.Success)
	return result
}

// RecallHit is one event matched by a recall query.
type RecallHit struct {
	Date      string
	Timestamp string
	EventType string
	TaskID    string
	Text      string
}

// Recall keyword-searches the last N days of event logs.
func (m *Manager) Recall(query string, days int) []RecallHit {
	if days <= 0 {
		days = 7
	}
	queryWords := textutil.TokenSet(query)
	var hits []RecallHit

	for i := 0; i < days; i++ {
		date := m.now().UTC().AddDate(0, 0, -i).Format("2006-01-02")
		evs, err := m.eventLog.Read(date)
		if err != nil {
			continue
		}
		for _, ev := range evs {
			text := ""
			if ev.Outcomes != nil {
				text = ev.Outcomes.Observations
			}
			if ev.Context != nil && ev.Context.Intent != "" {
				text += " " + ev.Context.Intent
			}
			matched := false
			for word := range textutil.TokenSet(text) {
				if queryWords[word] {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
			hit := RecallHit{Date: date, Timestamp: ev.Timestamp, EventType: ev.EventType, Text: text}
			if ev.Context != nil {
				hit.TaskID = ev.Context.TaskID
			}
			hits = append(hits, hit)
		}
	}
	return hits
}
