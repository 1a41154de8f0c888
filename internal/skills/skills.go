// Package skills manages documented procedures: markdown files the model
// reads and follows, with usage tracking and a candidate-to-learned
// promotion path.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"tooey/internal/shared/jsonx"
	"tooey/internal/shared/logging"
	"tooey/internal/shared/textutil"
)

// Skill is one parsed markdown procedure.
type Skill struct {
	Name          string
	Version       string
	Status        string // core, candidate, learned, deprecated, failed
	Path          string
	Purpose       string
	Triggers      string
	Preconditions string
	Dependencies  []string
	Procedure     string
	Commands      string
	Validation    string
	FailureModes  string
	Notes         string

	UseCount     int
	SuccessCount int
	FailureCount int
	LastUsed     string
}

// FullName is the identifier shaped status/name@version.
func (s Skill) FullName() string {
	return fmt.Sprintf("%s/%s@%s", s.Status, s.Name, s.Version)
}

// ToContext formats the skill for model context.
func (s Skill) ToContext() string {
	return fmt.Sprintf(`## Skill: %s (v%s)
**Status**: %s

### Purpose
%s

### When to use
%s

### Procedure
%s

### Failure handling
%s
`, s.Name, s.Version, s.Status, s.Purpose, s.Triggers, s.Procedure, s.FailureModes)
}

type trackEntry struct {
	UseCount     int    `json:"use_count"`
	SuccessCount int    `json:"success_count"`
	FailureCount int    `json:"failure_count"`
	LastUsed     string `json:"last_used,omitempty"`
}

type trackingFile struct {
	Skills map[string]*trackEntry `json:"skills"`
}

// Manager loads, tracks, drafts, and promotes skills under agentHome/skills.
type Manager struct {
	skillsDir    string
	trackingPath string
	tracking     trackingFile
	cache        map[string]*Skill
	logger       logging.Logger
	now          func() time.Time
}

var statusDirs = []string{"core", "candidates", "learned", "deprecated", "failed"}

// NewManager creates the skill directories and loads the tracking file.
func NewManager(agentHome string) (*Manager, error) {
	dir := filepath.Join(agentHome, "skills")
	for _, sub := range statusDirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create skills dir: %w", err)
		}
	}
	m := &Manager{
		skillsDir:    dir,
		trackingPath: filepath.Join(dir, ".tracking.json"),
		tracking:     trackingFile{Skills: map[string]*trackEntry{}},
		logger:       logging.NewComponentLogger("skills"),
		now:          time.Now,
	}
	m.loadTracking()
	return m, nil
}

// WithClock overrides the manager's clock. Tests only.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) loadTracking() {
	data, err := os.ReadFile(m.trackingPath)
	if err != nil {
		return
	}
	var tf trackingFile
	if err := jsonx.Unmarshal(data, &tf); err != nil {
		m.logger.Warn("could not parse skill tracking: %v", err)
		return
	}
	if tf.Skills == nil {
		tf.Skills = map[string]*trackEntry{}
	}
	m.tracking = tf
}

func (m *Manager) saveTracking() error {
	data, err := jsonx.MarshalIndent(m.tracking, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.trackingPath, data, 0o644)
}

var (
	skillName    = regexp.MustCompile(`(?m)^# Skill:\s*(.+)$`)
	skillVersion = regexp.MustCompile(`(?m)^Version:\s*(.+)$`)
	skillStatus  = regexp.MustCompile(`(?m)^Status:\s*(.+)$`)
)

func extractSection(content, header string) string {
	pattern := regexp.MustCompile(`(?ms)^##\s*` + regexp.QuoteMeta(header) + `\s*\n(.*?)(?:^##|\z)`)
	if match := pattern.FindStringSubmatch(content); match != nil {
		return strings.TrimSpace(match[1])
	}
	return ""
}

func (m *Manager) parseSkill(path string) *Skill {
	raw, err := os.ReadFile(path)
	if err != nil {
		m.logger.Error("failed to read skill %s: %v", path, err)
		return nil
	}
	content := string(raw)

	name := strings.TrimSuffix(filepath.Base(path), ".md")
	if match := skillName.FindStringSubmatch(content); match != nil {
		name = strings.TrimSpace(match[1])
	}
	version := "0.0.0"
	if match := skillVersion.FindStringSubmatch(content); match != nil {
		version = strings.TrimSpace(match[1])
	}
	status := "unknown"
	if match := skillStatus.FindStringSubmatch(content); match != nil {
		status = strings.TrimSpace(match[1])
	}

	skill := &Skill{
		Name:          name,
		Version:       version,
		Status:        status,
		Path:          path,
		Purpose:       extractSection(content, "Purpose"),
		Triggers:      extractSection(content, "Triggers / When to use"),
		Preconditions: extractSection(content, "Preconditions"),
		Procedure:     extractSection(content, "Procedure"),
		Commands:      extractSection(content, "Commands and tools"),
		Validation:    extractSection(content, "Validation / Self-test"),
		FailureModes:  extractSection(content, "Failure modes & recovery"),
		Notes:         extractSection(content, "Notes"),
	}
	if deps := extractSection(content, "Dependencies"); deps != "" {
		for _, line := range strings.Split(deps, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "-") {
				skill.Dependencies = append(skill.Dependencies, strings.TrimSpace(strings.TrimPrefix(line, "-")))
			}
		}
	}

	if track, ok := m.tracking.Skills[status+"/"+name]; ok {
		skill.UseCount = track.UseCount
		skill.SuccessCount = track.SuccessCount
		skill.FailureCount = track.FailureCount
		skill.LastUsed = track.LastUsed
	}
	return skill
}

// LoadAll reads every skill in the core, candidates, and learned dirs.
func (m *Manager) LoadAll() map[string]*Skill {
	skills := map[string]*Skill{}
	for _, statusDir := range []string{"core", "candidates", "learned"} {
		files, err := filepath.Glob(filepath.Join(m.skillsDir, statusDir, "*.md"))
		if err != nil {
			continue
		}
		for _, file := range files {
			if skill := m.parseSkill(file); skill != nil {
				skills[statusDir+"/"+skill.Name] = skill
			}
		}
	}
	m.cache = skills
	return skills
}

func (m *Manager) ensureCache() {
	if m.cache == nil {
		m.LoadAll()
	}
}

// Get finds a skill by name; learned takes precedence over core over
// candidates.
func (m *Manager) Get(name string) *Skill {
	m.ensureCache()
	for _, status := range []string{"learned", "core", "candidates"} {
		if skill, ok := m.cache[status+"/"+name]; ok {
			return skill
		}
	}
	return nil
}

// FindRelevant keyword-scores skills against a task description.
func (m *Manager) FindRelevant(taskDescription string, limit int) []*Skill {
	m.ensureCache()
	if limit <= 0 {
		limit = 3
	}
	taskLower := strings.ToLower(taskDescription)
	taskWords := textutil.TokenSet(taskDescription)

	type scored struct {
		score int
		skill *Skill
	}
	var candidates []scored
	for _, skill := range m.cache {
		if skill.Status == "deprecated" || skill.Status == "failed" {
			continue
		}
		searchable := skill.Name + " " + skill.Purpose + " " + skill.Triggers
		score := 0
		for word := range textutil.TokenSet(searchable) {
			if taskWords[word] {
				score++
			}
		}
		if strings.Contains(taskLower, strings.ToLower(skill.Name)) {
			score += 5
		}
		if score > 0 {
			candidates = append(candidates, scored{score, skill})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	var out []*Skill
	for i := 0; i < len(candidates) && i < limit; i++ {
		out = append(out, candidates[i].skill)
	}
	return out
}

// RecordUse counts a use and its outcome, then persists tracking.
func (m *Manager) RecordUse(name string, success bool) error {
	m.ensureCache()
	skill := m.Get(name)
	if skill == nil {
		m.logger.Warn("tried to record use of unknown skill: %s", name)
		return fmt.Errorf("unknown skill: %s", name)
	}
	key := skill.Status + "/" + skill.Name
	track, ok := m.tracking.Skills[key]
	if !ok {
		track = &trackEntry{}
		m.tracking.Skills[key] = track
	}
	track.UseCount++
	track.LastUsed = m.now().UTC().Format(time.RFC3339)
	if success {
		track.SuccessCount++
	} else {
		track.FailureCount++
	}
	return m.saveTracking()
}

// Stats describes a skill's usage and promotion readiness.
type Stats struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	Status            string `json:"status"`
	UseCount          int    `json:"use_count"`
	SuccessCount      int    `json:"success_count"`
	FailureCount      int    `json:"failure_count"`
	LastUsed          string `json:"last_used,omitempty"`
	ReadyForPromotion bool   `json:"ready_for_promotion"`
}

const promotionSuccessBar = 3

// GetStats returns usage statistics, or nil for an unknown skill.
func (m *Manager) GetStats(name string) *Stats {
	skill := m.Get(name)
	if skill == nil {
		return nil
	}
	track := m.tracking.Skills[skill.Status+"/"+skill.Name]
	if track == nil {
		track = &trackEntry{}
	}
	return &Stats{
		Name:              skill.Name,
		Version:           skill.Version,
		Status:            skill.Status,
		UseCount:          track.UseCount,
		SuccessCount:      track.SuccessCount,
		FailureCount:      track.FailureCount,
		LastUsed:          track.LastUsed,
		ReadyForPromotion: skill.Status == "candidate" && track.SuccessCount >= promotionSuccessBar,
	}
}
