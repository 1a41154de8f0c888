package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const draftTemplate = `# Skill: %s
Version: 0.1.0
Status: candidate

## Purpose
%s

## Triggers / When to use
%s

## Preconditions
- TBD

## Dependencies
- none

## Procedure
%s

## Commands and tools
- TBD

## Validation / Self-test
- TBD

## Failure modes & recovery
- TBD

## Notes
Drafted automatically from a successful task.

## Changelog
- 0.1.0 (%s): Drafted.
`

// Draft writes a new candidate skill and returns its path. Fails if a
// candidate with the same name already exists.
func (m *Manager) Draft(name, purpose, procedure, triggers string) (string, error) {
	slug := slugify(name)
	path := filepath.Join(m.skillsDir, "candidates", slug+".md")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("candidate skill already exists: %s", slug)
	}
	if triggers == "" {
		triggers = "- TBD"
	}
	content := fmt.Sprintf(draftTemplate, name, purpose, triggers, procedure,
		m.now().UTC().Format("2006-01-02"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write skill draft: %w", err)
	}
	m.cache = nil
	m.logger.Info("drafted candidate skill: %s", slug)
	if err := m.RegenerateIndex(); err != nil {
		m.logger.Warn("could not regenerate skill index: %v", err)
	}
	return path, nil
}

func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case 'a' <= r && r <= 'z', '0' <= r && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// Promote moves a candidate to learned once it has proven itself. The bar is
// promotionSuccessBar recorded successes.
func (m *Manager) Promote(name string) error {
	m.ensureCache()
	skill, ok := m.cache["candidates/"+name]
	if !ok {
		return fmt.Errorf("no candidate skill named %s", name)
	}
	stats := m.GetStats(name)
	if stats == nil || !stats.ReadyForPromotion {
		successes := 0
		if stats != nil {
			successes = stats.SuccessCount
		}
		return fmt.Errorf("skill %s not ready for promotion: %d/%d successes",
			name, successes, promotionSuccessBar)
	}

	raw, err := os.ReadFile(skill.Path)
	if err != nil {
		return fmt.Errorf("read candidate skill: %w", err)
	}
	content := string(raw)
	content = strings.Replace(content, "Status: candidate", "Status: learned", 1)
	content = strings.Replace(content, "Version: "+skill.Version, "Version: 1.0.0", 1)
	content += fmt.Sprintf("- 1.0.0 (%s): Promoted to learned after %d successful uses.\n",
		m.now().UTC().Format("2006-01-02"), stats.SuccessCount)

	dest := filepath.Join(m.skillsDir, "learned", filepath.Base(skill.Path))
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write learned skill: %w", err)
	}
	if err := os.Remove(skill.Path); err != nil {
		return fmt.Errorf("remove candidate skill: %w", err)
	}

	if track, ok := m.tracking.Skills["candidate/"+name]; ok {
		m.tracking.Skills["learned/"+name] = track
		delete(m.tracking.Skills, "candidate/"+name)
		if err := m.saveTracking(); err != nil {
			m.logger.Warn("could not save skill tracking: %v", err)
		}
	}

	m.cache = nil
	m.logger.Info("promoted skill %s to learned", name)
	if err := m.RegenerateIndex(); err != nil {
		m.logger.Warn("could not regenerate skill index: %v", err)
	}
	return nil
}

// Deprecate retires a skill to the deprecated dir with a dated reason.
func (m *Manager) Deprecate(name, reason string) error {
	skill := m.Get(name)
	if skill == nil {
		return fmt.Errorf("unknown skill: %s", name)
	}
	if skill.Status == "core" {
		return fmt.Errorf("core skill %s cannot be deprecated", name)
	}

	raw, err := os.ReadFile(skill.Path)
	if err != nil {
		return fmt.Errorf("read skill: %w", err)
	}
	content := strings.Replace(string(raw), "Status: "+skill.Status, "Status: deprecated", 1)
	content += fmt.Sprintf("\n## Deprecated\n%s: %s\n", m.now().UTC().Format("2006-01-02"), reason)

	dest := filepath.Join(m.skillsDir, "deprecated", filepath.Base(skill.Path))
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write deprecated skill: %w", err)
	}
	if err := os.Remove(skill.Path); err != nil {
		return fmt.Errorf("remove skill: %w", err)
	}

	m.cache = nil
	m.logger.Info("deprecated skill %s: %s", name, reason)
	if err := m.RegenerateIndex(); err != nil {
		m.logger.Warn("could not regenerate skill index: %v", err)
	}
	return nil
}

// RegenerateIndex rewrites skills/index.md from the current skill set.
func (m *Manager) RegenerateIndex() error {
	skills := m.LoadAll()

	byStatus := map[string][]*Skill{}
	for key, skill := range skills {
		status := strings.SplitN(key, "/", 2)[0]
		byStatus[status] = append(byStatus[status], skill)
	}

	var b strings.Builder
	b.WriteString("# Skill Index\n\nAuto-generated. Do not edit by hand.\n")
	for _, status := range []string{"core", "learned", "candidates"} {
		group := byStatus[status]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })
		b.WriteString(fmt.Sprintf("\n## %s\n\n", strings.ToUpper(status[:1])+status[1:]))
		for _, skill := range group {
			purpose := skill.Purpose
			if idx := strings.IndexByte(purpose, '\n'); idx >= 0 {
				purpose = purpose[:idx]
			}
			b.WriteString(fmt.Sprintf("- **%s** (v%s): %s\n", skill.Name, skill.Version, purpose))
		}
	}
	return os.WriteFile(filepath.Join(m.skillsDir, "index.md"), []byte(b.String()), 0o644)
}

// ContextFor returns a context block of skills relevant to the task, or ""
// when nothing matches. The best match is included in full, the rest as a
// quick reference.
func (m *Manager) ContextFor(taskDescription string) string {
	relevant := m.FindRelevant(taskDescription, 3)
	if len(relevant) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("# Relevant Skills\n\n")
	b.WriteString(relevant[0].ToContext())
	if len(relevant) > 1 {
		b.WriteString("\n## Other available skills\n\n")
		for _, skill := range relevant[1:] {
			purpose := skill.Purpose
			if idx := strings.IndexByte(purpose, '\n'); idx >= 0 {
				purpose = purpose[:idx]
			}
			b.WriteString(fmt.Sprintf("- **%s**: %s\n", skill.Name, purpose))
		}
	}
	return b.String()
}
