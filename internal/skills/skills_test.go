package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const coreSkill = `# Skill: shell_debugging
Version: 1.0.0
Status: core

## Purpose
Diagnose failing shell commands by inspecting exit codes and stderr.

## Triggers / When to use
- A command exits non-zero for unclear reasons

## Preconditions
- Shell access

## Dependencies
- bash
- coreutils

## Procedure
1. Rerun the command with set -x.
2. Inspect stderr line by line.

## Commands and tools
- bash -x

## Validation / Self-test
- The failing command's root cause is identified

## Failure modes & recovery
If set -x output is too noisy, narrow to the failing pipeline stage.

## Notes
none
`

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	home := t.TempDir()
	m, err := NewManager(home)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "skills", "core", "shell_debugging.md"), []byte(coreSkill), 0o644); err != nil {
		t.Fatalf("write core skill: %v", err)
	}
	return m.WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})
}

func TestParseCoreSkill(t *testing.T) {
	m := newTestManager(t)
	skill := m.Get("shell_debugging")
	if skill == nil {
		t.Fatal("core skill not found")
	}
	if skill.Status != "core" || skill.Version != "1.0.0" {
		t.Errorf("skill = %+v", skill)
	}
	if !strings.Contains(skill.Purpose, "exit codes") {
		t.Errorf("purpose = %q", skill.Purpose)
	}
	if !strings.Contains(skill.Procedure, "set -x") {
		t.Errorf("procedure = %q", skill.Procedure)
	}
	if len(skill.Dependencies) != 2 || skill.Dependencies[0] != "bash" {
		t.Errorf("dependencies = %v", skill.Dependencies)
	}
	if skill.FullName() != "core/shell_debugging@1.0.0" {
		t.Errorf("full name = %q", skill.FullName())
	}
}

func TestDraftCreatesCandidate(t *testing.T) {
	m := newTestManager(t)

	path, err := m.Draft("Log Rotation Check", "Verify logrotate configs", "1. Run logrotate -d", "")
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if filepath.Base(path) != "log_rotation_check.md" {
		t.Errorf("path = %q", path)
	}

	skill := m.Get("Log Rotation Check")
	if skill == nil {
		t.Fatal("drafted skill not found")
	}
	if skill.Status != "candidate" || skill.Version != "0.1.0" {
		t.Errorf("skill = %+v", skill)
	}

	if _, err := m.Draft("Log Rotation Check", "again", "steps", ""); err == nil {
		t.Error("duplicate draft should fail")
	}

	index, err := os.ReadFile(filepath.Join(m.skillsDir, "index.md"))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	if !strings.Contains(string(index), "Log Rotation Check") {
		t.Errorf("index missing drafted skill:\n%s", index)
	}
}

func TestRecordUseAndStats(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Draft("Cache Warmup", "Warm caches before deploys", "1. curl the hot paths", ""); err != nil {
		t.Fatalf("Draft: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := m.RecordUse("Cache Warmup", true); err != nil {
			t.Fatalf("RecordUse: %v", err)
		}
	}
	if err := m.RecordUse("Cache Warmup", false); err != nil {
		t.Fatalf("RecordUse: %v", err)
	}

	stats := m.GetStats("Cache Warmup")
	if stats == nil {
		t.Fatal("stats missing")
	}
	if stats.UseCount != 4 || stats.SuccessCount != 3 || stats.FailureCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if !stats.ReadyForPromotion {
		t.Error("three successes should make the candidate promotable")
	}

	if err := m.RecordUse("no_such_skill", true); err == nil {
		t.Error("unknown skill should error")
	}
}

func TestTrackingSurvivesReload(t *testing.T) {
	home := t.TempDir()
	m, err := NewManager(home)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.Draft("Disk Cleanup", "Free disk space", "1. du -sh", ""); err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if err := m.RecordUse("Disk Cleanup", true); err != nil {
		t.Fatalf("RecordUse: %v", err)
	}

	reloaded, err := NewManager(home)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	stats := reloaded.GetStats("Disk Cleanup")
	if stats == nil || stats.SuccessCount != 1 {
		t.Errorf("stats after reload = %+v", stats)
	}
}

func TestPromote(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Draft("Backup Verify", "Verify nightly backups restore", "1. restore to scratch", ""); err != nil {
		t.Fatalf("Draft: %v", err)
	}

	if err := m.Promote("Backup Verify"); err == nil {
		t.Fatal("unproven candidate should not promote")
	}

	for i := 0; i < 3; i++ {
		if err := m.RecordUse("Backup Verify", true); err != nil {
			t.Fatalf("RecordUse: %v", err)
		}
	}
	if err := m.Promote("Backup Verify"); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(m.skillsDir, "learned", "backup_verify.md"))
	if err != nil {
		t.Fatalf("read promoted skill: %v", err)
	}
	text := string(raw)
	if !strings.Contains(text, "Status: learned") || !strings.Contains(text, "Version: 1.0.0") {
		t.Errorf("promoted content:\n%s", text)
	}
	if !strings.Contains(text, "Promoted to learned after 3 successful uses.") {
		t.Errorf("changelog missing:\n%s", text)
	}
	if _, err := os.Stat(filepath.Join(m.skillsDir, "candidates", "backup_verify.md")); !os.IsNotExist(err) {
		t.Error("candidate file should be gone")
	}

	skill := m.Get("Backup Verify")
	if skill == nil || skill.Status != "learned" {
		t.Errorf("skill after promotion = %+v", skill)
	}
	stats := m.GetStats("Backup Verify")
	if stats == nil || stats.SuccessCount != 3 {
		t.Errorf("tracking should follow the promotion: %+v", stats)
	}
}

func TestDeprecate(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Draft("Old Approach", "An approach that stopped working", "1. do it the old way", ""); err != nil {
		t.Fatalf("Draft: %v", err)
	}

	if err := m.Deprecate("shell_debugging", "testing"); err == nil {
		t.Error("core skills must not be deprecatable")
	}

	if err := m.Deprecate("Old Approach", "superseded by the new deploy flow"); err != nil {
		t.Fatalf("Deprecate: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(m.skillsDir, "deprecated", "old_approach.md"))
	if err != nil {
		t.Fatalf("read deprecated skill: %v", err)
	}
	if !strings.Contains(string(raw), "Status: deprecated") || !strings.Contains(string(raw), "superseded by the new deploy flow") {
		t.Errorf("deprecated content:\n%s", raw)
	}
	if m.Get("Old Approach") != nil {
		t.Error("deprecated skill should not load")
	}
}

func TestFindRelevantAndContextFor(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Draft("Database Migration", "Apply schema migrations safely", "1. backup, 2. migrate, 3. verify", "- schema change tasks"); err != nil {
		t.Fatalf("Draft: %v", err)
	}

	relevant := m.FindRelevant("debug the failing shell command in CI", 3)
	if len(relevant) == 0 || relevant[0].Name != "shell_debugging" {
		t.Fatalf("relevant = %+v", relevant)
	}

	ctx := m.ContextFor("debug the failing shell command in CI")
	if !strings.Contains(ctx, "# Relevant Skills") {
		t.Errorf("context = %q", ctx)
	}
	if !strings.Contains(ctx, "## Skill: shell_debugging (v1.0.0)") {
		t.Errorf("best match should appear in full:\n%s", ctx)
	}

	if m.ContextFor("completely unrelated quantum topic") != "" {
		t.Error("no match should yield an empty context block")
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Log Rotation Check": "log_rotation_check",
		"  spaced  ":         "spaced",
		"Mixed-Case_Name 2":  "mixed_case_name_2",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
