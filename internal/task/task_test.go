package task

import (
	"strings"
	"testing"
)

type testWarner struct {
	warnings []string
}

func (w *testWarner) Warn(format string, args ...any) {
	w.warnings = append(w.warnings, format)
}

const sampleRecord = `---
task_id: USE-20260101120000
priority: high
deadline: 2026-02-01T00:00:00Z
---
# Fix the flaky build

The CI build fails intermittently on the integration stage.

## Success criteria
- Build passes five times in a row
- Root cause documented
`

func TestParseSingleRecord(t *testing.T) {
	tasks := Parse(sampleRecord, nil)
	if len(tasks) != 1 {
		t.Fatalf("parsed %d tasks", len(tasks))
	}
	task := tasks[0]
	if task.TaskID != "USE-20260101120000" {
		t.Errorf("task_id = %q", task.TaskID)
	}
	if task.Priority != "high" {
		t.Errorf("priority = %q", task.Priority)
	}
	if task.Deadline == nil {
		t.Fatal("deadline missing")
	}
	if task.Description != "The CI build fails intermittently on the integration stage." {
		t.Errorf("description = %q", task.Description)
	}
	if len(task.SuccessCriteria) != 2 || task.SuccessCriteria[0] != "Build passes five times in a row" {
		t.Errorf("criteria = %v", task.SuccessCriteria)
	}
	if task.Origin != OriginUser {
		t.Errorf("origin = %q", task.Origin)
	}
}

func TestParsePrioritySort(t *testing.T) {
	content := strings.Join([]string{
		"---\ntask_id: T-LOW\npriority: low\n---\nlow work\n",
		"---\ntask_id: T-HIGH\npriority: high\n---\nhigh work\n",
		"---\ntask_id: T-MED\npriority: medium\n---\nmedium work\n",
	}, "\n")

	tasks := Parse(content, nil)
	if len(tasks) != 3 {
		t.Fatalf("parsed %d tasks", len(tasks))
	}
	got := []string{tasks[0].TaskID, tasks[1].TaskID, tasks[2].TaskID}
	want := []string{"T-HIGH", "T-MED", "T-LOW"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestParseDeadlineBreaksTies(t *testing.T) {
	content := strings.Join([]string{
		"---\ntask_id: T-LATER\npriority: medium\ndeadline: 2026-03-01\n---\nlater\n",
		"---\ntask_id: T-SOON\npriority: medium\ndeadline: 2026-02-01\n---\nsoon\n",
		"---\ntask_id: T-NONE\npriority: medium\n---\nno deadline\n",
	}, "\n")

	tasks := Parse(content, nil)
	if len(tasks) != 3 {
		t.Fatalf("parsed %d tasks", len(tasks))
	}
	if tasks[0].TaskID != "T-SOON" || tasks[1].TaskID != "T-LATER" || tasks[2].TaskID != "T-NONE" {
		t.Errorf("order = %s, %s, %s", tasks[0].TaskID, tasks[1].TaskID, tasks[2].TaskID)
	}
}

func TestParseContextBlock(t *testing.T) {
	content := `---
task_id: T-CTX
priority: medium
origin: curiosity
parent_task: T-PARENT
curiosity_depth: 1
context: |
  User replied: use port 9090
  Second line
---
Do the thing with the port.
`
	tasks := Parse(content, nil)
	if len(tasks) != 1 {
		t.Fatalf("parsed %d tasks", len(tasks))
	}
	task := tasks[0]
	if task.Context != "User replied: use port 9090\nSecond line" {
		t.Errorf("context = %q", task.Context)
	}
	if task.Origin != OriginCuriosity {
		t.Errorf("origin = %q", task.Origin)
	}
	if task.ParentTaskID != "T-PARENT" || task.CuriosityDepth != 1 {
		t.Errorf("parent = %q, depth = %d", task.ParentTaskID, task.CuriosityDepth)
	}
}

func TestParseSkipsMalformedRecords(t *testing.T) {
	content := "---\npriority: high\n---\nno id here\n\n" + sampleRecord
	w := &testWarner{}
	tasks := Parse(content, w)
	if len(tasks) != 1 {
		t.Fatalf("parsed %d tasks, want the one valid record", len(tasks))
	}
}

func TestParseBadDeadlineWarns(t *testing.T) {
	content := "---\ntask_id: T-BAD\npriority: low\ndeadline: soonish\n---\nwork\n"
	w := &testWarner{}
	tasks := Parse(content, w)
	if len(tasks) != 1 {
		t.Fatalf("parsed %d tasks", len(tasks))
	}
	if tasks[0].Deadline != nil {
		t.Error("unparsable deadline should stay nil")
	}
	if len(w.warnings) == 0 {
		t.Error("expected a warning for the bad deadline")
	}
}

func TestRank(t *testing.T) {
	if Rank("high") >= Rank("medium") || Rank("medium") >= Rank("low") {
		t.Error("priority ranks out of order")
	}
	if Rank("whenever") != 99 {
		t.Errorf("unknown priority rank = %d", Rank("whenever"))
	}
}
