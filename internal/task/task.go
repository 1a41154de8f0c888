// Package task owns the on-disk task queue: a markdown inbox of fenced
// records, a singleton active file, and completed/blocked report folders.
package task

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Origin records where a task came from.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginPlan      Origin = "plan"
	OriginCuriosity Origin = "curiosity"
	OriginRecovery  Origin = "recovery"
)

// Task is one parsed inbox record.
type Task struct {
	TaskID          string
	Priority        string
	Deadline        *time.Time
	Context         string
	Description     string
	SuccessCriteria []string
	RawContent      string
	Origin          Origin
	ParentTaskID    string
	CuriosityDepth  int
	CreatedAt       time.Time
}

var priorityRank = map[string]int{"high": 0, "medium": 1, "low": 2}

// Rank maps a priority to its sort position; unknown priorities sink last.
func Rank(priority string) int {
	if r, ok := priorityRank[priority]; ok {
		return r
	}
	return 99
}

var (
	criteriaSection = regexp.MustCompile(`(?im)^##\s*Success\s+criteria\s*\n((?:[-*]\s+[^\n]+\n?)+)`)
	leadingHeader   = regexp.MustCompile(`^#\s+[^\n]+\n`)
)

// Warner receives notices about records the parser had to skip.
type Warner interface {
	Warn(format string, args ...any)
}

// Parse reads every fenced task record out of content. A record opens with a
// --- line followed by a task_id header, closes its header with a second ---,
// and runs until the next record or end of input. Unknown header fields are
// ignored; records without a task_id or closing fence are skipped.
func Parse(content string, warn Warner) []Task {
	lines := strings.Split(content, "\n")
	var tasks []Task

	i := 0
	for i < len(lines) {
		if !isFence(lines[i]) || i+1 >= len(lines) || !strings.HasPrefix(strings.TrimSpace(lines[i+1]), "task_id:") {
			i++
			continue
		}
		start := i
		header := map[string]string{}
		contextLines := []string{}
		j := i + 1
		closed := false
		for j < len(lines) {
			line := lines[j]
			if isFence(line) {
				closed = true
				j++
				break
			}
			if key, value, ok := strings.Cut(line, ":"); ok {
				key = strings.TrimSpace(key)
				value = strings.TrimSpace(value)
				if key == "context" {
					// context: | opens an indented block
					for j+1 < len(lines) && strings.HasPrefix(lines[j+1], "  ") {
						j++
						contextLines = append(contextLines, strings.TrimPrefix(lines[j], "  "))
					}
					if value != "" && value != "|" {
						contextLines = append([]string{value}, contextLines...)
					}
				} else {
					header[key] = value
				}
			}
			j++
		}
		if !closed || header["task_id"] == "" {
			if warn != nil {
				warn.Warn("skipping malformed task record at line %d", start+1)
			}
			i = j
			continue
		}

		// Body runs until the next record start.
		bodyStart := j
		for j < len(lines) {
			if isFence(lines[j]) && j+1 < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[j+1]), "task_id:") {
				break
			}
			j++
		}
		body := strings.TrimSpace(strings.Join(lines[bodyStart:j], "\n"))
		raw := strings.Join(lines[start:j], "\n")
		if j < len(lines) {
			raw += "\n"
		}

		t := buildTask(header, strings.TrimSpace(strings.Join(contextLines, "\n")), body, raw, warn)
		tasks = append(tasks, t)
		i = j
	}

	sort.SliceStable(tasks, func(a, b int) bool {
		ra, rb := Rank(tasks[a].Priority), Rank(tasks[b].Priority)
		if ra != rb {
			return ra < rb
		}
		da, db := deadlineOrMax(tasks[a].Deadline), deadlineOrMax(tasks[b].Deadline)
		return da.Before(db)
	})
	return tasks
}

func isFence(line string) bool {
	return strings.TrimSpace(line) == "---"
}

func deadlineOrMax(d *time.Time) time.Time {
	if d == nil {
		return time.Unix(1<<62/int64(time.Second), 0)
	}
	return *d
}

func buildTask(header map[string]string, context, body, raw string, warn Warner) Task {
	t := Task{
		TaskID:     header["task_id"],
		Priority:   strings.ToLower(header["priority"]),
		Context:    context,
		RawContent: raw,
		Origin:     OriginUser,
		CreatedAt:  time.Now(),
	}

	if dl := header["deadline"]; dl != "" {
		if parsed, err := time.Parse(time.RFC3339, dl); err == nil {
			t.Deadline = &parsed
		} else if parsed, err := time.Parse("2006-01-02", dl); err == nil {
			t.Deadline = &parsed
		} else if warn != nil {
			warn.Warn("could not parse deadline %q for task %s", dl, t.TaskID)
		}
	}

	switch Origin(strings.ToLower(header["origin"])) {
	case OriginPlan:
		t.Origin = OriginPlan
	case OriginCuriosity:
		t.Origin = OriginCuriosity
	case OriginRecovery:
		t.Origin = OriginRecovery
	}
	t.ParentTaskID = header["parent_task"]
	if d := header["curiosity_depth"]; d != "" {
		if n, err := strconv.Atoi(d); err == nil {
			t.CuriosityDepth = n
		}
	}

	if m := criteriaSection.FindStringSubmatchIndex(body); m != nil {
		block := body[m[2]:m[3]]
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			line = strings.TrimLeft(line, "-*")
			line = strings.TrimSpace(line)
			if line != "" {
				t.SuccessCriteria = append(t.SuccessCriteria, line)
			}
		}
		body = strings.TrimSpace(body[:m[0]])
	}
	t.Description = strings.TrimSpace(leadingHeader.ReplaceAllString(body, ""))
	return t
}
