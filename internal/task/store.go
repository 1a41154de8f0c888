package task

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tooey/internal/shared/logging"
)

const activeSentinel = "# Active Task\n\n*No active task*\n"

// Store manages the task files under <agentHome>/tasks.
type Store struct {
	tasksDir     string
	inboxPath    string
	activePath   string
	completedDir string
	blockedDir   string
	logger       logging.Logger
	now          func() time.Time
}

// NewStore creates the tasks directory tree if missing.
func NewStore(agentHome string) (*Store, error) {
	s := &Store{
		tasksDir: filepath.Join(agentHome, "tasks"),
		logger:   logging.NewComponentLogger("tasks"),
		now:      time.Now,
	}
	s.inboxPath = filepath.Join(s.tasksDir, "inbox.md")
	s.activePath = filepath.Join(s.tasksDir, "active.md")
	s.completedDir = filepath.Join(s.tasksDir, "completed")
	s.blockedDir = filepath.Join(s.tasksDir, "blocked")
	for _, dir := range []string{s.tasksDir, s.completedDir, s.blockedDir, filepath.Join(s.tasksDir, "history")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return s, nil
}

// WithClock overrides the store's clock. Tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Pending parses the inbox, ordered by (priority rank, deadline).
func (s *Store) Pending() ([]Task, error) {
	content, err := os.ReadFile(s.inboxPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	return Parse(string(content), s.logger), nil
}

// Active returns the singleton active task, or nil when the sentinel is set.
func (s *Store) Active() (*Task, error) {
	content, err := os.ReadFile(s.activePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read active: %w", err)
	}
	if strings.Contains(string(content), "*No active task*") {
		return nil, nil
	}
	tasks := Parse(string(content), s.logger)
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

// Activate moves a record from the inbox to active.md. Both writes go
// through a temp file and rename so a crash never leaves a torn record.
func (s *Store) Activate(t Task) error {
	if err := writeAtomic(s.activePath, t.RawContent); err != nil {
		return fmt.Errorf("write active: %w", err)
	}
	content, err := os.ReadFile(s.inboxPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read inbox: %w", err)
	}
	updated := strings.Replace(string(content), t.RawContent, "", 1)
	if err := writeAtomic(s.inboxPath, updated); err != nil {
		return fmt.Errorf("rewrite inbox: %w", err)
	}
	s.logger.Info("activated task %s", t.TaskID)
	return nil
}

// Complete writes the completion report and clears active.
func (s *Store) Complete(t Task, summary, approach string, artifacts []string, learnings string) error {
	artifactsText := "None"
	if len(artifacts) > 0 {
		var b strings.Builder
		for _, a := range artifacts {
			fmt.Fprintf(&b, "- %s\n", a)
		}
		artifactsText = strings.TrimRight(b.String(), "\n")
	}
	if learnings == "" {
		learnings = "None noted."
	}
	report := fmt.Sprintf(`# Task: %s
Status: ✅ Complete
Completed: %s

## Summary
%s

## Approach
%s

## Artifacts
%s

## Learnings
%s
`, t.TaskID, s.now().Format("2006-01-02"), summary, approach, artifactsText, learnings)

	if err := writeAtomic(filepath.Join(s.completedDir, t.TaskID+".md"), report); err != nil {
		return fmt.Errorf("write completion report: %w", err)
	}
	if err := s.clearActive(); err != nil {
		return err
	}
	s.logger.Info("completed task %s", t.TaskID)
	return nil
}

// Block writes the blocked report and clears active.
func (s *Store) Block(t Task, reason string) error {
	report := fmt.Sprintf(`# Task: %s
Status: ⏸ Blocked
Blocked: %s

## Reason
%s

## Original Task
%s
`, t.TaskID, s.now().Format("2006-01-02"), reason, t.RawContent)

	if err := writeAtomic(filepath.Join(s.blockedDir, t.TaskID+".md"), report); err != nil {
		return fmt.Errorf("write blocked report: %w", err)
	}
	if err := s.clearActive(); err != nil {
		return err
	}
	s.logger.Info("blocked task %s: %s", t.TaskID, reason)
	return nil
}

// Pause re-inserts the task into the inbox annotated with the reason, then
// clears active. The annotation sits at the top of the body so a human (or
// the next activation) sees why it stopped.
func (s *Store) Pause(t Task, reason string) error {
	paused := strings.Replace(
		t.RawContent,
		"---\n"+t.Description,
		fmt.Sprintf("---\n[PAUSED: %s]\n\n%s", reason, t.Description),
		1,
	)
	if paused == t.RawContent {
		// Body did not start right at the fence; prepend the note instead.
		paused = fmt.Sprintf("[PAUSED: %s]\n%s", reason, t.RawContent)
	}
	content, err := os.ReadFile(s.inboxPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read inbox: %w", err)
	}
	if err := writeAtomic(s.inboxPath, string(content)+"\n"+paused); err != nil {
		return fmt.Errorf("append paused task: %w", err)
	}
	if err := s.clearActive(); err != nil {
		return err
	}
	s.logger.Info("paused task %s: %s", t.TaskID, reason)
	return nil
}

// CreateOptions refine Create beyond description and origin.
type CreateOptions struct {
	Priority        string
	Deadline        *time.Time
	ParentTaskID    string
	Context         string
	SuccessCriteria []string
	CuriosityDepth  int
}

// Create appends a new record to the inbox. The id is shaped
// <ORIGIN_PREFIX>-<yyyymmddHHMMSS>.
func (s *Store) Create(description string, origin Origin, opts CreateOptions) (*Task, error) {
	priority := opts.Priority
	if priority == "" {
		priority = "medium"
	}
	taskID := fmt.Sprintf("%s-%s", strings.ToUpper(string(origin)[:3]), s.now().Format("20060102150405"))

	criteria := opts.SuccessCriteria
	if len(criteria) == 0 {
		criteria = []string{"Task completed successfully"}
	}
	var header strings.Builder
	fmt.Fprintf(&header, "---\ntask_id: %s\npriority: %s\n", taskID, priority)
	if opts.Deadline != nil {
		fmt.Fprintf(&header, "deadline: %s\n", opts.Deadline.UTC().Format(time.RFC3339))
	}
	if origin != OriginUser {
		fmt.Fprintf(&header, "origin: %s\n", origin)
	}
	if opts.ParentTaskID != "" {
		fmt.Fprintf(&header, "parent_task: %s\n", opts.ParentTaskID)
	}
	if opts.CuriosityDepth > 0 {
		fmt.Fprintf(&header, "curiosity_depth: %d\n", opts.CuriosityDepth)
	}
	if opts.Context != "" {
		header.WriteString("context: |\n")
		for _, line := range strings.Split(opts.Context, "\n") {
			fmt.Fprintf(&header, "  %s\n", line)
		}
	}
	header.WriteString("---\n")

	var body strings.Builder
	body.WriteString(description)
	body.WriteString("\n\n## Success criteria\n")
	for _, c := range criteria {
		fmt.Fprintf(&body, "- %s\n", c)
	}
	raw := header.String() + body.String()

	current, err := os.ReadFile(s.inboxPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	if err := writeAtomic(s.inboxPath, string(current)+"\n"+raw); err != nil {
		return nil, fmt.Errorf("append task: %w", err)
	}
	s.logger.Info("created task %s (origin=%s)", taskID, origin)

	return &Task{
		TaskID:          taskID,
		Priority:        priority,
		Deadline:        opts.Deadline,
		Context:         opts.Context,
		Description:     description,
		SuccessCriteria: criteria,
		RawContent:      raw,
		Origin:          origin,
		ParentTaskID:    opts.ParentTaskID,
		CuriosityDepth:  opts.CuriosityDepth,
		CreatedAt:       s.now(),
	}, nil
}

// Node is one element of a parent/child task tree.
type Node struct {
	Task     Task   `json:"task"`
	Children []Node `json:"children"`
}

// Tree traverses pending plus active tasks via parent_task links.
func (s *Store) Tree(rootID string) (*Node, error) {
	all, err := s.Pending()
	if err != nil {
		return nil, err
	}
	if active, err := s.Active(); err == nil && active != nil {
		all = append(all, *active)
	}

	var root *Task
	for i := range all {
		if all[i].TaskID == rootID {
			root = &all[i]
			break
		}
	}
	if root == nil {
		return nil, fmt.Errorf("task %s not found", rootID)
	}

	var children func(parentID string) []Node
	children = func(parentID string) []Node {
		var out []Node
		for _, t := range all {
			if t.ParentTaskID == parentID {
				out = append(out, Node{Task: t, Children: children(t.TaskID)})
			}
		}
		return out
	}
	return &Node{Task: *root, Children: children(rootID)}, nil
}

// ByID searches active then pending.
func (s *Store) ByID(taskID string) (*Task, error) {
	if active, err := s.Active(); err != nil {
		return nil, err
	} else if active != nil && active.TaskID == taskID {
		return active, nil
	}
	pending, err := s.Pending()
	if err != nil {
		return nil, err
	}
	for i := range pending {
		if pending[i].TaskID == taskID {
			return &pending[i], nil
		}
	}
	return nil, nil
}

func (s *Store) clearActive() error {
	if err := writeAtomic(s.activePath, activeSentinel); err != nil {
		return fmt.Errorf("clear active: %w", err)
	}
	return nil
}

func writeAtomic(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
