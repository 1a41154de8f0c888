// Package events implements the append-only structured event log. One JSON
// object per line, day-partitioned under logs/events/<YYYY-MM-DD>.jsonl.
package events

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tooey/internal/shared/jsonx"
)

// Context ties an event to the task or skill that produced it.
type Context struct {
	TaskID          string `json:"task_id,omitempty"`
	TriggeringSkill string `json:"triggering_skill,omitempty"`
	Intent          string `json:"intent,omitempty"`
}

// CommandRecord describes one executed command inside an execution payload.
type CommandRecord struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args"`
	Cwd  string   `json:"cwd"`
}

// Execution is the payload for command_execution events.
type Execution struct {
	Commands   []CommandRecord `json:"commands"`
	ExitCodes  []int           `json:"exit_codes"`
	DurationMS int64           `json:"duration_ms"`
}

// Outcomes captures what an event changed or observed.
type Outcomes struct {
	FilesModified    []string `json:"files_modified,omitempty"`
	ArtifactsCreated []string `json:"artifacts_created,omitempty"`
	Observations     string   `json:"observations,omitempty"`
}

// Metadata carries LM accounting fields.
type Metadata struct {
	LLMModel       string   `json:"llm_model,omitempty"`
	ContextTokens  int      `json:"context_tokens,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	CuriositySpend *float64 `json:"curiosity_spend,omitempty"`
}

// Event is one line of the JSONL event log. Level is written on every event.
type Event struct {
	Timestamp string     `json:"timestamp"`
	EventType string     `json:"event_type"`
	Level     string     `json:"level"`
	Context   *Context   `json:"context,omitempty"`
	Execution *Execution `json:"execution,omitempty"`
	Outcomes  *Outcomes  `json:"outcomes,omitempty"`
	Metadata  *Metadata  `json:"metadata,omitempty"`
}

// Log appends events to the day-partitioned JSONL files. Appends are durable
// (flushed) before Append returns; write failures are reported on stderr with
// the full event body, never swallowed.
type Log struct {
	dir   string
	now   func() time.Time
	mu    sync.Mutex // serializes appends; payloads routinely exceed PIPE_BUF
	errW  func(format string, args ...any)
	files map[string]*os.File
}

// NewLog creates the event log rooted at agentHome/logs/events.
func NewLog(agentHome string) (*Log, error) {
	dir := filepath.Join(agentHome, "logs", "events")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create events dir: %w", err)
	}
	return &Log{
		dir: dir,
		now: time.Now,
		errW: func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		},
		files: map[string]*os.File{},
	}, nil
}

// WithClock overrides the time source (tests).
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Path returns the log file path for the given local date.
func (l *Log) Path(date string) string {
	return filepath.Join(l.dir, date+".jsonl")
}

func (l *Log) todayFile() (*os.File, error) {
	day := l.now().Format("2006-01-02")
	if f, ok := l.files[day]; ok {
		return f, nil
	}
	f, err := os.OpenFile(l.Path(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	// A rolled-over previous day's handle stays open harmlessly until Close.
	l.files[day] = f
	return f, nil
}

// Append writes one event. The timestamp and level are filled in when absent.
func (l *Log) Append(event Event) error {
	if event.Timestamp == "" {
		event.Timestamp = l.now().UTC().Format(time.RFC3339)
	}
	if event.Level == "" {
		event.Level = "INFO"
	}

	line, err := jsonx.Marshal(event)
	if err != nil {
		l.critical(event, err)
		return fmt.Errorf("marshal event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := l.todayFile()
	if err == nil {
		_, err = f.Write(append(line, '\n'))
	}
	if err != nil {
		l.critical(event, err)
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (l *Log) critical(event Event, err error) {
	l.errW("CRITICAL: failed to write event log: %v", err)
	if body, merr := jsonx.Marshal(event); merr == nil {
		l.errW("Event: %s", body)
	} else {
		l.errW("Event: %+v", event)
	}
}

// Close releases open log file handles.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = map[string]*os.File{}
	return first
}

// Read loads all parseable events for a local date. Unparsable lines are
// skipped: readers must tolerate mid-write reads.
func (l *Log) Read(date string) ([]Event, error) {
	raw, err := os.ReadFile(l.Path(date))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseLines(raw), nil
}

func parseLines(raw []byte) []Event {
	var out []Event
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == '\n' {
			line := raw[start:i]
			start = i + 1
			if len(line) == 0 {
				continue
			}
			var ev Event
			if err := jsonx.Unmarshal(line, &ev); err == nil && ev.EventType != "" {
				out = append(out, ev)
			}
		}
	}
	return out
}

// Convenience constructors for the runtime's common events.

// CommandExecuted builds a command_execution event.
func CommandExecuted(cmd string, args []string, cwd string, exitCode int, durationMS int64, taskID, skill string) Event {
	return Event{
		EventType: "command_execution",
		Level:     "INFO",
		Context:   &Context{TaskID: taskID, TriggeringSkill: skill},
		Execution: &Execution{
			Commands:   []CommandRecord{{Cmd: cmd, Args: args, Cwd: cwd}},
			ExitCodes:  []int{exitCode},
			DurationMS: durationMS,
		},
	}
}

// TaskUpdate builds a task_update event.
func TaskUpdate(taskID, status, message string) Event {
	return Event{
		EventType: "task_update",
		Level:     "INFO",
		Context:   &Context{TaskID: taskID},
		Outcomes:  &Outcomes{Observations: status + ": " + message},
	}
}

// ErrorEvent builds an error event.
func ErrorEvent(taskID, intent, message string) Event {
	return Event{
		EventType: "error",
		Level:     "ERROR",
		Context:   &Context{TaskID: taskID, Intent: intent},
		Outcomes:  &Outcomes{Observations: message},
	}
}

// Generic builds an event whose payload is a JSON-encoded observations blob.
func Generic(eventType, level, taskID string, data any) Event {
	obs := ""
	if data != nil {
		if body, err := jsonx.Marshal(data); err == nil {
			obs = string(body)
		}
	}
	ev := Event{EventType: eventType, Level: level, Outcomes: &Outcomes{Observations: obs}}
	if taskID != "" {
		ev.Context = &Context{TaskID: taskID}
	}
	return ev
}
