// Package logging provides the printf-style diagnostic logger used across the
// runtime. This is plumbing output for operators; the structured JSONL event
// log lives in internal/events and is a separate artifact.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const logDirEnvVar = "TOOEY_LOG_DIR"

// Level is the severity of a log line.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// ParseLevel maps a config string to a Level. Unknown values default to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger is the minimal logging contract components depend on.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger { return nopLogger{} }

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}

// Category selects the backing log file.
type Category string

const (
	CategoryService Category = "service"
	CategoryLLM     Category = "llm"
)

var (
	mu       sync.Mutex
	sinks    = map[Category]*sink{}
	minLevel = LevelInfo
	console  = true
)

// Configure sets the global minimum level and console echo. Called once at
// startup from config; safe to call again (tests).
func Configure(level Level, echoConsole bool) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = level
	console = echoConsole
}

type sink struct {
	mu   sync.Mutex
	file io.Writer
}

func (s *sink) write(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		fmt.Fprintln(s.file, line)
	}
}

func categoryFileName(category Category) string {
	if category == CategoryLLM {
		return "tooey-llm.log"
	}
	return "tooey-service.log"
}

func resolveLogDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(logDirEnvVar)); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home, nil
}

func categorySink(category Category) *sink {
	mu.Lock()
	defer mu.Unlock()
	if s, ok := sinks[category]; ok {
		return s
	}
	s := &sink{}
	if dir, err := resolveLogDir(); err == nil {
		if err := os.MkdirAll(dir, 0o755); err == nil {
			path := filepath.Join(dir, categoryFileName(category))
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				s.file = f
			}
		}
	}
	sinks[category] = s
	return s
}

type componentLogger struct {
	component string
	sink      *sink
}

// NewComponentLogger returns the service logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{component: component, sink: categorySink(CategoryService)}
}

// NewLLMLogger returns a logger that writes to the dedicated LLM log file.
func NewLLMLogger(component string) Logger {
	return &componentLogger{component: component, sink: categorySink(CategoryLLM)}
}

func (l *componentLogger) log(level Level, format string, args ...any) {
	mu.Lock()
	min, echo := minLevel, console
	mu.Unlock()
	if level < min {
		return
	}
	line := fmt.Sprintf("%s [%s] %s: %s",
		time.Now().Format("2006-01-02 15:04:05.000"),
		level, l.component, fmt.Sprintf(format, args...))
	l.sink.write(line)
	if echo {
		fmt.Fprintln(os.Stderr, line)
	}
}

func (l *componentLogger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }
func (l *componentLogger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.log(LevelError, format, args...) }
