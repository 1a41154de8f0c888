// Package executor runs shell commands on the host with a wall-clock timeout
// and full capture. Every execution is recorded in the event log.
package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"tooey/internal/events"
	"tooey/internal/shared/logging"
)

// Result is the outcome of one command execution.
type Result struct {
	Command    string
	Args       []string
	Cwd        string
	ExitCode   int
	Stdout     string
	Stderr     string
	DurationMS int64
	TimedOut   bool
}

// EventSink is the slice of the event log the executor needs.
type EventSink interface {
	Append(events.Event) error
}

// Executor runs commands, defaulting cwd to the agent's scratch directory.
type Executor struct {
	scratchDir     string
	defaultTimeout time.Duration
	eventLog       EventSink
	logger         logging.Logger
}

// New creates an executor rooted at agentHome. The scratch directory is
// created on first use.
func New(agentHome string, eventLog EventSink, defaultTimeout time.Duration) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = 300 * time.Second
	}
	return &Executor{
		scratchDir:     filepath.Join(agentHome, "scratch"),
		defaultTimeout: defaultTimeout,
		eventLog:       eventLog,
		logger:         logging.NewComponentLogger("executor"),
	}
}

// Options refine a single execution.
type Options struct {
	Cwd     string
	Timeout time.Duration
	TaskID  string
	Skill   string
}

// Execute runs command with args. A zero Options.Timeout uses the executor
// default; Options.Cwd defaults to the scratch directory. The child runs in
// its own process group so a timeout or cancellation kills the whole tree.
func (e *Executor) Execute(ctx context.Context, command string, args []string, opts Options) Result {
	cwd := opts.Cwd
	if cwd == "" {
		if err := os.MkdirAll(e.scratchDir, 0o755); err != nil {
			e.logger.Error("cannot create scratch dir: %v", err)
		}
		cwd = e.scratchDir
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	res := Result{Command: command, Args: args, Cwd: cwd}
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = cwd
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid addresses the process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res.DurationMS = time.Since(start).Milliseconds()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	switch {
	case err == nil:
		res.ExitCode = 0
	case runCtx.Err() != nil:
		res.TimedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
		res.ExitCode = -1
		res.Stderr = "Command timed out after " + timeout.String()
		if !res.TimedOut {
			res.Stderr = "Command cancelled"
		}
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			// Spawn failure: missing executable, permission, bad cwd.
			res.ExitCode = 127
			res.Stderr = "Command not found"
		}
	}

	e.logger.Info("executed %s (exit=%d, %dms)", command, res.ExitCode, res.DurationMS)
	if e.eventLog != nil {
		if err := e.eventLog.Append(events.CommandExecuted(
			command, args, cwd, res.ExitCode, res.DurationMS, opts.TaskID, opts.Skill,
		)); err != nil {
			e.logger.Error("event log append failed: %v", err)
		}
	}
	return res
}

// ExecuteShell runs a one-line shell command through bash -c.
func (e *Executor) ExecuteShell(ctx context.Context, script string, opts Options) Result {
	return e.Execute(ctx, "bash", []string{"-c", script}, opts)
}
