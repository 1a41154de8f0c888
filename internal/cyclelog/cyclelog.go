// Package cyclelog persists per-task cycle history as append-only JSONL
// under tasks/history. Parsed histories are cached keyed by file size so
// repeated loads within a tick stay cheap.
package cyclelog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"tooey/internal/engine"
	"tooey/internal/shared/jsonx"
	"tooey/internal/shared/logging"
)

const cacheSize = 64

// Log reads and appends cycle history files.
type Log struct {
	mu         sync.Mutex
	historyDir string
	cache      *lru.Cache[string, cacheEntry]
	logger     logging.Logger
}

type cacheEntry struct {
	size   int64
	cycles []engine.CycleState
}

// New creates the history directory if missing.
func New(agentHome string) (*Log, error) {
	dir := filepath.Join(agentHome, "tasks", "history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	cache, err := lru.New[string, cacheEntry](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Log{
		historyDir: dir,
		cache:      cache,
		logger:     logging.NewComponentLogger("cyclelog"),
	}, nil
}

func (l *Log) file(taskID string) string {
	return filepath.Join(l.historyDir, taskID+".jsonl")
}

// Append writes one state as a JSON line; output is capped for storage.
func (l *Log) Append(state engine.CycleState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if state.Observation != nil {
		trimmed := state.Observation.TruncateForStorage()
		state.Observation = &trimmed
	}
	line, err := jsonx.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal cycle state: %w", err)
	}
	f, err := os.OpenFile(l.file(state.TaskID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Load reads all cycles for a task in order. Lines that fail to parse are
// skipped with a warning so old histories survive field additions.
func (l *Log) Load(taskID string) ([]engine.CycleState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.file(taskID)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat history: %w", err)
	}
	if entry, ok := l.cache.Get(taskID); ok && entry.size == info.Size() {
		return entry.cycles, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	var cycles []engine.CycleState
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var state engine.CycleState
		if err := jsonx.Unmarshal(line, &state); err != nil {
			l.logger.Warn("could not parse cycle %s:%d: %v", taskID, lineNo, err)
			continue
		}
		cycles = append(cycles, state)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	l.cache.Add(taskID, cacheEntry{size: info.Size(), cycles: cycles})
	return cycles, nil
}

// Count returns how many cycles exist for a task.
func (l *Log) Count(taskID string) (int, error) {
	cycles, err := l.Load(taskID)
	if err != nil {
		return 0, err
	}
	return len(cycles), nil
}

// Last returns the most recent cycle, or nil when the task has none.
func (l *Log) Last(taskID string) (*engine.CycleState, error) {
	cycles, err := l.Load(taskID)
	if err != nil {
		return nil, err
	}
	if len(cycles) == 0 {
		return nil, nil
	}
	return &cycles[len(cycles)-1], nil
}
