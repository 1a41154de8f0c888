package agent

import (
	"fmt"
	"os"
	"path/filepath"
)

// Check is one health-check verdict.
type Check struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

var bootFiles = []string{"identity.md", "invariants.md", "operating_principles.md"}

// HealthCheck probes the filesystem and the model endpoint.
func (a *Agent) HealthCheck() map[string]Check {
	home := a.svc.Config.AgentHome
	results := map[string]Check{}

	_, err := os.Stat(home)
	results["agent_home"] = Check{OK: err == nil, Message: "Agent home: " + home}

	bootOK := true
	for _, f := range bootFiles {
		if _, err := os.Stat(filepath.Join(home, "boot", f)); err != nil {
			bootOK = false
			break
		}
	}
	msg := "Boot files present"
	if !bootOK {
		msg = "Missing boot files"
	}
	results["boot_files"] = Check{OK: bootOK, Message: msg}

	testPath := filepath.Join(home, "logs", "events", ".write_test")
	if err := os.WriteFile(testPath, []byte("test"), 0o644); err != nil {
		results["logs_writable"] = Check{OK: false, Message: fmt.Sprintf("Cannot write to logs: %v", err)}
	} else {
		os.Remove(testPath)
		results["logs_writable"] = Check{OK: true, Message: "Logs directory writable"}
	}

	llmOK := a.svc.LLM.Health()
	state := "unreachable"
	if llmOK {
		state = "reachable"
	}
	results["llm_connection"] = Check{
		OK:      llmOK,
		Message: fmt.Sprintf("LLM (%s) %s", a.svc.Config.LLM.Provider, state),
	}

	if hash := a.svc.Context.InvariantsHash(); hash != "" {
		results["invariants"] = Check{OK: true, Message: "Invariants hash: " + hash[:16] + "..."}
	} else {
		results["invariants"] = Check{OK: false, Message: "Cannot read invariants"}
	}

	return results
}

// Preflight verifies the checks a tick cannot run without. The model probe
// is deliberately excluded: a down model fails cycles, not the tick itself.
func (a *Agent) Preflight() (bool, []string) {
	results := a.HealthCheck()
	required := []string{"agent_home", "boot_files", "logs_writable"}
	var problems []string
	for _, key := range required {
		if check, ok := results[key]; !ok || !check.OK {
			problems = append(problems, key+": "+check.Message)
		}
	}
	return len(problems) == 0, problems
}

var skeletonDirs = []string{
	"boot",
	"memory",
	"memory/archive",
	"skills/core",
	"skills/candidates",
	"skills/learned",
	"skills/deprecated",
	"skills/failed",
	"logs/events",
	"logs/daily",
	"logs/weekly",
	"logs/health",
	"tasks/completed",
	"tasks/blocked",
	"tasks/history",
	"runtime",
	"snapshots/daily",
	"snapshots/weekly",
	"snapshots/monthly",
	"scratch",
	"metrics",
}

// Initialize creates the agent-home skeleton. Existing files are never
// touched; missing boot and task files get minimal starters so the first
// tick passes preflight.
func (a *Agent) Initialize() error {
	home := a.svc.Config.AgentHome
	for _, dir := range skeletonDirs {
		if err := os.MkdirAll(filepath.Join(home, dir), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	starters := map[string]string{
		"boot/identity.md":             "# Identity\n\nAn autonomous task agent.\n",
		"boot/invariants.md":           "# Invariants\n\n- One action per cycle.\n- Budgets are hard limits.\n",
		"boot/operating_principles.md": "# Operating Principles\n\n- Work autonomously.\n- Reflect after every action.\n",
		"memory/working.md":            "# Working Memory\n",
		"memory/long_term.md":          "# Long-Term Memory\n",
		"memory/beliefs.md":            "# Beliefs\n",
		"tasks/inbox.md":               "# Inbox\n",
		"tasks/active.md":              "# Active Task\n\n*No active task*\n",
	}
	for rel, content := range starters {
		path := filepath.Join(home, rel)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
	}

	a.logger.Info("initialized agent filesystem at %s", home)
	return nil
}
