package agent

import (
	"fmt"
	"time"

	"tooey/internal/assembler"
	"tooey/internal/beliefs"
	"tooey/internal/budget"
	"tooey/internal/config"
	"tooey/internal/curiosity"
	"tooey/internal/cyclelog"
	"tooey/internal/engine"
	"tooey/internal/events"
	"tooey/internal/executor"
	"tooey/internal/llm"
	"tooey/internal/maintenance"
	"tooey/internal/metrics"
	"tooey/internal/reflection"
	"tooey/internal/skills"
	"tooey/internal/task"
)

// NewServices constructs every collaborator from the configuration. This is
// the single composition point; nothing else builds components.
func NewServices(cfg *config.Config) (*Services, error) {
	client, err := llm.New(cfg.LLM, cfg.Execution.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}

	eventLog, err := events.NewLog(cfg.AgentHome)
	if err != nil {
		return nil, fmt.Errorf("build event log: %w", err)
	}

	exec := executor.New(cfg.AgentHome, eventLog, time.Duration(cfg.Execution.CommandTimeout)*time.Second)

	tasks, err := task.NewStore(cfg.AgentHome)
	if err != nil {
		return nil, fmt.Errorf("build task store: %w", err)
	}

	cycles, err := cyclelog.New(cfg.AgentHome)
	if err != nil {
		return nil, fmt.Errorf("build cycle log: %w", err)
	}

	ledger, err := budget.NewLedger(budget.LimitsFromConfig(cfg), cfg.AgentHome)
	if err != nil {
		return nil, fmt.Errorf("build budget ledger: %w", err)
	}

	filter := reflection.NewCuriosityFilter(cfg.Curiosity.MinValueThreshold, cfg.Curiosity.MaxProposalsPerCycle)

	skillMgr, err := skills.NewManager(cfg.AgentHome)
	if err != nil {
		return nil, fmt.Errorf("build skill manager: %w", err)
	}
	beliefMgr := beliefs.NewManager(cfg.AgentHome)

	maint, err := maintenance.New(cfg.AgentHome, eventLog)
	if err != nil {
		return nil, fmt.Errorf("build maintenance manager: %w", err)
	}

	ctxAsm := assembler.New(cfg.AgentHome, cfg.Context.MaxTokens-cfg.Context.ResponseReserve)
	eng := engine.New(client, exec).WithContextProvider(func(taskSpec string) string {
		var extra []assembler.Item
		if skillCtx := skillMgr.ContextFor(taskSpec); skillCtx != "" {
			extra = append(extra, assembler.Item{Name: "relevant_skills", Content: skillCtx, Tier: assembler.TierHigh, Priority: 7})
		}
		return ctxAsm.Assemble(taskSpec, extra)
	})

	return &Services{
		Config:      cfg,
		LLM:         client,
		Events:      eventLog,
		Executor:    exec,
		Tasks:       tasks,
		Cycles:      cycles,
		Budgets:     ledger,
		Stuck:       reflection.NewStuckDetector(0),
		Curiosity:   curiosity.New(tasks, ledger, filter, cfg.AgentHome),
		Context:     ctxAsm,
		Engine:      eng,
		Metrics:     metrics.New(),
		Skills:      skillMgr,
		Beliefs:     beliefMgr,
		Maintenance: maint,
	}, nil
}
