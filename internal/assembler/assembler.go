// Package assembler builds the bounded prompt context for model calls from
// the agent-home files: identity first, then the task, then memory tiers.
package assembler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tooey/internal/shared/logging"
	"tooey/internal/shared/token"
)

// Tier orders context items; must-have tiers survive truncation, optional
// tiers are dropped when the budget runs out.
type Tier string

const (
	TierAlways Tier = "always"
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Item is one piece of candidate context.
type Item struct {
	Name     string
	Content  string
	Tier     Tier
	Priority int
}

// Assembler loads and prioritizes context under a token budget.
type Assembler struct {
	agentHome string
	maxTokens int
	logger    logging.Logger
}

// New bounds assembled context to maxTokens (estimated).
func New(agentHome string, maxTokens int) *Assembler {
	if maxTokens <= 0 {
		maxTokens = 6000
	}
	return &Assembler{
		agentHome: agentHome,
		maxTokens: maxTokens,
		logger:    logging.NewComponentLogger("context"),
	}
}

func (a *Assembler) readSafe(parts ...string) string {
	path := filepath.Join(append([]string{a.agentHome}, parts...)...)
	content, err := os.ReadFile(path)
	if err != nil {
		a.logger.Warn("could not read %s: %v", path, err)
		return ""
	}
	return string(content)
}

func (a *Assembler) boot(name string) string   { return a.readSafe("boot", name) }
func (a *Assembler) memory(name string) string { return a.readSafe("memory", name) }

// Assemble builds the context string for one model call. Items join in
// priority order; must-have items that overflow are truncated with a
// marker, optional items that overflow are skipped.
func (a *Assembler) Assemble(taskSpec string, additional []Item) string {
	var items []Item

	if identity := a.boot("identity.md"); identity != "" {
		items = append(items, Item{Name: "identity", Content: identity, Tier: TierAlways, Priority: 1})
	}
	if taskSpec != "" {
		items = append(items, Item{Name: "current_task", Content: taskSpec, Tier: TierAlways, Priority: 4})
	}
	if working := a.memory("working.md"); working != "" {
		items = append(items, Item{Name: "working_memory", Content: working, Tier: TierHigh, Priority: 6})
	}
	if longTerm := a.memory("long_term.md"); longTerm != "" {
		items = append(items, Item{Name: "long_term_memory", Content: longTerm, Tier: TierMedium, Priority: 9})
	}
	if beliefs := a.memory("beliefs.md"); beliefs != "" {
		items = append(items, Item{Name: "beliefs", Content: beliefs, Tier: TierMedium, Priority: 10})
	}
	items = append(items, additional...)

	sort.SliceStable(items, func(i, j int) bool { return items[i].Priority < items[j].Priority })

	var assembled []string
	totalTokens := 0
	for _, item := range items {
		estimate := token.Estimate(item.Content)
		if totalTokens+estimate > a.maxTokens {
			if item.Tier != TierAlways {
				a.logger.Debug("skipping %s due to token budget", item.Name)
				continue
			}
			available := a.maxTokens - totalTokens
			if available <= 100 {
				continue
			}
			truncated := token.Truncate(item.Content, available, "")
			assembled = append(assembled, fmt.Sprintf("## %s\n%s\n[truncated]", item.Name, truncated))
			totalTokens += available
			continue
		}
		assembled = append(assembled, fmt.Sprintf("## %s\n%s", item.Name, item.Content))
		totalTokens += estimate
	}

	a.logger.Info("assembled context: ~%d tokens from %d items", totalTokens, len(assembled))
	return strings.Join(assembled, "\n\n---\n\n")
}

// IdentityHash is the SHA-256 of boot/identity.md, empty when missing.
func (a *Assembler) IdentityHash() string {
	return hashOf(a.boot("identity.md"))
}

// InvariantsHash is the SHA-256 of boot/invariants.md, empty when missing.
func (a *Assembler) InvariantsHash() string {
	return hashOf(a.boot("invariants.md"))
}

func hashOf(content string) string {
	if content == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
