// Package beliefs manages structured claims with confidence tracking,
// provenance, and contradiction detection. Beliefs live in
// memory/beliefs.md as markdown blocks separated by --- rules.
package beliefs

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"tooey/internal/shared/logging"
	"tooey/internal/shared/textutil"
)

// Provenance records where a belief came from.
type Provenance struct {
	Source   string
	Evidence string
}

// Belief is a structured claim with confidence and provenance.
type Belief struct {
	ID             string // B-000001 format
	Claim          string
	Confidence     float64 // 0.0 to 1.0
	Status         string  // active, contested, deprecated
	Type           string  // invariant-derived, observed, inferred, external
	Provenance     []Provenance
	LastValidated  string
	Contradictions []string
	Notes          string
}

// ToMarkdown serializes the belief to its block form.
func (b Belief) ToMarkdown() string {
	var prov strings.Builder
	for _, p := range b.Provenance {
		source := p.Source
		if source == "" {
			source = "unknown"
		}
		prov.WriteString("  - Source: " + source)
		if p.Evidence != "" {
			prov.WriteString("\n    Evidence: " + p.Evidence)
		}
		prov.WriteString("\n")
	}

	contradictions := "None"
	if len(b.Contradictions) > 0 {
		contradictions = strings.Join(b.Contradictions, ", ")
	}

	return fmt.Sprintf(`## %s
**Claim**: %s
**Confidence**: %g
**Status**: %s
**Type**: %s
**Provenance**:
%s**Last_validated**: %s
**Contradictions**: %s
**Notes**: %s
`, b.ID, b.Claim, b.Confidence, b.Status, b.Type, prov.String(), b.LastValidated, contradictions, b.Notes)
}

var (
	beliefIDRe   = regexp.MustCompile(`(?m)^## (B-\d+)`)
	provBlockRe  = regexp.MustCompile(`\*\*Provenance\*\*:\s*\n((?:\s+-[^\n]+\n?)+)`)
	nextIDMarker = regexp.MustCompile(`\*Next belief ID:\s*B-(\d+)\*`)
)

func extractField(text, name, fallback string) string {
	re := regexp.MustCompile(`(?m)\*\*` + name + `\*\*:\s*(.+)`)
	if match := re.FindStringSubmatch(text); match != nil {
		return strings.TrimSpace(match[1])
	}
	return fallback
}

// ParseBlock parses one markdown belief block; returns nil when the block
// does not start with a belief heading.
func ParseBlock(text string, today string) *Belief {
	idMatch := beliefIDRe.FindStringSubmatch(text)
	if idMatch == nil {
		return nil
	}

	confidence := 0.5
	if v, err := strconv.ParseFloat(extractField(text, "Confidence", "0.5"), 64); err == nil {
		confidence = v
	}

	belief := &Belief{
		ID:            idMatch[1],
		Claim:         extractField(text, "Claim", ""),
		Confidence:    confidence,
		Status:        extractField(text, "Status", "active"),
		Type:          extractField(text, "Type", "inferred"),
		LastValidated: extractField(text, "Last_validated", today),
		Notes:         extractField(text, "Notes", ""),
	}

	if raw := extractField(text, "Contradictions", "None"); raw != "" && raw != "None" {
		for _, c := range strings.Split(raw, ",") {
			belief.Contradictions = append(belief.Contradictions, strings.TrimSpace(c))
		}
	}

	if match := provBlockRe.FindStringSubmatch(text); match != nil {
		for _, line := range strings.Split(match[1], "\n") {
			if idx := strings.Index(line, "Source:"); idx >= 0 {
				belief.Provenance = append(belief.Provenance, Provenance{
					Source: strings.TrimSpace(line[idx+len("Source:"):]),
				})
			}
		}
	}
	return belief
}

// Manager owns memory/beliefs.md.
type Manager struct {
	agentHome string
	path      string
	beliefs   map[string]*Belief
	nextID    int
	logger    logging.Logger
	now       func() time.Time
}

// NewManager loads beliefs from agentHome/memory/beliefs.md. A missing file
// is an empty belief set, not an error.
func NewManager(agentHome string) *Manager {
	m := &Manager{
		agentHome: agentHome,
		path:      filepath.Join(agentHome, "memory", "beliefs.md"),
		beliefs:   map[string]*Belief{},
		nextID:    1,
		logger:    logging.NewComponentLogger("beliefs"),
		now:       time.Now,
	}
	m.load()
	return m
}

// WithClock overrides the manager's clock. Tests only.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) today() string {
	return m.now().UTC().Format("2006-01-02")
}

func (m *Manager) load() {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return
	}
	content := string(raw)

	for _, block := range strings.Split(content, "\n---\n") {
		if !strings.HasPrefix(strings.TrimSpace(block), "## B-") {
			continue
		}
		belief := ParseBlock(block, m.today())
		if belief == nil {
			continue
		}
		m.beliefs[belief.ID] = belief
		if num, err := strconv.Atoi(strings.TrimPrefix(belief.ID, "B-")); err == nil && num >= m.nextID {
			m.nextID = num + 1
		}
	}

	if match := nextIDMarker.FindStringSubmatch(content); match != nil {
		if num, err := strconv.Atoi(match[1]); err == nil && num > m.nextID {
			m.nextID = num
		}
	}
	m.logger.Debug("loaded %d beliefs, next ID: B-%06d", len(m.beliefs), m.nextID)
}

func (m *Manager) save() error {
	var b strings.Builder
	b.WriteString("# Beliefs\n\nStructured claims with provenance and confidence tracking.\n\n---\n\n")
	for _, belief := range m.All("") {
		b.WriteString(belief.ToMarkdown())
		b.WriteString("\n---\n\n")
	}
	b.WriteString(fmt.Sprintf("*Next belief ID: B-%06d*\n", m.nextID))

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.path, []byte(b.String()), 0o644)
}

func (m *Manager) generateID() string {
	id := fmt.Sprintf("B-%06d", m.nextID)
	m.nextID++
	return id
}

// Get returns a belief by ID, or nil.
func (m *Manager) Get(id string) *Belief {
	return m.beliefs[id]
}

// All returns beliefs sorted by ID, optionally filtered by status.
func (m *Manager) All(status string) []*Belief {
	var out []*Belief
	for _, belief := range m.beliefs {
		if status == "" || belief.Status == status {
			out = append(out, belief)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddOptions carries the optional fields of a new belief.
type AddOptions struct {
	Confidence float64 // 0 means the 0.7 default
	Type       string
	Source     string
	Evidence   string
	Notes      string
}

// Add records a new active belief and persists the file.
func (m *Manager) Add(claim string, opts AddOptions) (*Belief, error) {
	confidence := opts.Confidence
	if confidence == 0 {
		confidence = 0.7
	}
	beliefType := opts.Type
	if beliefType == "" {
		beliefType = "inferred"
	}

	belief := &Belief{
		ID:            m.generateID(),
		Claim:         claim,
		Confidence:    confidence,
		Status:        "active",
		Type:          beliefType,
		LastValidated: m.today(),
		Notes:         opts.Notes,
	}
	if opts.Source != "" {
		belief.Provenance = append(belief.Provenance, Provenance{Source: opts.Source, Evidence: opts.Evidence})
	}

	m.beliefs[belief.ID] = belief
	if err := m.save(); err != nil {
		return nil, fmt.Errorf("save beliefs: %w", err)
	}
	m.logger.Info("added belief %s: %.50s", belief.ID, claim)
	return belief, nil
}

// UpdateConfidence shifts a belief's confidence by delta, clamped to [0, 1].
func (m *Manager) UpdateConfidence(id string, delta float64, reason string) (*Belief, error) {
	belief := m.Get(id)
	if belief == nil {
		return nil, fmt.Errorf("unknown belief: %s", id)
	}
	old := belief.Confidence
	belief.Confidence = clamp(belief.Confidence+delta, 0, 1)
	belief.LastValidated = m.today()
	if reason != "" {
		belief.Notes = fmt.Sprintf("%s (was %.2f)", reason, old)
	}
	if err := m.save(); err != nil {
		return nil, fmt.Errorf("save beliefs: %w", err)
	}
	m.logger.Info("updated %s confidence: %.2f -> %.2f", id, old, belief.Confidence)
	return belief, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Contest marks a belief contested, optionally recording the belief that
// contradicts it.
func (m *Manager) Contest(id, reason, contradictingID string) (*Belief, error) {
	belief := m.Get(id)
	if belief == nil {
		return nil, fmt.Errorf("unknown belief: %s", id)
	}
	belief.Status = "contested"
	belief.Notes = "Contested: " + reason
	if contradictingID != "" && !contains(belief.Contradictions, contradictingID) {
		belief.Contradictions = append(belief.Contradictions, contradictingID)
	}
	if err := m.save(); err != nil {
		return nil, fmt.Errorf("save beliefs: %w", err)
	}
	m.logger.Info("contested belief %s", id)
	return belief, nil
}

// Deprecate retires a belief.
func (m *Manager) Deprecate(id, reason string) (*Belief, error) {
	belief := m.Get(id)
	if belief == nil {
		return nil, fmt.Errorf("unknown belief: %s", id)
	}
	belief.Status = "deprecated"
	belief.Notes = "Deprecated: " + reason
	if err := m.save(); err != nil {
		return nil, fmt.Errorf("save beliefs: %w", err)
	}
	m.logger.Info("deprecated belief %s", id)
	return belief, nil
}

// Purge removes deprecated beliefs from the live file, appending them to
// memory/archive/beliefs.md. With dryRun the candidates are returned and
// nothing changes.
func (m *Manager) Purge(dryRun bool) ([]*Belief, error) {
	purged := m.All("deprecated")
	if dryRun || len(purged) == 0 {
		return purged, nil
	}

	archiveDir := filepath.Join(m.agentHome, "memory", "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	archivePath := filepath.Join(archiveDir, "beliefs.md")

	var b strings.Builder
	b.WriteString(fmt.Sprintf("\n## Purged on %s\n\n", m.today()))
	for _, belief := range purged {
		b.WriteString(belief.ToMarkdown())
		b.WriteString("\n---\n")
	}
	f, err := os.OpenFile(archivePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return nil, fmt.Errorf("write archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}

	for _, belief := range purged {
		delete(m.beliefs, belief.ID)
	}
	if err := m.save(); err != nil {
		return nil, fmt.Errorf("save beliefs: %w", err)
	}
	m.logger.Info("purged %d deprecated beliefs", len(purged))
	return purged, nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Scored pairs a belief with its similarity to a query claim.
type Scored struct {
	Belief     *Belief
	Similarity float64
}

// FindSimilar returns non-deprecated beliefs whose claims overlap the given
// claim, highest similarity first.
func (m *Manager) FindSimilar(claim string, threshold float64) []Scored {
	var out []Scored
	for _, belief := range m.All("") {
		if belief.Status == "deprecated" {
			continue
		}
		if score := textutil.SimilarityScore(claim, belief.Claim); score >= threshold {
			out = append(out, Scored{belief, score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

// Relevant returns up to limit beliefs related to the context text.
func (m *Manager) Relevant(context string, limit int) []*Belief {
	similar := m.FindSimilar(context, 0.2)
	var out []*Belief
	for i := 0; i < len(similar) && i < limit; i++ {
		out = append(out, similar[i].Belief)
	}
	return out
}

// ContextBlock formats all active beliefs for model context.
func (m *Manager) ContextBlock() string {
	active := m.All("active")
	if len(active) == 0 {
		return "# Beliefs\n\n*No active beliefs recorded.*\n"
	}

	var b strings.Builder
	b.WriteString("# Active Beliefs\n\n")
	for _, belief := range active {
		indicator := "🔴"
		switch {
		case belief.Confidence >= 0.8:
			indicator = "🟢"
		case belief.Confidence >= 0.5:
			indicator = "🟡"
		}
		b.WriteString(fmt.Sprintf("- %s **%s** (%.1f): %s\n", indicator, belief.ID, belief.Confidence, belief.Claim))
	}
	return b.String()
}
