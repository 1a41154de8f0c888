// Package config loads the runtime configuration from YAML with ${VAR}
// environment expansion applied to every string value at load time.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	AgentHome string          `yaml:"agent_home"`
	LLM       LLMConfig       `yaml:"llm"`
	Context   ContextConfig   `yaml:"context"`
	Execution ExecutionConfig `yaml:"execution"`
	Budgets   BudgetConfig    `yaml:"budgets"`
	Curiosity CuriosityConfig `yaml:"curiosity"`
	Logging   LoggingConfig   `yaml:"logging"`
	Web       WebConfig       `yaml:"web"`
}

// ProviderConfig holds provider-specific connection settings.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout int    `yaml:"timeout"` // seconds
}

// LLMConfig selects the provider and model for the LM client.
type LLMConfig struct {
	Provider  string         `yaml:"provider"`
	Model     string         `yaml:"model"`
	Ollama    ProviderConfig `yaml:"ollama"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
}

// ContextConfig bounds the assembled prompt context.
type ContextConfig struct {
	MaxTokens       int `yaml:"max_tokens"`
	ResponseReserve int `yaml:"response_reserve"`
}

// ExecutionConfig controls the shell executor and LM retries.
type ExecutionConfig struct {
	CommandTimeout int `yaml:"command_timeout"` // seconds
	MaxRetries     int `yaml:"max_retries"`
}

// BudgetConfig holds the hard per-task and global limits.
type BudgetConfig struct {
	MaxIterationsPerTask      int `yaml:"max_iterations_per_task"`
	MaxConsecutiveFailures    int `yaml:"max_consecutive_failures"`
	MaxActionsWithoutProgress int `yaml:"max_actions_without_progress"`
	MaxActiveTasks            int `yaml:"max_active_tasks"`
	MaxPendingTasks           int `yaml:"max_pending_tasks"`
	MaxTaskDurationMinutes    int `yaml:"max_task_duration_minutes"`
}

// CuriosityConfig bounds agent-spawned follow-up tasks.
type CuriosityConfig struct {
	Enabled              bool    `yaml:"enabled"`
	MaxProposalsPerCycle int     `yaml:"max_proposals_per_cycle"`
	MinValueThreshold    float64 `yaml:"min_value_threshold"`
	MaxTasksPerDay       int     `yaml:"max_tasks_per_day"`
	MaxDepth             int     `yaml:"max_depth"`
}

// LoggingConfig controls the diagnostic logger.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// WebConfig holds the web facade bind address.
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() Config {
	return Config{
		AgentHome: "/agent",
		LLM: LLMConfig{
			Provider:  "ollama",
			Model:     "llama3.2",
			Ollama:    ProviderConfig{BaseURL: "http://localhost:11434", Timeout: 120},
			OpenAI:    ProviderConfig{BaseURL: "https://api.openai.com/v1", Timeout: 60},
			Anthropic: ProviderConfig{BaseURL: "https://api.anthropic.com", Timeout: 60},
		},
		Context:   ContextConfig{MaxTokens: 8000, ResponseReserve: 2000},
		Execution: ExecutionConfig{CommandTimeout: 300, MaxRetries: 3},
		Budgets: BudgetConfig{
			MaxIterationsPerTask:      20,
			MaxConsecutiveFailures:    3,
			MaxActionsWithoutProgress: 5,
			MaxActiveTasks:            10,
			MaxPendingTasks:           50,
			MaxTaskDurationMinutes:    30,
		},
		Curiosity: CuriosityConfig{
			Enabled:              true,
			MaxProposalsPerCycle: 2,
			MinValueThreshold:    0.6,
			MaxTasksPerDay:       5,
			MaxDepth:             2,
		},
		Logging: LoggingConfig{Level: "INFO", Console: true},
		Web:     WebConfig{Host: "127.0.0.1", Port: 8321},
	}
}

// EnvLookup resolves an environment variable; mirrors os.LookupEnv.
type EnvLookup func(key string) (string, bool)

type loadOptions struct {
	envLookup EnvLookup
	readFile  func(string) ([]byte, error)
}

// Option customizes Load, mainly for tests.
type Option func(*loadOptions)

// WithEnv overrides the environment lookup used for ${VAR} expansion.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithFileReader overrides how the config file is read.
func WithFileReader(read func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = read }
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnv substitutes ${VAR} references using lookup. Missing variables
// substitute to the empty string.
func ExpandEnv(value string, lookup EnvLookup) string {
	return envPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := lookup(name); ok {
			return v
		}
		return ""
	})
}

// Load reads, expands, and validates the configuration at path. Defaults
// apply for absent keys.
func Load(path string, opts ...Option) (Config, error) {
	options := loadOptions{envLookup: os.LookupEnv, readFile: os.ReadFile}
	for _, opt := range opts {
		opt(&options)
	}

	raw, err := options.readFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	expandNode(&node, options.envLookup)

	cfg := Default()
	if err := node.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// expandNode walks the YAML document applying ${VAR} expansion to every
// scalar string value.
func expandNode(node *yaml.Node, lookup EnvLookup) {
	if node == nil {
		return
	}
	if node.Kind == yaml.ScalarNode && strings.Contains(node.Value, "${") {
		node.Value = ExpandEnv(node.Value, lookup)
	}
	for _, child := range node.Content {
		expandNode(child, lookup)
	}
}

// Validate rejects configurations the runtime cannot operate under.
func (c Config) Validate() error {
	if strings.TrimSpace(c.AgentHome) == "" {
		return fmt.Errorf("config invalid: agent_home must be set")
	}
	switch c.LLM.Provider {
	case "ollama", "openai", "anthropic", "mock":
	default:
		return fmt.Errorf("config invalid: unknown llm provider %q", c.LLM.Provider)
	}
	if c.Context.MaxTokens <= 0 {
		return fmt.Errorf("config invalid: context.max_tokens must be positive")
	}
	if c.Context.ResponseReserve >= c.Context.MaxTokens {
		return fmt.Errorf("config invalid: context.response_reserve must be below max_tokens")
	}
	if c.Budgets.MaxIterationsPerTask <= 0 {
		return fmt.Errorf("config invalid: budgets.max_iterations_per_task must be positive")
	}
	if c.Curiosity.MinValueThreshold < 0 || c.Curiosity.MinValueThreshold > 1 {
		return fmt.Errorf("config invalid: curiosity.min_value_threshold must be in [0,1]")
	}
	return nil
}

// ProviderSettings returns the connection settings for the configured
// provider.
func (c LLMConfig) ProviderSettings() ProviderConfig {
	switch c.Provider {
	case "openai":
		return c.OpenAI
	case "anthropic":
		return c.Anthropic
	default:
		return c.Ollama
	}
}
