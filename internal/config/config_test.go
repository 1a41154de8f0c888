package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFrom(t *testing.T, yaml string, env map[string]string) (Config, error) {
	t.Helper()
	return Load("test.yaml",
		WithFileReader(func(string) ([]byte, error) { return []byte(yaml), nil }),
		WithEnv(func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		}),
	)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := loadFrom(t, "agent_home: /tmp/agent\n", nil)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/agent", cfg.AgentHome)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "llama3.2", cfg.LLM.Model)
	assert.Equal(t, 8000, cfg.Context.MaxTokens)
	assert.Equal(t, 2000, cfg.Context.ResponseReserve)
	assert.Equal(t, 20, cfg.Budgets.MaxIterationsPerTask)
	assert.Equal(t, 5, cfg.Curiosity.MaxTasksPerDay)
	assert.True(t, cfg.Curiosity.Enabled)
	assert.Equal(t, 8321, cfg.Web.Port)
}

func TestLoadOverridesNested(t *testing.T) {
	cfg, err := loadFrom(t, `
agent_home: /srv/agent
llm:
  provider: openai
  model: gpt-4o-mini
budgets:
  max_iterations_per_task: 7
curiosity:
  enabled: false
`, nil)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 7, cfg.Budgets.MaxIterationsPerTask)
	assert.False(t, cfg.Curiosity.Enabled)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Budgets.MaxConsecutiveFailures)
}

func TestLoadExpandsEnv(t *testing.T) {
	cfg, err := loadFrom(t, `
agent_home: ${AGENT_HOME}
llm:
  provider: anthropic
  anthropic:
    api_key: ${ANTHROPIC_API_KEY}
`, map[string]string{
		"AGENT_HOME":        "/data/agent",
		"ANTHROPIC_API_KEY": "sk-test-123",
	})
	require.NoError(t, err)

	assert.Equal(t, "/data/agent", cfg.AgentHome)
	assert.Equal(t, "sk-test-123", cfg.LLM.Anthropic.APIKey)
}

func TestLoadMissingEnvExpandsEmpty(t *testing.T) {
	_, err := loadFrom(t, "agent_home: ${NOT_SET}\n", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent_home must be set")
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown llm provider": "agent_home: /a\nllm:\n  provider: bard\n",
		"max_tokens":           "agent_home: /a\ncontext:\n  max_tokens: 0\n",
		"response_reserve":     "agent_home: /a\ncontext:\n  max_tokens: 100\n  response_reserve: 100\n",
		"max_iterations":       "agent_home: /a\nbudgets:\n  max_iterations_per_task: 0\n",
		"min_value_threshold":  "agent_home: /a\ncuriosity:\n  min_value_threshold: 1.5\n",
	}
	for want, yaml := range cases {
		_, err := loadFrom(t, yaml, nil)
		require.Error(t, err, want)
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadBadYAML(t *testing.T) {
	_, err := loadFrom(t, "agent_home: [unclosed\n", nil)
	require.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "HOST" {
			return "db.internal", true
		}
		return "", false
	}
	assert.Equal(t, "http://db.internal:5432", ExpandEnv("http://${HOST}:5432", lookup))
	assert.Equal(t, "plain", ExpandEnv("plain", lookup))
	assert.Equal(t, "", ExpandEnv("${MISSING}", lookup))
}

func TestProviderSettings(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "openai"
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.ProviderSettings().BaseURL)
	cfg.LLM.Provider = "anthropic"
	assert.Equal(t, "https://api.anthropic.com", cfg.LLM.ProviderSettings().BaseURL)
	cfg.LLM.Provider = "ollama"
	assert.Equal(t, "http://localhost:11434", cfg.LLM.ProviderSettings().BaseURL)
}

func TestValidateMockProvider(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "mock"
	assert.NoError(t, cfg.Validate())
}
