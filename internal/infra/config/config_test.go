package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.LLM.Backend)
	assert.Equal(t, 3, cfg.Orchestrator.MaxConcurrentDispatch)
	assert.Equal(t, 25.0, cfg.Orchestrator.DailyBudgetUSD)
	assert.True(t, cfg.Registry.MockMode)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
orchestrator:
  max_concurrent_dispatch: 5
  specialist_timeout: 10s
registry:
  agents:
    - id: blaze
      name: Blaze
      min_cost_usd: 0.01
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Orchestrator.MaxConcurrentDispatch)
	assert.Equal(t, 10*time.Second, cfg.Orchestrator.SpecialistTimeout)
	require.Len(t, cfg.Registry.Agents, 1)
	assert.Equal(t, "blaze", cfg.Registry.Agents[0].ID)
	// Untouched fields keep defaults.
	assert.Equal(t, 0.50, cfg.Orchestrator.DefaultBudgetUSD)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GENESIS_LLM_BACKEND", "mock")
	t.Setenv("GENESIS_DAILY_BUDGET_USD", "7.5")

	path := writeConfig(t, `
llm:
  backend: mock
orchestrator:
  daily_budget_usd: 50
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7.5, cfg.Orchestrator.DailyBudgetUSD, "env wins over file")
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  backend: mock\n"), 0o600))
	// Chmod directly so the process umask cannot mask the test bits away.
	require.NoError(t, os.Chmod(path, 0o666))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure permissions")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad backend", func(c *Config) { c.LLM.Backend = "davinci" }, "not supported"},
		{"gemini without key", func(c *Config) { c.LLM.Backend = "gemini" }, "api_key required"},
		{"daily below default", func(c *Config) { c.Orchestrator.DailyBudgetUSD = 0.1 }, "daily_budget_usd"},
		{"duplicate agent", func(c *Config) {
			c.Registry.Agents = []AgentTarget{{ID: "blaze"}, {ID: "blaze"}}
		}, "declared twice"},
		{"negative min cost", func(c *Config) {
			c.Registry.Agents = []AgentTarget{{ID: "blaze", MinCostUSD: -1}}
		}, "must not be negative"},
		{"bad store driver", func(c *Config) { c.Store.Driver = "postgres" }, "not supported"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	assert.NoError(t, Validate(Defaults()))
}

func TestSecretRoundTrip(t *testing.T) {
	enc, err := EncryptValue("sk-very-secret", "passphrase")
	require.NoError(t, err)
	assert.NotContains(t, enc, "sk-very-secret")

	plain, err := DecryptValue(enc, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "sk-very-secret", plain)

	_, err = DecryptValue(enc, "wrong-passphrase")
	require.Error(t, err)
}

func TestLoadDecryptsSecrets(t *testing.T) {
	enc, err := EncryptValue("gemini-key", "hunter2")
	require.NoError(t, err)
	t.Setenv("GENESIS_CONFIG_KEY", "hunter2")

	path := writeConfig(t, `
llm:
  backend: gemini
  gemini:
    api_key: "enc:`+enc+`"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini-key", cfg.LLM.Gemini.APIKey)
}
