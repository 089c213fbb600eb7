package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	LLM          LLMConfig          `yaml:"llm"`
	Registry     RegistryConfig     `yaml:"registry"`
	Gateway      GatewayConfig      `yaml:"gateway"`
	Store        StoreConfig        `yaml:"store"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
}

// OrchestratorConfig holds turn-processing settings.
type OrchestratorConfig struct {
	// MaxConcurrentDispatch caps how many specialist invocations run at once.
	MaxConcurrentDispatch int `yaml:"max_concurrent_dispatch"`
	// DefaultBudgetUSD is the per-turn budget when the caller supplies none.
	DefaultBudgetUSD float64 `yaml:"default_budget_usd"`
	// DailyBudgetUSD is the rolling daily spend ceiling (resets on UTC rollover).
	DailyBudgetUSD float64 `yaml:"daily_budget_usd"`
	// SpecialistTimeout is the deadline for a single specialist invocation.
	SpecialistTimeout time.Duration `yaml:"specialist_timeout"`
}

// LLMConfig holds text-generation backend settings.
type LLMConfig struct {
	// Backend selects the provider: "gemini", "bedrock", or "mock".
	Backend        string               `yaml:"backend"`
	Gemini         ProviderConfig       `yaml:"gemini"`
	Bedrock        ProviderConfig       `yaml:"bedrock"`
	Models         ModelTierConfig      `yaml:"models"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	MaxCostPerCall float64              `yaml:"max_cost_per_call_usd"`
}

// ModelTierConfig maps capability tiers to concrete model names.
type ModelTierConfig struct {
	Standard string `yaml:"standard"` // specialists
	Advanced string `yaml:"advanced"` // orchestrator synthesis
}

// CircuitBreakerConfig holds circuit breaker settings for the LLM backend.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for outbound providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single text-generation provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// RegistryConfig holds the agent registry's target table.
type RegistryConfig struct {
	// MockMode makes every configured agent respond deterministically
	// in-process, with no network calls or LLM cost.
	MockMode bool          `yaml:"mock_mode"`
	Agents   []AgentTarget `yaml:"agents"`
}

// AgentTarget maps one agent id to how it is reached.
type AgentTarget struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Endpoint     string   `yaml:"endpoint,omitempty"` // empty = in-process mock
	Tier         string   `yaml:"tier,omitempty"`     // "standard" (default) or "advanced"
	Capabilities []string `yaml:"capabilities,omitempty"`
	// MinCostUSD is the agent's max_cost_per_invoke: invocations carrying a
	// smaller budget are rejected with status budget_exceeded.
	MinCostUSD float64 `yaml:"min_cost_usd,omitempty"`
}

// GatewayConfig holds public HTTP gateway settings.
type GatewayConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Addr      string          `yaml:"addr"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// RateLimitConfig holds per-client rate limiting settings.
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	BurstSize      int  `yaml:"burst_size"`
}

// StoreConfig holds conversation store settings.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	Path   string `yaml:"path"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stdout", "stderr", or a file path
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Defaults returns a Config with sensible defaults for every field.
func Defaults() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxConcurrentDispatch: 3,
			DefaultBudgetUSD:      0.50,
			DailyBudgetUSD:        25.0,
			SpecialistTimeout:     30 * time.Second,
		},
		LLM: LLMConfig{
			Backend: "mock",
			Models: ModelTierConfig{
				Standard: "gemini-2.0-flash",
				Advanced: "gemini-2.0-pro",
			},
			CircuitBreaker: CircuitBreakerConfig{Enabled: true},
			MaxCostPerCall: 0.25,
		},
		Registry: RegistryConfig{MockMode: true},
		Gateway: GatewayConfig{
			Enabled: true,
			Addr:    ":8080",
			RateLimit: RateLimitConfig{
				Enabled:        true,
				RequestsPerMin: 120,
				BurstSize:      20,
			},
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join("data", "conversations.db"),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts
// secrets. A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("GENESIS_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps GENESIS_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GENESIS_LLM_BACKEND"); v != "" {
		cfg.LLM.Backend = v
	}
	if v := os.Getenv("GENESIS_GEMINI_API_KEY"); v != "" {
		cfg.LLM.Gemini.APIKey = v
	}
	if v := os.Getenv("GENESIS_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("GENESIS_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("GENESIS_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("GENESIS_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("GENESIS_DAILY_BUDGET_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Orchestrator.DailyBudgetUSD = f
		}
	}
	if v := os.Getenv("GENESIS_REGISTRY_MOCK"); v == "false" {
		cfg.Registry.MockMode = false
	}
	if v := os.Getenv("GENESIS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
}

// Validate checks cross-field constraints that yaml parsing cannot express.
func Validate(cfg *Config) error {
	if cfg.Orchestrator.MaxConcurrentDispatch <= 0 {
		return fmt.Errorf("orchestrator.max_concurrent_dispatch must be positive")
	}
	if cfg.Orchestrator.DefaultBudgetUSD <= 0 {
		return fmt.Errorf("orchestrator.default_budget_usd must be positive")
	}
	if cfg.Orchestrator.DailyBudgetUSD < cfg.Orchestrator.DefaultBudgetUSD {
		return fmt.Errorf("orchestrator.daily_budget_usd must cover at least one turn budget")
	}
	switch cfg.LLM.Backend {
	case "gemini", "bedrock", "mock":
	default:
		return fmt.Errorf("llm.backend %q not supported", cfg.LLM.Backend)
	}
	if cfg.LLM.Backend == "gemini" && cfg.LLM.Gemini.APIKey == "" {
		return fmt.Errorf("llm.gemini.api_key required for gemini backend")
	}
	seen := map[string]bool{}
	for _, a := range cfg.Registry.Agents {
		if a.ID == "" {
			return fmt.Errorf("registry agent with empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("registry agent %q declared twice", a.ID)
		}
		seen[a.ID] = true
		if a.MinCostUSD < 0 {
			return fmt.Errorf("registry agent %q: min_cost_usd must not be negative", a.ID)
		}
	}
	switch cfg.Store.Driver {
	case "sqlite", "memory", "":
	default:
		return fmt.Errorf("store.driver %q not supported", cfg.Store.Driver)
	}
	return nil
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable).
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
