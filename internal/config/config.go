// Package config loads drover runtime configuration from TOML with
// environment-variable overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Models   ModelsConfig              `toml:"models"`
	Provider map[string]ProviderConfig `toml:"provider"`
	Store    StoreConfig               `toml:"store"`
	Budget   BudgetConfig              `toml:"budget"`
	Code     CodeConfig                `toml:"code"`
	Guard    GuardConfig               `toml:"guard"`
	Observer ObserverConfig            `toml:"observer"`
}

// ModelsConfig names one model id per difficulty level, in the
// "provider:model" form (e.g. "anthropic:claude-sonnet-4-5").
type ModelsConfig struct {
	Easy   string `toml:"easy"`
	Medium string `toml:"medium"`
	Hard   string `toml:"hard"`
	XHard  string `toml:"xhard"`
}

// ProviderConfig holds per-provider credentials and client tuning, keyed by
// provider name in the [provider.<name>] table.
type ProviderConfig struct {
	APIKey           string `toml:"api_key"`
	BaseURL          string `toml:"base_url"`
	RPM              int    `toml:"rpm"`
	TPM              int    `toml:"tpm"`
	RetryMax         int    `toml:"retry_max"`
	RetryTimeoutSecs int    `toml:"retry_timeout_secs"`
}

type StoreConfig struct {
	Backend string `toml:"backend"` // memory, sqlite, badger, postgres
	Path    string `toml:"path"`    // sqlite file / badger directory
	DSN     string `toml:"dsn"`     // postgres connection string
}

// BudgetConfig sets default run ceilings; a StartRequest may override them.
type BudgetConfig struct {
	MaxCost       float64 `toml:"max_cost"`
	MaxIterations int     `toml:"max_iterations"`
}

type CodeConfig struct {
	Runner      string `toml:"runner"` // subprocess, docker, http
	SandboxURL  string `toml:"sandbox_url"`
	Image       string `toml:"image"`
	Workspace   string `toml:"workspace"`
	TimeoutSecs int    `toml:"timeout_secs"`
}

type GuardConfig struct {
	BlockedKeywords  []string `toml:"blocked_keywords"`
	MaxFunctionCalls int      `toml:"max_function_calls"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		Models: ModelsConfig{
			Easy:   "anthropic:claude-haiku-4-5",
			Medium: "anthropic:claude-sonnet-4-5",
			Hard:   "anthropic:claude-sonnet-4-5",
			XHard:  "anthropic:claude-opus-4-1",
		},
		Provider: map[string]ProviderConfig{},
		Store:    StoreConfig{Backend: "sqlite", Path: "drover.db"},
		Budget:   BudgetConfig{MaxCost: 5.00, MaxIterations: 50},
		Code: CodeConfig{
			Runner:      "subprocess",
			Image:       "python:3.12-slim",
			Workspace:   filepath.Join(home, "drover-workspace"),
			TimeoutSecs: 30,
		},
		Guard: GuardConfig{MaxFunctionCalls: 20},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "drover.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}
	if cfg.Provider == nil {
		cfg.Provider = map[string]ProviderConfig{}
	}

	// Env overrides: DROVER_<PROVIDER>_API_KEY fills or creates the
	// provider entry.
	for _, name := range []string{"anthropic", "openai", "groq", "deepseek", "together", "mistral", "ollama"} {
		if v := os.Getenv("DROVER_" + strings.ToUpper(name) + "_API_KEY"); v != "" {
			p := cfg.Provider[name]
			p.APIKey = v
			cfg.Provider[name] = p
		}
	}
	if v := os.Getenv("DROVER_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("DROVER_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("DROVER_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("DROVER_SANDBOX_URL"); v != "" {
		cfg.Code.SandboxURL = v
	}
	if os.Getenv("DROVER_OBSERVER_ENABLED") == "true" || os.Getenv("DROVER_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Models.XHard == "" {
		cfg.Models.XHard = cfg.Models.Hard
	}

	return cfg
}

// ProviderOf splits a "provider:model" id. Ids without a prefix default to
// the anthropic provider.
func ProviderOf(modelID string) (provider, model string) {
	if p, m, ok := strings.Cut(modelID, ":"); ok {
		return p, m
	}
	return "anthropic", modelID
}
