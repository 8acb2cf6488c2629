package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("expected sqlite, got %s", cfg.Store.Backend)
	}
	if cfg.Budget.MaxCost != 5.00 {
		t.Errorf("expected max_cost 5.00, got %f", cfg.Budget.MaxCost)
	}
	if cfg.Models.Medium != "anthropic:claude-sonnet-4-5" {
		t.Errorf("unexpected medium model %s", cfg.Models.Medium)
	}
	if cfg.Code.Runner != "subprocess" {
		t.Errorf("expected subprocess runner, got %s", cfg.Code.Runner)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[models]
easy = "openai:gpt-5-nano"

[store]
backend = "badger"
path = "/var/lib/drover"

[provider.openai]
api_key = "sk-test"
rpm = 60

[budget]
max_iterations = 10
`), 0644)

	cfg := Load(path)
	if cfg.Models.Easy != "openai:gpt-5-nano" {
		t.Errorf("expected openai:gpt-5-nano, got %s", cfg.Models.Easy)
	}
	if cfg.Store.Backend != "badger" {
		t.Errorf("expected badger, got %s", cfg.Store.Backend)
	}
	if cfg.Provider["openai"].APIKey != "sk-test" {
		t.Errorf("expected sk-test, got %s", cfg.Provider["openai"].APIKey)
	}
	if cfg.Provider["openai"].RPM != 60 {
		t.Errorf("expected rpm 60, got %d", cfg.Provider["openai"].RPM)
	}
	if cfg.Budget.MaxIterations != 10 {
		t.Errorf("expected 10 iterations, got %d", cfg.Budget.MaxIterations)
	}
	// Defaults preserved
	if cfg.Models.Medium != "anthropic:claude-sonnet-4-5" {
		t.Errorf("default should be preserved, got %s", cfg.Models.Medium)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DROVER_ANTHROPIC_API_KEY", "env-key")
	t.Setenv("DROVER_STORE_BACKEND", "memory")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Provider["anthropic"].APIKey != "env-key" {
		t.Errorf("expected env-key, got %s", cfg.Provider["anthropic"].APIKey)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("expected memory, got %s", cfg.Store.Backend)
	}
}

func TestXHardFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[models]
easy = "openai:gpt-5-nano"
medium = "openai:gpt-5-mini"
hard = "openai:gpt-5"
xhard = ""
`), 0644)

	cfg := Load(path)
	if cfg.Models.XHard != "openai:gpt-5" {
		t.Errorf("expected xhard fallback to hard, got %s", cfg.Models.XHard)
	}
}

func TestProviderOf(t *testing.T) {
	tests := []struct {
		id       string
		provider string
		model    string
	}{
		{"anthropic:claude-sonnet-4-5", "anthropic", "claude-sonnet-4-5"},
		{"openai:gpt-5-mini", "openai", "gpt-5-mini"},
		{"claude-sonnet-4-5", "anthropic", "claude-sonnet-4-5"},
	}
	for _, tt := range tests {
		p, m := ProviderOf(tt.id)
		if p != tt.provider || m != tt.model {
			t.Errorf("ProviderOf(%q) = %q, %q, want %q, %q", tt.id, p, m, tt.provider, tt.model)
		}
	}
}
