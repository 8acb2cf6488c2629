// Package resolve creates drover.LLM instances from provider-agnostic
// configuration. It is the single place that knows which concrete provider
// package serves which provider name.
package resolve

import (
	"fmt"
	"time"

	"github.com/evrane/drover"
	"github.com/evrane/drover/provider/anthropic"
	"github.com/evrane/drover/provider/openai"
)

// Config holds provider-agnostic configuration for creating an LLM.
type Config struct {
	Provider string // "anthropic", "openai", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // required for unknown openai-compat endpoints; auto-filled for known providers

	// Common cross-provider options (nil = use provider default).
	Temperature *float64
	MaxTokens   *int64

	// Decorators applied around the raw provider, innermost first.
	RPM          int           // requests per minute, 0 = unlimited
	TPM          int           // tokens per minute, 0 = unlimited
	RetryMax     int           // retry attempts, 0 = no retry decorator
	RetryTimeout time.Duration // per-attempt timeout when retrying
}

// LLM creates a drover.LLM from a provider-agnostic Config, with rate-limit
// and retry decorators applied when configured.
func LLM(cfg Config) (drover.LLM, error) {
	base, err := rawLLM(cfg)
	if err != nil {
		return nil, err
	}
	m := base
	if cfg.RPM > 0 || cfg.TPM > 0 {
		var opts []drover.RateLimitOption
		if cfg.RPM > 0 {
			opts = append(opts, drover.RPM(cfg.RPM))
		}
		if cfg.TPM > 0 {
			opts = append(opts, drover.TPM(cfg.TPM))
		}
		m = drover.WithRateLimit(m, opts...)
	}
	if cfg.RetryMax > 0 {
		opts := []drover.RetryOption{drover.RetryMaxAttempts(cfg.RetryMax)}
		if cfg.RetryTimeout > 0 {
			opts = append(opts, drover.RetryTimeout(cfg.RetryTimeout))
		}
		m = drover.WithRetry(m, opts...)
	}
	return m, nil
}

// Register creates the LLM for cfg and registers it in the registry under
// its model id.
func Register(reg *drover.LLMRegistry, cfg Config) (drover.LLM, error) {
	m, err := LLM(cfg)
	if err != nil {
		return nil, err
	}
	reg.RegisterLLM(m)
	return m, nil
}

func rawLLM(cfg Config) (drover.LLM, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropicLLM(cfg), nil
	case "openai", "groq", "deepseek", "together", "mistral", "ollama":
		return openaiLLM(cfg), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

func anthropicLLM(cfg Config) drover.LLM {
	var opts []anthropic.Option
	if cfg.Temperature != nil {
		opts = append(opts, anthropic.WithTemperature(*cfg.Temperature))
	}
	if cfg.MaxTokens != nil {
		opts = append(opts, anthropic.WithMaxTokens(*cfg.MaxTokens))
	}
	return anthropic.New(cfg.APIKey, cfg.Model, opts...)
}

func openaiLLM(cfg Config) drover.LLM {
	var opts []openai.Option
	if cfg.Temperature != nil {
		opts = append(opts, openai.WithTemperature(*cfg.Temperature))
	}
	if cfg.MaxTokens != nil {
		opts = append(opts, openai.WithMaxTokens(*cfg.MaxTokens))
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	if baseURL != "" && cfg.Provider != "openai" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	} else if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	return openai.New(cfg.APIKey, cfg.Model, opts...)
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
