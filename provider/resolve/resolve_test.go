package resolve

import (
	"testing"

	"github.com/evrane/drover"
)

func TestLLMByProvider(t *testing.T) {
	tests := []struct {
		provider string
		model    string
		wantID   string
	}{
		{"anthropic", "claude-sonnet-4-5", "anthropic:claude-sonnet-4-5"},
		{"openai", "gpt-4o", "openai:gpt-4o"},
		{"groq", "llama-3.3-70b", "openai:llama-3.3-70b"},
		{"ollama", "qwen3", "openai:qwen3"},
	}
	for _, tc := range tests {
		t.Run(tc.provider, func(t *testing.T) {
			m, err := LLM(Config{Provider: tc.provider, APIKey: "k", Model: tc.model})
			if err != nil {
				t.Fatal(err)
			}
			if m.ID() != tc.wantID {
				t.Errorf("got id %q, want %q", m.ID(), tc.wantID)
			}
			if !m.IsConfigured() {
				t.Error("should report configured with an api key")
			}
		})
	}
}

func TestLLMUnknownProvider(t *testing.T) {
	if _, err := LLM(Config{Provider: "mainframe"}); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestLLMDecoratorsKeepIdentity(t *testing.T) {
	m, err := LLM(Config{
		Provider: "anthropic",
		APIKey:   "k",
		Model:    "claude-sonnet-4-5",
		RPM:      10,
		TPM:      1000,
		RetryMax: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	// Decorators wrap but must preserve the model id the registry keys on.
	if m.ID() != "anthropic:claude-sonnet-4-5" {
		t.Errorf("got id %q", m.ID())
	}
}

func TestRegister(t *testing.T) {
	reg := drover.NewLLMRegistry()
	m, err := Register(reg, Config{Provider: "openai", APIKey: "k", Model: "gpt-4o"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := reg.Resolve(m.ID())
	if err != nil {
		t.Fatal(err)
	}
	if got.ID() != m.ID() {
		t.Errorf("resolved %q", got.ID())
	}
}
