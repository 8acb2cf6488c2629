package drover

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// --- Tool mocks (shared across functions_test.go, controls_test.go) ---

type echoTool struct{}

func (echoTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{
		Name:        "echo",
		Description: "Echo the input text",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
	}}
}

func (echoTool) Execute(_ context.Context, _ string, args json.RawMessage) (ToolResult, error) {
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return ToolResult{}, err
	}
	return ToolResult{Content: "echo: " + p.Text}, nil
}

type errTool struct{}

func (errTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "fail", Description: "Always fails"}}
}

func (errTool) Execute(_ context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{}, errors.New("tool broken")
}

type panicTool struct{}

func (panicTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "explode", Description: "Panics"}}
}

func (panicTool) Execute(_ context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	panic("boom")
}

type approvalTool struct{}

func (approvalTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "guarded", Description: "Needs human approval"}}
}

func (approvalTool) Execute(_ context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{}, ErrApprovalRequired
}

// flakyLLM fails the first `failures` calls with the given HTTP status, then
// succeeds. Used by the retry and rate-limit tests.
type flakyLLM struct {
	mu       sync.Mutex
	failures int
	status   int
	calls    int
	stats    GenerationStats
}

func (m *flakyLLM) ID() string         { return "mock:flaky" }
func (m *flakyLLM) IsConfigured() bool { return true }

func (m *flakyLLM) next() (ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return ChatResponse{}, &ErrHTTP{Status: m.status, Body: "try later"}
	}
	return ChatResponse{Content: "ok", Stats: m.stats}, nil
}

func (m *flakyLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *flakyLLM) Generate(context.Context, ChatRequest) (ChatResponse, error) {
	return m.next()
}

func (m *flakyLLM) GenerateWithTools(context.Context, ChatRequest, []ToolDefinition) (ChatResponse, error) {
	return m.next()
}

func (m *flakyLLM) GenerateJSON(context.Context, ChatRequest, any) (ChatResponse, error) {
	return m.next()
}
