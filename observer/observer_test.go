package observer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/evrane/drover"
)

// testInstruments builds instruments against the default (noop) global
// providers, so tests exercise the wrappers without an exporter.
func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments(nil)
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

type mockLLM struct {
	resp drover.ChatResponse
	err  error

	lastReq   drover.ChatRequest
	lastTools []drover.ToolDefinition
}

func (m *mockLLM) ID() string         { return "mock:test-model" }
func (m *mockLLM) IsConfigured() bool { return true }

func (m *mockLLM) Generate(ctx context.Context, req drover.ChatRequest) (drover.ChatResponse, error) {
	m.lastReq = req
	return m.resp, m.err
}

func (m *mockLLM) GenerateWithTools(ctx context.Context, req drover.ChatRequest, tools []drover.ToolDefinition) (drover.ChatResponse, error) {
	m.lastReq = req
	m.lastTools = tools
	return m.resp, m.err
}

func (m *mockLLM) GenerateJSON(ctx context.Context, req drover.ChatRequest, out any) (drover.ChatResponse, error) {
	m.lastReq = req
	return m.resp, m.err
}

func TestObservedLLMDelegates(t *testing.T) {
	mock := &mockLLM{resp: drover.ChatResponse{
		Content: "hello",
		Stats:   drover.GenerationStats{Model: "test-model", InputTokens: 10, OutputTokens: 5},
	}}
	wrapped := WrapLLM(mock, testInstruments(t))

	if wrapped.ID() != "mock:test-model" {
		t.Errorf("ID = %q, want mock:test-model", wrapped.ID())
	}
	if !wrapped.IsConfigured() {
		t.Error("IsConfigured = false, want true")
	}

	req := drover.ChatRequest{Messages: []drover.ChatMessage{drover.UserMessage("hi")}}
	resp, err := wrapped.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Content = %q, want hello", resp.Content)
	}
	if len(mock.lastReq.Messages) != 1 {
		t.Errorf("inner received %d messages, want 1", len(mock.lastReq.Messages))
	}
}

func TestObservedLLMWithTools(t *testing.T) {
	mock := &mockLLM{resp: drover.ChatResponse{
		ToolCalls: []drover.FunctionCall{{ID: "c1", Name: "greet", Args: json.RawMessage(`{}`)}},
	}}
	wrapped := WrapLLM(mock, testInstruments(t))

	tools := []drover.ToolDefinition{{Name: "greet", Description: "says hello"}}
	resp, err := wrapped.GenerateWithTools(context.Background(), drover.ChatRequest{}, tools)
	if err != nil {
		t.Fatalf("GenerateWithTools: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "greet" {
		t.Errorf("ToolCalls = %+v, want one call to greet", resp.ToolCalls)
	}
	if len(mock.lastTools) != 1 {
		t.Errorf("inner received %d tools, want 1", len(mock.lastTools))
	}
}

func TestObservedLLMPropagatesError(t *testing.T) {
	wantErr := errors.New("model unavailable")
	wrapped := WrapLLM(&mockLLM{err: wantErr}, testInstruments(t))

	_, err := wrapped.Generate(context.Background(), drover.ChatRequest{})
	if !errors.Is(err, wantErr) {
		t.Errorf("Generate error = %v, want %v", err, wantErr)
	}
}

type mockTool struct {
	result drover.ToolResult
	err    error

	lastName string
	lastArgs json.RawMessage
}

func (m *mockTool) Definitions() []drover.ToolDefinition {
	return []drover.ToolDefinition{{Name: "echo", Description: "echoes input"}}
}

func (m *mockTool) Execute(ctx context.Context, name string, args json.RawMessage) (drover.ToolResult, error) {
	m.lastName = name
	m.lastArgs = args
	return m.result, m.err
}

func TestObservedToolDelegates(t *testing.T) {
	mock := &mockTool{result: drover.ToolResult{Content: "echoed"}}
	wrapped := WrapTool(mock, testInstruments(t))

	defs := wrapped.Definitions()
	if len(defs) != 1 || defs[0].Name != "echo" {
		t.Errorf("Definitions = %+v, want one echo", defs)
	}

	res, err := wrapped.Execute(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "echoed" {
		t.Errorf("Content = %q, want echoed", res.Content)
	}
	if mock.lastName != "echo" {
		t.Errorf("inner received name %q, want echo", mock.lastName)
	}
}

func TestObservedToolPropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	wrapped := WrapTool(&mockTool{err: wantErr}, testInstruments(t))

	_, err := wrapped.Execute(context.Background(), "echo", nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("Execute error = %v, want %v", err, wantErr)
	}
}

func TestEventRecorderHandlesAllTypes(t *testing.T) {
	rec := NewEventRecorder(testInstruments(t))

	// Must not panic on any event type; counters go to the noop meter.
	for _, typ := range []drover.EventType{
		drover.EventStateChange,
		drover.EventLLMCall,
		drover.EventIteration,
		drover.EventPause,
		drover.EventCompleted,
		drover.EventError,
	} {
		rec(drover.Event{Type: typ, AgentID: "agent-1", Iteration: 3, State: drover.StateCompleted, Err: "x"})
	}
}

func TestTracerSpanLifecycle(t *testing.T) {
	tracer := NewTracer()

	ctx, span := tracer.Start(context.Background(), "iteration",
		drover.StringAttr("agent.id", "agent-1"),
		drover.IntAttr("agent.iteration", 2),
	)
	if ctx == nil {
		t.Fatal("Start returned nil context")
	}
	span.SetAttr(drover.Float64Attr("cost", 0.5), drover.BoolAttr("final", true))
	span.Event("llm-call", drover.StringAttr("model", "mock:test-model"))
	span.Error(errors.New("transient"))
	span.End()
}

func TestBareModel(t *testing.T) {
	cases := map[string]string{
		"anthropic:claude-sonnet-4-5": "claude-sonnet-4-5",
		"openai:gpt-5-mini":           "gpt-5-mini",
		"gpt-4o":                      "gpt-4o",
	}
	for in, want := range cases {
		if got := bareModel(in); got != want {
			t.Errorf("bareModel(%q) = %q, want %q", in, got, want)
		}
	}
}
