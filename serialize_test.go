package drover_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/evrane/drover"
)

func TestContextRoundTrip(t *testing.T) {
	llm := &scriptLLM{}
	reg := drover.NewLLMRegistry()
	reg.RegisterLLM(llm)
	factory := baseFactory()

	funcs, err := drover.RegistryFromNames(factory, []string{"shout", "broken"})
	if err != nil {
		t.Fatal(err)
	}

	ac := &drover.AgentContext{
		AgentID:      "a1",
		ExecutionID:  "e1",
		TraceID:      "t1",
		Type:         drover.TypeAutonomous,
		Subtype:      "xml",
		User:         drover.User{ID: "u1"},
		State:        drover.StateHITLThreshold,
		Error:        "",
		Output:       "partial",
		HILBudget:    2.5,
		HILCount:     10,
		Cost:         1.25,
		HILRequested: true,
		LLMs:         drover.ModelSet{Easy: llm, Medium: llm, Hard: llm},
		Functions:    funcs,
		Memory:       map[string]string{"region": "eu-west"},
		ToolState:    map[string]any{"cursor": "abc"},
		Metadata:     map[string]any{"team": "data"},
		Iterations:   3,

		HILApprovedCost:       0.75,
		HILApprovedIterations: 2,
		ParkedRecord: &drover.AutonomousIteration{
			AgentID:   "a1",
			Iteration: 3,
			Prompt:    "original task",
			AgentPlan: "finish the report",
			Cost:      0.4,
		},

		Invoking: []drover.FunctionCall{{ID: "c9", Name: "shout", Args: json.RawMessage(`{"text":"hi"}`)}},
		Notes:        []string{"retry quota is low"},
		UserPrompt:   "original task",
		InputPrompt:  "resumed with feedback",
		Messages: []drover.ChatMessage{
			drover.UserMessage("original task"),
			drover.AssistantMessage("working"),
		},
		FunctionCallHistory: []drover.FunctionCallResult{{
			FunctionCall: drover.FunctionCall{ID: "c1", Name: "shout"},
			Stdout:       "HI",
		}},
		PendingMessages:    []string{"queued feedback"},
		CompletedHandlerID: "log",
		FileSystem:         &drover.FileSystemRef{BasePath: "/srv", WorkingDirectory: "/srv/a1"},
		LastUpdate:         time.Now().UTC().Truncate(time.Second),
	}

	data, err := drover.MarshalContext(ac)
	if err != nil {
		t.Fatal(err)
	}

	h := &drover.Hydrator{Factory: factory, LLMs: reg}
	got, err := h.UnmarshalContext(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}

	if got.AgentID != "a1" || got.ExecutionID != "e1" || got.TraceID != "t1" {
		t.Errorf("identity fields: %+v", got)
	}
	if got.State != drover.StateHITLThreshold {
		t.Errorf("state %s", got.State)
	}
	if got.User.ID != "u1" {
		t.Errorf("user %+v", got.User)
	}
	if got.HILBudget != 2.5 || got.Cost != 1.25 || !got.HILRequested {
		t.Errorf("budget fields: %+v", got)
	}
	if got.Iterations != 3 || got.Output != "partial" {
		t.Errorf("progress fields: %+v", got)
	}
	if got.Memory["region"] != "eu-west" {
		t.Errorf("memory %v", got.Memory)
	}
	if got.ToolState["cursor"] != "abc" {
		t.Errorf("tool state %v", got.ToolState)
	}
	if got.HILApprovedCost != 0.75 || got.HILApprovedIterations != 2 {
		t.Errorf("approval watermark: %v / %d", got.HILApprovedCost, got.HILApprovedIterations)
	}
	if got.ParkedRecord == nil || got.ParkedRecord.AgentPlan != "finish the report" || got.ParkedRecord.Cost != 0.4 {
		t.Errorf("parked record %+v", got.ParkedRecord)
	}
	if len(got.Invoking) != 1 || got.Invoking[0].Name != "shout" {
		t.Errorf("invoking %+v", got.Invoking)
	}
	if got.UserPrompt != "original task" || got.InputPrompt != "resumed with feedback" {
		t.Errorf("prompts: %q / %q", got.UserPrompt, got.InputPrompt)
	}
	if len(got.Messages) != 2 || len(got.FunctionCallHistory) != 1 {
		t.Errorf("history: %d messages, %d calls", len(got.Messages), len(got.FunctionCallHistory))
	}
	if len(got.PendingMessages) != 1 || got.PendingMessages[0] != "queued feedback" {
		t.Errorf("pending %v", got.PendingMessages)
	}
	if got.FileSystem == nil || got.FileSystem.WorkingDirectory != "/srv/a1" {
		t.Errorf("filesystem %+v", got.FileSystem)
	}

	// Live objects are rebuilt through the registries, not persisted.
	names := got.Functions.ClassNames()
	if len(names) != 2 {
		t.Errorf("function classes %v", names)
	}
	if got.LLMs.Hard == nil || got.LLMs.Hard.ID() != llm.ID() {
		t.Errorf("model set not resolved: %+v", got.LLMs)
	}
	if err := got.LLMs.Validate(); err != nil {
		t.Errorf("resolved set invalid: %v", err)
	}
}

func TestHydrateLegacyPauseState(t *testing.T) {
	doc := `{"agentId":"a1","executionId":"e1","type":"autonomous","state":"hil","llms":{}}`

	h := &drover.Hydrator{}
	got, err := h.UnmarshalContext(context.Background(), []byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if got.State != drover.StateHITLFeedback {
		t.Errorf("legacy state should map to hitl_feedback, got %s", got.State)
	}
}

func TestHydrateUnknownState(t *testing.T) {
	doc := `{"agentId":"a1","state":"warp_drive","llms":{}}`
	h := &drover.Hydrator{}
	if _, err := h.UnmarshalContext(context.Background(), []byte(doc)); err == nil {
		t.Error("unknown state must fail hydration")
	}
}

func TestHydrateDanglingFunctionClass(t *testing.T) {
	doc := `{"agentId":"a1","state":"completed","llms":{},"functions":["vanished"]}`
	h := &drover.Hydrator{Factory: drover.NewFunctionFactory()}
	_, err := h.UnmarshalContext(context.Background(), []byte(doc))
	if !errors.Is(err, drover.ErrUnknownFunction) {
		t.Errorf("expected ErrUnknownFunction, got %v", err)
	}
}

func TestHydrateDanglingModelRef(t *testing.T) {
	doc := `{"agentId":"a1","state":"completed","llms":{"hard":"mock:gone"}}`
	h := &drover.Hydrator{LLMs: drover.NewLLMRegistry()}
	if _, err := h.UnmarshalContext(context.Background(), []byte(doc)); err == nil {
		t.Error("dangling model ref must fail hydration")
	}
}
