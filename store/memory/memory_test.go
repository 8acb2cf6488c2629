package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/evrane/drover"
)

type noopTool struct{}

func (noopTool) Definitions() []drover.ToolDefinition {
	return []drover.ToolDefinition{{Name: "noop", Description: "Does nothing"}}
}

func (noopTool) Execute(context.Context, string, json.RawMessage) (drover.ToolResult, error) {
	return drover.ToolResult{Content: "ok"}, nil
}

func newStore(t *testing.T) *Store {
	t.Helper()
	factory := drover.NewFunctionFactory()
	factory.Register("noop", func() drover.Tool { return noopTool{} })
	return New(&drover.Hydrator{Factory: factory})
}

func sampleContext(agentID, execID string, state drover.State) *drover.AgentContext {
	ac := &drover.AgentContext{
		AgentID:     agentID,
		ExecutionID: execID,
		Type:        drover.TypeAutonomous,
		State:       state,
		UserPrompt:  "do the thing",
		InputPrompt: "do the thing",
		Memory:      map[string]string{"k": "v"},
	}
	return ac
}

func TestSaveGetRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleContext("a1", "e1", drover.StateAgent)); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AgentID != "a1" || got.State != drover.StateAgent || got.Memory["k"] != "v" {
		t.Errorf("got %+v", got)
	}
	if got.LastUpdate.IsZero() {
		t.Error("save should stamp LastUpdate")
	}

	// Reads rehydrate; mutating one snapshot must not leak into the next.
	got.Memory["k"] = "mutated"
	again, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Memory["k"] != "v" {
		t.Error("snapshots must not alias each other")
	}
}

func TestGetNotFound(t *testing.T) {
	s := newStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, drover.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadByExecutionID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleContext("a1", "e1", drover.StateAgent)); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AgentID != "a1" {
		t.Errorf("got agent %s", got.AgentID)
	}

	if _, err := s.Load(ctx, "e404"); !errors.Is(err, drover.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// A resumed agent keeps old execution ids pointing at it.
	resumed := sampleContext("a1", "e2", drover.StateAgent)
	if err := s.Save(ctx, resumed); err != nil {
		t.Fatal(err)
	}
	for _, execID := range []string{"e1", "e2"} {
		got, err := s.Load(ctx, execID)
		if err != nil {
			t.Fatal(err)
		}
		if got.AgentID != "a1" {
			t.Errorf("execution %s resolved to %s", execID, got.AgentID)
		}
	}
}

func TestListRunningExcludesCompleted(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	states := map[string]drover.State{
		"a1": drover.StateAgent,
		"a2": drover.StateCompleted,
		"a3": drover.StateHITLThreshold,
		"a4": drover.StateError,
	}
	for id, st := range states {
		if err := s.Save(ctx, sampleContext(id, "e"+id, st)); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("List returned %d agents", len(all))
	}

	running, err := s.ListRunning(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 3 {
		t.Fatalf("ListRunning returned %d agents", len(running))
	}
	for _, ac := range running {
		if ac.State == drover.StateCompleted {
			t.Errorf("completed agent %s listed as running", ac.AgentID)
		}
	}
}

func TestDeleteCascades(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleContext("a1", "e1", drover.StateCompleted)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveIteration(ctx, &drover.AutonomousIteration{AgentID: "a1", Iteration: 1}); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "a1"); !errors.Is(err, drover.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Load(ctx, "e1"); !errors.Is(err, drover.ErrNotFound) {
		t.Errorf("execution mapping should be gone, got %v", err)
	}
	iters, err := s.LoadIterations(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(iters) != 0 {
		t.Errorf("iterations should be gone, got %d", len(iters))
	}
}

func TestUpdateState(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleContext("a1", "e1", drover.StateAgent)); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateState(ctx, "a1", drover.StateCompleted); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != drover.StateCompleted {
		t.Errorf("state %s", got.State)
	}

	// Completed is terminal for the agent state machine.
	err = s.UpdateState(ctx, "a1", drover.StateAgent)
	if !errors.Is(err, drover.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestUpdateFunctions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleContext("a1", "e1", drover.StateHITLThreshold)); err != nil {
		t.Fatal(err)
	}
	ac, err := s.UpdateFunctions(ctx, "a1", []string{"noop"})
	if err != nil {
		t.Fatal(err)
	}
	if names := ac.Functions.ClassNames(); len(names) != 1 || names[0] != "noop" {
		t.Errorf("got %v", names)
	}

	got, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if names := got.Functions.ClassNames(); len(names) != 1 || names[0] != "noop" {
		t.Errorf("persisted classes %v", names)
	}

	if _, err := s.UpdateFunctions(ctx, "a1", []string{"ghost"}); !errors.Is(err, drover.ErrUnknownFunction) {
		t.Errorf("expected ErrUnknownFunction, got %v", err)
	}
}

func TestRequestHumanInLoopCheck(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleContext("a1", "e1", drover.StateAgent)); err != nil {
		t.Fatal(err)
	}
	if err := s.RequestHumanInLoopCheck(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.HILRequested {
		t.Error("flag should persist")
	}

	if err := s.RequestHumanInLoopCheck(ctx, "missing"); !errors.Is(err, drover.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIterationLog(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Saved out of order; reads come back ascending.
	for _, n := range []int{2, 1, 3} {
		it := &drover.AutonomousIteration{AgentID: "a1", Iteration: n, Summary: "v1"}
		if err := s.SaveIteration(ctx, it); err != nil {
			t.Fatal(err)
		}
	}

	iters, err := s.LoadIterations(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(iters) != 3 {
		t.Fatalf("got %d records", len(iters))
	}
	for i, it := range iters {
		if it.Iteration != i+1 {
			t.Errorf("record %d has iteration %d", i, it.Iteration)
		}
	}

	// Saving the same iteration number upserts rather than appending.
	if err := s.SaveIteration(ctx, &drover.AutonomousIteration{AgentID: "a1", Iteration: 2, Summary: "v2"}); err != nil {
		t.Fatal(err)
	}
	iters, err = s.LoadIterations(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(iters) != 3 || iters[1].Summary != "v2" {
		t.Errorf("upsert failed: %d records, summary %q", len(iters), iters[1].Summary)
	}

	// Records are copies; mutating a returned record must not corrupt the log.
	iters[0].Summary = "mutated"
	again, err := s.LoadIterations(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if again[0].Summary == "mutated" {
		t.Error("returned records must be copies")
	}
}
