package badger

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

	s, err := Open(t.TempDir(), &drover.Hydrator{Factory: factory})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleContext(agentID, execID string, state drover.State) *drover.AgentContext {
	return &drover.AgentContext{
		AgentID:     agentID,
		ExecutionID: execID,
		Type:        drover.TypeAutonomous,
		State:       state,
		UserPrompt:  "do the thing",
		InputPrompt: "do the thing",
	}
}

func TestSaveGetLoad(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleContext("a1", "e1", drover.StateAgent)); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AgentID != "a1" || got.State != drover.StateAgent {
		t.Errorf("got %+v", got)
	}

	got, err = s.Load(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AgentID != "a1" {
		t.Errorf("got agent %s", got.AgentID)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, drover.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Load(ctx, "e404"); !errors.Is(err, drover.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListRunning(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for id, st := range map[string]drover.State{
		"a1": drover.StateAgent,
		"a2": drover.StateCompleted,
		"a3": drover.StateError,
	} {
		if err := s.Save(ctx, sampleContext(id, "e-"+id, st)); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("List returned %d", len(all))
	}
	running, err := s.ListRunning(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 2 {
		t.Fatalf("ListRunning returned %d", len(running))
	}
}

func TestDeleteCascades(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleContext("a1", "e1", drover.StateCompleted)); err != nil {
		t.Fatal(err)
	}
	for n := 1; n <= 3; n++ {
		if err := s.SaveIteration(ctx, &drover.AutonomousIteration{AgentID: "a1", Iteration: n}); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Delete(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "a1"); !errors.Is(err, drover.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Load(ctx, "e1"); !errors.Is(err, drover.ErrNotFound) {
		t.Errorf("execution pointer should be gone, got %v", err)
	}
	iters, err := s.LoadIterations(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(iters) != 0 {
		t.Errorf("iterations should be gone, got %d", len(iters))
	}

	// Deleting a missing agent is best-effort, not an error.
	if err := s.Delete(ctx, "ghost"); err != nil {
		t.Errorf("got %v", err)
	}
}

func TestUpdateStateValidated(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleContext("a1", "e1", drover.StateAgent)); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateState(ctx, "a1", drover.StateCompleted); err != nil {
		t.Fatal(err)
	}
	err := s.UpdateState(ctx, "a1", drover.StateAgent)
	if !errors.Is(err, drover.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestIterationOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Pad past single digits to prove key order is numeric, not lexical.
	for _, n := range []int{10, 2, 1, 11, 3} {
		if err := s.SaveIteration(ctx, &drover.AutonomousIteration{AgentID: "a1", Iteration: n}); err != nil {
			t.Fatal(err)
		}
	}
	iters, err := s.LoadIterations(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	want := []int{1, 2, 3, 10, 11}
	if len(iters) != len(want) {
		t.Fatalf("got %d records", len(iters))
	}
	for i, it := range iters {
		if it.Iteration != want[i] {
			t.Errorf("position %d has iteration %d, want %d", i, it.Iteration, want[i])
		}
	}

	// Upsert on the same key.
	if err := s.SaveIteration(ctx, &drover.AutonomousIteration{AgentID: "a1", Iteration: 2, Summary: "v2"}); err != nil {
		t.Fatal(err)
	}
	iters, err = s.LoadIterations(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(iters) != 5 || iters[1].Summary != "v2" {
		t.Errorf("upsert failed")
	}
}
