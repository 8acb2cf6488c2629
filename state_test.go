package drover

import (
	"errors"
	"testing"
)

func TestParseState(t *testing.T) {
	st, err := ParseState("agent")
	if err != nil {
		t.Fatal(err)
	}
	if st != StateAgent {
		t.Errorf("got %q, want %q", st, StateAgent)
	}

	// Legacy alias written before the feedback/threshold split.
	st, err = ParseState("hil")
	if err != nil {
		t.Fatal(err)
	}
	if st != StateHITLFeedback {
		t.Errorf("legacy hil: got %q, want %q", st, StateHITLFeedback)
	}

	if _, err := ParseState("bogus"); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestStateIsLive(t *testing.T) {
	live := []State{StateWorkflow, StateAgent, StateFunctions, StateHITLTool}
	for _, s := range live {
		if !s.IsLive() {
			t.Errorf("%s should be live", s)
		}
	}
	quiescent := []State{StateError, StateHITLThreshold, StateHITLFeedback, StateCompleted, StateShutdown, StateChildAgents, StateTimeout}
	for _, s := range quiescent {
		if s.IsLive() {
			t.Errorf("%s should not be live", s)
		}
	}
}

func TestStateIsPaused(t *testing.T) {
	paused := []State{StateHITLThreshold, StateHITLFeedback, StateHITLTool}
	for _, s := range paused {
		if !s.IsPaused() {
			t.Errorf("%s should be paused", s)
		}
	}
	if StateAgent.IsPaused() || StateCompleted.IsPaused() {
		t.Error("agent/completed should not be paused")
	}
}

func TestValidateTransition(t *testing.T) {
	legal := []struct{ from, to State }{
		{StateAgent, StateFunctions},
		{StateAgent, StateCompleted},
		{StateFunctions, StateAgent},
		{StateFunctions, StateHITLTool},
		{StateHITLTool, StateFunctions},
		{StateHITLThreshold, StateAgent},
		{StateError, StateWorkflow},
		{StateShutdown, StateAgent},
		{StateTimeout, StateCompleted},
		{StateChildAgents, StateAgent},
	}
	for _, tc := range legal {
		if err := ValidateTransition(tc.from, tc.to); err != nil {
			t.Errorf("%s -> %s should be legal: %v", tc.from, tc.to, err)
		}
	}

	illegal := []struct{ from, to State }{
		{StateCompleted, StateAgent},
		{StateFunctions, StateCompleted},
		{StateAgent, StateShutdown},
		{StateHITLTool, StateCompleted},
	}
	for _, tc := range illegal {
		err := ValidateTransition(tc.from, tc.to)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s should be rejected, got %v", tc.from, tc.to, err)
		}
	}
}

func TestValidateTransitionSameState(t *testing.T) {
	// Idempotent save.
	if err := ValidateTransition(StateCompleted, StateCompleted); err != nil {
		t.Errorf("same-state transition should be allowed: %v", err)
	}
}

func TestValidateTransitionUnknownState(t *testing.T) {
	err := ValidateTransition(State("mystery"), StateAgent)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("unknown from-state should be rejected, got %v", err)
	}
}
