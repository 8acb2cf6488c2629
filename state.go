package drover

import "fmt"

// State is the execution state of one agent instance.
type State string

const (
	// StateWorkflow and StateAgent mean a live thread is generating the next
	// model response; which of the two applies follows the agent's Type.
	StateWorkflow State = "workflow"
	StateAgent    State = "agent"
	// StateFunctions means a live thread is executing the function calls the
	// model requested.
	StateFunctions State = "functions"
	// StateHITLTool means a tool requested synchronous human approval
	// mid-call. The execution thread counts as live: blocked on a human,
	// not on the model.
	StateHITLTool State = "hitl_tool"

	// Quiescent states. Each needs an explicit external action (resume,
	// decision, cancel, delete) to leave.
	StateError         State = "error"
	StateHITLThreshold State = "hitl_threshold"
	StateHITLFeedback  State = "hitl_feedback"
	StateCompleted     State = "completed"
	StateShutdown      State = "shutdown"
	StateChildAgents   State = "child_agents"
	StateTimeout       State = "timeout"
)

// legacyStateHIL is accepted on read for records written before the
// feedback/threshold split and maps to hitl_feedback. Never written.
const legacyStateHIL = "hil"

// ParseState converts a stored state string to a State, mapping the legacy
// "hil" alias to hitl_feedback.
func ParseState(s string) (State, error) {
	if s == legacyStateHIL {
		return StateHITLFeedback, nil
	}
	st := State(s)
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown agent state %q", s)
	}
	return st, nil
}

// IsLive reports whether the state denotes a live, runnable execution
// thread. Starting or resuming an agent in a live state is rejected with
// ErrAlreadyRunning.
func (s State) IsLive() bool {
	switch s {
	case StateWorkflow, StateAgent, StateFunctions, StateHITLTool:
		return true
	}
	return false
}

// IsPaused reports whether the state is one of the three human-in-the-loop
// pause states.
func (s State) IsPaused() bool {
	switch s {
	case StateHITLThreshold, StateHITLFeedback, StateHITLTool:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// transitions is the full table of legal state changes. A missing pair is a
// programming error surfaced by ValidateTransition, never absorbed.
var transitions = map[State]map[State]struct{}{
	StateWorkflow: {
		StateFunctions:     {},
		StateHITLThreshold: {},
		StateHITLFeedback:  {},
		StateError:         {},
		StateCompleted:     {},
		StateChildAgents:   {},
		StateTimeout:       {},
	},
	StateAgent: {
		StateFunctions:     {},
		StateHITLThreshold: {},
		StateHITLFeedback:  {},
		StateError:         {},
		StateCompleted:     {},
		StateChildAgents:   {},
		StateTimeout:       {},
	},
	StateFunctions: {
		StateWorkflow: {},
		StateAgent:    {},
		StateHITLTool: {},
		StateError:    {},
	},
	StateHITLTool: {
		StateFunctions: {},
		StateError:     {},
	},
	StateHITLThreshold: resumableTo(),
	StateHITLFeedback:  resumableTo(),
	StateError:         resumableTo(),
	StateShutdown:      resumableTo(),
	StateTimeout:       resumableTo(),
	StateChildAgents: {
		StateWorkflow: {},
		StateAgent:    {},
		StateError:    {},
	},
	StateCompleted: {},
}

// resumableTo is the exit set shared by every quiescent-but-resumable state:
// back to a live generation state on resume, completed on forced completion,
// or error when the resume itself fails.
func resumableTo() map[State]struct{} {
	return map[State]struct{}{
		StateWorkflow:  {},
		StateAgent:     {},
		StateCompleted: {},
		StateError:     {},
	}
}

// ValidateTransition checks from -> to against the transition table.
// A same-state transition is an idempotent save and always allowed.
func ValidateTransition(from, to State) error {
	if from == to {
		return nil
	}
	allowed, ok := transitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, from)
	}
	if _, ok := allowed[to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// liveStateFor returns the generation state matching the agent type:
// workflow agents run in the workflow state, everything else in agent.
func liveStateFor(t AgentType) State {
	if t == TypeWorkflow {
		return StateWorkflow
	}
	return StateAgent
}
