package drover

import "encoding/json"

// EventType identifies the kind of runtime event.
type EventType string

const (
	// EventStateChange signals a persisted state transition. State carries
	// the new state.
	EventStateChange EventType = "state-change"
	// EventLLMCall signals a completed model call. Content carries the
	// response text, Stats the call accounting.
	EventLLMCall EventType = "llm-call"
	// EventFunctionCallStart signals a function is about to be invoked.
	EventFunctionCallStart EventType = "function-call-start"
	// EventFunctionCallResult carries the captured result of a function call.
	EventFunctionCallResult EventType = "function-call-result"
	// EventIteration signals one iteration record has been appended.
	EventIteration EventType = "iteration"
	// EventPause signals the agent parked in a human-in-the-loop state.
	EventPause EventType = "pause"
	// EventCompleted signals the agent reached the completed state.
	EventCompleted EventType = "completed"
	// EventError signals the agent transitioned to the error state.
	EventError EventType = "error"
)

// Event is a typed notification emitted by the runtime as an agent runs.
// Delivery is synchronous on the loop goroutine; observers must not block.
type Event struct {
	Type      EventType       `json:"type"`
	AgentID   string          `json:"agent_id"`
	Iteration int             `json:"iteration,omitempty"`
	State     State           `json:"state,omitempty"`
	Name      string          `json:"name,omitempty"`
	Content   string          `json:"content,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Stats     GenerationStats `json:"stats,omitempty"`
	Err       string          `json:"error,omitempty"`
}

// EventFunc observes runtime events. Set via WithEvents.
type EventFunc func(Event)
