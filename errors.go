package drover

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the error kinds callers are expected to branch on.
// Match with errors.Is.
var (
	// ErrNotFound reports a load/get for an execution or agent id that has
	// no stored context. Never substituted with a zero-value context.
	ErrNotFound = errors.New("agent not found")

	// ErrAlreadyRunning reports an attempt to start or resume an agent whose
	// state already denotes a live execution thread.
	ErrAlreadyRunning = errors.New("agent already running")

	// ErrInvalidTransition reports a state change not present in the
	// transition table. The stored state is left unchanged.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrUnknownFunction reports a function class name with no registered
	// constructor in the factory.
	ErrUnknownFunction = errors.New("unknown function class")

	// ErrApprovalRequired is returned by a tool that needs a synchronous
	// human decision before its call can proceed. The loop parks the agent
	// in the hitl_tool state and re-executes the call after approval.
	ErrApprovalRequired = errors.New("human approval required")
)

// LLMError wraps a failure from a model backend, identifying the provider.
type LLMError struct {
	Provider string
	Err      error
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// GuardError reports a content guard rejection. The runtime treats it as a
// fatal orchestration error: the agent transitions to the error state and
// waits for an explicit resume.
type GuardError struct {
	Guard  string
	Stage  string
	Reason string
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("guard %s rejected %s: %s", e.Guard, e.Stage, e.Reason)
}

// ErrHTTP carries an HTTP failure from a model backend. The retry decorator
// inspects Status to decide whether a call is worth retrying.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
