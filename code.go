package drover

import (
	"context"
	"time"
)

// CodeRunner executes model-written code in a sandboxed environment for the
// codegen agent subtype. Implementations control the runtime (subprocess,
// HTTP sandbox, container). The dispatch function bridges the running code
// back to the agent's function registry so code can call any tool the agent
// has access to.
type CodeRunner interface {
	Run(ctx context.Context, req CodeRequest, dispatch CodeDispatchFunc) (CodeResult, error)
}

// CodeDispatchFunc executes one function call on behalf of running code.
type CodeDispatchFunc func(ctx context.Context, call FunctionCall) FunctionCallResult

// CodeRequest is the input to CodeRunner.Run.
type CodeRequest struct {
	// Code is the source to execute.
	Code string `json:"code"`
	// Runtime selects the execution environment ("python", "node").
	// Empty defaults to "python".
	Runtime string `json:"runtime,omitempty"`
	// Timeout caps execution. Zero means the runner default.
	Timeout time.Duration `json:"-"`
	// WorkingDirectory overrides the runner's workspace for this execution.
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// CodeResult is the output of CodeRunner.Run. Execution failures land in
// Error with a non-zero ExitCode; a non-nil error from Run means the runner
// itself failed, not the code.
type CodeResult struct {
	// Output is the structured result set by the code.
	Output string `json:"output"`
	// Logs captures stdout/stderr from the execution.
	Logs string `json:"logs,omitempty"`
	// ExitCode is the process exit code (0 = success).
	ExitCode int `json:"exit_code"`
	// Error describes an execution failure (timeout, syntax error).
	Error string `json:"error,omitempty"`
}
