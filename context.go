package drover

import (
	"maps"
	"slices"
	"time"
)

// AgentType classifies how an agent is driven.
type AgentType string

const (
	// TypeAutonomous agents plan their own function calls each iteration.
	TypeAutonomous AgentType = "autonomous"
	// TypeWorkflow agents are driven by predefined steps; they run in the
	// workflow state instead of the agent state.
	TypeWorkflow AgentType = "workflow"
)

// FileSystemRef points an agent at a working directory. Optional and
// subtype-specific (code-generating agents); nil for everything else.
type FileSystemRef struct {
	BasePath         string `json:"basePath"`
	WorkingDirectory string `json:"workingDirectory"`
}

// AgentContext is the mutable, durable record of one agent instance.
//
// AgentID is stable for the agent's whole life. ExecutionID changes on every
// (re)start of the control loop: after an error, a pause, a human decision,
// or completion. The live in-memory value is owned by at most one execution
// thread; reads for listing go through store snapshots.
type AgentContext struct {
	AgentID     string
	ExecutionID string
	TraceID     string

	Type    AgentType
	Subtype string

	ParentAgentID string
	ChildAgents   []string

	// User owns the agent. Immutable after creation.
	User User

	State State
	// CallStack traces the loop's current nesting for crash diagnosis:
	// the generation frame, then each function call as it dispatches.
	// Reset at every iteration boundary.
	CallStack []string
	// Error holds the last error message; cleared on a successful
	// transition out of the error state.
	Error  string
	Output string

	// HILBudget is the USD ceiling and HILCount the iteration ceiling
	// before a human check is required. Zero disables the respective check.
	HILBudget float64
	HILCount  int
	// Cost is cumulative USD spend across all executions of this agent.
	Cost float64
	// HILRequested is a sticky flag set by an external actor to force a
	// pause at the next iteration boundary.
	HILRequested bool
	// HILApprovedCost and HILApprovedIterations are the approval watermark:
	// the spend and iteration count when a human last approved continuation.
	// The governor's threshold checks fire only past these figures.
	HILApprovedCost       float64
	HILApprovedIterations int

	LLMs      ModelSet
	Functions *FunctionRegistry

	Memory    map[string]string
	ToolState map[string]any
	Metadata  map[string]any

	// Iterations is the number of completed loop iterations; it is also the
	// index of the next AutonomousIteration record (1-based in the log).
	Iterations int
	// Invoking holds the function calls about to execute, so a crash inside
	// the functions state can be diagnosed and a parked hitl_tool call can
	// be re-dispatched after approval.
	Invoking []FunctionCall
	// ParkedRecord is the audit record of an iteration interrupted by a
	// tool-approval pause. The execution that finishes the parked calls
	// completes and writes it, keeping the original prompt, plan, stats,
	// and pre-pause results in the log.
	ParkedRecord *AutonomousIteration
	Notes        []string

	// UserPrompt is the original request. InputPrompt is what the current
	// execution started or resumed with; resumption rewrites it.
	UserPrompt  string
	InputPrompt string

	Messages            []ChatMessage
	FunctionCallHistory []FunctionCallResult
	// PendingMessages queues user messages that arrived while the loop was
	// mid-iteration; drained into the prompt at the next boundary.
	PendingMessages []string

	CompletedHandlerID string

	FileSystem *FileSystemRef

	LastUpdate time.Time
}

// BudgetRemaining derives the unspent budget. Never stored; always
// recomputed from HILBudget and Cost.
func (c *AgentContext) BudgetRemaining() float64 {
	if rem := c.HILBudget - c.Cost; rem > 0 {
		return rem
	}
	return 0
}

// IsExecuting reports whether the context's state denotes a live execution
// thread.
func (c *AgentContext) IsExecuting() bool { return c.State.IsLive() }

// LiveState returns the generation state matching the agent's type.
func (c *AgentContext) LiveState() State { return liveStateFor(c.Type) }

// Clone returns a deep copy. Stores hand out clones so listing and
// monitoring never alias the live representation.
func (c *AgentContext) Clone() *AgentContext {
	if c == nil {
		return nil
	}
	cp := *c
	cp.ChildAgents = slices.Clone(c.ChildAgents)
	cp.CallStack = slices.Clone(c.CallStack)
	cp.Memory = maps.Clone(c.Memory)
	cp.ToolState = maps.Clone(c.ToolState)
	cp.Metadata = maps.Clone(c.Metadata)
	cp.Invoking = slices.Clone(c.Invoking)
	if c.ParkedRecord != nil {
		pr := *c.ParkedRecord
		pr.FunctionCalls = slices.Clone(c.ParkedRecord.FunctionCalls)
		pr.Memory = maps.Clone(c.ParkedRecord.Memory)
		pr.ToolState = maps.Clone(c.ParkedRecord.ToolState)
		cp.ParkedRecord = &pr
	}
	cp.Notes = slices.Clone(c.Notes)
	cp.Messages = slices.Clone(c.Messages)
	cp.FunctionCallHistory = slices.Clone(c.FunctionCallHistory)
	cp.PendingMessages = slices.Clone(c.PendingMessages)
	if c.FileSystem != nil {
		fs := *c.FileSystem
		cp.FileSystem = &fs
	}
	if c.Functions != nil {
		reg := NewFunctionRegistry(c.Functions.factory)
		for _, n := range c.Functions.ClassNames() {
			// Same factory, fresh instances; class resolution cannot fail
			// for names that resolved once already.
			_ = reg.AddClass(n)
		}
		cp.Functions = reg
	}
	return &cp
}

// ensureMaps initializes nil map fields so callers can assign without
// checking. Called after construction and deserialization.
func (c *AgentContext) ensureMaps() {
	if c.Memory == nil {
		c.Memory = make(map[string]string)
	}
	if c.ToolState == nil {
		c.ToolState = make(map[string]any)
	}
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
}
