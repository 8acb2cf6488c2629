package drover

import "time"

// AutonomousIteration is the append-only audit record of one completed loop
// iteration. The orchestrator writes it once, after the iteration's function
// calls have finished; it is never updated in place. A correction is a new
// iteration, not a patch.
//
// Records are keyed by (AgentID, Iteration) with Iteration starting at 1 and
// incrementing by exactly one, so LoadIterations always returns a gapless
// ascending sequence.
type AutonomousIteration struct {
	AgentID   string `json:"agentId"`
	Iteration int    `json:"iteration"`

	// Cost is the USD spend of this iteration only, not cumulative.
	Cost    float64 `json:"cost"`
	Summary string  `json:"summary"`

	// Functions lists the tool class names available when the iteration ran.
	Functions []string    `json:"functions"`
	Prompt    string      `json:"prompt"`
	Images    []ImageData `json:"images,omitempty"`

	// Plan and reasoning fields extracted from the model response.
	ExpandedUserRequest   string `json:"expandedUserRequest,omitempty"`
	ObservationsReasoning string `json:"observationsReasoning,omitempty"`
	AgentPlan             string `json:"agentPlan,omitempty"`
	NextStepDetails       string `json:"nextStepDetails,omitempty"`

	// Code fields, populated only for the codegen subtype. Empty strings
	// otherwise.
	DraftCode    string `json:"draftCode,omitempty"`
	CodeReview   string `json:"codeReview,omitempty"`
	Code         string `json:"code,omitempty"`
	ExecutedCode string `json:"executedCode,omitempty"`

	FunctionCalls []FunctionCallResult `json:"functionCalls,omitempty"`

	// Memory and ToolState are snapshots at the end of this iteration.
	Memory    map[string]string `json:"memory,omitempty"`
	ToolState map[string]any    `json:"toolState,omitempty"`

	Error string          `json:"error,omitempty"`
	Stats GenerationStats `json:"stats"`

	CreatedAt time.Time `json:"createdAt"`
}
