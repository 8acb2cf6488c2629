package drover

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ContextRecord is the wire/document shape of an AgentContext. Every field
// round-trips exactly except live objects, which are replaced by identifiers:
// the user by its id, models by per-level model ids, the function registry by
// its class names, and the completion handler by its id. Memory and tool
// state are plain string-keyed maps so the document stays portable across
// serialization formats.
type ContextRecord struct {
	AgentID     string `json:"agentId"`
	ExecutionID string `json:"executionId"`
	TraceID     string `json:"traceId,omitempty"`

	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	ParentAgentID string   `json:"parentAgentId,omitempty"`
	ChildAgents   []string `json:"childAgents,omitempty"`

	UserID string `json:"userId"`

	State     string   `json:"state"`
	CallStack []string `json:"callStack,omitempty"`
	Error     string   `json:"error,omitempty"`
	Output    string   `json:"output,omitempty"`

	HILBudget             float64 `json:"hilBudget"`
	HILCount              int     `json:"hilCount"`
	Cost                  float64 `json:"cost"`
	HILRequested          bool    `json:"hilRequested"`
	HILApprovedCost       float64 `json:"hilApprovedCost,omitempty"`
	HILApprovedIterations int     `json:"hilApprovedIterations,omitempty"`

	LLMs      ModelRefs `json:"llms"`
	Functions []string  `json:"functions"`

	Memory    map[string]string `json:"memory,omitempty"`
	ToolState map[string]any    `json:"toolState,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`

	Iterations   int                  `json:"iterations"`
	Invoking     []FunctionCall       `json:"invoking,omitempty"`
	ParkedRecord *AutonomousIteration `json:"parkedRecord,omitempty"`
	Notes        []string             `json:"notes,omitempty"`

	UserPrompt  string `json:"userPrompt"`
	InputPrompt string `json:"inputPrompt"`

	Messages            []ChatMessage        `json:"messages,omitempty"`
	FunctionCallHistory []FunctionCallResult `json:"functionCallHistory,omitempty"`
	PendingMessages     []string             `json:"pendingMessages,omitempty"`

	CompletedHandlerID string `json:"completedHandlerId,omitempty"`

	FileSystem *FileSystemRef `json:"fileSystem,omitempty"`

	LastUpdate time.Time `json:"lastUpdate"`
}

// EncodeContext converts a live AgentContext to its document shape.
func EncodeContext(ac *AgentContext) *ContextRecord {
	rec := &ContextRecord{
		AgentID:               ac.AgentID,
		ExecutionID:           ac.ExecutionID,
		TraceID:               ac.TraceID,
		Type:                  string(ac.Type),
		Subtype:               ac.Subtype,
		ParentAgentID:         ac.ParentAgentID,
		ChildAgents:           ac.ChildAgents,
		UserID:                ac.User.ID,
		State:                 ac.State.String(),
		CallStack:             ac.CallStack,
		Error:                 ac.Error,
		Output:                ac.Output,
		HILBudget:             ac.HILBudget,
		HILCount:              ac.HILCount,
		Cost:                  ac.Cost,
		HILRequested:          ac.HILRequested,
		HILApprovedCost:       ac.HILApprovedCost,
		HILApprovedIterations: ac.HILApprovedIterations,
		LLMs:                  ac.LLMs.Refs(),
		Memory:                ac.Memory,
		ToolState:             ac.ToolState,
		Metadata:              ac.Metadata,
		Iterations:            ac.Iterations,
		Invoking:              ac.Invoking,
		ParkedRecord:          ac.ParkedRecord,
		Notes:                 ac.Notes,
		UserPrompt:            ac.UserPrompt,
		InputPrompt:           ac.InputPrompt,
		Messages:              ac.Messages,
		FunctionCallHistory:   ac.FunctionCallHistory,
		PendingMessages:       ac.PendingMessages,
		CompletedHandlerID:    ac.CompletedHandlerID,
		LastUpdate:            ac.LastUpdate,
	}
	if ac.Functions != nil {
		rec.Functions = ac.Functions.ClassNames()
	}
	if ac.FileSystem != nil {
		fs := *ac.FileSystem
		rec.FileSystem = &fs
	}
	return rec
}

// MarshalContext serializes a live AgentContext to its JSON document form.
func MarshalContext(ac *AgentContext) ([]byte, error) {
	return json.Marshal(EncodeContext(ac))
}

// Hydrator rebuilds the live objects a ContextRecord references by id. Built
// once at startup from the process's registries and shared by every store.
type Hydrator struct {
	Factory     *FunctionFactory
	LLMs        *LLMRegistry
	Users       UserStore
	Completions *CompletionRegistry
}

// Hydrate converts a document back into a live AgentContext, resolving the
// user, model set, and function registry through the hydrator's registries.
// Every referenced id must resolve; a dangling reference is an error, never
// a silently degraded context.
func (h *Hydrator) Hydrate(ctx context.Context, rec *ContextRecord) (*AgentContext, error) {
	state, err := ParseState(rec.State)
	if err != nil {
		return nil, fmt.Errorf("hydrate agent %s: %w", rec.AgentID, err)
	}

	ac := &AgentContext{
		AgentID:               rec.AgentID,
		ExecutionID:           rec.ExecutionID,
		TraceID:               rec.TraceID,
		Type:                  AgentType(rec.Type),
		Subtype:               rec.Subtype,
		ParentAgentID:         rec.ParentAgentID,
		ChildAgents:           rec.ChildAgents,
		State:                 state,
		CallStack:             rec.CallStack,
		Error:                 rec.Error,
		Output:                rec.Output,
		HILBudget:             rec.HILBudget,
		HILCount:              rec.HILCount,
		Cost:                  rec.Cost,
		HILRequested:          rec.HILRequested,
		HILApprovedCost:       rec.HILApprovedCost,
		HILApprovedIterations: rec.HILApprovedIterations,
		Memory:                rec.Memory,
		ToolState:             rec.ToolState,
		Metadata:              rec.Metadata,
		Iterations:            rec.Iterations,
		Invoking:              rec.Invoking,
		ParkedRecord:          rec.ParkedRecord,
		Notes:                 rec.Notes,
		UserPrompt:            rec.UserPrompt,
		InputPrompt:           rec.InputPrompt,
		Messages:              rec.Messages,
		FunctionCallHistory:   rec.FunctionCallHistory,
		PendingMessages:       rec.PendingMessages,
		CompletedHandlerID:    rec.CompletedHandlerID,
		LastUpdate:            rec.LastUpdate,
	}
	ac.ensureMaps()

	if rec.FileSystem != nil {
		fs := *rec.FileSystem
		ac.FileSystem = &fs
	}

	if h.Users != nil && rec.UserID != "" {
		u, err := h.Users.User(ctx, rec.UserID)
		if err != nil {
			return nil, fmt.Errorf("hydrate agent %s: user %q: %w", rec.AgentID, rec.UserID, err)
		}
		ac.User = u
	} else {
		ac.User = User{ID: rec.UserID}
	}

	if h.LLMs != nil {
		set, err := h.LLMs.ResolveSet(rec.LLMs)
		if err != nil {
			return nil, fmt.Errorf("hydrate agent %s: %w", rec.AgentID, err)
		}
		ac.LLMs = set
	}

	// Tool instances are never persisted; rebuild from class names after
	// every deserialization.
	if h.Factory != nil {
		reg, err := RegistryFromNames(h.Factory, rec.Functions)
		if err != nil {
			return nil, fmt.Errorf("hydrate agent %s: %w", rec.AgentID, err)
		}
		ac.Functions = reg
	}

	return ac, nil
}

// UnmarshalContext deserializes a JSON document and hydrates it.
func (h *Hydrator) UnmarshalContext(ctx context.Context, data []byte) (*AgentContext, error) {
	var rec ContextRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal agent context: %w", err)
	}
	return h.Hydrate(ctx, &rec)
}
