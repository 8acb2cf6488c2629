package drover

import (
	"encoding/json"
	"strings"
)

// Built-in control function names. These are always exposed to the model
// alongside the agent's registered tool classes; the loop intercepts them
// instead of routing through the function registry.
const (
	ControlCompleted       = "Agent_completed"
	ControlRequestFeedback = "Agent_requestFeedback"
	ControlSaveMemory      = "Agent_saveMemory"
	ControlDeleteMemory    = "Agent_deleteMemory"
	ControlAddNote         = "Agent_addNote"
	ControlDelegate        = "Agent_delegate"
)

// controlDefinitions are the tool definitions for the loop's control surface.
func controlDefinitions(allowDelegate bool) []ToolDefinition {
	defs := []ToolDefinition{
		{
			Name:        ControlCompleted,
			Description: "Signal that the task is fully complete. Call this exactly once, when no further work remains. The note becomes the final output shown to the user.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"note":{"type":"string","description":"Final result or summary of what was accomplished"}},"required":["note"]}`),
		},
		{
			Name:        ControlRequestFeedback,
			Description: "Pause and ask the human operator a question. Use when you cannot proceed without a decision or missing information. Execution resumes when the human replies.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"question":{"type":"string","description":"Question for the human operator"}},"required":["question"]}`),
		},
		{
			Name:        ControlSaveMemory,
			Description: "Save a key/value entry to persistent memory. Memory survives pauses and restarts and is included in every future prompt.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"},"content":{"type":"string"}},"required":["key","content"]}`),
		},
		{
			Name:        ControlDeleteMemory,
			Description: "Delete a key from persistent memory.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
		},
		{
			Name:        ControlAddNote,
			Description: "Append a free-text note to the agent's running annotations. Notes are visible in every future prompt.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"note":{"type":"string"}},"required":["note"]}`),
		},
	}
	if allowDelegate {
		defs = append(defs, ToolDefinition{
			Name:        ControlDelegate,
			Description: "Delegate a sub-task to a child agent and wait for it. The parent pauses until every delegated child completes; child outputs arrive as new messages.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"subtype":{"type":"string","description":"Child agent subtype, e.g. \"xml\" or \"codegen\""},"prompt":{"type":"string","description":"Task for the child agent"}},"required":["prompt"]}`),
		})
	}
	return defs
}

// isControlCall reports whether a function name belongs to the control
// surface rather than a registered tool class.
func isControlCall(name string) bool {
	return strings.HasPrefix(name, "Agent_")
}

// controlOutcome is what the loop learns from dispatching control calls in
// one iteration: whether the task completed, whether the model asked for
// human feedback, and which child tasks it delegated.
type controlOutcome struct {
	completed     bool
	output        string
	feedbackAsked bool
	question      string
	delegations   []delegation
}

// delegation is one child-agent request from Agent_delegate.
type delegation struct {
	Subtype string `json:"subtype"`
	Prompt  string `json:"prompt"`
}

// applyControl executes one control call against the context and folds its
// effect into the outcome. Unknown or malformed control calls produce a
// stderr result like any failing tool, keeping them recoverable.
func applyControl(ac *AgentContext, call FunctionCall, out *controlOutcome) FunctionCallResult {
	res := FunctionCallResult{FunctionCall: call}

	fail := func(msg string) FunctionCallResult {
		res.Stderr = msg
		res.StderrSummary = summarize(msg)
		return res
	}

	switch call.Name {
	case ControlCompleted:
		var p struct {
			Note string `json:"note"`
		}
		if err := unmarshalLenient(call.Args, &p); err != nil {
			return fail("invalid arguments for " + call.Name + ": " + err.Error())
		}
		out.completed = true
		out.output = p.Note
		res.Stdout = "task marked completed"

	case ControlRequestFeedback:
		var p struct {
			Question string `json:"question"`
		}
		if err := unmarshalLenient(call.Args, &p); err != nil {
			return fail("invalid arguments for " + call.Name + ": " + err.Error())
		}
		out.feedbackAsked = true
		out.question = p.Question
		res.Stdout = "feedback requested"

	case ControlSaveMemory:
		var p struct {
			Key     string `json:"key"`
			Content string `json:"content"`
		}
		if err := unmarshalLenient(call.Args, &p); err != nil {
			return fail("invalid arguments for " + call.Name + ": " + err.Error())
		}
		if p.Key == "" {
			return fail("memory key is required")
		}
		ac.Memory[p.Key] = p.Content
		res.Stdout = "saved memory key " + p.Key

	case ControlDeleteMemory:
		var p struct {
			Key string `json:"key"`
		}
		if err := unmarshalLenient(call.Args, &p); err != nil {
			return fail("invalid arguments for " + call.Name + ": " + err.Error())
		}
		delete(ac.Memory, p.Key)
		res.Stdout = "deleted memory key " + p.Key

	case ControlAddNote:
		var p struct {
			Note string `json:"note"`
		}
		if err := unmarshalLenient(call.Args, &p); err != nil {
			return fail("invalid arguments for " + call.Name + ": " + err.Error())
		}
		ac.Notes = append(ac.Notes, p.Note)
		res.Stdout = "note added"

	case ControlDelegate:
		var p delegation
		if err := unmarshalLenient(call.Args, &p); err != nil {
			return fail("invalid arguments for " + call.Name + ": " + err.Error())
		}
		if p.Prompt == "" {
			return fail("delegation prompt is required")
		}
		out.delegations = append(out.delegations, p)
		res.Stdout = "delegated: " + truncateStr(p.Prompt, 120)

	default:
		return fail("unknown control function: " + call.Name)
	}

	res.StdoutSummary = summarize(res.Stdout)
	return res
}
