package drover

import (
	"encoding/json"
	"time"
)

// --- LLM protocol types ---

type ChatMessage struct {
	Role       string         `json:"role"` // "system", "user", "assistant", "tool"
	Content    string         `json:"content"`
	Images     []ImageData    `json:"images,omitempty"`
	ToolCalls  []FunctionCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type ImageData struct {
	MimeType string `json:"mime_type"`
	Base64   string `json:"base64"`
}

// FunctionCall is one function invocation requested by the model.
type FunctionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// FunctionCallResult records a completed function call: the call itself plus
// captured stdout/stderr. A tool failure lands in Stderr, it never fails the
// iteration.
type FunctionCallResult struct {
	FunctionCall
	Stdout        string `json:"stdout,omitempty"`
	StdoutSummary string `json:"stdout_summary,omitempty"`
	Stderr        string `json:"stderr,omitempty"`
	StderrSummary string `json:"stderr_summary,omitempty"`
}

type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	// SystemPrompt, when set, is sent through the provider's dedicated
	// system channel rather than as a leading message.
	SystemPrompt string `json:"system_prompt,omitempty"`
}

type ChatResponse struct {
	Content   string          `json:"content"`
	ToolCalls []FunctionCall  `json:"tool_calls,omitempty"`
	Stats     GenerationStats `json:"stats"`
}

// GenerationStats is the per-call accounting every LLM implementation must
// report. Cost is USD for this call only.
type GenerationStats struct {
	Model            string        `json:"model"`
	Cost             float64       `json:"cost"`
	InputTokens      int           `json:"input_tokens"`
	OutputTokens     int           `json:"output_tokens"`
	TimeToFirstToken time.Duration `json:"time_to_first_token"`
	TotalTime        time.Duration `json:"total_time"`
}

// Add accumulates another call's stats into s. Model keeps the last non-empty
// value so single-call stats pass through unchanged.
func (s *GenerationStats) Add(o GenerationStats) {
	if o.Model != "" {
		s.Model = o.Model
	}
	s.Cost += o.Cost
	s.InputTokens += o.InputTokens
	s.OutputTokens += o.OutputTokens
	if s.TimeToFirstToken == 0 {
		s.TimeToFirstToken = o.TimeToFirstToken
	}
	s.TotalTime += o.TotalTime
}

// ToolDefinition describes one callable function exposed to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}
