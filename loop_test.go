package drover

import (
	"strings"
	"testing"
)

func TestExtractTagged(t *testing.T) {
	content := `<expanded_user_request>fetch the report</expanded_user_request>
<observations_reasoning>the file is missing</observations_reasoning>
<plan>1. list files
2. fetch</plan>
<next_step_details>call file_list</next_step_details>`

	if got := extractTagged(content, "plan"); !strings.HasPrefix(got, "1. list files") {
		t.Errorf("got %q", got)
	}
	if got := extractTagged(content, "observations_reasoning"); got != "the file is missing" {
		t.Errorf("got %q", got)
	}
	if got := extractTagged(content, "draft_code"); got != "" {
		t.Errorf("absent tag should be empty, got %q", got)
	}
	if got := extractTagged(content, "unregistered"); got != "" {
		t.Errorf("unknown tag should be empty, got %q", got)
	}
}

func TestNewIterationRecord(t *testing.T) {
	ac := &AgentContext{AgentID: "a1", Functions: NewFunctionRegistry(NewFunctionFactory())}

	rec := newIterationRecord(ac, "do the thing", "<plan>first line of plan\nsecond line</plan>")
	if rec.AgentID != "a1" || rec.Prompt != "do the thing" {
		t.Errorf("record %+v", rec)
	}
	if rec.AgentPlan != "first line of plan\nsecond line" {
		t.Errorf("plan %q", rec.AgentPlan)
	}
	if rec.Summary != "first line of plan" {
		t.Errorf("summary %q", rec.Summary)
	}

	// Untagged content falls back to the whole response as the plan.
	rec = newIterationRecord(ac, "p", "just prose, no tags")
	if rec.AgentPlan != "just prose, no tags" {
		t.Errorf("plan %q", rec.AgentPlan)
	}

	// Empty content leaves the plan fields empty.
	rec = newIterationRecord(ac, "p", "")
	if rec.AgentPlan != "" || rec.Summary != "" {
		t.Errorf("record %+v", rec)
	}
}

func TestToolResultContent(t *testing.T) {
	tests := []struct {
		name string
		res  FunctionCallResult
		want string
	}{
		{"stdout only", FunctionCallResult{Stdout: "ok"}, "ok"},
		{"stderr only", FunctionCallResult{Stderr: "bad args"}, "error: bad args"},
		{"both", FunctionCallResult{Stdout: "partial", Stderr: "then failed"}, "partial\nerror: then failed"},
		{"neither", FunctionCallResult{}, "(no output)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := toolResultContent(tc.res); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLastUserContent(t *testing.T) {
	msgs := []ChatMessage{
		UserMessage("first"),
		AssistantMessage("reply"),
		UserMessage("second"),
		{Role: "tool", Content: "result"},
	}
	if got := lastUserContent(msgs); got != "second" {
		t.Errorf("got %q", got)
	}
	if got := lastUserContent(nil); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestTruncateStr(t *testing.T) {
	if got := truncateStr("hello", 10); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := truncateStr("hello world", 5); got != "hello" {
		t.Errorf("got %q", got)
	}
	// Rune-safe on multibyte input.
	if got := truncateStr("héllo", 2); got != "hé" {
		t.Errorf("got %q", got)
	}
}

func TestSystemPromptSections(t *testing.T) {
	rt := NewRuntime(nil)
	ac := &AgentContext{
		UserPrompt: "summarize the logs",
		Memory:     map[string]string{"region": "eu-west"},
		Notes:      []string{"logs rotate hourly"},
		HILBudget:  2.5,
		Cost:       0.5,
	}

	prompt := rt.systemPrompt(ac)
	for _, want := range []string{"summarize the logs", "region: eu-west", "logs rotate hourly", "$0.5000 of $2.5000"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
