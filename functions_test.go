package drover

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func testFactory() *FunctionFactory {
	f := NewFunctionFactory()
	f.Register("echo", func() Tool { return echoTool{} })
	f.Register("fail", func() Tool { return errTool{} })
	f.Register("explode", func() Tool { return panicTool{} })
	f.Register("guarded", func() Tool { return approvalTool{} })
	return f
}

func TestFunctionFactory(t *testing.T) {
	f := testFactory()

	tool, err := f.New("echo")
	if err != nil {
		t.Fatal(err)
	}
	if tool == nil {
		t.Fatal("nil tool")
	}

	if _, err := f.New("nope"); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("expected ErrUnknownFunction, got %v", err)
	}

	names := f.ClassNames()
	want := []string{"echo", "explode", "fail", "guarded"}
	if len(names) != len(want) {
		t.Fatalf("got %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("class names not sorted: got %v", names)
			break
		}
	}
}

func TestRegistryFromNames(t *testing.T) {
	f := testFactory()

	reg, err := RegistryFromNames(f, []string{"echo", "fail"})
	if err != nil {
		t.Fatal(err)
	}
	if got := reg.ClassNames(); len(got) != 2 || got[0] != "echo" || got[1] != "fail" {
		t.Errorf("got %v", got)
	}

	if _, err := RegistryFromNames(f, []string{"echo", "nope"}); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("expected ErrUnknownFunction, got %v", err)
	}
}

func TestRegistryAddRemove(t *testing.T) {
	reg := NewFunctionRegistry(testFactory())

	if err := reg.AddClass("echo"); err != nil {
		t.Fatal(err)
	}
	// Adding twice is a no-op.
	if err := reg.AddClass("echo"); err != nil {
		t.Fatal(err)
	}
	if got := reg.ClassNames(); len(got) != 1 {
		t.Errorf("duplicate add should not grow the registry: %v", got)
	}

	reg.RemoveClass("echo")
	if got := reg.ClassNames(); len(got) != 0 {
		t.Errorf("got %v after remove", got)
	}
	// Removing an absent class is a no-op.
	reg.RemoveClass("echo")
}

func TestRegistryCall(t *testing.T) {
	reg, err := RegistryFromNames(testFactory(), []string{"echo", "fail", "explode"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	res, err := reg.Call(ctx, FunctionCall{ID: "1", Name: "echo", Args: json.RawMessage(`{"text":"hi"}`)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stdout != "echo: hi" {
		t.Errorf("got stdout %q", res.Stdout)
	}

	// Missing required argument fails schema validation, recoverably.
	res, err = reg.Call(ctx, FunctionCall{ID: "2", Name: "echo", Args: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Stderr, "invalid arguments") {
		t.Errorf("got stderr %q", res.Stderr)
	}

	// Unknown function name lands in stderr, never an error.
	res, err = reg.Call(ctx, FunctionCall{ID: "3", Name: "missing", Args: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Stderr, "unknown function") {
		t.Errorf("got stderr %q", res.Stderr)
	}

	// Tool error is captured as stderr.
	res, err = reg.Call(ctx, FunctionCall{ID: "4", Name: "fail", Args: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stderr != "tool broken" {
		t.Errorf("got stderr %q", res.Stderr)
	}

	// Panics are recovered into stderr.
	res, err = reg.Call(ctx, FunctionCall{ID: "5", Name: "explode", Args: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Stderr, "panic") {
		t.Errorf("got stderr %q", res.Stderr)
	}
}

func TestRegistryCallApprovalRequired(t *testing.T) {
	reg, err := RegistryFromNames(testFactory(), []string{"guarded"})
	if err != nil {
		t.Fatal(err)
	}

	// ErrApprovalRequired passes through so the loop can park the agent.
	_, err = reg.Call(context.Background(), FunctionCall{ID: "1", Name: "guarded", Args: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrApprovalRequired) {
		t.Errorf("expected ErrApprovalRequired, got %v", err)
	}
}

func TestRegistryDefinitions(t *testing.T) {
	reg, err := RegistryFromNames(testFactory(), []string{"fail", "echo"})
	if err != nil {
		t.Fatal(err)
	}
	defs := reg.Definitions()
	if len(defs) != 2 {
		t.Fatalf("got %d definitions", len(defs))
	}
	// Registration order, not alphabetical.
	if defs[0].Name != "fail" || defs[1].Name != "echo" {
		t.Errorf("got %s, %s", defs[0].Name, defs[1].Name)
	}
}

func TestSummarize(t *testing.T) {
	if got := summarize("short output"); got != "" {
		t.Errorf("short output should not be summarized: %q", got)
	}
	long := strings.Repeat("x", 500)
	got := summarize(long)
	if got == "" || len([]rune(got)) > 201 {
		t.Errorf("long output should be truncated, got %d runes", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("summary should end with ellipsis")
	}
}
