package drover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Tool defines an agent capability with one or more callable functions.
// Tools are addressed by class name through a FunctionFactory; live
// instances are never persisted.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution. Content is treated as the
// call's stdout, Error as its stderr.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// FunctionFactory maps tool class names to constructors. Registries store
// class names across the persistence boundary and rebuild instances here
// after every deserialization. Built once at startup and injected, never a
// package-level singleton.
type FunctionFactory struct {
	mu    sync.RWMutex
	ctors map[string]func() Tool
}

// NewFunctionFactory creates an empty factory.
func NewFunctionFactory() *FunctionFactory {
	return &FunctionFactory{ctors: make(map[string]func() Tool)}
}

// Register maps a class name to a constructor, replacing any previous one.
func (f *FunctionFactory) Register(className string, ctor func() Tool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[className] = ctor
}

// New constructs a fresh tool instance for a class name.
func (f *FunctionFactory) New(className string) (Tool, error) {
	f.mu.RLock()
	ctor, ok := f.ctors[className]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, className)
	}
	return ctor(), nil
}

// ClassNames returns the registered class names, sorted.
func (f *FunctionFactory) ClassNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.ctors))
	for n := range f.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FunctionRegistry holds the tool class instances available to one agent.
// It serializes to the list of class names and rehydrates through the
// factory. Owned by the agent's single execution thread; not safe for
// concurrent mutation.
type FunctionRegistry struct {
	factory   *FunctionFactory
	order     []string
	instances map[string]Tool
}

// NewFunctionRegistry creates an empty registry bound to a factory.
func NewFunctionRegistry(factory *FunctionFactory) *FunctionRegistry {
	return &FunctionRegistry{
		factory:   factory,
		instances: make(map[string]Tool),
	}
}

// RegistryFromNames rebuilds a registry from persisted class names. Every
// name must resolve against the factory.
func RegistryFromNames(factory *FunctionFactory, names []string) (*FunctionRegistry, error) {
	r := NewFunctionRegistry(factory)
	for _, n := range names {
		if err := r.AddClass(n); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// AddClass constructs and adds the named tool class. Adding a class twice
// is a no-op.
func (r *FunctionRegistry) AddClass(className string) error {
	if _, ok := r.instances[className]; ok {
		return nil
	}
	t, err := r.factory.New(className)
	if err != nil {
		return err
	}
	r.instances[className] = t
	r.order = append(r.order, className)
	return nil
}

// RemoveClass drops the named class. Removing an absent class is a no-op.
func (r *FunctionRegistry) RemoveClass(className string) {
	if _, ok := r.instances[className]; !ok {
		return
	}
	delete(r.instances, className)
	for i, n := range r.order {
		if n == className {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// ClassNames returns the class names in registration order. This is the
// persisted form of the registry.
func (r *FunctionRegistry) ClassNames() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Instances returns the live tool instances in registration order.
func (r *FunctionRegistry) Instances() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.instances[n])
	}
	return out
}

// ByKind returns the instance registered under the given class name, or nil.
func (r *FunctionRegistry) ByKind(kind string) Tool {
	return r.instances[kind]
}

// Definitions returns the tool definitions of every registered class, in
// registration order.
func (r *FunctionRegistry) Definitions() []ToolDefinition {
	var defs []ToolDefinition
	for _, n := range r.order {
		defs = append(defs, r.instances[n].Definitions()...)
	}
	return defs
}

// resolve finds the tool owning a function name and its definition.
func (r *FunctionRegistry) resolve(name string) (Tool, ToolDefinition, bool) {
	for _, n := range r.order {
		t := r.instances[n]
		for _, d := range t.Definitions() {
			if d.Name == name {
				return t, d, true
			}
		}
	}
	return nil, ToolDefinition{}, false
}

// Call executes one function call: validates the arguments against the
// declared schema, runs the tool, and captures stdout/stderr into the
// result. Tool failures and panics land in Stderr and are recoverable; the
// returned error is non-nil only for ErrApprovalRequired, which the loop
// must handle by pausing rather than recording.
func (r *FunctionRegistry) Call(ctx context.Context, call FunctionCall) (FunctionCallResult, error) {
	res := FunctionCallResult{FunctionCall: call}

	t, def, ok := r.resolve(call.Name)
	if !ok {
		res.Stderr = "unknown function: " + call.Name
		res.StderrSummary = summarize(res.Stderr)
		return res, nil
	}

	if err := validateArgs(def, call.Args); err != nil {
		res.Stderr = fmt.Sprintf("invalid arguments for %s: %v", call.Name, err)
		res.StderrSummary = summarize(res.Stderr)
		return res, nil
	}

	out, err := safeExecute(ctx, t, call)
	if err != nil {
		return res, err
	}
	res.Stdout = out.Content
	res.StdoutSummary = summarize(out.Content)
	res.Stderr = out.Error
	res.StderrSummary = summarize(out.Error)
	return res, nil
}

// safeExecute runs a tool with panic recovery. ErrApprovalRequired passes
// through untouched; any other error or panic is converted into a stderr
// result.
func safeExecute(ctx context.Context, t Tool, call FunctionCall) (out ToolResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = ToolResult{Error: fmt.Sprintf("function %q panic: %v", call.Name, p)}
			err = nil
		}
	}()
	out, execErr := t.Execute(ctx, call.Name, call.Args)
	if execErr != nil {
		if errors.Is(execErr, ErrApprovalRequired) {
			return ToolResult{}, execErr
		}
		if out.Error == "" {
			out.Error = execErr.Error()
		}
	}
	return out, nil
}

// validateArgs checks call arguments against the definition's JSON schema.
// Definitions without a schema accept anything.
func validateArgs(def ToolDefinition, args json.RawMessage) error {
	if len(def.Parameters) == 0 {
		return nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(def.Parameters, &schema); err != nil {
		return fmt.Errorf("bad parameter schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve parameter schema: %w", err)
	}
	var v any
	if len(args) == 0 {
		v = map[string]any{}
	} else if err := unmarshalLenient(args, &v); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if v == nil {
		v = map[string]any{}
	}
	return resolved.Validate(v)
}

// summarize truncates long captured output for the compact history fields.
func summarize(s string) string {
	const max = 200
	if len([]rune(s)) <= max {
		return ""
	}
	return truncateStr(s, max) + "…"
}
