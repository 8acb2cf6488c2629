package drover

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// LLM abstracts the model backend. Every call reports GenerationStats so the
// runtime can account spend against the agent's budget. Retries and timeouts
// are the implementation's concern (see WithRetry); the runtime never retries
// a model call itself.
type LLM interface {
	// Generate sends a request and returns a complete text response.
	Generate(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// GenerateWithTools sends a request with tool definitions; the response
	// may contain tool calls.
	GenerateWithTools(ctx context.Context, req ChatRequest, tools []ToolDefinition) (ChatResponse, error)
	// GenerateJSON sends a request and unmarshals the model's JSON output
	// into out, repairing minor malformations first.
	GenerateJSON(ctx context.Context, req ChatRequest, out any) (ChatResponse, error)
	// ID returns the stable model identifier (e.g. "anthropic:claude-sonnet-4-5").
	// Contexts persist this id and rehydrate the live LLM through a Registry.
	ID() string
	// IsConfigured reports whether the backend has the credentials it needs.
	IsConfigured() bool
}

// Level grades task difficulty for model selection.
type Level string

const (
	LevelEasy   Level = "easy"
	LevelMedium Level = "medium"
	LevelHard   Level = "hard"
	LevelXHard  Level = "xhard"
)

// ModelSet maps difficulty levels to models. Easy, Medium, and Hard must be
// set; XHard is optional and falls back to Hard.
type ModelSet struct {
	Easy   LLM
	Medium LLM
	Hard   LLM
	XHard  LLM
}

// ForLevel returns the model for a difficulty level, falling back from
// xhard to hard when no xhard model is configured.
func (m ModelSet) ForLevel(l Level) LLM {
	switch l {
	case LevelEasy:
		return m.Easy
	case LevelMedium:
		return m.Medium
	case LevelXHard:
		if m.XHard != nil {
			return m.XHard
		}
		return m.Hard
	default:
		return m.Hard
	}
}

// Validate checks the required levels are present and configured.
func (m ModelSet) Validate() error {
	for _, lv := range []struct {
		level Level
		llm   LLM
	}{{LevelEasy, m.Easy}, {LevelMedium, m.Medium}, {LevelHard, m.Hard}} {
		if lv.llm == nil {
			return fmt.Errorf("model set: %s level not set", lv.level)
		}
	}
	return nil
}

// ModelRefs is the serialized form of a ModelSet: one model id per level.
type ModelRefs struct {
	Easy   string `json:"easy"`
	Medium string `json:"medium"`
	Hard   string `json:"hard"`
	XHard  string `json:"xhard,omitempty"`
}

// Refs returns the per-level model ids for persistence.
func (m ModelSet) Refs() ModelRefs {
	var r ModelRefs
	if m.Easy != nil {
		r.Easy = m.Easy.ID()
	}
	if m.Medium != nil {
		r.Medium = m.Medium.ID()
	}
	if m.Hard != nil {
		r.Hard = m.Hard.ID()
	}
	if m.XHard != nil {
		r.XHard = m.XHard.ID()
	}
	return r
}

// LLMRegistry resolves model ids to live LLM instances. Builders are
// registered once at startup and constructed lazily on first resolve; the
// built instance is memoized. The registry is an explicit object passed by
// injection, never package-level state.
type LLMRegistry struct {
	mu       sync.RWMutex
	builders map[string]func() (LLM, error)
	built    map[string]LLM
}

// NewLLMRegistry creates an empty registry.
func NewLLMRegistry() *LLMRegistry {
	return &LLMRegistry{
		builders: make(map[string]func() (LLM, error)),
		built:    make(map[string]LLM),
	}
}

// Register maps a model id to a builder. Registering an already-built id
// replaces the builder and drops the memoized instance.
func (r *LLMRegistry) Register(id string, build func() (LLM, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[id] = build
	delete(r.built, id)
}

// RegisterLLM maps an already-constructed LLM under its own ID.
func (r *LLMRegistry) RegisterLLM(m LLM) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.built[m.ID()] = m
	r.builders[m.ID()] = func() (LLM, error) { return m, nil }
}

// Resolve returns the LLM for a model id, building and memoizing it on
// first use.
func (r *LLMRegistry) Resolve(id string) (LLM, error) {
	r.mu.RLock()
	if m, ok := r.built[id]; ok {
		r.mu.RUnlock()
		return m, nil
	}
	build, ok := r.builders[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("llm registry: no model registered for id %q", id)
	}

	m, err := build()
	if err != nil {
		return nil, fmt.Errorf("llm registry: build %q: %w", id, err)
	}
	r.mu.Lock()
	r.built[id] = m
	r.mu.Unlock()
	return m, nil
}

// ResolveSet rehydrates a ModelSet from stored per-level ids. Empty xhard is
// left nil; the other levels must resolve.
func (r *LLMRegistry) ResolveSet(refs ModelRefs) (ModelSet, error) {
	var set ModelSet
	var err error
	if set.Easy, err = r.Resolve(refs.Easy); err != nil {
		return ModelSet{}, err
	}
	if set.Medium, err = r.Resolve(refs.Medium); err != nil {
		return ModelSet{}, err
	}
	if set.Hard, err = r.Resolve(refs.Hard); err != nil {
		return ModelSet{}, err
	}
	if refs.XHard != "" {
		if set.XHard, err = r.Resolve(refs.XHard); err != nil {
			return ModelSet{}, err
		}
	}
	return set, nil
}

// IDs returns the registered model ids, sorted.
func (r *LLMRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.builders))
	for id := range r.builders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
