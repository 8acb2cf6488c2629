package drover

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// CompletionHandler is invoked when an agent reaches the completed state.
// Handlers are addressed by id: the context persists only CompletedHandlerID
// and the live handler is resolved from a CompletionRegistry on load.
type CompletionHandler interface {
	ID() string
	Completed(ctx context.Context, ac *AgentContext) error
}

// CompletionRegistry resolves completion handlers by id.
type CompletionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]CompletionHandler
}

// NewCompletionRegistry creates a registry pre-loaded with the log handler
// under DefaultCompletionID.
func NewCompletionRegistry() *CompletionRegistry {
	r := &CompletionRegistry{handlers: make(map[string]CompletionHandler)}
	r.Register(&LogCompletion{})
	return r
}

// Register adds a handler, replacing any handler with the same id.
func (r *CompletionRegistry) Register(h CompletionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.ID()] = h
}

// Resolve returns the handler for an id. An empty id resolves to the
// default handler.
func (r *CompletionRegistry) Resolve(id string) (CompletionHandler, error) {
	if id == "" {
		id = DefaultCompletionID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[id]
	if !ok {
		return nil, fmt.Errorf("completion registry: no handler for id %q", id)
	}
	return h, nil
}

// DefaultCompletionID identifies the built-in logging handler.
const DefaultCompletionID = "log"

// LogCompletion logs the final output. The zero value logs to the default
// slog logger.
type LogCompletion struct {
	Logger *slog.Logger
}

var _ CompletionHandler = (*LogCompletion)(nil)

func (h *LogCompletion) ID() string { return DefaultCompletionID }

func (h *LogCompletion) Completed(_ context.Context, ac *AgentContext) error {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("agent completed",
		"agent_id", ac.AgentID,
		"iterations", ac.Iterations,
		"cost", ac.Cost,
		"output_len", len(ac.Output))
	return nil
}
