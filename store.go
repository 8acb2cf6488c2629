package drover

import "context"

// Store is the persistence contract the orchestrator requires from any
// storage backend: durable agent contexts plus the append-only iteration
// history log.
//
// Implementations must return deep, independent snapshots from every read so
// callers never alias the live in-memory representation of a running agent.
// Store errors propagate to callers unchanged; the orchestrator never masks
// them as agent-level errors.
type Store interface {
	// Save upserts the context keyed by AgentID and stamps LastUpdate.
	Save(ctx context.Context, ac *AgentContext) error

	// Load returns the context for an execution id, ErrNotFound if absent.
	Load(ctx context.Context, executionID string) (*AgentContext, error)

	// Get returns the context for an agent id, ErrNotFound if absent.
	Get(ctx context.Context, agentID string) (*AgentContext, error)

	// List returns all stored contexts.
	List(ctx context.Context) ([]*AgentContext, error)

	// ListRunning returns contexts whose state is not completed.
	ListRunning(ctx context.Context) ([]*AgentContext, error)

	// Delete removes the given agents and their iteration history.
	// Best-effort batch: unknown ids are skipped, not errors.
	Delete(ctx context.Context, agentIDs ...string) error

	// UpdateState validates the transition against the stored state and
	// persists the new state. An illegal transition fails with
	// ErrInvalidTransition and leaves the stored state unchanged.
	UpdateState(ctx context.Context, agentID string, state State) error

	// UpdateFunctions rehydrates the agent's function registry from class
	// names via the hydrator's factory and re-saves. Returns the updated
	// context.
	UpdateFunctions(ctx context.Context, agentID string, names []string) (*AgentContext, error)

	// RequestHumanInLoopCheck sets the sticky HILRequested flag and saves.
	// The loop pauses at its next iteration boundary.
	RequestHumanInLoopCheck(ctx context.Context, agentID string) error

	// SaveIteration upserts one iteration record keyed by
	// (AgentID, Iteration). Writing the same iteration number twice replaces
	// the record, making crash-retry writes idempotent.
	SaveIteration(ctx context.Context, it *AutonomousIteration) error

	// LoadIterations returns the agent's iteration records sorted ascending
	// by iteration number. Empty slice when the agent has none.
	LoadIterations(ctx context.Context, agentID string) ([]*AutonomousIteration, error)

	// Init prepares the backend (schema creation, migrations).
	Init(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
