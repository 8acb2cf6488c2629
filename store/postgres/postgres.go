// Package postgres implements drover.Store using PostgreSQL with JSONB
// documents.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evrane/drover"
)

// Store implements drover.Store backed by PostgreSQL. Contexts and iteration
// records live in JSONB columns; lookup keys are stored alongside.
type Store struct {
	pool     *pgxpool.Pool
	hydrator *drover.Hydrator
}

var _ drover.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, h *drover.Hydrator) *Store {
	return &Store{pool: pool, hydrator: h}
}

// Init creates all required tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_contexts (
			agent_id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			state TEXT NOT NULL,
			document JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS agent_iterations (
			agent_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			document JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (agent_id, iteration)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contexts_execution ON agent_contexts(execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_contexts_state ON agent_contexts(state)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres init: %w", err)
		}
	}
	return nil
}

// Save upserts the context document keyed by agent id.
func (s *Store) Save(ctx context.Context, ac *drover.AgentContext) error {
	doc, err := drover.MarshalContext(ac)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO agent_contexts (agent_id, execution_id, state, document, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (agent_id) DO UPDATE
		 SET execution_id = EXCLUDED.execution_id,
		     state = EXCLUDED.state,
		     document = EXCLUDED.document,
		     updated_at = now()`,
		ac.AgentID, ac.ExecutionID, ac.State.String(), doc,
	)
	if err != nil {
		return fmt.Errorf("save context: %w", err)
	}
	return nil
}

// Get returns the context for an agent id.
func (s *Store) Get(ctx context.Context, agentID string) (*drover.AgentContext, error) {
	return s.getWhere(ctx, "agent_id", agentID)
}

// Load returns the context for an execution id.
func (s *Store) Load(ctx context.Context, executionID string) (*drover.AgentContext, error) {
	return s.getWhere(ctx, "execution_id", executionID)
}

func (s *Store) getWhere(ctx context.Context, col, val string) (*drover.AgentContext, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM agent_contexts WHERE `+col+` = $1`, val,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: %s: %w", val, drover.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get context: %w", err)
	}
	return s.hydrator.UnmarshalContext(ctx, doc)
}

// List returns all stored contexts.
func (s *Store) List(ctx context.Context) ([]*drover.AgentContext, error) {
	return s.listWhere(ctx, "")
}

// ListRunning returns contexts whose state is not completed.
func (s *Store) ListRunning(ctx context.Context) ([]*drover.AgentContext, error) {
	return s.listWhere(ctx, ` WHERE state != 'completed'`)
}

func (s *Store) listWhere(ctx context.Context, where string) ([]*drover.AgentContext, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document FROM agent_contexts`+where+` ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var out []*drover.AgentContext
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		ac, err := s.hydrator.UnmarshalContext(ctx, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

// Delete removes agents and their iteration history in one transaction.
func (s *Store) Delete(ctx context.Context, agentIDs ...string) error {
	if len(agentIDs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM agent_iterations WHERE agent_id = ANY($1)`, agentIDs); err != nil {
		return fmt.Errorf("delete iterations: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM agent_contexts WHERE agent_id = ANY($1)`, agentIDs); err != nil {
		return fmt.Errorf("delete contexts: %w", err)
	}
	return tx.Commit(ctx)
}

// UpdateState validates the transition against the stored state and saves.
func (s *Store) UpdateState(ctx context.Context, agentID string, state drover.State) error {
	ac, err := s.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if err := drover.ValidateTransition(ac.State, state); err != nil {
		return err
	}
	ac.State = state
	return s.Save(ctx, ac)
}

// UpdateFunctions rehydrates the registry from class names and re-saves.
func (s *Store) UpdateFunctions(ctx context.Context, agentID string, names []string) (*drover.AgentContext, error) {
	ac, err := s.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	reg, err := drover.RegistryFromNames(s.hydrator.Factory, names)
	if err != nil {
		return nil, err
	}
	ac.Functions = reg
	if err := s.Save(ctx, ac); err != nil {
		return nil, err
	}
	return ac, nil
}

// RequestHumanInLoopCheck sets the sticky check flag and saves.
func (s *Store) RequestHumanInLoopCheck(ctx context.Context, agentID string) error {
	ac, err := s.Get(ctx, agentID)
	if err != nil {
		return err
	}
	ac.HILRequested = true
	return s.Save(ctx, ac)
}

// SaveIteration upserts one iteration record keyed by (agent_id, iteration).
func (s *Store) SaveIteration(ctx context.Context, it *drover.AutonomousIteration) error {
	doc, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("marshal iteration: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO agent_iterations (agent_id, iteration, document, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (agent_id, iteration) DO UPDATE SET document = EXCLUDED.document`,
		it.AgentID, it.Iteration, doc, it.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save iteration: %w", err)
	}
	return nil
}

// LoadIterations returns an agent's iteration records, ascending.
func (s *Store) LoadIterations(ctx context.Context, agentID string) ([]*drover.AutonomousIteration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT document FROM agent_iterations WHERE agent_id = $1 ORDER BY iteration`, agentID)
	if err != nil {
		return nil, fmt.Errorf("load iterations: %w", err)
	}
	defer rows.Close()

	var out []*drover.AutonomousIteration
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		var it drover.AutonomousIteration
		if err := json.Unmarshal(doc, &it); err != nil {
			return nil, fmt.Errorf("unmarshal iteration: %w", err)
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }
