// Package sqlite implements drover.Store using pure-Go SQLite.
// Zero CGO required. Contexts and iteration records are stored as JSON
// documents with the columns needed for lookups pulled out alongside.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evrane/drover"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements drover.Store backed by a local SQLite file.
type Store struct {
	db       *sql.DB
	hydrator *drover.Hydrator
	logger   *slog.Logger
}

var _ drover.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, h *drover.Hydrator, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, hydrator: h, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS agent_contexts (
			agent_id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			state TEXT NOT NULL,
			document TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_iterations (
			agent_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			document TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (agent_id, iteration)
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_contexts_execution ON agent_contexts(execution_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_contexts_state ON agent_contexts(state)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Save upserts the context document keyed by agent id.
func (s *Store) Save(ctx context.Context, ac *drover.AgentContext) error {
	start := time.Now()
	ac.LastUpdate = time.Now().UTC()
	s.logger.Debug("sqlite: save context", "agent_id", ac.AgentID, "state", ac.State)

	doc, err := drover.MarshalContext(ac)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO agent_contexts (agent_id, execution_id, state, document, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ac.AgentID, ac.ExecutionID, ac.State.String(), string(doc), ac.LastUpdate.Unix(),
	)
	if err != nil {
		s.logger.Error("sqlite: save context failed", "agent_id", ac.AgentID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save context: %w", err)
	}
	s.logger.Debug("sqlite: save context ok", "agent_id", ac.AgentID, "duration", time.Since(start))
	return nil
}

// Get returns the context for an agent id.
func (s *Store) Get(ctx context.Context, agentID string) (*drover.AgentContext, error) {
	return s.getWhere(ctx, "agent_id = ?", agentID)
}

// Load returns the context for an execution id.
func (s *Store) Load(ctx context.Context, executionID string) (*drover.AgentContext, error) {
	return s.getWhere(ctx, "execution_id = ?", executionID)
}

func (s *Store) getWhere(ctx context.Context, where string, arg any) (*drover.AgentContext, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM agent_contexts WHERE `+where, arg,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sqlite: %v: %w", arg, drover.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get context: %w", err)
	}
	return s.hydrator.UnmarshalContext(ctx, []byte(doc))
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
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM agent_contexts`+where+` ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var out []*drover.AgentContext
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		ac, err := s.hydrator.UnmarshalContext(ctx, []byte(doc))
		if err != nil {
			return nil, err
		}
		out = append(out, ac)
	}
	s.logger.Debug("sqlite: list contexts ok", "count", len(out), "duration", time.Since(start))
	return out, rows.Err()
}

// Delete removes agents and their iteration history in one transaction.
func (s *Store) Delete(ctx context.Context, agentIDs ...string) error {
	if len(agentIDs) == 0 {
		return nil
	}
	start := time.Now()
	s.logger.Debug("sqlite: delete contexts", "count", len(agentIDs))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	placeholders := make([]string, len(agentIDs))
	args := make([]any, len(agentIDs))
	for i, id := range agentIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	in := strings.Join(placeholders, ",")

	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_iterations WHERE agent_id IN (`+in+`)`, args...); err != nil {
		return fmt.Errorf("delete iterations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_contexts WHERE agent_id IN (`+in+`)`, args...); err != nil {
		return fmt.Errorf("delete contexts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: delete contexts commit failed", "error", err)
		return err
	}
	s.logger.Debug("sqlite: delete contexts ok", "count", len(agentIDs), "duration", time.Since(start))
	return nil
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
	start := time.Now()
	s.logger.Debug("sqlite: save iteration", "agent_id", it.AgentID, "iteration", it.Iteration)

	doc, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("marshal iteration: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO agent_iterations (agent_id, iteration, document, created_at)
		 VALUES (?, ?, ?, ?)`,
		it.AgentID, it.Iteration, string(doc), it.CreatedAt.Unix(),
	)
	if err != nil {
		s.logger.Error("sqlite: save iteration failed", "agent_id", it.AgentID, "iteration", it.Iteration, "error", err)
		return fmt.Errorf("save iteration: %w", err)
	}
	s.logger.Debug("sqlite: save iteration ok", "agent_id", it.AgentID, "iteration", it.Iteration, "duration", time.Since(start))
	return nil
}

// LoadIterations returns an agent's iteration records, ascending.
func (s *Store) LoadIterations(ctx context.Context, agentID string) ([]*drover.AutonomousIteration, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT document FROM agent_iterations WHERE agent_id = ? ORDER BY iteration`, agentID)
	if err != nil {
		return nil, fmt.Errorf("load iterations: %w", err)
	}
	defer rows.Close()

	var out []*drover.AutonomousIteration
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		var it drover.AutonomousIteration
		if err := json.Unmarshal([]byte(doc), &it); err != nil {
			return nil, fmt.Errorf("unmarshal iteration: %w", err)
		}
		out = append(out, &it)
	}
	s.logger.Debug("sqlite: load iterations ok", "agent_id", agentID, "count", len(out), "duration", time.Since(start))
	return out, rows.Err()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}
