// Package badger implements drover.Store on BadgerDB, an embedded LSM
// key-value store. Suited to single-process deployments that need
// durability without an external database.
//
// Key layout:
//
//	ctx:<agentID>              context document
//	exec:<executionID>         agent id owning that execution
//	iter:<agentID>:<10-digit>  iteration document, zero-padded so keys
//	                           iterate in ascending iteration order
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/evrane/drover"
)

// Store implements drover.Store backed by a Badger database directory.
type Store struct {
	db       *badger.DB
	hydrator *drover.Hydrator
}

var _ drover.Store = (*Store)(nil)

// silentLogger suppresses badger's own output; the store does not log.
type silentLogger struct{}

func (silentLogger) Errorf(string, ...any)   {}
func (silentLogger) Warningf(string, ...any) {}
func (silentLogger) Infof(string, ...any)    {}
func (silentLogger) Debugf(string, ...any)   {}

// Open opens (or creates) a Badger database at dir.
func Open(dir string, h *drover.Hydrator) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(silentLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", dir, err)
	}
	return &Store{db: db, hydrator: h}, nil
}

// Init is a no-op; Open already prepared the database.
func (s *Store) Init(context.Context) error { return nil }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func ctxKey(agentID string) []byte { return []byte("ctx:" + agentID) }
func execKey(execID string) []byte { return []byte("exec:" + execID) }

func iterPrefix(agentID string) []byte {
	return []byte("iter:" + agentID + ":")
}
func iterKey(agentID string, n int) []byte {
	return []byte(fmt.Sprintf("iter:%s:%010d", agentID, n))
}

// Save upserts the context document and the execution-id pointer.
func (s *Store) Save(_ context.Context, ac *drover.AgentContext) error {
	ac.LastUpdate = time.Now().UTC()
	doc, err := drover.MarshalContext(ac)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(ctxKey(ac.AgentID), doc); err != nil {
			return err
		}
		return txn.Set(execKey(ac.ExecutionID), []byte(ac.AgentID))
	})
	if err != nil {
		return fmt.Errorf("badger: save context: %w", err)
	}
	return nil
}

// Get returns the context for an agent id.
func (s *Store) Get(ctx context.Context, agentID string) (*drover.AgentContext, error) {
	var doc []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ctxKey(agentID))
		if err != nil {
			return err
		}
		doc, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("badger: agent %s: %w", agentID, drover.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("badger: get context: %w", err)
	}
	return s.hydrator.UnmarshalContext(ctx, doc)
}

// Load returns the context for an execution id.
func (s *Store) Load(ctx context.Context, executionID string) (*drover.AgentContext, error) {
	var agentID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(execKey(executionID))
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		agentID = string(v)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("badger: execution %s: %w", executionID, drover.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("badger: load execution: %w", err)
	}
	return s.Get(ctx, agentID)
}

// List returns all stored contexts.
func (s *Store) List(ctx context.Context) ([]*drover.AgentContext, error) {
	return s.list(ctx, false)
}

// ListRunning returns contexts whose state is not completed.
func (s *Store) ListRunning(ctx context.Context) ([]*drover.AgentContext, error) {
	return s.list(ctx, true)
}

func (s *Store) list(ctx context.Context, runningOnly bool) ([]*drover.AgentContext, error) {
	var docs [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("ctx:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			doc, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: list contexts: %w", err)
	}

	var out []*drover.AgentContext
	for _, doc := range docs {
		ac, err := s.hydrator.UnmarshalContext(ctx, doc)
		if err != nil {
			return nil, err
		}
		if runningOnly && ac.State == drover.StateCompleted {
			continue
		}
		out = append(out, ac)
	}
	return out, nil
}

// Delete removes agents, their execution pointers, and iteration history.
func (s *Store) Delete(ctx context.Context, agentIDs ...string) error {
	for _, id := range agentIDs {
		ac, err := s.Get(ctx, id)
		if errors.Is(err, drover.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Delete(ctxKey(id)); err != nil {
				return err
			}
			if err := txn.Delete(execKey(ac.ExecutionID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			it := txn.NewIterator(badger.IteratorOptions{Prefix: iterPrefix(id)})
			defer it.Close()
			var keys [][]byte
			for it.Rewind(); it.Valid(); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("badger: delete agent %s: %w", id, err)
		}
	}
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

// SaveIteration upserts one iteration record keyed by (agent id, iteration).
func (s *Store) SaveIteration(_ context.Context, it *drover.AutonomousIteration) error {
	doc, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("marshal iteration: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(iterKey(it.AgentID, it.Iteration), doc)
	})
	if err != nil {
		return fmt.Errorf("badger: save iteration: %w", err)
	}
	return nil
}

// LoadIterations returns an agent's iteration records, ascending. The
// zero-padded key layout makes iteration order the natural key order.
func (s *Store) LoadIterations(_ context.Context, agentID string) ([]*drover.AutonomousIteration, error) {
	var out []*drover.AutonomousIteration
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := iterPrefix(agentID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			doc, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec drover.AutonomousIteration
			if err := json.Unmarshal(doc, &rec); err != nil {
				return fmt.Errorf("unmarshal iteration: %w", err)
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: load iterations: %w", err)
	}
	return out, nil
}
