// Package memory implements drover.Store with an in-process map. Intended
// for tests and single-process deployments that do not need durability.
//
// Contexts are stored in their serialized document form and rehydrated on
// every read, so the in-memory store exercises the same persistence
// contract as the durable backends: tool instances and model handles are
// never kept across the boundary, and reads never alias a live context.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evrane/drover"
)

// Store implements drover.Store over in-process maps.
type Store struct {
	hydrator *drover.Hydrator

	mu         sync.RWMutex
	contexts   map[string][]byte                        // agentID -> serialized ContextRecord
	executions map[string]string                        // executionID -> agentID
	iterations map[string][]*drover.AutonomousIteration // agentID -> ascending records
}

var _ drover.Store = (*Store)(nil)

// New creates a Store. The hydrator resolves users, models, and tool classes
// on every read.
func New(h *drover.Hydrator) *Store {
	return &Store{
		hydrator:   h,
		contexts:   make(map[string][]byte),
		executions: make(map[string]string),
		iterations: make(map[string][]*drover.AutonomousIteration),
	}
}

// Init is a no-op; the maps are ready at construction.
func (s *Store) Init(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) Save(_ context.Context, ac *drover.AgentContext) error {
	ac.LastUpdate = time.Now().UTC()
	data, err := drover.MarshalContext(ac)
	if err != nil {
		return fmt.Errorf("memory: save agent %s: %w", ac.AgentID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[ac.AgentID] = data
	s.executions[ac.ExecutionID] = ac.AgentID
	return nil
}

func (s *Store) Get(ctx context.Context, agentID string) (*drover.AgentContext, error) {
	s.mu.RLock()
	data, ok := s.contexts[agentID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory: agent %s: %w", agentID, drover.ErrNotFound)
	}
	return s.hydrator.UnmarshalContext(ctx, data)
}

func (s *Store) Load(ctx context.Context, executionID string) (*drover.AgentContext, error) {
	s.mu.RLock()
	agentID, ok := s.executions[executionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory: execution %s: %w", executionID, drover.ErrNotFound)
	}
	return s.Get(ctx, agentID)
}

func (s *Store) List(ctx context.Context) ([]*drover.AgentContext, error) {
	s.mu.RLock()
	docs := make([][]byte, 0, len(s.contexts))
	for _, data := range s.contexts {
		docs = append(docs, data)
	}
	s.mu.RUnlock()

	out := make([]*drover.AgentContext, 0, len(docs))
	for _, data := range docs {
		ac, err := s.hydrator.UnmarshalContext(ctx, data)
		if err != nil {
			return nil, err
		}
		out = append(out, ac)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (s *Store) ListRunning(ctx context.Context) ([]*drover.AgentContext, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	running := all[:0]
	for _, ac := range all {
		if ac.State != drover.StateCompleted {
			running = append(running, ac)
		}
	}
	return running, nil
}

func (s *Store) Delete(_ context.Context, agentIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range agentIDs {
		delete(s.contexts, id)
		delete(s.iterations, id)
		for execID, agentID := range s.executions {
			if agentID == id {
				delete(s.executions, execID)
			}
		}
	}
	return nil
}

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

func (s *Store) RequestHumanInLoopCheck(ctx context.Context, agentID string) error {
	ac, err := s.Get(ctx, agentID)
	if err != nil {
		return err
	}
	ac.HILRequested = true
	return s.Save(ctx, ac)
}

func (s *Store) SaveIteration(_ context.Context, it *drover.AutonomousIteration) error {
	cp := *it
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.iterations[it.AgentID]
	for i, r := range recs {
		if r.Iteration == it.Iteration {
			recs[i] = &cp
			return nil
		}
	}
	s.iterations[it.AgentID] = append(recs, &cp)
	return nil
}

func (s *Store) LoadIterations(_ context.Context, agentID string) ([]*drover.AutonomousIteration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.iterations[agentID]
	out := make([]*drover.AutonomousIteration, len(recs))
	for i, r := range recs {
		cp := *r
		out[i] = &cp
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Iteration < out[j].Iteration })
	return out, nil
}
