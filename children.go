package drover

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// spawnChildren starts one child agent per delegation, parks the parent in
// the child_agents state, and launches a watcher that resumes the parent
// when every child yields. Children inherit the parent's models, tool
// classes, user, and remaining budget.
func (rt *Runtime) spawnChildren(ctx context.Context, ac *AgentContext, delegations []delegation) error {
	childIDs := make([]string, 0, len(delegations))
	for _, d := range delegations {
		child, err := rt.Start(ctx, StartRequest{
			Prompt:        d.Prompt,
			Type:          ac.Type,
			Subtype:       d.Subtype,
			Functions:     ac.Functions.ClassNames(),
			HILBudget:     ac.BudgetRemaining(),
			HILCount:      ac.HILCount,
			User:          ac.User,
			LLMs:          ac.LLMs,
			ParentAgentID: ac.AgentID,
			FileSystem:    ac.FileSystem,
		})
		if err != nil {
			return fmt.Errorf("delegate child: %w", err)
		}
		childIDs = append(childIDs, child.AgentID)
	}
	ac.ChildAgents = append(ac.ChildAgents, childIDs...)

	if err := rt.setState(ac, StateChildAgents); err != nil {
		return err
	}

	rt.wg.Add(1)
	go rt.watchChildren(ac.AgentID, childIDs)
	return nil
}

// watchChildren waits for each child's current execution to yield, collects
// their outcomes, and resumes the parent with the results queued as
// feedback. A child that paused instead of completing is reported with its
// state so the parent (or a human) can decide what to do.
func (rt *Runtime) watchChildren(parentID string, childIDs []string) {
	defer rt.wg.Done()
	ctx := context.Background()

	var report string
	for _, id := range childIDs {
		_ = rt.Wait(ctx, id)
		child, err := rt.store.Get(ctx, id)
		if err != nil {
			report += fmt.Sprintf("Child %s: lookup failed: %v\n", id, err)
			continue
		}
		// Child spend counts against the parent's budget.
		rt.chargeParent(ctx, parentID, child.Cost)
		switch child.State {
		case StateCompleted:
			report += fmt.Sprintf("Child %s completed:\n%s\n", id, child.Output)
		case StateError:
			report += fmt.Sprintf("Child %s failed: %s\n", id, child.Error)
		default:
			report += fmt.Sprintf("Child %s stopped in state %s.\n", id, child.State)
		}
	}

	// The parent's execution thread can still be unwinding when the last
	// child yields; wait for it to deregister before taking the context
	// over, and retry the short window where registration can race.
	for attempt := 0; ; attempt++ {
		_ = rt.Wait(ctx, parentID)
		_, err := rt.Resume(ctx, parentID, report)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrAlreadyRunning) || attempt >= 10 {
			// A shutdown leaves the parent parked in child_agents; it is
			// resumable when the runtime comes back.
			rt.logger.Error("failed to resume parent after delegation",
				"agent_id", parentID, "error", err)
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// chargeParent folds a child's spend into the parent's cumulative cost.
// Runs only while the parent is parked in child_agents, so there is no live
// loop to race with.
func (rt *Runtime) chargeParent(ctx context.Context, parentID string, cost float64) {
	if cost == 0 {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	parent, err := rt.store.Get(ctx, parentID)
	if err != nil {
		return
	}
	parent.Cost += cost
	if err := rt.store.Save(ctx, parent); err != nil {
		rt.logger.Warn("failed to charge parent for child spend",
			"agent_id", parentID, "cost", cost, "error", err)
	}
}
