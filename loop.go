package drover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"
)

// loopOutcome tells runLoop what one iteration decided.
type loopOutcome int

const (
	// loopContinue runs another iteration after the governor check.
	loopContinue loopOutcome = iota
	// loopDone means the iteration already parked the agent in a terminal or
	// quiescent state and persisted it.
	loopDone
)

// runLoop drives one agent from a live state until it completes, pauses,
// errors, or is stopped. It owns the in-memory AgentContext exclusively;
// everything external observes through store snapshots.
func (rt *Runtime) runLoop(ctx context.Context, exec *execution, ac *AgentContext) {
	logger := rt.logger.With("agent_id", ac.AgentID, "execution_id", ac.ExecutionID)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("loop panic", "panic", p)
			rt.parkError(ac, fmt.Sprintf("panic: %v", p))
		}
	}()

	// A decision re-entry starts in the functions state with the approved
	// calls still parked in Invoking; finish them before generating.
	if ac.State == StateFunctions {
		done, err := rt.runParkedCalls(ctx, exec, ac)
		if err != nil {
			logger.Error("parked call dispatch failed", "error", err)
			rt.parkError(ac, err.Error())
			return
		}
		if done {
			return
		}
	}

	for {
		if exec.stopping() {
			rt.park(ac, StateShutdown)
			logger.Info("agent parked for shutdown", "iterations", ac.Iterations)
			return
		}
		if ctx.Err() != nil {
			rt.parkError(ac, "cancelled: "+exec.reason())
			logger.Info("agent cancelled", "reason", exec.reason())
			return
		}

		rt.refreshFlags(ac)
		switch Govern(GovernInput{
			Cost:               ac.Cost,
			Budget:             ac.HILBudget,
			Iterations:         ac.Iterations,
			HILCount:           ac.HILCount,
			HILRequested:       ac.HILRequested,
			ApprovedCost:       ac.HILApprovedCost,
			ApprovedIterations: ac.HILApprovedIterations,
		}) {
		case DecisionPauseRequested:
			rt.park(ac, StateHITLFeedback)
			logger.Info("agent paused on request", "iterations", ac.Iterations)
			return
		case DecisionPauseThreshold:
			rt.park(ac, StateHITLThreshold)
			logger.Info("agent paused on threshold",
				"iterations", ac.Iterations, "cost", ac.Cost, "budget", ac.HILBudget)
			return
		}

		outcome, err := rt.runIteration(ctx, exec, ac, logger)
		if err != nil {
			logger.Error("iteration failed", "iteration", ac.Iterations+1, "error", err)
			rt.parkError(ac, err.Error())
			return
		}
		if outcome == loopDone {
			return
		}
	}
}

// refreshFlags folds externally-set flags from the stored snapshot into the
// live context. Only HILRequested is written by other actors while a loop is
// live; everything else is loop-owned.
func (rt *Runtime) refreshFlags(ac *AgentContext) {
	stored, err := rt.store.Get(context.Background(), ac.AgentID)
	if err != nil {
		return
	}
	if stored.HILRequested {
		ac.HILRequested = true
	}
}

// runIteration performs one full iteration: prompt assembly, guard checks,
// model call, function dispatch, audit record, and the resulting state
// transition. Returned errors are fatal orchestration errors; the caller
// parks the agent in the error state.
func (rt *Runtime) runIteration(ctx context.Context, exec *execution, ac *AgentContext, logger *slog.Logger) (loopOutcome, error) {
	ac.CallStack = nil
	if err := rt.setState(ac, ac.LiveState()); err != nil {
		return loopDone, err
	}

	iterCtx := ctx
	if rt.iterTimeout > 0 {
		var cancel context.CancelFunc
		iterCtx, cancel = context.WithTimeout(ctx, rt.iterTimeout)
		defer cancel()
	}

	var span Span
	if rt.tracer != nil {
		iterCtx, span = rt.tracer.Start(iterCtx, "agent.iteration",
			StringAttr("agent.id", ac.AgentID),
			IntAttr("agent.iteration", ac.Iterations+1))
		defer span.End()
	}

	// Seed the conversation on the first iteration and drain anything queued
	// while the loop was away.
	if len(ac.Messages) == 0 && len(ac.PendingMessages) == 0 {
		ac.Messages = append(ac.Messages, UserMessage(ac.InputPrompt))
	}
	for _, m := range ac.PendingMessages {
		ac.Messages = append(ac.Messages, UserMessage(m))
	}
	ac.PendingMessages = nil

	prompt := lastUserContent(ac.Messages)
	for _, g := range rt.guards {
		if err := g.CheckPrompt(prompt); err != nil {
			if span != nil {
				span.Error(err)
			}
			return loopDone, err
		}
	}

	defs := ac.Functions.Definitions()
	defs = append(defs, controlDefinitions(ac.ParentAgentID == "")...)
	req := ChatRequest{
		SystemPrompt: rt.systemPrompt(ac),
		Messages:     ac.Messages,
	}

	model := ac.LLMs.ForLevel(LevelHard)
	ac.CallStack = append(ac.CallStack, "generate")
	resp, err := model.GenerateWithTools(iterCtx, req, defs)
	if err != nil {
		if span != nil {
			span.Error(err)
		}
		if errors.Is(iterCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			rt.park(ac, StateTimeout)
			logger.Warn("iteration timed out", "iteration", ac.Iterations+1, "timeout", rt.iterTimeout)
			return loopDone, nil
		}
		return loopDone, fmt.Errorf("model call: %w", err)
	}

	ac.CallStack = ac.CallStack[:len(ac.CallStack)-1]

	stats := resp.Stats
	ac.Cost += resp.Stats.Cost
	rt.emit(Event{
		Type: EventLLMCall, AgentID: ac.AgentID, Iteration: ac.Iterations + 1,
		Content: resp.Content, Stats: resp.Stats,
	})
	ac.Messages = append(ac.Messages, ChatMessage{
		Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls,
	})

	rec := newIterationRecord(ac, prompt, resp.Content)

	if ac.Subtype == SubtypeCodegen && rt.runner != nil {
		codegenStats, err := rt.runCodegen(iterCtx, ac, resp.Content, rec)
		if err != nil {
			if span != nil {
				span.Error(err)
			}
			return loopDone, err
		}
		stats.Add(codegenStats)
		ac.Cost += codegenStats.Cost
	}

	calls := resp.ToolCalls
	if rt.callGuard != nil {
		calls = rt.callGuard.Trim(calls)
	}

	var out controlOutcome
	var results []FunctionCallResult
	parked := false

	if len(calls) > 0 {
		if err := rt.setState(ac, StateFunctions); err != nil {
			return loopDone, err
		}
		results, parked, err = rt.dispatchCalls(iterCtx, exec, ac, calls, &out)
		if err != nil {
			return loopDone, err
		}
	} else if rec.Code == "" {
		// A bare text response advances nothing. Nudge the model toward the
		// control surface so the loop cannot spin on prose.
		ac.Messages = append(ac.Messages, UserMessage(
			"Continue with the task. Call Agent_completed when it is fully done."))
	}

	rec.FunctionCalls = results
	rec.Cost = stats.Cost
	rec.Stats = stats
	rec.Memory = maps.Clone(ac.Memory)
	rec.ToolState = maps.Clone(ac.ToolState)

	if parked {
		// The iteration is interrupted, not finished. Stash the in-flight
		// record so the execution that finishes the parked calls completes
		// it with the original prompt, plan, and stats intact.
		ac.ParkedRecord = rec
		if err := rt.persist(ac); err != nil {
			return loopDone, err
		}
		return loopDone, nil
	}

	ac.Iterations++
	rec.Iteration = ac.Iterations
	if err := rt.store.SaveIteration(context.WithoutCancel(ctx), rec); err != nil {
		return loopDone, fmt.Errorf("save iteration %d: %w", rec.Iteration, err)
	}
	rt.emit(Event{Type: EventIteration, AgentID: ac.AgentID, Iteration: rec.Iteration, Stats: stats})
	if span != nil {
		span.SetAttr(Float64Attr("agent.iteration_cost", rec.Cost))
	}

	return rt.settleIteration(ctx, ac, &out, logger)
}

// settleIteration applies the control outcome of a finished iteration and
// decides whether the loop keeps running.
func (rt *Runtime) settleIteration(ctx context.Context, ac *AgentContext, out *controlOutcome, logger *slog.Logger) (loopOutcome, error) {
	// Leave the functions state before anything else; completed and the
	// pause states are only reachable from a generation state.
	if err := rt.setState(ac, ac.LiveState()); err != nil {
		return loopDone, err
	}

	switch {
	case out.completed:
		ac.Output = out.output
		if err := rt.setState(ac, StateCompleted); err != nil {
			return loopDone, err
		}
		rt.emit(Event{Type: EventCompleted, AgentID: ac.AgentID, State: StateCompleted, Content: ac.Output})
		rt.invokeCompletion(context.WithoutCancel(ctx), ac)
		logger.Info("agent completed", "iterations", ac.Iterations, "cost", ac.Cost)
		return loopDone, nil

	case len(out.delegations) > 0:
		if err := rt.spawnChildren(ctx, ac, out.delegations); err != nil {
			return loopDone, err
		}
		logger.Info("agent delegated", "children", len(ac.ChildAgents))
		return loopDone, nil

	case out.feedbackAsked:
		ac.Output = out.question
		rt.park(ac, StateHITLFeedback)
		logger.Info("agent asked for feedback", "question", truncateStr(out.question, 120))
		return loopDone, nil
	}

	if err := rt.persist(ac); err != nil {
		return loopDone, err
	}
	return loopContinue, nil
}

// dispatchCalls executes one iteration's function calls in order. Control
// calls fold into out; tool calls route through the registry. A tool that
// demands approval parks the agent in hitl_tool with the remaining calls
// saved in Invoking, and dispatch stops (parked=true).
func (rt *Runtime) dispatchCalls(ctx context.Context, exec *execution, ac *AgentContext, calls []FunctionCall, out *controlOutcome) ([]FunctionCallResult, bool, error) {
	var results []FunctionCallResult

	for i, call := range calls {
		if ctx.Err() != nil {
			return results, false, errors.New("cancelled: " + exec.reason())
		}
		rt.emit(Event{
			Type: EventFunctionCallStart, AgentID: ac.AgentID,
			Iteration: ac.Iterations + 1, Name: call.Name, Args: call.Args,
		})

		ac.CallStack = append(ac.CallStack, call.Name)
		var res FunctionCallResult
		if isControlCall(call.Name) {
			res = applyControl(ac, call, out)
		} else {
			ac.Invoking = calls[i:]
			var callErr error
			res, callErr = ac.Functions.Call(ctx, call)
			if errors.Is(callErr, ErrApprovalRequired) {
				// The blocked frame stays on the call stack so the pause is
				// diagnosable from the stored snapshot.
				rt.park(ac, StateHITLTool)
				rt.logger.Info("tool call awaiting approval",
					"agent_id", ac.AgentID, "function", call.Name)
				return results, true, nil
			}
			ac.Invoking = nil
		}
		ac.CallStack = ac.CallStack[:len(ac.CallStack)-1]

		results = append(results, res)
		ac.FunctionCallHistory = append(ac.FunctionCallHistory, res)
		ac.Messages = append(ac.Messages, ToolResultMessage(call.ID, toolResultContent(res)))
		rt.emit(Event{
			Type: EventFunctionCallResult, AgentID: ac.AgentID,
			Iteration: ac.Iterations + 1, Name: call.Name,
			Content: res.Stdout, Err: res.Stderr,
		})
	}
	return results, false, nil
}

// runParkedCalls finishes an iteration that was interrupted by a hitl_tool
// pause: it dispatches whatever is still in Invoking, completes the stashed
// iteration record, and settles the outcome. Returns done=true when the
// agent parked again or reached a terminal state.
func (rt *Runtime) runParkedCalls(ctx context.Context, exec *execution, ac *AgentContext) (bool, error) {
	calls := ac.Invoking
	ac.Invoking = nil
	ac.CallStack = nil

	var out controlOutcome
	results, parked, err := rt.dispatchCalls(ctx, exec, ac, calls, &out)
	if err != nil {
		return true, err
	}
	if parked {
		// Parked again on a later call; keep the stash growing so no result
		// falls out of the record.
		if ac.ParkedRecord != nil && len(results) > 0 {
			ac.ParkedRecord.FunctionCalls = append(ac.ParkedRecord.FunctionCalls, results...)
			if err := rt.persist(ac); err != nil {
				return true, err
			}
		}
		return true, nil
	}

	// The record stashed at the pause carries the prompt, plan, stats, and
	// the results dispatched before the pause; fold in the rest. A missing
	// stash (document written before the field existed) degrades to a bare
	// record rather than losing the iteration.
	rec := ac.ParkedRecord
	ac.ParkedRecord = nil
	if rec == nil {
		rec = newIterationRecord(ac, lastUserContent(ac.Messages), "")
	}
	rec.FunctionCalls = append(rec.FunctionCalls, results...)
	rec.Memory = maps.Clone(ac.Memory)
	rec.ToolState = maps.Clone(ac.ToolState)
	ac.Iterations++
	rec.Iteration = ac.Iterations
	if err := rt.store.SaveIteration(context.WithoutCancel(ctx), rec); err != nil {
		return true, fmt.Errorf("save iteration %d: %w", rec.Iteration, err)
	}
	rt.emit(Event{Type: EventIteration, AgentID: ac.AgentID, Iteration: rec.Iteration, Stats: rec.Stats})

	outcome, err := rt.settleIteration(ctx, ac, &out, rt.logger.With("agent_id", ac.AgentID))
	if err != nil {
		return true, err
	}
	return outcome == loopDone, nil
}

// setState validates, applies, and persists a state transition, then emits a
// state-change event. Same-state calls persist without emitting.
func (rt *Runtime) setState(ac *AgentContext, to State) error {
	if ac.State == to {
		return rt.persist(ac)
	}
	if err := ValidateTransition(ac.State, to); err != nil {
		return err
	}
	ac.State = to
	if err := rt.persist(ac); err != nil {
		return err
	}
	rt.emit(Event{Type: EventStateChange, AgentID: ac.AgentID, State: to, Iteration: ac.Iterations})
	return nil
}

// park moves the agent into a quiescent or waiting state and persists.
// Transition failures here mean the table and the loop disagree; the agent
// is forced into the error state so it never silently disappears.
func (rt *Runtime) park(ac *AgentContext, to State) {
	if err := rt.setState(ac, to); err != nil {
		rt.parkError(ac, err.Error())
		return
	}
	if to.IsPaused() || to == StateTimeout {
		rt.emit(Event{Type: EventPause, AgentID: ac.AgentID, State: to, Content: ac.Output})
	}
}

// parkError records a fatal orchestration error and persists the error
// state. Best-effort: a store failure at this point is only logged.
func (rt *Runtime) parkError(ac *AgentContext, msg string) {
	ac.Error = msg
	ac.State = StateError
	if err := rt.persist(ac); err != nil {
		rt.logger.Error("failed to persist error state", "agent_id", ac.AgentID, "error", err)
	}
	rt.emit(Event{Type: EventError, AgentID: ac.AgentID, State: StateError, Err: msg})
}

// persist saves the live context. Uses a background context so cancellation
// of the loop never loses the final write.
func (rt *Runtime) persist(ac *AgentContext) error {
	ac.LastUpdate = time.Now().UTC()
	if err := rt.store.Save(context.Background(), ac); err != nil {
		return fmt.Errorf("persist agent %s: %w", ac.AgentID, err)
	}
	return nil
}

// systemPrompt assembles the per-iteration system prompt: role, original
// request, memory, notes, and budget status.
func (rt *Runtime) systemPrompt(ac *AgentContext) string {
	var b strings.Builder
	b.WriteString("You are an autonomous agent working toward the user's goal across multiple iterations. ")
	b.WriteString("Each turn, reason about the current state, then either call tools to make progress or call Agent_completed with the final result.\n")
	b.WriteString("\nStructure your reasoning with these tags: <expanded_user_request>, <observations_reasoning>, <plan>, <next_step_details>.\n")

	b.WriteString("\n## Task\n")
	b.WriteString(ac.UserPrompt)
	b.WriteString("\n")

	if len(ac.Memory) > 0 {
		b.WriteString("\n## Memory\n")
		for _, k := range sortedKeys(ac.Memory) {
			fmt.Fprintf(&b, "- %s: %s\n", k, ac.Memory[k])
		}
	}
	if len(ac.Notes) > 0 {
		b.WriteString("\n## Notes\n")
		for _, n := range ac.Notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	if ac.HILBudget > 0 {
		fmt.Fprintf(&b, "\n## Budget\nSpent $%.4f of $%.4f. Work efficiently.\n", ac.Cost, ac.HILBudget)
	}
	if ac.FileSystem != nil {
		fmt.Fprintf(&b, "\n## Workspace\nWorking directory: %s\n", ac.FileSystem.WorkingDirectory)
	}
	return b.String()
}

// newIterationRecord starts the audit record for the iteration in progress,
// extracting the tagged plan sections from the model response.
func newIterationRecord(ac *AgentContext, prompt, content string) *AutonomousIteration {
	rec := &AutonomousIteration{
		AgentID:   ac.AgentID,
		Functions: ac.Functions.ClassNames(),
		Prompt:    prompt,
		CreatedAt: time.Now().UTC(),
	}
	if content == "" {
		return rec
	}
	rec.ExpandedUserRequest = extractTagged(content, "expanded_user_request")
	rec.ObservationsReasoning = extractTagged(content, "observations_reasoning")
	rec.AgentPlan = extractTagged(content, "plan")
	rec.NextStepDetails = extractTagged(content, "next_step_details")
	if rec.AgentPlan == "" {
		rec.AgentPlan = content
	}
	rec.Summary = truncateStr(firstLine(rec.AgentPlan), 200)
	return rec
}

var tagPattern = map[string]*regexp.Regexp{
	"expanded_user_request":  taggedRe("expanded_user_request"),
	"observations_reasoning": taggedRe("observations_reasoning"),
	"plan":                   taggedRe("plan"),
	"next_step_details":      taggedRe("next_step_details"),
	"draft_code":             taggedRe("draft_code"),
	"code_review":            taggedRe("code_review"),
	"code":                   taggedRe("code"),
}

func taggedRe(tag string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)<` + tag + `>(.*?)</` + tag + `>`)
}

// extractTagged pulls the text inside <tag>...</tag> from model output.
// Returns "" when the tag is absent.
func extractTagged(content, tag string) string {
	re, ok := tagPattern[tag]
	if !ok {
		return ""
	}
	m := re.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// toolResultContent renders a function call result as the tool message body.
func toolResultContent(res FunctionCallResult) string {
	switch {
	case res.Stderr != "" && res.Stdout != "":
		return res.Stdout + "\nerror: " + res.Stderr
	case res.Stderr != "":
		return "error: " + res.Stderr
	case res.Stdout == "":
		return "(no output)"
	default:
		return res.Stdout
	}
}

// lastUserContent returns the most recent user message text, for guard
// checks and the iteration record.
func lastUserContent(msgs []ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// truncateStr cuts s to at most max runes.
func truncateStr(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
