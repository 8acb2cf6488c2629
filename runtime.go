package drover

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// nopLogger discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// StartRequest describes a new agent.
type StartRequest struct {
	// Prompt is the user's task. Becomes both UserPrompt and the first
	// execution's InputPrompt.
	Prompt string
	// Type defaults to autonomous.
	Type AgentType
	// Subtype is free-form ("xml", "codegen").
	Subtype string
	// Functions lists tool class names to resolve through the runtime's
	// function factory.
	Functions []string
	// HILBudget is the USD ceiling before a human check; zero disables.
	HILBudget float64
	// HILCount is the iteration ceiling before a human check; zero disables.
	HILCount int
	// User owns the agent. Immutable after creation.
	User User
	// LLMs overrides the runtime's default model set when non-zero.
	LLMs ModelSet
	// CompletedHandlerID selects the completion callback; empty uses the
	// default handler.
	CompletedHandlerID string
	// ParentAgentID links a child agent to its parent.
	ParentAgentID string
	// FileSystem is the optional working-directory reference for
	// code-generating subtypes.
	FileSystem *FileSystemRef
	// Metadata carries free-form custom fields.
	Metadata map[string]any
}

// HITLDecision is a human's answer to a paused agent.
type HITLDecision struct {
	// Approve continues execution; false forces completion (for threshold
	// and feedback pauses) or rejects the parked tool call (hitl_tool).
	Approve bool
	// Feedback is queued for the agent as a user message.
	Feedback string
	// RaiseBudget is added to HILBudget on approval.
	RaiseBudget float64
}

// execution tracks one live loop goroutine.
type execution struct {
	executionID  string
	cancel       context.CancelFunc
	done         chan struct{}
	stop         chan struct{} // closed by Shutdown for a graceful park
	stopOnce     sync.Once
	cancelReason atomic.Pointer[string]
}

// reason returns the cancellation reason set by Cancel, if any.
func (e *execution) reason() string {
	if p := e.cancelReason.Load(); p != nil {
		return *p
	}
	return "cancelled"
}

func (e *execution) requestStop() { e.stopOnce.Do(func() { close(e.stop) }) }

func (e *execution) stopping() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

// Runtime drives agents through resumable, budget-governed control loops.
// Each running agent owns one goroutine; the runtime enforces at most one
// live execution per agent id.
type Runtime struct {
	store       Store
	models      ModelSet
	factory     *FunctionFactory
	users       UserStore
	completions *CompletionRegistry
	guards      []ContentGuard
	callGuard   *MaxFunctionCallsGuard
	runner      CodeRunner
	tracer      Tracer
	logger      *slog.Logger
	events      EventFunc
	iterTimeout time.Duration

	// mu guards running and shutdown, and is held across the whole
	// load-check-transition-save admission sequence of Start/Resume/
	// SubmitDecision so that concurrent attempts for the same agent
	// serialize (the single-writer invariant).
	mu       sync.Mutex
	running  map[string]*execution
	shutdown bool
	wg       sync.WaitGroup
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithModels sets the default model set for new agents.
func WithModels(m ModelSet) RuntimeOption {
	return func(rt *Runtime) { rt.models = m }
}

// WithFunctionFactory sets the factory that resolves tool class names.
func WithFunctionFactory(f *FunctionFactory) RuntimeOption {
	return func(rt *Runtime) { rt.factory = f }
}

// WithUserStore sets the lookup used to validate owning users.
func WithUserStore(u UserStore) RuntimeOption {
	return func(rt *Runtime) { rt.users = u }
}

// WithCompletionRegistry sets the registry resolving completion handlers.
func WithCompletionRegistry(r *CompletionRegistry) RuntimeOption {
	return func(rt *Runtime) { rt.completions = r }
}

// WithGuards adds prompt guards. A guard rejection is a fatal orchestration
// error: the agent parks in the error state.
func WithGuards(gs ...ContentGuard) RuntimeOption {
	return func(rt *Runtime) { rt.guards = append(rt.guards, gs...) }
}

// WithMaxFunctionCalls caps function calls per model response; the excess is
// trimmed, not fatal.
func WithMaxFunctionCalls(n int) RuntimeOption {
	return func(rt *Runtime) { rt.callGuard = NewMaxFunctionCallsGuard(n) }
}

// WithCodeRunner enables the codegen subtype flow.
func WithCodeRunner(r CodeRunner) RuntimeOption {
	return func(rt *Runtime) { rt.runner = r }
}

// WithTracer sets the tracer. Use observer.NewTracer() for an OTEL-backed
// implementation.
func WithTracer(t Tracer) RuntimeOption {
	return func(rt *Runtime) { rt.tracer = t }
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(rt *Runtime) { rt.logger = l }
}

// WithEvents sets the observer callback for runtime events.
func WithEvents(fn EventFunc) RuntimeOption {
	return func(rt *Runtime) { rt.events = fn }
}

// WithIterationTimeout caps one iteration's wall-clock time. Exceeding it
// parks the agent in the timeout state, resumable like any other pause.
func WithIterationTimeout(d time.Duration) RuntimeOption {
	return func(rt *Runtime) { rt.iterTimeout = d }
}

// NewRuntime creates a Runtime over a store.
func NewRuntime(store Store, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		store:   store,
		running: make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.factory == nil {
		rt.factory = NewFunctionFactory()
	}
	if rt.completions == nil {
		rt.completions = NewCompletionRegistry()
	}
	if rt.logger == nil {
		rt.logger = nopLogger
	}
	return rt
}

// Start creates a new agent and launches its control loop. The returned
// context is a snapshot; the loop owns the live value.
func (rt *Runtime) Start(ctx context.Context, req StartRequest) (*AgentContext, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("start: prompt is required")
	}
	models := req.LLMs
	if models.Hard == nil {
		models = rt.models
	}
	if err := models.Validate(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	agentType := req.Type
	if agentType == "" {
		agentType = TypeAutonomous
	}

	reg, err := RegistryFromNames(rt.factory, req.Functions)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	ac := &AgentContext{
		AgentID:            NewID(),
		ExecutionID:        NewID(),
		TraceID:            NewID(),
		Type:               agentType,
		Subtype:            req.Subtype,
		ParentAgentID:      req.ParentAgentID,
		User:               req.User,
		State:              liveStateFor(agentType),
		HILBudget:          req.HILBudget,
		HILCount:           req.HILCount,
		LLMs:               models,
		Functions:          reg,
		UserPrompt:         req.Prompt,
		InputPrompt:        req.Prompt,
		CompletedHandlerID: req.CompletedHandlerID,
		FileSystem:         req.FileSystem,
		Metadata:           req.Metadata,
	}
	ac.ensureMaps()

	rt.mu.Lock()
	if rt.shutdown {
		rt.mu.Unlock()
		return nil, fmt.Errorf("start: runtime is shutting down")
	}
	if err := rt.store.Save(ctx, ac); err != nil {
		rt.mu.Unlock()
		return nil, err
	}
	exec := rt.launchLocked(ac)
	rt.mu.Unlock()

	rt.logger.Info("agent started",
		"agent_id", ac.AgentID, "execution_id", exec.executionID,
		"type", ac.Type, "subtype", ac.Subtype)
	return ac.Clone(), nil
}

// Resume restarts a paused, errored, shut-down, or timed-out agent with a
// fresh execution identity. Feedback, when non-empty, is queued for the
// agent as a pending user message and the input prompt is rewritten so the
// new execution starts from it.
func (rt *Runtime) Resume(ctx context.Context, agentID, feedback string) (*AgentContext, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.shutdown {
		return nil, fmt.Errorf("resume: runtime is shutting down")
	}
	if _, ok := rt.running[agentID]; ok {
		return nil, fmt.Errorf("resume %s: %w", agentID, ErrAlreadyRunning)
	}
	ac, err := rt.store.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if ac.State.IsLive() {
		return nil, fmt.Errorf("resume %s: state %s: %w", agentID, ac.State, ErrAlreadyRunning)
	}

	next := ac.LiveState()
	if err := ValidateTransition(ac.State, next); err != nil {
		return nil, err
	}

	ac.ExecutionID = NewID()
	ac.HILRequested = false
	ac.Error = ""
	ac.State = next
	// Resuming is a human act; move the approval watermark so the governor
	// does not immediately re-pause on the numbers that caused the pause.
	ac.HILApprovedCost = ac.Cost
	ac.HILApprovedIterations = ac.Iterations
	if feedback != "" {
		ac.PendingMessages = append(ac.PendingMessages, feedback)
		ac.InputPrompt = feedback
	}

	if err := rt.store.Save(ctx, ac); err != nil {
		return nil, err
	}
	exec := rt.launchLocked(ac)

	rt.logger.Info("agent resumed",
		"agent_id", agentID, "execution_id", exec.executionID, "has_feedback", feedback != "")
	return ac.Clone(), nil
}

// SubmitDecision answers a human-in-the-loop pause. For hitl_threshold and
// hitl_feedback an approval moves the approval watermark and resumes the
// loop (optionally raising the budget); a rejection forces completion. For
// hitl_tool an approval re-dispatches the parked function calls; a
// rejection records them as rejected and resumes the loop without
// executing them.
func (rt *Runtime) SubmitDecision(ctx context.Context, agentID string, d HITLDecision) (*AgentContext, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.running[agentID]; ok {
		return nil, fmt.Errorf("decision %s: %w", agentID, ErrAlreadyRunning)
	}
	ac, err := rt.store.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}

	switch ac.State {
	case StateHITLThreshold, StateHITLFeedback:
		if !d.Approve {
			return rt.forceCompleteLocked(ctx, ac, "terminated by operator decision")
		}
		ac.ExecutionID = NewID()
		ac.HILRequested = false
		ac.HILBudget += d.RaiseBudget
		ac.HILApprovedCost = ac.Cost
		ac.HILApprovedIterations = ac.Iterations
		if d.Feedback != "" {
			ac.PendingMessages = append(ac.PendingMessages, d.Feedback)
			ac.InputPrompt = d.Feedback
		}
		ac.State = ac.LiveState()

	case StateHITLTool:
		ac.ExecutionID = NewID()
		if !d.Approve {
			reason := "rejected by operator"
			if d.Feedback != "" {
				reason += ": " + d.Feedback
			}
			for _, call := range ac.Invoking {
				res := FunctionCallResult{FunctionCall: call, Stderr: reason}
				ac.FunctionCallHistory = append(ac.FunctionCallHistory, res)
				ac.Messages = append(ac.Messages, ToolResultMessage(call.ID, reason))
				if ac.ParkedRecord != nil {
					ac.ParkedRecord.FunctionCalls = append(ac.ParkedRecord.FunctionCalls, res)
				}
			}
			ac.Invoking = nil
		}
		// Re-enter at the functions state; the loop dispatches whatever is
		// still parked in Invoking.
		ac.State = StateFunctions

	default:
		return nil, fmt.Errorf("decision %s: state %s is not a pause state", agentID, ac.State)
	}

	if err := rt.store.Save(ctx, ac); err != nil {
		return nil, err
	}
	exec := rt.launchLocked(ac)

	rt.logger.Info("hitl decision applied",
		"agent_id", agentID, "execution_id", exec.executionID, "approved", d.Approve)
	return ac.Clone(), nil
}

// forceCompleteLocked parks a paused agent in the completed state without
// restarting the loop. Caller holds rt.mu.
func (rt *Runtime) forceCompleteLocked(ctx context.Context, ac *AgentContext, note string) (*AgentContext, error) {
	if err := ValidateTransition(ac.State, StateCompleted); err != nil {
		return nil, err
	}
	if ac.Output == "" {
		ac.Output = note
	}
	ac.State = StateCompleted
	ac.HILRequested = false
	if err := rt.store.Save(ctx, ac); err != nil {
		return nil, err
	}
	rt.emit(Event{Type: EventCompleted, AgentID: ac.AgentID, State: StateCompleted, Content: ac.Output})
	rt.invokeCompletion(ctx, ac)
	return ac.Clone(), nil
}

// Cancel force-stops an agent: it interrupts a live execution thread, sets
// the error state with the given reason, and persists. Cancelling a
// completed agent fails with an invalid-transition error.
func (rt *Runtime) Cancel(ctx context.Context, agentID, reason string) error {
	rt.mu.Lock()
	exec := rt.running[agentID]
	rt.mu.Unlock()

	if reason == "" {
		reason = "cancelled"
	}

	if exec != nil {
		exec.cancelReason.Store(&reason)
		exec.cancel()
		select {
		case <-exec.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	// No live goroutine: flip the stored state directly. Covers agents
	// parked in a pause state and stale live states left by a crash.
	ac, err := rt.store.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if err := ValidateTransition(ac.State, StateError); err != nil {
		return err
	}
	ac.State = StateError
	ac.Error = reason
	ac.Invoking = nil
	if err := rt.store.Save(ctx, ac); err != nil {
		return err
	}
	rt.emit(Event{Type: EventError, AgentID: agentID, State: StateError, Err: reason})
	return nil
}

// UpdateFunctions replaces an agent's tool classes. Rejected while the agent
// has a live execution, since the registry is owned by the loop goroutine.
func (rt *Runtime) UpdateFunctions(ctx context.Context, agentID string, names []string) (*AgentContext, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, ok := rt.running[agentID]; ok {
		return nil, fmt.Errorf("update functions %s: %w", agentID, ErrAlreadyRunning)
	}
	return rt.store.UpdateFunctions(ctx, agentID, names)
}

// RequestHumanInLoopCheck sets the sticky check flag; the loop pauses at its
// next iteration boundary.
func (rt *Runtime) RequestHumanInLoopCheck(ctx context.Context, agentID string) error {
	return rt.store.RequestHumanInLoopCheck(ctx, agentID)
}

// Get returns a snapshot of an agent's context.
func (rt *Runtime) Get(ctx context.Context, agentID string) (*AgentContext, error) {
	return rt.store.Get(ctx, agentID)
}

// List returns snapshots of all agents.
func (rt *Runtime) List(ctx context.Context) ([]*AgentContext, error) {
	return rt.store.List(ctx)
}

// ListRunning returns snapshots of agents whose state is not completed.
func (rt *Runtime) ListRunning(ctx context.Context) ([]*AgentContext, error) {
	return rt.store.ListRunning(ctx)
}

// Delete removes agents and their iteration history. Live executions are
// cancelled first.
func (rt *Runtime) Delete(ctx context.Context, agentIDs ...string) error {
	for _, id := range agentIDs {
		rt.mu.Lock()
		exec := rt.running[id]
		rt.mu.Unlock()
		if exec != nil {
			exec.cancel()
			select {
			case <-exec.done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return rt.store.Delete(ctx, agentIDs...)
}

// Iterations returns an agent's full iteration history, ascending.
func (rt *Runtime) Iterations(ctx context.Context, agentID string) ([]*AutonomousIteration, error) {
	return rt.store.LoadIterations(ctx, agentID)
}

// Wait blocks until the agent's current execution yields (reaches a
// quiescent or parked state) or ctx is done. Returns immediately when no
// execution is live.
func (rt *Runtime) Wait(ctx context.Context, agentID string) error {
	rt.mu.Lock()
	exec := rt.running[agentID]
	rt.mu.Unlock()
	if exec == nil {
		return nil
	}
	select {
	case <-exec.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown gracefully stops the runtime: every live loop parks its agent in
// the shutdown state at the next safe point, resumable after restart. When
// ctx expires first, remaining loops are cancelled hard.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.mu.Lock()
	rt.shutdown = true
	execs := make([]*execution, 0, len(rt.running))
	for _, e := range rt.running {
		execs = append(execs, e)
	}
	rt.mu.Unlock()

	for _, e := range execs {
		e.requestStop()
	}

	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, e := range execs {
			e.cancel()
		}
		<-done
		return ctx.Err()
	}
}

// launchLocked registers an execution and spawns the loop goroutine.
// Caller holds rt.mu and has already persisted the live state.
func (rt *Runtime) launchLocked(ac *AgentContext) *execution {
	loopCtx, cancel := context.WithCancel(context.Background())
	exec := &execution{
		executionID: ac.ExecutionID,
		cancel:      cancel,
		done:        make(chan struct{}),
		stop:        make(chan struct{}),
	}
	rt.running[ac.AgentID] = exec
	rt.wg.Add(1)

	go func() {
		defer rt.wg.Done()
		defer close(exec.done)
		defer func() {
			rt.mu.Lock()
			if rt.running[ac.AgentID] == exec {
				delete(rt.running, ac.AgentID)
			}
			rt.mu.Unlock()
			cancel()
		}()
		rt.runLoop(loopCtx, exec, ac)
	}()
	return exec
}

// emit delivers an event to the observer callback, if any.
func (rt *Runtime) emit(ev Event) {
	if rt.events != nil {
		rt.events(ev)
	}
}

// invokeCompletion resolves and calls the agent's completion handler.
// Handler failures are logged, never propagated: completion already
// happened.
func (rt *Runtime) invokeCompletion(ctx context.Context, ac *AgentContext) {
	h, err := rt.completions.Resolve(ac.CompletedHandlerID)
	if err != nil {
		rt.logger.Warn("completion handler unresolved",
			"agent_id", ac.AgentID, "handler_id", ac.CompletedHandlerID, "error", err)
		return
	}
	if err := h.Completed(ctx, ac); err != nil {
		rt.logger.Warn("completion handler failed",
			"agent_id", ac.AgentID, "handler_id", h.ID(), "error", err)
	}
}
