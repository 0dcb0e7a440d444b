// Package agent drives the multi-turn run loop: each iteration asks
// the model for the next action, dispatches tool calls through the
// confirmation protocol, and feeds results back until the run reaches
// a terminal state or an operator intervenes.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyotiq-ai/vyotiq-agent-sub016/debug"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/discovery"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/health"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/llm"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/policy"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/tool"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/trace"
)

// Deps are the collaborators an Orchestrator is constructed with. The
// host builds each one explicitly and passes it in; there is no
// implicit global state. Client and Discovery are required, the rest
// default to fresh instances when nil.
type Deps struct {
	Client      *llm.Client
	Discovery   *discovery.Index
	Health      *health.Monitor
	Tracer      *trace.Tracer
	Breakpoints *debug.Evaluator
	Recorder    *debug.Recorder
	Inspector   *debug.Inspector
	Policy      *policy.Engine // nil disables the policy gate
	Retry       *llm.RetryPolicy
	Truncation  *tool.TruncationLimits
	EventBuffer int
}

// Orchestrator is the top-level state machine. It owns the session
// map; per-session health, trace, discovery, and breakpoint state live
// in the injected components, addressed only by session id.
type Orchestrator struct {
	client      *llm.Client
	discovery   *discovery.Index
	health      *health.Monitor
	tracer      *trace.Tracer
	breakpoints *debug.Evaluator
	recorder    *debug.Recorder
	inspector   *debug.Inspector
	policy      *policy.Engine
	retry       llm.RetryPolicy
	limits      tool.TruncationLimits
	emitter     *Emitter

	sessions map[string]*session
	pending  map[string]*pendingConfirmation
	mu       sync.Mutex
}

// NewOrchestrator wires an Orchestrator from its dependencies.
func NewOrchestrator(deps Deps) *Orchestrator {
	o := &Orchestrator{
		client:      deps.Client,
		discovery:   deps.Discovery,
		health:      deps.Health,
		tracer:      deps.Tracer,
		breakpoints: deps.Breakpoints,
		recorder:    deps.Recorder,
		inspector:   deps.Inspector,
		policy:      deps.Policy,
		retry:       llm.DefaultRetryPolicy(),
		limits:      tool.DefaultTruncationLimits(),
		emitter:     NewEmitter(deps.EventBuffer),
		sessions:    make(map[string]*session),
		pending:     make(map[string]*pendingConfirmation),
	}
	if o.discovery == nil {
		o.discovery = discovery.NewIndex(discovery.Config{})
	}
	if o.health == nil {
		o.health = health.NewMonitor(health.DefaultConfig())
	}
	if o.tracer == nil {
		o.tracer = trace.NewTracer()
	}
	if o.breakpoints == nil {
		o.breakpoints = debug.NewEvaluator()
	}
	if o.recorder == nil {
		o.recorder = debug.NewRecorder(1000)
	}
	if o.inspector == nil {
		o.inspector = debug.NewInspector()
	}
	if deps.Retry != nil {
		o.retry = *deps.Retry
	}
	if deps.Truncation != nil {
		o.limits = *deps.Truncation
	}
	return o
}

// Events returns the lifecycle event channel for the host.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Close shuts the event channel. Active runs should be cancelled
// first.
func (o *Orchestrator) Close() {
	o.emitter.Close()
}

// CreateSession registers a new session and returns its id.
func (o *Orchestrator) CreateSession(cfg SessionConfig) string {
	def := DefaultSessionConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.LoopDetectionWindow <= 0 {
		cfg.LoopDetectionWindow = def.LoopDetectionWindow
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = llm.ContextWindowFor(cfg.Model)
	}

	s := &session{
		id:        uuid.New().String(),
		config:    cfg,
		createdAt: time.Now(),
	}
	o.mu.Lock()
	o.sessions[s.id] = s
	o.mu.Unlock()
	return s.id
}

// Session returns a snapshot of a session.
func (o *Orchestrator) Session(sessionID string) (SessionView, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return SessionView{}, false
	}
	return s.view(), true
}

// Sessions returns snapshots of all sessions.
func (o *Orchestrator) Sessions() []SessionView {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]SessionView, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s.view())
	}
	return out
}

// DeleteSession cancels any active run and releases all per-session
// state across the components.
func (o *Orchestrator) DeleteSession(sessionID string) error {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("session %s not found", sessionID)
	}
	active := s.run != nil && !s.run.Status.Terminal()
	o.mu.Unlock()

	if active {
		if err := o.Cancel(sessionID); err != nil {
			return err
		}
	}

	o.mu.Lock()
	delete(o.sessions, sessionID)
	o.mu.Unlock()

	o.health.StopMonitoring(sessionID)
	o.discovery.ClearSession(sessionID)
	o.breakpoints.ClearSession(sessionID)
	o.recorder.ClearSession(sessionID)
	o.inspector.ClearSession(sessionID)
	return nil
}

// Start begins a run for a session with the given user input. At most
// one non-terminal run may exist per session; starting while one is
// active is refused.
func (o *Orchestrator) Start(ctx context.Context, sessionID, userInput string) (string, error) {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return "", fmt.Errorf("session %s not found", sessionID)
	}
	if s.run != nil && !s.run.Status.Terminal() {
		o.mu.Unlock()
		return "", fmt.Errorf("session %s already has an active run (%s)", sessionID, s.run.Status)
	}

	run := &Run{
		ID:               uuid.New().String(),
		SessionID:        s.id,
		Provider:         s.config.Provider,
		Model:            s.config.Model,
		StartedAt:        time.Now(),
		MaxIterations:    s.config.MaxIterations,
		MaxContextTokens: s.config.MaxContextTokens,
		Status:           StatusRunning,
	}
	run.TraceID = o.tracer.StartTrace(s.id, run.ID)
	s.run = run
	s.paused = false
	s.stepBudget = 0
	s.resumeCh = nil
	s.callSigs = nil
	s.messages = append(s.messages, llm.UserMessage(userInput))

	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	o.mu.Unlock()

	o.health.StartMonitoring(s.id, run.ID, run.Provider, run.Model, run.MaxIterations, run.MaxContextTokens)
	o.record(s.id, "run-started", fmt.Sprintf("run %s started", run.ID), map[string]any{"input": userInput})
	o.emitter.Emit(EventRunStatusChanged, s.id, run.ID, map[string]interface{}{
		"status": string(StatusRunning),
	})

	go o.runLoop(runCtx, s)
	return run.ID, nil
}

// Pause requests suspension at the next gate (iteration boundary or
// before the next tool call).
func (o *Orchestrator) Pause(sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, err := o.activeSessionLocked(sessionID)
	if err != nil {
		return err
	}
	s.paused = true
	return nil
}

// Resume continues a paused run.
func (o *Orchestrator) Resume(sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, err := o.activeSessionLocked(sessionID)
	if err != nil {
		return err
	}
	s.paused = false
	s.stepBudget = 0
	s.signalResumeLocked()
	return nil
}

// Step advances a paused run past exactly one gate, then re-pauses.
func (o *Orchestrator) Step(sessionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, err := o.activeSessionLocked(sessionID)
	if err != nil {
		return err
	}
	if !s.paused {
		return fmt.Errorf("session %s is not paused", sessionID)
	}
	s.stepBudget++
	s.signalResumeLocked()
	return nil
}

// Cancel terminates the active run. All pending confirmations are
// rejected and in-flight work is signalled to abort.
func (o *Orchestrator) Cancel(sessionID string) error {
	o.mu.Lock()
	s, err := o.activeSessionLocked(sessionID)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.rejectPending(sessionID, "run cancelled")
	s.paused = false
	s.signalResumeLocked()
	cancel := s.cancelRun
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Steer queues a guidance message injected at the next iteration
// boundary of the active run.
func (o *Orchestrator) Steer(sessionID, message string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	s.steering = append(s.steering, message)
	return nil
}

// FollowUp queues a message processed after the current run's work
// completes, instead of ending the run.
func (o *Orchestrator) FollowUp(sessionID, message string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	s.followups = append(s.followups, message)
	return nil
}

// CaptureState snapshots a session's observable state into the
// inspector and returns the snapshot.
func (o *Orchestrator) CaptureState(sessionID, label string) (debug.Snapshot, error) {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return debug.Snapshot{}, fmt.Errorf("session %s not found", sessionID)
	}
	fields := map[string]any{
		"status":        string(s.status()),
		"message_count": len(s.messages),
	}
	if s.run != nil {
		fields["iteration"] = s.run.Iteration
		fields["input_tokens"] = s.run.InputTokens
		fields["output_tokens"] = s.run.OutputTokens
	}
	o.mu.Unlock()

	fields["loaded_tools"] = o.discovery.SessionLoadedTools(sessionID)
	return o.inspector.Capture(sessionID, label, fields), nil
}

// activeSessionLocked returns the session iff it has a non-terminal
// run. Caller holds o.mu.
func (o *Orchestrator) activeSessionLocked(sessionID string) (*session, error) {
	s, ok := o.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s not found", sessionID)
	}
	if s.run == nil || s.run.Status.Terminal() {
		return nil, fmt.Errorf("session %s has no active run", sessionID)
	}
	return s, nil
}

func (s *session) signalResumeLocked() {
	if s.resumeCh != nil {
		close(s.resumeCh)
		s.resumeCh = nil
	}
}

// gate blocks while the session is paused. A step budget lets exactly
// one gate crossing through before re-pausing.
func (o *Orchestrator) gate(ctx context.Context, s *session) error {
	for {
		o.mu.Lock()
		if s.run == nil || s.run.Status.Terminal() {
			o.mu.Unlock()
			return context.Canceled
		}
		if !s.paused {
			if s.run.Status == StatusPaused {
				o.setStatusLocked(s, StatusRunning, "")
			}
			o.mu.Unlock()
			return nil
		}
		if s.stepBudget > 0 {
			s.stepBudget--
			if s.run.Status == StatusPaused {
				o.setStatusLocked(s, StatusRunning, "")
			}
			o.mu.Unlock()
			return nil
		}
		if s.resumeCh == nil {
			s.resumeCh = make(chan struct{})
		}
		ch := s.resumeCh
		if s.run.Status == StatusRunning {
			o.setStatusLocked(s, StatusPaused, "")
		}
		o.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// setStatusLocked updates the run status and emits the transition.
// Caller holds o.mu.
func (o *Orchestrator) setStatusLocked(s *session, status Status, reason string) {
	s.run.Status = status
	if reason != "" {
		s.run.StopReason = reason
	}
	data := map[string]interface{}{"status": string(status)}
	if reason != "" {
		data["reason"] = reason
	}
	o.emitter.Emit(EventRunStatusChanged, s.id, s.run.ID, data)
}

// finish moves the run to a terminal state exactly once and closes the
// trace. Completed and errored runs stay inspectable but leave the health
// monitor's active sweep; cancellation releases health/trace state.
func (o *Orchestrator) finish(s *session, status Status, reason string) {
	o.mu.Lock()
	if s.run == nil || s.run.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	o.setStatusLocked(s, status, reason)
	s.run.EndedAt = time.Now()
	run := s.run
	cancel := s.cancelRun
	s.cancelRun = nil
	o.mu.Unlock()

	switch status {
	case StatusCompleted:
		o.tracer.CompleteTrace(run.TraceID)
		o.health.EndRun(s.id)
	case StatusError:
		o.tracer.FailTrace(run.TraceID, reason)
		o.health.EndRun(s.id)
	case StatusCancelled:
		o.tracer.FailTrace(run.TraceID, reason)
		o.tracer.Release(run.TraceID)
		o.health.StopMonitoring(s.id)
	}
	o.record(s.id, "run-finished", fmt.Sprintf("run %s %s: %s", run.ID, status, reason), nil)
	if cancel != nil {
		cancel()
	}
}

// runLoop is the iteration cycle. It runs on its own goroutine; all
// suspension points watch ctx so cancellation always unblocks it.
func (o *Orchestrator) runLoop(ctx context.Context, s *session) {
	for {
		if err := o.gate(ctx, s); err != nil {
			o.finish(s, StatusCancelled, "run cancelled")
			return
		}

		o.mu.Lock()
		s.run.Iteration++
		iter := s.run.Iteration
		cfg := s.config
		run := s.run
		o.mu.Unlock()

		if bp, hit := o.breakpoints.ShouldBreak(debug.BreakContext{SessionID: s.id, Iteration: iter}); hit {
			o.pauseForBreakpoint(s, bp)
			if err := o.gate(ctx, s); err != nil {
				o.finish(s, StatusCancelled, "run cancelled")
				return
			}
		}

		llmStart := time.Now()
		resp, err := o.callModel(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				o.finish(s, StatusCancelled, "run cancelled")
				return
			}
			o.finish(s, StatusError, fmt.Sprintf("provider error: %v", err))
			return
		}

		o.recordStep(s, run, trace.NewLLMCallStep(run.Model, run.Provider,
			resp.Usage.InputTokens, resp.Usage.OutputTokens, llmStart, time.Now()))

		o.health.UpdateTokenUsage(s.id, health.TokenUsage{
			Input:  resp.Usage.InputTokens,
			Output: resp.Usage.OutputTokens,
		})

		o.mu.Lock()
		run.InputTokens = resp.Usage.InputTokens
		run.OutputTokens += resp.Usage.OutputTokens
		s.messages = append(s.messages, resp.Message)
		o.mu.Unlock()

		o.emitter.Emit(EventAssistantMessage, s.id, run.ID, map[string]interface{}{
			"text":          resp.Text(),
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		})
		o.emitHealth(s.id, run.ID)

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			o.mu.Lock()
			if len(s.followups) > 0 {
				next := s.followups[0]
				s.followups = s.followups[1:]
				s.messages = append(s.messages, llm.UserMessage(next))
				o.mu.Unlock()
				continue
			}
			o.mu.Unlock()
			o.finish(s, StatusCompleted, "model finished")
			return
		}

		loopHit := false
		for _, tc := range calls {
			call := tool.Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
			if ctx.Err() != nil {
				o.finish(s, StatusCancelled, "run cancelled")
				return
			}
			if bp, hit := o.breakpoints.ShouldBreak(debug.BreakContext{SessionID: s.id, ToolName: call.Name}); hit {
				o.pauseForBreakpoint(s, bp)
			}
			if err := o.gate(ctx, s); err != nil {
				o.finish(s, StatusCancelled, "run cancelled")
				return
			}

			if err := o.dispatchToolCall(ctx, s, run, call); err != nil {
				o.finish(s, StatusCancelled, "run cancelled")
				return
			}

			if cfg.EnableLoopDetection {
				o.mu.Lock()
				s.callSigs = appendSignature(s.callSigs, callSignature(call.Name, call.Arguments), cfg.LoopDetectionWindow)
				if detectLoop(s.callSigs, cfg.LoopDetectionWindow) {
					loopHit = true
				}
				o.mu.Unlock()
			}
		}

		o.health.UpdateIteration(s.id, iter)
		o.emitHealth(s.id, run.ID)

		if loopHit {
			warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.", cfg.LoopDetectionWindow)
			o.health.RecordLoopDetected(s.id, warning)
			o.recordStep(s, run, trace.NewDecisionStep(warning, time.Now()))
			o.mu.Lock()
			s.messages = append(s.messages, llm.UserMessage(warning))
			o.mu.Unlock()
			o.emitter.Emit(EventLoopDetection, s.id, run.ID, map[string]interface{}{
				"message": warning,
			})
		}

		o.drainSteering(s, run)

		if stop := o.health.ShouldStopRun(s.id); stop.Stop {
			o.recordStep(s, run, trace.NewErrorStep(stop.Reason, time.Now()))
			o.finish(s, StatusError, stop.Reason)
			return
		}

		if iter >= cfg.MaxIterations {
			o.finish(s, StatusCompleted, fmt.Sprintf("max iterations (%d) reached", cfg.MaxIterations))
			return
		}
	}
}

// callModel assembles the request from the session's discovered tool
// set and conversation, then invokes the provider with retry.
func (o *Orchestrator) callModel(ctx context.Context, s *session) (*llm.Response, error) {
	o.mu.Lock()
	cfg := s.config
	messages := make([]llm.Message, 0, len(s.messages)+1)
	if cfg.SystemPrompt != "" {
		messages = append(messages, llm.SystemMessage(cfg.SystemPrompt))
	}
	messages = append(messages, s.messages...)
	o.mu.Unlock()

	var defs []llm.ToolDefinition
	for _, desc := range o.discovery.ToolsForSession(s.id) {
		defs = append(defs, llm.ToolDefinition{
			Name:        desc.Name,
			Description: desc.Description,
			Parameters:  desc.Parameters,
		})
	}

	req := llm.Request{
		Model:      cfg.Model,
		Provider:   cfg.Provider,
		Messages:   messages,
		ToolDefs:   defs,
		ToolChoice: &llm.ToolChoice{Mode: "auto"},
	}
	if cfg.Temperature != 0 {
		req.Temperature = &cfg.Temperature
	}

	return llm.Retry(ctx, o.retry, func(ctx context.Context) (*llm.Response, error) {
		return o.client.Complete(ctx, req)
	})
}

// dispatchToolCall runs one tool call through the policy gate, the
// confirmation protocol, and execution. A rejected or failed call
// produces a failed tool result and the run continues; only
// cancellation returns an error.
func (o *Orchestrator) dispatchToolCall(ctx context.Context, s *session, run *Run, call tool.Call) error {
	o.recordStep(s, run, trace.NewToolCallStep(call.ID, call.Name, call.Arguments, time.Now()))
	o.emitter.Emit(EventToolCallStart, s.id, run.ID, map[string]interface{}{
		"call_id":   call.ID,
		"tool_name": call.Name,
	})

	desc, visible := o.discovery.Resolve(call.Name, s.id)
	if !visible {
		o.finishToolCall(s, run, call, false, fmt.Sprintf("Unknown tool: %s", call.Name), time.Now(), time.Now())
		return nil
	}

	decision, reason := o.policyGate(ctx, s, desc, call)
	switch decision {
	case policy.DecisionBlock:
		o.health.RecordComplianceViolation(s.id, fmt.Sprintf("tool call %s blocked: %s", call.Name, reason))
		o.finishToolCall(s, run, call, false, fmt.Sprintf("Tool call blocked by policy: %s", reason), time.Now(), time.Now())
		return nil
	case policy.DecisionRequireApproval:
		approved, feedback, err := o.awaitConfirmation(ctx, s, run, desc, call, reason)
		if err != nil {
			return err
		}
		if !approved {
			o.finishToolCall(s, run, call, false, fmt.Sprintf("Tool call rejected: %s", feedback), time.Now(), time.Now())
			return nil
		}
	}

	started := time.Now()
	result, err := desc.Execute(discovery.WithSession(ctx, s.id), call.Arguments)
	ended := time.Now()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.finishToolCall(s, run, call, false, fmt.Sprintf("Tool error (%s): %v", call.Name, err), started, ended)
		return nil
	}

	o.finishToolCall(s, run, call, result.Success, result.Output, started, ended)
	return nil
}

// policyGate decides how a call is gated. Without a policy engine the
// descriptor's own risk metadata decides; YOLO sessions auto-approve
// everything the policy does not block.
func (o *Orchestrator) policyGate(ctx context.Context, s *session, desc *tool.Descriptor, call tool.Call) (string, string) {
	decision := policy.DecisionAllow
	reason := ""

	if o.policy != nil {
		var args map[string]any
		_ = json.Unmarshal(call.Arguments, &args)
		d, err := o.policy.Evaluate(ctx, policy.Input{
			ToolName:         desc.Name,
			Category:         desc.Category,
			RiskLevel:        string(desc.RiskLevel),
			RequiresApproval: desc.RequiresApproval,
			SessionID:        s.id,
			Arguments:        args,
		})
		if err != nil {
			return policy.DecisionBlock, fmt.Sprintf("policy evaluation failed: %v", err)
		}
		decision = d
		reason = "policy decision"
	}

	if decision == policy.DecisionBlock {
		return decision, reason
	}
	if decision == policy.DecisionAllow && !desc.Safe() {
		decision = policy.DecisionRequireApproval
		reason = fmt.Sprintf("risk level %s", desc.RiskLevel)
	}

	o.mu.Lock()
	yolo := s.config.YOLO
	o.mu.Unlock()
	if yolo && decision == policy.DecisionRequireApproval {
		decision = policy.DecisionAllow
	}
	return decision, reason
}

// awaitConfirmation suspends the run until the operator decides. The
// suspension may last indefinitely; cancellation unblocks it.
func (o *Orchestrator) awaitConfirmation(ctx context.Context, s *session, run *Run, desc *tool.Descriptor, call tool.Call, reason string) (bool, string, error) {
	pending := &pendingConfirmation{
		req: ConfirmationRequest{
			ID:          uuid.New().String(),
			SessionID:   s.id,
			RunID:       run.ID,
			Call:        call,
			RiskLevel:   desc.RiskLevel,
			Reason:      reason,
			RequestedAt: time.Now(),
		},
		decision: make(chan confirmationDecision, 1),
	}

	o.mu.Lock()
	o.pending[pending.req.ID] = pending
	o.setStatusLocked(s, StatusAwaitingConfirmation, "")
	o.mu.Unlock()

	o.emitter.Emit(EventConfirmationRequested, s.id, run.ID, map[string]interface{}{
		"request_id": pending.req.ID,
		"tool_name":  call.Name,
		"call_id":    call.ID,
		"risk_level": string(desc.RiskLevel),
		"reason":     reason,
	})
	o.record(s.id, "confirmation-requested", fmt.Sprintf("awaiting approval for %s", call.Name), nil)

	var d confirmationDecision
	select {
	case d = <-pending.decision:
	case <-ctx.Done():
		o.mu.Lock()
		delete(o.pending, pending.req.ID)
		o.mu.Unlock()
		return false, "", ctx.Err()
	}

	o.mu.Lock()
	if !s.run.Status.Terminal() {
		o.setStatusLocked(s, StatusRunning, "")
	}
	o.mu.Unlock()

	o.emitter.Emit(EventConfirmationResolved, s.id, run.ID, map[string]interface{}{
		"request_id": pending.req.ID,
		"approved":   d.approved,
		"reason":     d.reason,
	})
	o.record(s.id, "confirmation-resolved", fmt.Sprintf("%s approved=%v", call.Name, d.approved), nil)
	return d.approved, d.reason, nil
}

// finishToolCall truncates the output, appends the tool result to the
// conversation, and records the tool-result step.
func (o *Orchestrator) finishToolCall(s *session, run *Run, call tool.Call, success bool, output string, started, ended time.Time) {
	truncated := o.limits.Truncate(output, call.Name)

	o.mu.Lock()
	s.messages = append(s.messages, llm.ToolResultMessage(call.ID, truncated, !success))
	o.mu.Unlock()

	o.recordStep(s, run, trace.NewToolResultStep(call.ID, call.Name, success, tool.Preview(output), started, ended))

	rec := tool.NewCallRecord(call, &tool.Result{Success: success, Output: output}, ended.Sub(started))
	o.record(s.id, "tool-call", fmt.Sprintf("%s success=%v", rec.Name, rec.Success), map[string]any{
		"call_id":        rec.CallID,
		"output_preview": rec.OutputPreview,
		"duration_ms":    rec.Duration.Milliseconds(),
	})

	o.emitter.Emit(EventToolCallEnd, s.id, run.ID, map[string]interface{}{
		"call_id":   call.ID,
		"tool_name": call.Name,
		"success":   success,
		"output":    output, // full untruncated output for the host
		"duration":  ended.Sub(started).String(),
	})
}

func (o *Orchestrator) pauseForBreakpoint(s *session, bp debug.Breakpoint) {
	o.mu.Lock()
	s.paused = true
	runID := ""
	if s.run != nil {
		runID = s.run.ID
	}
	o.mu.Unlock()

	o.emitter.Emit(EventBreakpointHit, s.id, runID, map[string]interface{}{
		"breakpoint_id": bp.ID,
		"type":          string(bp.Type),
	})
	o.record(s.id, "breakpoint-hit", fmt.Sprintf("breakpoint %s (%s)", bp.ID, bp.Type), nil)
}

// drainSteering injects queued steering messages into the
// conversation.
func (o *Orchestrator) drainSteering(s *session, run *Run) {
	o.mu.Lock()
	queued := s.steering
	s.steering = nil
	for _, msg := range queued {
		s.messages = append(s.messages, llm.UserMessage(msg))
	}
	o.mu.Unlock()

	for _, msg := range queued {
		o.emitter.Emit(EventSteeringInjected, s.id, run.ID, map[string]interface{}{
			"content": msg,
		})
	}
}

// recordStep appends a step to the run's trace and mirrors it on the
// event channel.
func (o *Orchestrator) recordStep(s *session, run *Run, step trace.Step) {
	if err := o.tracer.RecordStep(run.TraceID, step); err != nil {
		return
	}
	o.emitter.Emit(EventTraceStepRecorded, s.id, run.ID, map[string]interface{}{
		"step_type": string(step.Type),
	})
}

func (o *Orchestrator) emitHealth(sessionID, runID string) {
	status, ok := o.health.GetHealthStatus(sessionID)
	if !ok {
		return
	}
	o.emitter.Emit(EventSessionHealthUpdate, sessionID, runID, map[string]interface{}{
		"score": status.Score,
		"state": string(status.State),
	})
}

func (o *Orchestrator) record(sessionID, kind, summary string, detail map[string]any) {
	o.recorder.Record(sessionID, kind, summary, detail)
}
