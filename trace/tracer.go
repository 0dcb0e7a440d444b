package trace

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a trace.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Metrics aggregates a trace, derived by folding over its steps. After a
// trace closes, the snapshot is frozen and never recomputed.
type Metrics struct {
	TotalSteps        int            `json:"total_steps"`
	LLMCalls          int            `json:"llm_calls"`
	ToolCalls         int            `json:"tool_calls"`
	ToolSuccesses     int            `json:"tool_successes"`
	ToolFailures      int            `json:"tool_failures"`
	Errors            int            `json:"errors"`
	TotalInputTokens  int            `json:"total_input_tokens"`
	TotalOutputTokens int            `json:"total_output_tokens"`
	AvgLLMDuration    time.Duration  `json:"avg_llm_duration"`
	AvgToolDuration   time.Duration  `json:"avg_tool_duration"`
	ToolUsage         map[string]int `json:"tool_usage"`
}

// Trace is the ordered record of one run's execution.
type Trace struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	RunID         string    `json:"run_id"`
	Status        Status    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Steps         []Step    `json:"steps"`
	Metrics       *Metrics  `json:"metrics,omitempty"`
}

// Tracer owns all traces, keyed by trace id.
type Tracer struct {
	traces map[string]*Trace
	byRun  map[string]string
	mu     sync.Mutex
	now    func() time.Time
}

// NewTracer creates an empty Tracer.
func NewTracer() *Tracer {
	return &Tracer{
		traces: make(map[string]*Trace),
		byRun:  make(map[string]string),
		now:    time.Now,
	}
}

// StartTrace opens a trace in running status and returns its id.
func (t *Tracer) StartTrace(sessionID, runID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr := &Trace{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		RunID:     runID,
		Status:    StatusRunning,
		StartedAt: t.now(),
	}
	t.traces[tr.ID] = tr
	t.byRun[runID] = tr.ID
	return tr.ID
}

// RecordStep appends an immutable step to a running trace.
func (t *Tracer) RecordStep(traceID string, step Step) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.traces[traceID]
	if !ok {
		return fmt.Errorf("trace %s not found", traceID)
	}
	if tr.Status != StatusRunning {
		return fmt.Errorf("trace %s is %s; steps can only be recorded while running", traceID, tr.Status)
	}
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	if step.StartedAt.IsZero() {
		step.StartedAt = t.now()
	}
	if step.EndedAt.IsZero() {
		step.EndedAt = step.StartedAt
	}
	tr.Steps = append(tr.Steps, step)
	return nil
}

// CompleteTrace closes a trace successfully and freezes its metrics.
func (t *Tracer) CompleteTrace(traceID string) error {
	return t.close(traceID, StatusCompleted, "")
}

// FailTrace closes a trace as failed, recording the reason, and freezes
// its metrics.
func (t *Tracer) FailTrace(traceID, reason string) error {
	return t.close(traceID, StatusFailed, reason)
}

func (t *Tracer) close(traceID string, status Status, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.traces[traceID]
	if !ok {
		return fmt.Errorf("trace %s not found", traceID)
	}
	if tr.Status != StatusRunning {
		return fmt.Errorf("trace %s already closed as %s", traceID, tr.Status)
	}
	tr.Status = status
	tr.EndedAt = t.now()
	tr.FailureReason = reason
	m := computeMetrics(tr.Steps)
	tr.Metrics = &m
	return nil
}

// Get returns a copy of a trace. For a running trace the metrics in the
// copy are derived on the fly; the frozen snapshot of a closed trace is
// returned as stored.
func (t *Tracer) Get(traceID string) (Trace, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.traces[traceID]
	if !ok {
		return Trace{}, false
	}
	return t.snapshot(tr), true
}

// TraceForRun returns the trace opened for a run id.
func (t *Tracer) TraceForRun(runID string) (Trace, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	traceID, ok := t.byRun[runID]
	if !ok {
		return Trace{}, false
	}
	tr, ok := t.traces[traceID]
	if !ok {
		return Trace{}, false
	}
	return t.snapshot(tr), true
}

// Release drops a stored trace.
func (t *Tracer) Release(traceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.traces[traceID]; ok {
		delete(t.byRun, tr.RunID)
		delete(t.traces, traceID)
	}
}

// snapshot copies a trace. Caller holds t.mu.
func (t *Tracer) snapshot(tr *Trace) Trace {
	out := *tr
	out.Steps = make([]Step, len(tr.Steps))
	copy(out.Steps, tr.Steps)
	if tr.Metrics != nil {
		m := *tr.Metrics
		m.ToolUsage = copyUsage(tr.Metrics.ToolUsage)
		out.Metrics = &m
	} else {
		m := computeMetrics(tr.Steps)
		out.Metrics = &m
	}
	return out
}

func copyUsage(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func computeMetrics(steps []Step) Metrics {
	m := Metrics{ToolUsage: make(map[string]int)}
	var llmTotal, toolTotal time.Duration
	llmCount, toolResultCount := 0, 0

	for _, step := range steps {
		m.TotalSteps++
		switch step.Type {
		case StepLLMCall:
			m.LLMCalls++
			m.TotalInputTokens += step.InputTokens
			m.TotalOutputTokens += step.OutputTokens
			llmTotal += step.Duration()
			llmCount++
		case StepToolCall:
			m.ToolCalls++
			m.ToolUsage[step.ToolName]++
		case StepToolResult:
			if step.Success {
				m.ToolSuccesses++
			} else {
				m.ToolFailures++
			}
			toolTotal += step.Duration()
			toolResultCount++
		case StepError:
			m.Errors++
		}
	}

	if llmCount > 0 {
		m.AvgLLMDuration = llmTotal / time.Duration(llmCount)
	}
	if toolResultCount > 0 {
		m.AvgToolDuration = toolTotal / time.Duration(toolResultCount)
	}
	return m
}
