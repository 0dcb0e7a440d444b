package health

import (
	"fmt"
	"sync"
	"time"
)

// Monitor tracks per-session counters and anomaly issues. All state is
// keyed by session id; sessions never share state and are torn down with
// StopMonitoring.
type Monitor struct {
	cfg      Config
	sessions map[string]*sessionState
	mu       sync.Mutex
	now      func() time.Time
}

type sessionState struct {
	runID            string
	provider         string
	model            string
	maxIterations    int
	maxContextTokens int

	iteration    int
	inputTokens  int // replaced on every update: current context occupancy
	outputTokens int // accumulates monotonically

	lastIterationAt    time.Time
	lastActivityAt     time.Time
	iterationDurations []time.Duration

	runEnded bool

	issues []Issue
}

// NewMonitor creates a Monitor. Zero fields in cfg fall back to defaults.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*sessionState),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests use this to step through
// dedup and stop windows deterministically.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// UpdateConfig swaps the monitor's thresholds. Existing sessions pick
// up the new values on their next update.
func (m *Monitor) UpdateConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.withDefaults()
}

// StartMonitoring initializes counters for a session's run. Calling it
// again for the same session resets the counters for the new run.
func (m *Monitor) StartMonitoring(sessionID, runID, provider, modelID string, maxIterations, maxContextTokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = &sessionState{
		runID:            runID,
		provider:         provider,
		model:            modelID,
		maxIterations:    maxIterations,
		maxContextTokens: maxContextTokens,
		lastActivityAt:   m.now(),
	}
}

// EndRun marks a session's run finished. Counters and issue history stay
// queryable for inspection, but the session drops out of the stall sweep
// and ShouldStopRun no longer fires for it.
func (m *Monitor) EndRun(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.runEnded = true
	}
}

// StopMonitoring releases all state for a session.
func (m *Monitor) StopMonitoring(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// UpdateIteration records an iteration boundary. It measures the latency
// since the previous iteration and raises slow-response and
// approaching-limit issues as thresholds are crossed.
func (m *Monitor) UpdateIteration(sessionID string, iteration int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}

	now := m.now()
	if !s.lastIterationAt.IsZero() {
		latency := now.Sub(s.lastIterationAt)
		s.iterationDurations = append(s.iterationDurations, latency)
		if latency > m.cfg.SlowResponseThreshold {
			m.addIssue(s, Issue{
				Type:     IssueSlowResponse,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("iteration %d took %s, above the %s threshold", iteration, latency.Round(time.Millisecond), m.cfg.SlowResponseThreshold),
				Context:  map[string]interface{}{"latency_ms": latency.Milliseconds()},
			})
		}
	}
	s.iteration = iteration
	s.lastIterationAt = now
	s.lastActivityAt = now

	if s.maxIterations > 0 {
		progress := float64(iteration) / float64(s.maxIterations)
		switch {
		case progress >= m.cfg.IterationErrRatio:
			m.addIssue(s, Issue{
				Type:     IssueApproachingLimit,
				Severity: SeverityError,
				Message:  fmt.Sprintf("iteration %d of %d (%.0f%% of limit)", iteration, s.maxIterations, progress*100),
				Context:  map[string]interface{}{"progress": progress},
			})
		case progress >= m.cfg.IterationWarnRatio:
			m.addIssue(s, Issue{
				Type:     IssueApproachingLimit,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("iteration %d of %d (%.0f%% of limit)", iteration, s.maxIterations, progress*100),
				Context:  map[string]interface{}{"progress": progress},
			})
		}
	}
}

// UpdateTokenUsage records one provider call's token counts. Input tokens
// replace the previous value because they represent the full current
// context; output tokens accumulate.
func (m *Monitor) UpdateTokenUsage(sessionID string, usage TokenUsage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}

	s.inputTokens = usage.Input
	s.outputTokens += usage.Output
	s.lastActivityAt = m.now()

	if s.maxContextTokens <= 0 {
		return
	}
	util := float64(s.inputTokens) / float64(s.maxContextTokens)
	switch {
	case util >= m.cfg.TokenErrorRatio:
		m.addIssue(s, Issue{
			Type:     IssueHighTokenUsage,
			Severity: SeverityError,
			Message:  fmt.Sprintf("context at %.0f%% of %d tokens", util*100, s.maxContextTokens),
			Context:  map[string]interface{}{"utilization": util},
		})
	case util >= m.cfg.TokenWarnRatio:
		m.addIssue(s, Issue{
			Type:     IssueHighTokenUsage,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("context at %.0f%% of %d tokens", util*100, s.maxContextTokens),
			Context:  map[string]interface{}{"utilization": util},
		})
	}
}

// RecordLoopDetected reports a detected tool-call loop for a session.
func (m *Monitor) RecordLoopDetected(sessionID, message string) {
	m.record(sessionID, IssueLoopDetected, SeverityError, message, nil)
}

// RecordComplianceViolation reports a policy or instruction violation.
func (m *Monitor) RecordComplianceViolation(sessionID, message string) {
	m.record(sessionID, IssueComplianceViolation, SeverityError, message, nil)
}

func (m *Monitor) record(sessionID string, typ IssueType, sev Severity, message string, ctx map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	s.lastActivityAt = m.now()
	m.addIssue(s, Issue{Type: typ, Severity: sev, Message: message, Context: ctx})
}

// addIssue appends an issue unless an issue of the same type exists within
// the dedup window. The retained list is capped, dropping oldest first.
// Caller holds m.mu.
func (m *Monitor) addIssue(s *sessionState, issue Issue) {
	now := m.now()
	for i := len(s.issues) - 1; i >= 0; i-- {
		if s.issues[i].Type != issue.Type {
			continue
		}
		if now.Sub(s.issues[i].DetectedAt) < m.cfg.DedupWindow {
			return
		}
		break
	}

	issue.DetectedAt = now
	s.issues = append(s.issues, issue)
	if len(s.issues) > m.cfg.MaxIssuesPerSession {
		s.issues = s.issues[len(s.issues)-m.cfg.MaxIssuesPerSession:]
	}
}

// CheckForStalls sweeps all sessions and raises a stalled issue for any
// idle beyond the stall timeout. It returns the stalled session ids so
// the caller can act. Detection is soft: the orchestrator, not the
// monitor, performs any termination.
func (m *Monitor) CheckForStalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var stalled []string
	for sessionID, s := range m.sessions {
		if s.runEnded {
			continue
		}
		idle := now.Sub(s.lastActivityAt)
		if idle < m.cfg.StallTimeout {
			continue
		}
		m.addIssue(s, Issue{
			Type:     IssueStalled,
			Severity: SeverityError,
			Message:  fmt.Sprintf("no activity for %s (stall timeout %s)", idle.Round(time.Second), m.cfg.StallTimeout),
			Context:  map[string]interface{}{"idle_ms": idle.Milliseconds()},
		})
		stalled = append(stalled, sessionID)
	}
	return stalled
}

// TokenTotals returns the current input-token snapshot and accumulated
// output tokens for a session.
func (m *Monitor) TokenTotals(sessionID string) (input, output int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, found := m.sessions[sessionID]
	if !found {
		return 0, 0, false
	}
	return s.inputTokens, s.outputTokens, true
}

// Issues returns a copy of the retained issue list for a session.
func (m *Monitor) Issues(sessionID string) []Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Issue, len(s.issues))
	copy(out, s.issues)
	return out
}

// GetHealthStatus computes the 0-100 score and overall state for a
// session.
func (m *Monitor) GetHealthStatus(sessionID string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Status{}, false
	}

	now := m.now()
	w := m.cfg.Weights
	score := 100

	if s.maxIterations > 0 {
		progress := float64(s.iteration) / float64(s.maxIterations)
		switch {
		case progress > 0.9:
			score -= w.IterationHigh
		case progress > 0.7:
			score -= w.IterationMid
		case progress > 0.5:
			score -= w.IterationLow
		}
	}

	if s.maxContextTokens > 0 {
		util := float64(s.inputTokens) / float64(s.maxContextTokens)
		switch {
		case util > 0.9:
			score -= w.TokenHigh
		case util > 0.7:
			score -= w.TokenMid
		}
	}

	hasError, hasWarning := false, false
	for _, issue := range s.issues {
		switch issue.Severity {
		case SeverityError:
			hasError = true
		case SeverityWarning:
			hasWarning = true
		}
		if now.Sub(issue.DetectedAt) > m.cfg.IssueScoreWindow {
			continue
		}
		switch issue.Severity {
		case SeverityError:
			score -= w.ErrorIssue
		case SeverityWarning:
			score -= w.WarningIssue
		}
	}

	if avg := averageDuration(s.iterationDurations); avg > m.cfg.SlowResponseThreshold {
		score -= w.SlowAverage
	}

	if score < 0 {
		score = 0
	}

	state := StateHealthy
	switch {
	case hasError:
		state = StateCritical
	case hasWarning || score < 70:
		state = StateWarning
	}

	issues := make([]Issue, len(s.issues))
	copy(issues, s.issues)
	return Status{SessionID: sessionID, Score: score, State: state, Issues: issues}, true
}

// ShouldStopRun is the authoritative abort decision for a session's run:
// stop on repeated loop detections, runaway token growth past the context
// window, or a recent stall.
func (m *Monitor) ShouldStopRun(sessionID string) StopDecision {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.runEnded {
		return StopDecision{}
	}

	now := m.now()

	loopCount := 0
	for _, issue := range s.issues {
		if issue.Type == IssueLoopDetected && issue.Severity == SeverityError &&
			now.Sub(issue.DetectedAt) <= m.cfg.LoopStopWindow {
			loopCount++
		}
	}
	if loopCount >= m.cfg.LoopStopCount {
		return StopDecision{
			Stop:   true,
			Reason: fmt.Sprintf("loop detected %d times in the last %s", loopCount, m.cfg.LoopStopWindow),
		}
	}

	if s.maxContextTokens > 0 {
		util := float64(s.inputTokens) / float64(s.maxContextTokens)
		if util > m.cfg.RunawayTokenRatio {
			return StopDecision{
				Stop:   true,
				Reason: fmt.Sprintf("token usage at %.0f%% of context window exceeds the %.0f%% runaway limit", util*100, m.cfg.RunawayTokenRatio*100),
			}
		}
	}

	for i := len(s.issues) - 1; i >= 0; i-- {
		issue := s.issues[i]
		if issue.Type == IssueStalled && now.Sub(issue.DetectedAt) <= m.cfg.StallTimeout {
			return StopDecision{
				Stop:   true,
				Reason: fmt.Sprintf("session stalled: %s", issue.Message),
			}
		}
	}

	return StopDecision{}
}

func averageDuration(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total / time.Duration(len(ds))
}
