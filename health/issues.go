// Package health monitors active sessions for anomalies: loops, stalls,
// runaway token growth, slow responses, and compliance violations. It
// scores each session 0-100 and owns the authoritative stop/continue
// decision for a run.
package health

import "time"

// IssueType identifies the kind of detected anomaly.
type IssueType string

const (
	IssueLoopDetected        IssueType = "loop-detected"
	IssueHighTokenUsage      IssueType = "high-token-usage"
	IssueSlowResponse        IssueType = "slow-response"
	IssueComplianceViolation IssueType = "compliance-violation"
	IssueApproachingLimit    IssueType = "approaching-limit"
	IssueStalled             IssueType = "stalled"
)

// Severity grades an issue.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is a detected anomaly. Once created it is immutable; only its
// membership in the retained window changes.
type Issue struct {
	Type       IssueType              `json:"type"`
	Severity   Severity               `json:"severity"`
	Message    string                 `json:"message"`
	DetectedAt time.Time              `json:"detected_at"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// TokenUsage carries one provider call's token counts. Input reflects the
// current full context size, not a delta.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// StopDecision is the result of ShouldStopRun. Reason names the rule that
// triggered so the operator can diagnose without inspecting internals.
type StopDecision struct {
	Stop   bool   `json:"stop"`
	Reason string `json:"reason,omitempty"`
}

// State summarizes overall session health.
type State string

const (
	StateHealthy  State = "healthy"
	StateWarning  State = "warning"
	StateCritical State = "critical"
)

// Status is a point-in-time health report for a session.
type Status struct {
	SessionID string  `json:"session_id"`
	Score     int     `json:"score"`
	State     State   `json:"state"`
	Issues    []Issue `json:"issues"`
}
