package agent

import (
	"time"

	"github.com/vyotiq-ai/vyotiq-agent-sub016/llm"
)

// Status is the lifecycle state of a session's active run. A session
// with no run in flight is idle.
type Status string

const (
	StatusIdle                 Status = "idle"
	StatusRunning              Status = "running"
	StatusPaused               Status = "paused"
	StatusAwaitingConfirmation Status = "awaiting-confirmation"
	StatusCompleted            Status = "completed"
	StatusError                Status = "error"
	StatusCancelled            Status = "cancelled"
)

// Terminal reports whether the status ends a run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// SessionConfig holds per-session configuration.
type SessionConfig struct {
	Provider            string  `json:"provider,omitempty"`
	Model               string  `json:"model"`
	MaxIterations       int     `json:"max_iterations"`
	MaxContextTokens    int     `json:"max_context_tokens"` // 0 = derive from model catalog
	Temperature         float64 `json:"temperature,omitempty"`
	YOLO                bool    `json:"yolo"` // auto-approve every tool call
	SystemPrompt        string  `json:"system_prompt,omitempty"`
	EnableLoopDetection bool    `json:"enable_loop_detection"`
	LoopDetectionWindow int     `json:"loop_detection_window"`
}

// DefaultSessionConfig returns the baseline configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:               "claude-sonnet-4-5",
		MaxIterations:       50,
		EnableLoopDetection: true,
		LoopDetectionWindow: 10,
	}
}

// Run is one execution of the agent loop within a session.
type Run struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at,omitempty"`
	Iteration        int       `json:"iteration"`
	MaxIterations    int       `json:"max_iterations"`
	InputTokens      int       `json:"input_tokens"` // latest context snapshot
	OutputTokens     int       `json:"output_tokens"`
	MaxContextTokens int       `json:"max_context_tokens"`
	Status           Status    `json:"status"`
	TraceID          string    `json:"trace_id"`
	StopReason       string    `json:"stop_reason,omitempty"`
}

// session is the orchestrator-internal session record. All access goes
// through the orchestrator, which serializes mutation per session.
type session struct {
	id        string
	config    SessionConfig
	messages  []llm.Message
	run       *Run // active or most recently finished
	createdAt time.Time

	// recent tool-call signatures for loop detection
	callSigs []string

	steering  []string
	followups []string

	// pause gate, manipulated under the orchestrator's session lock
	paused     bool
	stepBudget int
	resumeCh   chan struct{}

	cancelRun func()
}

// SessionView is the host-facing snapshot of a session.
type SessionView struct {
	ID        string        `json:"id"`
	Status    Status        `json:"status"`
	Config    SessionConfig `json:"config"`
	CreatedAt time.Time     `json:"created_at"`
	Messages  []llm.Message `json:"messages"`
	Run       *Run          `json:"run,omitempty"`
}

func (s *session) status() Status {
	if s.run == nil {
		return StatusIdle
	}
	return s.run.Status
}

func (s *session) view() SessionView {
	v := SessionView{
		ID:        s.id,
		Status:    s.status(),
		Config:    s.config,
		CreatedAt: s.createdAt,
		Messages:  make([]llm.Message, len(s.messages)),
	}
	copy(v.Messages, s.messages)
	if s.run != nil {
		run := *s.run
		v.Run = &run
	}
	return v
}
