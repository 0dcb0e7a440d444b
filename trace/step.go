// Package trace records structured execution traces for agent runs: an
// ordered sequence of immutable steps plus aggregate metrics derived by
// folding over them.
package trace

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StepType identifies the kind of trace step. The set is closed.
type StepType string

const (
	StepLLMCall    StepType = "llm-call"
	StepToolCall   StepType = "tool-call"
	StepToolResult StepType = "tool-result"
	StepDecision   StepType = "decision"
	StepError      StepType = "error"
)

// Step is one entry in a trace. Once appended it is never mutated;
// corrections happen via new steps. Each type carries only the fields
// relevant to it.
type Step struct {
	ID        string    `json:"id"`
	Type      StepType  `json:"type"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	// llm-call
	Model        string `json:"model,omitempty"`
	Provider     string `json:"provider,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`

	// tool-call / tool-result
	ToolName  string          `json:"tool_name,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Success   bool            `json:"success,omitempty"`
	Output    string          `json:"output,omitempty"`

	// decision / error
	Message string `json:"message,omitempty"`
}

// Duration returns the step's elapsed time.
func (s Step) Duration() time.Duration {
	if s.EndedAt.IsZero() || s.StartedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// NewLLMCallStep builds an llm-call step.
func NewLLMCallStep(model, provider string, inputTokens, outputTokens int, started, ended time.Time) Step {
	return Step{
		ID:           uuid.New().String(),
		Type:         StepLLMCall,
		StartedAt:    started,
		EndedAt:      ended,
		Model:        model,
		Provider:     provider,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}
}

// NewToolCallStep builds a tool-call step.
func NewToolCallStep(callID, toolName string, arguments json.RawMessage, at time.Time) Step {
	return Step{
		ID:        uuid.New().String(),
		Type:      StepToolCall,
		StartedAt: at,
		EndedAt:   at,
		CallID:    callID,
		ToolName:  toolName,
		Arguments: arguments,
	}
}

// NewToolResultStep builds a tool-result step.
func NewToolResultStep(callID, toolName string, success bool, output string, started, ended time.Time) Step {
	return Step{
		ID:        uuid.New().String(),
		Type:      StepToolResult,
		StartedAt: started,
		EndedAt:   ended,
		CallID:    callID,
		ToolName:  toolName,
		Success:   success,
		Output:    output,
	}
}

// NewDecisionStep builds a decision step.
func NewDecisionStep(message string, at time.Time) Step {
	return Step{
		ID:        uuid.New().String(),
		Type:      StepDecision,
		StartedAt: at,
		EndedAt:   at,
		Message:   message,
	}
}

// NewErrorStep builds an error step.
func NewErrorStep(message string, at time.Time) Step {
	return Step{
		ID:        uuid.New().String(),
		Type:      StepError,
		StartedAt: at,
		EndedAt:   at,
		Message:   message,
	}
}
