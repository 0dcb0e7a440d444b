// Package tool defines the boundary between the agent core and the
// external tool layer: descriptors the model can see, calls the model
// emits, and results the tool layer produces.
package tool

import (
	"context"
	"encoding/json"
	"time"
)

// RiskLevel classifies how dangerous a tool's side effects are.
type RiskLevel string

const (
	RiskSafe   RiskLevel = "safe"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Result is produced by executing a tool.
type Result struct {
	Success  bool                   `json:"success"`
	Output   string                 `json:"output"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ExecuteFunc runs a tool against its external implementation. Arguments are
// the model-produced payload, opaque to the core.
type ExecuteFunc func(ctx context.Context, arguments json.RawMessage) (*Result, error)

// Descriptor describes a tool exposed by the external tool layer.
// The core never inspects Execute beyond invoking it.
type Descriptor struct {
	Name             string                 `json:"name"`
	Description      string                 `json:"description"`
	Category         string                 `json:"category,omitempty"`
	RiskLevel        RiskLevel              `json:"risk_level"`
	RequiresApproval bool                   `json:"requires_approval"`
	Deferred         bool                   `json:"deferred"`
	SearchKeywords   []string               `json:"search_keywords,omitempty"`
	Parameters       map[string]interface{} `json:"parameters,omitempty"`
	Execute          ExecuteFunc            `json:"-"`
}

// Safe reports whether a call to this tool may run without confirmation.
func (d *Descriptor) Safe() bool {
	return d.RiskLevel == RiskSafe && !d.RequiresApproval
}

// Call is a structured action request emitted by the model.
type Call struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CallRecord is the immutable record of a dispatched call, kept for
// traces and replay. OutputPreview is bounded; the full output flows
// through the event stream.
type CallRecord struct {
	CallID        string        `json:"call_id"`
	Name          string        `json:"name"`
	Success       bool          `json:"success"`
	OutputPreview string        `json:"output_preview"`
	Duration      time.Duration `json:"duration"`
}

const outputPreviewLimit = 500

// NewCallRecord builds a CallRecord from a call and its result.
func NewCallRecord(call Call, result *Result, duration time.Duration) CallRecord {
	rec := CallRecord{
		CallID:   call.ID,
		Name:     call.Name,
		Duration: duration,
	}
	if result != nil {
		rec.Success = result.Success
		rec.OutputPreview = Preview(result.Output)
	}
	return rec
}

// Preview bounds a tool output string for storage in records and traces.
func Preview(output string) string {
	if len(output) <= outputPreviewLimit {
		return output
	}
	return output[:outputPreviewLimit] + "..."
}
