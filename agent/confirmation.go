package agent

import (
	"fmt"
	"time"

	"github.com/vyotiq-ai/vyotiq-agent-sub016/tool"
)

// ConfirmationRequest asks the operator to approve or reject a pending
// tool call. The run stays suspended until a decision arrives or the
// run is cancelled.
type ConfirmationRequest struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	RunID       string         `json:"run_id"`
	Call        tool.Call      `json:"call"`
	RiskLevel   tool.RiskLevel `json:"risk_level"`
	Reason      string         `json:"reason"`
	RequestedAt time.Time      `json:"requested_at"`
}

type confirmationDecision struct {
	approved bool
	reason   string
}

type pendingConfirmation struct {
	req      ConfirmationRequest
	decision chan confirmationDecision
}

// Confirm approves a pending tool call.
func (o *Orchestrator) Confirm(requestID string) error {
	return o.decide(requestID, confirmationDecision{approved: true})
}

// Reject declines a pending tool call. The reason is folded back into
// the conversation as feedback; the run continues.
func (o *Orchestrator) Reject(requestID, reason string) error {
	if reason == "" {
		reason = "rejected by operator"
	}
	return o.decide(requestID, confirmationDecision{reason: reason})
}

func (o *Orchestrator) decide(requestID string, d confirmationDecision) error {
	o.mu.Lock()
	pending, ok := o.pending[requestID]
	if ok {
		delete(o.pending, requestID)
	}
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending confirmation %s", requestID)
	}
	pending.decision <- d
	return nil
}

// PendingConfirmations returns the open confirmation requests for a
// session, or all of them when sessionID is empty.
func (o *Orchestrator) PendingConfirmations(sessionID string) []ConfirmationRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []ConfirmationRequest
	for _, p := range o.pending {
		if sessionID == "" || p.req.SessionID == sessionID {
			out = append(out, p.req)
		}
	}
	return out
}

// rejectPending rejects every open confirmation for a session. Caller
// holds o.mu.
func (o *Orchestrator) rejectPending(sessionID, reason string) {
	for id, p := range o.pending {
		if p.req.SessionID != sessionID {
			continue
		}
		delete(o.pending, id)
		select {
		case p.decision <- confirmationDecision{reason: reason}:
		default:
		}
	}
}
