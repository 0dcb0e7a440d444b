package agent

import (
	"sync"
	"time"
)

// EventKind identifies the type of lifecycle event.
type EventKind string

const (
	EventRunStatusChanged      EventKind = "run-status-changed"
	EventConfirmationRequested EventKind = "confirmation-requested"
	EventConfirmationResolved  EventKind = "confirmation-resolved"
	EventSessionHealthUpdate   EventKind = "session-health-update"
	EventTraceStepRecorded     EventKind = "trace-step-recorded"
	EventAssistantMessage      EventKind = "assistant-message"
	EventToolCallStart         EventKind = "tool-call-start"
	EventToolCallEnd           EventKind = "tool-call-end"
	EventSteeringInjected      EventKind = "steering-injected"
	EventBreakpointHit         EventKind = "breakpoint-hit"
	EventLoopDetection         EventKind = "loop-detection"
	EventWarning               EventKind = "warning"
	EventError                 EventKind = "error"
)

// Event is a typed lifecycle event delivered to the host application.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id,omitempty"`
	RunID     string                 `json:"run_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Emitter delivers events to the host via a buffered channel. It is
// created with the orchestrator; emission is part of the construction
// contract, not a late-bound callback.
type Emitter struct {
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

// NewEmitter creates an Emitter with a buffered channel.
func NewEmitter(bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{ch: make(chan Event, bufferSize)}
}

// Emit sends an event. If the channel is full the event is dropped so
// the run loop never blocks on a slow consumer; a closed emitter drops
// silently.
func (e *Emitter) Emit(kind EventKind, sessionID, runID string, data map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: sessionID,
		RunID:     runID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
