// Package debug provides the interactive debugging surface for agent
// runs: breakpoints that suspend execution before a matching action,
// a timestamped entry recorder for replay, and state snapshots with
// diffing for inspection.
package debug

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// BreakpointType selects what a breakpoint matches against.
type BreakpointType string

const (
	BreakOnTool      BreakpointType = "tool"
	BreakOnError     BreakpointType = "error"
	BreakOnIteration BreakpointType = "iteration"
)

// Breakpoint suspends a run before a matching action. ToolName is only
// meaningful for tool breakpoints, Iteration only for iteration ones.
type Breakpoint struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Type      BreakpointType `json:"type"`
	Enabled   bool           `json:"enabled"`
	ToolName  string         `json:"tool_name,omitempty"`
	Iteration int            `json:"iteration,omitempty"`
}

// BreakContext describes the action the orchestrator is about to take.
// Exactly one aspect is usually relevant per check.
type BreakContext struct {
	SessionID    string
	ToolName     string
	Iteration    int
	PendingError bool
}

// Evaluator owns per-session breakpoint sets.
type Evaluator struct {
	sessions map[string]map[string]*Breakpoint
	mu       sync.RWMutex
}

func NewEvaluator() *Evaluator {
	return &Evaluator{sessions: make(map[string]map[string]*Breakpoint)}
}

// Set stores a breakpoint for a session and returns its assigned id.
// New breakpoints start enabled unless the definition says otherwise.
func (e *Evaluator) Set(sessionID string, bp Breakpoint) Breakpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	if bp.ID == "" {
		bp.ID = uuid.New().String()
		bp.Enabled = true
	}
	bp.SessionID = sessionID
	set, ok := e.sessions[sessionID]
	if !ok {
		set = make(map[string]*Breakpoint)
		e.sessions[sessionID] = set
	}
	stored := bp
	set[bp.ID] = &stored
	return bp
}

// Toggle flips a breakpoint's enabled flag. Returns false if the id is
// unknown.
func (e *Evaluator) Toggle(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, set := range e.sessions {
		if bp, ok := set[id]; ok {
			bp.Enabled = !bp.Enabled
			return true
		}
	}
	return false
}

// Remove deletes a breakpoint by id.
func (e *Evaluator) Remove(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for sessionID, set := range e.sessions {
		if _, ok := set[id]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(e.sessions, sessionID)
			}
			return true
		}
	}
	return false
}

// Breakpoints returns a session's breakpoints sorted by id.
func (e *Evaluator) Breakpoints(sessionID string) []Breakpoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set := e.sessions[sessionID]
	out := make([]Breakpoint, 0, len(set))
	for _, bp := range set {
		out = append(out, *bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ShouldBreak reports whether any enabled breakpoint for the session
// matches the given context. It has no side effects.
func (e *Evaluator) ShouldBreak(ctx BreakContext) (Breakpoint, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, bp := range e.sessions[ctx.SessionID] {
		if !bp.Enabled {
			continue
		}
		switch bp.Type {
		case BreakOnTool:
			if ctx.ToolName != "" && ctx.ToolName == bp.ToolName {
				return *bp, true
			}
		case BreakOnError:
			if ctx.PendingError {
				return *bp, true
			}
		case BreakOnIteration:
			if ctx.Iteration > 0 && ctx.Iteration == bp.Iteration {
				return *bp, true
			}
		}
	}
	return Breakpoint{}, false
}

// ClearSession drops all breakpoints for a session.
func (e *Evaluator) ClearSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}
