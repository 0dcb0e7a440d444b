package debug

import (
	"sync"
	"time"
)

// Entry is one recorded moment in a run, kept for replay.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Summary   string         `json:"summary"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Recorder keeps an append-only timestamped log per session.
type Recorder struct {
	sessions map[string][]Entry
	limit    int
	mu       sync.Mutex
	now      func() time.Time
}

// NewRecorder creates a Recorder that keeps at most limit entries per
// session, dropping the oldest when full. A limit of 0 means unbounded.
func NewRecorder(limit int) *Recorder {
	return &Recorder{
		sessions: make(map[string][]Entry),
		limit:    limit,
		now:      time.Now,
	}
}

// Record appends an entry for a session.
func (r *Recorder) Record(sessionID, kind, summary string, detail map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := append(r.sessions[sessionID], Entry{
		Timestamp: r.now(),
		Kind:      kind,
		Summary:   summary,
		Detail:    detail,
	})
	if r.limit > 0 && len(entries) > r.limit {
		entries = entries[len(entries)-r.limit:]
	}
	r.sessions[sessionID] = entries
}

// Entries returns a copy of a session's log in recording order.
func (r *Recorder) Entries(sessionID string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.sessions[sessionID]
	out := make([]Entry, len(stored))
	copy(out, stored)
	return out
}

// ClearSession drops a session's log.
func (r *Recorder) ClearSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}
