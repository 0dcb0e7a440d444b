package debug

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Snapshot is a point-in-time capture of a session's observable state.
type Snapshot struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Label     string         `json:"label"`
	TakenAt   time.Time      `json:"taken_at"`
	Fields    map[string]any `json:"fields"`
}

// FieldChange is one differing field between two snapshots.
type FieldChange struct {
	Field  string `json:"field"`
	Before any    `json:"before,omitempty"`
	After  any    `json:"after,omitempty"`
}

// Inspector captures labeled state snapshots and diffs them.
type Inspector struct {
	snapshots map[string][]Snapshot
	mu        sync.Mutex
	now       func() time.Time
	seq       int
}

func NewInspector() *Inspector {
	return &Inspector{
		snapshots: make(map[string][]Snapshot),
		now:       time.Now,
	}
}

// Capture stores a snapshot of the given fields under a label and
// returns it. Field values are stored as provided; callers pass
// copies of anything mutable.
func (i *Inspector) Capture(sessionID, label string, fields map[string]any) Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seq++
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	snap := Snapshot{
		ID:        fmt.Sprintf("snap-%d", i.seq),
		SessionID: sessionID,
		Label:     label,
		TakenAt:   i.now(),
		Fields:    copied,
	}
	i.snapshots[sessionID] = append(i.snapshots[sessionID], snap)
	return snap
}

// Snapshots returns a session's snapshots in capture order.
func (i *Inspector) Snapshots(sessionID string) []Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	stored := i.snapshots[sessionID]
	out := make([]Snapshot, len(stored))
	copy(out, stored)
	return out
}

// Diff compares two snapshots by id and returns the changed fields
// sorted by name. Fields present in only one snapshot appear with the
// missing side zero-valued.
func (i *Inspector) Diff(sessionID, beforeID, afterID string) ([]FieldChange, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	before, ok := i.find(sessionID, beforeID)
	if !ok {
		return nil, fmt.Errorf("snapshot %s not found", beforeID)
	}
	after, ok := i.find(sessionID, afterID)
	if !ok {
		return nil, fmt.Errorf("snapshot %s not found", afterID)
	}

	seen := make(map[string]bool)
	var changes []FieldChange
	for field, bv := range before.Fields {
		seen[field] = true
		av, present := after.Fields[field]
		if !present {
			changes = append(changes, FieldChange{Field: field, Before: bv})
			continue
		}
		if fmt.Sprintf("%v", bv) != fmt.Sprintf("%v", av) {
			changes = append(changes, FieldChange{Field: field, Before: bv, After: av})
		}
	}
	for field, av := range after.Fields {
		if !seen[field] {
			changes = append(changes, FieldChange{Field: field, After: av})
		}
	}
	sort.Slice(changes, func(a, b int) bool { return changes[a].Field < changes[b].Field })
	return changes, nil
}

func (i *Inspector) find(sessionID, id string) (Snapshot, bool) {
	for _, snap := range i.snapshots[sessionID] {
		if snap.ID == id {
			return snap, true
		}
	}
	return Snapshot{}, false
}

// ClearSession drops a session's snapshots.
func (i *Inspector) ClearSession(sessionID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.snapshots, sessionID)
}
