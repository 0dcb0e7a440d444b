package debug

import (
	"fmt"
	"testing"
)

func TestRecorderOrderAndContent(t *testing.T) {
	r := NewRecorder(100)
	r.Record("s1", "tool-call", "read_file main.go", map[string]any{"call_id": "c1"})
	r.Record("s1", "assistant-message", "model replied", nil)

	entries := r.Entries("s1")
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Kind != "tool-call" || entries[1].Kind != "assistant-message" {
		t.Errorf("order wrong: %s, %s", entries[0].Kind, entries[1].Kind)
	}
	if entries[0].Detail["call_id"] != "c1" {
		t.Errorf("detail = %v", entries[0].Detail)
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("entry should be timestamped")
	}
}

func TestRecorderLimitDropsOldest(t *testing.T) {
	r := NewRecorder(3)
	for i := 0; i < 5; i++ {
		r.Record("s1", "step", fmt.Sprintf("entry %d", i), nil)
	}

	entries := r.Entries("s1")
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Summary != "entry 2" || entries[2].Summary != "entry 4" {
		t.Errorf("kept window = [%s .. %s], want [entry 2 .. entry 4]", entries[0].Summary, entries[2].Summary)
	}
}

func TestRecorderUnboundedWhenLimitZero(t *testing.T) {
	r := NewRecorder(0)
	for i := 0; i < 50; i++ {
		r.Record("s1", "step", "entry", nil)
	}
	if got := len(r.Entries("s1")); got != 50 {
		t.Errorf("entries = %d, want 50", got)
	}
}

func TestRecorderSessionIsolation(t *testing.T) {
	r := NewRecorder(10)
	r.Record("s1", "step", "one", nil)
	r.Record("s2", "step", "two", nil)

	if got := len(r.Entries("s1")); got != 1 {
		t.Errorf("s1 entries = %d, want 1", got)
	}
	r.ClearSession("s1")
	if got := len(r.Entries("s1")); got != 0 {
		t.Errorf("s1 entries = %d after clear, want 0", got)
	}
	if got := len(r.Entries("s2")); got != 1 {
		t.Errorf("s2 entries = %d, want 1 (unaffected by s1 clear)", got)
	}
}
