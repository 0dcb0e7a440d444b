package debug

import "testing"

func TestToolBreakpointMatchesOnlyItsTool(t *testing.T) {
	e := NewEvaluator()
	e.Set("s1", Breakpoint{Type: BreakOnTool, ToolName: "bash"})

	if _, hit := e.ShouldBreak(BreakContext{SessionID: "s1", ToolName: "bash"}); !hit {
		t.Error("bash call should hit the bash breakpoint")
	}
	if _, hit := e.ShouldBreak(BreakContext{SessionID: "s1", ToolName: "read_file"}); hit {
		t.Error("read_file call should not hit the bash breakpoint")
	}
	if _, hit := e.ShouldBreak(BreakContext{SessionID: "s1"}); hit {
		t.Error("context without a tool should not hit a tool breakpoint")
	}
}

func TestIterationBreakpoint(t *testing.T) {
	e := NewEvaluator()
	e.Set("s1", Breakpoint{Type: BreakOnIteration, Iteration: 5})

	if _, hit := e.ShouldBreak(BreakContext{SessionID: "s1", Iteration: 5}); !hit {
		t.Error("iteration 5 should hit")
	}
	if _, hit := e.ShouldBreak(BreakContext{SessionID: "s1", Iteration: 4}); hit {
		t.Error("iteration 4 should not hit")
	}
	// Iteration zero never matches, even a zero-valued breakpoint.
	e.Set("s1", Breakpoint{Type: BreakOnIteration})
	if _, hit := e.ShouldBreak(BreakContext{SessionID: "s1", Iteration: 0}); hit {
		t.Error("iteration 0 should never hit")
	}
}

func TestErrorBreakpoint(t *testing.T) {
	e := NewEvaluator()
	e.Set("s1", Breakpoint{Type: BreakOnError})

	if _, hit := e.ShouldBreak(BreakContext{SessionID: "s1", PendingError: true}); !hit {
		t.Error("pending error should hit")
	}
	if _, hit := e.ShouldBreak(BreakContext{SessionID: "s1"}); hit {
		t.Error("no pending error should not hit")
	}
}

func TestDisabledBreakpointNeverMatches(t *testing.T) {
	e := NewEvaluator()
	bp := e.Set("s1", Breakpoint{Type: BreakOnTool, ToolName: "bash"})

	if !e.Toggle(bp.ID) {
		t.Fatal("toggle of known id should succeed")
	}
	if _, hit := e.ShouldBreak(BreakContext{SessionID: "s1", ToolName: "bash"}); hit {
		t.Error("disabled breakpoint matched")
	}

	e.Toggle(bp.ID) // re-enable
	if _, hit := e.ShouldBreak(BreakContext{SessionID: "s1", ToolName: "bash"}); !hit {
		t.Error("re-enabled breakpoint should match again")
	}
}

func TestBreakpointsAreSessionScoped(t *testing.T) {
	e := NewEvaluator()
	e.Set("s1", Breakpoint{Type: BreakOnTool, ToolName: "bash"})

	if _, hit := e.ShouldBreak(BreakContext{SessionID: "s2", ToolName: "bash"}); hit {
		t.Error("s1's breakpoint matched in s2")
	}
	if got := len(e.Breakpoints("s2")); got != 0 {
		t.Errorf("s2 has %d breakpoints, want 0", got)
	}
}

func TestSetAssignsIDAndEnables(t *testing.T) {
	e := NewEvaluator()
	bp := e.Set("s1", Breakpoint{Type: BreakOnTool, ToolName: "bash"})
	if bp.ID == "" {
		t.Error("new breakpoint should get an id")
	}
	if !bp.Enabled {
		t.Error("new breakpoint should start enabled")
	}
	if bp.SessionID != "s1" {
		t.Errorf("session id = %q, want s1", bp.SessionID)
	}
}

func TestRemove(t *testing.T) {
	e := NewEvaluator()
	bp := e.Set("s1", Breakpoint{Type: BreakOnTool, ToolName: "bash"})

	if !e.Remove(bp.ID) {
		t.Fatal("remove of known id should succeed")
	}
	if e.Remove(bp.ID) {
		t.Error("second remove should report false")
	}
	if _, hit := e.ShouldBreak(BreakContext{SessionID: "s1", ToolName: "bash"}); hit {
		t.Error("removed breakpoint matched")
	}
}

func TestToggleUnknownID(t *testing.T) {
	e := NewEvaluator()
	if e.Toggle("no-such-id") {
		t.Error("toggle of unknown id should report false")
	}
}

func TestClearSessionDropsBreakpoints(t *testing.T) {
	e := NewEvaluator()
	e.Set("s1", Breakpoint{Type: BreakOnTool, ToolName: "bash"})
	e.Set("s1", Breakpoint{Type: BreakOnIteration, Iteration: 3})

	e.ClearSession("s1")
	if got := len(e.Breakpoints("s1")); got != 0 {
		t.Errorf("breakpoints = %d after clear, want 0", got)
	}
}
