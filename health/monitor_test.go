package health

import (
	"testing"
	"time"
)

// newTestMonitor returns a monitor on a manual clock plus a function to
// advance it.
func newTestMonitor(cfg Config) (*Monitor, func(time.Duration)) {
	m := NewMonitor(cfg)
	now := time.Unix(1700000000, 0)
	m.SetClock(func() time.Time { return now })
	advance := func(d time.Duration) { now = now.Add(d) }
	return m, advance
}

func TestTokenUsageInputReplacesOutputAccumulates(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 1000)

	m.UpdateTokenUsage("s1", TokenUsage{Input: 100, Output: 10})
	m.UpdateTokenUsage("s1", TokenUsage{Input: 150, Output: 20})

	input, output, ok := m.TokenTotals("s1")
	if !ok {
		t.Fatal("expected session to be tracked")
	}
	if input != 150 {
		t.Errorf("input tokens = %d, want 150 (snapshot, not sum)", input)
	}
	if output != 30 {
		t.Errorf("output tokens = %d, want 30 (accumulated)", output)
	}
}

func TestTokenUsageUnknownSessionIgnored(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	m.UpdateTokenUsage("ghost", TokenUsage{Input: 100, Output: 10})
	if _, _, ok := m.TokenTotals("ghost"); ok {
		t.Error("update should not create a session")
	}
}

func TestLoopDetectionStopThreshold(t *testing.T) {
	m, advance := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 100000)

	m.RecordLoopDetected("s1", "identical tool call repeated")
	if d := m.ShouldStopRun("s1"); d.Stop {
		t.Fatalf("one loop detection should not stop the run, got reason %q", d.Reason)
	}

	// Past the dedup window but still inside the 60s stop window.
	advance(35 * time.Second)
	m.RecordLoopDetected("s1", "identical tool call repeated")
	d := m.ShouldStopRun("s1")
	if !d.Stop {
		t.Fatal("two loop detections within 60s should stop the run")
	}
	if d.Reason == "" {
		t.Error("stop decision should carry a reason")
	}
}

func TestLoopDetectionsOutsideWindowDoNotStop(t *testing.T) {
	m, advance := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 100000)

	m.RecordLoopDetected("s1", "loop")
	advance(90 * time.Second)
	m.RecordLoopDetected("s1", "loop")
	if d := m.ShouldStopRun("s1"); d.Stop {
		t.Errorf("detections 90s apart should not stop, got reason %q", d.Reason)
	}
}

func TestIssueDedupWindow(t *testing.T) {
	m, advance := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 100000)

	m.RecordComplianceViolation("s1", "blocked tool")
	advance(10 * time.Second)
	m.RecordComplianceViolation("s1", "blocked tool again")
	if got := len(m.Issues("s1")); got != 1 {
		t.Fatalf("re-raise within dedup window grew issues to %d, want 1", got)
	}

	advance(21 * time.Second) // 31s after the retained issue
	m.RecordComplianceViolation("s1", "blocked tool once more")
	if got := len(m.Issues("s1")); got != 2 {
		t.Errorf("re-raise after dedup window left %d issues, want 2", got)
	}
}

func TestIssueDedupIsPerType(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 100000)

	m.RecordComplianceViolation("s1", "blocked")
	m.RecordLoopDetected("s1", "loop")
	if got := len(m.Issues("s1")); got != 2 {
		t.Errorf("distinct issue types should not dedup each other, got %d issues", got)
	}
}

func TestIssueListCapped(t *testing.T) {
	m, advance := newTestMonitor(Config{MaxIssuesPerSession: 5})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 100000)

	for i := 0; i < 8; i++ {
		m.RecordLoopDetected("s1", "loop")
		advance(31 * time.Second)
	}
	issues := m.Issues("s1")
	if len(issues) != 5 {
		t.Fatalf("issue list = %d entries, want capped at 5", len(issues))
	}
	// Oldest dropped first: the newest issue must survive.
	last := issues[len(issues)-1]
	if last.Type != IssueLoopDetected {
		t.Errorf("unexpected tail issue type %s", last.Type)
	}
}

func TestHealthScoreBaseline(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 100000)
	m.UpdateIteration("s1", 1)
	m.UpdateTokenUsage("s1", TokenUsage{Input: 500, Output: 100})

	st, ok := m.GetHealthStatus("s1")
	if !ok {
		t.Fatal("expected status")
	}
	if st.Score != 100 {
		t.Errorf("score = %d, want 100 for a quiet session", st.Score)
	}
	if st.State != StateHealthy {
		t.Errorf("state = %s, want healthy", st.State)
	}
}

func TestHealthScoreErrorIssueDeduction(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 100000)
	m.RecordComplianceViolation("s1", "blocked tool")

	st, _ := m.GetHealthStatus("s1")
	if st.Score > 85 {
		t.Errorf("score = %d, want <= 85 with one error issue", st.Score)
	}
	if st.State != StateCritical {
		t.Errorf("state = %s, want critical with an error issue", st.State)
	}
}

func TestHealthScoreStaleIssuesDoNotDeduct(t *testing.T) {
	m, advance := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 100000)
	m.RecordComplianceViolation("s1", "blocked tool")

	advance(6 * time.Minute)
	st, _ := m.GetHealthStatus("s1")
	if st.Score != 100 {
		t.Errorf("score = %d, want 100 once the issue ages past the score window", st.Score)
	}
	// The issue still counts toward overall state.
	if st.State != StateCritical {
		t.Errorf("state = %s, want critical while the error issue is retained", st.State)
	}
}

func TestHealthScoreIterationDeductions(t *testing.T) {
	cases := []struct {
		name      string
		iteration int
		want      int
	}{
		{"below half", 25, 100},
		{"over half", 30, 95},
		{"over seventy", 36, 85},
		{"over ninety", 46, 70},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestMonitor(Config{})
			m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 100000)
			s := m.sessions["s1"]
			m.mu.Lock()
			s.iteration = tc.iteration
			m.mu.Unlock()

			st, _ := m.GetHealthStatus("s1")
			if st.Score != tc.want {
				t.Errorf("iteration %d/50: score = %d, want %d", tc.iteration, st.Score, tc.want)
			}
		})
	}
}

func TestHealthScoreFloorsAtZero(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 1000)
	// Stack deductions: iteration 96%, tokens 250%, repeated errors.
	m.mu.Lock()
	m.sessions["s1"].iteration = 48
	m.sessions["s1"].inputTokens = 2500
	m.mu.Unlock()
	m.RecordComplianceViolation("s1", "a")
	m.RecordLoopDetected("s1", "b")
	m.RecordLoopDetected("s1", "c") // deduped, harmless

	// Enough distinct errors to push well below zero.
	m.record("s1", IssueStalled, SeverityError, "stall", nil)
	m.record("s1", IssueHighTokenUsage, SeverityError, "tokens", nil)

	st, _ := m.GetHealthStatus("s1")
	if st.Score != 0 {
		t.Errorf("score = %d, want floor of 0", st.Score)
	}
}

func TestHighTokenUsageThresholds(t *testing.T) {
	m, _ := newTestMonitor(Config{})

	// 90% of context raises exactly one error issue.
	m.StartMonitoring("err", "r1", "anthropic", "claude-sonnet-4-5", 50, 1000)
	m.UpdateTokenUsage("err", TokenUsage{Input: 900})
	issues := m.Issues("err")
	if len(issues) != 1 {
		t.Fatalf("90%% utilization raised %d issues, want 1", len(issues))
	}
	if issues[0].Type != IssueHighTokenUsage || issues[0].Severity != SeverityError {
		t.Errorf("got %s/%s, want high-token-usage/error", issues[0].Type, issues[0].Severity)
	}

	// 75% raises a warning, not an error.
	m.StartMonitoring("warn", "r2", "anthropic", "claude-sonnet-4-5", 50, 1000)
	m.UpdateTokenUsage("warn", TokenUsage{Input: 750})
	issues = m.Issues("warn")
	if len(issues) != 1 {
		t.Fatalf("75%% utilization raised %d issues, want 1", len(issues))
	}
	if issues[0].Severity != SeverityWarning {
		t.Errorf("severity = %s, want warning", issues[0].Severity)
	}

	// Below 70% raises nothing.
	m.StartMonitoring("ok", "r3", "anthropic", "claude-sonnet-4-5", 50, 1000)
	m.UpdateTokenUsage("ok", TokenUsage{Input: 500})
	if got := len(m.Issues("ok")); got != 0 {
		t.Errorf("50%% utilization raised %d issues, want 0", got)
	}
}

func TestRunawayTokenStop(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 1000)

	m.UpdateTokenUsage("s1", TokenUsage{Input: 1900})
	if d := m.ShouldStopRun("s1"); d.Stop {
		t.Fatalf("190%% of context should not stop, got reason %q", d.Reason)
	}
	m.UpdateTokenUsage("s1", TokenUsage{Input: 2100})
	if d := m.ShouldStopRun("s1"); !d.Stop {
		t.Error("210% of context should stop the run")
	}
}

func TestApproachingIterationLimit(t *testing.T) {
	m, _ := newTestMonitor(Config{})

	m.StartMonitoring("warn", "r1", "anthropic", "claude-sonnet-4-5", 50, 100000)
	m.UpdateIteration("warn", 40) // 80%
	issues := m.Issues("warn")
	if len(issues) != 1 || issues[0].Type != IssueApproachingLimit || issues[0].Severity != SeverityWarning {
		t.Fatalf("80%% progress issues = %+v, want one approaching-limit warning", issues)
	}

	m.StartMonitoring("err", "r2", "anthropic", "claude-sonnet-4-5", 50, 100000)
	m.UpdateIteration("err", 48) // 96%
	issues = m.Issues("err")
	if len(issues) != 1 || issues[0].Severity != SeverityError {
		t.Fatalf("96%% progress issues = %+v, want one approaching-limit error", issues)
	}
}

func TestSlowResponseIssueAndScore(t *testing.T) {
	m, advance := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 100000)

	m.UpdateIteration("s1", 1)
	advance(45 * time.Second)
	m.UpdateIteration("s1", 2)

	var found bool
	for _, issue := range m.Issues("s1") {
		if issue.Type == IssueSlowResponse {
			found = true
		}
	}
	if !found {
		t.Fatal("45s iteration should raise a slow-response issue")
	}

	st, _ := m.GetHealthStatus("s1")
	// One warning issue (-5) plus slow average (-10).
	if st.Score != 85 {
		t.Errorf("score = %d, want 85", st.Score)
	}
	if st.State != StateWarning {
		t.Errorf("state = %s, want warning", st.State)
	}
}

func TestStallDetectionAndStop(t *testing.T) {
	m, advance := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 100000)
	m.StartMonitoring("s2", "r2", "anthropic", "claude-sonnet-4-5", 50, 100000)

	advance(60 * time.Second)
	m.UpdateIteration("s2", 1) // keeps s2 fresh
	advance(70 * time.Second)  // s1 idle 130s, s2 idle 70s

	stalled := m.CheckForStalls()
	if len(stalled) != 1 || stalled[0] != "s1" {
		t.Fatalf("stalled = %v, want [s1]", stalled)
	}
	if d := m.ShouldStopRun("s1"); !d.Stop {
		t.Error("recently stalled session should stop")
	}
	if d := m.ShouldStopRun("s2"); d.Stop {
		t.Errorf("active session should not stop, got reason %q", d.Reason)
	}
}

func TestEndedRunLeavesStallSweep(t *testing.T) {
	m, advance := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 100000)
	m.UpdateIteration("s1", 1)
	m.UpdateTokenUsage("s1", TokenUsage{Input: 500, Output: 50})
	m.EndRun("s1")

	advance(5 * time.Minute)
	if stalled := m.CheckForStalls(); len(stalled) != 0 {
		t.Fatalf("stalled = %v, want none for a finished run", stalled)
	}
	if d := m.ShouldStopRun("s1"); d.Stop {
		t.Errorf("finished run should never stop, got reason %q", d.Reason)
	}

	// Counters and status stay queryable for inspection.
	input, output, ok := m.TokenTotals("s1")
	if !ok || input != 500 || output != 50 {
		t.Errorf("token totals = %d/%d ok=%v, want 500/50 after run end", input, output, ok)
	}
	st, ok := m.GetHealthStatus("s1")
	if !ok {
		t.Fatal("status should survive run end")
	}
	if st.State != StateHealthy {
		t.Errorf("state = %s, want healthy for an idle finished run", st.State)
	}
}

func TestStartMonitoringClearsRunEnded(t *testing.T) {
	m, advance := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 100000)
	m.EndRun("s1")

	m.StartMonitoring("s1", "r2", "anthropic", "claude-sonnet-4-5", 50, 100000)
	advance(3 * time.Minute)
	stalled := m.CheckForStalls()
	if len(stalled) != 1 || stalled[0] != "s1" {
		t.Fatalf("stalled = %v, want [s1] for the new run", stalled)
	}
	if d := m.ShouldStopRun("s1"); !d.Stop {
		t.Error("new run that stalled should stop")
	}
}

func TestStopMonitoringReleasesState(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 1000)
	m.RecordLoopDetected("s1", "loop")

	m.StopMonitoring("s1")
	if _, _, ok := m.TokenTotals("s1"); ok {
		t.Error("token totals should be gone after StopMonitoring")
	}
	if issues := m.Issues("s1"); issues != nil {
		t.Errorf("issues = %v, want nil after StopMonitoring", issues)
	}
	if _, ok := m.GetHealthStatus("s1"); ok {
		t.Error("status should be gone after StopMonitoring")
	}
}

func TestStartMonitoringResetsCounters(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 1000)
	m.UpdateTokenUsage("s1", TokenUsage{Input: 500, Output: 200})
	m.RecordLoopDetected("s1", "loop")

	m.StartMonitoring("s1", "r2", "anthropic", "claude-sonnet-4-5", 50, 1000)
	input, output, _ := m.TokenTotals("s1")
	if input != 0 || output != 0 {
		t.Errorf("tokens = %d/%d after restart, want 0/0", input, output)
	}
	if got := len(m.Issues("s1")); got != 0 {
		t.Errorf("issues = %d after restart, want 0", got)
	}
}

func TestUpdateConfigTakesEffect(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	m.StartMonitoring("s1", "r1", "anthropic", "claude-sonnet-4-5", 50, 1000)

	m.UpdateConfig(Config{RunawayTokenRatio: 1.2})
	m.UpdateTokenUsage("s1", TokenUsage{Input: 1300})
	if d := m.ShouldStopRun("s1"); !d.Stop {
		t.Error("lowered runaway ratio should stop at 130% of context")
	}
}
