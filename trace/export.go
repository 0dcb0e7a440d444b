package trace

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Export formats. A report is a human-readable text rendering; json is
// the full structure.
const (
	FormatJSON   = "json"
	FormatReport = "report"
)

// Export renders a trace in the requested format. Exporting never
// mutates the trace; a running trace's metrics are derived fresh for
// the export, a closed trace reuses its frozen snapshot.
func (t *Tracer) Export(traceID, format string) (string, error) {
	tr, ok := t.Get(traceID)
	if !ok {
		return "", fmt.Errorf("trace %s not found", traceID)
	}
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(tr, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal trace: %w", err)
		}
		return string(data), nil
	case FormatReport:
		return renderReport(tr), nil
	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}
}

func renderReport(tr Trace) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Execution Trace %s\n", tr.ID)
	fmt.Fprintf(&b, "Session: %s  Run: %s\n", tr.SessionID, tr.RunID)
	fmt.Fprintf(&b, "Status: %s\n", tr.Status)
	fmt.Fprintf(&b, "Started: %s\n", tr.StartedAt.Format("2006-01-02 15:04:05"))
	if !tr.EndedAt.IsZero() {
		fmt.Fprintf(&b, "Ended: %s  (%s)\n", tr.EndedAt.Format("2006-01-02 15:04:05"), tr.EndedAt.Sub(tr.StartedAt).Round(1e6))
	}
	if tr.FailureReason != "" {
		fmt.Fprintf(&b, "Failure: %s\n", tr.FailureReason)
	}

	m := tr.Metrics
	fmt.Fprintf(&b, "\nSummary\n")
	fmt.Fprintf(&b, "  steps: %d  llm calls: %d  tool calls: %d (%d ok, %d failed)  errors: %d\n",
		m.TotalSteps, m.LLMCalls, m.ToolCalls, m.ToolSuccesses, m.ToolFailures, m.Errors)
	fmt.Fprintf(&b, "  tokens: %d in / %d out\n", m.TotalInputTokens, m.TotalOutputTokens)
	if m.AvgLLMDuration > 0 {
		fmt.Fprintf(&b, "  avg llm latency: %s\n", m.AvgLLMDuration.Round(1e6))
	}
	if m.AvgToolDuration > 0 {
		fmt.Fprintf(&b, "  avg tool latency: %s\n", m.AvgToolDuration.Round(1e6))
	}
	if len(m.ToolUsage) > 0 {
		fmt.Fprintf(&b, "  tool usage:\n")
		for _, name := range sortedKeys(m.ToolUsage) {
			fmt.Fprintf(&b, "    %s: %d\n", name, m.ToolUsage[name])
		}
	}

	fmt.Fprintf(&b, "\nTimeline\n")
	for i, step := range tr.Steps {
		fmt.Fprintf(&b, "  %3d. [%s] %s %s\n", i+1, step.StartedAt.Format("15:04:05.000"), step.Type, stepSummary(step))
	}
	return b.String()
}

func stepSummary(s Step) string {
	switch s.Type {
	case StepLLMCall:
		return fmt.Sprintf("%s/%s %d in / %d out (%s)", s.Provider, s.Model, s.InputTokens, s.OutputTokens, s.Duration().Round(1e6))
	case StepToolCall:
		return s.ToolName
	case StepToolResult:
		status := "ok"
		if !s.Success {
			status = "failed"
		}
		return fmt.Sprintf("%s %s (%s)", s.ToolName, status, s.Duration().Round(1e6))
	case StepDecision, StepError:
		return s.Message
	default:
		return ""
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
