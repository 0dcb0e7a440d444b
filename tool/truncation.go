package tool

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how oversized output is cut.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// TruncationLimits holds per-tool output limits applied before a result
// re-enters the model context. The full output still reaches the event
// stream untouched.
type TruncationLimits struct {
	CharLimits   map[string]int
	LineLimits   map[string]int
	Modes        map[string]TruncationMode
	DefaultChars int
}

// DefaultTruncationLimits returns limits tuned for common coding-agent
// tools. Unknown tools fall back to DefaultChars with head/tail mode.
func DefaultTruncationLimits() TruncationLimits {
	return TruncationLimits{
		CharLimits: map[string]int{
			"read_file":  50000,
			"terminal":   30000,
			"grep":       20000,
			"glob":       20000,
			"edit_file":  10000,
			"write_file": 1000,
		},
		LineLimits: map[string]int{
			"terminal": 256,
			"grep":     200,
			"glob":     500,
		},
		Modes: map[string]TruncationMode{
			"read_file": TruncateHeadTail,
			"terminal":  TruncateHeadTail,
			"grep":      TruncateTail,
			"glob":      TruncateTail,
		},
		DefaultChars: 30000,
	}
}

// TruncateChars applies character-based truncation to output.
func TruncateChars(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}

	removed := len(output) - maxChars
	switch mode {
	case TruncateTail:
		return fmt.Sprintf("[Output truncated: first %d characters removed. "+
			"The full output is available in the event stream.]\n\n", removed) +
			output[len(output)-maxChars:]
	default: // head_tail
		half := maxChars / 2
		return output[:half] +
			fmt.Sprintf("\n\n[Output truncated: %d characters removed from the middle. "+
				"The full output is available in the event stream. "+
				"Re-run the tool with narrower parameters to see specific parts.]\n\n", removed) +
			output[len(output)-half:]
	}
}

// TruncateLines applies line-based truncation using a head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// Truncate applies the full pipeline for a named tool: character-based
// truncation first (handles pathological cases), then line-based.
func (l TruncationLimits) Truncate(output, toolName string) string {
	maxChars, ok := l.CharLimits[toolName]
	if !ok {
		maxChars = l.DefaultChars
		if maxChars == 0 {
			maxChars = 30000
		}
	}
	mode, ok := l.Modes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}

	result := TruncateChars(output, maxChars, mode)

	if maxLines, ok := l.LineLimits[toolName]; ok && maxLines > 0 {
		result = TruncateLines(result, maxLines)
	}
	return result
}
