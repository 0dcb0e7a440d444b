package llm

import "strings"

// ModelInfo describes a known model in the catalog. The orchestrator uses
// ContextWindow to size token budgets when a session does not specify one.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	DisplayName   string   `json:"display_name"`
	ContextWindow int      `json:"context_window"`
	MaxOutput     int      `json:"max_output,omitempty"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog.
var Models = []ModelInfo{
	// Anthropic
	{
		ID: "claude-opus-4-6", Provider: "anthropic", DisplayName: "Claude Opus 4.6",
		ContextWindow: 200000, MaxOutput: 32768,
		Aliases: []string{"opus", "claude-opus"},
	},
	{
		ID: "claude-sonnet-4-5", Provider: "anthropic", DisplayName: "Claude Sonnet 4.5",
		ContextWindow: 200000, MaxOutput: 16384,
		Aliases: []string{"sonnet", "claude-sonnet"},
	},

	// OpenAI
	{
		ID: "gpt-5.2", Provider: "openai", DisplayName: "GPT-5.2",
		ContextWindow: 1047576, MaxOutput: 32768,
		Aliases: []string{"gpt5"},
	},
	{
		ID: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o mini",
		ContextWindow: 128000, MaxOutput: 16384,
		Aliases: []string{"4o-mini"},
	},
}

// DefaultContextWindow is used when a model is not in the catalog.
const DefaultContextWindow = 128000

// GetModelInfo finds a model by identifier or alias.
func GetModelInfo(modelID string) *ModelInfo {
	if modelID == "" {
		return nil
	}
	lower := strings.ToLower(modelID)
	for i := range Models {
		m := &Models[i]
		if strings.ToLower(m.ID) == lower {
			return m
		}
		for _, alias := range m.Aliases {
			if strings.ToLower(alias) == lower {
				return m
			}
		}
	}
	return nil
}

// ContextWindowFor returns the context window for a model, falling back to
// DefaultContextWindow for unknown models.
func ContextWindowFor(modelID string) int {
	if info := GetModelInfo(modelID); info != nil {
		return info.ContextWindow
	}
	return DefaultContextWindow
}

// ListModels returns catalog entries, optionally filtered by provider.
func ListModels(provider string) []ModelInfo {
	if provider == "" {
		out := make([]ModelInfo, len(Models))
		copy(out, Models)
		return out
	}
	var out []ModelInfo
	for _, m := range Models {
		if m.Provider == provider {
			out = append(out, m)
		}
	}
	return out
}
