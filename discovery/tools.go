package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vyotiq-ai/vyotiq-agent-sub016/tool"
)

// SearchToolName is the name of the model-visible search tool.
const SearchToolName = "search_tools"

// LoadToolName is the name of the model-visible load tool.
const LoadToolName = "load_tools"

// RegisterDiscoveryTools registers the search and load tools on the index
// itself, always loaded, so every session can escalate its tool surface
// on demand.
func RegisterDiscoveryTools(idx *Index) {
	idx.RegisterTool(searchTool(idx))
	idx.RegisterTool(loadTool(idx))
}

func searchTool(idx *Index) tool.Descriptor {
	return tool.Descriptor{
		Name: SearchToolName,
		Description: "Search for additional tools not currently available. " +
			"Returns matching tool names with relevance scores. " +
			"Use load_tools to make a result available.",
		Category:  "discovery",
		RiskLevel: tool.RiskSafe,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What you want to do, e.g. \"find symbol definitions\".",
				},
			},
			"required": []string{"query"},
		},
		Execute: func(ctx context.Context, arguments json.RawMessage) (*tool.Result, error) {
			args, err := tool.ParseArguments(arguments)
			if err != nil {
				return nil, err
			}
			query, ok := tool.StringArg(args, "query")
			if !ok || query == "" {
				return nil, fmt.Errorf("query is required")
			}
			sessionID := sessionFromContext(ctx)

			refs := idx.Search(query, sessionID)
			if len(refs) == 0 {
				return &tool.Result{Success: true, Output: "No matching tools found."}, nil
			}

			var sb strings.Builder
			for _, ref := range refs {
				fmt.Fprintf(&sb, "%s (score %.2f): %s\n", ref.Name, ref.Score, ref.Description)
			}
			return &tool.Result{
				Success: true,
				Output:  sb.String(),
				Metadata: map[string]interface{}{
					"results": refs,
				},
			}, nil
		},
	}
}

func loadTool(idx *Index) tool.Descriptor {
	return tool.Descriptor{
		Name: LoadToolName,
		Description: "Load tools found via search_tools so they become " +
			"available for the rest of this session.",
		Category:  "discovery",
		RiskLevel: tool.RiskSafe,
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"names": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Tool names to load.",
				},
			},
			"required": []string{"names"},
		},
		Execute: func(ctx context.Context, arguments json.RawMessage) (*tool.Result, error) {
			args, err := tool.ParseArguments(arguments)
			if err != nil {
				return nil, err
			}
			names, ok := tool.StringSliceArg(args, "names")
			if !ok || len(names) == 0 {
				return nil, fmt.Errorf("names is required")
			}
			sessionID := sessionFromContext(ctx)

			descs := idx.Expand(names, sessionID)
			if len(descs) == 0 {
				return &tool.Result{Success: false, Output: "None of the requested tools exist."}, nil
			}

			loaded := make([]string, 0, len(descs))
			for _, d := range descs {
				loaded = append(loaded, d.Name)
			}
			return &tool.Result{
				Success: true,
				Output:  "Loaded tools: " + strings.Join(loaded, ", "),
				Metadata: map[string]interface{}{
					"loaded": loaded,
				},
			}, nil
		},
	}
}

type sessionContextKey struct{}

// WithSession attaches the calling session's id to a tool execution
// context.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sessionID)
}

func sessionFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionContextKey{}).(string); ok {
		return v
	}
	return ""
}
