// Package policy evaluates Rego rules to decide how a tool call is
// gated: allowed outright, held for human approval, or blocked.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decision values returned by the policy.
const (
	DecisionAllow           = "allow"
	DecisionRequireApproval = "require_approval"
	DecisionBlock           = "block"
)

// Input is the document the policy evaluates against.
type Input struct {
	ToolName         string         `json:"tool_name"`
	Category         string         `json:"category"`
	RiskLevel        string         `json:"risk_level"`
	RequiresApproval bool           `json:"requires_approval"`
	SessionID        string         `json:"session_id"`
	Arguments        map[string]any `json:"args"`
}

// Engine holds a prepared Rego query.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine compiles the given policy module. Pass DefaultPolicy when
// the host supplies none.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy.decision"),
		rego.Module("tool_policy.rego", policyContent),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// Evaluate returns the policy decision for a tool call. An empty
// result set falls back to allow; the policy is expected to define a
// default rule.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}
	decision, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", fmt.Errorf("policy returned %T, want string", results[0].Expressions[0].Value)
	}
	switch decision {
	case DecisionAllow, DecisionRequireApproval, DecisionBlock:
		return decision, nil
	default:
		return "", fmt.Errorf("policy returned unknown decision %q", decision)
	}
}

// DefaultPolicy gates tool calls on the descriptor's own risk
// metadata: high-risk tools are blocked, anything flagged for
// approval or rated medium risk is held, the rest run.
const DefaultPolicy = `
package tool_policy

default decision = "allow"

decision = "block" {
	input.risk_level == "high"
}

decision = "require_approval" {
	input.risk_level != "high"
	input.requires_approval == true
}

decision = "require_approval" {
	input.risk_level == "medium"
}
`
