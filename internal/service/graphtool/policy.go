package graphtool

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
)

// maxExpressionLength bounds an operator-supplied deny expression so a
// misconfigured rule can't become an unbounded parse target.
const maxExpressionLength = 1024

// maxCostBudget bounds a single evaluation's CEL runtime cost.
const maxCostBudget = 100_000

// maxNestingDepth bounds parenthesis/bracket nesting in a deny expression.
const maxNestingDepth = 50

// evalTimeout bounds a single deny-rule evaluation.
const evalTimeout = 500 * time.Millisecond

// DenyRule is an operator-defined restriction layered on top of the
// static RBAC table (§4.2's permission table stays authoritative; a
// deny rule can only narrow what it already allows, never grant beyond
// it). Reason is surfaced to the caller when the rule matches.
type DenyRule struct {
	Expression string
	Reason     string
}

// denyProgram is one compiled, ready-to-evaluate DenyRule.
type denyProgram struct {
	reason string
	prg    cel.Program
}

// DenyEvaluator compiles a set of boolean CEL expressions once and
// evaluates every graph tool call against all of them. An empty
// evaluator (no rules configured) never denies anything.
type DenyEvaluator struct {
	env      *cel.Env
	programs []denyProgram
}

func newPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("text", cel.StringType),
		cel.Variable("labels", cel.ListType(cel.StringType)),
	)
}

// NewDenyEvaluator compiles rules and returns an evaluator for them.
// A rule whose expression is invalid is rejected outright rather than
// silently skipped, since a deny rule that never compiles gives an
// operator false confidence that it's in effect.
func NewDenyEvaluator(rules []DenyRule) (*DenyEvaluator, error) {
	env, err := newPolicyEnvironment()
	if err != nil {
		return nil, fmt.Errorf("building policy environment: %w", err)
	}

	e := &DenyEvaluator{env: env}
	for _, r := range rules {
		prg, err := e.compile(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("compiling deny rule %q: %w", r.Expression, err)
		}
		e.programs = append(e.programs, denyProgram{reason: r.Reason, prg: prg})
	}
	return e, nil
}

func (e *DenyEvaluator) compile(expr string) (cel.Program, error) {
	if len(expr) > maxExpressionLength {
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if expr == "" {
		return nil, fmt.Errorf("expression is empty")
	}
	if err := validateNesting(expr); err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
	)
	if err != nil {
		return nil, fmt.Errorf("building program: %w", err)
	}
	return prg, nil
}

func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// Check evaluates every deny rule against vars and returns an
// apperr.PermissionDenied error naming the first rule that matched, or
// nil if none did.
func (e *DenyEvaluator) Check(ctx context.Context, tool, userID, text string, labels []string) error {
	if e == nil || len(e.programs) == 0 {
		return nil
	}

	vars := map[string]any{
		"tool":    tool,
		"user_id": userID,
		"text":    text,
		"labels":  labels,
	}

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	for _, p := range e.programs {
		out, _, err := p.prg.ContextEval(evalCtx, vars)
		if err != nil {
			return apperr.Wrap(apperr.PermissionDenied, "evaluating graph deny rule", err)
		}
		denied, ok := out.Value().(bool)
		if !ok {
			return apperr.New(apperr.PermissionDenied, "deny rule did not evaluate to a boolean")
		}
		if denied {
			reason := p.reason
			if reason == "" {
				reason = "denied by policy"
			}
			return apperr.New(apperr.PermissionDenied, reason)
		}
	}
	return nil
}
