package graphtool

import (
	"context"
	"strings"
	"testing"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
)

func TestNewDenyEvaluator_NoRules(t *testing.T) {
	eval, err := NewDenyEvaluator(nil)
	if err != nil {
		t.Fatalf("NewDenyEvaluator(nil) error: %v", err)
	}
	if err := eval.Check(context.Background(), "graph_query", "u1", "MATCH (n) RETURN n", nil); err != nil {
		t.Errorf("Check() with no rules should never deny, got %v", err)
	}
}

func TestNewDenyEvaluator_InvalidExpressionRejected(t *testing.T) {
	_, err := NewDenyEvaluator([]DenyRule{{Expression: "this is not valid CEL !!!"}})
	if err == nil {
		t.Fatal("expected an error compiling an invalid expression")
	}
}

func TestNewDenyEvaluator_EmptyExpressionRejected(t *testing.T) {
	_, err := NewDenyEvaluator([]DenyRule{{Expression: ""}})
	if err == nil {
		t.Fatal("expected an error for an empty expression")
	}
}

func TestNewDenyEvaluator_TooDeeplyNestedRejected(t *testing.T) {
	expr := strings.Repeat("(", maxNestingDepth+1) + "true" + strings.Repeat(")", maxNestingDepth+1)
	_, err := NewDenyEvaluator([]DenyRule{{Expression: expr}})
	if err == nil {
		t.Fatal("expected an error for an over-deep expression")
	}
}

func TestDenyEvaluator_Check_MatchDenies(t *testing.T) {
	eval, err := NewDenyEvaluator([]DenyRule{
		{Expression: `"Secret" in labels`, Reason: "secret label is not queryable"},
	})
	if err != nil {
		t.Fatalf("NewDenyEvaluator() error: %v", err)
	}

	err = eval.Check(context.Background(), "graph_upsert", "u1", "", []string{"Service", "Secret"})
	if err == nil {
		t.Fatal("expected the deny rule to match")
	}
	if apperr.KindOf(err) != apperr.PermissionDenied {
		t.Errorf("KindOf(err) = %v, want %v", apperr.KindOf(err), apperr.PermissionDenied)
	}
	if !strings.Contains(err.Error(), "secret label is not queryable") {
		t.Errorf("error = %q, want it to contain the configured reason", err.Error())
	}
}

func TestDenyEvaluator_Check_NoMatchAllows(t *testing.T) {
	eval, err := NewDenyEvaluator([]DenyRule{
		{Expression: `"Secret" in labels`, Reason: "secret label is not queryable"},
	})
	if err != nil {
		t.Fatalf("NewDenyEvaluator() error: %v", err)
	}

	if err := eval.Check(context.Background(), "graph_upsert", "u1", "", []string{"Service"}); err != nil {
		t.Errorf("Check() = %v, want nil for a non-matching rule", err)
	}
}

func TestDenyEvaluator_Check_ByToolAndUser(t *testing.T) {
	eval, err := NewDenyEvaluator([]DenyRule{
		{Expression: `tool == "graph_query" && user_id == "banned-user"`},
	})
	if err != nil {
		t.Fatalf("NewDenyEvaluator() error: %v", err)
	}

	if err := eval.Check(context.Background(), "graph_query", "banned-user", "MATCH (n) RETURN n", nil); err == nil {
		t.Fatal("expected the rule to deny the banned user's query")
	}
	if err := eval.Check(context.Background(), "graph_query", "someone-else", "MATCH (n) RETURN n", nil); err != nil {
		t.Errorf("Check() = %v, want nil for a different user", err)
	}
}

func TestDenyEvaluator_NilReceiverNeverDenies(t *testing.T) {
	var eval *DenyEvaluator
	if err := eval.Check(context.Background(), "graph_query", "u1", "", nil); err != nil {
		t.Errorf("Check() on a nil evaluator = %v, want nil", err)
	}
}
