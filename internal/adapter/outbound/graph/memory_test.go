package graph

import (
	"context"
	"testing"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/port/outbound"
)

func TestMemoryGraph_UpsertAndMatch(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph()
	g.UpsertNode("main.Run", []string{"Function"}, map[string]any{"package": "cmd"})
	g.UpsertNode("main.Helper", []string{"Function"}, map[string]any{"package": "cmd"})
	g.UpsertNode("other.Run", []string{"Function"}, map[string]any{"package": "other"})

	rows := g.MatchNodes("Function", map[string]any{"package": "cmd"}, 0)
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
}

func TestMemoryGraph_UpsertMergesProperties(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph()
	g.UpsertNode("f", []string{"Function"}, map[string]any{"a": 1})
	g.UpsertNode("f", []string{"Function"}, map[string]any{"b": 2})

	rows := g.MatchNodes("Function", nil, 0)
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if rows[0]["a"] != 1 || rows[0]["b"] != 2 {
		t.Errorf("row = %v, want both a and b set", rows[0])
	}
}

func TestMemoryGraph_UpsertRelationship_MissingEndpoint(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph()
	g.UpsertNode("a", []string{"Function"}, nil)

	err := g.UpsertRelationship("a", "b", "CALLS", nil)
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestMemoryGraph_UpsertRelationship_BothEndpointsExist(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph()
	g.UpsertNode("a", []string{"Function"}, nil)
	g.UpsertNode("b", []string{"Function"}, nil)

	if err := g.UpsertRelationship("a", "b", "CALLS", nil); err != nil {
		t.Fatalf("UpsertRelationship: %v", err)
	}

	metrics, err := g.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if metrics.RelationshipCount != 1 {
		t.Errorf("RelationshipCount = %d, want 1", metrics.RelationshipCount)
	}
	if metrics.RelationshipTypes["CALLS"] != 1 {
		t.Errorf("RelationshipTypes[CALLS] = %d, want 1", metrics.RelationshipTypes["CALLS"])
	}
}

func TestMemoryGraph_MatchNodes_RespectsLimit(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph()
	for _, k := range []string{"a", "b", "c"} {
		g.UpsertNode(k, []string{"Function"}, nil)
	}

	rows := g.MatchNodes("Function", nil, 2)
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
}

func TestMemoryGraph_MatchNodes_NoLabelMatchesAll(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph()
	g.UpsertNode("a", []string{"Function"}, nil)
	g.UpsertNode("b", []string{"Module"}, nil)

	rows := g.MatchNodes("", nil, 0)
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
}

func TestMemoryGraph_ExecuteWrite_UpsertNode(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph()
	err := g.ExecuteWrite(context.Background(), "", map[string]any{
		"op":         "upsert_node",
		"label":      "Function",
		"key":        "f",
		"properties": map[string]any{"x": 1},
	})
	if err != nil {
		t.Fatalf("ExecuteWrite: %v", err)
	}

	rows := g.MatchNodes("Function", nil, 0)
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
}

func TestMemoryGraph_ExecuteWrite_UnsupportedOp(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph()
	err := g.ExecuteWrite(context.Background(), "", map[string]any{"op": "delete_everything"})
	if !apperr.Is(err, apperr.InvalidInput) {
		t.Fatalf("err = %v, want InvalidInput", err)
	}
}

func TestMemoryGraph_ExecuteWriteTx_OrdersStatements(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph()
	err := g.ExecuteWriteTx(context.Background(), func(ctx context.Context, tx outbound.Tx) error {
		if err := tx.Run(ctx, "", map[string]any{"op": "upsert_node", "label": "Function", "key": "a"}); err != nil {
			return err
		}
		if err := tx.Run(ctx, "", map[string]any{"op": "upsert_node", "label": "Function", "key": "b"}); err != nil {
			return err
		}
		return tx.Run(ctx, "", map[string]any{
			"op": "upsert_relationship",
			"start_key": "a", "end_key": "b",
			"type": "CALLS",
		})
	})
	if err != nil {
		t.Fatalf("ExecuteWriteTx: %v", err)
	}

	metrics, _ := g.Metrics(context.Background())
	if metrics.RelationshipCount != 1 {
		t.Errorf("RelationshipCount = %d, want 1", metrics.RelationshipCount)
	}
}

func TestMemoryGraph_Health(t *testing.T) {
	t.Parallel()

	g := NewMemoryGraph()
	if !g.Health(context.Background()) {
		t.Error("expected in-memory store to always report healthy")
	}
}

func TestLabelsReferencedIn(t *testing.T) {
	t.Parallel()

	query := "MATCH (f:Function)-[:CALLS]->(g:Function) RETURN f, g"
	labels := LabelsReferencedIn(query)

	seen := map[string]bool{}
	for _, l := range labels {
		seen[l] = true
	}
	if !seen["Function"] {
		t.Errorf("labels = %v, want Function present", labels)
	}
	if !seen["CALLS"] {
		t.Errorf("labels = %v, want CALLS present", labels)
	}
}

func TestLabelsReferencedIn_NoLabels(t *testing.T) {
	t.Parallel()

	if labels := LabelsReferencedIn("RETURN 1"); len(labels) != 0 {
		t.Errorf("labels = %v, want none", labels)
	}
}
