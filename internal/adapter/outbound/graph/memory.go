// Package graph provides outbound.GraphClient adapters: an in-memory
// store for development and tests, and a pooling/retry/breaker/cache
// wrapper that can front any concrete driver.
package graph

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/port/outbound"
)

type node struct {
	key        string
	labels     []string
	properties map[string]any
}

type relationship struct {
	startKey   string
	endKey     string
	relType    string
	properties map[string]any
}

// MemoryGraph is a minimal in-process graph store. It is not a Cypher
// engine: it understands the fixed set of structured operations the
// graph tool issues (upsert node, upsert relationship, match by label/
// key/property) rather than parsing arbitrary query text. It exists so
// the service runs end to end without a configured external graph
// database, matching spec's treatment of the concrete graph store as an
// optional external collaborator.
type MemoryGraph struct {
	mu    sync.RWMutex
	nodes map[string]*node // key -> node; key is the primary identity, spec §3
	rels  []*relationship
}

// NewMemoryGraph creates an empty in-memory graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		nodes: make(map[string]*node),
	}
}

// UpsertNode creates or merges a node identified by key: labels are
// set to labels (a MERGE ... SET n:Label overwrite, not an
// accumulation), and properties are merged into any existing set.
func (g *MemoryGraph) UpsertNode(key string, labels []string, properties map[string]any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[key]
	if !ok {
		n = &node{key: key, properties: map[string]any{}}
		g.nodes[key] = n
	}
	n.labels = labels
	for k, v := range properties {
		n.properties[k] = v
	}
}

// UpsertRelationship creates a relationship between two existing nodes,
// looked up by key alone (key is globally unique, spec §3). Returns
// apperr.NotFound if either endpoint doesn't exist, enforcing the
// "nodes before relationships" ordering invariant at the storage layer.
func (g *MemoryGraph) UpsertRelationship(startKey, endKey, relType string, properties map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[startKey]; !ok {
		return apperr.New(apperr.NotFound, "relationship start node does not exist: "+startKey)
	}
	if _, ok := g.nodes[endKey]; !ok {
		return apperr.New(apperr.NotFound, "relationship end node does not exist: "+endKey)
	}

	g.rels = append(g.rels, &relationship{
		startKey:   startKey,
		endKey:     endKey,
		relType:    relType,
		properties: properties,
	})
	return nil
}

// MatchNodes returns every node carrying label, optionally filtered to
// those whose properties are a superset of filter.
func (g *MemoryGraph) MatchNodes(label string, filter map[string]any, limit int) []outbound.Row {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []outbound.Row
	keys := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		keys = append(keys, id)
	}
	sort.Strings(keys) // deterministic iteration order for callers/tests

	for _, id := range keys {
		n := g.nodes[id]
		if !hasLabel(n.labels, label) {
			continue
		}
		if !matchesFilter(n.properties, filter) {
			continue
		}
		row := outbound.Row{"key": n.key, "labels": n.labels}
		for k, v := range n.properties {
			row[k] = v
		}
		out = append(out, row)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func hasLabel(labels []string, want string) bool {
	if want == "" {
		return true
	}
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

func matchesFilter(props, filter map[string]any) bool {
	for k, v := range filter {
		if props[k] != v {
			return false
		}
	}
	return true
}

// ExecuteRead satisfies outbound.GraphClient. query is used only to
// classify the call for observability; the actual predicate comes from
// params ("label", "filter", "limit").
func (g *MemoryGraph) ExecuteRead(ctx context.Context, query string, params map[string]any) ([]outbound.Row, error) {
	label, _ := params["label"].(string)
	filter, _ := params["filter"].(map[string]any)
	limit, _ := params["limit"].(int)
	return g.MatchNodes(label, filter, limit), nil
}

// ExecuteWrite satisfies outbound.GraphClient, dispatching on the
// "op" parameter ("upsert_node" or "upsert_relationship").
func (g *MemoryGraph) ExecuteWrite(ctx context.Context, query string, params map[string]any) error {
	return g.dispatchWrite(params)
}

func (g *MemoryGraph) dispatchWrite(params map[string]any) error {
	op, _ := params["op"].(string)
	switch op {
	case "upsert_node":
		key, _ := params["key"].(string)
		props, _ := params["properties"].(map[string]any)
		return g.dispatchUpsertNode(key, params, props)
	case "upsert_relationship":
		startKey, _ := params["start_key"].(string)
		endKey, _ := params["end_key"].(string)
		relType, _ := params["type"].(string)
		props, _ := params["properties"].(map[string]any)
		return g.UpsertRelationship(startKey, endKey, relType, props)
	default:
		return apperr.New(apperr.InvalidInput, "unsupported graph write op: "+op)
	}
}

// dispatchUpsertNode resolves the label list a write call supplies:
// "labels" ([]string) when the caller sets multiple labels explicitly
// (the graph tool's upsert), or the single "label" string the
// tool-artifact persisters use.
func (g *MemoryGraph) dispatchUpsertNode(key string, params, props map[string]any) error {
	if labels, ok := params["labels"].([]string); ok {
		g.UpsertNode(key, labels, props)
		return nil
	}
	label, _ := params["label"].(string)
	g.UpsertNode(key, []string{label}, props)
	return nil
}

// memTx adapts MemoryGraph to the outbound.Tx contract used inside
// ExecuteWriteTx.
type memTx struct {
	g *MemoryGraph
}

func (t *memTx) Run(ctx context.Context, query string, params map[string]any) error {
	return t.g.dispatchWrite(params)
}

// ExecuteWriteTx runs fn with a Tx bound to this store. The in-memory
// store applies writes immediately and has no partial-failure rollback;
// fn's statements are still executed in the order it calls them, which
// is what upholds the nodes-before-relationships invariant.
func (g *MemoryGraph) ExecuteWriteTx(ctx context.Context, fn func(ctx context.Context, tx outbound.Tx) error) error {
	return fn(ctx, &memTx{g: g})
}

// Health always reports true: the in-memory store cannot become
// unreachable the way a network-backed driver can.
func (g *MemoryGraph) Health(ctx context.Context) bool {
	return true
}

// Metrics summarizes the current node/relationship population.
func (g *MemoryGraph) Metrics(ctx context.Context) (outbound.Metrics, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	m := outbound.Metrics{
		Labels:            make(map[string]int64),
		RelationshipTypes: make(map[string]int64),
	}
	m.NodeCount = int64(len(g.nodes))
	for _, n := range g.nodes {
		for _, l := range n.labels {
			m.Labels[l]++
		}
	}
	m.RelationshipCount = int64(len(g.rels))
	for _, r := range g.rels {
		m.RelationshipTypes[r.relType]++
	}
	return m, nil
}

// LabelsReferencedIn extracts graph node labels (`:Label` tokens) from a
// Cypher-style query string, used by the pooled wrapper to derive which
// cache-invalidation label versions a write statement touches.
func LabelsReferencedIn(query string) []string {
	var labels []string
	for _, tok := range strings.FieldsFunc(query, func(r rune) bool {
		return r == '(' || r == ')' || r == '{' || r == ' ' || r == ','
	}) {
		if strings.HasPrefix(tok, ":") && len(tok) > 1 {
			labels = append(labels, tok[1:])
		}
	}
	return labels
}
