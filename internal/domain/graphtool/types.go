// Package graphtool defines the request/result shapes for the graph
// upsert and query operations exposed by the graph tool (spec §4.11).
package graphtool

// Node is one node to MERGE by Key, setting Labels and Properties.
type Node struct {
	Key        string
	Labels     []string
	Properties map[string]any
}

// Relationship is one relationship to MERGE by (Start, End, Type),
// setting Properties. Start and End are node keys.
type Relationship struct {
	Start      string
	End        string
	Type       string
	Properties map[string]any
}

// UpsertResult reports how many nodes and relationships an upsert
// touched.
type UpsertResult struct {
	NodesUpserted         int
	RelationshipsUpserted int
}

// QueryResult is a bounded, JSON-safe result set.
type QueryResult struct {
	Rows        []map[string]any
	Truncated   bool // true when the row limit cut off further rows
	RowLimit    int
	MatchedRows int // rows actually returned (≤ RowLimit)
}
