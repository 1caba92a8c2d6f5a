// Package outbound declares the ports this service depends on but does
// not implement directly — adapters in internal/adapter/outbound satisfy
// them.
package outbound

import "context"

// Row is one record returned by a read query.
type Row map[string]any

// Tx is a single graph transaction handle, passed to the function given
// to GraphClient.ExecuteWriteTx. All statements run through Tx commit or
// roll back together.
type Tx interface {
	Run(ctx context.Context, query string, params map[string]any) error
}

// Metrics summarizes the graph's current content, used for the admin
// stats surface and for capacity-aware alerting.
type Metrics struct {
	NodeCount         int64
	RelationshipCount int64
	Labels            map[string]int64
	RelationshipTypes map[string]int64
}

// GraphClient is the port C14 (and C9's graph-backed audit mirror) use to
// talk to the graph store. Implementations are responsible for pooling,
// retry, circuit-breaking, and read-side caching — callers see only a
// parameterized-query contract.
type GraphClient interface {
	// ExecuteRead runs a read-only query and returns its result rows.
	ExecuteRead(ctx context.Context, query string, params map[string]any) ([]Row, error)

	// ExecuteWrite runs a single write statement.
	ExecuteWrite(ctx context.Context, query string, params map[string]any) error

	// ExecuteWriteTx runs fn inside one write transaction, so multiple
	// statements commit or roll back atomically. Used to upsert a batch
	// of nodes before the relationships that reference them.
	ExecuteWriteTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Health reports whether the store is currently reachable.
	Health(ctx context.Context) bool

	// Metrics returns a snapshot of the graph's size and shape.
	Metrics(ctx context.Context) (Metrics, error)
}
