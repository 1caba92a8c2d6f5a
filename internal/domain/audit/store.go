package audit

import (
	"context"
	"errors"
	"time"
)

// ErrDateRangeExceeded is returned when a query date range exceeds the
// maximum allowed span.
var ErrDateRangeExceeded = errors.New("date range exceeds maximum of 7 days")

// Store persists audit events. Append must be non-blocking from the
// caller's perspective — the request pipeline's audit stage fires it and
// moves on without waiting on disk or graph I/O.
type Store interface {
	// Append stores events. Order among events in one call is preserved.
	Append(ctx context.Context, events ...Event) error

	// Flush forces any buffered events to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Filter specifies query parameters for audit log queries.
type Filter struct {
	StartTime time.Time
	EndTime   time.Time
	Type      EventType
	UserID    string
	// Limit is the maximum number of records to return (default 100, max 1000).
	Limit int
	// Cursor is the pagination cursor for fetching the next page (optional).
	Cursor string
}

// TypeStats holds per-event-type counts for a time period.
type TypeStats struct {
	Count int64
}

// Stats is aggregated audit statistics for a time period.
type Stats struct {
	TotalEvents        int64
	UniqueUsers        int64
	ByType             map[EventType]int64
	SecurityViolations int64
	RateLimitedCount   int64
}

// QueryStore provides read access to audit events, kept separate from
// Store because most deployments route writes through the hot pipeline
// path but reads through an admin surface with different latency and
// consistency requirements.
type QueryStore interface {
	// Query retrieves events matching filter.
	// Returns ErrDateRangeExceeded if EndTime - StartTime > 7 days.
	Query(ctx context.Context, filter Filter) ([]Event, string, error)

	// QueryStats returns aggregated statistics for the given time range.
	QueryStats(ctx context.Context, start, end time.Time) (*Stats, error)
}
