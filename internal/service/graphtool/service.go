// Package graphtool implements the graph tool (C14): validated upsert
// and query against the configured graph store.
package graphtool

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/domain/audit"
	"github.com/ultimate-mcp/mcpd/internal/domain/graphtool"
	"github.com/ultimate-mcp/mcpd/internal/domain/validation"
	"github.com/ultimate-mcp/mcpd/internal/port/outbound"
)

// DefaultRowLimit is the server-side ceiling on rows a query may
// return, per spec §4.11.
const DefaultRowLimit = 10000

// UpsertRequest is one upsert call's input: every node is MERGEd
// before any relationship that references it, in a single
// transaction.
type UpsertRequest struct {
	Nodes         []graphtool.Node
	Relationships []graphtool.Relationship
}

// QueryRequest is one read-path query call's input.
type QueryRequest struct {
	Text     string
	Params   map[string]any
	RowLimit int // 0 uses DefaultRowLimit
}

// Service implements the graph tool.
type Service struct {
	graph     outbound.GraphClient
	auditLog  audit.Store
	logger    *slog.Logger
	denyRules *DenyEvaluator
}

func New(graph outbound.GraphClient, auditLog audit.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{graph: graph, auditLog: auditLog, logger: logger}
}

// WithDenyRules attaches operator-defined CEL deny rules (evaluated on
// top of the static RBAC table, never in place of it) and returns s for
// chaining at construction time.
func (s *Service) WithDenyRules(d *DenyEvaluator) *Service {
	s.denyRules = d
	return s
}

// Upsert validates every node and relationship, then MERGEs all nodes
// before any relationship inside one write transaction: either all
// succeed or the whole batch rolls back.
func (s *Service) Upsert(ctx context.Context, correlationID, userID string, req UpsertRequest) (*graphtool.UpsertResult, error) {
	if err := validateUpsertRequest(req); err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(req.Nodes))
	for _, n := range req.Nodes {
		labels = append(labels, n.Labels...)
	}
	if err := s.denyRules.Check(ctx, "graph_upsert", userID, "", labels); err != nil {
		return nil, err
	}

	err := s.graph.ExecuteWriteTx(ctx, func(ctx context.Context, tx outbound.Tx) error {
		for _, n := range req.Nodes {
			if err := tx.Run(ctx, "", map[string]any{
				"op":         "upsert_node",
				"labels":     n.Labels,
				"key":        n.Key,
				"properties": n.Properties,
			}); err != nil {
				return err
			}
		}
		for _, r := range req.Relationships {
			if err := tx.Run(ctx, "", map[string]any{
				"op":         "upsert_relationship",
				"start_key":  r.Start,
				"end_key":    r.End,
				"type":       r.Type,
				"properties": r.Properties,
			}); err != nil {
				return err
			}
		}
		return nil
	})

	result := &graphtool.UpsertResult{NodesUpserted: len(req.Nodes), RelationshipsUpserted: len(req.Relationships)}
	s.emitAuditEvent(ctx, correlationID, userID, audit.EventGraphWrite, err)
	if err != nil {
		// A dangling relationship endpoint is a client mistake (NotFound),
		// not a store outage: only re-kind errors the store didn't already
		// classify.
		switch apperr.KindOf(err) {
		case apperr.NotFound, apperr.InvalidInput:
			return nil, err
		default:
			return nil, apperr.Wrap(apperr.DependencyUnavailable, "upserting graph batch", err)
		}
	}
	return result, nil
}

// Query validates text as a read-only query, executes it through C8's
// cached read path, and normalizes rows to JSON-safe values, capped at
// RowLimit (default 10,000).
func (s *Service) Query(ctx context.Context, correlationID, userID string, req QueryRequest) (*graphtool.QueryResult, error) {
	if err := validation.ValidateGraphQuery(req.Text); err != nil {
		return nil, err
	}
	if err := s.denyRules.Check(ctx, "graph_query", userID, req.Text, nil); err != nil {
		return nil, err
	}

	limit := req.RowLimit
	if limit <= 0 {
		limit = DefaultRowLimit
	}

	params := map[string]any{}
	for k, v := range req.Params {
		params[k] = v
	}
	params["limit"] = limit + 1 // fetch one extra row to detect truncation

	rows, err := s.graph.ExecuteRead(ctx, req.Text, params)
	s.emitAuditEvent(ctx, correlationID, userID, audit.EventGraphRead, err)
	if err != nil {
		return nil, apperr.Wrap(apperr.DependencyUnavailable, "executing graph query", err)
	}

	truncated := len(rows) > limit
	if truncated {
		rows = rows[:limit]
	}

	normalized := make([]map[string]any, len(rows))
	for i, row := range rows {
		normalized[i] = normalizeRow(row)
	}

	return &graphtool.QueryResult{
		Rows:        normalized,
		Truncated:   truncated,
		RowLimit:    limit,
		MatchedRows: len(normalized),
	}, nil
}

func validateUpsertRequest(req UpsertRequest) error {
	for _, n := range req.Nodes {
		if err := validation.ValidateIdentifier(n.Key); err != nil {
			return err
		}
		for _, l := range n.Labels {
			if err := validation.ValidateIdentifier(l); err != nil {
				return err
			}
		}
		for _, v := range n.Properties {
			if err := validation.ValidatePropertyValue(v); err != nil {
				return err
			}
		}
	}
	for _, r := range req.Relationships {
		if err := validation.ValidateIdentifier(r.Start); err != nil {
			return err
		}
		if err := validation.ValidateIdentifier(r.End); err != nil {
			return err
		}
		if err := validation.ValidateIdentifier(r.Type); err != nil {
			return err
		}
		for _, v := range r.Properties {
			if err := validation.ValidatePropertyValue(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// normalizeRow converts a raw row's values to JSON-safe scalars,
// slices, and maps: unrecognized concrete types are stringified rather
// than surfaced as opaque Go values a client couldn't decode.
func normalizeRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil, bool, string, float64, int, int64:
		return val
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeValue(e)
		}
		return out
	case map[string]any:
		return normalizeRow(val)
	default:
		return v
	}
}

func (s *Service) emitAuditEvent(ctx context.Context, correlationID, userID string, eventType audit.EventType, err error) {
	severity := audit.SeverityInfo
	if err != nil {
		severity = audit.SeverityWarning
	}
	event := audit.Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Timestamp:     time.Now().UTC(),
		UserID:        userID,
		CorrelationID: correlationID,
		Severity:      severity,
		Attributes:    map[string]any{"success": err == nil},
	}
	if appendErr := s.auditLog.Append(ctx, event); appendErr != nil {
		s.logger.Warn("appending graph audit event failed", slog.Any("error", appendErr))
	}
}
