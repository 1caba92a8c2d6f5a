package generation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/domain/audit"
	"github.com/ultimate-mcp/mcpd/internal/domain/generation"
	"github.com/ultimate-mcp/mcpd/internal/port/outbound"
)

// ArtifactLabel is the graph-node label generation artifacts are
// persisted under.
const ArtifactLabel = "GenerationResult"

// Request is one render's input. Context is validated and discarded
// after rendering — it is never logged, audited, or persisted.
type Request struct {
	Template string
	Context  map[string]any
	Language string
}

// Service implements the generation tool: validate context shape,
// render, persist the rendered output, audit.
type Service struct {
	graph    outbound.GraphClient
	auditLog audit.Store
	logger   *slog.Logger
}

func New(graph outbound.GraphClient, auditLog audit.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{graph: graph, auditLog: auditLog, logger: logger}
}

// Render renders req.Template against req.Context, persists the
// resulting artifact (output only, never the context), and emits an
// audit event.
func (s *Service) Render(ctx context.Context, correlationID, userID string, req Request) (*generation.Artifact, error) {
	output, err := renderTemplate(req.Template, req.Context)
	if err != nil {
		return nil, err
	}

	artifact := &generation.Artifact{
		ID:        uuid.New().String(),
		Language:  req.Language,
		Output:    output,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.persist(ctx, artifact); err != nil {
		s.logger.Warn("persisting generation artifact failed", slog.Any("error", err))
	}
	s.emitAuditEvent(ctx, correlationID, userID, artifact)

	return artifact, nil
}

func (s *Service) persist(ctx context.Context, a *generation.Artifact) error {
	props := map[string]any{
		"id":         a.ID,
		"language":   a.Language,
		"output":     a.Output,
		"created_at": a.CreatedAt.Format(time.RFC3339Nano),
	}
	err := s.graph.ExecuteWrite(ctx, "", map[string]any{
		"op":         "upsert_node",
		"label":      ArtifactLabel,
		"key":        a.ID,
		"properties": props,
	})
	if err != nil {
		return apperr.Wrap(apperr.DependencyUnavailable, "persisting generation artifact", err)
	}
	return nil
}

func (s *Service) emitAuditEvent(ctx context.Context, correlationID, userID string, a *generation.Artifact) {
	event := audit.Event{
		ID:            uuid.New().String(),
		Type:          audit.EventGraphWrite,
		Timestamp:     time.Now().UTC(),
		UserID:        userID,
		CorrelationID: correlationID,
		Severity:      audit.SeverityInfo,
		Attributes: map[string]any{
			"language":     a.Language,
			"output_bytes": len(a.Output),
		},
	}
	if err := s.auditLog.Append(ctx, event); err != nil {
		s.logger.Warn("appending generation audit event failed", slog.Any("error", err))
	}
}
