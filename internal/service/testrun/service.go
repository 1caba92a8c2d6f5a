package testrun

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/domain/audit"
	"github.com/ultimate-mcp/mcpd/internal/domain/execution"
	"github.com/ultimate-mcp/mcpd/internal/domain/testrun"
	"github.com/ultimate-mcp/mcpd/internal/domain/validation"
	"github.com/ultimate-mcp/mcpd/internal/port/outbound"
)

// ArtifactLabel is the graph-node label test artifacts are persisted
// under.
const ArtifactLabel = "TestResult"

// Request is one test-harness run's input.
type Request struct {
	Source      []byte
	Language    string
	Strict      bool
	TimeoutSecs int
}

// Defaults mirrors exec.Defaults; the test tool shares the execution
// tool's configured limits rather than carrying its own.
type Defaults struct {
	TimeoutSecs      int
	MaxTimeoutSecs   int
	MemoryLimitBytes int64
	FileLimitBytes   int64
	FDLimit          int
	OutputLimitBytes int
	EnabledLanguages []string
}

// Service implements the test tool: validate, run under the harness
// worker pool, best-effort parse, persist, audit.
type Service struct {
	pool     *Pool
	defaults Defaults
	graph    outbound.GraphClient
	auditLog audit.Store
	logger   *slog.Logger
}

func New(pool *Pool, defaults Defaults, graph outbound.GraphClient, auditLog audit.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, defaults: defaults, graph: graph, auditLog: auditLog, logger: logger}
}

func (s *Service) languageEnabled(language string) bool {
	for _, l := range s.defaults.EnabledLanguages {
		if l == language {
			return true
		}
	}
	return false
}

// Run validates req, runs the test harness, best-effort parses the
// harness output, persists the resulting artifact, and emits a
// code_exec audit event.
func (s *Service) Run(ctx context.Context, correlationID, userID string, req Request) (*testrun.Artifact, error) {
	if !s.languageEnabled(req.Language) {
		return nil, apperr.New(apperr.InvalidInput, "language not enabled: "+req.Language)
	}
	if _, _, ok := HarnessFor(req.Language); !ok {
		return nil, apperr.New(apperr.InvalidInput, "no test harness for language: "+req.Language)
	}
	if err := validation.ValidateCode(ctx, req.Source, req.Language, req.Strict); err != nil {
		return nil, err
	}

	limits := s.resolveLimits(req)
	result, runErr := s.pool.Run(ctx, req.Source, req.Language, limits)
	if result == nil {
		return nil, runErr
	}
	if runErr != nil {
		s.logger.Warn("test run ended with an error", slog.String("reason", string(result.Reason)), slog.Any("error", runErr))
	}

	framework := frameworkFor(req.Language)
	passed, failed, parseOK := parseHarnessOutput(framework, result.Stdout)

	artifact := &testrun.Artifact{
		ID:              uuid.New().String(),
		Framework:       framework,
		ReturnCode:      result.ReturnCode,
		Stdout:          result.Stdout,
		Stderr:          result.Stderr,
		DurationMs:      result.Duration.Milliseconds(),
		PeakMemoryBytes: result.PeakMemoryBytes,
		Truncated:       result.Truncated,
		Passed:          passed,
		Failed:          failed,
		ParseOK:         parseOK,
		Reason:          result.Reason,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.persist(ctx, artifact); err != nil {
		s.logger.Warn("persisting test artifact failed", slog.Any("error", err))
	}
	s.emitAuditEvent(ctx, correlationID, userID, artifact)

	return artifact, nil
}

func (s *Service) resolveLimits(req Request) execution.Limits {
	timeout := req.TimeoutSecs
	if timeout <= 0 {
		timeout = s.defaults.TimeoutSecs
	}
	if timeout > s.defaults.MaxTimeoutSecs {
		timeout = s.defaults.MaxTimeoutSecs
	}
	return execution.Limits{
		TimeoutSecs:      timeout,
		MemoryLimitBytes: s.defaults.MemoryLimitBytes,
		FileLimitBytes:   s.defaults.FileLimitBytes,
		FDLimit:          s.defaults.FDLimit,
		OutputLimitBytes: s.defaults.OutputLimitBytes,
	}
}

func (s *Service) persist(ctx context.Context, a *testrun.Artifact) error {
	props := map[string]any{
		"id":                a.ID,
		"framework":         a.Framework,
		"return_code":       a.ReturnCode,
		"stdout":            a.Stdout,
		"stderr":            a.Stderr,
		"duration_ms":       a.DurationMs,
		"peak_memory_bytes": a.PeakMemoryBytes,
		"truncated_flag":    a.Truncated,
		"passed":            a.Passed,
		"failed":            a.Failed,
		"parse_ok":          a.ParseOK,
		"reason":            string(a.Reason),
		"created_at":        a.CreatedAt.Format(time.RFC3339Nano),
	}
	err := s.graph.ExecuteWrite(ctx, "", map[string]any{
		"op":         "upsert_node",
		"label":      ArtifactLabel,
		"key":        a.ID,
		"properties": props,
	})
	if err != nil {
		return apperr.Wrap(apperr.DependencyUnavailable, "persisting test artifact", err)
	}
	return nil
}

func (s *Service) emitAuditEvent(ctx context.Context, correlationID, userID string, a *testrun.Artifact) {
	event := audit.Event{
		ID:            uuid.New().String(),
		Type:          audit.EventCodeExec,
		Timestamp:     time.Now().UTC(),
		UserID:        userID,
		CorrelationID: correlationID,
		Severity:      severityFor(a),
		Attributes: map[string]any{
			"framework":   a.Framework,
			"return_code": a.ReturnCode,
			"reason":      string(a.Reason),
			"parse_ok":    a.ParseOK,
		},
	}
	if err := s.auditLog.Append(ctx, event); err != nil {
		s.logger.Warn("appending code_exec audit event failed", slog.Any("error", err))
	}
}

func severityFor(a *testrun.Artifact) audit.Severity {
	switch a.Reason {
	case execution.ReasonTimeout, execution.ReasonMemoryExceeded, execution.ReasonSpawnFailed, execution.ReasonInternal:
		return audit.SeverityWarning
	default:
		return audit.SeverityInfo
	}
}
