package exec

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/domain/audit"
	"github.com/ultimate-mcp/mcpd/internal/domain/cache"
	"github.com/ultimate-mcp/mcpd/internal/domain/execution"
	"github.com/ultimate-mcp/mcpd/internal/domain/validation"
	"github.com/ultimate-mcp/mcpd/internal/port/outbound"
)

// ArtifactLabel is the graph-node label execution artifacts are
// persisted under.
const ArtifactLabel = "ExecutionResult"

// Request is one run's input.
type Request struct {
	Source      []byte
	Language    string
	Strict      bool
	TimeoutSecs int // 0 uses the configured default
}

// Defaults carries the configured fallbacks and ceilings applied to a
// Request: C1's ExecutionConfig, unpacked so this package does not
// import the config package directly.
type Defaults struct {
	TimeoutSecs      int
	MaxTimeoutSecs   int
	MemoryLimitBytes int64
	FileLimitBytes   int64
	FDLimit          int
	OutputLimitBytes int
	CacheResults     bool
	EnabledLanguages []string
}

// Service implements the execution tool: validate, run under the
// worker pool, persist, audit.
type Service struct {
	pool     *Pool
	defaults Defaults
	cache    *cache.Cache // nil when CacheResults is disabled
	graph    outbound.GraphClient
	auditLog audit.Store
	logger   *slog.Logger
}

// New constructs a Service. resultCache may be nil even when
// defaults.CacheResults is true; the service then behaves as if
// caching were disabled.
func New(pool *Pool, defaults Defaults, resultCache *cache.Cache, graph outbound.GraphClient, auditLog audit.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, defaults: defaults, cache: resultCache, graph: graph, auditLog: auditLog, logger: logger}
}

func (s *Service) languageEnabled(language string) bool {
	for _, l := range s.defaults.EnabledLanguages {
		if l == language {
			return true
		}
	}
	return false
}

// Run validates req, executes it (or serves a cache hit), persists the
// resulting artifact, and emits a code_exec audit event unconditionally
// — including on a cache hit, tagged cache_hit=true.
func (s *Service) Run(ctx context.Context, correlationID, userID string, req Request) (*execution.Artifact, error) {
	if !s.languageEnabled(req.Language) {
		return nil, apperr.New(apperr.InvalidInput, "language not enabled: "+req.Language)
	}
	if err := validation.ValidateCode(ctx, req.Source, req.Language, req.Strict); err != nil {
		return nil, err
	}

	limits := s.resolveLimits(req)
	codeHash := execution.CodeHash(req.Source)
	cacheKey := execution.CacheKey(codeHash, req.Language, limits)

	if s.cache != nil && s.defaults.CacheResults {
		if cached, ok := s.cache.Get(cacheKey); ok {
			artifact := cloneArtifact(cached.(*execution.Artifact))
			artifact.CacheHit = true
			s.emitAuditEvent(ctx, correlationID, userID, artifact)
			return artifact, nil
		}
	}

	result, runErr := s.pool.Run(ctx, req.Source, req.Language, limits)
	if result == nil {
		// No result at all (e.g. Busy before a process was even
		// attempted) is a transport-level failure, not an artifact.
		return nil, runErr
	}
	if runErr != nil {
		// A populated Result with a non-nil error (spawn failure,
		// internal wait error) still produces an artifact carrying the
		// failure Reason, matching "NonZeroExit is reported as success"
		// spec reads for terminal-but-non-Internal outcomes.
		s.logger.Warn("execution run ended with an error", slog.String("reason", string(result.Reason)), slog.Any("error", runErr))
	}

	artifact := &execution.Artifact{
		ID:              uuid.New().String(),
		CodeHash:        codeHash,
		Language:        req.Language,
		ReturnCode:      result.ReturnCode,
		Stdout:          result.Stdout,
		Stderr:          result.Stderr,
		DurationMs:      result.Duration.Milliseconds(),
		PeakMemoryBytes: result.PeakMemoryBytes,
		Truncated:       result.Truncated,
		Reason:          result.Reason,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.persist(ctx, artifact); err != nil {
		s.logger.Warn("persisting execution artifact failed", slog.Any("error", err))
	}
	s.emitAuditEvent(ctx, correlationID, userID, artifact)

	if s.cache != nil && s.defaults.CacheResults && artifact.Reason == execution.ReasonNone {
		s.cache.Set(cacheKey, artifact, 5*time.Minute)
	}

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

func (s *Service) persist(ctx context.Context, a *execution.Artifact) error {
	props := map[string]any{
		"id":                a.ID,
		"code_hash":         a.CodeHash,
		"language":          a.Language,
		"return_code":       a.ReturnCode,
		"stdout":            a.Stdout,
		"stderr":            a.Stderr,
		"duration_ms":       a.DurationMs,
		"peak_memory_bytes": a.PeakMemoryBytes,
		"truncated_flag":    a.Truncated,
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
		return apperr.Wrap(apperr.DependencyUnavailable, "persisting execution artifact", err)
	}
	return nil
}

func (s *Service) emitAuditEvent(ctx context.Context, correlationID, userID string, a *execution.Artifact) {
	event := audit.Event{
		ID:            uuid.New().String(),
		Type:          audit.EventCodeExec,
		Timestamp:     time.Now().UTC(),
		UserID:        userID,
		CorrelationID: correlationID,
		Severity:      severityFor(a),
		Attributes: map[string]any{
			"code_hash":   a.CodeHash,
			"language":    a.Language,
			"return_code": a.ReturnCode,
			"reason":      string(a.Reason),
			"cache_hit":   a.CacheHit,
		},
	}
	if err := s.auditLog.Append(ctx, event); err != nil {
		s.logger.Warn("appending code_exec audit event failed", slog.Any("error", err))
	}
}

func severityFor(a *execution.Artifact) audit.Severity {
	switch a.Reason {
	case execution.ReasonTimeout, execution.ReasonMemoryExceeded, execution.ReasonSpawnFailed, execution.ReasonInternal:
		return audit.SeverityWarning
	default:
		return audit.SeverityInfo
	}
}

func cloneArtifact(a *execution.Artifact) *execution.Artifact {
	clone := *a
	clone.ID = uuid.New().String()
	clone.CreatedAt = time.Now().UTC()
	return &clone
}
