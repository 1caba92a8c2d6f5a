// Package lint implements the static-lint tool (C10): it parses
// submitted source, extracts structural facts from the AST built for
// input validation, optionally runs an external analyzer, and persists
// the result as a lint artifact.
package lint

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	lintdomain "github.com/ultimate-mcp/mcpd/internal/domain/lint"
	"github.com/ultimate-mcp/mcpd/internal/domain/validation"
	"github.com/ultimate-mcp/mcpd/internal/port/outbound"
)

// ArtifactLabel is the graph-node label lint artifacts are persisted
// under.
const ArtifactLabel = "LintResult"

// AnalyzerVersion identifies the analyzer configuration in force,
// forming the second half of the (code_hash, analyzer_version)
// idempotency key; bumping it (e.g. after changing an analyzer's
// command or flags) deliberately invalidates prior artifacts.
const AnalyzerVersion = "v1"

// Request is one lint invocation's input.
type Request struct {
	Source   []byte
	Language string
}

// Service implements the lint tool.
type Service struct {
	graph    outbound.GraphClient
	analyzer Analyzer
	logger   *slog.Logger
}

// New constructs a Service. analyzer may be nil, meaning no external
// analyzer is configured for any language.
func New(graph outbound.GraphClient, analyzer Analyzer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{graph: graph, analyzer: analyzer, logger: logger}
}

// Lint parses req.Source, extracts its structural facts, optionally
// runs the configured analyzer, and persists the resulting artifact.
func (s *Service) Lint(ctx context.Context, req Request) (*lintdomain.Artifact, error) {
	tree, err := validation.ParseWithinBounds(ctx, req.Source, req.Language)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	structure := extractStructure(root, req.Source, req.Language)
	complexity := validation.ComplexityOf(root)

	artifact := &lintdomain.Artifact{
		ID:              uuid.New().String(),
		CodeHash:        lintdomain.CodeHash(req.Source),
		Language:        req.Language,
		Functions:       structure.functions,
		Classes:         structure.classes,
		Imports:         structure.imports,
		Complexity:      complexity,
		AnalyzerVersion: AnalyzerVersion,
		CreatedAt:       time.Now().UTC(),
	}

	if s.analyzer != nil {
		result, err := s.analyzer.Analyze(ctx, req.Language, req.Source)
		if err != nil {
			s.logger.Warn("external analyzer failed, reporting structural facts only",
				slog.String("language", req.Language), slog.Any("error", err))
		} else {
			artifact.AnalyzerExitCode = result.ExitCode
			artifact.AnalyzerOutput = result.Output
		}
	}

	if err := s.persist(ctx, artifact); err != nil {
		return nil, err
	}
	return artifact, nil
}

// persist upserts the artifact keyed by (code_hash, analyzer_version),
// the idempotency key spec'd for lint results: relinting identical
// source under the same analyzer configuration overwrites in place
// rather than accumulating duplicate nodes.
func (s *Service) persist(ctx context.Context, a *lintdomain.Artifact) error {
	key := idempotencyKey(a.CodeHash, a.AnalyzerVersion)
	props := map[string]any{
		"id":                 a.ID,
		"code_hash":          a.CodeHash,
		"language":           a.Language,
		"functions":          a.Functions,
		"classes":            a.Classes,
		"imports":            a.Imports,
		"complexity":         a.Complexity,
		"analyzer_version":   a.AnalyzerVersion,
		"analyzer_exit_code": a.AnalyzerExitCode,
		"analyzer_output":    a.AnalyzerOutput,
		"created_at":         a.CreatedAt.Format(time.RFC3339Nano),
	}
	err := s.graph.ExecuteWrite(ctx, "", map[string]any{
		"op":         "upsert_node",
		"label":      ArtifactLabel,
		"key":        key,
		"properties": props,
	})
	if err != nil {
		return apperr.Wrap(apperr.DependencyUnavailable, "persisting lint artifact", err)
	}
	return nil
}

func idempotencyKey(codeHash, analyzerVersion string) string {
	return fmt.Sprintf("%s:%s", codeHash, analyzerVersion)
}
