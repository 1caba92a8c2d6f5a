package http

import (
	"net/http"

	"github.com/ultimate-mcp/mcpd/internal/domain/audit"
	"github.com/ultimate-mcp/mcpd/internal/domain/auth"
	"github.com/ultimate-mcp/mcpd/internal/domain/graphtool"
	"github.com/ultimate-mcp/mcpd/internal/domain/validation"
	"github.com/ultimate-mcp/mcpd/internal/service/exec"
	"github.com/ultimate-mcp/mcpd/internal/service/generation"
	graphsvc "github.com/ultimate-mcp/mcpd/internal/service/graphtool"
	"github.com/ultimate-mcp/mcpd/internal/service/lint"
	"github.com/ultimate-mcp/mcpd/internal/service/pipeline"
	"github.com/ultimate-mcp/mcpd/internal/service/testrun"
)

// Registration is one entry of the immutable tool registry §4.13 calls
// for: a tool id, the HTTP method/path it answers on, whether it
// requires authentication, the permission it enforces when it does, the
// audit event type its outcomes are tagged with, and the handler itself.
// Both the JSON-over-HTTP mux and the MCP mount build their routes off
// the same Registration list, so a tool's behavior can never drift
// between the two surfaces.
type Registration struct {
	ToolID       string
	Method       string
	Path         string
	AuthRequired bool
	Permission   auth.Permission
	Event        audit.EventType
	Handler      http.Handler
}

// Services bundles the domain tool services the registry wires into
// routes. Every field is required; NewRegistrations panics on a nil
// field since a missing service is a startup configuration bug, not a
// per-request condition.
type Services struct {
	Lint       *lint.Service
	Exec       *exec.Service
	Test       *testrun.Service
	Generation *generation.Service
	Graph      *graphsvc.Service
}

// NewRegistrations builds the fixed, immutable registry of §6's six tool
// routes. The returned slice is never mutated after construction; callers
// that need to reorder or filter it should copy it first.
func NewRegistrations(s Services) []Registration {
	if s.Lint == nil || s.Exec == nil || s.Test == nil || s.Generation == nil || s.Graph == nil {
		panic("http: NewRegistrations called with a nil service")
	}

	return []Registration{
		{
			ToolID:       "lint_code",
			Method:       http.MethodPost,
			Path:         "/lint_code",
			AuthRequired: false,
			Permission:   auth.PermToolsLint,
			Event:        audit.EventToolLint,
			Handler:      lintHandler(s.Lint),
		},
		{
			ToolID:       "execute_code",
			Method:       http.MethodPost,
			Path:         "/execute_code",
			AuthRequired: true,
			Permission:   auth.PermToolsExecute,
			Event:        audit.EventCodeExec,
			Handler:      executeHandler(s.Exec),
		},
		{
			ToolID:       "run_tests",
			Method:       http.MethodPost,
			Path:         "/run_tests",
			AuthRequired: true,
			Permission:   auth.PermToolsTest,
			Event:        audit.EventCodeTest,
			Handler:      testHandler(s.Test),
		},
		{
			ToolID:       "generate_code",
			Method:       http.MethodPost,
			Path:         "/generate_code",
			AuthRequired: true,
			Permission:   auth.PermToolsGenerate,
			Event:        audit.EventCodeGenerate,
			Handler:      generateHandler(s.Generation),
		},
		{
			ToolID:       "graph_upsert",
			Method:       http.MethodPost,
			Path:         "/graph_upsert",
			AuthRequired: true,
			Permission:   auth.PermGraphUpsert,
			Event:        audit.EventGraphWrite,
			Handler:      graphUpsertHandler(s.Graph),
		},
		{
			ToolID:       "graph_query",
			Method:       http.MethodPost,
			Path:         "/graph_query",
			AuthRequired: false,
			Permission:   auth.PermGraphQuery,
			Event:        audit.EventGraphRead,
			Handler:      graphQueryHandler(s.Graph),
		},
	}
}

func lintHandler(svc *lint.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req lintRequestDTO
		if !decodeAndValidate(w, r, &req) {
			return
		}
		artifact, err := svc.Lint(r.Context(), lint.Request{
			Source:   []byte(req.Source),
			Language: req.Language,
		})
		if err != nil {
			pipeline.WriteError(w, r, err)
			return
		}
		pipeline.WriteJSON(w, http.StatusOK, artifact)
	})
}

func executeHandler(svc *exec.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req executeRequestDTO
		if !decodeAndValidate(w, r, &req) {
			return
		}
		correlationID := pipeline.CorrelationIDFromContext(r.Context())
		userID := identityUserID(r)
		artifact, err := svc.Run(r.Context(), correlationID, userID, exec.Request{
			Source:      []byte(req.Source),
			Language:    req.Language,
			Strict:      req.Strict,
			TimeoutSecs: req.TimeoutSecs,
		})
		if err != nil {
			if validation.IsSecurityViolation(err) {
				pipeline.OverrideAuditEvent(r.Context(), audit.EventSecurityViolation)
			}
			pipeline.WriteError(w, r, err)
			return
		}
		pipeline.WriteJSON(w, http.StatusOK, artifact)
	})
}

func testHandler(svc *testrun.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req executeRequestDTO
		if !decodeAndValidate(w, r, &req) {
			return
		}
		correlationID := pipeline.CorrelationIDFromContext(r.Context())
		userID := identityUserID(r)
		artifact, err := svc.Run(r.Context(), correlationID, userID, testrun.Request{
			Source:      []byte(req.Source),
			Language:    req.Language,
			Strict:      req.Strict,
			TimeoutSecs: req.TimeoutSecs,
		})
		if err != nil {
			if validation.IsSecurityViolation(err) {
				pipeline.OverrideAuditEvent(r.Context(), audit.EventSecurityViolation)
			}
			pipeline.WriteError(w, r, err)
			return
		}
		pipeline.WriteJSON(w, http.StatusOK, artifact)
	})
}

func generateHandler(svc *generation.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequestDTO
		if !decodeAndValidate(w, r, &req) {
			return
		}
		correlationID := pipeline.CorrelationIDFromContext(r.Context())
		userID := identityUserID(r)
		artifact, err := svc.Render(r.Context(), correlationID, userID, generation.Request{
			Template: req.Template,
			Context:  req.Context,
			Language: req.Language,
		})
		if err != nil {
			pipeline.WriteError(w, r, err)
			return
		}
		pipeline.WriteJSON(w, http.StatusOK, artifact)
	})
}

func graphUpsertHandler(svc *graphsvc.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphUpsertRequestDTO
		if !decodeAndValidate(w, r, &req) {
			return
		}

		nodes := make([]graphtool.Node, len(req.Nodes))
		for i, n := range req.Nodes {
			nodes[i] = graphtool.Node{Key: n.Key, Labels: n.Labels, Properties: n.Properties}
		}
		rels := make([]graphtool.Relationship, len(req.Relationships))
		for i, rel := range req.Relationships {
			rels[i] = graphtool.Relationship{Start: rel.Start, End: rel.End, Type: rel.Type, Properties: rel.Properties}
		}

		correlationID := pipeline.CorrelationIDFromContext(r.Context())
		userID := identityUserID(r)
		result, err := svc.Upsert(r.Context(), correlationID, userID, graphsvc.UpsertRequest{
			Nodes:         nodes,
			Relationships: rels,
		})
		if err != nil {
			pipeline.WriteError(w, r, err)
			return
		}
		pipeline.WriteJSON(w, http.StatusOK, result)
	})
}

func graphQueryHandler(svc *graphsvc.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQueryRequestDTO
		if !decodeAndValidate(w, r, &req) {
			return
		}
		correlationID := pipeline.CorrelationIDFromContext(r.Context())
		userID := identityUserID(r)
		result, err := svc.Query(r.Context(), correlationID, userID, graphsvc.QueryRequest{
			Text:     req.Text,
			Params:   req.Params,
			RowLimit: req.RowLimit,
		})
		if err != nil {
			pipeline.WriteError(w, r, err)
			return
		}
		pipeline.WriteJSON(w, http.StatusOK, result)
	})
}

// identityUserID returns the caller's user id, or "" for a route that
// ran without authentication (lint_code, graph_query).
func identityUserID(r *http.Request) string {
	if identity := pipeline.IdentityFromContext(r.Context()); identity != nil {
		return identity.UserID
	}
	return ""
}
