package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ultimate-mcp/mcpd/internal/adapter/outbound/graph"
	memrl "github.com/ultimate-mcp/mcpd/internal/adapter/outbound/memory"
	"github.com/ultimate-mcp/mcpd/internal/domain/audit"
	"github.com/ultimate-mcp/mcpd/internal/domain/cache"
	"github.com/ultimate-mcp/mcpd/internal/domain/execution"
	"github.com/ultimate-mcp/mcpd/internal/domain/ratelimit"
	"github.com/ultimate-mcp/mcpd/internal/domain/validation"
	"github.com/ultimate-mcp/mcpd/internal/service/exec"
	"github.com/ultimate-mcp/mcpd/internal/service/generation"
	graphsvc "github.com/ultimate-mcp/mcpd/internal/service/graphtool"
	"github.com/ultimate-mcp/mcpd/internal/service/lint"
	"github.com/ultimate-mcp/mcpd/internal/service/pipeline"
	"github.com/ultimate-mcp/mcpd/internal/service/testrun"
)

type registryFakeAuditStore struct {
	events []audit.Event
}

func (f *registryFakeAuditStore) Append(ctx context.Context, events ...audit.Event) error {
	f.events = append(f.events, events...)
	return nil
}
func (f *registryFakeAuditStore) Flush(ctx context.Context) error { return nil }
func (f *registryFakeAuditStore) Close() error                    { return nil }

type registryStubRunner struct {
	result *exec.Result
}

func (r *registryStubRunner) Run(ctx context.Context, source []byte, language string, limits execution.Limits) (*exec.Result, error) {
	return r.result, nil
}

type registryStubTestRunner struct {
	result *testrun.Result
}

func (r *registryStubTestRunner) Run(ctx context.Context, source []byte, language string, limits execution.Limits) (*testrun.Result, error) {
	return r.result, nil
}

func newRegistryServices(t *testing.T) Services {
	t.Helper()
	g := graph.NewMemoryGraph()
	store := &registryFakeAuditStore{}
	logger := slog.Default()

	execPool := exec.NewPool(1, &registryStubRunner{result: &exec.Result{ReturnCode: 0, Stdout: "ok"}})
	execDefaults := exec.Defaults{
		TimeoutSecs: 8, MaxTimeoutSecs: 30,
		MemoryLimitBytes: 256 << 20, FileLimitBytes: 10 << 20,
		FDLimit: 64, OutputLimitBytes: 100 * 1024,
		EnabledLanguages: []string{"python"},
	}

	testPool := testrun.NewPool(1, &registryStubTestRunner{result: &testrun.Result{ReturnCode: 0, Stdout: "1 passed"}})
	testDefaults := testrun.Defaults{
		TimeoutSecs: 8, MaxTimeoutSecs: 30,
		MemoryLimitBytes: 256 << 20, FileLimitBytes: 10 << 20,
		FDLimit: 64, OutputLimitBytes: 100 * 1024,
		EnabledLanguages: []string{"python"},
	}

	return Services{
		Lint:       lint.New(g, nil, logger),
		Exec:       exec.New(execPool, execDefaults, cache.New(100, 0), g, store, logger),
		Test:       testrun.New(testPool, testDefaults, g, store, logger),
		Generation: generation.New(g, store, logger),
		Graph:      graphsvc.New(g, store, logger),
	}
}

func postJSON(t *testing.T, handler http.Handler, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestLintHandler_Success(t *testing.T) {
	svcs := newRegistryServices(t)
	rec := postJSON(t, lintHandler(svcs.Lint), map[string]any{
		"source":   "def f():\n    return 1\n",
		"language": validation.LangPython,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestLintHandler_MissingFieldIsSemanticError(t *testing.T) {
	svcs := newRegistryServices(t)
	rec := postJSON(t, lintHandler(svcs.Lint), map[string]any{
		"language": validation.LangPython,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body = %s", rec.Code, rec.Body.String())
	}
}

func TestExecuteHandler_Success(t *testing.T) {
	svcs := newRegistryServices(t)
	rec := postJSON(t, executeHandler(svcs.Exec), map[string]any{
		"source":   "print('hi')",
		"language": validation.LangPython,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got execution.Artifact
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.Stdout != "ok" {
		t.Errorf("Stdout = %q, want %q", got.Stdout, "ok")
	}
}

func TestExecuteHandler_UnsupportedLanguageRejected(t *testing.T) {
	svcs := newRegistryServices(t)
	rec := postJSON(t, executeHandler(svcs.Exec), map[string]any{
		"source":   "puts 'hi'",
		"language": "ruby",
	})
	if rec.Code == http.StatusOK {
		t.Fatalf("status = %d, want a failure status for a disabled language", rec.Code)
	}
}

// TestExecuteHandler_DangerousConstructEmitsSecurityViolation pins the
// fix for the audit pipeline hard-coding one event type per route: a
// request the AST scanner rejects before any child spawns must be
// recorded as security_violation, not the route's default code_exec.
func TestExecuteHandler_DangerousConstructEmitsSecurityViolation(t *testing.T) {
	svcs := newRegistryServices(t)
	store := &registryFakeAuditStore{}
	cfg := pipeline.Config{
		Logger:          slog.Default(),
		Limiter:         memrl.NewRateLimiter(),
		RateLimitConfig: ratelimit.Config{PerMinute: 1000, Burst: 1000},
		AuditStore:      store,
	}
	wrapped := cfg.RoutePublic(executeHandler(svcs.Exec), audit.EventCodeExec)

	rec := postJSON(t, wrapped, map[string]any{
		"source":   "import os\nos.system('rm -rf /')\n",
		"language": validation.LangPython,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
	if len(store.events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(store.events))
	}
	if store.events[0].Type != audit.EventSecurityViolation {
		t.Errorf("event type = %q, want %q", store.events[0].Type, audit.EventSecurityViolation)
	}
}

func TestTestHandler_Success(t *testing.T) {
	svcs := newRegistryServices(t)
	rec := postJSON(t, testHandler(svcs.Test), map[string]any{
		"source":   "def test_ok():\n    assert True\n",
		"language": validation.LangPython,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestGenerateHandler_Success(t *testing.T) {
	svcs := newRegistryServices(t)
	rec := postJSON(t, generateHandler(svcs.Generation), map[string]any{
		"template": "package {{.Pkg}}",
		"context":  map[string]any{"Pkg": "main"},
		"language": "go",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.Output != "package main" {
		t.Errorf("Output = %q, want %q", got.Output, "package main")
	}
}

func TestGraphUpsertHandler_Success(t *testing.T) {
	svcs := newRegistryServices(t)
	rec := postJSON(t, graphUpsertHandler(svcs.Graph), map[string]any{
		"nodes": []map[string]any{
			{"key": "n1", "labels": []string{"Service"}, "properties": map[string]any{"name": "api"}},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestGraphUpsertHandler_MissingLabelsIsSemanticError(t *testing.T) {
	svcs := newRegistryServices(t)
	rec := postJSON(t, graphUpsertHandler(svcs.Graph), map[string]any{
		"nodes": []map[string]any{
			{"key": "n1"},
		},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body = %s", rec.Code, rec.Body.String())
	}
}

func TestGraphQueryHandler_Success(t *testing.T) {
	svcs := newRegistryServices(t)
	upsertRec := postJSON(t, graphUpsertHandler(svcs.Graph), map[string]any{
		"nodes": []map[string]any{
			{"key": "n1", "labels": []string{"Service"}, "properties": map[string]any{"name": "api"}},
		},
	})
	if upsertRec.Code != http.StatusOK {
		t.Fatalf("seed upsert status = %d, body = %s", upsertRec.Code, upsertRec.Body.String())
	}

	rec := postJSON(t, graphQueryHandler(svcs.Graph), map[string]any{
		"text": "MATCH (n:Service) RETURN n",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestIdentityUserID_NoIdentityInContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if got := identityUserID(req); got != "" {
		t.Errorf("identityUserID() = %q, want empty string", got)
	}
}
