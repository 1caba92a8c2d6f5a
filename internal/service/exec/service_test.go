package exec

import (
	"context"
	"log/slog"
	"testing"

	"github.com/ultimate-mcp/mcpd/internal/adapter/outbound/graph"
	"github.com/ultimate-mcp/mcpd/internal/domain/audit"
	"github.com/ultimate-mcp/mcpd/internal/domain/cache"
	"github.com/ultimate-mcp/mcpd/internal/domain/execution"
	"github.com/ultimate-mcp/mcpd/internal/domain/validation"
)

type fakeAuditStore struct {
	events []audit.Event
}

func (f *fakeAuditStore) Append(ctx context.Context, events ...audit.Event) error {
	f.events = append(f.events, events...)
	return nil
}
func (f *fakeAuditStore) Flush(ctx context.Context) error { return nil }
func (f *fakeAuditStore) Close() error                    { return nil }

type stubRunner struct {
	result *Result
	err    error
	calls  int
}

func (r *stubRunner) Run(ctx context.Context, source []byte, language string, limits execution.Limits) (*Result, error) {
	r.calls++
	return r.result, r.err
}

func defaults() Defaults {
	return Defaults{
		TimeoutSecs:      8,
		MaxTimeoutSecs:   30,
		MemoryLimitBytes: 256 << 20,
		FileLimitBytes:   10 << 20,
		FDLimit:          64,
		OutputLimitBytes: 100 * 1024,
		CacheResults:     true,
		EnabledLanguages: []string{"python"},
	}
}

func newTestService(t *testing.T, runner Runner) (*Service, *graph.MemoryGraph, *fakeAuditStore) {
	t.Helper()
	pool := NewPool(1, runner)
	g := graph.NewMemoryGraph()
	store := &fakeAuditStore{}
	c := cache.New(100, 0)
	return New(pool, defaults(), c, g, store, slog.Default()), g, store
}

func TestService_Run_RejectsDisabledLanguage(t *testing.T) {
	s, _, _ := newTestService(t, &stubRunner{result: &Result{}})
	_, err := s.Run(context.Background(), "corr-1", "user-1", Request{
		Source:   []byte("1+1"),
		Language: "javascript",
	})
	if err == nil {
		t.Fatal("Run() on disabled language = nil, want error")
	}
}

func TestService_Run_RejectsDangerousSource(t *testing.T) {
	s, _, _ := newTestService(t, &stubRunner{result: &Result{}})
	_, err := s.Run(context.Background(), "corr-1", "user-1", Request{
		Source:   []byte("import os\n"),
		Language: validation.LangPython,
	})
	if err == nil {
		t.Fatal("Run() on dangerous source = nil, want InvalidInput")
	}
}

func TestService_Run_PersistsArtifactAndAuditsCodeExec(t *testing.T) {
	runner := &stubRunner{result: &Result{ReturnCode: 0, Stdout: "hi"}}
	s, g, store := newTestService(t, runner)

	artifact, err := s.Run(context.Background(), "corr-1", "user-1", Request{
		Source:   []byte("print('hi')\n"),
		Language: validation.LangPython,
	})
	if err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if artifact.Stdout != "hi" {
		t.Errorf("Stdout = %q, want %q", artifact.Stdout, "hi")
	}

	rows := g.MatchNodes(ArtifactLabel, nil, 0)
	if len(rows) != 1 {
		t.Fatalf("expected one persisted artifact, got %d", len(rows))
	}
	if len(store.events) != 1 || store.events[0].Type != audit.EventCodeExec {
		t.Fatalf("expected one code_exec audit event, got %+v", store.events)
	}
	if store.events[0].Attributes["cache_hit"] != false {
		t.Errorf("first run must not be tagged cache_hit")
	}
}

func TestService_Run_CacheHitStillAudits(t *testing.T) {
	runner := &stubRunner{result: &Result{ReturnCode: 0, Stdout: "hi"}}
	s, _, store := newTestService(t, runner)
	req := Request{Source: []byte("print('hi')\n"), Language: validation.LangPython}

	if _, err := s.Run(context.Background(), "corr-1", "user-1", req); err != nil {
		t.Fatalf("first Run() = %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("calls = %d, want 1", runner.calls)
	}

	artifact, err := s.Run(context.Background(), "corr-2", "user-1", req)
	if err != nil {
		t.Fatalf("second Run() = %v", err)
	}
	if !artifact.CacheHit {
		t.Error("second Run() on identical (source, language, limits) must be a cache hit")
	}
	if runner.calls != 1 {
		t.Errorf("calls = %d, want 1 (cache hit must not re-run)", runner.calls)
	}
	if len(store.events) != 2 {
		t.Fatalf("expected an audit event for both runs, got %d", len(store.events))
	}
	if store.events[1].Attributes["cache_hit"] != true {
		t.Error("cache-hit run's audit event must be tagged cache_hit=true")
	}
}
