package testrun

import (
	"context"
	"log/slog"
	"testing"

	"github.com/ultimate-mcp/mcpd/internal/adapter/outbound/graph"
	"github.com/ultimate-mcp/mcpd/internal/domain/audit"
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
		EnabledLanguages: []string{"python"},
	}
}

func newTestService(t *testing.T, runner Runner) (*Service, *graph.MemoryGraph, *fakeAuditStore) {
	t.Helper()
	pool := NewPool(1, runner)
	g := graph.NewMemoryGraph()
	store := &fakeAuditStore{}
	return New(pool, defaults(), g, store, slog.Default()), g, store
}

func TestService_Run_RejectsDisabledLanguage(t *testing.T) {
	s, _, _ := newTestService(t, &stubRunner{result: &Result{}})
	_, err := s.Run(context.Background(), "corr-1", "user-1", Request{
		Source:   []byte("def test_x(): pass\n"),
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

func TestService_Run_ParsesPytestSummaryAndPersists(t *testing.T) {
	runner := &stubRunner{result: &Result{ReturnCode: 0, Stdout: "2 passed, 1 failed in 0.05s\n"}}
	s, g, store := newTestService(t, runner)

	artifact, err := s.Run(context.Background(), "corr-1", "user-1", Request{
		Source:   []byte("def test_ok(): assert True\n"),
		Language: validation.LangPython,
	})
	if err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if !artifact.ParseOK || artifact.Passed != 2 || artifact.Failed != 1 {
		t.Errorf("artifact = %+v, want parsed 2 passed / 1 failed", artifact)
	}
	if artifact.Framework != "pytest" {
		t.Errorf("Framework = %q, want pytest", artifact.Framework)
	}

	rows := g.MatchNodes(ArtifactLabel, nil, 0)
	if len(rows) != 1 {
		t.Fatalf("expected one persisted artifact, got %d", len(rows))
	}
	if len(store.events) != 1 || store.events[0].Type != audit.EventCodeExec {
		t.Fatalf("expected one code_exec audit event, got %+v", store.events)
	}
}

func TestService_Run_TolerantOfUnparseableOutput(t *testing.T) {
	runner := &stubRunner{result: &Result{ReturnCode: 1, Stdout: "SEGFAULT\n"}}
	s, _, _ := newTestService(t, runner)

	artifact, err := s.Run(context.Background(), "corr-1", "user-1", Request{
		Source:   []byte("def test_ok(): assert True\n"),
		Language: validation.LangPython,
	})
	if err != nil {
		t.Fatalf("Run() = %v, want nil even on unparseable output", err)
	}
	if artifact.ParseOK {
		t.Error("ParseOK must be false for unrecognized harness output")
	}
	if artifact.ReturnCode != 1 || artifact.Stdout != "SEGFAULT\n" {
		t.Errorf("raw output must still be returned: %+v", artifact)
	}
}
