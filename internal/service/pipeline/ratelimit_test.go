package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ultimate-mcp/mcpd/internal/domain/ratelimit"
)

type fakeLimiter struct {
	result ratelimit.Result
	err    error
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, config ratelimit.Config) (ratelimit.Result, error) {
	return f.result, f.err
}

func TestRateLimit_RejectsWhenExceeded(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run when the limiter rejects")
	})

	limiter := &fakeLimiter{result: ratelimit.Result{
		Allowed:    false,
		Tier:       ratelimit.TierMinute,
		Limit:      60,
		RetryAfter: 30 * time.Second,
	}}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	RateLimit(limiter, ratelimit.Config{PerMinute: 60})(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q, want 30", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimit_AllowsAndSetsHeaders(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	limiter := &fakeLimiter{result: ratelimit.Result{Allowed: true, Limit: 60, Remaining: 59}}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	RateLimit(limiter, ratelimit.Config{PerMinute: 60})(next).ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected handler to run when the limiter allows")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "59" {
		t.Errorf("X-RateLimit-Remaining = %q, want 59", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_KeysByIPWithoutIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "203.0.113.7:5555"

	if got := rateLimitKey(req); got != "ratelimit:ip:203.0.113.7" {
		t.Errorf("rateLimitKey = %q, want IP-keyed", got)
	}
}
