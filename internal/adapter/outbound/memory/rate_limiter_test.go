// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ultimate-mcp/mcpd/internal/domain/ratelimit"
)

func TestRateLimiter_Allow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()

	config := ratelimit.Config{PerMinute: 60, Burst: 5}

	result, err := limiter.Allow(ctx, "test-key", config)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !result.Allowed {
		t.Error("first request should be allowed")
	}
	if result.Remaining < 0 {
		t.Errorf("Remaining = %d, should be >= 0", result.Remaining)
	}
}

func TestRateLimiter_BurstExhaustion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()

	config := ratelimit.Config{PerMinute: 1000, Burst: 3}

	allowed := 0
	denied := 0
	for i := 0; i < 10; i++ {
		result, err := limiter.Allow(ctx, "burst-key", config)
		if err != nil {
			t.Fatalf("Allow() error on request %d: %v", i, err)
		}
		if result.Allowed {
			allowed++
		} else {
			denied++
			if result.Tier != ratelimit.TierBurst {
				t.Errorf("expected burst rejection, got tier %q", result.Tier)
			}
		}
	}

	if allowed != 3 {
		t.Errorf("allowed = %d, want exactly 3 (burst)", allowed)
	}
	if denied != 7 {
		t.Errorf("denied = %d, want exactly 7", denied)
	}
}

func TestRateLimiter_WindowBoundary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()

	// Burst window is a fixed 1-second window; exhaust it, then confirm
	// that the (limit+1)-th call is rejected and the first call of the
	// next second succeeds.
	config := ratelimit.Config{Burst: 2}

	now := time.Now()
	// Align to the start of the current second window so the test isn't
	// flaky near a boundary; sleep to the next window edge first.
	time.Sleep(time.Until(now.Truncate(time.Second).Add(time.Second)) + 10*time.Millisecond)

	r1, _ := limiter.Allow(ctx, "boundary-key", config)
	r2, _ := limiter.Allow(ctx, "boundary-key", config)
	r3, _ := limiter.Allow(ctx, "boundary-key", config)

	if !r1.Allowed || !r2.Allowed {
		t.Fatalf("first two calls should be allowed, got %v %v", r1.Allowed, r2.Allowed)
	}
	if r3.Allowed {
		t.Fatal("third call within the same window should be rejected")
	}

	time.Sleep(r3.RetryAfter + 20*time.Millisecond)

	r4, err := limiter.Allow(ctx, "boundary-key", config)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if !r4.Allowed {
		t.Error("first call of the next window should be allowed")
	}
}

func TestRateLimiter_TiersAreIndependent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()

	// Burst allows 5, but the minute tier only allows 2: the third call
	// must be rejected by the minute tier even though burst has room.
	config := ratelimit.Config{PerMinute: 2, Burst: 5}

	var last ratelimit.Result
	for i := 0; i < 3; i++ {
		r, err := limiter.Allow(ctx, "tier-key", config)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		last = r
	}

	if last.Allowed {
		t.Fatal("third call should be rejected by the minute tier")
	}
	if last.Tier != ratelimit.TierMinute {
		t.Errorf("rejecting tier = %q, want minute", last.Tier)
	}
}

func TestRateLimiter_DifferentKeysAreIsolated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()

	config := ratelimit.Config{Burst: 1}

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("key-%c", 'a'+i)
		result, err := limiter.Allow(ctx, key, config)
		if err != nil {
			t.Fatalf("Allow() for %s error: %v", key, err)
		}
		if !result.Allowed {
			t.Errorf("first request for %s should be allowed", key)
		}
	}
}

func TestRateLimiter_RejectionDoesNotChargeAnyTier(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()

	config := ratelimit.Config{PerMinute: 1, Burst: 5}

	r1, _ := limiter.Allow(ctx, "charge-key", config)
	if !r1.Allowed {
		t.Fatal("first call should be allowed")
	}

	// Minute tier is now exhausted; repeated rejected calls must not
	// further decrement the burst counter's remaining allowance.
	r2, _ := limiter.Allow(ctx, "charge-key", config)
	r3, _ := limiter.Allow(ctx, "charge-key", config)

	if r2.Allowed || r3.Allowed {
		t.Fatal("calls beyond the minute limit should be rejected")
	}
	if r2.Tier != ratelimit.TierMinute || r3.Tier != ratelimit.TierMinute {
		t.Errorf("rejections should report the minute tier, got %q and %q", r2.Tier, r3.Tier)
	}
}

func TestRateLimiter_RemainingNonNegative(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()

	config := ratelimit.Config{PerMinute: 10, Burst: 5}

	for i := 0; i < 20; i++ {
		result, err := limiter.Allow(ctx, "remaining-key", config)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if result.Remaining < 0 {
			t.Errorf("request %d: Remaining = %d, should never be negative", i, result.Remaining)
		}
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter := NewRateLimiter()

	config := ratelimit.Config{PerMinute: 1000, Burst: 50}

	var wg sync.WaitGroup
	errCh := make(chan error, 200)
	allowedCh := make(chan bool, 200)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := limiter.Allow(ctx, "concurrent-key", config)
			if err != nil {
				errCh <- err
				return
			}
			allowedCh <- result.Allowed
		}()
	}

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			key := fmt.Sprintf("concurrent-key-%c", 'a'+(idx%26))
			_, err := limiter.Allow(ctx, key, config)
			if err != nil {
				errCh <- err
			}
		}(i)
	}

	wg.Wait()
	close(errCh)
	close(allowedCh)

	for err := range errCh {
		t.Errorf("concurrent access error: %v", err)
	}

	allowed := 0
	for a := range allowedCh {
		if a {
			allowed++
		}
	}
	if allowed == 0 {
		t.Error("expected some requests to be allowed")
	}
	if allowed > 50 {
		t.Errorf("allowed = %d, must not exceed the burst limit of 50", allowed)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiterWithConfig(100*time.Millisecond, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter.StartCleanup(ctx)
	defer limiter.Stop()

	config := ratelimit.Config{Burst: 5}

	keys := []string{"cleanup-key-1", "cleanup-key-2", "cleanup-key-3"}
	for _, key := range keys {
		if _, err := limiter.Allow(ctx, key, config); err != nil {
			t.Fatalf("Allow() error for %s: %v", key, err)
		}
	}

	if initial := limiter.Size(); initial != len(keys) {
		t.Errorf("expected %d keys after adding, got %d", len(keys), initial)
	}

	time.Sleep(400 * time.Millisecond)

	if final := limiter.Size(); final != 0 {
		t.Errorf("expected 0 keys after cleanup, got %d", final)
	}
}

func TestRateLimiterNoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewRateLimiterWithConfig(50*time.Millisecond, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	limiter.StartCleanup(ctx)

	config := ratelimit.Config{PerMinute: 10, Burst: 5}
	for i := 0; i < 10; i++ {
		_, _ = limiter.Allow(ctx, "leak-test-key", config)
	}

	time.Sleep(150 * time.Millisecond)

	cancel()
	limiter.Stop()
}

func TestRateLimiterConcurrentAccessDuringCleanup(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiterWithConfig(10*time.Millisecond, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter.StartCleanup(ctx)
	defer limiter.Stop()

	config := ratelimit.Config{PerMinute: 1000, Burst: 50}

	var wg sync.WaitGroup
	errCh := make(chan error, 100)
	stopCh := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-stopCh:
					return
				default:
					key := fmt.Sprintf("concurrent-cleanup-key-%c", 'a'+(id%26))
					if _, err := limiter.Allow(ctx, key, config); err != nil {
						select {
						case errCh <- err:
						default:
						}
						return
					}
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}

	time.Sleep(500 * time.Millisecond)
	close(stopCh)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent access error: %v", err)
	}
}

func TestRateLimiterStopMultipleCalls(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiterWithConfig(100*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter.StartCleanup(ctx)

	limiter.Stop()
	limiter.Stop()
	limiter.Stop()
}

func TestRateLimiterContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	limiter := NewRateLimiterWithConfig(50*time.Millisecond, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	limiter.StartCleanup(ctx)

	config := ratelimit.Config{PerMinute: 10, Burst: 5}
	_, _ = limiter.Allow(ctx, "ctx-cancel-key", config)

	cancel()
	limiter.Stop()
}

func TestRateLimiter_ManyUniqueKeys(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping many-keys stress test in short mode")
	}
	defer goleak.VerifyNone(t)

	rl := NewRateLimiterWithConfig(50*time.Millisecond, 200*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer rl.Stop()

	rl.StartCleanup(ctx)

	config := ratelimit.Config{PerMinute: 10, Burst: 5}

	const totalKeys = 10000
	for i := 0; i < totalKeys; i++ {
		key := fmt.Sprintf("user-%05d", i)
		_, _ = rl.Allow(context.Background(), key, config)
	}

	t.Logf("size after generating %d keys: %d", totalKeys, rl.Size())

	time.Sleep(500 * time.Millisecond)

	sizeAfterCleanup := rl.Size()
	t.Logf("size after cleanup: %d", sizeAfterCleanup)

	if sizeAfterCleanup > totalKeys/10 {
		t.Errorf("size %d too large after cleanup (expected < %d)", sizeAfterCleanup, totalKeys/10)
	}
}
