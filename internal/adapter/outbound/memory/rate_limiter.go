// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ultimate-mcp/mcpd/internal/domain/ratelimit"
)

type windowCounter struct {
	start time.Time
	count int
}

// MemoryRateLimiter implements ratelimit.RateLimiter with fixed counting
// windows per tier (burst/minute/hour/day). Thread-safe for concurrent
// access. Includes background cleanup to prevent unbounded memory growth.
//
// Each tier's window is aligned to the Unix epoch via time.Truncate, so
// the (limit+1)-th call within a window is rejected and the first call
// of the following window succeeds, deterministically.
type MemoryRateLimiter struct {
	mu              sync.Mutex
	counters        map[uint64]map[ratelimit.Tier]*windowCounter
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxIdle         time.Duration
}

// NewRateLimiter creates an in-memory rate limiter with default cleanup
// settings: cleanup every 5 minutes, evicting keys idle for over 1 day
// (long enough to outlive the day tier's own window).
func NewRateLimiter() *MemoryRateLimiter {
	return NewRateLimiterWithConfig(5*time.Minute, 24*time.Hour)
}

// NewRateLimiterWithConfig creates an in-memory rate limiter with custom
// cleanup settings.
func NewRateLimiterWithConfig(cleanupInterval, maxIdle time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		counters:        make(map[uint64]map[ratelimit.Tier]*windowCounter),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		maxIdle:         maxIdle,
	}
}

func hashKey(key string) uint64 {
	return xxhash.Sum64String(key)
}

// orderedTiers is the order in which tiers are checked; tightest first so
// that a request exhausting the burst allowance is reported as a burst
// rejection even if it would also exceed a looser tier.
var orderedTiers = []ratelimit.Tier{ratelimit.TierBurst, ratelimit.TierMinute, ratelimit.TierHour, ratelimit.TierDay}

func tierLimit(cfg ratelimit.Config, tier ratelimit.Tier) int {
	switch tier {
	case ratelimit.TierBurst:
		return cfg.Burst
	case ratelimit.TierMinute:
		return cfg.PerMinute
	case ratelimit.TierHour:
		return cfg.PerHour
	case ratelimit.TierDay:
		return cfg.PerDay
	default:
		return 0
	}
}

func windowDuration(tier ratelimit.Tier) time.Duration {
	switch tier {
	case ratelimit.TierBurst:
		return time.Second
	case ratelimit.TierMinute:
		return time.Minute
	case ratelimit.TierHour:
		return time.Hour
	case ratelimit.TierDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Allow charges one unit against every configured tier for key, rejecting
// if any tier's (limit+1)-th call would occur within its current window.
// No tier is charged when the request is rejected.
func (r *MemoryRateLimiter) Allow(ctx context.Context, key string, config ratelimit.Config) (ratelimit.Result, error) {
	now := time.Now().UTC()
	h := hashKey(key)

	r.mu.Lock()
	defer r.mu.Unlock()

	perTier, ok := r.counters[h]
	if !ok {
		perTier = make(map[ratelimit.Tier]*windowCounter)
		r.counters[h] = perTier
	}

	for _, tier := range orderedTiers {
		limit := tierLimit(config, tier)
		if limit <= 0 {
			continue
		}
		dur := windowDuration(tier)
		windowStart := now.Truncate(dur)

		c, ok := perTier[tier]
		if !ok || !c.start.Equal(windowStart) {
			continue // will be (re)initialized below; not yet at its limit
		}
		if c.count >= limit {
			resetAt := windowStart.Add(dur)
			return ratelimit.Result{
				Allowed:    false,
				Tier:       tier,
				Remaining:  0,
				Limit:      limit,
				RetryAfter: resetAt.Sub(now),
				ResetAfter: resetAt.Sub(now),
			}, nil
		}
	}

	var result ratelimit.Result
	result.Allowed = true

	for _, tier := range orderedTiers {
		limit := tierLimit(config, tier)
		if limit <= 0 {
			continue
		}
		dur := windowDuration(tier)
		windowStart := now.Truncate(dur)

		c, ok := perTier[tier]
		if !ok || !c.start.Equal(windowStart) {
			c = &windowCounter{start: windowStart, count: 0}
			perTier[tier] = c
		}
		c.count++

		if tier == ratelimit.TierBurst || result.Tier == "" {
			result.Tier = tier
			result.Limit = limit
			result.Remaining = limit - c.count
			result.ResetAfter = windowStart.Add(dur).Sub(now)
		}
	}

	return result, nil
}

// StartCleanup starts the background cleanup goroutine. It stops when ctx
// is cancelled or Stop is called.
func (r *MemoryRateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

// cleanup removes keys whose longest configured window hasn't been
// touched in maxIdle.
func (r *MemoryRateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UTC().Add(-r.maxIdle)
	cleaned := 0

	for h, perTier := range r.counters {
		stale := true
		for _, c := range perTier {
			if c.start.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(r.counters, h)
			cleaned++
		}
	}

	if cleaned > 0 {
		slog.Debug("rate limiter cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(r.counters))
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (r *MemoryRateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the current number of tracked keys. Useful for tests.
func (r *MemoryRateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.counters)
}

// Compile-time interface verification.
var _ ratelimit.RateLimiter = (*MemoryRateLimiter)(nil)
