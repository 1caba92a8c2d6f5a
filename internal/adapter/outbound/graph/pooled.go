package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/domain/breaker"
	"github.com/ultimate-mcp/mcpd/internal/domain/cache"
	"github.com/ultimate-mcp/mcpd/internal/port/outbound"
	"github.com/ultimate-mcp/mcpd/internal/telemetry"
)

var tracer = otel.Tracer(telemetry.Tracer)

// endSpan records err on span, if any, and closes it. Called via defer
// immediately after a span is started so it wraps a method's existing
// cache/breaker/retry control flow without altering it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// PoolConfig configures PooledClient's connection pool and retry policy.
type PoolConfig struct {
	// Max is the maximum number of concurrent calls admitted to the
	// underlying driver.
	Max int
	// AcquireTimeout bounds how long a call waits for a pool slot
	// before failing. Exhaustion is reported to the write breaker.
	AcquireTimeout time.Duration
	// MaxRetries bounds retry attempts for retryable driver errors.
	MaxRetries int
	// BackoffBase is the first retry delay; it doubles each attempt up
	// to BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// DefaultPoolConfig mirrors the default pool sizing: min(2*CPU+4, 100),
// a 5s acquisition timeout, 1h connection lifetime (not modeled
// explicitly here since the in-memory/driver-agnostic pool has no
// per-connection object to expire), and 3 retries with 2s/10s backoff.
func DefaultPoolConfig(cpuCount int) PoolConfig {
	max := 2*cpuCount + 4
	if max > 100 {
		max = 100
	}
	if max < 1 {
		max = 1
	}
	return PoolConfig{
		Max:            max,
		AcquireTimeout: 5 * time.Second,
		MaxRetries:     3,
		BackoffBase:    2 * time.Second,
		BackoffCap:     10 * time.Second,
	}
}

// cacheablePrefixes and invalidatingPrefixes classify queries by the
// Cypher clauses they open with, the same heuristic a cached driver
// wrapper uses to decide whether a read is memoizable and whether a
// write must invalidate affected entries. A query is only cacheable if
// it's pure: no CALL (procedures can wrap time/random/side-effecting
// behavior the cache can't see), no time or random function.
var cacheablePrefixes = []string{"MATCH", "RETURN", "WITH", "UNWIND"}
var invalidatingPrefixes = []string{"CREATE", "MERGE", "SET", "DELETE", "REMOVE", "DROP"}
var impureFunctionPrefixes = []string{"TIMESTAMP(", "DATETIME(", "DATE(", "LOCALTIME(", "RAND("}

func isCacheable(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, p := range invalidatingPrefixes {
		if strings.Contains(q, p) {
			return false
		}
	}
	if containsKeyword(q, "CALL") {
		return false
	}
	for _, p := range impureFunctionPrefixes {
		if strings.Contains(q, p) {
			return false
		}
	}
	for _, p := range cacheablePrefixes {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}

// containsKeyword reports whether q contains word as a standalone
// clause keyword rather than as a substring of a longer identifier
// (e.g. so a CALLS relationship type doesn't get mistaken for a CALL
// clause).
func containsKeyword(q, word string) bool {
	for idx := 0; ; {
		i := strings.Index(q[idx:], word)
		if i < 0 {
			return false
		}
		pos := idx + i
		before := pos == 0 || !isIdentByte(q[pos-1])
		after := pos+len(word) >= len(q) || !isIdentByte(q[pos+len(word)])
		if before && after {
			return true
		}
		idx = pos + len(word)
	}
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func isInvalidating(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, p := range invalidatingPrefixes {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}

// PooledClient wraps any outbound.GraphClient with connection-pool
// admission control, retry with exponential backoff, circuit breaking
// per operation kind, and label-versioned read caching.
type PooledClient struct {
	inner outbound.GraphClient
	cfg   PoolConfig

	sem chan struct{}

	readBreaker  *breaker.Breaker
	writeBreaker *breaker.Breaker
	cache        *cache.Cache

	versionsMu sync.Mutex
	versions   map[string]uint64
}

var _ outbound.GraphClient = (*PooledClient)(nil)
var _ outbound.GraphClient = (*MemoryGraph)(nil)

// New wraps inner with pooling, retry, breaker, and cache behavior.
func New(inner outbound.GraphClient, cfg PoolConfig, readBreaker, writeBreaker *breaker.Breaker, resultCache *cache.Cache) *PooledClient {
	return &PooledClient{
		inner:        inner,
		cfg:          cfg,
		sem:          make(chan struct{}, cfg.Max),
		readBreaker:  readBreaker,
		writeBreaker: writeBreaker,
		cache:        resultCache,
		versions:     make(map[string]uint64),
	}
}

func (p *PooledClient) acquire(ctx context.Context) (func(), error) {
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, nil
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.Timeout, "graph pool: context cancelled while acquiring connection", ctx.Err())
	case <-timer.C:
		return nil, apperr.New(apperr.Busy, "graph pool: connection acquisition timed out")
	}
}

// labelVersionKey builds the cache-key prefix carrying the current
// version stamp of every label a query touches, so that a write
// bumping one label's version invalidates every cached read keyed
// under it without having to scan the whole cache.
func (p *PooledClient) labelVersionKey(query string, params map[string]any) string {
	labels := LabelsReferencedIn(query)
	p.versionsMu.Lock()
	var b strings.Builder
	for _, l := range labels {
		fmt.Fprintf(&b, "%s@%d|", l, p.versions[l])
	}
	p.versionsMu.Unlock()
	return b.String()
}

func (p *PooledClient) bumpLabelVersions(query string) {
	labels := LabelsReferencedIn(query)
	if len(labels) == 0 {
		return
	}
	p.versionsMu.Lock()
	defer p.versionsMu.Unlock()
	for _, l := range labels {
		p.versions[l]++
	}
}

// ExecuteRead consults the cache (keyed by query+params+referenced-label
// versions), then the read breaker, then retries the underlying driver
// call with exponential backoff.
func (p *PooledClient) ExecuteRead(ctx context.Context, query string, params map[string]any) (result []outbound.Row, err error) {
	ctx, span := tracer.Start(ctx, "graph.ExecuteRead", trace.WithAttributes(
		attribute.Int("graph.query.length", len(query)),
	))
	defer func() { endSpan(span, err) }()

	cacheable := p.cache != nil && isCacheable(query)
	var cacheKey string
	if cacheable {
		key, err := cache.FunctionKey(query, params)
		if err == nil {
			cacheKey = p.labelVersionKey(query, params) + key
			if v, ok := p.cache.Get(cacheKey); ok {
				return v.([]outbound.Row), nil
			}
		}
	}

	release, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var rows []outbound.Row
	err = p.readBreaker.Execute(func() error {
		return p.retry(ctx, func() error {
			var innerErr error
			rows, innerErr = p.inner.ExecuteRead(ctx, query, params)
			return innerErr
		})
	})
	if err != nil {
		return nil, err
	}

	if cacheable && cacheKey != "" {
		p.cache.Set(cacheKey, rows, 0)
	}
	return rows, nil
}

// ExecuteWrite runs the write through the write breaker with retry, then
// bumps the version of every label the statement touches so cached reads
// referencing them miss on their next lookup.
func (p *PooledClient) ExecuteWrite(ctx context.Context, query string, params map[string]any) (err error) {
	ctx, span := tracer.Start(ctx, "graph.ExecuteWrite", trace.WithAttributes(
		attribute.Int("graph.query.length", len(query)),
	))
	defer func() { endSpan(span, err) }()

	release, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	err = p.writeBreaker.Execute(func() error {
		return p.retry(ctx, func() error {
			return p.inner.ExecuteWrite(ctx, query, params)
		})
	})
	if err != nil {
		return err
	}

	if isInvalidating(query) {
		p.bumpLabelVersions(query)
	}
	return nil
}

// ExecuteWriteTx runs fn inside one pooled, breaker-guarded, retried
// transaction. Label versions referenced by statements fn issues are not
// tracked individually (the transaction is opaque to the pool); callers
// doing batched upserts should assume the whole read cache may be stale
// afterward and invalidate broadly if that matters for their use case.
func (p *PooledClient) ExecuteWriteTx(ctx context.Context, fn func(ctx context.Context, tx outbound.Tx) error) (err error) {
	ctx, span := tracer.Start(ctx, "graph.ExecuteWriteTx")
	defer func() { endSpan(span, err) }()

	release, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	err = p.writeBreaker.Execute(func() error {
		return p.retry(ctx, func() error {
			return p.inner.ExecuteWriteTx(ctx, fn)
		})
	})
	return err
}

func (p *PooledClient) Health(ctx context.Context) bool {
	return p.inner.Health(ctx)
}

func (p *PooledClient) Metrics(ctx context.Context) (outbound.Metrics, error) {
	return p.inner.Metrics(ctx)
}

// retry re-runs fn on retryable failures with exponential backoff,
// bounded by cfg.MaxRetries. Validation, constraint, authentication, and
// syntax errors are not retryable and return immediately.
func (p *PooledClient) retry(ctx context.Context, fn func() error) error {
	delay := p.cfg.BackoffBase
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == p.cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > p.cfg.BackoffCap {
			delay = p.cfg.BackoffCap
		}
	}
	return lastErr
}

// isRetryable reports whether err represents a transient driver
// condition (dependency unavailable, busy, timeout) rather than a
// caller mistake.
func isRetryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.DependencyUnavailable, apperr.Busy, apperr.Timeout:
		return true
	default:
		return false
	}
}
