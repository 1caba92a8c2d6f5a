package pipeline

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/domain/ratelimit"
)

// RateLimit is stage 6 of §4.12: charge counters for the caller and, on
// exceed, respond RateLimited with Retry-After/X-RateLimit-* headers
// (spec's original_source-derived operator ergonomics, §"Supplemented
// features"). Identity is taken from an already-verified token when
// present; only absent that does it fall back to the client's real IP —
// never from an unverified token, per spec §9.
func RateLimit(limiter ratelimit.RateLimiter, config ratelimit.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)

			result, err := limiter.Allow(r.Context(), key, config)
			if err != nil {
				WriteError(w, r, apperr.Wrap(apperr.Internal, "rate limit check failed", err))
				return
			}

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
				w.Header().Set("X-RateLimit-Remaining", "0")
				WriteError(w, r, apperr.New(apperr.RateLimited, "rate limit exceeded for tier "+string(result.Tier)))
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if identity := IdentityFromContext(r.Context()); identity != nil {
		return ratelimit.FormatKey(ratelimit.KeyTypeUser, identity.UserID)
	}
	return ratelimit.FormatKey(ratelimit.KeyTypeIP, realIP(r))
}

// realIP mirrors the inherited RealIPMiddleware's extraction logic,
// duplicated locally rather than imported since the HTTP transport
// package's copy is unexported and this stage must stay transport
// package agnostic.
func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if parts := strings.Split(xff, ","); len(parts) > 0 {
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
