package pipeline

import (
	"log/slog"
	"net/http"

	"github.com/ultimate-mcp/mcpd/internal/domain/audit"
	"github.com/ultimate-mcp/mcpd/internal/domain/auth"
	"github.com/ultimate-mcp/mcpd/internal/domain/ratelimit"
)

// Config bundles every dependency the C15 chain's stages need. One Config
// serves the whole process; Route is called once per registered tool
// route with that route's own permission and audit event type.
type Config struct {
	Logger          *slog.Logger
	AllowedOrigins  []string
	BodyMaxBytes    int64
	Verifier        TokenVerifier
	Limiter         ratelimit.RateLimiter
	RateLimitConfig ratelimit.Config
	AuditStore      audit.Store
}

// Outer composes the three stages applied uniformly to every request
// regardless of route: correlation id, body limit, and security headers
// (§4.12 stages 1-3). The registry mounts this once around the whole mux.
func (c Config) Outer(next http.Handler) http.Handler {
	h := next
	h = SecurityHeaders(c.AllowedOrigins)(h)
	h = BodyLimit(c.BodyMaxBytes)(h)
	h = CorrelationID(c.Logger)(h)
	return h
}

// Route composes the route-scoped stages (§4.12 stages 4-6, 8) around
// handler: authentication, authorization against perm, rate limiting,
// and audit tagged eventType. Audit wraps authentication onward rather
// than sitting strictly after the handler, so PermissionDenied,
// Unauthenticated, and RateLimited outcomes are recorded too, per §4.12's
// "Audit events are emitted for every PermissionDenied, Unauthenticated,
// RateLimited, and Internal."
func (c Config) Route(handler http.Handler, perm auth.Permission, eventType audit.EventType) http.Handler {
	h := handler
	h = RateLimit(c.Limiter, c.RateLimitConfig)(h)
	h = RequirePermission(perm)(h)
	h = Authenticate(c.Verifier)(h)
	h = Audit(c.AuditStore, eventType, c.Logger)(h)
	return h
}

// Wrap composes Outer and Route in one call, for routes the registry
// mounts individually rather than behind a shared prefix.
func (c Config) Wrap(handler http.Handler, perm auth.Permission, eventType audit.EventType) http.Handler {
	return c.Outer(c.Route(handler, perm, eventType))
}

// RoutePublic composes the route-scoped stages for a route that carries no
// `Auth` requirement in §6's route table (`lint_code`, `graph_query`,
// `/health`, `/metrics`, `/prompts*`): rate limiting and audit, without
// authentication or authorization. Rate limiting still runs, keyed by
// client IP since there is no verified identity to key by.
func (c Config) RoutePublic(handler http.Handler, eventType audit.EventType) http.Handler {
	h := handler
	h = RateLimit(c.Limiter, c.RateLimitConfig)(h)
	h = Audit(c.AuditStore, eventType, c.Logger)(h)
	return h
}

// WrapPublic composes Outer and RoutePublic in one call.
func (c Config) WrapPublic(handler http.Handler, eventType audit.EventType) http.Handler {
	return c.Outer(c.RoutePublic(handler, eventType))
}
