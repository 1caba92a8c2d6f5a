// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with request_id/tenant_id fields.
type LoggerKey struct{}

// CorrelationIDKey is the context key type for the request's correlation id,
// set by the pipeline's first stage and read by every later stage and by
// audit event construction.
type CorrelationIDKey struct{}

// IdentityKey is the context key type for the authenticated caller's
// identity, set by the pipeline's authentication stage and read by
// authorization, rate limiting, and audit.
type IdentityKey struct{}

// AuditOverrideKey is the context key type for the audit stage's
// per-request event-type override box, set by the Audit middleware
// before invoking the handler and mutated by the handler itself when
// the request's outcome belongs to a different audit event type than
// the route's registered default.
type AuditOverrideKey struct{}
