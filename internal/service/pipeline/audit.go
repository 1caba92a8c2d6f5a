package pipeline

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ultimate-mcp/mcpd/internal/ctxkey"
	"github.com/ultimate-mcp/mcpd/internal/domain/audit"
)

// auditOverrideBox is stashed in the request context before the handler
// runs so the handler can redirect the event type Audit records for this
// one request, without Audit having to inspect the response body to find
// out its outcome belonged to a different event class than the route's
// registered default.
type auditOverrideBox struct {
	eventType audit.EventType
}

// OverrideAuditEvent redirects the audit event this request will be
// recorded under to eventType instead of the route's registered default.
// It is a no-op outside a request that went through Audit (e.g. a direct
// unit-test call to a handler), so callers never need to guard the call.
func OverrideAuditEvent(ctx context.Context, eventType audit.EventType) {
	if box, ok := ctx.Value(ctxkey.AuditOverrideKey{}).(*auditOverrideBox); ok {
		box.eventType = eventType
	}
}

// Audit is stage 8 of §4.12: record the outcome (success/failure, class,
// duration) to C9. It must run last so it observes the real status code
// every earlier stage or the handler produced.
func Audit(store audit.Store, eventType audit.EventType, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			box := &auditOverrideBox{eventType: eventType}
			ctx := context.WithValue(r.Context(), ctxkey.AuditOverrideKey{}, box)

			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			userID := ""
			if identity := IdentityFromContext(r.Context()); identity != nil {
				userID = identity.UserID
			}

			event := audit.Event{
				ID:            uuid.New().String(),
				Type:          box.eventType,
				Timestamp:     time.Now().UTC(),
				UserID:        userID,
				CorrelationID: CorrelationIDFromContext(r.Context()),
				Severity:      severityForStatus(rec.status),
				Attributes: map[string]any{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      rec.status,
					"duration_ms": duration.Milliseconds(),
				},
			}
			if err := store.Append(r.Context(), event); err != nil {
				logger.Warn("appending pipeline audit event failed", slog.Any("error", err))
			}
		})
	}
}

func severityForStatus(status int) audit.Severity {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusTooManyRequests:
		return audit.SeverityWarning
	case status >= 500:
		return audit.SeverityCritical
	case status >= 400:
		return audit.SeverityWarning
	default:
		return audit.SeverityInfo
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code
// written, mirroring the inherited MetricsMiddleware's recorder.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
