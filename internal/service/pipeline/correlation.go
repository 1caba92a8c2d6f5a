package pipeline

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ultimate-mcp/mcpd/internal/ctxkey"
)

// CorrelationIDHeader is the header a caller may set to supply its own
// correlation id, and the header every response echoes it on.
const CorrelationIDHeader = "X-Request-Id"

// CorrelationID is stage 1 of §4.12: accept an incoming id or assign one,
// attach it to the logging context and the response header. Modeled on
// the inherited RequestIDMiddleware, generalized to the glossary's
// "correlation id" naming and header.
func CorrelationID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(CorrelationIDHeader)
			if id == "" {
				id = uuid.New().String()
			}

			ctx := context.WithValue(r.Context(), ctxkey.CorrelationIDKey{}, id)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, logger.With("request_id", id))

			w.Header().Set(CorrelationIDHeader, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CorrelationIDFromContext returns the request's correlation id, or ""
// if the correlation stage never ran (e.g. a unit test calling a handler
// directly).
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxkey.CorrelationIDKey{}).(string)
	return id
}

// LoggerFromContext returns the request-scoped logger, defaulting to
// slog.Default() outside a request.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
