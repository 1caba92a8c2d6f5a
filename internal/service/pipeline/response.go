// Package pipeline implements the ordered request middleware chain
// (C15): correlation id, body limit, security headers, authentication,
// authorization, rate limiting, and audit, wrapped around a tool
// handler. It is transport-agnostic — the same stages front both the
// JSON-over-HTTP and MCP streaming-HTTP surfaces.
package pipeline

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
)

// StatusForKind maps an error taxonomy Kind to its canonical HTTP status,
// per spec §7 ("each kind maps to exactly one HTTP status").
func StatusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.InvalidInput:
		return http.StatusBadRequest
	case apperr.Unauthenticated:
		return http.StatusUnauthorized
	case apperr.PermissionDenied:
		return http.StatusForbidden
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.Busy:
		return http.StatusServiceUnavailable
	case apperr.Timeout:
		return http.StatusGatewayTimeout
	case apperr.DependencyUnavailable:
		return http.StatusServiceUnavailable
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.TooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// errorDetail carries a code, a short human message, and an opaque details
// object where safe. Stack traces and internal identifiers never appear
// here — those go to structured logs keyed by the correlation id instead.
type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// errorEnvelope is the wire shape of every error response: the error
// itself nested under "error", alongside the request's correlation id so
// a caller can correlate a failure with server-side logs without parsing
// the response header.
type errorEnvelope struct {
	Error     errorDetail `json:"error"`
	RequestID string      `json:"request_id"`
}

// WriteError translates err to its canonical status and writes it as the
// error envelope. Any error that isn't already an *apperr.Error is
// treated as Internal so a bare error never leaks its message to a
// client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.New(apperr.Internal, "internal error")
	}
	writeErrorEnvelope(w, r, StatusForKind(appErr.Kind), string(appErr.Kind), appErr.Message, appErr.Details)
}

// WriteSemanticError writes the 422 "structurally valid, semantically
// invalid" case of §6's status table: a request that parsed and passed
// schema validation but fails a field-level rule (e.g. validator.v10
// struct tag failures). It never becomes an *apperr.Error because no
// apperr.Kind is reserved for it — kinds map one-to-one onto the other
// nine statuses.
func WriteSemanticError(w http.ResponseWriter, r *http.Request, message string, details map[string]any) {
	writeErrorEnvelope(w, r, http.StatusUnprocessableEntity, "semantic_validation", message, details)
}

func writeErrorEnvelope(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	requestID := CorrelationIDFromContext(r.Context())
	if requestID == "" {
		requestID = r.Header.Get(CorrelationIDHeader)
	}
	WriteJSON(w, status, errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
		RequestID: requestID,
	})
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
