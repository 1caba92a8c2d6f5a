// Package audit contains domain types for the append-only security audit
// log: every authentication decision, authorization decision, tool
// execution, graph access, and policy violation becomes one AuditEvent.
package audit

import (
	"strings"
	"time"
)

// EventType categorizes an AuditEvent.
type EventType string

const (
	EventAuthSuccess       EventType = "auth_success"
	EventAuthFailure       EventType = "auth_failure"
	EventAuthzGranted      EventType = "authz_granted"
	EventAuthzDenied       EventType = "authz_denied"
	EventCodeExec          EventType = "code_exec"
	EventCodeTest          EventType = "code_test"
	EventCodeGenerate      EventType = "code_generate"
	EventToolLint          EventType = "tool_lint"
	EventGraphWrite        EventType = "graph_write"
	EventGraphRead         EventType = "graph_read"
	EventSecurityViolation EventType = "security_violation"
	EventRateLimited       EventType = "rate_limited"
)

// Severity grades how urgently an event warrants operator attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is a single immutable audit record. Once appended it is never
// mutated; corrections are new events, not edits.
type Event struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	UserID        string         `json:"user_id,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	Severity      Severity       `json:"severity"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// sensitiveKeywords lists substrings that indicate a sensitive attribute
// key. Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactSensitiveAttributes returns a copy of attrs with sensitive values
// masked, so callers can attach tool arguments to an event without
// leaking credentials into the durable audit trail.
func RedactSensitiveAttributes(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return attrs
	}
	redacted := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
