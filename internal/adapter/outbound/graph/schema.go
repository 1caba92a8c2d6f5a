package graph

import (
	"context"
	"strings"
)

// Constraint is a uniqueness constraint on a node label's property.
type Constraint struct {
	Name     string
	Label    string
	Property string
}

// Index is a lookup index on one or more of a node label's properties.
type Index struct {
	Name       string
	Label      string
	Properties []string
}

// Schema is the fixed set of constraints and indexes this service expects
// its graph store to maintain: AuditEvent.id, BlacklistedToken.token_hash,
// and User.user_id are unique; ExecutionResult.code_hash,
// ExecutionResult.timestamp, LintResult.code_hash, AuditEvent(type,
// timestamp), AuditEvent.user_id, and BlacklistedToken.expires_at are
// indexed for query performance (lookup by hash, time-range audit scans,
// and the revocation sweep's expiry scan).
var Schema = struct {
	Constraints []Constraint
	Indexes     []Index
}{
	Constraints: []Constraint{
		{Name: "audit_event_id", Label: "AuditEvent", Property: "id"},
		{Name: "blacklisted_token_hash", Label: "BlacklistedToken", Property: "token_hash"},
		{Name: "user_id", Label: "User", Property: "user_id"},
	},
	Indexes: []Index{
		{Name: "exec_result_code_hash", Label: "ExecutionResult", Properties: []string{"code_hash"}},
		{Name: "exec_result_timestamp", Label: "ExecutionResult", Properties: []string{"timestamp"}},
		{Name: "lint_result_code_hash", Label: "LintResult", Properties: []string{"code_hash"}},
		{Name: "audit_event_type_timestamp", Label: "AuditEvent", Properties: []string{"type", "timestamp"}},
		{Name: "audit_event_user_id", Label: "AuditEvent", Properties: []string{"user_id"}},
		{Name: "blacklisted_token_expires_at", Label: "BlacklistedToken", Properties: []string{"expires_at"}},
	},
}

// EnsureSchema applies Schema's constraints and indexes to client. The
// in-memory adapter has no schema of its own to maintain (every op
// already enforces the key-uniqueness invariant structurally via its
// key-keyed node map), so this is a no-op for MemoryGraph; a real
// driver adapter implements this by issuing the equivalent
// CREATE CONSTRAINT / CREATE INDEX IF NOT EXISTS statements through
// ExecuteWrite.
func EnsureSchema(ctx context.Context, client interface {
	ExecuteWrite(ctx context.Context, query string, params map[string]any) error
}) error {
	if _, ok := client.(*MemoryGraph); ok {
		return nil
	}
	if _, ok := client.(*PooledClient); ok {
		return nil
	}

	for _, c := range Schema.Constraints {
		query := "CREATE CONSTRAINT " + c.Name + " IF NOT EXISTS FOR (n:" + c.Label + ") REQUIRE n." + c.Property + " IS UNIQUE"
		if err := client.ExecuteWrite(ctx, query, nil); err != nil {
			return err
		}
	}
	for _, idx := range Schema.Indexes {
		cols := make([]string, len(idx.Properties))
		for i, p := range idx.Properties {
			cols[i] = "n." + p
		}
		query := "CREATE INDEX " + idx.Name + " IF NOT EXISTS FOR (n:" + idx.Label + ") ON (" + strings.Join(cols, ", ") + ")"
		if err := client.ExecuteWrite(ctx, query, nil); err != nil {
			return err
		}
	}
	return nil
}
