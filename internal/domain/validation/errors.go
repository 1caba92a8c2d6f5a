// Package validation implements the AST-based dangerous-construct
// detector for user-supplied executable code, the parse-tree mutation
// guard for graph queries, and the identifier/path shape checks shared
// by every tool that accepts a user-controlled name or relative path.
package validation

import (
	"errors"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
)

// invalidInput builds the InvalidInput error every validator in this
// package fails with. offendingToken is attached to Details only when
// non-empty, so callers get a concrete pointer to what was rejected
// without the error ever containing more of the source than that.
func invalidInput(reason, offendingToken string) *apperr.Error {
	e := apperr.New(apperr.InvalidInput, reason)
	if offendingToken != "" {
		e = e.WithDetails(map[string]any{"offending_token": offendingToken})
	}
	return e
}

// securityViolationDetailsKey marks an InvalidInput error as arising from
// the dangerous-construct scanner rather than an ordinary shape/size
// violation, so a caller that cares can audit it distinctly from a
// malformed-but-benign request.
const securityViolationDetailsKey = "security_violation"

// securityViolation builds the InvalidInput error ValidateCode fails
// with when the AST scanner rejects a dangerous import, call, or
// attribute access.
func securityViolation(reason, offendingToken string) *apperr.Error {
	e := invalidInput(reason, offendingToken)
	details := map[string]any{securityViolationDetailsKey: true}
	for k, v := range e.Details {
		details[k] = v
	}
	return e.WithDetails(details)
}

// IsSecurityViolation reports whether err was built by securityViolation:
// a dangerous-construct rejection rather than an ordinary validation
// failure.
func IsSecurityViolation(err error) bool {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return false
	}
	v, _ := e.Details[securityViolationDetailsKey].(bool)
	return v
}
