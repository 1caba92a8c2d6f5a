package pipeline

import (
	"net/http"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/domain/auth"
)

// RequirePermission is stage 5 of §4.12: look up the required permission
// for the route and call C4 (auth.Allow). Unlike the other stages this
// one is route-scoped rather than global — the registry (C16) wraps each
// route's handler with the permission its tool_id demands — because "the
// route" is exactly the piece of information a route-agnostic middleware
// stack doesn't have.
func RequirePermission(perm auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFromContext(r.Context())
			if identity == nil {
				WriteError(w, r, apperr.New(apperr.Unauthenticated, "no authenticated identity"))
				return
			}
			if !auth.Allow(identity.Roles, perm) {
				WriteError(w, r, apperr.New(apperr.PermissionDenied, "caller lacks the required permission"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
