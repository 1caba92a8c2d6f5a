package pipeline

import (
	"context"
	"net/http"
	"strings"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/ctxkey"
	"github.com/ultimate-mcp/mcpd/internal/domain/auth"
)

// TokenVerifier is the slice of *auth.TokenService the authentication
// stage depends on, so tests can stub it without constructing a real
// signing key and revocation store.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Authenticate is stage 4 of §4.12: extract the bearer credential and
// verify it via C3. On any failure the request stops with
// Unauthenticated and the request is never assumed to carry any role —
// per spec §9, a verification failure is never treated as "viewer".
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				WriteError(w, r, apperr.New(apperr.Unauthenticated, "missing bearer credential"))
				return
			}

			claims, err := verifier.Verify(strings.TrimPrefix(header, prefix))
			if err != nil {
				WriteError(w, r, err)
				return
			}

			roles := make([]auth.Role, len(claims.Roles))
			copy(roles, claims.Roles)
			identity := &auth.Identity{UserID: claims.Subject, Roles: roles}

			ctx := context.WithValue(r.Context(), ctxkey.IdentityKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the authenticated caller's identity, or nil
// if the authentication stage never ran or rejected the request.
func IdentityFromContext(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(ctxkey.IdentityKey{}).(*auth.Identity)
	return identity
}
