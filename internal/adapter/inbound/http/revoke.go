package http

import (
	"net/http"
	"time"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/domain/auth"
	"github.com/ultimate-mcp/mcpd/internal/service/pipeline"
)

type revokeRequestDTO struct {
	Token string `json:"token" validate:"required"`
}

type revokeAllRequestDTO struct {
	UserID string `json:"user_id" validate:"required"`
}

// revokeHandler answers POST /auth/revoke: blacklist a single token by
// its hash until its own expiry. If the token doesn't parse (already
// malformed, or a leaked secret an operator only has the raw string
// for) the blacklist entry falls back to a fixed 24h window rather than
// rejecting the request — a slightly longer-than-necessary blacklist
// entry is the safe failure mode here, a rejected revocation isn't.
func revokeHandler(store auth.RevocationStore, verifier pipeline.TokenVerifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req revokeRequestDTO
		if !decodeAndValidate(w, r, &req) {
			return
		}
		expiresAt := time.Now().Add(24 * time.Hour)
		if claims, err := verifier.Verify(req.Token); err == nil {
			expiresAt = time.Unix(claims.ExpiresAt, 0)
		}
		hash := auth.HashToken(req.Token)
		if err := store.RevokeToken(hash, expiresAt); err != nil {
			pipeline.WriteError(w, r, apperr.Wrap(apperr.Internal, "revoking token", err))
			return
		}
		pipeline.WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
	})
}

// revokeAllHandler answers POST /auth/revoke_all: reject every token for
// a user issued before now.
func revokeAllHandler(store auth.RevocationStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req revokeAllRequestDTO
		if !decodeAndValidate(w, r, &req) {
			return
		}
		if err := store.RevokeAllForUser(req.UserID, time.Now().UTC()); err != nil {
			pipeline.WriteError(w, r, apperr.Wrap(apperr.Internal, "revoking user tokens", err))
			return
		}
		pipeline.WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
	})
}
