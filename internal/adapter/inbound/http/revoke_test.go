package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ultimate-mcp/mcpd/internal/domain/auth"
)

func TestRevokeHandler_RevokesToken(t *testing.T) {
	revocation := auth.NewMemoryRevocationStore()
	verifier := auth.NewTokenService([]byte("a-signing-key-thats-long-enough"), "mcpd-test", time.Hour, revocation)

	token, err := verifier.Issue("user-1", []auth.Role{auth.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}

	body, _ := json.Marshal(revokeRequestDTO{Token: token})
	req := httptest.NewRequest(http.MethodPost, "/auth/revoke", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	revokeHandler(revocation, verifier).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	if _, err := verifier.Verify(token); err == nil {
		t.Error("expected revoked token to fail verification")
	}
}

func TestRevokeHandler_RejectsMissingToken(t *testing.T) {
	revocation := auth.NewMemoryRevocationStore()
	verifier := auth.NewTokenService([]byte("a-signing-key-thats-long-enough"), "mcpd-test", time.Hour, revocation)

	body, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest(http.MethodPost, "/auth/revoke", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	revokeHandler(revocation, verifier).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 for missing required field", rec.Code)
	}
}

func TestRevokeAllHandler_RevokesUserTokens(t *testing.T) {
	revocation := auth.NewMemoryRevocationStore()
	verifier := auth.NewTokenService([]byte("a-signing-key-thats-long-enough"), "mcpd-test", time.Hour, revocation)

	token, err := verifier.Issue("user-1", []auth.Role{auth.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}

	body, _ := json.Marshal(revokeAllRequestDTO{UserID: "user-1"})
	req := httptest.NewRequest(http.MethodPost, "/auth/revoke_all", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	revokeAllHandler(revocation).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	if _, err := verifier.Verify(token); err == nil {
		t.Error("expected token issued before revoke_all to fail verification")
	}
}
