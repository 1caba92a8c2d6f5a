package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
)

// Claims are the self-describing fields carried by a Token (§3).
type Claims struct {
	Subject   string   `json:"sub"`
	Roles     []Role   `json:"roles"`
	IssuedAt  int64    `json:"iat"`
	ExpiresAt int64    `json:"exp"`
	Issuer    string   `json:"iss"`
	ID        string   `json:"jti"`
}

// TokenService issues, verifies, and revokes signed stateless bearer
// tokens. The signature is a symmetric HS256 MAC over a compact
// header.payload encoding, in the spirit of the inherited codebase's
// preference for small, audited primitives over a heavyweight JWT
// framework dependency (see DESIGN.md's C3 entry).
type TokenService struct {
	key        []byte
	issuer     string
	defaultTTL time.Duration
	revocation RevocationStore
}

// NewTokenService constructs a TokenService. The signing key's strength
// is validated by internal/config at startup (§7's fatal-conditions
// rule); TokenService itself does not re-validate so that tests can use
// short fixture keys freely.
func NewTokenService(key []byte, issuer string, defaultTTL time.Duration, revocation RevocationStore) *TokenService {
	return &TokenService{key: key, issuer: issuer, defaultTTL: defaultTTL, revocation: revocation}
}

const tokenHeader = `{"alg":"HS256","typ":"UMCP"}`

// Issue creates a signed token for the given subject and roles, valid for
// ttl (or the service default if ttl <= 0).
func (s *TokenService) Issue(userID string, roles []Role, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := time.Now().UTC()
	claims := Claims{
		Subject:   userID,
		Roles:     roles,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		Issuer:    s.issuer,
		ID:        uuid.NewString(),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "marshal claims", err)
	}

	headerSeg := base64.RawURLEncoding.EncodeToString([]byte(tokenHeader))
	payloadSeg := base64.RawURLEncoding.EncodeToString(payload)
	signingInput := headerSeg + "." + payloadSeg
	mac := s.sign(signingInput)

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(mac), nil
}

func (s *TokenService) sign(signingInput string) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(signingInput))
	return h.Sum(nil)
}

// Verify validates a token's signature, issuer, expiry, and revocation
// status, and returns its claims. On ANY failure it returns
// apperr.Unauthenticated and the caller MUST NOT assume any role —
// treating a verification failure as "viewer" is the anti-pattern
// spec §9 explicitly forbids.
func (s *TokenService) Verify(token string) (*Claims, error) {
	headerSeg, payloadSeg, macSeg, ok := splitToken(token)
	if !ok {
		return nil, apperr.New(apperr.Unauthenticated, "malformed token")
	}

	expectedMAC := s.sign(headerSeg + "." + payloadSeg)
	gotMAC, err := base64.RawURLEncoding.DecodeString(macSeg)
	if err != nil {
		return nil, apperr.New(apperr.Unauthenticated, "malformed token signature")
	}
	if !hmac.Equal(expectedMAC, gotMAC) {
		return nil, apperr.New(apperr.Unauthenticated, "invalid token signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(payloadSeg)
	if err != nil {
		return nil, apperr.New(apperr.Unauthenticated, "malformed token payload")
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, apperr.New(apperr.Unauthenticated, "malformed token claims")
	}

	if len(claims.Roles) == 0 {
		return nil, apperr.New(apperr.Unauthenticated, "token carries no roles")
	}
	if claims.Issuer != s.issuer {
		return nil, apperr.New(apperr.Unauthenticated, "wrong token issuer")
	}
	now := time.Now().UTC().Unix()
	if now >= claims.ExpiresAt {
		return nil, apperr.New(apperr.Unauthenticated, "token expired")
	}

	if s.revocation != nil {
		revoked, err := s.revocation.IsRevoked(token, claims.Subject, claims.IssuedAt)
		if err != nil {
			return nil, apperr.Wrap(apperr.Unauthenticated, "revocation check failed", err)
		}
		if revoked {
			return nil, apperr.New(apperr.Unauthenticated, "token revoked")
		}
	}

	return &claims, nil
}

func splitToken(token string) (header, payload, mac string, ok bool) {
	first := -1
	second := -1
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			if first == -1 {
				first = i
			} else if second == -1 {
				second = i
			} else {
				return "", "", "", false
			}
		}
	}
	if first == -1 || second == -1 {
		return "", "", "", false
	}
	return token[:first], token[first+1 : second], token[second+1:], true
}

// HashToken returns a stable, non-reversible identifier for a token,
// used as the revocation-blacklist key so raw tokens are never stored
// at rest (the blacklist stores hash(token), not the token itself).
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", sum)
}

// constantTimeEqual is exposed for tests exercising HashToken's
// collision-avoidance properties without reaching into crypto/subtle
// directly from _test.go files in another package.
func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
