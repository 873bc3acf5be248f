// Package auth guards the verifier-facing routes with HS256 bearer tokens.
// Disabled unless a secret is configured, which keeps parity with deployments
// where verifier identity is checked only against the record.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// VerifierClaims is the expected token payload; Subject must carry the
// verifier identity the request acts as.
type VerifierClaims struct {
	jwt.RegisteredClaims
}

// ParseVerifierToken validates an HS256 token and returns its subject.
func ParseVerifierToken(tokenString, secret string) (string, error) {
	claims := &VerifierClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid token")
	}
	return claims.Subject, nil
}

// RequireVerifier wraps verifier routes. When secret is empty the middleware is
// a no-op. Otherwise the bearer token's subject must match the verifier the
// request names, as extracted by verifierOf.
func RequireVerifier(secret string, verifierOf func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				http.Error(w, "bearer token required", http.StatusUnauthorized)
				return
			}
			subject, err := ParseVerifierToken(strings.TrimSpace(authz[7:]), secret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if want := verifierOf(r); want != "" && want != subject {
				http.Error(w, "token subject mismatch", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
