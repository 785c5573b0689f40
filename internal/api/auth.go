package api

import (
	"net/http"
	"strings"

	"github.com/nerrad567/chatlink/internal/auth"
)

// bearerPrefix precedes the token in the Authorization header.
const bearerPrefix = "Bearer "

// authEnabled reports whether a JWT secret is configured.
func (s *Server) authEnabled() bool {
	return s.secCfg.JWT.Secret != ""
}

// tokenFromRequest returns the bearer token, falling back to the token
// query parameter, which browsers need for WebSocket upgrades.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	}
	return r.URL.Query().Get("token")
}

// validateToken verifies an HS256 token signed with secret and returns its
// subject.
func validateToken(raw, secret string) (string, error) {
	claims, err := auth.ParseToken(raw, secret)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// authMiddleware rejects requests without a valid token when a secret is
// configured. Without one it passes everything through.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		sub, err := validateToken(tokenFromRequest(r), s.secCfg.JWT.Secret)
		if err != nil {
			s.logger.Debug("request rejected", "path", r.URL.Path, "error", err)
			writeUnauthorized(w, "valid bearer token required")
			return
		}

		ctx := withSubject(r.Context(), sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
