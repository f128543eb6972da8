package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docchat-go/internal/logging"
)

// authMiddleware enforces Bearer token authentication on protected routes.
// An empty apiKey disables the check; New logs that once at startup.
//
//	Authorization: Bearer <apiKey>
//
// Failures receive 401 with a WWW-Authenticate challenge. The presented
// token is never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		switch {
		case token == "":
			logging.FromContext(r.Context()).Warn("auth: missing bearer token")
			w.Header().Set("WWW-Authenticate", `Bearer realm="docchat"`)
			http.Error(w, "authorization required", http.StatusUnauthorized)
			return
		case subtle.ConstantTimeCompare([]byte(token), want) != 1:
			logging.FromContext(r.Context()).Warn("auth: invalid token", slog.Bool("token_present", true))
			w.Header().Set("WWW-Authenticate", `Bearer realm="docchat", error="invalid_token"`)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. It returns "" when the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
