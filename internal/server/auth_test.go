package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		apiKey    string
		header    string
		wantCode  int
		wantError string // substring of WWW-Authenticate, "" when none expected
	}{
		{name: "disabled without header", apiKey: "", wantCode: http.StatusOK},
		{name: "disabled ignores junk header", apiKey: "", header: "Basic Zm9v", wantCode: http.StatusOK},
		{name: "missing header", apiKey: "secret", wantCode: http.StatusUnauthorized, wantError: `realm="docchat"`},
		{name: "wrong token", apiKey: "secret", header: "Bearer nope", wantCode: http.StatusUnauthorized, wantError: "invalid_token"},
		{name: "token prefix only", apiKey: "secret", header: "Bearer secre", wantCode: http.StatusUnauthorized, wantError: "invalid_token"},
		{name: "basic scheme", apiKey: "secret", header: "Basic dXNlcjpwYXNz", wantCode: http.StatusUnauthorized, wantError: `realm="docchat"`},
		{name: "correct token", apiKey: "secret", header: "Bearer secret", wantCode: http.StatusOK},
		{name: "lowercase scheme", apiKey: "secret", header: "bearer secret", wantCode: http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			authMiddleware(tc.apiKey, okHandler).ServeHTTP(w, req)

			if w.Code != tc.wantCode {
				t.Fatalf("want %d, got %d", tc.wantCode, w.Code)
			}
			challenge := w.Header().Get("WWW-Authenticate")
			if tc.wantError == "" {
				if challenge != "" {
					t.Errorf("unexpected challenge %q", challenge)
				}
				return
			}
			if !strings.Contains(challenge, tc.wantError) {
				t.Errorf("challenge %q does not contain %q", challenge, tc.wantError)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	for header, want := range map[string]string{
		"Bearer abc123":      "abc123",
		"BEARER abc123":      "abc123",
		"Bearer  padded ":    "padded",
		"Basic dXNlcjpwYXNz": "",
		"":                   "",
		"Bearer":             "",
		"abc123":             "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if got := bearerToken(req); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
