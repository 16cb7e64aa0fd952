package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v4"
)

func TestAuthenticator(t *testing.T) {
	session := newTestSession(t)
	token := signToken(t, jwt.MapClaims{"userId": "pro"})
	if _, err := session.Login(token); err != nil {
		t.Fatal(err)
	}

	var seen string
	handler := Authenticator(session)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing token", "", "", http.StatusUnauthorized},
		{"wrong token", "Bearer " + signToken(t, jwt.MapClaims{"userId": "other"}), "", http.StatusUnauthorized},
		{"header", "Bearer " + token, "", http.StatusOK},
		{"query", "", "?token=" + token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/conversations"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, req)

			if resp.Code != tt.want {
				t.Fatalf("status = %d, want %d", resp.Code, tt.want)
			}
			if tt.want == http.StatusOK && seen != "pro" {
				t.Errorf("UID = %q, want pro", seen)
			}
		})
	}
}

func TestAuthenticatorWithoutSession(t *testing.T) {
	session := newTestSession(t)
	handler := Authenticator(session)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set("Authorization", "Bearer anything")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.Code)
	}
}
