package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const uidKey contextKey = "UID"

// Authenticator only lets through requests presenting the token of the
// current session, so the dashboard is usable only by the logged-in
// professional.
func Authenticator(session *Session) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idToken := findToken(r, tokenFromHeader, tokenFromQuery)

			current, err := session.Token()
			if err != nil || idToken == "" || subtle.ConstantTimeCompare([]byte(idToken), []byte(current)) != 1 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}

			uid, err := UserIDFromToken(current)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), uidKey, uid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UID returns the user id set by Authenticator.
func UID(ctx context.Context) string {
	uid, _ := ctx.Value(uidKey).(string)
	return uid
}

func tokenFromHeader(r *http.Request) string {
	// Get token from authorization header.
	bearer := r.Header.Get("Authorization")
	if len(bearer) > 7 && strings.ToUpper(bearer[0:6]) == "BEARER" {
		return bearer[7:]
	}
	return ""
}

func tokenFromQuery(r *http.Request) string {
	// Get token from query param named "token".
	return r.URL.Query().Get("token")
}

func findToken(r *http.Request, findTokenFns ...func(r *http.Request) string) string {
	var tokenString string

	for _, fn := range findTokenFns {
		tokenString = fn(r)
		if tokenString != "" {
			break
		}
	}

	return tokenString
}
