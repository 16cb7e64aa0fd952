package middleware

import (
	"errors"
	"net/http"
)

type bearerTransport struct {
	session *Session
	base    http.RoundTripper
}

// Transport attaches the session's bearer token to every request and expires
// the session on any 401 answer.
func (s *Session) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &bearerTransport{session: s, base: base}
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.session.Token()
	if err != nil && !errors.Is(err, ErrNoSession) {
		return nil, err
	}

	r := req.Clone(req.Context())
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.session.Expire()
	}
	return resp, nil
}
