package middleware

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrNoSession     = errors.New("no session token")
	ErrNoUserInToken = errors.New("token carries no user id")
)

// TokenStore persists the bearer token between runs.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

type fileTokenStore struct {
	path string
}

func NewFileTokenStore(path string) TokenStore {
	return &fileTokenStore{path: path}
}

func (f *fileTokenStore) Load() (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (f *fileTokenStore) Save(token string) error {
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return os.WriteFile(f.path, []byte(token), 0600)
}

func (f *fileTokenStore) Clear() error {
	err := os.Remove(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Session is the authenticated identity every remote call runs under. It is
// passed explicitly to whatever needs it instead of being read from ambient
// storage.
type Session struct {
	store TokenStore

	mu             sync.Mutex
	onUnauthorized []func(userId string)
}

func NewSession(store TokenStore) *Session {
	return &Session{store: store}
}

// Token reads the persisted token. It is called for every request so that a
// token cleared elsewhere takes effect immediately.
func (s *Session) Token() (string, error) {
	token, err := s.store.Load()
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNoSession
	}
	return token, nil
}

// Login stores token and returns the user id it carries.
func (s *Session) Login(token string) (string, error) {
	token = strings.TrimSpace(token)
	userId, err := UserIDFromToken(token)
	if err != nil {
		return "", err
	}
	if err := s.store.Save(token); err != nil {
		return "", err
	}
	return userId, nil
}

func (s *Session) Logout() error {
	return s.store.Clear()
}

func (s *Session) UserID() (string, error) {
	token, err := s.Token()
	if err != nil {
		return "", err
	}
	return UserIDFromToken(token)
}

// OnUnauthorized registers fn to run after a 401 cleared the session.
func (s *Session) OnUnauthorized(fn func(userId string)) {
	s.mu.Lock()
	s.onUnauthorized = append(s.onUnauthorized, fn)
	s.mu.Unlock()
}

// Expire drops the token and sends the user back to the login view.
func (s *Session) Expire() {
	userId, _ := s.UserID()
	if err := s.store.Clear(); err != nil {
		log.Printf("Unable to clear session token: %v", err)
	}

	s.mu.Lock()
	hooks := make([]func(string), len(s.onUnauthorized))
	copy(hooks, s.onUnauthorized)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(userId)
	}
}

// UserIDFromToken reads the user id claim without verifying the signature;
// verification belongs to the backend that issued the token.
func UserIDFromToken(token string) (string, error) {
	if token == "" {
		return "", ErrNoSession
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}

	for _, key := range []string{"userId", "user_id", "id", "_id", "sub"} {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v, nil
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		}
	}
	return "", ErrNoUserInToken
}
