// Package session keeps the signed-in user's bearer credential between runs
// and hands it to the API client as an oauth2.TokenSource.
package session

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
)

var (
	ErrNoSession      = errors.New("not signed in")
	ErrSessionExpired = errors.New("session expired, sign in again")
	ErrNoUserID       = errors.New("session has no user id")
)

const (
	EnvToken  = "NOTIFEED_TOKEN"
	EnvUserID = "NOTIFEED_USER_ID"
)

type Session struct {
	Token   string    `json:"token"`
	UserID  string    `json:"user_id,omitempty"`
	BaseURL string    `json:"base_url,omitempty"`
	SavedAt time.Time `json:"saved_at"`
}

// Claims are the parts of a JWT bearer token the client cares about.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// Claims decodes the token payload without verifying the signature; the
// backend remains the only authority on validity.
func (s Session) Claims() (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.Token, mc); err != nil {
		return Claims{}, fmt.Errorf("parsing token: %w", err)
	}

	var c Claims
	for _, key := range []string{"userId", "user_id", "id", "sub"} {
		if id := claimString(mc[key]); id != "" {
			c.UserID = id
			break
		}
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

func claimString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

// ResolveUserID prefers the explicit user id and falls back to the token claims.
func (s Session) ResolveUserID() string {
	if s.UserID != "" {
		return s.UserID
	}
	if c, err := s.Claims(); err == nil {
		return c.UserID
	}
	return ""
}

// ExpiresAt is zero for opaque tokens and tokens without exp.
func (s Session) ExpiresAt() time.Time {
	c, err := s.Claims()
	if err != nil {
		return time.Time{}
	}
	return c.ExpiresAt
}

func (s Session) Expired(now time.Time) bool {
	exp := s.ExpiresAt()
	return !exp.IsZero() && !now.Before(exp)
}

// Validate reports whether the session can make authenticated calls.
func (s Session) Validate(now time.Time) error {
	if strings.TrimSpace(s.Token) == "" {
		return ErrNoSession
	}
	if s.Expired(now) {
		return ErrSessionExpired
	}
	if s.ResolveUserID() == "" {
		return ErrNoUserID
	}
	return nil
}

// TokenSource returns the bearer source for the API client. Once the token
// expiry passes it yields ErrSessionExpired, so requests fail before they
// reach the backend.
func (s Session) TokenSource() oauth2.TokenSource {
	return s.tokenSource(time.Now)
}

func (s Session) tokenSource(now func() time.Time) oauth2.TokenSource {
	return &expiringSource{
		token: &oauth2.Token{
			AccessToken: s.Token,
			TokenType:   "Bearer",
			Expiry:      s.ExpiresAt(),
		},
		now: now,
	}
}

type expiringSource struct {
	token *oauth2.Token
	now   func() time.Time
}

func (e *expiringSource) Token() (*oauth2.Token, error) {
	if !e.token.Expiry.IsZero() && !e.now().Before(e.token.Expiry) {
		return nil, ErrSessionExpired
	}
	t := *e.token
	return &t, nil
}

var loadDotEnv sync.Once

// FromEnv reads a session from NOTIFEED_TOKEN / NOTIFEED_USER_ID after
// loading .env.local and .env from the working directory.
func FromEnv() (Session, bool) {
	loadDotEnv.Do(func() {
		_ = godotenv.Load(".env.local")
		_ = godotenv.Load(".env")
	})

	token := strings.TrimSpace(os.Getenv(EnvToken))
	if token == "" {
		return Session{}, false
	}
	return Session{
		Token:  token,
		UserID: strings.TrimSpace(os.Getenv(EnvUserID)),
	}, true
}

// Resolve returns the environment session when present, otherwise the
// stored one.
func Resolve(store *Store) (Session, error) {
	if s, ok := FromEnv(); ok {
		return s, nil
	}
	if store == nil {
		return Session{}, ErrNoSession
	}
	return store.Load()
}
