package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"

	"github.com/notepid/portal_inbox/internal/message"
)

// ErrNoSession is returned by Load when no session file exists.
var ErrNoSession = errors.New("no saved session")

// Session is what the client remembers between runs.
type Session struct {
	AccessToken string              `yaml:"access_token"`
	User        message.Participant `yaml:"user"`
}

// Load reads a saved session.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", path, err)
	}

	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", path, err)
	}
	if s.AccessToken == "" {
		return nil, ErrNoSession
	}
	return &s, nil
}

// Save writes s to path, readable by the owner only.
func Save(path string, s *Session) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session %s: %w", path, err)
	}
	return nil
}

// Clear removes a saved session. A missing file is not an error.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session %s: %w", path, err)
	}
	return nil
}

// TokenClaims is the part of an access token the client looks at.
type TokenClaims struct {
	UserID    int64
	ExpiresAt time.Time // zero when the token has no exp claim
}

// Expired reports whether the token is expired at now.
func (c TokenClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Claims decodes an access token without verifying its signature. Only the
// server can verify it; the client uses the claims to skip a login that is
// bound to fail.
func Claims(token string) (TokenClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenClaims{}, fmt.Errorf("parse access token: %w", err)
	}

	var out TokenClaims
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return TokenClaims{}, fmt.Errorf("read exp claim: %w", err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}

	switch v := claims["user_id"].(type) {
	case float64:
		out.UserID = int64(v)
	case string:
		out.UserID, _ = strconv.ParseInt(v, 10, 64)
	}
	if out.UserID == 0 {
		if sub, err := claims.GetSubject(); err == nil && sub != "" {
			out.UserID, _ = strconv.ParseInt(sub, 10, 64)
		}
	}
	return out, nil
}

// Usable reports whether s holds a token that has not expired at now.
func (s *Session) Usable(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	c, err := Claims(s.AccessToken)
	if err != nil {
		return false
	}
	return !c.Expired(now)
}
