package devserver

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/notepid/portal_inbox/internal/user"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
	ctxUserKey       = "portal.user"
)

var errTokenType = errors.New("wrong token type")

// tokens issues and verifies HS256 tokens in the shape the portal uses.
type tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func (t *tokens) issue(u *user.User, tokenType string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := jwt.MapClaims{
		"token_type": tokenType,
		"user_id":    u.ID,
		"sub":        strconv.FormatInt(u.ID, 10),
		"iat":        now.Unix(),
		"exp":        now.Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

func (t *tokens) pair(u *user.User) (access, refresh string, err error) {
	if access, err = t.issue(u, tokenTypeAccess, t.ttl); err != nil {
		return "", "", err
	}
	if refresh, err = t.issue(u, tokenTypeRefresh, 7*t.ttl); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// verify returns the user id carried by a valid access token.
func (t *tokens) verify(raw string) (int64, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return 0, err
	}
	if typ, _ := claims["token_type"].(string); typ != tokenTypeAccess {
		return 0, errTokenType
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(sub, 10, 64)
}

// requireUser authenticates the bearer token and stores the user in the
// request context.
func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			abortDetail(c, http.StatusUnauthorized, "Authentication credentials were not provided.", "")
			return
		}

		id, err := s.tokens.verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			abortDetail(c, http.StatusUnauthorized, "Given token not valid for any token type", "token_not_valid")
			return
		}

		u, err := s.users.GetByID(id)
		if err != nil {
			abortDetail(c, http.StatusUnauthorized, "User not found", "user_not_found")
			return
		}

		c.Set(ctxUserKey, u)
		c.Next()
	}
}

func currentUser(c *gin.Context) *user.User {
	return c.MustGet(ctxUserKey).(*user.User)
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate signing key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
