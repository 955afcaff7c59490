package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/notepid/portal_inbox/internal/message"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8000/api"

// ErrUnauthorized matches any *APIError with status 401.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response from the portal.
type APIError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("portal api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("portal api: %d %s", e.StatusCode, e.Detail)
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}

// errorBody covers the error shapes the portal returns.
type errorBody struct {
	Detail         string   `json:"detail"`
	Error          string   `json:"error"`
	Code           string   `json:"code"`
	NonFieldErrors []string `json:"non_field_errors"`
}

func (b *errorBody) message() string {
	switch {
	case b.Detail != "":
		return b.Detail
	case b.Error != "":
		return b.Error
	case len(b.NonFieldErrors) > 0:
		return strings.Join(b.NonFieldErrors, "; ")
	}
	return ""
}

// Client talks to the portal REST API.
type Client struct {
	rc      *resty.Client
	baseURL string
	logger  *zap.Logger

	mu    sync.RWMutex
	token string
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout bounds every request. Zero leaves the transport default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.rc.SetTimeout(d)
		}
	}
}

// WithLogger logs each response at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger.With(zap.String("component", "api")) }
}

// WithToken sets the initial bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// NormalizeBaseURL applies the default and makes sure the URL ends in /api.
func NormalizeBaseURL(raw string) string {
	url := strings.TrimSpace(raw)
	if url == "" {
		return DefaultBaseURL
	}
	url = strings.TrimRight(url, "/")
	if !strings.HasSuffix(url, "/api") {
		url += "/api"
	}
	return url
}

// New creates a client for the portal at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: NormalizeBaseURL(baseURL),
		logger:  zap.NewNop(),
	}
	c.rc = resty.New().
		SetBaseURL(c.baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	for _, opt := range opts {
		opt(c)
	}

	c.rc.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		c.logger.Debug("request",
			zap.String("method", resp.Request.Method),
			zap.String("url", resp.Request.URL),
			zap.Int("status", resp.StatusCode()),
			zap.Duration("took", resp.Time()),
		)
		return nil
	})
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken replaces the bearer token used for authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) request(ctx context.Context) *resty.Request {
	r := c.rc.R().SetContext(ctx).SetError(&errorBody{})
	if token := c.Token(); token != "" {
		r.SetAuthToken(token)
	}
	return r
}

// check turns transport failures and error statuses into errors.
func check(resp *resty.Response, err error, op string) error {
	if err != nil {
		return errors.Wrap(err, op)
	}
	if !resp.IsError() {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if body, ok := resp.Error().(*errorBody); ok && body != nil {
		apiErr.Code = body.Code
		apiErr.Detail = body.message()
	}
	return errors.WithMessage(apiErr, op)
}

// LoginResult is the body of a successful login.
type LoginResult struct {
	Access  string              `json:"access"`
	Refresh string              `json:"refresh"`
	Token   string              `json:"token"`
	User    message.Participant `json:"user"`
}

// AccessToken returns the bearer token from the result.
func (r *LoginResult) AccessToken() string {
	if r.Access != "" {
		return r.Access
	}
	return r.Token
}

// Login authenticates with email (also sent as username) and password and
// starts using the returned token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var result LoginResult
	resp, err := c.rc.R().
		SetContext(ctx).
		SetError(&errorBody{}).
		SetBody(map[string]string{
			"email":    email,
			"username": email,
			"password": password,
		}).
		SetResult(&result).
		Post("/auth/login")
	if err := check(resp, err, "login"); err != nil {
		return nil, err
	}
	if result.AccessToken() == "" {
		return nil, errors.New("login: response carried no token")
	}
	c.SetToken(result.AccessToken())
	return &result, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*message.Participant, error) {
	var p message.Participant
	resp, err := c.request(ctx).SetResult(&p).Get("/auth/me")
	if err := check(resp, err, "get current user"); err != nil {
		return nil, err
	}
	return &p, nil
}

// SearchUsers finds users to start a conversation with.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]message.Participant, error) {
	var users []message.Participant
	resp, err := c.request(ctx).
		SetQueryParam("search", query).
		SetResult(&users).
		Get("/auth/search-users")
	if err := check(resp, err, "search users"); err != nil {
		return nil, err
	}
	return users, nil
}

// ListMessages returns every message the current user sent or received.
func (c *Client) ListMessages(ctx context.Context) ([]message.Message, error) {
	var msgs []message.Message
	resp, err := c.request(ctx).SetResult(&msgs).Get("/messages")
	if err := check(resp, err, "list messages"); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessage posts a message and returns it as persisted.
func (c *Client) SendMessage(ctx context.Context, recipientID int64, content string) (*message.Message, error) {
	var m message.Message
	resp, err := c.request(ctx).
		SetBody(map[string]any{"receiver": recipientID, "content": content}).
		SetResult(&m).
		Post("/messages")
	if err := check(resp, err, "send message"); err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkRead flags a received message as read.
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	resp, err := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetBody(map[string]bool{"is_read": true}).
		Patch("/messages/{id}")
	return check(resp, err, fmt.Sprintf("mark message %d read", id))
}
