package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/notepid/portal_inbox/internal/db"
	"github.com/notepid/portal_inbox/internal/message"
	"github.com/notepid/portal_inbox/internal/user"
)

// Options configures a Server.
type Options struct {
	DB        *db.DB
	JWTSecret string // empty uses the key stored in the database
	TokenTTL  time.Duration
	Seeds     []user.Seed
	Logger    *zap.Logger
	Now       func() time.Time
}

// Server is a local stand-in for the portal REST API.
type Server struct {
	users    *user.Repo
	messages *message.Repo
	tokens   *tokens
	logger   *zap.Logger
	router   *gin.Engine
}

// New prepares the server: it resolves the signing key, seeds accounts and
// builds the router.
func New(opts Options) (*Server, error) {
	if opts.DB == nil {
		return nil, errors.New("devserver: database is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	logger := opts.Logger.With(zap.String("component", "devserver"))

	secret, err := signingKey(opts.DB, opts.JWTSecret, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		users:    user.NewRepo(opts.DB.DB),
		messages: message.NewRepo(opts.DB.DB),
		tokens:   &tokens{secret: []byte(secret), ttl: opts.TokenTTL, now: opts.Now},
		logger:   logger,
	}

	created, err := s.users.EnsureSeed(opts.Seeds)
	if err != nil {
		return nil, fmt.Errorf("seed users: %w", err)
	}
	if created > 0 {
		logger.Info("seeded users", zap.Int("created", created))
	}

	s.router = s.routes()
	return s, nil
}

// signingKey returns the configured secret, or the one persisted in the
// database, generating and storing it on first use.
func signingKey(database *db.DB, configured string, logger *zap.Logger) (string, error) {
	if configured != "" {
		return configured, nil
	}
	settings, err := database.GetPortalSettings()
	if err != nil {
		return "", err
	}
	if settings.SigningKey != "" {
		return settings.SigningKey, nil
	}
	key, err := randomSecret()
	if err != nil {
		return "", err
	}
	settings.SigningKey = key
	if err := database.UpdatePortalSettings(settings); err != nil {
		return "", err
	}
	logger.Info("generated signing key")
	return key, nil
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
