package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notepid/portal_inbox/internal/api"
	"github.com/notepid/portal_inbox/internal/chat"
	"github.com/notepid/portal_inbox/internal/config"
	"github.com/notepid/portal_inbox/internal/logging"
	"github.com/notepid/portal_inbox/internal/message"
	"github.com/notepid/portal_inbox/internal/session"
)

// Portal is the part of the API client the app needs.
type Portal interface {
	chat.Backend
	Login(ctx context.Context, email, password string) (*api.LoginResult, error)
	Me(ctx context.Context) (*message.Participant, error)
	SearchUsers(ctx context.Context, query string) ([]message.Participant, error)
	SetToken(token string)
}

// App holds everything the terminal client shares across screens.
type App struct {
	ConfigPath string
	Config     *config.Config
	Logger     *zap.Logger
	Portal     Portal

	now func() time.Time

	user  *message.Participant
	store *message.Store
}

// New loads configuration and builds the logger and API client.
func New(configPath string) (*App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(logging.Options{
		Path:       cfg.Log.Path,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Source == "" {
		logger.Info("config file not found, using defaults", zap.String("path", configPath))
	}

	client := api.New(cfg.API.BaseURL, api.WithTimeout(cfg.API.Timeout), api.WithLogger(logger))
	logger.Info("starting inbox", zap.String("api", client.BaseURL()))

	a := NewWithPortal(cfg, client, logger)
	a.ConfigPath = configPath

	cleanup := func() {
		_ = logger.Sync()
	}
	return a, cleanup, nil
}

// NewWithPortal builds an App around an existing portal client.
func NewWithPortal(cfg *config.Config, portal Portal, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		Config: cfg,
		Logger: logger,
		Portal: portal,
		now:    time.Now,
	}
}

// User returns the signed-in user, or nil.
func (a *App) User() *message.Participant {
	return a.user
}

// Store returns the signed-in user's message store, or nil.
func (a *App) Store() *message.Store {
	return a.store
}

// Resume signs in with a saved token if it has not expired and the
// server still accepts it.
func (a *App) Resume(ctx context.Context) (bool, error) {
	s, err := session.Load(a.Config.Session.Path)
	if errors.Is(err, session.ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !s.Usable(a.now()) {
		a.Logger.Info("saved session expired")
		return false, session.Clear(a.Config.Session.Path)
	}

	a.Portal.SetToken(s.AccessToken)
	me, err := a.Portal.Me(ctx)
	if errors.Is(err, api.ErrUnauthorized) {
		a.Portal.SetToken("")
		a.Logger.Info("saved session rejected by server")
		return false, session.Clear(a.Config.Session.Path)
	}
	if err != nil {
		a.Portal.SetToken("")
		return false, err
	}

	a.begin(*me)
	return true, nil
}

// Login authenticates, remembers the token and opens a fresh session.
func (a *App) Login(ctx context.Context, email, password string) error {
	res, err := a.Portal.Login(ctx, email, password)
	if err != nil {
		return err
	}

	if err := session.Save(a.Config.Session.Path, &session.Session{AccessToken: res.AccessToken(), User: res.User}); err != nil {
		a.Logger.Warn("could not save session", zap.Error(err))
	}
	a.begin(res.User)
	return nil
}

func (a *App) begin(me message.Participant) {
	a.user = &me
	a.store = message.NewStore(me.ID, message.WithConfirmSkew(a.Config.Sync.ConfirmSkew))
	a.Logger.Info("signed in", zap.Int64("user_id", me.ID), zap.String("role", me.Role))
}

// Logout forgets the token and discards every cached message.
func (a *App) Logout() error {
	if a.store != nil {
		a.store.Reset()
	}
	a.store = nil
	a.user = nil
	a.Portal.SetToken("")
	if err := session.Clear(a.Config.Session.Path); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	a.Logger.Info("signed out")
	return nil
}

// NewSyncer creates a syncer for the signed-in user. The caller owns it
// and must Stop it.
func (a *App) NewSyncer(broker *chat.Broker) (*chat.Syncer, error) {
	if a.user == nil || a.store == nil {
		return nil, errors.New("not signed in")
	}
	return chat.NewSyncer(chat.Options{
		Backend:  a.Portal,
		Store:    a.store,
		Broker:   broker,
		Self:     *a.user,
		Interval: a.Config.Sync.Interval,
		Logger:   a.Logger,
	})
}
