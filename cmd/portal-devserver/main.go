package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/notepid/portal_inbox/internal/config"
	"github.com/notepid/portal_inbox/internal/db"
	"github.com/notepid/portal_inbox/internal/devserver"
	"github.com/notepid/portal_inbox/internal/logging"
	"github.com/notepid/portal_inbox/internal/user"
)

func main() {
	configPath := flag.String("config", "inbox.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	dc := cfg.DevServer

	logger, err := logging.New(logging.Options{
		Path:       dc.LogPath,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := os.MkdirAll(filepath.Dir(dc.Database), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	database, err := db.Open(dc.Database, logger)
	if err != nil {
		return err
	}
	defer database.Close()
	logger.Info("database opened", zap.String("path", dc.Database))

	seeds := make([]user.Seed, 0, len(dc.SeedUsers))
	for _, s := range dc.SeedUsers {
		seeds = append(seeds, user.Seed{
			Email:    s.Email,
			Username: s.Username,
			Name:     s.Name,
			Role:     s.Role,
			Password: s.Password,
		})
	}

	srv, err := devserver.New(devserver.Options{
		DB:        database,
		JWTSecret: dc.JWTSecret,
		TokenTTL:  dc.TokenTTL,
		Seeds:     seeds,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("portal devserver listening on %s\n", dc.Listen)
	fmt.Println("Press Ctrl+C to shut down.")
	return srv.Run(ctx, dc.Listen)
}
