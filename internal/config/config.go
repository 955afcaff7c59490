package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the client and development server configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Sync      SyncConfig      `yaml:"sync"`
	Session   SessionConfig   `yaml:"session"`
	Log       LogConfig       `yaml:"log"`
	DevServer DevServerConfig `yaml:"devserver"`

	// Source is the file the config was read from, empty when only
	// defaults and environment were used.
	Source string `yaml:"-"`
}

// APIConfig locates the portal REST API.
type APIConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// SyncConfig tunes the background message sync.
type SyncConfig struct {
	Interval    time.Duration `yaml:"interval" validate:"gt=0"`
	ConfirmSkew time.Duration `yaml:"confirm_skew" validate:"gte=0"`
}

// SessionConfig says where the access token is remembered.
type SessionConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Path       string `yaml:"path"`
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
}

// DevServerConfig holds settings for the local portal backend.
type DevServerConfig struct {
	Listen    string        `yaml:"listen" validate:"required"`
	Database  string        `yaml:"database" validate:"required"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl" validate:"gt=0"`
	LogPath   string        `yaml:"log_path"`
	SeedUsers []SeedUser    `yaml:"seed_users" validate:"dive"`
}

// SeedUser is an account the development server creates when missing.
type SeedUser struct {
	Email    string `yaml:"email" validate:"required,email"`
	Username string `yaml:"username"`
	Name     string `yaml:"name"`
	Role     string `yaml:"role" validate:"omitempty,oneof=student teacher admin"`
	Password string `yaml:"password" validate:"required,min=6"`
}

// Environment variables that override file values.
const (
	EnvAPIURL       = "PORTAL_API_URL"
	EnvSyncInterval = "PORTAL_SYNC_INTERVAL"
	EnvJWTSecret    = "PORTAL_JWT_SECRET"
	EnvLogLevel     = "PORTAL_LOG_LEVEL"
)

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000/api",
		},
		Sync: SyncConfig{
			Interval:    5 * time.Second,
			ConfirmSkew: 2 * time.Minute,
		},
		Session: SessionConfig{
			Path: "./data/session.yaml",
		},
		Log: LogConfig{
			Path:       "./data/inbox.log",
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		DevServer: DevServerConfig{
			Listen:   ":8000",
			Database: "./data/portal.db",
			TokenTTL: 24 * time.Hour,
			SeedUsers: []SeedUser{
				{Email: "student@example.com", Username: "student", Name: "Student User", Role: "student", Password: "student123"},
				{Email: "teacher@example.com", Username: "teacher", Name: "Teacher User", Role: "teacher", Password: "teacher123"},
				{Email: "admin@example.com", Username: "admin", Name: "Admin User", Role: "admin", Password: "admin123"},
			},
		},
	}
}

// Load reads a YAML config file over the defaults, then applies a .env
// file next to it and environment overrides, then validates the result.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.Source = path
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		c.API.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSyncInterval)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvSyncInterval, err)
		}
		c.Sync.Interval = d
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.DevServer.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}
