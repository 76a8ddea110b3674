package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ProviderEnv is one provider's app registration. A provider is enabled when
// its client id is set.
type ProviderEnv struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	CallbackURL  string `env:"CALLBACK_URL"`
}

func (p ProviderEnv) Enabled() bool { return p.ClientID != "" }

// Config holds the demo's settings, read from the environment (and .env)
type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	BaseURL  string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON"`

	// Store is one of fs, sqlite, postgres or datastore
	Store              string `env:"STORE" envDefault:"fs"`
	StorePath          string `env:"STORE_PATH" envDefault:"./data"`
	DatabaseURL        string `env:"DATABASE_URL"`
	DatastoreProject   string `env:"DATASTORE_PROJECT"`
	DatastoreNamespace string `env:"DATASTORE_NAMESPACE"`

	// RedisAddress enables the cross-process refresh lock
	RedisAddress  string `env:"REDIS_ADDRESS"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	JWTSecretKey   string        `env:"JWT_SECRET_KEY"`
	SessionSecret  string        `env:"SESSION_SECRET"`
	TokenSealKey   string        `env:"TOKEN_SEAL_KEY"`
	RefreshTimeout time.Duration `env:"REFRESH_TIMEOUT" envDefault:"10s"`

	Spotify  ProviderEnv `envPrefix:"SPOTIFY_"`
	Google   ProviderEnv `envPrefix:"GOOGLE_"`
	GitHub   ProviderEnv `envPrefix:"GITHUB_"`
	LinkedIn ProviderEnv `envPrefix:"LINKEDIN_"`
	Tumblr   ProviderEnv `envPrefix:"TUMBLR_"`
}

// LoadConfig parses the environment into a Config
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case "fs", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE=postgres needs DATABASE_URL")
		}
	case "datastore":
		if c.DatastoreProject == "" {
			return fmt.Errorf("STORE=datastore needs DATASTORE_PROJECT")
		}
	default:
		return fmt.Errorf("unknown STORE %q", c.Store)
	}
	if c.TokenSealKey != "" && len(c.TokenSealKey) != 64 {
		return fmt.Errorf("TOKEN_SEAL_KEY must be 64 hex characters")
	}
	if c.RefreshTimeout <= 0 {
		return fmt.Errorf("REFRESH_TIMEOUT must be positive")
	}
	return nil
}

// callbackURL defaults a provider's redirect to BASE_URL/auth/<provider>/callback
func (c *Config) callbackURL(p ProviderEnv, provider string) string {
	if p.CallbackURL != "" {
		return p.CallbackURL
	}
	return strings.TrimRight(c.BaseURL, "/") + "/auth/" + provider + "/callback"
}

func (c *Config) slogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func setupLogging(c *Config) {
	opts := &slog.HandlerOptions{Level: c.slogLevel()}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if c.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
