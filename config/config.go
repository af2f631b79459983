package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	CouchURL string `env:"COUCHDB_URL,required" validate:"required,url"`
	// Pre-encoded basic-auth token (base64 of admin:password), passed to the
	// store verbatim on every admin call.
	CouchAdminToken string `env:"COUCHDB_AUTH,required" validate:"required"`

	// HMAC secret for AuthSession cookies; must match the store's
	// couch_httpd_auth secret. COUCH_SECRET is honored as a legacy name.
	CookieSecret       string `env:"COOKIE_SECRET"`
	LegacyCookieSecret string `env:"COUCH_SECRET"`

	UsersDB    string `env:"USERS_DB" envDefault:"_users" validate:"required"`
	TokensDB   string `env:"TOKENS_DB" envDefault:"login_tokens" validate:"required"`
	UserPrefix string `env:"USER_PREFIX,required" validate:"required"`

	AdminJWTSecret string `env:"ADMIN_JWT_SECRET,required" validate:"required,min=32"`

	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string `env:"RESEND_FROM"    validate:"required_if=Env production,required_if=Env staging"`

	// Disables the change-feed follower; set during build/static-generation
	// runs so producing an artifact has no network side effects.
	DisableChangeFeed bool `env:"DISABLE_CHANGE_FEED" envDefault:"false"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.CookieSecret == "" {
		cfg.CookieSecret = cfg.LegacyCookieSecret
	}
	if cfg.CookieSecret == "" {
		return nil, fmt.Errorf("invalid config: COOKIE_SECRET (or legacy COUCH_SECRET) is required")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether cookies should carry the Secure flag.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
