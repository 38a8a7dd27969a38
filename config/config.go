// Package config loads the service configuration from the environment.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Config is the service configuration.
type Config struct {
	Addr      string `env:"ASVALUE_ADDR" envDefault:":8080" validate:"required"`
	PublicURL string `env:"ASVALUE_PUBLIC_URL" envDefault:"http://localhost:8080" validate:"required,url"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID" validate:"required"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET" validate:"required"`

	// GoogleRedirectURL defaults to PublicURL + "/auth/callback/google".
	GoogleRedirectURL string `env:"GOOGLE_REDIRECT_URL" validate:"omitempty,url"`
	VerifyIDTokens    bool   `env:"ASVALUE_VERIFY_ID_TOKENS" envDefault:"true"`

	Store       string `env:"ASVALUE_STORE" envDefault:"postgres" validate:"oneof=postgres sqlite memory"`
	DatabaseURL string `env:"ASVALUE_DATABASE_URL" validate:"required_if=Store postgres"`
	SQLitePath  string `env:"ASVALUE_SQLITE_PATH" envDefault:"asvalue-auth.db" validate:"required_if=Store sqlite"`

	// RedisURL moves OAuth states to Redis when set.
	RedisURL string `env:"REDIS_URL" validate:"omitempty,url"`

	// CookieKeys are "id:base64key" pairs. The first key seals new cookies;
	// the rest only open existing ones.
	CookieKeys   []string `env:"ASVALUE_COOKIE_KEYS" envSeparator:"," validate:"required,min=1"`
	CookieSecure bool     `env:"ASVALUE_COOKIE_SECURE" envDefault:"true"`

	ProtectedPrefixes []string      `env:"ASVALUE_PROTECTED_PREFIXES" envSeparator:"," envDefault:"/onboarding,/dashboard,/marketplace"`
	SignInPath        string        `env:"ASVALUE_SIGNIN_PATH" envDefault:"/auth/login/google" validate:"startswith=/"`
	StaticDir         string        `env:"ASVALUE_STATIC_DIR"`
	SessionTTL        time.Duration `env:"ASVALUE_SESSION_TTL" envDefault:"168h" validate:"gt=0"`
	StateTTL          time.Duration `env:"ASVALUE_STATE_TTL" envDefault:"10m" validate:"gt=0"`
	HTTPTimeout       time.Duration `env:"ASVALUE_HTTP_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	JanitorInterval   time.Duration `env:"ASVALUE_JANITOR_INTERVAL" envDefault:"5m" validate:"gt=0"`
	ShutdownTimeout   time.Duration `env:"ASVALUE_SHUTDOWN_TIMEOUT" envDefault:"15s" validate:"gt=0"`

	LogLevel  string `env:"ASVALUE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"ASVALUE_LOG_FORMAT" envDefault:"json" validate:"oneof=json console"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the configuration from the environment and validates it.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the cookie keys.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, _, err := c.SealingKeys(); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid config: log level: %w", err)
	}
	return nil
}

// SealingKeys decodes CookieKeys. current is the id of the first key.
func (c *Config) SealingKeys() (current string, keys map[string][]byte, err error) {
	keys = make(map[string][]byte, len(c.CookieKeys))
	for i, pair := range c.CookieKeys {
		id, encoded, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || id == "" {
			return "", nil, fmt.Errorf("invalid config: cookie key %d: want id:base64key", i)
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return "", nil, fmt.Errorf("invalid config: cookie key %q: %w", id, err)
		}
		if _, dup := keys[id]; dup {
			return "", nil, fmt.Errorf("invalid config: duplicate cookie key id %q", id)
		}
		keys[id] = key
		if i == 0 {
			current = id
		}
	}
	return current, keys, nil
}

// RedirectURL is the OAuth redirect URI registered with Google.
func (c *Config) RedirectURL() string {
	if c.GoogleRedirectURL != "" {
		return c.GoogleRedirectURL
	}
	return strings.TrimRight(c.PublicURL, "/") + "/auth/callback/google"
}

// Level returns the parsed log level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	r := *c
	r.GoogleClientSecret = redact(c.GoogleClientSecret)
	r.CookieKeys = []string{redact(strings.Join(c.CookieKeys, ","))}
	r.DatabaseURL = redactURL(c.DatabaseURL)
	r.RedisURL = redactURL(c.RedisURL)
	return r
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
