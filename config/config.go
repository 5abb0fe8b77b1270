package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Backend names accepted in DB_BACKEND.
const (
	BackendD1       = "d1"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config holds every process-wide setting. It is loaded once in main and passed
// explicitly to the components that need it.
type Config struct {
	ServerPort int    `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	AppBaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`

	DBBackend   string `env:"DB_BACKEND" envDefault:"sqlite"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"presenza.db"`

	CloudflareAccountID  string `env:"CLOUDFLARE_ACCOUNT_ID"`
	CloudflareDatabaseID string `env:"CLOUDFLARE_D1_DATABASE_ID"`
	CloudflareAPIToken   string `env:"CLOUDFLARE_API_TOKEN"`
	CloudflareAPIURL     string `env:"CLOUDFLARE_API_URL" envDefault:"https://api.cloudflare.com/client/v4"`

	ClerkSecretKey string `env:"CLERK_SECRET_KEY"`
	ClerkAPIURL    string `env:"CLERK_API_URL" envDefault:"https://api.clerk.com/v1"`

	JWTSecretKey    string   `env:"JWT_SECRET_KEY"`
	JWTPublicKeyPEM string   `env:"JWT_PUBLIC_KEY_PEM"`
	AdminEmails     []string `env:"ADMIN_EMAILS" envSeparator:","`

	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	UpstreamTimeout    time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`

	R2AccountID       string `env:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string `env:"R2_SECRET_ACCESS_KEY"`
	R2BucketName      string `env:"R2_BUCKET_NAME"`

	SMTPHost string `env:"SMTP_HOST"`
	SMTPPort int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser string `env:"SMTP_USER"`
	SMTPPass string `env:"SMTP_PASS"`
	SMTPFrom string `env:"SMTP_FROM"`
}

// Load reads configuration from the environment. A .env file is loaded first when
// present (useful for local development); a missing file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements that struct tags cannot express.
func (c *Config) Validate() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.ServerPort)
	}
	if c.UpstreamTimeout <= 0 {
		return errors.New("UPSTREAM_TIMEOUT must be positive")
	}

	switch c.DBBackend {
	case BackendD1:
		if c.CloudflareAccountID == "" || c.CloudflareDatabaseID == "" || c.CloudflareAPIToken == "" {
			return errors.New("d1 backend requires CLOUDFLARE_ACCOUNT_ID, CLOUDFLARE_D1_DATABASE_ID and CLOUDFLARE_API_TOKEN")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("postgres backend requires DATABASE_URL")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("sqlite backend requires SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unknown DB_BACKEND %q", c.DBBackend)
	}

	if c.JWTSecretKey == "" && c.JWTPublicKeyPEM == "" {
		return errors.New("one of JWT_SECRET_KEY or JWT_PUBLIC_KEY_PEM must be set")
	}

	for i, email := range c.AdminEmails {
		c.AdminEmails[i] = strings.ToLower(strings.TrimSpace(email))
	}
	return nil
}

// R2Enabled reports whether export archives can be stored in R2.
func (c *Config) R2Enabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2SecretAccessKey != "" && c.R2BucketName != ""
}

// SMTPEnabled reports whether outgoing email is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
