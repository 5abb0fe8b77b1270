package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "test.db")
	t.Setenv("JWT_SECRET_KEY", "secret")
	t.Setenv("SERVER_PORT", "9090")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ADMIN_EMAILS", " Coach@Example.com ,admin@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerPort != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.ServerPort)
	}
	if cfg.UpstreamTimeout != 10*time.Second {
		t.Fatalf("expected default upstream timeout 10s, got %s", cfg.UpstreamTimeout)
	}
	if len(cfg.AdminEmails) != 2 || cfg.AdminEmails[0] != "coach@example.com" {
		t.Fatalf("unexpected admin emails: %v", cfg.AdminEmails)
	}
	if cfg.R2Enabled() || cfg.SMTPEnabled() {
		t.Fatal("optional integrations should be disabled by default")
	}
}

func TestLoadRequiresD1Secrets(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DB_BACKEND", "d1")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "CLOUDFLARE_API_TOKEN") {
		t.Fatalf("expected missing d1 secrets error, got %v", err)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("DB_BACKEND", "mongo")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoadRequiresTokenKey(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("JWT_SECRET_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when no token key is configured")
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		cfg := &Config{LogLevel: in}
		if got := cfg.SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
