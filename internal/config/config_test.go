package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTP.Addr != defaultAddr {
		t.Fatalf("default addr %q", cfg.HTTP.Addr)
	}
	if cfg.PollInterval() != 15*time.Second {
		t.Fatalf("default poll interval %s", cfg.PollInterval())
	}
	if cfg.Kick.Enabled || cfg.Twitch.Enabled {
		t.Fatalf("sources must default to disabled without credentials")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OVERLAY_KICK_SLUG", " streamer ")
	t.Setenv("OVERLAY_KICK_CLIENT_ID", "kid")
	t.Setenv("OVERLAY_KICK_CLIENT_SECRET", "ksecret")
	t.Setenv("OVERLAY_KICK_POLL_MS", "30000")
	t.Setenv("OVERLAY_TWITCH_TOKEN", "ttoken")
	t.Setenv("OVERLAY_TWITCH_CLIENT_ID", "tcid")
	t.Setenv("OVERLAY_TWITCH_BROADCASTER_ID", "123")
	t.Setenv("OVERLAY_HTTP_ADDR", ":9000")
	t.Setenv("OVERLAY_HTTP_CORS_ORIGINS", "http://a.local, http://b.local")

	cfg := Load()
	if cfg.Kick.Slug != "streamer" {
		t.Fatalf("slug not trimmed: %q", cfg.Kick.Slug)
	}
	if !cfg.Kick.Enabled {
		t.Fatalf("kick should auto-enable when a slug is set")
	}
	if cfg.PollInterval() != 30*time.Second {
		t.Fatalf("poll interval %s", cfg.PollInterval())
	}
	if !cfg.Twitch.Enabled {
		t.Fatalf("twitch should auto-enable with full credentials")
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Fatalf("addr %q", cfg.HTTP.Addr)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 {
		t.Fatalf("origins %v", cfg.HTTP.AllowedOrigins)
	}
}

func TestExplicitDisableWins(t *testing.T) {
	t.Setenv("OVERLAY_KICK_SLUG", "streamer")
	t.Setenv("OVERLAY_KICK_ENABLED", "false")
	cfg := Load()
	if cfg.Kick.Enabled {
		t.Fatalf("explicit OVERLAY_KICK_ENABLED=false must win over slug auto-enable")
	}
}

func TestRedactedHidesSecrets(t *testing.T) {
	t.Setenv("OVERLAY_KICK_CLIENT_SECRET", "super-secret-value")
	t.Setenv("OVERLAY_TWITCH_TOKEN", "oauth-token-value")

	out := string(Load().RedactedJSON())
	if strings.Contains(out, "super-secret-value") || strings.Contains(out, "oauth-token-value") {
		t.Fatalf("redacted output leaks secrets: %s", out)
	}
	if !strings.Contains(out, "REDACTED") {
		t.Fatalf("redaction marker missing: %s", out)
	}
}
