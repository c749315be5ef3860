package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Kick   KickConfig
	Twitch TwitchConfig
	HTTP   HTTPConfig
}

type KickConfig struct {
	Enabled      bool
	Slug         string
	ChannelID    string
	ChatroomID   string
	ClientID     string
	ClientSecret string
	PollMS       int
}

type TwitchConfig struct {
	Enabled       bool
	Token         string
	TokenFile     string
	ClientID      string
	BroadcasterID string
}

type HTTPConfig struct {
	Addr           string
	AllowedOrigins []string
	RateLimitRPS   int
	RateLimitBurst int
}

const (
	defaultAddr   = ":8777"
	defaultPollMS = 15000
)

func Load() Config {
	cfg := Config{}

	cfg.Kick.Slug = strings.TrimSpace(os.Getenv("OVERLAY_KICK_SLUG"))
	cfg.Kick.ChannelID = strings.TrimSpace(os.Getenv("OVERLAY_KICK_CHANNEL_ID"))
	cfg.Kick.ChatroomID = strings.TrimSpace(os.Getenv("OVERLAY_KICK_CHATROOM_ID"))
	cfg.Kick.ClientID = strings.TrimSpace(os.Getenv("OVERLAY_KICK_CLIENT_ID"))
	cfg.Kick.ClientSecret = strings.TrimSpace(os.Getenv("OVERLAY_KICK_CLIENT_SECRET"))
	cfg.Kick.PollMS = readInt("OVERLAY_KICK_POLL_MS", defaultPollMS)
	cfg.Kick.Enabled = readBool("OVERLAY_KICK_ENABLED", cfg.Kick.Slug != "" || cfg.Kick.ChannelID != "")

	cfg.Twitch.Token = strings.TrimSpace(os.Getenv("OVERLAY_TWITCH_TOKEN"))
	cfg.Twitch.TokenFile = strings.TrimSpace(os.Getenv("OVERLAY_TWITCH_TOKEN_FILE"))
	cfg.Twitch.ClientID = strings.TrimSpace(os.Getenv("OVERLAY_TWITCH_CLIENT_ID"))
	cfg.Twitch.BroadcasterID = strings.TrimSpace(os.Getenv("OVERLAY_TWITCH_BROADCASTER_ID"))
	hasTwitchCreds := (cfg.Twitch.Token != "" || cfg.Twitch.TokenFile != "") &&
		cfg.Twitch.ClientID != "" && cfg.Twitch.BroadcasterID != ""
	cfg.Twitch.Enabled = readBool("OVERLAY_TWITCH_ENABLED", hasTwitchCreds)

	cfg.HTTP.Addr = strings.TrimSpace(os.Getenv("OVERLAY_HTTP_ADDR"))
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = defaultAddr
	}
	cfg.HTTP.AllowedOrigins = splitList(os.Getenv("OVERLAY_HTTP_CORS_ORIGINS"))
	cfg.HTTP.RateLimitRPS = readInt("OVERLAY_HTTP_RATE_RPS", 0)
	cfg.HTTP.RateLimitBurst = readInt("OVERLAY_HTTP_RATE_BURST", 0)

	return cfg
}

// PollInterval is the Kick channel-info poll cadence.
func (c Config) PollInterval() time.Duration {
	if c.Kick.PollMS <= 0 {
		return time.Duration(defaultPollMS) * time.Millisecond
	}
	return time.Duration(c.Kick.PollMS) * time.Millisecond
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"kick": map[string]any{
			"enabled":       c.Kick.Enabled,
			"slug":          c.Kick.Slug,
			"channel_id":    c.Kick.ChannelID,
			"chatroom_id":   c.Kick.ChatroomID,
			"client_id":     redactString(c.Kick.ClientID),
			"client_secret": redactString(c.Kick.ClientSecret),
			"poll_ms":       c.Kick.PollMS,
		},
		"twitch": map[string]any{
			"enabled":        c.Twitch.Enabled,
			"token":          redactString(c.Twitch.Token),
			"token_file":     c.Twitch.TokenFile,
			"client_id":      redactString(c.Twitch.ClientID),
			"broadcaster_id": c.Twitch.BroadcasterID,
		},
		"http": map[string]any{
			"addr":         c.HTTP.Addr,
			"cors_origins": append([]string(nil), c.HTTP.AllowedOrigins...),
			"rate_rps":     c.HTTP.RateLimitRPS,
			"rate_burst":   c.HTTP.RateLimitBurst,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
