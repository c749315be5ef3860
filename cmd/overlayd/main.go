package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/you/stream-alerts/internal/config"
	"github.com/you/stream-alerts/internal/overlay"
	"github.com/you/stream-alerts/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// .env is optional; explicit env vars and flags win over it
	_ = godotenv.Load()

	var (
		versionFlag     bool
		kickSlug        string
		kickChannelID   string
		kickChatroomID  string
		kickClientID    string
		kickSecret      string
		twToken         string
		twTokenFile     string
		twClientID      string
		twBroadcasterID string
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&kickSlug, "kick-slug", "", "Kick channel handle to watch")
	flag.StringVar(&kickChannelID, "kick-channel-id", "", "Kick numeric channel id (skips lookup)")
	flag.StringVar(&kickChatroomID, "kick-chatroom-id", "", "Kick numeric chatroom id (skips lookup)")
	flag.StringVar(&kickClientID, "kick-client-id", "", "Kick application client id")
	flag.StringVar(&kickSecret, "kick-client-secret", "", "Kick application client secret")
	flag.StringVar(&twToken, "twitch-token", "", "Twitch user access token")
	flag.StringVar(&twTokenFile, "twitch-token-file", "", "Path to file containing the Twitch access token")
	flag.StringVar(&twClientID, "twitch-client-id", "", "Twitch application client id")
	flag.StringVar(&twBroadcasterID, "twitch-broadcaster-id", "", "Twitch broadcaster user id to subscribe for")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address (e.g., :8777)")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 0, "Maximum HTTP requests per second per client (0 disables)")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 0, "Burst size for HTTP rate limiter")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"overlayd version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()

	if overrides["kick-slug"] {
		cfg.Kick.Slug = strings.TrimSpace(kickSlug)
		cfg.Kick.Enabled = cfg.Kick.Slug != "" || cfg.Kick.ChannelID != ""
	}
	if overrides["kick-channel-id"] {
		cfg.Kick.ChannelID = strings.TrimSpace(kickChannelID)
		cfg.Kick.Enabled = cfg.Kick.Slug != "" || cfg.Kick.ChannelID != ""
	}
	if overrides["kick-chatroom-id"] {
		cfg.Kick.ChatroomID = strings.TrimSpace(kickChatroomID)
	}
	if overrides["kick-client-id"] {
		cfg.Kick.ClientID = strings.TrimSpace(kickClientID)
	}
	if overrides["kick-client-secret"] {
		cfg.Kick.ClientSecret = strings.TrimSpace(kickSecret)
	}
	if overrides["twitch-token"] {
		cfg.Twitch.Token = strings.TrimSpace(twToken)
	}
	if overrides["twitch-token-file"] {
		cfg.Twitch.TokenFile = strings.TrimSpace(twTokenFile)
	}
	if overrides["twitch-client-id"] {
		cfg.Twitch.ClientID = strings.TrimSpace(twClientID)
	}
	if overrides["twitch-broadcaster-id"] {
		cfg.Twitch.BroadcasterID = strings.TrimSpace(twBroadcasterID)
	}
	if overrides["twitch-token"] || overrides["twitch-token-file"] ||
		overrides["twitch-client-id"] || overrides["twitch-broadcaster-id"] {
		cfg.Twitch.Enabled = (cfg.Twitch.Token != "" || cfg.Twitch.TokenFile != "") &&
			cfg.Twitch.ClientID != "" && cfg.Twitch.BroadcasterID != ""
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["http-cors-origins"] {
		cfg.HTTP.AllowedOrigins = nil
		for _, o := range strings.Split(httpCorsOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.HTTP.AllowedOrigins = append(cfg.HTTP.AllowedOrigins, o)
			}
		}
	}
	if overrides["http-rate-rps"] {
		cfg.HTTP.RateLimitRPS = httpRateRPS
	}
	if overrides["http-rate-burst"] {
		cfg.HTTP.RateLimitBurst = httpRateBurst
	}

	log.Printf("overlayd: config\n%s", cfg.RedactedJSON())
	if !cfg.Kick.Enabled && !cfg.Twitch.Enabled {
		log.Printf("overlayd: no alert sources configured; only the control API is live")
	}

	rt, err := overlay.New(cfg)
	if err != nil {
		log.Fatalf("overlayd: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("overlayd: %v", err)
	}
	log.Printf("overlayd: shut down cleanly")
}
