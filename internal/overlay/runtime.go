// Package overlay assembles the alert pipeline: platform connectors feed the
// queue, the display driver promotes one alert at a time, and the HTTP server
// pushes display transitions to overlay pages.
package overlay

import (
	"context"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/you/stream-alerts/internal/alertqueue"
	"github.com/you/stream-alerts/internal/config"
	"github.com/you/stream-alerts/internal/control"
	"github.com/you/stream-alerts/internal/core"
	"github.com/you/stream-alerts/internal/display"
	"github.com/you/stream-alerts/internal/httpapi"
	"github.com/you/stream-alerts/internal/kick"
	"github.com/you/stream-alerts/internal/kickapi"
	"github.com/you/stream-alerts/internal/twitchsub"
	"github.com/you/stream-alerts/internal/webhook"
)

// Runtime owns the queue, driver, control bus, HTTP server and the two
// platform connectors, and supervises their lifecycles.
type Runtime struct {
	cfg    config.Config
	queue  *alertqueue.Queue
	bus    *control.Bus
	driver *display.Driver
	server *httpapi.Server

	kickConn *kick.Connector

	mu           sync.Mutex
	twitchConn   *twitchsub.Connector
	twitchCancel context.CancelFunc
	closed       bool

	wg sync.WaitGroup
}

func New(cfg config.Config) (*Runtime, error) {
	rt := &Runtime{
		cfg:   cfg,
		queue: alertqueue.New(),
		bus:   control.NewBus(),
	}

	verifier, err := webhook.NewVerifier("")
	if err != nil {
		return nil, errors.Wrap(err, "overlay: webhook verifier")
	}

	rt.server = httpapi.New(rt.queue, rt.bus, httpapi.Options{
		Addr:           cfg.HTTP.Addr,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		Visible: func() *core.Alert {
			if rt.driver == nil {
				return nil
			}
			if a, ok := rt.driver.Visible(); ok {
				return &a
			}
			return nil
		},
		Sources: rt.sourceStates,
		Webhook: webhook.NewHandler(verifier),
	})

	metrics := rt.server.Metrics()
	hub := rt.server.Hub()
	rt.driver = display.New(rt.queue, display.Options{
		OnShow: func(a core.Alert) {
			metrics.IncAlertsShown()
			metrics.SetQueueDepth(rt.queue.Len())
			hub.ShowAlert(a)
		},
		OnClear: func(id string) {
			metrics.SetQueueDepth(rt.queue.Len())
			hub.ClearAlert(id)
		},
	})

	rt.bus.Subscribe(rt.ingest("control"))

	if cfg.Kick.Enabled {
		var lookup kick.Lookup
		if cfg.Kick.ClientID != "" && cfg.Kick.ClientSecret != "" {
			lookup = kickapi.New(cfg.Kick.ClientID, cfg.Kick.ClientSecret)
		} else if cfg.Kick.Slug != "" {
			// Without credentials the slug can never be resolved; the
			// connector stays inert unless ids were supplied directly.
			log.Printf("overlay: kick client id/secret missing; slug %q will not be resolved and polling is disabled", cfg.Kick.Slug)
		}
		rt.kickConn = kick.New(kick.Config{
			Slug:         cfg.Kick.Slug,
			ChannelID:    cfg.Kick.ChannelID,
			ChatroomID:   cfg.Kick.ChatroomID,
			PollInterval: cfg.PollInterval(),
			Lookup:       lookup,
			OnPollError:  metrics.IncPollErrors,
		}, rt.ingest("kick"))
	}

	return rt, nil
}

// ingest returns the handler a source feeds alerts through. Every source goes
// through the same queue path, so the display driver is origin-agnostic.
func (rt *Runtime) ingest(source string) func(core.Alert) {
	metrics := rt.server.Metrics()
	return func(a core.Alert) {
		if !rt.queue.Push(a) {
			return
		}
		metrics.IncAlertsIngested(source, string(a.Kind))
		metrics.SetQueueDepth(rt.queue.Len())
	}
}

func (rt *Runtime) sourceStates() map[string]string {
	states := map[string]string{"kick": "disabled", "twitch": "disabled"}
	if rt.kickConn != nil {
		states["kick"] = "running"
	}
	rt.mu.Lock()
	if rt.twitchConn != nil {
		states["twitch"] = string(rt.twitchConn.State())
	}
	rt.mu.Unlock()
	return states
}

// Run starts the HTTP server and all enabled connectors and blocks until ctx
// is cancelled.
func (rt *Runtime) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		if err := rt.server.Start(); err != nil {
			select {
			case errCh <- err:
			default:
			}
		}
	}()

	if rt.kickConn != nil {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			if err := rt.kickConn.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("overlay: kick connector stopped: %v", err)
			}
		}()
	}

	if rt.cfg.Twitch.Enabled {
		if err := rt.mountTwitch(ctx); err != nil {
			log.Printf("overlay: twitch connector not started: %v", err)
		}
		if rt.cfg.Twitch.TokenFile != "" {
			if err := rt.watchTokenFile(ctx, rt.cfg.Twitch.TokenFile); err != nil {
				log.Printf("overlay: token watch failed: %v", err)
			}
		}
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		rt.Close()
		return err
	}

	rt.Close()
	rt.wg.Wait()
	return ctx.Err()
}

func (rt *Runtime) twitchToken() (string, error) {
	if rt.cfg.Twitch.Token != "" {
		return rt.cfg.Twitch.Token, nil
	}
	if rt.cfg.Twitch.TokenFile == "" {
		return "", errors.New("no twitch token configured")
	}
	raw, err := os.ReadFile(rt.cfg.Twitch.TokenFile)
	if err != nil {
		return "", errors.Wrap(err, "read token file")
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", errors.New("token file is empty")
	}
	return token, nil
}

// mountTwitch starts (or restarts) the EventSub connector with the current
// token. The previous connector, if any, is cancelled first; EventSub
// sessions are cheap to rebuild.
func (rt *Runtime) mountTwitch(parent context.Context) error {
	token, err := rt.twitchToken()
	if err != nil {
		return err
	}

	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return errors.New("runtime closed")
	}
	if rt.twitchCancel != nil {
		rt.twitchCancel()
	}
	ctx, cancel := context.WithCancel(parent)
	conn := twitchsub.New(twitchsub.Config{
		AccessToken:   token,
		ClientID:      rt.cfg.Twitch.ClientID,
		BroadcasterID: rt.cfg.Twitch.BroadcasterID,
	}, rt.ingest("twitch"))
	rt.twitchConn = conn
	rt.twitchCancel = cancel
	rt.mu.Unlock()

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		if err := conn.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("overlay: twitch connector stopped: %v", err)
		}
	}()
	return nil
}

// Close shuts everything down. Idempotent.
func (rt *Runtime) Close() {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return
	}
	rt.closed = true
	cancel := rt.twitchCancel
	rt.twitchCancel = nil
	rt.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	rt.driver.Close()
	rt.bus.Close()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := rt.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("overlay: http shutdown: %v", err)
	}
}

// Bus exposes the control channel for local tooling.
func (rt *Runtime) Bus() *control.Bus { return rt.bus }

// Queue exposes the pending-alert queue.
func (rt *Runtime) Queue() *alertqueue.Queue { return rt.queue }

// Driver exposes the display driver.
func (rt *Runtime) Driver() *display.Driver { return rt.driver }
