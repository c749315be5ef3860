package twitchsub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/you/stream-alerts/internal/core"
)

const (
	defaultWSURL    = "wss://eventsub.wss.twitch.tv/ws"
	defaultHelixURL = "https://api.twitch.tv/helix"

	dialTimeout    = 10 * time.Second
	welcomeTimeout = 15 * time.Second
	// keepalive grace multiplier applied to the server-announced interval
	defaultKeepalive = 10 * time.Second
)

// ErrNotConfigured is returned by Run when any of the three required
// credentials is missing; the connector never opens a connection in that
// case.
var ErrNotConfigured = errors.New("twitchsub: access token, client id and broadcaster id are required")

// State is the handshake phase of the connector.
type State string

const (
	StateDisconnected    State = "disconnected"
	StateConnecting      State = "connecting"
	StateAwaitingWelcome State = "awaiting_welcome"
	StateSubscribing     State = "subscribing"
	StateActive          State = "active"
)

type Config struct {
	AccessToken   string
	ClientID      string
	BroadcasterID string

	// overridable for tests
	WSURL    string
	HelixURL string
	HTTP     *http.Client
}

type Handler func(core.Alert)

// Connector holds one persistent EventSub WebSocket. The handshake is
// session-then-subscribe: the server's welcome message carries a session id,
// and each event type is registered with the management API using that id as
// the delivery transport. Connection loss is retried with bounded
// exponential backoff.
type Connector struct {
	cfg    Config
	handle Handler

	mu    sync.Mutex
	state State
}

func New(cfg Config, h Handler) *Connector {
	return &Connector{cfg: cfg, handle: h, state: StateDisconnected}
}

// Configured reports whether all three required credentials are present.
func (c *Connector) Configured() bool {
	return strings.TrimSpace(c.cfg.AccessToken) != "" &&
		strings.TrimSpace(c.cfg.ClientID) != "" &&
		strings.TrimSpace(c.cfg.BroadcasterID) != ""
}

// State returns the current handshake phase.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run connects and processes notifications until ctx is cancelled. Without
// full credentials it returns ErrNotConfigured immediately.
func (c *Connector) Run(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	backoff := time.Second
	const maxBackoff = 60 * time.Second

	for {
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}

		err := c.runOnce(ctx)
		c.setState(StateDisconnected)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return ctx.Err()
		}
		if err != nil {
			log.Printf("twitchsub: disconnected: %v; reconnecting in %s", err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

func (c *Connector) wsURL() string {
	if strings.TrimSpace(c.cfg.WSURL) != "" {
		return c.cfg.WSURL
	}
	return defaultWSURL
}

func (c *Connector) helixURL() string {
	if strings.TrimSpace(c.cfg.HelixURL) != "" {
		return strings.TrimRight(c.cfg.HelixURL, "/")
	}
	return defaultHelixURL
}

func (c *Connector) httpClient() *http.Client {
	if c.cfg.HTTP != nil {
		return c.cfg.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func (c *Connector) runOnce(ctx context.Context) error {
	c.setState(StateConnecting)
	log.Printf("twitchsub: connecting to %s", c.wsURL())

	dialCtx, cancelDial := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.wsURL(), nil)
	cancelDial()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	c.setState(StateAwaitingWelcome)
	welcomeCtx, cancelWelcome := context.WithTimeout(ctx, welcomeTimeout)
	var msg wireMessage
	err = wsjson.Read(welcomeCtx, conn, &msg)
	cancelWelcome()
	if err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	if msg.Metadata.MessageType != "session_welcome" {
		return fmt.Errorf("expected session_welcome, got %q", msg.Metadata.MessageType)
	}

	var welcome welcomePayload
	if err := json.Unmarshal(msg.Payload, &welcome); err != nil {
		return fmt.Errorf("decode welcome: %w", err)
	}
	sessionID := welcome.Session.ID
	if sessionID == "" {
		return errors.New("welcome carried no session id")
	}
	log.Printf("twitchsub: session established (%s)", sessionID)

	keepalive := defaultKeepalive
	if welcome.Session.KeepaliveTimeoutSeconds > 0 {
		keepalive = time.Duration(welcome.Session.KeepaliveTimeoutSeconds) * time.Second
	}
	readTimeout := 2 * keepalive
	if readTimeout < 20*time.Second {
		readTimeout = 20 * time.Second
	}

	c.setState(StateSubscribing)
	c.subscribeAll(ctx, sessionID)

	c.setState(StateActive)
	for {
		readCtx, cancelRead := context.WithTimeout(ctx, readTimeout)
		var msg wireMessage
		err := wsjson.Read(readCtx, conn, &msg)
		cancelRead()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		switch msg.Metadata.MessageType {
		case "session_keepalive":
		case "notification":
			c.dispatch(ctx, msg.Payload)
		case "session_reconnect":
			var reconnect welcomePayload
			_ = json.Unmarshal(msg.Payload, &reconnect)
			log.Printf("twitchsub: server requested reconnect (url=%s)", reconnect.Session.ReconnectURL)
			return errors.New("server requested reconnect")
		case "revocation":
			var revoked notificationPayload
			_ = json.Unmarshal(msg.Payload, &revoked)
			log.Printf("twitchsub: subscription revoked: %s", revoked.Subscription.Type)
		default:
			log.Printf("twitchsub: unhandled message type %q", msg.Metadata.MessageType)
		}
	}
}

type subscriptionRequest struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport struct {
		Method    string `json:"method"`
		SessionID string `json:"session_id"`
	} `json:"transport"`
}

func (c *Connector) subscriptionRequests(sessionID string) []subscriptionRequest {
	broadcaster := c.cfg.BroadcasterID
	specs := []struct {
		subType   string
		version   string
		condition map[string]string
	}{
		{"channel.follow", "2", map[string]string{"broadcaster_user_id": broadcaster, "moderator_user_id": broadcaster}},
		{"channel.subscribe", "1", map[string]string{"broadcaster_user_id": broadcaster}},
		{"channel.raid", "1", map[string]string{"to_broadcaster_user_id": broadcaster}},
	}

	reqs := make([]subscriptionRequest, 0, len(specs))
	for _, spec := range specs {
		req := subscriptionRequest{Type: spec.subType, Version: spec.version, Condition: spec.condition}
		req.Transport.Method = "websocket"
		req.Transport.SessionID = sessionID
		reqs = append(reqs, req)
	}
	return reqs
}

// subscribeAll registers the three event types against the management API.
// Requests are fire-and-forget: a rejected subscription is logged and the
// rest are still attempted.
func (c *Connector) subscribeAll(ctx context.Context, sessionID string) {
	for _, sub := range c.subscriptionRequests(sessionID) {
		if err := c.subscribe(ctx, sub); err != nil {
			log.Printf("twitchsub: subscribe %s: %v", sub.Type, err)
			continue
		}
		log.Printf("twitchsub: subscribed to %s", sub.Type)
	}
}

func (c *Connector) subscribe(ctx context.Context, sub subscriptionRequest) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.helixURL()+"/eventsub/subscriptions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Client-ID", c.cfg.ClientID)
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

func (c *Connector) dispatch(ctx context.Context, payload []byte) {
	var note notificationPayload
	if err := json.Unmarshal(payload, &note); err != nil {
		log.Printf("twitchsub: undecodable notification: %v", err)
		return
	}

	var alert core.Alert
	switch classifyNotification(note.Subscription.Type) {
	case eventFollow:
		alert = translateFollow(note.Event)
	case eventSubscribe:
		alert = translateSubscribe(note.Event)
	case eventRaid:
		alert = translateRaid(note.Event)
	default:
		log.Printf("twitchsub: ignoring notification type %q", note.Subscription.Type)
		return
	}

	if ctx.Err() != nil {
		return
	}
	if c.handle != nil {
		c.handle(alert)
	}
}
