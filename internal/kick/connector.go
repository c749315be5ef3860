package kick

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/you/stream-alerts/internal/core"
	"github.com/you/stream-alerts/internal/kickapi"
)

const (
	pusherKey     = "32cbd69e4b950bf97679"
	pusherCluster = "us2"

	defaultPollInterval = 15 * time.Second
	// cap on synthetic Follow alerts emitted for one polling delta, so a
	// large jump cannot flood the queue
	maxSyntheticFollows = 5

	dialTimeout    = 10 * time.Second
	welcomeTimeout = 15 * time.Second
	// pusher's activity timeout is ~120s; a read lasting much longer than
	// that means the connection is dead
	readTimeout  = 3 * time.Minute
	pingInterval = time.Minute
)

func defaultPusherURL() string {
	return fmt.Sprintf("wss://ws-%s.pusher.com/app/%s?protocol=7&client=go&version=8.4.0&flash=false", pusherCluster, pusherKey)
}

// Lookup resolves a channel slug to ids and a follower count. Implemented by
// kickapi.Client; a stub in tests.
type Lookup interface {
	Channel(ctx context.Context, slug string) (kickapi.Channel, error)
}

type Config struct {
	// Slug is the human-readable channel handle; resolved via Lookup. At
	// least one of Slug and ChannelID must be set. Polling requires Slug.
	Slug       string
	ChannelID  string
	ChatroomID string

	PollInterval time.Duration
	PusherURL    string
	Lookup       Lookup

	// OnPollError, when set, is invoked once per failed poll tick.
	OnPollError func()
}

type Handler func(core.Alert)

// Connector is the hybrid Kick connector: a 15s polling loop tracks the
// follower count via the lookup collaborator and emits capped synthetic
// Follow alerts on upward deltas, while a pusher-protocol WebSocket delivers
// richer follow/subscription/gift events. A shared baseline suppresses
// double-reporting between the two layers.
type Connector struct {
	cfg    Config
	handle Handler

	mu          sync.Mutex
	channelID   string
	chatroomID  string
	baseline    int
	baselineSet bool

	resolved    chan struct{}
	resolveOnce sync.Once

	chatroomReady chan struct{}
	chatroomOnce  sync.Once
}

func New(cfg Config, h Handler) *Connector {
	return &Connector{
		cfg:           cfg,
		handle:        h,
		resolved:      make(chan struct{}),
		chatroomReady: make(chan struct{}),
	}
}

// Run drives both layers until ctx is cancelled. Connection loss and lookup
// failures are retried with bounded exponential backoff; nothing escalates
// beyond this connector.
func (c *Connector) Run(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.Slug) == "" && strings.TrimSpace(c.cfg.ChannelID) == "" {
		return errors.New("kick: slug or channel id is required")
	}

	if id := strings.TrimSpace(c.cfg.ChannelID); id != "" {
		c.storeIDs(id, strings.TrimSpace(c.cfg.ChatroomID))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pushLoop(ctx)
	}()

	c.pollLoop(ctx)
	wg.Wait()
	return ctx.Err()
}

func (c *Connector) emit(ctx context.Context, a core.Alert) {
	if ctx.Err() != nil {
		return
	}
	if c.handle != nil {
		c.handle(a)
	}
}

func (c *Connector) ids() (channelID, chatroomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID, c.chatroomID
}

func (c *Connector) storeIDs(channelID, chatroomID string) {
	c.mu.Lock()
	if c.channelID == "" {
		c.channelID = channelID
	}
	if c.chatroomID == "" {
		c.chatroomID = chatroomID
	}
	ready := c.channelID != ""
	chatroomKnown := c.chatroomID != ""
	c.mu.Unlock()

	if ready {
		c.resolveOnce.Do(func() { close(c.resolved) })
	}
	if chatroomKnown {
		c.chatroomOnce.Do(func() { close(c.chatroomReady) })
	}
}

// recordFollowerCount applies the polling decision rule and returns how many
// synthetic Follow alerts to emit. The first successful observation only
// establishes the baseline; later observations emit min(delta, cap) and
// ratchet the baseline upward. The baseline never decreases, so transient
// drops cannot cause re-alerting.
func (c *Connector) recordFollowerCount(n int) int {
	if n <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.baselineSet {
		c.baseline = n
		c.baselineSet = true
		return 0
	}
	if n <= c.baseline {
		return 0
	}
	delta := n - c.baseline
	c.baseline = n
	if delta > maxSyntheticFollows {
		delta = maxSyntheticFollows
	}
	return delta
}

// ratchetBaseline moves the baseline up to n when a push-layer follow event
// carries an authoritative counter, suppressing the duplicate synthetic
// alert the next poll tick would otherwise emit.
func (c *Connector) ratchetBaseline(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.baselineSet || n > c.baseline {
		c.baseline = n
		c.baselineSet = true
	}
}

func (c *Connector) pollLoop(ctx context.Context) {
	if strings.TrimSpace(c.cfg.Slug) == "" || c.cfg.Lookup == nil {
		// Push-only mode: ids were supplied directly and there is nothing
		// to poll.
		<-ctx.Done()
		return
	}

	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.pollTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollTick(ctx)
		}
	}
}

func (c *Connector) pollTick(ctx context.Context) {
	ch, err := c.cfg.Lookup.Channel(ctx, c.cfg.Slug)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("kick: resolve %s: %v (retrying next tick)", c.cfg.Slug, err)
		if c.cfg.OnPollError != nil {
			c.cfg.OnPollError()
		}
		return
	}

	c.storeIDs(ch.ChannelID, ch.ChatroomID)

	emit := c.recordFollowerCount(ch.FollowerCount)
	for i := 0; i < emit; i++ {
		if ctx.Err() != nil {
			return
		}
		c.emit(ctx, syntheticFollow())
	}
}

func (c *Connector) pushLoop(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-c.resolved:
	}

	backoff := time.Second
	const maxBackoff = 60 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		err := c.runPushOnce(ctx)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			log.Printf("kick: push disconnected: %v; reconnecting in %s", err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
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

func (c *Connector) runPushOnce(ctx context.Context) error {
	channelID, chatroomID := c.ids()

	wsURL := c.cfg.PusherURL
	if strings.TrimSpace(wsURL) == "" {
		wsURL = defaultPusherURL()
	}

	log.Printf("kick: connecting to pusher for channel %s", channelID)

	dialCtx, cancelDial := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	cancelDial()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	welcomeCtx, cancelWelcome := context.WithTimeout(ctx, welcomeTimeout)
	var welcome pusherMessage
	err = wsjson.Read(welcomeCtx, conn, &welcome)
	cancelWelcome()
	if err != nil {
		return fmt.Errorf("read welcome: %w", err)
	}
	if welcome.Event != "pusher:connection_established" {
		return fmt.Errorf("expected connection_established, got %q", welcome.Event)
	}

	channels := []string{"channel." + channelID}
	if chatroomID != "" {
		channels = append(channels, "chatrooms."+chatroomID+".v2")
	}
	for _, name := range channels {
		if err := wsjson.Write(ctx, conn, newSubscribe(name)); err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		log.Printf("kick: subscribed to %s", name)
	}

	// websocket-level keepalive; detects dead connections between events
	pingDone := make(chan struct{})
	defer close(pingDone)

	if chatroomID == "" {
		// Subscription/gift events travel on the chatrooms channel; until the
		// poll layer learns its id this session only sees channel events.
		log.Printf("kick: chatroom id unknown; subscribing to channel events only for now")
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-pingDone:
				return
			case <-c.chatroomReady:
			}
			_, late := c.ids()
			if late == "" {
				return
			}
			name := "chatrooms." + late + ".v2"
			if err := wsjson.Write(ctx, conn, newSubscribe(name)); err != nil {
				log.Printf("kick: late subscribe %s: %v", name, err)
				return
			}
			log.Printf("kick: subscribed to %s", name)
		}()
	}
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pingDone:
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
				_ = conn.Ping(pingCtx)
				cancel()
			}
		}
	}()

	for {
		readCtx, cancelRead := context.WithTimeout(ctx, readTimeout)
		var msg pusherMessage
		err := wsjson.Read(readCtx, conn, &msg)
		cancelRead()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		switch msg.Event {
		case "pusher:ping":
			if err := wsjson.Write(ctx, conn, pusherMessage{Event: "pusher:pong"}); err != nil {
				return fmt.Errorf("write pong: %w", err)
			}
		case "pusher:pong":
		case "pusher_internal:subscription_succeeded":
			log.Printf("kick: subscription confirmed on %s", msg.Channel)
		case "pusher:error":
			log.Printf("kick: pusher error: %s", string(msg.Data))
		default:
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Connector) dispatch(ctx context.Context, msg pusherMessage) {
	data := msg.decodeData()

	switch classifyEvent(msg.Event) {
	case eventFollowers:
		alert, count := translateFollowers(data)
		c.ratchetBaseline(count)
		c.emit(ctx, alert)
	case eventSubscription:
		c.emit(ctx, translateSubscription(data))
	case eventGiftSubs:
		c.emit(ctx, translateGift(data))
	case eventLive:
		log.Printf("kick: streamer is live")
	default:
		// unrecognized event names are expected chatter on these channels
	}
}
