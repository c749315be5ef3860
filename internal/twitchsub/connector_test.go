package twitchsub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/you/stream-alerts/internal/core"
)

func wireFrame(t *testing.T, msgType, subType string, payload any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	meta := map[string]any{"message_id": "m", "message_type": msgType}
	if subType != "" {
		meta["subscription_type"] = subType
	}
	return map[string]any{"metadata": meta, "payload": json.RawMessage(raw)}
}

func TestRunRequiresCredentials(t *testing.T) {
	c := New(Config{AccessToken: "tok", ClientID: "cid"}, nil)
	if c.Configured() {
		t.Fatalf("connector with missing broadcaster id reported configured")
	}
	if err := c.Run(context.Background()); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("unconfigured connector must stay disconnected, state=%s", c.State())
	}
}

func TestHandshakeSubscribesAndTranslates(t *testing.T) {
	var (
		mu       sync.Mutex
		subTypes []string
		sessions []string
	)
	helix := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/eventsub/subscriptions" {
			t.Errorf("unexpected helix path %s", r.URL.Path)
		}
		if got := r.Header.Get("Client-ID"); got != "cid" {
			t.Errorf("unexpected client id %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		var sub subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			t.Errorf("decode subscription: %v", err)
		}
		mu.Lock()
		subTypes = append(subTypes, sub.Type)
		sessions = append(sessions, sub.Transport.SessionID)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer helix.Close()

	subscribed := make(chan struct{})
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()

		welcome := wireFrame(t, "session_welcome", "", map[string]any{
			"session": map[string]any{"id": "sess-1", "keepalive_timeout_seconds": 10},
		})
		if err := wsjson.Write(ctx, conn, welcome); err != nil {
			return
		}

		<-subscribed

		follow := wireFrame(t, "notification", "channel.follow", map[string]any{
			"subscription": map[string]any{"type": "channel.follow"},
			"event":        map[string]any{"user_id": "42", "user_name": "NewFan"},
		})
		if err := wsjson.Write(ctx, conn, follow); err != nil {
			return
		}

		keepalive := wireFrame(t, "session_keepalive", "", map[string]any{})
		_ = wsjson.Write(ctx, conn, keepalive)

		reconnect := wireFrame(t, "session_reconnect", "", map[string]any{
			"session": map[string]any{"id": "sess-1", "reconnect_url": "wss://example.invalid/ws"},
		})
		_ = wsjson.Write(ctx, conn, reconnect)

		<-ctx.Done()
	}))
	defer ws.Close()

	var alertMu sync.Mutex
	var alerts []core.Alert
	c := New(Config{
		AccessToken:   "tok",
		ClientID:      "cid",
		BroadcasterID: "bid",
		WSURL:         ws.URL,
		HelixURL:      helix.URL,
	}, func(a core.Alert) {
		alertMu.Lock()
		alerts = append(alerts, a)
		alertMu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.runOnce(ctx) }()

	// all three subscriptions must arrive, tagged with the session id
	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(subTypes)
		mu.Unlock()
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for subscriptions, got %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
	close(subscribed)

	err := <-done
	if err == nil {
		t.Fatalf("expected runOnce to return an error on session_reconnect")
	}

	mu.Lock()
	wantTypes := map[string]bool{"channel.follow": true, "channel.subscribe": true, "channel.raid": true}
	for _, st := range subTypes {
		if !wantTypes[st] {
			t.Errorf("unexpected subscription type %q", st)
		}
		delete(wantTypes, st)
	}
	if len(wantTypes) != 0 {
		t.Errorf("missing subscription types: %v", wantTypes)
	}
	for _, sess := range sessions {
		if sess != "sess-1" {
			t.Errorf("subscription used wrong session id %q", sess)
		}
	}
	mu.Unlock()

	alertMu.Lock()
	defer alertMu.Unlock()
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}
	if alerts[0].Kind != core.KindFollow || alerts[0].SubjectName != "NewFan" {
		t.Fatalf("unexpected alert %+v", alerts[0])
	}
}

func TestSubscriptionFailureDoesNotAbortOthers(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	helix := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			http.Error(w, `{"error":"Forbidden"}`, http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer helix.Close()

	c := New(Config{AccessToken: "tok", ClientID: "cid", BroadcasterID: "bid", HelixURL: helix.URL}, nil)
	c.subscribeAll(context.Background(), "sess")

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected all 3 subscriptions attempted, got %d", calls)
	}
}

func TestDispatchAfterCancelEmitsNothing(t *testing.T) {
	var emitted int
	c := New(Config{AccessToken: "tok", ClientID: "cid", BroadcasterID: "bid"}, func(core.Alert) { emitted++ })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payload := []byte(`{"subscription":{"type":"channel.follow"},"event":{"user_id":"1","user_name":"fan"}}`)
	c.dispatch(ctx, payload)
	if emitted != 0 {
		t.Fatalf("cancelled connector emitted %d alerts", emitted)
	}
}

func TestWelcomeWithoutSessionIDFails(t *testing.T) {
	ws := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		welcome := wireFrame(t, "session_welcome", "", map[string]any{"session": map[string]any{}})
		_ = wsjson.Write(r.Context(), conn, welcome)
		<-r.Context().Done()
	}))
	defer ws.Close()

	c := New(Config{AccessToken: "tok", ClientID: "cid", BroadcasterID: "bid", WSURL: ws.URL}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.runOnce(ctx); err == nil {
		t.Fatalf("expected error for welcome without session id")
	}
}
