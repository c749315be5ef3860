package overlay

import (
	"bytes"
	"context"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/you/stream-alerts/internal/config"
	"github.com/you/stream-alerts/internal/core"
)

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.HTTP.Addr = "127.0.0.1:0"
	return cfg
}

func TestControlAlertFlowsToDisplay(t *testing.T) {
	rt, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	rt.Bus().Publish(core.Alert{
		ID:                "c1",
		Kind:              core.KindDonation,
		SubjectName:       "patron",
		Amount:            10,
		Currency:          "USD",
		DisplayDurationMs: 50,
	})

	// the queue push pokes the driver synchronously
	shown, ok := rt.Driver().Visible()
	if !ok || shown.ID != "c1" {
		t.Fatalf("published alert not shown: %+v ok=%v", shown, ok)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := rt.Driver().Visible(); !ok && rt.Queue().Len() == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("alert never expired; queue len %d", rt.Queue().Len())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMalformedControlAlertNeverReachesQueue(t *testing.T) {
	rt, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	rt.Bus().Publish(core.Alert{Kind: core.KindFollow, SubjectName: "no id"})
	rt.Bus().Publish(core.Alert{ID: "x", Kind: "mystery", SubjectName: "bad kind"})

	if rt.Queue().Len() != 0 {
		t.Fatalf("malformed alerts reached the queue: %d", rt.Queue().Len())
	}
	if _, ok := rt.Driver().Visible(); ok {
		t.Fatalf("malformed alert was shown")
	}
}

func TestQueuedAlertsShowInOrder(t *testing.T) {
	rt, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	for _, id := range []string{"a", "b"} {
		rt.Bus().Publish(core.Alert{
			ID:                id,
			Kind:              core.KindFollow,
			SubjectName:       "fan-" + id,
			DisplayDurationMs: 30,
		})
	}

	shown, ok := rt.Driver().Visible()
	if !ok || shown.ID != "a" {
		t.Fatalf("first alert should be visible, got %+v", shown)
	}

	deadline := time.Now().Add(2 * time.Second)
	sawSecond := false
	for time.Now().Before(deadline) {
		if cur, ok := rt.Driver().Visible(); ok && cur.ID == "b" {
			sawSecond = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !sawSecond {
		t.Fatalf("second alert never shown")
	}
}

func TestKickWithoutCredentialsLogsInertness(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	cfg := testConfig()
	cfg.Kick.Enabled = true
	cfg.Kick.Slug = "streamer"

	rt, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer rt.Close()

	if !strings.Contains(buf.String(), "client id/secret missing") {
		t.Fatalf("missing credentials must be surfaced in the log, got: %s", buf.String())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	rt, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	rt, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rt.Close()
	rt.Close()
}
