package control

import (
	"testing"

	"github.com/you/stream-alerts/internal/core"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBus()
	var first, second []string
	b.Subscribe(func(a core.Alert) { first = append(first, a.ID) })
	b.Subscribe(func(a core.Alert) { second = append(second, a.ID) })

	b.Publish(core.Alert{ID: "t1", Kind: core.KindDonation, SubjectName: "tester", Amount: 5, Currency: "$"})

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected both subscribers to receive the alert (%d/%d)", len(first), len(second))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus()
	var got int
	unsub := b.Subscribe(func(core.Alert) { got++ })

	b.Publish(core.Alert{ID: "a", Kind: core.KindFollow, SubjectName: "x"})
	unsub()
	b.Publish(core.Alert{ID: "b", Kind: core.KindFollow, SubjectName: "x"})

	if got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
}

func TestMalformedAlertsDropped(t *testing.T) {
	b := NewBus()
	var got int
	b.Subscribe(func(core.Alert) { got++ })

	b.Publish(core.Alert{Kind: core.KindFollow})          // no id
	b.Publish(core.Alert{ID: "x", Kind: core.AlertKind("boom")}) // unknown kind

	if got != 0 {
		t.Fatalf("malformed alerts were delivered: %d", got)
	}
}

func TestPublishAfterCloseDiscarded(t *testing.T) {
	b := NewBus()
	var got int
	b.Subscribe(func(core.Alert) { got++ })
	b.Close()
	b.Close()
	b.Publish(core.Alert{ID: "late", Kind: core.KindRaid, SubjectName: "x"})
	if got != 0 {
		t.Fatalf("publish after close was delivered")
	}
}
