package control

import (
	"log"
	"sync"

	"github.com/you/stream-alerts/internal/core"
)

// Bus is the local test/control channel: a small in-process broadcast that
// lets any control surface inject fully formed alerts into the same entry
// point the platform connectors feed. Subscribers receive every published
// alert; the overlay runtime subscribes the queue, which makes the display
// driver agnostic to alert origin.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]func(core.Alert)
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(core.Alert))}
}

// Subscribe registers fn for every future publish and returns an unsubscribe
// function. Both are safe for concurrent use.
func (b *Bus) Subscribe(fn func(core.Alert)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish fans the alert out to all subscribers. Alerts published by control
// surfaces must carry their own id and a valid kind; invalid ones are
// dropped with a log line rather than reaching the queue.
func (b *Bus) Publish(a core.Alert) {
	if a.ID == "" || !core.ValidKind(a.Kind) {
		log.Printf("control: dropping malformed alert id=%q kind=%q", a.ID, a.Kind)
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	fns := make([]func(core.Alert), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(a)
	}
}

// Close drops all subscribers; later publishes are discarded. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.subs = make(map[int]func(core.Alert))
}
