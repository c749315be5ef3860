package display

import (
	"log"
	"sync"
	"time"

	"github.com/you/stream-alerts/internal/alertqueue"
	"github.com/you/stream-alerts/internal/core"
)

// Driver pops one alert at a time from the queue, holds it visible for its
// display duration, then removes it and advances. It is the only consumer of
// the queue. Two states: Idle (no alert visible) and Showing (duration timer
// running). Selection always takes the queue head; FIFO is mandatory.
type Driver struct {
	queue *alertqueue.Queue

	mu      sync.Mutex
	visible *core.Alert
	// lastShownID stays set from selection until the shown entry has been
	// removed from the queue. The async expiry timer decouples selection
	// from removal; without this guard a slow removal could re-select the
	// same head and show it twice in a row.
	lastShownID string
	timer       *time.Timer
	closed      bool

	onShow  func(core.Alert)
	onClear func(id string)
}

// Options carries the render-boundary callbacks. Both are optional and are
// invoked outside the driver lock; the driver makes no assumption about what
// draws the alert.
type Options struct {
	OnShow  func(core.Alert)
	OnClear func(id string)
}

func New(queue *alertqueue.Queue, opts Options) *Driver {
	d := &Driver{
		queue:   queue,
		onShow:  opts.OnShow,
		onClear: opts.OnClear,
	}
	queue.OnPush(func(core.Alert) { d.Poke() })
	return d
}

// Poke advances Idle -> Showing if the queue is non-empty and nothing is
// visible. Safe to call at any time from any goroutine.
func (d *Driver) Poke() {
	d.mu.Lock()
	if d.closed || d.visible != nil {
		d.mu.Unlock()
		return
	}

	head, ok := d.queue.Head()
	if !ok {
		d.mu.Unlock()
		return
	}
	if head.ID == d.lastShownID {
		// The previous show has expired but its removal has not been
		// processed yet; wait for it rather than showing the entry twice.
		d.mu.Unlock()
		return
	}

	alert := head
	d.visible = &alert
	d.lastShownID = alert.ID
	d.timer = time.AfterFunc(alert.DisplayDuration(), func() { d.expire(alert.ID) })
	show := d.onShow
	d.mu.Unlock()

	if show != nil {
		show(alert)
	}
}

func (d *Driver) expire(id string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.visible == nil || d.visible.ID != id {
		// Stale timer from an alert that was already cleared.
		d.mu.Unlock()
		return
	}
	d.visible = nil
	d.timer = nil
	d.mu.Unlock()

	if !d.queue.Remove(id) {
		// Already gone, e.g. cleared by an external reset. Benign.
		log.Printf("display: shown alert %s missing from queue on expiry", id)
	}

	d.mu.Lock()
	d.lastShownID = ""
	clear := d.onClear
	closed := d.closed
	d.mu.Unlock()

	if closed {
		return
	}
	if clear != nil {
		clear(id)
	}
	d.Poke()
}

// Visible returns the currently shown alert, if any.
func (d *Driver) Visible() (core.Alert, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.visible == nil {
		return core.Alert{}, false
	}
	return *d.visible, true
}

// Close cancels any pending display timer and stops the driver. Idempotent;
// no callbacks fire after Close returns.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.visible = nil
}
