package alertqueue

import (
	"log"
	"sync"

	"github.com/you/stream-alerts/internal/core"
)

// Queue is the shared FIFO buffer between the connectors (producers) and the
// display driver (single consumer). Producers only append; the consumer reads
// the head and removes entries by id, never by position, so the queue may
// grow while an alert is being shown. A mutex serializes all mutation since
// producers run on their own goroutines.
type Queue struct {
	mu      sync.Mutex
	entries []core.Alert
	ids     map[string]struct{}

	onPush func(core.Alert)
}

func New() *Queue {
	return &Queue{ids: make(map[string]struct{})}
}

// OnPush registers a callback invoked after each successful append, outside
// the queue lock. The display driver uses it to wake up from Idle.
func (q *Queue) OnPush(fn func(core.Alert)) {
	q.mu.Lock()
	q.onPush = fn
	q.mu.Unlock()
}

// Push appends an alert at the tail. An alert whose id is already present is
// dropped with a log line; no two live entries may share an id.
func (q *Queue) Push(a core.Alert) bool {
	if a.ID == "" {
		log.Printf("alertqueue: dropping alert with empty id (kind=%s)", a.Kind)
		return false
	}

	q.mu.Lock()
	if _, dup := q.ids[a.ID]; dup {
		q.mu.Unlock()
		log.Printf("alertqueue: dropping duplicate alert id=%s", a.ID)
		return false
	}
	q.entries = append(q.entries, a)
	q.ids[a.ID] = struct{}{}
	notify := q.onPush
	q.mu.Unlock()

	if notify != nil {
		notify(a)
	}
	return true
}

// Head returns the oldest entry without removing it.
func (q *Queue) Head() (core.Alert, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return core.Alert{}, false
	}
	return q.entries[0], true
}

// Remove deletes the entry with the given id. Removing an absent id is a
// no-op and returns false; callers treat that as benign.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.ids[id]; !ok {
		return false
	}
	for i := range q.entries {
		if q.entries[i].ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	delete(q.ids, id)
	return true
}

// Len reports the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot copies the pending entries in arrival order.
func (q *Queue) Snapshot() []core.Alert {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]core.Alert, len(q.entries))
	copy(out, q.entries)
	return out
}
