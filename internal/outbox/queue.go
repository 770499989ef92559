// Package outbox buffers outbound transport events while the connection is
// down and replays them in order once it comes back.
package outbox

import (
	"errors"
	"sync"

	"github.com/matheus3301/huddle/internal/wire"
)

// ErrClosed is returned by a send function when the connection went away
// mid-flush. Flush treats any error the same way.
var ErrClosed = errors.New("outbox: connection closed")

// Queue is a FIFO of events awaiting a live connection. It does not
// de-duplicate: enqueuing the same event twice sends it twice.
type Queue struct {
	mu    sync.Mutex
	items []wire.Event
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends evt at the back.
func (q *Queue) Enqueue(evt wire.Event) {
	q.mu.Lock()
	q.items = append(q.items, evt)
	q.mu.Unlock()
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Flush hands queued events to send from front to back. It stops at the first
// error, leaving the failed event and everything behind it queued, and
// returns how many were sent.
//
// send runs without the queue lock held, so it may call Enqueue. Events
// enqueued during a flush land behind the ones being drained.
func (q *Queue) Flush(send func(wire.Event) error) int {
	sent := 0
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return sent
		}
		head := q.items[0]
		q.mu.Unlock()

		if err := send(head); err != nil {
			return sent
		}

		q.mu.Lock()
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()
		sent++
	}
}
