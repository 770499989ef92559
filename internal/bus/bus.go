package bus

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler receives events synchronously on the publisher's goroutine.
type Handler func(Event)

// Bus is an in-process publish/subscribe dispatcher. Handlers run in
// registration order; a panicking handler is logged and skipped.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	next   int
	logger *zap.Logger
}

type subscription struct {
	id      int
	key     Kind
	handler Handler
}

// New creates a new event bus. A nil logger discards handler failures.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe registers handler for events whose kind equals key, or for every
// kind in the namespace when key ends with a dot. The returned function
// removes the subscription and is safe to call more than once.
func (b *Bus) Subscribe(key Kind, handler Handler) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs = append(b.subs, &subscription{id: id, key: key, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// Publish delivers evt to every matching handler before returning.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	// Snapshot so handlers may subscribe or unsubscribe while being called.
	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.matches(evt.Kind) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		b.invoke(sub, evt)
	}
}

// Stream adapts subscriptions to keys into one buffered channel. An event
// matching several keys is delivered once. Events are dropped when the
// buffer is full so a slow reader never blocks the publisher.
func (b *Bus) Stream(bufSize int, keys ...Kind) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	unsubs := make([]func(), 0, len(keys))
	for i, key := range keys {
		earlier := keys[:i]
		unsubs = append(unsubs, b.Subscribe(key, func(evt Event) {
			for _, k := range earlier {
				if match(k, evt.Kind) {
					return
				}
			}
			select {
			case ch <- evt:
			default:
				b.logger.Warn("stream buffer full, dropping event", zap.String("kind", string(evt.Kind)))
			}
		}))
	}
	return ch, func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func (b *Bus) invoke(sub *subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("kind", string(evt.Kind)),
				zap.String("subscription", string(sub.key)),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	sub.handler(evt)
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (s *subscription) matches(kind Kind) bool {
	return match(s.key, kind)
}

func match(key, kind Kind) bool {
	if strings.HasSuffix(string(key), ".") {
		return strings.HasPrefix(string(kind), string(key))
	}
	return key == kind
}
