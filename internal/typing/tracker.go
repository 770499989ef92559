// Package typing tracks which users are composing in each conversation.
// Entries expire on their own when no refresh arrives within the window.
package typing

import (
	"slices"
	"sync"
	"time"
)

// DefaultWindow is how long a typing signal stays valid without a refresh.
const DefaultWindow = 3 * time.Second

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Tracker holds the set of typing users per conversation.
type Tracker struct {
	window   time.Duration
	onChange func(convID string)

	mu      sync.Mutex
	convs   map[string]map[string]*entry
	order   map[string][]string
	gen     uint64
	stopped bool
}

// New creates a tracker. onChange, when non-nil, is called after a
// conversation's typing set changes, including on expiry. It runs without
// the tracker's lock held.
func New(window time.Duration, onChange func(convID string)) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		window:   window,
		onChange: onChange,
		convs:    make(map[string]map[string]*entry),
		order:    make(map[string][]string),
	}
}

// Set marks userID as typing in convID, restarting its expiry window.
func (t *Tracker) Set(convID, userID string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	users, ok := t.convs[convID]
	if !ok {
		users = make(map[string]*entry)
		t.convs[convID] = users
	}
	e, existed := users[userID]
	if existed {
		e.timer.Stop()
	} else {
		e = &entry{}
		users[userID] = e
		t.order[convID] = append(t.order[convID], userID)
	}
	t.gen++
	gen := t.gen
	e.gen = gen
	e.timer = time.AfterFunc(t.window, func() { t.expire(convID, userID, gen) })
	t.mu.Unlock()

	if !existed {
		t.notify(convID)
	}
}

// Clear removes userID from convID. Clearing an absent user does nothing.
func (t *Tracker) Clear(convID, userID string) {
	t.mu.Lock()
	removed := t.removeLocked(convID, userID)
	t.mu.Unlock()
	if removed {
		t.notify(convID)
	}
}

// ClearConversation removes every typing user from convID.
func (t *Tracker) ClearConversation(convID string) {
	t.mu.Lock()
	users := t.convs[convID]
	for _, e := range users {
		e.timer.Stop()
	}
	delete(t.convs, convID)
	delete(t.order, convID)
	t.mu.Unlock()
	if len(users) > 0 {
		t.notify(convID)
	}
}

// Users returns the users typing in convID in the order they started.
func (t *Tracker) Users(convID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.order[convID])
}

// Stop cancels every pending expiry. The tracker ignores later calls to Set.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for _, users := range t.convs {
		for _, e := range users {
			e.timer.Stop()
		}
	}
	t.convs = make(map[string]map[string]*entry)
	t.order = make(map[string][]string)
}

func (t *Tracker) expire(convID, userID string, gen uint64) {
	t.mu.Lock()
	e, ok := t.convs[convID][userID]
	if !ok || e.gen != gen {
		// Refreshed or cleared since this timer was armed.
		t.mu.Unlock()
		return
	}
	t.removeLocked(convID, userID)
	t.mu.Unlock()
	t.notify(convID)
}

func (t *Tracker) removeLocked(convID, userID string) bool {
	users := t.convs[convID]
	e, ok := users[userID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(t.convs, convID)
		delete(t.order, convID)
		return true
	}
	t.order[convID] = slices.DeleteFunc(t.order[convID], func(id string) bool { return id == userID })
	return true
}

func (t *Tracker) notify(convID string) {
	if t.onChange != nil {
		t.onChange(convID)
	}
}
