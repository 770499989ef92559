package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/huddle/internal/bus"
)

// State is the synchronization session's runtime state.
type State string

const (
	Uninitialized State = "UNINITIALIZED"
	Connecting    State = "CONNECTING"
	Ready         State = "READY"
	Reconnecting  State = "RECONNECTING"
	Degraded      State = "DEGRADED"
	Closed        State = "CLOSED"
)

// validTransitions defines allowed state transitions. Degraded is where the
// session rests after the transport gave up; only an explicit reconnect
// leaves it.
var validTransitions = map[State][]State{
	Uninitialized: {Connecting, Closed},
	Connecting:    {Ready, Reconnecting, Degraded, Closed},
	Ready:         {Reconnecting, Degraded, Closed},
	Reconnecting:  {Connecting, Ready, Degraded, Closed},
	Degraded:      {Connecting, Closed},
	Closed:        {},
}

// Online reports whether s means the transport is live.
func (s State) Online() bool {
	return s == Ready
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Uninitialized state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Uninitialized,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
// The change is published after the lock is released, so subscribers may
// read the machine.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:    bus.SessionStatusChanged,
			Payload: StatusChange{From: from, To: to},
		})
	}
	return nil
}

// Settle transitions to the given state unless the machine is already there.
func (m *Machine) Settle(to State) error {
	if m.Current() == to {
		return nil
	}
	return m.Transition(to)
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
