package status

import (
	"testing"
	"time"

	"github.com/matheus3301/huddle/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Uninitialized {
		t.Errorf("initial state = %s, want UNINITIALIZED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Uninitialized, Connecting},
		{Uninitialized, Closed},
		{Connecting, Ready},
		{Connecting, Reconnecting},
		{Ready, Reconnecting},
		{Reconnecting, Ready},
		{Reconnecting, Degraded},
		{Degraded, Connecting},
		{Ready, Closed},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Uninitialized, Ready},
		{Degraded, Ready},
		{Closed, Connecting},
		{Ready, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state changed to %s on invalid transition", m.Current())
			}
		})
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New(nil)
	ch, unsub := b.Stream(10, bus.Session)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.SessionStatusChanged {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.SessionStatusChanged)
		}
		sc, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		if sc.From != Uninitialized || sc.To != Connecting {
			t.Errorf("change = %+v", sc)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}

func TestSubscriberCanReadState(t *testing.T) {
	b := bus.New(nil)
	m := NewMachine(b)
	seen := make(chan State, 1)
	b.Subscribe(bus.SessionStatusChanged, func(bus.Event) { seen <- m.Current() })

	done := make(chan error, 1)
	go func() { done <- m.Transition(Connecting) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Transition blocked on a subscriber reading the state")
	}
	if got := <-seen; got != Connecting {
		t.Errorf("subscriber saw %s, want CONNECTING", got)
	}
}

func TestSettle(t *testing.T) {
	b := bus.New(nil)
	events := 0
	b.Subscribe(bus.SessionStatusChanged, func(bus.Event) { events++ })
	m := NewMachine(b)

	walkTo(t, m, Reconnecting)
	before := events
	if err := m.Settle(Reconnecting); err != nil {
		t.Fatal(err)
	}
	if events != before {
		t.Error("Settle to the current state published an event")
	}
	if err := m.Settle(Ready); err != nil {
		t.Fatal(err)
	}
	if !m.Current().Online() {
		t.Errorf("state = %s, want online", m.Current())
	}
}

// walkTo drives a fresh machine to target along valid transitions.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Uninitialized: {},
		Connecting:    {Connecting},
		Ready:         {Connecting, Ready},
		Reconnecting:  {Connecting, Reconnecting},
		Degraded:      {Connecting, Degraded},
		Closed:        {Closed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
