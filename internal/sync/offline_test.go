package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/status"
	"github.com/matheus3301/huddle/internal/transport"
	"github.com/matheus3301/huddle/internal/wire"
)

type pipeStream struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newPipeStream() *pipeStream {
	return &pipeStream{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (s *pipeStream) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-s.in:
		if !ok {
			return nil, errors.New("eof")
		}
		return data, nil
	case <-s.closed:
		return nil, errors.New("closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *pipeStream) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, data)
	return nil
}

func (s *pipeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *pipeStream) creates() []wire.MessageCreate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.MessageCreate
	for _, data := range s.written {
		if evt, err := wire.Decode(data); err == nil {
			if mc, ok := evt.(wire.MessageCreate); ok {
				out = append(out, mc)
			}
		}
	}
	return out
}

type pipeDialer struct {
	mu      sync.Mutex
	down    bool
	streams []*pipeStream
}

func (d *pipeDialer) Dial(context.Context, string) (transport.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.down {
		return nil, errors.New("connection refused")
	}
	s := newPipeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *pipeDialer) setDown(v bool) {
	d.mu.Lock()
	d.down = v
	d.mu.Unlock()
}

func (d *pipeDialer) last() *pipeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[len(d.streams)-1]
}

func (d *pipeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestOfflineSendFlushesAndConfirmsOnReconnect(t *testing.T) {
	b := bus.New(nil)
	d := &pipeDialer{}
	conn := transport.New(d, b, nil, nil, transport.Options{
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
		MaxAttempts: 100,
	})
	cache := newMemCache()
	cache.convs[team.ID] = team
	e := NewEngine(Identity{UserID: "me", DisplayName: "Me", Token: "tok"}, conn, b, Options{Cache: cache})
	defer e.Close()

	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitUntil(t, "ready", func() bool { return e.Status().Current() == status.Ready })

	d.setDown(true)
	close(d.last().in)
	waitUntil(t, "reconnecting", func() bool { return e.Status().Current() == status.Reconnecting })

	m, err := e.SendMessage(context.Background(), "c1", "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != chat.StatusPending {
		t.Errorf("status = %s while offline, want pending", m.Status)
	}
	if conn.State() != transport.StateReconnecting || conn.Pending() != 1 {
		t.Errorf("transport = %s with %d queued, want reconnecting with 1", conn.State(), conn.Pending())
	}

	d.setDown(false)
	waitUntil(t, "redial", func() bool { return d.count() == 2 })
	stream := d.last()
	waitUntil(t, "queued send flushed", func() bool { return len(stream.creates()) == 1 })
	if conn.Pending() != 0 {
		t.Errorf("queue = %d after flush", conn.Pending())
	}
	sent := stream.creates()[0]
	if sent.ClientID != m.ClientID || sent.Content != "hello" {
		t.Errorf("flushed = %+v", sent)
	}

	echo, err := wire.Encode(wire.MessageCreate{
		Header:   wire.Header{ID: "srv-1", ConversationID: "c1", SenderID: "me", Timestamp: time.Now()},
		ClientID: sent.ClientID,
		Content:  "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	stream.in <- echo

	waitUntil(t, "confirmation", func() bool {
		got, ok := e.Message("srv-1")
		return ok && got.Status == chat.StatusSent
	})
	msgs := e.Messages("c1")
	if len(msgs) != 1 || msgs[0].ID != "srv-1" || msgs[0].ClientID != m.ClientID {
		t.Errorf("messages = %+v, want the one message under srv-1", msgs)
	}
	if e.Status().Current() != status.Ready {
		t.Errorf("state = %s, want READY", e.Status().Current())
	}
}
