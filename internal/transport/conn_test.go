package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/wire"
)

type fakeStream struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func newFakeStream() *fakeStream {
	return &fakeStream{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (s *fakeStream) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-s.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-s.closed:
		return nil, errors.New("closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeStream) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.written = append(s.written, data)
	return nil
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) frames(t *testing.T) []wire.Event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Event, 0, len(s.written))
	for _, data := range s.written {
		evt, err := wire.Decode(data)
		if err != nil {
			t.Fatalf("decode written frame: %v", err)
		}
		out = append(out, evt)
	}
	return out
}

type fakeDialer struct {
	mu      sync.Mutex
	fail    bool
	dials   int
	tokens  []string
	streams []*fakeStream
}

func (d *fakeDialer) Dial(_ context.Context, token string) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.tokens = append(d.tokens, token)
	if d.fail {
		return nil, errors.New("connection refused")
	}
	s := newFakeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	d.fail = v
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[len(d.streams)-1]
}

func waitFor(t *testing.T, ch <-chan bus.Event, kind bus.Kind) bus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func msg(id, body string) wire.MessageCreate {
	return wire.MessageCreate{
		Header:   wire.Header{ID: id, ConversationID: "c1", SenderID: "me", Timestamp: time.Now()},
		ClientID: id,
		Content:  body,
	}
}

func TestDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{12, 30 * time.Second},
		{80, 30 * time.Second},
	}
	prev := time.Duration(0)
	for _, tt := range tests {
		got := Delay(tt.attempt, time.Second, 30*time.Second)
		if got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
		if got < prev {
			t.Errorf("Delay(%d) = %v decreased from %v", tt.attempt, got, prev)
		}
		prev = got
	}
}

func TestConnectFlushesQueuedEvents(t *testing.T) {
	b := bus.New(nil)
	events, unsub := b.Stream(16, bus.Transport)
	defer unsub()
	d := &fakeDialer{}
	c := New(d, b, nil, nil, Options{})
	defer c.Disconnect()

	c.Send(context.Background(), msg("a", "first"))
	c.Send(context.Background(), msg("b", "second"))
	if c.Pending() != 2 {
		t.Fatalf("pending = %d before connect, want 2", c.Pending())
	}

	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, events, bus.TransportConnected)

	if c.State() != StateConnected {
		t.Errorf("state = %s, want connected", c.State())
	}
	if c.Pending() != 0 {
		t.Errorf("pending = %d after connect, want 0", c.Pending())
	}
	frames := d.last().frames(t)
	if len(frames) != 2 || frames[0].Head().ID != "a" || frames[1].Head().ID != "b" {
		t.Errorf("frames = %+v, want a then b", frames)
	}
	if d.tokens[0] != "tok" {
		t.Errorf("token = %q, want tok", d.tokens[0])
	}
}

func TestConnectIsNoOpWhenConnected(t *testing.T) {
	d := &fakeDialer{}
	c := New(d, bus.New(nil), nil, nil, Options{})
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	if n := d.dialCount(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
}

func TestSendWhileConnectedWritesImmediately(t *testing.T) {
	d := &fakeDialer{}
	c := New(d, bus.New(nil), nil, nil, Options{})
	defer c.Disconnect()
	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	c.Send(context.Background(), msg("x", "hi"))

	if frames := d.last().frames(t); len(frames) != 1 {
		t.Errorf("frames = %d, want 1", len(frames))
	}
}

func TestReconnectAfterUnexpectedClose(t *testing.T) {
	b := bus.New(nil)
	events, unsub := b.Stream(16, bus.Transport)
	defer unsub()
	d := &fakeDialer{}
	c := New(d, b, nil, nil, Options{BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond})
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, events, bus.TransportConnected)

	close(d.last().in)

	evt := waitFor(t, events, bus.TransportReconnecting)
	r := evt.Payload.(bus.Reconnecting)
	if r.Attempt != 1 || r.Delay != 10*time.Millisecond {
		t.Errorf("reconnecting = %+v, want attempt 1 delay 10ms", r)
	}
	waitFor(t, events, bus.TransportConnected)

	if d.dialCount() != 2 {
		t.Errorf("dials = %d, want 2", d.dialCount())
	}
	if c.Attempt() != 0 {
		t.Errorf("attempt = %d after reconnect, want 0", c.Attempt())
	}
}

func TestFailsAfterMaxAttempts(t *testing.T) {
	b := bus.New(nil)
	events, unsub := b.Stream(32, bus.Transport)
	defer unsub()
	d := &fakeDialer{fail: true}
	c := New(d, b, nil, nil, Options{BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, MaxAttempts: 3})
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "tok"); err == nil {
		t.Fatal("expected dial error from Connect")
	}

	var delays []time.Duration
	deadline := time.After(2 * time.Second)
loop:
	for {
		select {
		case evt := <-events:
			switch evt.Kind {
			case bus.TransportReconnecting:
				delays = append(delays, evt.Payload.(bus.Reconnecting).Delay)
			case bus.TransportFailed:
				if f := evt.Payload.(bus.Failed); f.Attempts != 3 {
					t.Errorf("failed attempts = %d, want 3", f.Attempts)
				}
				break loop
			}
		case <-deadline:
			t.Fatal("timeout waiting for failed")
		}
	}

	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
	if c.State() != StateFailed {
		t.Errorf("state = %s, want failed", c.State())
	}

	dials := d.dialCount()
	time.Sleep(30 * time.Millisecond)
	if d.dialCount() != dials {
		t.Error("dialed again after failing")
	}
	if dials != 4 {
		t.Errorf("dials = %d, want 4 (initial plus 3 retries)", dials)
	}
}

func TestReconnectFromFailed(t *testing.T) {
	b := bus.New(nil)
	events, unsub := b.Stream(32, bus.Transport)
	defer unsub()
	d := &fakeDialer{fail: true}
	c := New(d, b, nil, nil, Options{BaseDelay: time.Millisecond, MaxAttempts: 1})
	defer c.Disconnect()

	_ = c.Connect(context.Background(), "tok")
	waitFor(t, events, bus.TransportFailed)

	d.setFail(false)
	if err := c.Reconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateConnected {
		t.Errorf("state = %s, want connected", c.State())
	}
}

func TestConnectFromFailedStartsFreshBackoff(t *testing.T) {
	b := bus.New(nil)
	events, unsub := b.Stream(32, bus.Transport)
	defer unsub()
	d := &fakeDialer{fail: true}
	c := New(d, b, nil, nil, Options{BaseDelay: time.Millisecond, MaxAttempts: 1})
	defer c.Disconnect()

	_ = c.Connect(context.Background(), "tok")
	waitFor(t, events, bus.TransportFailed)

	if err := c.Connect(context.Background(), "tok"); err == nil {
		t.Fatal("expected dial error")
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-events:
			switch evt.Kind {
			case bus.TransportReconnecting:
				if r := evt.Payload.(bus.Reconnecting); r.Attempt != 1 {
					t.Errorf("reconnecting = %+v, want attempt 1", r)
				}
				return
			case bus.TransportFailed:
				t.Fatal("failed again without a backoff cycle")
			}
		case <-deadline:
			t.Fatal("timeout waiting for reconnecting")
		}
	}
}

func TestReconnectWithoutToken(t *testing.T) {
	c := New(&fakeDialer{}, bus.New(nil), nil, nil, Options{})
	if err := c.Reconnect(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("err = %v, want ErrNoToken", err)
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	b := bus.New(nil)
	events, unsub := b.Stream(16, bus.Transport)
	defer unsub()
	d := &fakeDialer{fail: true}
	c := New(d, b, nil, nil, Options{BaseDelay: 50 * time.Millisecond})

	_ = c.Connect(context.Background(), "tok")
	waitFor(t, events, bus.TransportReconnecting)

	c.Disconnect()
	waitFor(t, events, bus.TransportDisconnected)

	time.Sleep(100 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Errorf("dials = %d after disconnect, want 1", d.dialCount())
	}
	if c.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", c.State())
	}
}

func TestDeliberateDisconnectDoesNotReconnect(t *testing.T) {
	b := bus.New(nil)
	events, unsub := b.Stream(16, bus.Transport)
	defer unsub()
	d := &fakeDialer{}
	c := New(d, b, nil, nil, Options{BaseDelay: time.Millisecond})

	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	c.Disconnect()

	time.Sleep(20 * time.Millisecond)
	for {
		select {
		case evt := <-events:
			if evt.Kind == bus.TransportReconnecting {
				t.Fatal("reconnect scheduled after deliberate disconnect")
			}
			continue
		default:
		}
		break
	}
	if d.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", d.dialCount())
	}
}

func TestInboundFramesPublished(t *testing.T) {
	b := bus.New(nil)
	inbound, unsub := b.Stream(16, bus.Inbound)
	defer unsub()
	d := &fakeDialer{}
	c := New(d, b, nil, nil, Options{})
	defer c.Disconnect()
	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	s := d.last()
	s.in <- []byte(`not json`)
	s.in <- []byte(`{"id":"x","type":"reaction","timestamp":"2024-05-01T10:00:00Z"}`)
	s.in <- []byte(`{"id":"m1","type":"message-create","conversationId":"c1","senderId":"u2","content":"hey","timestamp":"2024-05-01T10:00:00Z"}`)

	evt := waitFor(t, inbound, bus.InboundMessageCreate)
	mc, ok := evt.Payload.(wire.MessageCreate)
	if !ok || mc.ID != "m1" || mc.Content != "hey" {
		t.Errorf("payload = %+v", evt.Payload)
	}
	if c.State() != StateConnected {
		t.Errorf("malformed frames changed state to %s", c.State())
	}
}

func TestWriteFailureRequeues(t *testing.T) {
	b := bus.New(nil)
	events, unsub := b.Stream(16, bus.Transport)
	defer unsub()
	d := &fakeDialer{}
	c := New(d, b, nil, nil, Options{BaseDelay: time.Hour})
	defer c.Disconnect()
	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	s := d.last()
	s.mu.Lock()
	s.writeErr = errors.New("broken pipe")
	s.mu.Unlock()

	c.Send(context.Background(), msg("a", "hello"))

	waitFor(t, events, bus.TransportReconnecting)
	if c.Pending() != 1 {
		t.Errorf("pending = %d, want the failed event requeued", c.Pending())
	}
}

func TestHeartbeatSendsPing(t *testing.T) {
	d := &fakeDialer{}
	c := New(d, bus.New(nil), nil, nil, Options{HeartbeatInterval: 5 * time.Millisecond})
	defer c.Disconnect()
	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, f := range d.last().frames(t) {
			if f.Type() == wire.TypePing {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no ping written")
}
