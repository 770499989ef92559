// Package transport keeps one bidirectional stream open to the messaging
// endpoint. It reconnects with capped exponential backoff, buffers outbound
// events while the stream is down and publishes lifecycle and inbound events
// on the bus.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/outbox"
	"github.com/matheus3301/huddle/internal/wire"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// ErrNoToken is returned by Reconnect when Connect was never called.
var ErrNoToken = errors.New("transport: no auth token")

// Stream is a connected message stream. Read blocks until a frame arrives or
// the stream breaks. Write must be safe to call concurrently with Read.
type Stream interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens streams authenticated with token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Stream, error)
}

// Options tunes reconnection and keep-alive. Zero fields take defaults.
type Options struct {
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
}

func (o *Options) defaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
}

// Delay returns the wait before reconnect attempt number attempt (zero based):
// min(base*2^attempt, max).
func Delay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Conn is a self-healing connection to one endpoint.
type Conn struct {
	dialer Dialer
	bus    *bus.Bus
	queue  *outbox.Queue
	logger *zap.Logger
	opts   Options

	mu      sync.Mutex
	state   State
	attempt int
	delay   time.Duration
	token   string
	stream  Stream
	cancel  context.CancelFunc
	timer   *time.Timer
	// epoch changes whenever the current stream is abandoned, so late
	// callbacks from an old stream or dial can tell they are stale.
	epoch uint64

	flushMu sync.Mutex
}

// New creates a disconnected Conn. A nil queue gets a fresh one.
func New(dialer Dialer, b *bus.Bus, queue *outbox.Queue, logger *zap.Logger, opts Options) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queue == nil {
		queue = outbox.New()
	}
	opts.defaults()
	return &Conn{
		dialer: dialer,
		bus:    b,
		queue:  queue,
		logger: logger,
		opts:   opts,
		state:  StateDisconnected,
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the number of reconnects scheduled since the last success.
func (c *Conn) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Delay returns the most recently scheduled reconnect delay.
func (c *Conn) Delay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

// Pending returns the number of events waiting for the stream.
func (c *Conn) Pending() int {
	return c.queue.Len()
}

// Connect opens the stream. It is a no-op while connected or connecting.
// Connecting after the connection gave up starts a fresh backoff cycle.
// A failed dial enters the reconnect path; the error is returned only so the
// caller can log it.
func (c *Conn) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	if c.state == StateFailed {
		c.attempt = 0
		c.delay = 0
	}
	c.token = token
	c.state = StateConnecting
	epoch := c.epoch
	c.mu.Unlock()

	c.publish(bus.TransportConnecting, nil)
	return c.dial(ctx, epoch)
}

// Reconnect restarts dialing after the connection gave up, with a fresh
// attempt counter. It is a no-op while connected or connecting.
func (c *Conn) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.token == "" {
		c.mu.Unlock()
		return ErrNoToken
	}
	c.stopTimerLocked()
	c.attempt = 0
	c.delay = 0
	c.state = StateConnecting
	epoch := c.epoch
	c.mu.Unlock()

	c.publish(bus.TransportConnecting, nil)
	return c.dial(ctx, epoch)
}

// Disconnect closes the stream on purpose. No reconnect follows. Queued
// events stay queued for the next Connect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	stream := c.abandonLocked()
	c.state = StateDisconnected
	c.attempt = 0
	c.delay = 0
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	c.logger.Info("transport disconnected")
	c.publish(bus.TransportDisconnected, nil)
}

// Send writes evt when connected and queues it otherwise. Transport errors
// are never returned: a failed write re-queues the event and starts the
// reconnect path.
func (c *Conn) Send(ctx context.Context, evt wire.Event) {
	c.queue.Enqueue(evt)
	c.flush(ctx)
}

func (c *Conn) dial(ctx context.Context, epoch uint64) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	stream, err := c.dialer.Dial(dctx, token)
	cancel()

	c.mu.Lock()
	if c.epoch != epoch || (c.state != StateConnecting && c.state != StateReconnecting) {
		// Disconnected while dialing.
		c.mu.Unlock()
		if stream != nil {
			_ = stream.Close()
		}
		return nil
	}
	if err != nil {
		c.logger.Warn("dial failed", zap.Error(err), zap.Int("attempt", c.attempt))
		kind, payload := c.scheduleLocked(err.Error())
		c.mu.Unlock()
		c.publish(kind, payload)
		return fmt.Errorf("dial: %w", err)
	}

	c.epoch++
	epoch = c.epoch
	loopCtx, loopCancel := context.WithCancel(context.Background())
	c.stream = stream
	c.cancel = loopCancel
	c.state = StateConnected
	c.attempt = 0
	c.delay = 0
	c.mu.Unlock()

	go c.readLoop(loopCtx, stream, epoch)
	go c.heartbeat(loopCtx, stream, epoch)

	c.logger.Info("transport connected")
	c.publish(bus.TransportConnected, nil)
	c.flush(ctx)
	return nil
}

// scheduleLocked arms the next reconnect or gives up. It returns the event to
// publish once the lock is released.
func (c *Conn) scheduleLocked(reason string) (bus.Kind, any) {
	if c.attempt >= c.opts.MaxAttempts {
		c.state = StateFailed
		c.logger.Error("transport failed", zap.Int("attempts", c.attempt), zap.String("reason", reason))
		return bus.TransportFailed, bus.Failed{Attempts: c.attempt, Reason: reason}
	}
	c.delay = Delay(c.attempt, c.opts.BaseDelay, c.opts.MaxDelay)
	c.attempt++
	c.state = StateReconnecting
	epoch := c.epoch
	c.timer = time.AfterFunc(c.delay, func() { c.redial(epoch) })
	c.logger.Info("transport reconnecting",
		zap.Int("attempt", c.attempt),
		zap.Duration("delay", c.delay),
		zap.String("reason", reason),
	)
	return bus.TransportReconnecting, bus.Reconnecting{Attempt: c.attempt, Delay: c.delay, Reason: reason}
}

func (c *Conn) redial(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()
	_ = c.dial(context.Background(), epoch)
}

// drop handles an unexpected failure of the stream from epoch.
func (c *Conn) drop(epoch uint64, cause error) {
	c.mu.Lock()
	if c.epoch != epoch || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	stream := c.abandonLocked()
	kind, payload := c.scheduleLocked(cause.Error())
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	c.publish(kind, payload)
}

// abandonLocked detaches the current stream and stops its loops.
func (c *Conn) abandonLocked() Stream {
	c.epoch++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	stream := c.stream
	c.stream = nil
	return stream
}

func (c *Conn) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Conn) flush(ctx context.Context) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	stream, epoch := c.stream, c.epoch
	c.mu.Unlock()

	var writeErr error
	c.queue.Flush(func(evt wire.Event) error {
		writeErr = c.write(ctx, stream, evt)
		if writeErr != nil {
			return outbox.ErrClosed
		}
		return nil
	})
	if writeErr != nil {
		c.drop(epoch, writeErr)
	}
}

// write encodes and writes one event. Events that cannot be encoded are
// logged and discarded so they never wedge the queue.
func (c *Conn) write(ctx context.Context, stream Stream, evt wire.Event) error {
	data, err := wire.Encode(evt)
	if err != nil {
		c.logger.Error("dropping unencodable event", zap.String("type", string(evt.Type())), zap.Error(err))
		return nil
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.WriteTimeout)
	defer cancel()
	return stream.Write(wctx, data)
}

func (c *Conn) readLoop(ctx context.Context, stream Stream, epoch uint64) {
	for {
		data, err := stream.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("stream closed", zap.Error(err))
				c.drop(epoch, err)
			}
			return
		}
		evt, err := wire.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		c.publish(bus.Inbound+bus.Kind(evt.Type()), evt)
	}
}

func (c *Conn) heartbeat(ctx context.Context, stream Stream, epoch uint64) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ping := wire.Ping{Header: wire.Header{ID: uuid.NewString(), Timestamp: time.Now()}}
			if err := c.write(ctx, stream, ping); err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("heartbeat failed", zap.Error(err))
					c.drop(epoch, err)
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) publish(kind bus.Kind, payload any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{Kind: kind, Payload: payload})
}
