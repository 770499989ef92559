// Package sync is the synchronization facade. The Engine owns the
// conversation store and keeps it consistent with the server: it applies
// pushed events, runs optimistic sends, reconciles them with the server's
// copies and tracks the connection lifecycle.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/status"
	"github.com/matheus3301/huddle/internal/transport"
	"github.com/matheus3301/huddle/internal/typing"
	"github.com/matheus3301/huddle/internal/wire"
)

var (
	ErrUnauthenticated     = errors.New("not authenticated")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrSubmitting          = errors.New("a message is already being sent to this conversation")
	ErrUnknownConversation = chat.ErrUnknownConversation
	ErrUnknownMessage      = errors.New("unknown message")
	ErrNotFailed           = errors.New("message has not failed")
	ErrNotOwner            = errors.New("message belongs to another user")
	ErrUnconfirmed         = errors.New("message not yet confirmed by the server")
	ErrNoDurableAPI        = errors.New("no durable API configured")
	ErrClosed              = errors.New("engine closed")
)

// Transport is the connection the engine drives. *transport.Conn satisfies it.
type Transport interface {
	Connect(ctx context.Context, token string) error
	Reconnect(ctx context.Context) error
	Disconnect()
	Send(ctx context.Context, evt wire.Event)
	State() transport.State
	Attempt() int
	Pending() int
}

// DurableAPI persists messages and conversations server-side.
// *backend.Client satisfies it.
type DurableAPI interface {
	CreateMessage(ctx context.Context, req backend.CreateMessageRequest) (chat.Message, error)
	EditMessage(ctx context.Context, id, content string) (chat.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	ListConversations(ctx context.Context) ([]backend.ConversationSummary, error)
	ListMessages(ctx context.Context, convID string, page backend.Page) ([]chat.Message, error)
	MarkConversationRead(ctx context.Context, convID, upToID string) error
	CreateConversation(ctx context.Context, req backend.NewConversation) (chat.Conversation, error)
	LeaveConversation(ctx context.Context, convID string) error
}

// Cache is a local copy of the store that survives restarts.
// *store.DB satisfies it.
type Cache interface {
	SaveConversation(c chat.Conversation) error
	DeleteConversation(id string) error
	SaveMessage(m chat.Message) error
	LoadConversations() ([]chat.Conversation, error)
	LoadMessages(convID string, limit int) ([]chat.Message, error)
}

// Identity is the authenticated local user.
type Identity struct {
	UserID      string
	DisplayName string
	Token       string
}

// Options configures an Engine. Durable and Cache are optional.
type Options struct {
	Durable        DurableAPI
	Cache          Cache
	TypingWindow   time.Duration
	PageSize       int
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// ViewState is a snapshot of everything a client renders.
type ViewState struct {
	State                status.State
	Online               bool
	Attempt              int
	Pending              int
	ActiveConversationID string
	Conversations        []chat.Conversation
	Messages             []chat.Message
	Typing               []string
}

// Engine is the only writer of its store. mu serializes every mutation,
// whether it comes from an inbound event, a timer or a caller. It is never
// held across network calls.
type Engine struct {
	ident   Identity
	conn    Transport
	api     DurableAPI
	cache   Cache
	bus     *bus.Bus
	status  *status.Machine
	typing  *typing.Tracker
	logger  *zap.Logger
	page    int
	timeout time.Duration

	mu          sync.Mutex
	store       *chat.Store
	submitting  map[string]bool
	localTyping map[string]bool
	unsubs      []func()
	started     bool
	closed      bool
}

// NewEngine creates an engine for ident over conn.
func NewEngine(ident Identity, conn Transport, b *bus.Bus, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = backend.DefaultTimeout
	}
	e := &Engine{
		ident:       ident,
		conn:        conn,
		api:         opts.Durable,
		cache:       opts.Cache,
		bus:         b,
		status:      status.NewMachine(b),
		logger:      opts.Logger,
		page:        opts.PageSize,
		timeout:     opts.RequestTimeout,
		store:       chat.NewStore(ident.UserID),
		submitting:  make(map[string]bool),
		localTyping: make(map[string]bool),
	}
	e.typing = typing.New(opts.TypingWindow, e.changed)
	return e
}

// Status returns the session state machine.
func (e *Engine) Status() *status.Machine { return e.status }

// Identity returns the local user.
func (e *Engine) Identity() Identity { return e.ident }

// Start hydrates the store from the cache, subscribes to transport events
// and opens the connection. Connection failures are not returned; the
// transport keeps retrying and the state reflects it.
func (e *Engine) Start(ctx context.Context) error {
	if e.ident.Token == "" || e.ident.UserID == "" {
		return ErrUnauthenticated
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.hydrateLocked()
	e.unsubs = append(e.unsubs,
		e.bus.Subscribe(bus.Inbound, e.onInbound),
		e.bus.Subscribe(bus.Transport, e.onTransport),
	)
	e.mu.Unlock()

	if err := e.status.Transition(status.Connecting); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	e.changed("")

	if err := e.conn.Connect(ctx, e.ident.Token); err != nil {
		e.logger.Warn("initial connect failed, retrying in background", zap.Error(err))
	}
	if e.api != nil {
		if err := e.LoadConversations(ctx); err != nil {
			e.logger.Warn("initial conversation load failed", zap.Error(err))
		}
	}
	return nil
}

// Close disconnects and stops background work. It is safe to call twice.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	unsubs := e.unsubs
	e.unsubs = nil
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	e.conn.Disconnect()
	e.typing.Stop()
	if err := e.status.Settle(status.Closed); err != nil {
		e.logger.Warn("close", zap.Error(err))
	}
	e.changed("")
}

// Reconnect restarts the connection after it gave up.
func (e *Engine) Reconnect(ctx context.Context) error {
	if err := e.live(); err != nil {
		return err
	}
	return e.conn.Reconnect(ctx)
}

// SendMessage sends body to convID. The message appears immediately as
// pending. It goes out over the transport and, when a durable API is
// configured, through the API too; if the durable create fails the message
// becomes failed and a message.failed event is published. The returned
// message reflects the state after the durable call.
func (e *Engine) SendMessage(ctx context.Context, convID, body string, attachments []chat.Attachment) (chat.Message, error) {
	if err := e.live(); err != nil {
		return chat.Message{}, err
	}
	if strings.TrimSpace(body) == "" && len(attachments) == 0 {
		return chat.Message{}, ErrEmptyMessage
	}

	e.mu.Lock()
	if e.submitting[convID] {
		e.mu.Unlock()
		return chat.Message{}, ErrSubmitting
	}
	m, err := e.store.InsertOptimistic(convID, chat.Draft{SenderID: e.ident.UserID, Body: body, Attachments: attachments})
	if err != nil {
		e.mu.Unlock()
		return chat.Message{}, err
	}
	e.submitting[convID] = true
	e.saveMessageLocked(m)
	e.saveConversationLocked(convID)
	e.mu.Unlock()

	e.changed(convID)
	e.stopTyping(ctx, convID)
	return e.deliver(ctx, m), nil
}

// RetryMessage resends a failed message.
func (e *Engine) RetryMessage(ctx context.Context, id string) (chat.Message, error) {
	if err := e.live(); err != nil {
		return chat.Message{}, err
	}
	e.mu.Lock()
	m, ok := e.store.Message(id)
	switch {
	case !ok:
		e.mu.Unlock()
		return chat.Message{}, ErrUnknownMessage
	case m.Status != chat.StatusFailed:
		e.mu.Unlock()
		return chat.Message{}, ErrNotFailed
	case e.submitting[m.ConversationID]:
		e.mu.Unlock()
		return chat.Message{}, ErrSubmitting
	}
	e.store.SetStatus(id, chat.StatusPending)
	m.Status = chat.StatusPending
	e.submitting[m.ConversationID] = true
	e.saveMessageLocked(m)
	e.mu.Unlock()

	e.changed(m.ConversationID)
	if m.FailedOp != "" {
		return e.replay(ctx, m), nil
	}
	return e.deliver(ctx, m), nil
}

// replay resends an edit or delete the durable API rejected earlier.
func (e *Engine) replay(ctx context.Context, m chat.Message) chat.Message {
	h := wire.Header{ID: m.ID, ConversationID: m.ConversationID, SenderID: e.ident.UserID, Timestamp: time.Now()}
	var err error
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	switch m.FailedOp {
	case chat.OpEdit:
		body := m.Body
		e.conn.Send(ctx, wire.MessageUpdate{Header: h, Content: &body})
		if e.api != nil {
			_, err = e.api.EditMessage(rctx, m.ID, body)
		}
	case chat.OpDelete:
		e.conn.Send(ctx, wire.MessageDelete{Header: h})
		if e.api != nil {
			err = e.api.DeleteMessage(rctx, m.ID)
		}
	}
	cancel()

	e.mu.Lock()
	delete(e.submitting, m.ConversationID)
	e.mu.Unlock()
	return e.settle(m.ID, m.FailedOp, err)
}

// settle records the durable outcome of an edit or delete on the message:
// failed with the rejected op, or back to its delivery status.
func (e *Engine) settle(id string, op chat.Op, err error) chat.Message {
	e.mu.Lock()
	if err != nil {
		e.store.Fail(id, op)
	} else {
		e.store.Recover(id)
	}
	m, _ := e.store.Message(id)
	e.saveMessageLocked(m)
	e.mu.Unlock()

	if err != nil {
		e.reportFailure(m, err)
	}
	e.changed(m.ConversationID)
	return m
}

// deliver pushes a pending message down both paths and settles it.
func (e *Engine) deliver(ctx context.Context, m chat.Message) chat.Message {
	e.conn.Send(ctx, wire.MessageCreate{
		Header: wire.Header{
			ID:             m.ClientID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			Timestamp:      m.CreatedAt,
		},
		ClientID:    m.ClientID,
		Content:     m.Body,
		Attachments: m.Attachments,
	})

	if e.api == nil {
		e.mu.Lock()
		delete(e.submitting, m.ConversationID)
		latest := e.latestLocked(m)
		e.mu.Unlock()
		return latest
	}

	// An in-progress send is not cancelled with its caller.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	server, err := e.api.CreateMessage(rctx, backend.CreateMessageRequest{
		ConversationID: m.ConversationID,
		ClientID:       m.ClientID,
		Content:        m.Body,
		Attachments:    m.Attachments,
	})
	cancel()

	e.mu.Lock()
	delete(e.submitting, m.ConversationID)
	failed := false
	if err != nil {
		failed = e.store.SetStatus(m.ClientID, chat.StatusFailed)
	} else {
		confirmed, _ := e.store.Confirm(m.ClientID, server)
		m = confirmed
	}
	latest := e.latestLocked(m)
	e.saveMessageLocked(latest)
	e.saveConversationLocked(m.ConversationID)
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("durable send failed",
			zap.String("conversation_id", m.ConversationID),
			zap.String("client_id", m.ClientID),
			zap.Error(err),
		)
	}
	if failed {
		e.bus.Publish(bus.Event{
			Kind: bus.MessageFailed,
			Payload: bus.SendFailure{
				ConversationID: m.ConversationID,
				MessageID:      m.ClientID,
				Err:            err.Error(),
			},
		})
	}
	e.changed(m.ConversationID)
	return latest
}

// latestLocked returns the stored copy of m, under its server id if it has
// one by now.
func (e *Engine) latestLocked(m chat.Message) chat.Message {
	if cur, ok := e.store.Message(m.ID); ok {
		return cur
	}
	for _, cur := range e.store.Messages(m.ConversationID) {
		if cur.ClientID != "" && cur.ClientID == m.ClientID {
			return cur
		}
	}
	return m
}

// EditMessage changes the body of one of the user's own messages.
func (e *Engine) EditMessage(ctx context.Context, id, body string) (chat.Message, error) {
	if err := e.live(); err != nil {
		return chat.Message{}, err
	}
	if strings.TrimSpace(body) == "" {
		return chat.Message{}, ErrEmptyMessage
	}
	now := time.Now()

	e.mu.Lock()
	m, err := e.ownLocked(id)
	if err != nil {
		e.mu.Unlock()
		return chat.Message{}, err
	}
	e.store.Edit(id, body, now)
	m, _ = e.store.Message(id)
	e.saveMessageLocked(m)
	e.saveConversationLocked(m.ConversationID)
	e.mu.Unlock()
	e.changed(m.ConversationID)

	e.conn.Send(ctx, wire.MessageUpdate{
		Header:  wire.Header{ID: id, ConversationID: m.ConversationID, SenderID: e.ident.UserID, Timestamp: now},
		Content: &body,
	})
	if e.api == nil {
		return m, nil
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	_, err = e.api.EditMessage(rctx, id, body)
	cancel()
	m = e.settle(id, chat.OpEdit, err)
	if err != nil {
		return m, fmt.Errorf("edit message: %w", err)
	}
	return m, nil
}

// DeleteMessage deletes one of the user's own messages. A failed message
// that never reached the server is discarded locally.
func (e *Engine) DeleteMessage(ctx context.Context, id string) error {
	if err := e.live(); err != nil {
		return err
	}
	e.mu.Lock()
	m, ok := e.store.Message(id)
	if ok && m.Status == chat.StatusFailed && !m.Confirmed() {
		e.store.Delete(id)
		m, _ = e.store.Message(id)
		e.saveMessageLocked(m)
		e.mu.Unlock()
		e.changed(m.ConversationID)
		return nil
	}
	m, err := e.ownLocked(id)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.store.Delete(id)
	m, _ = e.store.Message(id)
	e.saveMessageLocked(m)
	e.saveConversationLocked(m.ConversationID)
	e.mu.Unlock()
	e.changed(m.ConversationID)

	e.conn.Send(ctx, wire.MessageDelete{
		Header: wire.Header{ID: id, ConversationID: m.ConversationID, SenderID: e.ident.UserID, Timestamp: time.Now()},
	})
	if e.api == nil {
		return nil
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	err = e.api.DeleteMessage(rctx, id)
	cancel()
	e.settle(id, chat.OpDelete, err)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (e *Engine) ownLocked(id string) (chat.Message, error) {
	m, ok := e.store.Message(id)
	switch {
	case !ok:
		return chat.Message{}, ErrUnknownMessage
	case m.SenderID != e.ident.UserID:
		return chat.Message{}, ErrNotOwner
	case !m.Confirmed():
		return chat.Message{}, ErrUnconfirmed
	}
	return m, nil
}

func (e *Engine) reportFailure(m chat.Message, err error) {
	e.logger.Warn("durable request failed", zap.String("message_id", m.ID), zap.Error(err))
	e.bus.Publish(bus.Event{
		Kind: bus.MessageFailed,
		Payload: bus.SendFailure{
			ConversationID: m.ConversationID,
			MessageID:      m.ID,
			Err:            err.Error(),
		},
	})
}

// LoadConversations refreshes the conversation list from the durable API.
func (e *Engine) LoadConversations(ctx context.Context) error {
	if e.api == nil {
		return ErrNoDurableAPI
	}
	convs, err := e.api.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	e.mu.Lock()
	for _, c := range convs {
		e.store.UpsertConversation(c.Conversation, c.Unread)
		e.saveConversationLocked(c.ID)
	}
	e.mu.Unlock()

	e.logger.Info("conversations loaded", zap.Int("count", len(convs)))
	e.changed("")
	return nil
}

// LoadMessages fetches a page of history for convID and merges it into the
// store, returning how many messages were new.
func (e *Engine) LoadMessages(ctx context.Context, convID string, page backend.Page) (int, error) {
	if e.api == nil {
		return 0, ErrNoDurableAPI
	}
	if page.Limit <= 0 {
		page.Limit = e.page
	}
	msgs, err := e.api.ListMessages(ctx, convID, page)
	if err != nil {
		return 0, fmt.Errorf("list messages: %w", err)
	}

	e.mu.Lock()
	added := e.store.MergeHistory(convID, msgs)
	if added > 0 {
		for _, m := range msgs {
			if cur, ok := e.store.Message(m.ID); ok {
				e.saveMessageLocked(cur)
			}
		}
		e.saveConversationLocked(convID)
	}
	e.mu.Unlock()

	if added > 0 {
		e.changed(convID)
	}
	return added, nil
}

// MarkRead clears the unread count of convID and marks everything in it as
// read, locally and on the server.
func (e *Engine) MarkRead(ctx context.Context, convID string) error {
	e.mu.Lock()
	if _, ok := e.store.Conversation(convID); !ok {
		e.mu.Unlock()
		return ErrUnknownConversation
	}
	upTo := ""
	msgs := e.store.Messages(convID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].SenderID != e.ident.UserID && msgs[i].Confirmed() {
			upTo = msgs[i].ID
			break
		}
	}
	changed := e.store.MarkRead(convID, upTo)
	if changed {
		for _, m := range e.store.Messages(convID) {
			if m.SenderID != e.ident.UserID {
				e.saveMessageLocked(m)
			}
		}
		e.saveConversationLocked(convID)
	}
	e.mu.Unlock()

	if changed {
		e.changed(convID)
	}
	if e.api == nil || upTo == "" {
		return nil
	}
	if err := e.api.MarkConversationRead(ctx, convID, upTo); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// CreateConversation creates a conversation through the durable API.
func (e *Engine) CreateConversation(ctx context.Context, req backend.NewConversation) (chat.Conversation, error) {
	if e.api == nil {
		return chat.Conversation{}, ErrNoDurableAPI
	}
	c, err := e.api.CreateConversation(ctx, req)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	e.mu.Lock()
	e.store.UpsertConversation(c, nil)
	e.saveConversationLocked(c.ID)
	c, _ = e.store.Conversation(c.ID)
	e.mu.Unlock()

	e.changed(c.ID)
	return c, nil
}

// LeaveConversation leaves convID on the server, then drops it locally.
func (e *Engine) LeaveConversation(ctx context.Context, convID string) error {
	e.mu.Lock()
	_, ok := e.store.Conversation(convID)
	e.mu.Unlock()
	if !ok {
		return ErrUnknownConversation
	}
	if e.api != nil {
		if err := e.api.LeaveConversation(ctx, convID); err != nil {
			return fmt.Errorf("leave conversation: %w", err)
		}
	}

	e.mu.Lock()
	e.store.Remove(convID)
	delete(e.localTyping, convID)
	delete(e.submitting, convID)
	if e.cache != nil {
		if err := e.cache.DeleteConversation(convID); err != nil {
			e.logger.Error("cache delete conversation", zap.String("conversation_id", convID), zap.Error(err))
		}
	}
	e.mu.Unlock()

	e.typing.ClearConversation(convID)
	e.changed(convID)
	return nil
}

// SetActiveConversation selects the conversation the user is looking at
// and marks it read. An empty id clears the selection.
func (e *Engine) SetActiveConversation(ctx context.Context, convID string) error {
	e.mu.Lock()
	prev := e.store.Active()
	if err := e.store.SetActive(convID); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	if prev != "" && prev != convID {
		e.stopTyping(ctx, prev)
	}
	e.changed(convID)
	if convID == "" {
		return nil
	}
	if err := e.MarkRead(ctx, convID); err != nil {
		e.logger.Warn("mark read on select failed", zap.String("conversation_id", convID), zap.Error(err))
	}
	return nil
}

// SetTyping tells the server whether the user is composing in convID.
// Repeated starts refresh the signal on the server; a stop is only sent
// after a start.
func (e *Engine) SetTyping(ctx context.Context, convID string, isTyping bool) error {
	if err := e.live(); err != nil {
		return err
	}
	e.mu.Lock()
	if _, ok := e.store.Conversation(convID); !ok {
		e.mu.Unlock()
		return ErrUnknownConversation
	}
	was := e.localTyping[convID]
	if !isTyping && !was {
		e.mu.Unlock()
		return nil
	}
	if isTyping {
		e.localTyping[convID] = true
	} else {
		delete(e.localTyping, convID)
	}
	e.mu.Unlock()

	e.sendTyping(ctx, convID, isTyping)
	return nil
}

func (e *Engine) stopTyping(ctx context.Context, convID string) {
	e.mu.Lock()
	was := e.localTyping[convID]
	delete(e.localTyping, convID)
	e.mu.Unlock()
	if was {
		e.sendTyping(ctx, convID, false)
	}
}

func (e *Engine) sendTyping(ctx context.Context, convID string, isTyping bool) {
	now := time.Now()
	e.conn.Send(ctx, wire.Typing{
		Header: wire.Header{
			ID:             fmt.Sprintf("typing-%s-%d", e.ident.UserID, now.UnixNano()),
			ConversationID: convID,
			SenderID:       e.ident.UserID,
			Timestamp:      now,
		},
		IsTyping: isTyping,
	})
}

// View returns a snapshot for rendering.
func (e *Engine) View() ViewState {
	st := e.status.Current()
	v := ViewState{
		State:   st,
		Online:  st.Online(),
		Attempt: e.conn.Attempt(),
		Pending: e.conn.Pending(),
	}
	e.mu.Lock()
	v.ActiveConversationID = e.store.Active()
	v.Conversations = e.store.Conversations()
	if v.ActiveConversationID != "" {
		v.Messages = e.store.Messages(v.ActiveConversationID)
	}
	e.mu.Unlock()
	if v.ActiveConversationID != "" {
		v.Typing = e.TypingNames(v.ActiveConversationID)
	}
	return v
}

// Conversations returns every conversation, most recent first.
func (e *Engine) Conversations() []chat.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Conversations()
}

// Messages returns the loaded messages of convID.
func (e *Engine) Messages(convID string) []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Messages(convID)
}

// Message returns one message by id.
func (e *Engine) Message(id string) (chat.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Message(id)
}

// MessageHistory returns every body message id has had, oldest first. The
// last entry is the current body.
func (e *Engine) MessageHistory(id string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.store.Message(id)
	if !ok {
		return nil, ErrUnknownMessage
	}
	out := make([]string, 0, len(m.Edits)+1)
	for n := range len(m.Edits) + 1 {
		body, ok := e.store.Revision(id, n)
		if !ok {
			return nil, fmt.Errorf("rebuild revision %d of %s", n, id)
		}
		out = append(out, body)
	}
	return out, nil
}

// TypingNames returns the display names of users typing in convID.
func (e *Engine) TypingNames(convID string) []string {
	users := e.typing.Users(convID)
	if len(users) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, len(users))
	for i, u := range users {
		names[i] = e.store.DisplayName(convID, u)
	}
	return names
}

func (e *Engine) live() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.closed:
		return ErrClosed
	case e.ident.Token == "" || e.ident.UserID == "":
		return ErrUnauthenticated
	}
	return nil
}

// changed announces that what clients render may have changed. convID is
// empty for changes that are not specific to one conversation.
func (e *Engine) changed(convID string) {
	e.bus.Publish(bus.Event{Kind: bus.ViewChanged, Payload: convID})
}
