package model

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/chat"
)

// ErrNoConversation is returned by actions that need an open conversation.
var ErrNoConversation = errors.New("no conversation open")

// ErrNothingToRetry is returned by Retry when the open conversation has no
// failed message.
var ErrNothingToRetry = errors.New("no failed message to retry")

// ErrNoOwnMessage is returned when an edit or delete has no target.
var ErrNoOwnMessage = errors.New("no message of yours to change")

// WatchKinds are the daemon events that invalidate the view.
var WatchKinds = []string{"view.", "session.", "message.failed"}

// TypingRefresh is how often a continuing composition re-announces itself.
const TypingRefresh = 2 * time.Second

// Daemon is the part of *api.Client the view model drives.
type Daemon interface {
	GetStatus(ctx context.Context) (*api.StatusResponse, error)
	GetView(ctx context.Context) (*api.ViewResponse, error)
	ListMessages(ctx context.Context, req *api.ListMessagesRequest) (*api.ListMessagesResponse, error)
	SendMessage(ctx context.Context, req *api.SendMessageRequest) (*api.MessageResponse, error)
	RetryMessage(ctx context.Context, id string) (*api.MessageResponse, error)
	EditMessage(ctx context.Context, id, body string) (*api.MessageResponse, error)
	DeleteMessage(ctx context.Context, id string) error
	MarkRead(ctx context.Context, convID string) error
	CreateConversation(ctx context.Context, req *api.CreateConversationRequest) (*api.ConversationResponse, error)
	LeaveConversation(ctx context.Context, convID string) error
	SetActiveConversation(ctx context.Context, convID string) error
	SetTyping(ctx context.Context, convID string, typing bool) error
	Reconnect(ctx context.Context) error
}

// Stream yields daemon events. *api.Watcher satisfies it.
type Stream interface {
	Recv() (*api.WatchEvent, error)
}

// ViewModel caches the daemon's view and forwards user actions to it.
type ViewModel struct {
	mu sync.RWMutex

	daemon Daemon
	status *api.StatusResponse
	view   *api.ViewResponse

	typing       bool
	typingSentAt time.Time
}

// NewViewModel creates a new view model connected to the daemon client.
func NewViewModel(d Daemon) *ViewModel {
	return &ViewModel{
		daemon: d,
		view:   &api.ViewResponse{},
	}
}

// Refresh reloads status and view from the daemon.
func (vm *ViewModel) Refresh(ctx context.Context) error {
	st, err := vm.daemon.GetStatus(ctx)
	if err != nil {
		return err
	}
	view, err := vm.daemon.GetView(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = st
	vm.view = view
	vm.mu.Unlock()
	return nil
}

// Open makes convID the active conversation and pulls its latest page from
// the server when the daemon has a durable API.
func (vm *ViewModel) Open(ctx context.Context, convID string) error {
	if err := vm.daemon.SetActiveConversation(ctx, convID); err != nil {
		return err
	}
	if _, err := vm.daemon.ListMessages(ctx, &api.ListMessagesRequest{ConversationID: convID, Fetch: true}); err != nil && !offlineOnly(err) {
		return err
	}
	return vm.Refresh(ctx)
}

// CloseConversation clears the active conversation.
func (vm *ViewModel) CloseConversation(ctx context.Context) error {
	vm.StopTyping(ctx)
	if err := vm.daemon.SetActiveConversation(ctx, ""); err != nil {
		return err
	}
	return vm.Refresh(ctx)
}

// LoadOlder fetches the page before the oldest loaded message and returns
// how many messages arrived.
func (vm *ViewModel) LoadOlder(ctx context.Context) (int, error) {
	convID := vm.Active()
	if convID == "" {
		return 0, ErrNoConversation
	}
	req := &api.ListMessagesRequest{ConversationID: convID, Fetch: true}
	if msgs := vm.Messages(); len(msgs) > 0 {
		req.Before = msgs[0].ID
	}
	resp, err := vm.daemon.ListMessages(ctx, req)
	if err != nil {
		return 0, err
	}
	return resp.Fetched, vm.Refresh(ctx)
}

// Send sends text to the active conversation.
func (vm *ViewModel) Send(ctx context.Context, text string) (chat.Message, error) {
	convID := vm.Active()
	if convID == "" {
		return chat.Message{}, ErrNoConversation
	}
	vm.mu.Lock()
	vm.typing = false
	vm.mu.Unlock()
	resp, err := vm.daemon.SendMessage(ctx, &api.SendMessageRequest{ConversationID: convID, Body: text})
	if err != nil {
		return chat.Message{}, err
	}
	return resp.Message, vm.Refresh(ctx)
}

// Retry resends message id, or the newest failed message of the active
// conversation when id is empty.
func (vm *ViewModel) Retry(ctx context.Context, id string) (chat.Message, error) {
	if id == "" {
		m, ok := vm.lastMessage(func(m chat.Message) bool { return m.Status == chat.StatusFailed })
		if !ok {
			return chat.Message{}, ErrNothingToRetry
		}
		id = m.ID
	}
	resp, err := vm.daemon.RetryMessage(ctx, id)
	if err != nil {
		return chat.Message{}, err
	}
	return resp.Message, vm.Refresh(ctx)
}

// Edit replaces the body of message id, or of the user's newest message in
// the active conversation when id is empty.
func (vm *ViewModel) Edit(ctx context.Context, id, text string) error {
	if id == "" {
		m, ok := vm.lastOwn()
		if !ok {
			return ErrNoOwnMessage
		}
		id = m.ID
	}
	if _, err := vm.daemon.EditMessage(ctx, id, text); err != nil {
		return err
	}
	return vm.Refresh(ctx)
}

// Delete removes message id, or the user's newest message in the active
// conversation when id is empty.
func (vm *ViewModel) Delete(ctx context.Context, id string) error {
	if id == "" {
		m, ok := vm.lastOwn()
		if !ok {
			return ErrNoOwnMessage
		}
		id = m.ID
	}
	if err := vm.daemon.DeleteMessage(ctx, id); err != nil {
		return err
	}
	return vm.Refresh(ctx)
}

// MarkRead marks the active conversation read.
func (vm *ViewModel) MarkRead(ctx context.Context) error {
	convID := vm.Active()
	if convID == "" {
		return ErrNoConversation
	}
	if err := vm.daemon.MarkRead(ctx, convID); err != nil {
		return err
	}
	return vm.Refresh(ctx)
}

// Create creates a conversation and opens it.
func (vm *ViewModel) Create(ctx context.Context, kind chat.Kind, title string, participantIDs []string) (chat.Conversation, error) {
	resp, err := vm.daemon.CreateConversation(ctx, &api.CreateConversationRequest{
		Kind:           kind,
		Title:          title,
		ParticipantIDs: participantIDs,
	})
	if err != nil {
		return chat.Conversation{}, err
	}
	return resp.Conversation, vm.Open(ctx, resp.Conversation.ID)
}

// Leave leaves the active conversation.
func (vm *ViewModel) Leave(ctx context.Context) error {
	convID := vm.Active()
	if convID == "" {
		return ErrNoConversation
	}
	if err := vm.daemon.LeaveConversation(ctx, convID); err != nil {
		return err
	}
	return vm.Refresh(ctx)
}

// Typing reports composer activity. A start is forwarded on the transition
// and then at most once per TypingRefresh; a stop only after a start.
func (vm *ViewModel) Typing(ctx context.Context, composing bool) error {
	convID := vm.Active()
	if convID == "" {
		return nil
	}
	now := time.Now()
	vm.mu.Lock()
	was := vm.typing
	vm.typing = composing
	send := was != composing || (composing && now.Sub(vm.typingSentAt) >= TypingRefresh)
	if send && composing {
		vm.typingSentAt = now
	}
	vm.mu.Unlock()
	if !send {
		return nil
	}
	return vm.daemon.SetTyping(ctx, convID, composing)
}

// StopTyping ends a composing signal if one is active.
func (vm *ViewModel) StopTyping(ctx context.Context) {
	_ = vm.Typing(ctx, false)
}

// Reconnect asks the daemon to dial again after it gave up.
func (vm *ViewModel) Reconnect(ctx context.Context) error {
	if err := vm.daemon.Reconnect(ctx); err != nil {
		return err
	}
	return vm.Refresh(ctx)
}

// Watch keeps the view current until ctx is done. Each event triggers a
// refresh and then onEvent. A broken stream is reopened after retryDelay.
func (vm *ViewModel) Watch(ctx context.Context, open func(context.Context) (Stream, error), retryDelay time.Duration, onEvent func(*api.WatchEvent)) {
	for ctx.Err() == nil {
		stream, err := open(ctx)
		if err == nil {
			err = vm.drain(ctx, stream, onEvent)
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

func (vm *ViewModel) drain(ctx context.Context, stream Stream, onEvent func(*api.WatchEvent)) error {
	for {
		evt, err := stream.Recv()
		if err != nil {
			return err
		}
		if err := vm.Refresh(ctx); err != nil {
			return err
		}
		if onEvent != nil {
			onEvent(evt)
		}
	}
}

// Status returns the last daemon status, or nil before the first refresh.
func (vm *ViewModel) Status() *api.StatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Conversations returns the conversation list, most recent first.
func (vm *ViewModel) Conversations() []chat.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.view.Conversations
}

// Active returns the id of the open conversation.
func (vm *ViewModel) Active() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.view.ActiveConversationID
}

// ActiveConversation returns the open conversation.
func (vm *ViewModel) ActiveConversation() (chat.Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	i := slices.IndexFunc(vm.view.Conversations, func(c chat.Conversation) bool {
		return c.ID == vm.view.ActiveConversationID
	})
	if i < 0 {
		return chat.Conversation{}, false
	}
	return vm.view.Conversations[i], true
}

// Messages returns the open conversation's messages, oldest first.
func (vm *ViewModel) Messages() []chat.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.view.Messages
}

// TypingNames returns who is typing in the open conversation.
func (vm *ViewModel) TypingNames() []string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.view.Typing
}

// UserID returns the local user's id.
func (vm *ViewModel) UserID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status == nil {
		return ""
	}
	return vm.status.UserID
}

func (vm *ViewModel) lastOwn() (chat.Message, bool) {
	me := vm.UserID()
	return vm.lastMessage(func(m chat.Message) bool {
		return m.SenderID == me && !m.Deleted && m.Confirmed()
	})
}

func (vm *ViewModel) lastMessage(match func(chat.Message) bool) (chat.Message, bool) {
	msgs := vm.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if match(msgs[i]) {
			return msgs[i], true
		}
	}
	return chat.Message{}, false
}

// offlineOnly reports an error meaning the daemon has no server to fetch from.
func offlineOnly(err error) bool {
	switch grpcstatus.Code(err) {
	case codes.Unimplemented, codes.Unavailable:
		return true
	}
	return false
}

// HasMessage reports whether id is a message of the open conversation.
func (vm *ViewModel) HasMessage(id string) bool {
	_, ok := vm.lastMessage(func(m chat.Message) bool { return m.ID == id || m.ClientID == id })
	return ok
}

// FindConversation returns the first conversation whose id equals query or
// whose title contains it, case-insensitively.
func (vm *ViewModel) FindConversation(query string, title func(chat.Conversation) string) (chat.Conversation, bool) {
	convs := vm.Conversations()
	for _, c := range convs {
		if c.ID == query {
			return c, true
		}
	}
	q := strings.ToLower(query)
	for _, c := range convs {
		if strings.Contains(strings.ToLower(title(c)), q) {
			return c, true
		}
	}
	return chat.Conversation{}, false
}
