// Package relay is an in-memory messaging server for development and tests.
// It speaks the same REST and websocket contract the sync engine expects:
// server-assigned ids, clientId echo, typing and presence fan-out, delivery
// and read status updates. Nothing is persisted.
package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/wire"
)

// Options configures a Relay.
type Options struct {
	// Users maps known user ids to display names. Any other bearer token is
	// accepted as a new user whose name is its id.
	Users        map[string]string
	AllowOrigins []string
	PingInterval time.Duration
	Logger       *zap.Logger
}

// Relay owns the state and the live connections.
type Relay struct {
	mu       sync.Mutex
	state    *state
	hub      *hub
	upgrader websocket.Upgrader
	opts     Options
	logger   *zap.Logger
}

// New creates an empty relay.
func New(opts Options) *Relay {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Relay{
		state: newState(opts.Users),
		hub:   newHub(opts.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		opts:   opts,
		logger: opts.Logger,
	}
}

// Close drops every connection.
func (r *Relay) Close() {
	r.hub.closeAll()
}

// CreateConversation creates a conversation owned by owner. It is what the
// POST /api/conversations route calls, exposed for seeding.
func (r *Relay) CreateConversation(owner string, kind chat.Kind, title string, participantIDs ...string) (chat.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.touchUser(owner)
	t, err := r.state.createConversation(owner, createConversationRequest{Kind: kind, Title: title, ParticipantIDs: participantIDs})
	if err != nil {
		return chat.Conversation{}, err
	}
	return r.conversationView(t, owner), nil
}

func (r *Relay) conversationView(t *thread, userID string) chat.Conversation {
	c := r.state.view(t, userID)
	for i := range c.Participants {
		c.Participants[i].Online = r.hub.online(c.Participants[i].ID)
	}
	return c
}

func (r *Relay) conversations(userID string) []chat.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	convs := r.state.conversations(userID)
	for ci := range convs {
		for pi := range convs[ci].Participants {
			convs[ci].Participants[pi].Online = r.hub.online(convs[ci].Participants[pi].ID)
		}
	}
	return convs
}

// postMessage creates a message and announces it. A message some
// recipient is connected for is delivered right away.
func (r *Relay) postMessage(sender, convID, clientID, content string, attachments []chat.Attachment) (chat.Message, error) {
	r.mu.Lock()
	m, created, err := r.state.createMessage(sender, convID, clientID, content, attachments)
	if err != nil {
		r.mu.Unlock()
		return chat.Message{}, err
	}
	if !created {
		out := *m
		r.mu.Unlock()
		return out, nil
	}
	members := r.state.threads[convID].memberIDs()
	delivered := false
	for _, id := range members {
		if id != sender && r.hub.online(id) {
			delivered = true
			break
		}
	}
	if delivered {
		m.Status = chat.StatusDelivered
	}
	out := *m
	r.mu.Unlock()

	r.broadcast(wire.MessageCreate{
		Header:      wire.Header{ID: out.ID, ConversationID: convID, SenderID: sender, Timestamp: out.CreatedAt},
		ClientID:    clientID,
		Content:     out.Body,
		Attachments: out.Attachments,
	}, members...)
	if delivered {
		r.broadcast(statusFrame(out), members...)
	}
	return out, nil
}

func (r *Relay) editMessage(userID, id, content string) (chat.Message, error) {
	r.mu.Lock()
	m, err := r.state.editMessage(userID, id, content)
	if err != nil {
		r.mu.Unlock()
		return chat.Message{}, err
	}
	out := *m
	members := r.state.threads[out.ConversationID].memberIDs()
	r.mu.Unlock()

	r.broadcast(wire.MessageUpdate{
		Header:  wire.Header{ID: out.ID, ConversationID: out.ConversationID, SenderID: userID, Timestamp: out.EditedAt},
		Content: &content,
	}, members...)
	return out, nil
}

func (r *Relay) deleteMessage(userID, id string) error {
	r.mu.Lock()
	m, err := r.state.deleteMessage(userID, id)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	convID := m.ConversationID
	members := r.state.threads[convID].memberIDs()
	r.mu.Unlock()

	r.broadcast(wire.MessageDelete{
		Header: wire.Header{ID: id, ConversationID: convID, SenderID: userID, Timestamp: time.Now()},
	}, members...)
	return nil
}

func (r *Relay) advance(userID, id string, status chat.Status) {
	r.mu.Lock()
	m, ok := r.state.advance(userID, id, status)
	if !ok {
		r.mu.Unlock()
		return
	}
	out := *m
	members := r.state.threads[out.ConversationID].memberIDs()
	r.mu.Unlock()

	r.broadcast(statusFrame(out), members...)
}

func (r *Relay) markRead(userID, convID, upToID string) error {
	r.mu.Lock()
	changed, err := r.state.markRead(userID, convID, upToID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	frames := make([]wire.Event, len(changed))
	for i, m := range changed {
		frames[i] = statusFrame(*m)
	}
	members := r.state.threads[convID].memberIDs()
	r.mu.Unlock()

	for _, f := range frames {
		r.broadcast(f, members...)
	}
	return nil
}

func (r *Relay) history(userID, convID, before string, limit int) ([]chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.history(userID, convID, before, limit)
}

func (r *Relay) leave(userID, convID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.state.leave(userID, convID)
	return err
}

func (r *Relay) createConversation(owner string, req createConversationRequest) (chat.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range req.ParticipantIDs {
		r.state.touchUser(id)
	}
	t, err := r.state.createConversation(owner, req)
	if err != nil {
		return chat.Conversation{}, err
	}
	return r.conversationView(t, owner), nil
}

// typing forwards a typing signal to the other members of the conversation.
func (r *Relay) typing(userID string, in wire.Typing) {
	r.mu.Lock()
	t, err := r.state.thread(userID, in.ConversationID)
	if err != nil {
		r.mu.Unlock()
		return
	}
	var others []string
	for _, id := range t.memberIDs() {
		if id != userID {
			others = append(others, id)
		}
	}
	r.mu.Unlock()

	in.SenderID = userID
	in.Timestamp = time.Now()
	r.broadcast(in, others...)
}

// presence tells everyone sharing a conversation with userID about status.
func (r *Relay) presence(userID, status string) {
	r.mu.Lock()
	peers := r.state.peers(userID)
	r.mu.Unlock()
	if len(peers) == 0 {
		return
	}
	now := time.Now()
	r.broadcast(wire.Presence{
		Header: wire.Header{ID: "presence-" + userID + "-" + now.Format(time.RFC3339Nano), SenderID: userID, Timestamp: now},
		Status: status,
	}, peers...)
}

func (r *Relay) broadcast(evt wire.Event, userIDs ...string) {
	frame, err := wire.Encode(evt)
	if err != nil {
		r.logger.Error("encode frame", zap.String("type", string(evt.Type())), zap.Error(err))
		return
	}
	r.hub.deliver(frame, userIDs...)
}

func statusFrame(m chat.Message) wire.MessageUpdate {
	return wire.MessageUpdate{
		Header: wire.Header{ID: m.ID, ConversationID: m.ConversationID, SenderID: m.SenderID, Timestamp: time.Now()},
		Status: string(m.Status),
	}
}

// handleFrame applies one frame a client sent over its socket.
func (r *Relay) handleFrame(c *client, data []byte) {
	evt, err := wire.Decode(data)
	if err != nil {
		r.logger.Warn("dropping frame", zap.String("user_id", c.userID), zap.Error(err))
		return
	}
	switch in := evt.(type) {
	case wire.MessageCreate:
		clientID := in.ClientID
		if clientID == "" {
			clientID = in.ID
		}
		if _, err := r.postMessage(c.userID, in.ConversationID, clientID, in.Content, in.Attachments); err != nil {
			r.logger.Warn("socket create rejected", zap.String("user_id", c.userID), zap.Error(err))
		}
	case wire.MessageUpdate:
		if in.Content != nil {
			if _, err := r.editMessage(c.userID, in.ID, *in.Content); err != nil {
				r.logger.Warn("socket edit rejected", zap.String("user_id", c.userID), zap.Error(err))
			}
		}
		if in.Status != "" {
			r.advance(c.userID, in.ID, chat.Status(in.Status))
		}
	case wire.MessageDelete:
		if err := r.deleteMessage(c.userID, in.ID); err != nil {
			r.logger.Warn("socket delete rejected", zap.String("user_id", c.userID), zap.Error(err))
		}
	case wire.Typing:
		r.typing(c.userID, in)
	case wire.Presence:
		r.presence(c.userID, in.Status)
	case wire.Ping:
		frame, err := wire.Encode(wire.Ping{Header: wire.Header{ID: in.ID, Timestamp: time.Now()}})
		if err == nil {
			r.hub.reply(c, frame)
		}
	}
}

// serveSocket upgrades the request and runs the connection until it closes.
func (r *Relay) serveSocket(w http.ResponseWriter, req *http.Request, userID string) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	r.mu.Lock()
	r.state.touchUser(userID)
	r.mu.Unlock()

	c := &client{userID: userID, conn: conn, send: make(chan []byte, sendBufferSize)}
	first := r.hub.register(c)
	r.logger.Info("client connected", zap.String("user_id", userID))
	if first {
		r.presence(userID, "online")
	}

	go c.writePump(r.opts.PingInterval)
	if err := c.readPump(func(data []byte) { r.handleFrame(c, data) }); err != nil {
		r.logger.Warn("client read failed", zap.String("user_id", userID), zap.Error(err))
	}

	if r.hub.unregister(c) {
		r.presence(userID, "offline")
	}
	r.logger.Info("client disconnected", zap.String("user_id", userID))
}
