package relay

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/matheus3301/huddle/internal/chat"
)

var (
	errNotFound  = errors.New("not found")
	errForbidden = errors.New("not a participant")
	errNotOwner  = errors.New("message belongs to another user")
	errInvalid   = errors.New("invalid request")
)

const defaultPage = 50

type thread struct {
	conv     chat.Conversation
	messages []*chat.Message
	unread   map[string]int
}

func (t *thread) member(userID string) bool {
	_, ok := t.conv.Participant(userID)
	return ok
}

func (t *thread) memberIDs() []string {
	ids := make([]string, len(t.conv.Participants))
	for i, p := range t.conv.Participants {
		ids[i] = p.ID
	}
	return ids
}

// state is the relay's in-memory world. Callers hold Relay.mu.
type state struct {
	users    map[string]string
	threads  map[string]*thread
	messages map[string]*chat.Message
	// byClient maps sender + client id to the server id, so a message
	// submitted over both the socket and REST is created once.
	byClient map[string]string
	now      func() time.Time
}

func newState(users map[string]string) *state {
	s := &state{
		users:    make(map[string]string),
		threads:  make(map[string]*thread),
		messages: make(map[string]*chat.Message),
		byClient: make(map[string]string),
		now:      time.Now,
	}
	for id, name := range users {
		s.users[id] = name
	}
	return s
}

func (s *state) user(id string) chat.User {
	name, ok := s.users[id]
	if !ok || name == "" {
		name = id
	}
	return chat.User{ID: id, DisplayName: name}
}

func (s *state) touchUser(id string) {
	if _, ok := s.users[id]; !ok {
		s.users[id] = id
	}
}

func (s *state) createConversation(owner string, req createConversationRequest) (*thread, error) {
	members := []string{owner}
	for _, id := range req.ParticipantIDs {
		if id != "" && !slices.Contains(members, id) {
			members = append(members, id)
		}
	}
	if len(members) < 2 {
		return nil, errInvalid
	}
	kind := req.Kind
	if kind == "" {
		kind = chat.KindGroup
		if len(members) == 2 {
			kind = chat.KindDirect
		}
	}

	now := s.now()
	t := &thread{
		conv: chat.Conversation{
			ID:        uuid.NewString(),
			Kind:      kind,
			Title:     req.Title,
			CreatedAt: now,
			UpdatedAt: now,
		},
		unread: make(map[string]int),
	}
	for _, id := range members {
		role := chat.RoleMember
		if id == owner {
			role = chat.RoleOwner
		}
		t.conv.Participants = append(t.conv.Participants, chat.Participant{User: s.user(id), Role: role, JoinedAt: now})
	}
	s.threads[t.conv.ID] = t
	return t, nil
}

func (s *state) thread(userID, convID string) (*thread, error) {
	t, ok := s.threads[convID]
	if !ok {
		return nil, errNotFound
	}
	if !t.member(userID) {
		return nil, errForbidden
	}
	return t, nil
}

func (s *state) conversations(userID string) []chat.Conversation {
	var out []chat.Conversation
	for _, t := range s.threads {
		if t.member(userID) {
			out = append(out, s.view(t, userID))
		}
	}
	slices.SortFunc(out, func(a, b chat.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out
}

func (s *state) view(t *thread, userID string) chat.Conversation {
	c := t.conv
	c.Participants = slices.Clone(c.Participants)
	c.UnreadCount = t.unread[userID]
	return c
}

// createMessage stores a message unless sender already created one with
// clientID. created is false for such a duplicate.
func (s *state) createMessage(sender, convID, clientID, content string, attachments []chat.Attachment) (m *chat.Message, created bool, err error) {
	t, err := s.thread(sender, convID)
	if err != nil {
		return nil, false, err
	}
	if clientID != "" {
		if id, ok := s.byClient[sender+"/"+clientID]; ok {
			return s.messages[id], false, nil
		}
	}
	if content == "" && len(attachments) == 0 {
		return nil, false, errInvalid
	}

	now := s.now()
	m = &chat.Message{
		ID:             uuid.NewString(),
		ClientID:       clientID,
		ConversationID: convID,
		SenderID:       sender,
		Body:           content,
		Attachments:    attachments,
		CreatedAt:      now,
		Status:         chat.StatusSent,
	}
	t.messages = append(t.messages, m)
	s.messages[m.ID] = m
	if clientID != "" {
		s.byClient[sender+"/"+clientID] = m.ID
	}
	t.conv.LastMessage = &chat.MessageRef{ID: m.ID, SenderID: sender, Body: content, CreatedAt: now}
	t.conv.UpdatedAt = now
	for _, id := range t.memberIDs() {
		if id != sender {
			t.unread[id]++
		}
	}
	return m, true, nil
}

func (s *state) ownMessage(userID, id string) (*chat.Message, error) {
	m, ok := s.messages[id]
	if !ok || m.Deleted {
		return nil, errNotFound
	}
	if m.SenderID != userID {
		return nil, errNotOwner
	}
	return m, nil
}

func (s *state) editMessage(userID, id, content string) (*chat.Message, error) {
	if content == "" {
		return nil, errInvalid
	}
	m, err := s.ownMessage(userID, id)
	if err != nil {
		return nil, err
	}
	m.Body = content
	m.Edited = true
	m.EditedAt = s.now()
	if t := s.threads[m.ConversationID]; t != nil && t.conv.LastMessage != nil && t.conv.LastMessage.ID == id {
		t.conv.LastMessage.Body = content
	}
	return m, nil
}

func (s *state) deleteMessage(userID, id string) (*chat.Message, error) {
	m, err := s.ownMessage(userID, id)
	if err != nil {
		return nil, err
	}
	m.Deleted = true
	m.Body = ""
	m.Attachments = nil
	if t := s.threads[m.ConversationID]; t != nil && t.conv.LastMessage != nil && t.conv.LastMessage.ID == id {
		t.conv.LastMessage.Deleted = true
		t.conv.LastMessage.Body = ""
	}
	return m, nil
}

// advance moves a message forward to status on behalf of a recipient.
func (s *state) advance(userID, id string, status chat.Status) (*chat.Message, bool) {
	m, ok := s.messages[id]
	if !ok || m.SenderID == userID || !status.Valid() {
		return nil, false
	}
	t := s.threads[m.ConversationID]
	if t == nil || !t.member(userID) {
		return nil, false
	}
	if statusRank(status) <= statusRank(m.Status) {
		return nil, false
	}
	m.Status = status
	return m, true
}

// markRead marks every message from others up to upToID as read for
// userID. An empty upToID means the whole conversation.
func (s *state) markRead(userID, convID, upToID string) ([]*chat.Message, error) {
	t, err := s.thread(userID, convID)
	if err != nil {
		return nil, err
	}
	end := len(t.messages)
	if upToID != "" {
		i := slices.IndexFunc(t.messages, func(m *chat.Message) bool { return m.ID == upToID })
		if i < 0 {
			return nil, errNotFound
		}
		end = i + 1
	}
	var changed []*chat.Message
	for _, m := range t.messages[:end] {
		if m.SenderID != userID && m.Status != chat.StatusRead {
			m.Status = chat.StatusRead
			changed = append(changed, m)
		}
	}
	t.unread[userID] = 0
	return changed, nil
}

func (s *state) history(userID, convID, before string, limit int) ([]chat.Message, error) {
	t, err := s.thread(userID, convID)
	if err != nil {
		return nil, err
	}
	msgs := t.messages
	if before != "" {
		i := slices.IndexFunc(msgs, func(m *chat.Message) bool { return m.ID == before })
		if i < 0 {
			return nil, errNotFound
		}
		msgs = msgs[:i]
	}
	if limit <= 0 {
		limit = defaultPage
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		out[i] = *m
	}
	return out, nil
}

func (s *state) leave(userID, convID string) (remaining []string, err error) {
	t, err := s.thread(userID, convID)
	if err != nil {
		return nil, err
	}
	t.conv.Participants = slices.DeleteFunc(t.conv.Participants, func(p chat.Participant) bool { return p.ID == userID })
	delete(t.unread, userID)
	if len(t.conv.Participants) == 0 {
		for _, m := range t.messages {
			delete(s.messages, m.ID)
		}
		delete(s.threads, convID)
		return nil, nil
	}
	return t.memberIDs(), nil
}

// peers returns every user sharing a conversation with userID.
func (s *state) peers(userID string) []string {
	var out []string
	for _, t := range s.threads {
		if !t.member(userID) {
			continue
		}
		for _, id := range t.memberIDs() {
			if id != userID && !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	return out
}

func statusRank(s chat.Status) int {
	switch s {
	case chat.StatusSent:
		return 1
	case chat.StatusDelivered:
		return 2
	case chat.StatusRead:
		return 3
	}
	return 0
}
