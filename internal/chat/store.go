package chat

import (
	"cmp"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ErrUnknownConversation is returned for operations on a conversation the
// store has never seen.
var ErrUnknownConversation = errors.New("unknown conversation")

// dedupeWindow bounds how far apart an unconfirmed local message and a
// server message may be to be treated as the same message.
const dedupeWindow = 30 * time.Second

type thread struct {
	conv     Conversation
	messages []*Message
}

// Store is the in-memory conversation and message state for one user.
type Store struct {
	self    string
	threads map[string]*thread
	byID    map[string]*Message
	active  string
	now     func() time.Time
	dmp     *diffmatchpatch.DiffMatchPatch
}

// NewStore creates an empty store for the user selfID.
func NewStore(selfID string) *Store {
	return &Store{
		self:    selfID,
		threads: make(map[string]*thread),
		byID:    make(map[string]*Message),
		now:     time.Now,
		dmp:     diffmatchpatch.New(),
	}
}

// Self returns the id of the local user.
func (s *Store) Self() string { return s.self }

// UpsertConversation inserts c or replaces the stored conversation with the
// same id. Loaded messages are kept. A nil unread keeps the local count, and
// a nil LastMessage keeps the local one.
func (s *Store) UpsertConversation(c Conversation, unread *int) {
	c = c.clone()
	t, ok := s.threads[c.ID]
	if !ok {
		if unread != nil {
			c.UnreadCount = *unread
		}
		t = &thread{}
		s.threads[c.ID] = t
	} else {
		c.UnreadCount = t.conv.UnreadCount
		if unread != nil {
			c.UnreadCount = *unread
		}
		if c.LastMessage == nil {
			c.LastMessage = t.conv.LastMessage
		}
		if c.UpdatedAt.Before(t.conv.UpdatedAt) {
			c.UpdatedAt = t.conv.UpdatedAt
		}
	}
	if c.UnreadCount < 0 || c.ID == s.active {
		c.UnreadCount = 0
	}
	if c.Kind == "" {
		c.Kind = KindDirect
	}
	t.conv = c
}

// InsertOptimistic appends a pending message built from d, identified by a
// fresh client id.
func (s *Store) InsertOptimistic(convID string, d Draft) (Message, error) {
	t, ok := s.threads[convID]
	if !ok {
		return Message{}, ErrUnknownConversation
	}
	id := uuid.NewString()
	m := &Message{
		ID:             id,
		ClientID:       id,
		ConversationID: convID,
		SenderID:       cmp.Or(d.SenderID, s.self),
		Body:           d.Body,
		Attachments:    slices.Clone(d.Attachments),
		CreatedAt:      d.CreatedAt,
		Status:         StatusPending,
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.append(t, m)
	return m.clone(), nil
}

// Confirm reconciles the local message clientID with its server copy. The
// local entry keeps its list position and takes the server id, so the
// message is never held under two ids. If the server id is already present
// the two entries are merged. When no local entry matches, a recent
// unconfirmed message with the same sender and body is matched instead;
// failing that the server message is appended, and appended is true.
func (s *Store) Confirm(clientID string, server Message) (msg Message, appended bool) {
	local := s.unconfirmed(clientID)
	if local == nil {
		if existing, ok := s.byID[server.ID]; ok {
			existing.Status = advance(existing.Status, cmp.Or(server.Status, StatusSent))
			if existing.ClientID == "" {
				existing.ClientID = clientID
			}
			return existing.clone(), false
		}
		local = s.lookalike(server)
	}
	if local == nil {
		if server.ClientID == "" {
			server.ClientID = clientID
		}
		s.ApplyIncoming(server)
		return s.byID[server.ID].clone(), true
	}

	if dup, ok := s.byID[server.ID]; ok && dup != local {
		local.Status = advance(local.Status, dup.Status)
		s.unlink(dup)
	}

	delete(s.byID, local.ID)
	oldID := local.ID
	local.ID = server.ID
	local.Status = advance(local.Status, cmp.Or(server.Status, StatusSent))
	if !server.CreatedAt.IsZero() {
		local.CreatedAt = server.CreatedAt
	}
	if server.Body != "" && !local.Edited {
		local.Body = server.Body
	}
	if len(server.Attachments) > 0 {
		local.Attachments = slices.Clone(server.Attachments)
	}
	s.byID[local.ID] = local

	if t, ok := s.threads[local.ConversationID]; ok {
		if t.conv.LastMessage == nil || t.conv.LastMessage.ID == oldID {
			t.conv.LastMessage = local.ref()
		}
	}
	return local.clone(), false
}

// ApplyIncoming appends a message received from the server. Known ids are
// ignored. The conversation's unread count grows unless it is active or the
// message is the local user's own. Messages for unknown conversations create
// a placeholder conversation.
func (s *Store) ApplyIncoming(m Message) bool {
	if _, ok := s.byID[m.ID]; ok {
		return false
	}
	t := s.ensure(m.ConversationID, m.CreatedAt)
	m = m.clone()
	if m.Status == "" {
		m.Status = StatusSent
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	s.append(t, &m)
	if t.conv.ID != s.active && m.SenderID != s.self {
		t.conv.UnreadCount++
	}
	return true
}

// ApplyUpdate applies a server-side change. An update carrying a body for an
// unknown id is treated as the message's creation.
func (s *Store) ApplyUpdate(u Update) bool {
	if _, ok := s.byID[u.ID]; !ok {
		if u.Body == nil {
			return false
		}
		return s.ApplyIncoming(Message{
			ID:             u.ID,
			ConversationID: u.ConversationID,
			SenderID:       u.SenderID,
			Body:           *u.Body,
			CreatedAt:      u.At,
			Status:         cmp.Or(u.Status, StatusSent),
		})
	}
	changed := false
	if u.Body != nil {
		changed = s.Edit(u.ID, *u.Body, u.At) || changed
	}
	if u.Status != "" {
		changed = s.SetStatus(u.ID, u.Status) || changed
	}
	return changed
}

// Edit replaces the body of message id and records the previous body in the
// edit history. Unknown or deleted messages are left alone, as are edits
// older than the last applied one.
func (s *Store) Edit(id, body string, at time.Time) bool {
	m, ok := s.byID[id]
	if !ok || m.Deleted || m.Body == body {
		return false
	}
	if at.IsZero() {
		at = s.now()
	}
	if !m.EditedAt.IsZero() && at.Before(m.EditedAt) {
		return false
	}
	diffs := s.dmp.DiffMain(m.Body, body, false)
	m.Edits = append(m.Edits, Edit{
		Body:     m.Body,
		EditedAt: at,
		Delta:    s.dmp.DiffToDelta(diffs),
	})
	m.Body = body
	m.EditedAt = at
	m.Edited = true
	s.refreshLast(m)
	return true
}

// Revision reconstructs the body a message had after applying the first n
// recorded edits. Revision(id, 0) is the original body.
func (s *Store) Revision(id string, n int) (string, bool) {
	m, ok := s.byID[id]
	if !ok || n < 0 || n > len(m.Edits) {
		return "", false
	}
	if n == len(m.Edits) {
		return m.Body, true
	}
	if n == 0 {
		return m.Edits[0].Body, true
	}
	diffs, err := s.dmp.DiffFromDelta(m.Edits[n-1].Body, m.Edits[n-1].Delta)
	if err != nil {
		return "", false
	}
	return s.dmp.DiffText2(diffs), true
}

// Delete soft-deletes message id: the entity stays with its body and
// attachments cleared.
func (s *Store) Delete(id string) bool {
	m, ok := s.byID[id]
	if !ok || m.Deleted {
		return false
	}
	m.Deleted = true
	m.Body = ""
	m.Attachments = nil
	s.refreshLast(m)
	return true
}

// SetStatus moves message id to status. Delivery statuses only move
// forward; failed is reachable only from pending, and pending only from
// failed. A message with a failed edit or delete takes no delivery status
// until Recover.
func (s *Store) SetStatus(id string, status Status) bool {
	m, ok := s.byID[id]
	if !ok || m.Status == status || !status.Valid() {
		return false
	}
	if m.FailedOp != "" && status != StatusPending && status != StatusFailed {
		return false
	}
	switch status {
	case StatusFailed:
		if m.Status != StatusPending {
			return false
		}
	case StatusPending:
		if m.Status != StatusFailed {
			return false
		}
	default:
		if status.rank() <= m.Status.rank() && m.Status != StatusFailed {
			return false
		}
	}
	m.Status = status
	return true
}

// Fail marks message id failed because the durable API rejected op. The
// local change is kept so a retry can replay it.
func (s *Store) Fail(id string, op Op) bool {
	m, ok := s.byID[id]
	if !ok || (m.Status == StatusFailed && m.FailedOp == op) {
		return false
	}
	if m.FailedOp == "" && m.Status != StatusFailed {
		m.prior = m.Status
	}
	m.Status = StatusFailed
	m.FailedOp = op
	return true
}

// Recover clears a failed edit or delete once the server accepted it and
// restores the delivery status the message had before.
func (s *Store) Recover(id string) bool {
	m, ok := s.byID[id]
	if !ok || m.FailedOp == "" {
		return false
	}
	m.FailedOp = ""
	m.Status = cmp.Or(m.prior, StatusSent)
	if m.Status == StatusPending || m.Status == StatusFailed {
		m.Status = StatusSent
	}
	m.prior = ""
	return true
}

// HasUnconfirmed reports whether clientID names a local message the server
// has not confirmed yet.
func (s *Store) HasUnconfirmed(clientID string) bool {
	return s.unconfirmed(clientID) != nil
}

// MarkRead clears the unread count of convID. When upToID is set, messages
// from other users up to and including it are marked read.
func (s *Store) MarkRead(convID, upToID string) bool {
	t, ok := s.threads[convID]
	if !ok {
		return false
	}
	changed := t.conv.UnreadCount != 0
	t.conv.UnreadCount = 0
	if upToID == "" {
		return changed
	}
	if _, ok := s.byID[upToID]; !ok {
		return changed
	}
	for _, m := range t.messages {
		if m.SenderID != s.self && m.Status.rank() < StatusRead.rank() && m.Status != StatusFailed {
			m.Status = StatusRead
			changed = true
		}
		if m.ID == upToID {
			break
		}
	}
	return changed
}

// SetPresence flips userID's online flag in every conversation they belong
// to, returning the ids of the conversations that changed.
func (s *Store) SetPresence(userID string, online bool) []string {
	var changed []string
	for id, t := range s.threads {
		for i := range t.conv.Participants {
			p := &t.conv.Participants[i]
			if p.ID == userID && p.Online != online {
				p.Online = online
				changed = append(changed, id)
			}
		}
	}
	slices.Sort(changed)
	return changed
}

// Remove drops convID and its messages.
func (s *Store) Remove(convID string) bool {
	t, ok := s.threads[convID]
	if !ok {
		return false
	}
	for _, m := range t.messages {
		delete(s.byID, m.ID)
	}
	delete(s.threads, convID)
	if s.active == convID {
		s.active = ""
	}
	return true
}

// MergeHistory adds a page of messages to convID, skipping ids already
// present, and keeps the list ordered by creation time. It returns how many
// messages were added.
func (s *Store) MergeHistory(convID string, page []Message) int {
	t := s.ensure(convID, time.Time{})
	added := 0
	for _, m := range page {
		if _, ok := s.byID[m.ID]; ok {
			continue
		}
		if m.ClientID != "" && s.unconfirmed(m.ClientID) != nil {
			continue
		}
		m = m.clone()
		m.ConversationID = convID
		if m.Status == "" {
			m.Status = StatusSent
		}
		t.messages = append(t.messages, &m)
		s.byID[m.ID] = &m
		added++
	}
	if added == 0 {
		return 0
	}
	slices.SortStableFunc(t.messages, func(a, b *Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	last := t.messages[len(t.messages)-1]
	if t.conv.LastMessage == nil || !last.CreatedAt.Before(t.conv.LastMessage.CreatedAt) {
		s.touch(t, last)
	}
	return added
}

// SetActive makes convID the conversation the user is looking at and clears
// its unread count. An empty id clears the selection.
func (s *Store) SetActive(convID string) error {
	if convID == "" {
		s.active = ""
		return nil
	}
	t, ok := s.threads[convID]
	if !ok {
		return ErrUnknownConversation
	}
	s.active = convID
	t.conv.UnreadCount = 0
	return nil
}

// Active returns the active conversation id, or "".
func (s *Store) Active() string { return s.active }

// Conversations returns every conversation, most recently active first.
func (s *Store) Conversations() []Conversation {
	out := make([]Conversation, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, t.conv.clone())
	}
	slices.SortFunc(out, func(a, b Conversation) int {
		if c := b.activity().Compare(a.activity()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Conversation returns the conversation with the given id.
func (s *Store) Conversation(id string) (Conversation, bool) {
	t, ok := s.threads[id]
	if !ok {
		return Conversation{}, false
	}
	return t.conv.clone(), true
}

// Messages returns the loaded messages of convID in display order.
func (s *Store) Messages(convID string) []Message {
	t, ok := s.threads[convID]
	if !ok {
		return nil
	}
	out := make([]Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.clone()
	}
	return out
}

// Message returns the message with the given id.
func (s *Store) Message(id string) (Message, bool) {
	m, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return m.clone(), true
}

// DisplayName returns how userID is shown in convID.
func (s *Store) DisplayName(convID, userID string) string {
	if t, ok := s.threads[convID]; ok {
		if p, ok := t.conv.Participant(userID); ok && p.DisplayName != "" {
			return p.DisplayName
		}
	}
	return userID
}

func (c Conversation) activity() time.Time {
	if c.LastMessage != nil && c.LastMessage.CreatedAt.After(c.UpdatedAt) {
		return c.LastMessage.CreatedAt
	}
	return c.UpdatedAt
}

func (s *Store) ensure(convID string, at time.Time) *thread {
	t, ok := s.threads[convID]
	if !ok {
		t = &thread{conv: Conversation{ID: convID, Kind: KindDirect, CreatedAt: at, UpdatedAt: at}}
		s.threads[convID] = t
	}
	return t
}

func (s *Store) append(t *thread, m *Message) {
	t.messages = append(t.messages, m)
	s.byID[m.ID] = m
	s.touch(t, m)
}

func (s *Store) touch(t *thread, m *Message) {
	t.conv.LastMessage = m.ref()
	if m.CreatedAt.After(t.conv.UpdatedAt) {
		t.conv.UpdatedAt = m.CreatedAt
	}
}

func (s *Store) refreshLast(m *Message) {
	t, ok := s.threads[m.ConversationID]
	if ok && t.conv.LastMessage != nil && t.conv.LastMessage.ID == m.ID {
		t.conv.LastMessage = m.ref()
	}
}

// unconfirmed returns the local message still indexed under clientID.
func (s *Store) unconfirmed(clientID string) *Message {
	if clientID == "" {
		return nil
	}
	m, ok := s.byID[clientID]
	if !ok || m.ClientID != clientID || m.Confirmed() {
		return nil
	}
	return m
}

// lookalike finds an unconfirmed local message that is probably server.
func (s *Store) lookalike(server Message) *Message {
	t, ok := s.threads[server.ConversationID]
	if !ok {
		return nil
	}
	for _, m := range t.messages {
		if m.Confirmed() || m.SenderID != server.SenderID || m.Body != server.Body {
			continue
		}
		if m.Status != StatusPending && m.Status != StatusFailed {
			continue
		}
		gap := m.CreatedAt.Sub(server.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap <= dedupeWindow {
			return m
		}
	}
	return nil
}

func (s *Store) unlink(m *Message) {
	delete(s.byID, m.ID)
	t, ok := s.threads[m.ConversationID]
	if !ok {
		return
	}
	t.messages = slices.DeleteFunc(t.messages, func(x *Message) bool { return x == m })
}

// advance returns next when it moves the delivery status forward. A failed
// message that the server acknowledges recovers.
func advance(cur, next Status) Status {
	if cur == StatusFailed && next.rank() > 0 {
		return next
	}
	if next.rank() > cur.rank() {
		return next
	}
	return cur
}
