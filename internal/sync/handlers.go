package sync

import (
	"go.uber.org/zap"

	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/status"
	"github.com/matheus3301/huddle/internal/wire"
)

// onInbound applies one server-pushed event to the store.
func (e *Engine) onInbound(evt bus.Event) {
	in, ok := evt.Payload.(wire.Event)
	if !ok {
		e.logger.Warn("inbound event without envelope", zap.String("kind", string(evt.Kind)))
		return
	}

	switch in := in.(type) {
	case wire.MessageCreate:
		e.applyCreate(in)
	case wire.MessageUpdate:
		e.applyUpdate(in)
	case wire.MessageDelete:
		e.mu.Lock()
		changed := e.store.Delete(in.ID)
		if changed {
			m, _ := e.store.Message(in.ID)
			e.saveMessageLocked(m)
			e.saveConversationLocked(m.ConversationID)
		}
		e.mu.Unlock()
		if changed {
			e.changed(in.ConversationID)
		}
	case wire.Typing:
		if in.SenderID == e.ident.UserID {
			return
		}
		if in.IsTyping {
			e.typing.Set(in.ConversationID, in.SenderID)
		} else {
			e.typing.Clear(in.ConversationID, in.SenderID)
		}
	case wire.Presence:
		e.mu.Lock()
		convs := e.store.SetPresence(in.SenderID, in.Online())
		for _, id := range convs {
			e.saveConversationLocked(id)
		}
		e.mu.Unlock()
		for _, id := range convs {
			e.changed(id)
		}
	case wire.Ping:
	}
}

func (e *Engine) applyCreate(in wire.MessageCreate) {
	m := chat.Message{
		ID:             in.ID,
		ClientID:       in.ClientID,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Body:           in.Content,
		Attachments:    in.Attachments,
		CreatedAt:      in.Timestamp,
		Status:         chat.StatusSent,
	}

	e.mu.Lock()
	var stored chat.Message
	applied := true
	if in.ClientID != "" || in.SenderID == e.ident.UserID {
		stored, _ = e.store.Confirm(in.ClientID, m)
	} else {
		applied = e.store.ApplyIncoming(m)
		stored, _ = e.store.Message(m.ID)
	}
	if applied {
		e.saveMessageLocked(stored)
		e.saveConversationLocked(in.ConversationID)
	}
	e.mu.Unlock()

	// A message ends its sender's typing.
	e.typing.Clear(in.ConversationID, in.SenderID)
	if applied {
		e.changed(in.ConversationID)
	}
}

func (e *Engine) applyUpdate(in wire.MessageUpdate) {
	u := chat.Update{
		ID:             in.ID,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Body:           in.Content,
		At:             in.Timestamp,
	}
	if in.Status != "" {
		st := chat.Status(in.Status)
		if !st.Valid() {
			e.logger.Warn("dropping update with unknown status", zap.String("message_id", in.ID), zap.String("status", in.Status))
			return
		}
		u.Status = st
	}

	e.mu.Lock()
	changed := false
	// An update can overtake the create echo of a local send. It names the
	// send by client id and takes over that entry; the body is applied below
	// as an edit.
	if in.ClientID != "" && e.store.HasUnconfirmed(in.ClientID) {
		server := chat.Message{
			ID:             in.ID,
			ClientID:       in.ClientID,
			ConversationID: in.ConversationID,
			SenderID:       in.SenderID,
			Status:         u.Status,
		}
		e.store.Confirm(in.ClientID, server)
		changed = true
	}
	changed = e.store.ApplyUpdate(u) || changed
	if changed {
		m, _ := e.store.Message(in.ID)
		e.saveMessageLocked(m)
		e.saveConversationLocked(m.ConversationID)
	}
	e.mu.Unlock()
	if changed {
		e.changed(in.ConversationID)
	}
}

// onTransport maps connection lifecycle events onto the session state.
func (e *Engine) onTransport(evt bus.Event) {
	var to status.State
	switch evt.Kind {
	case bus.TransportConnecting:
		to = status.Connecting
	case bus.TransportConnected:
		to = status.Ready
	case bus.TransportReconnecting:
		to = status.Reconnecting
	case bus.TransportFailed:
		to = status.Degraded
	default:
		return
	}
	if err := e.status.Settle(to); err != nil {
		e.logger.Debug("ignoring transport event", zap.String("kind", string(evt.Kind)), zap.Error(err))
		return
	}
	e.changed("")
}

// hydrateLocked loads the cache into the store. Messages still pending from
// a previous run never got an answer and become failed so they can be
// retried.
func (e *Engine) hydrateLocked() {
	if e.cache == nil {
		return
	}
	convs, err := e.cache.LoadConversations()
	if err != nil {
		e.logger.Error("cache load conversations", zap.Error(err))
		return
	}
	total := 0
	for _, c := range convs {
		e.store.UpsertConversation(c, nil)
		msgs, err := e.cache.LoadMessages(c.ID, e.page)
		if err != nil {
			e.logger.Error("cache load messages", zap.String("conversation_id", c.ID), zap.Error(err))
			continue
		}
		e.store.MergeHistory(c.ID, msgs)
		for _, m := range msgs {
			if m.Status == chat.StatusPending && e.store.SetStatus(m.ID, chat.StatusFailed) {
				cur, _ := e.store.Message(m.ID)
				e.saveMessageLocked(cur)
			}
		}
		total += len(msgs)
	}
	e.logger.Info("hydrated from cache", zap.Int("conversations", len(convs)), zap.Int("messages", total))
}

func (e *Engine) saveMessageLocked(m chat.Message) {
	if e.cache == nil || m.ID == "" {
		return
	}
	if err := e.cache.SaveMessage(m); err != nil {
		e.logger.Error("cache save message", zap.String("message_id", m.ID), zap.Error(err))
	}
}

func (e *Engine) saveConversationLocked(id string) {
	if e.cache == nil {
		return
	}
	c, ok := e.store.Conversation(id)
	if !ok {
		return
	}
	if err := e.cache.SaveConversation(c); err != nil {
		e.logger.Error("cache save conversation", zap.String("conversation_id", id), zap.Error(err))
	}
}
