package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/huddle/internal/chat"
)

// SaveConversation inserts or replaces a conversation.
func (db *DB) SaveConversation(c chat.Conversation) error {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	var last sql.NullString
	if c.LastMessage != nil {
		b, err := json.Marshal(c.LastMessage)
		if err != nil {
			return fmt.Errorf("encode last message: %w", err)
		}
		last = sql.NullString{String: string(b), Valid: true}
	}
	_, err = db.Exec(`
		INSERT INTO conversations (id, kind, title, avatar_url, participants, last_message, unread_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			title = excluded.title,
			avatar_url = excluded.avatar_url,
			participants = excluded.participants,
			last_message = excluded.last_message,
			unread_count = excluded.unread_count,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		c.ID, string(c.Kind), c.Title, c.AvatarURL, string(participants), last,
		c.UnreadCount, millis(c.CreatedAt), millis(c.UpdatedAt))
	return err
}

// DeleteConversation removes a conversation and its messages.
func (db *DB) DeleteConversation(id string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

// LoadConversations returns every cached conversation, most recent first.
func (db *DB) LoadConversations() ([]chat.Conversation, error) {
	rows, err := db.Query(`
		SELECT id, kind, title, avatar_url, participants, last_message, unread_count, created_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []chat.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation returns one cached conversation, or nil if absent.
func (db *DB) GetConversation(id string) (*chat.Conversation, error) {
	row := db.QueryRow(`
		SELECT id, kind, title, avatar_url, participants, last_message, unread_count, created_at, updated_at
		FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (chat.Conversation, error) {
	var (
		c                    chat.Conversation
		kind, participants   string
		last                 sql.NullString
		createdAt, updatedAt int64
	)
	if err := s.Scan(&c.ID, &kind, &c.Title, &c.AvatarURL, &participants, &last, &c.UnreadCount, &createdAt, &updatedAt); err != nil {
		return chat.Conversation{}, err
	}
	c.Kind = chat.Kind(kind)
	if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
		return chat.Conversation{}, fmt.Errorf("decode participants of %s: %w", c.ID, err)
	}
	if last.Valid {
		c.LastMessage = &chat.MessageRef{}
		if err := json.Unmarshal([]byte(last.String), c.LastMessage); err != nil {
			return chat.Conversation{}, fmt.Errorf("decode last message of %s: %w", c.ID, err)
		}
	}
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return c, nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
