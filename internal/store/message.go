package store

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/huddle/internal/chat"
)

// SaveMessage inserts or replaces a message. A confirmed message replaces
// the row it was cached under while it still had its client id.
func (db *DB) SaveMessage(m chat.Message) error {
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	edits, err := json.Marshal(m.Edits)
	if err != nil {
		return fmt.Errorf("encode edits: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if m.ClientID != "" && m.ClientID != m.ID {
		if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, m.ClientID); err != nil {
			return fmt.Errorf("drop client row: %w", err)
		}
	}
	if _, err := tx.Exec(`
		INSERT INTO messages (id, client_id, conversation_id, sender_id, body, attachments, status, failed_op, edits, edited, deleted, created_at, edited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			conversation_id = excluded.conversation_id,
			sender_id = excluded.sender_id,
			body = excluded.body,
			attachments = excluded.attachments,
			status = excluded.status,
			failed_op = excluded.failed_op,
			edits = excluded.edits,
			edited = excluded.edited,
			deleted = excluded.deleted,
			created_at = excluded.created_at,
			edited_at = excluded.edited_at`,
		m.ID, m.ClientID, m.ConversationID, m.SenderID, m.Body, string(attachments),
		string(m.Status), string(m.FailedOp), string(edits), m.Edited, m.Deleted,
		millis(m.CreatedAt), millis(m.EditedAt)); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return tx.Commit()
}

// LoadMessages returns the newest limit messages of a conversation in
// chronological order.
func (db *DB) LoadMessages(convID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, client_id, conversation_id, sender_id, body, attachments, status, failed_op, edits, edited, deleted, created_at, edited_at
		FROM (
			SELECT * FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		) ORDER BY created_at ASC`, convID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []chat.Message
	for rows.Next() {
		var (
			m                   chat.Message
			attachments, edits  string
			status, failedOp    string
			createdAt, editedAt int64
		)
		if err := rows.Scan(&m.ID, &m.ClientID, &m.ConversationID, &m.SenderID, &m.Body,
			&attachments, &status, &failedOp, &edits, &m.Edited, &m.Deleted, &createdAt, &editedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments of %s: %w", m.ID, err)
		}
		if err := json.Unmarshal([]byte(edits), &m.Edits); err != nil {
			return nil, fmt.Errorf("decode edits of %s: %w", m.ID, err)
		}
		m.Status = chat.Status(status)
		m.FailedOp = chat.Op(failedOp)
		m.CreatedAt = fromMillis(createdAt)
		m.EditedAt = fromMillis(editedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountByStatus returns how many cached messages have the given status.
func (db *DB) CountByStatus(status chat.Status) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE status = ?`, string(status)).Scan(&n)
	return n, err
}
