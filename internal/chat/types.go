// Package chat holds the authoritative in-memory view of conversations and
// messages. A Store is not safe for concurrent use; its owner serializes
// every call.
package chat

import (
	"slices"
	"time"

	"github.com/matheus3301/huddle/internal/wire"
)

// Kind distinguishes one-to-one from group conversations.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// Role is a participant's role within a conversation.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Status is a message's delivery status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// rank orders the forward path pending -> sent -> delivered -> read.
func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

// Op is a change to a confirmed message that the durable API rejected.
type Op string

const (
	OpEdit   Op = "edit"
	OpDelete Op = "delete"
)

// Attachment is media attached to a message.
type Attachment = wire.Attachment

// User identifies a person.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Participant is a user's membership in a conversation.
type Participant struct {
	User
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
	Online   bool      `json:"online"`
}

// MessageRef summarizes the latest message of a conversation.
type MessageRef struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// Conversation is a direct or group thread.
type Conversation struct {
	ID           string        `json:"id"`
	Kind         Kind          `json:"kind"`
	Title        string        `json:"title"`
	AvatarURL    string        `json:"avatarUrl,omitempty"`
	Participants []Participant `json:"participants"`
	LastMessage  *MessageRef   `json:"lastMessage,omitempty"`
	UnreadCount  int           `json:"unreadCount"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Participant returns the member with the given user id.
func (c Conversation) Participant(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

func (c Conversation) clone() Conversation {
	c.Participants = slices.Clone(c.Participants)
	if c.LastMessage != nil {
		ref := *c.LastMessage
		c.LastMessage = &ref
	}
	return c
}

// Edit records a body a message had before it was edited. Delta is the
// diff-match-patch delta that turns Body into the next version.
type Edit struct {
	Body     string    `json:"body"`
	EditedAt time.Time `json:"editedAt"`
	Delta    string    `json:"delta,omitempty"`
}

// Message is one message. While Status is pending, ID equals ClientID; once
// the server confirms it, ID holds the server id.
type Message struct {
	ID             string       `json:"id"`
	ClientID       string       `json:"clientId,omitempty"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	Body           string       `json:"body"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	EditedAt       time.Time    `json:"editedAt,omitzero"`
	Status         Status       `json:"status"`
	Edits          []Edit       `json:"edits,omitempty"`
	Edited         bool         `json:"edited,omitempty"`
	Deleted        bool         `json:"deleted,omitempty"`
	// FailedOp is set while Status is failed because of a rejected edit or
	// delete rather than a rejected send.
	FailedOp Op `json:"failedOp,omitempty"`

	// prior is the delivery status to restore once FailedOp is settled.
	prior Status
}

// Confirmed reports whether the server has assigned the message its id.
func (m Message) Confirmed() bool {
	return m.ClientID == "" || m.ID != m.ClientID
}

func (m Message) clone() Message {
	m.Attachments = slices.Clone(m.Attachments)
	m.Edits = slices.Clone(m.Edits)
	return m
}

func (m *Message) ref() *MessageRef {
	return &MessageRef{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
		Deleted:   m.Deleted,
	}
}

// Draft is the content of a message about to be sent.
type Draft struct {
	SenderID    string
	Body        string
	Attachments []Attachment
	CreatedAt   time.Time
}

// Update is a server-side change to a message: a new body, a delivery
// status, or both.
type Update struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           *string
	Status         Status
	At             time.Time
}
