// Package wire defines the envelope exchanged with the messaging endpoint.
//
// Every frame is a JSON object:
//
//	{ "id": "...", "type": "message-create", "conversationId": "...",
//	  "senderId": "...", "clientId": "...", "content": "...",
//	  "timestamp": "2024-05-01T10:00:00Z", "metadata": { ... } }
//
// On the Go side the envelope is a closed set of variants implementing Event,
// so a type switch over Event covers every kind the endpoint can send.
package wire

import "time"

// Type is the envelope discriminator.
type Type string

const (
	TypeMessageCreate Type = "message-create"
	TypeMessageUpdate Type = "message-update"
	TypeMessageDelete Type = "message-delete"
	TypeTyping        Type = "typing"
	TypePresence      Type = "presence"
	TypePing          Type = "ping"
)

// Event is implemented by every envelope variant in this package and no other.
type Event interface {
	Type() Type
	Head() Header
	isEvent()
}

// Header carries the fields shared by all variants. For message variants ID
// is the message id; for the rest it identifies the frame.
type Header struct {
	ID             string
	ConversationID string
	SenderID       string
	Timestamp      time.Time
}

// Head returns the shared envelope fields.
func (h Header) Head() Header { return h }

// Attachment references media attached to a message.
type Attachment struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// MessageCreate announces a new message. ClientID echoes the id the sending
// client generated, when the message originated from a client send.
type MessageCreate struct {
	Header
	ClientID    string
	Content     string
	Attachments []Attachment
}

// MessageUpdate edits a message body (Content non-nil) and/or advances its
// delivery status ("delivered", "read").
type MessageUpdate struct {
	Header
	ClientID string
	Content  *string
	Status   string
}

// MessageDelete removes a message.
type MessageDelete struct {
	Header
}

// Typing reports that SenderID started or stopped composing in ConversationID.
type Typing struct {
	Header
	IsTyping bool
}

// Presence reports SenderID's availability.
type Presence struct {
	Header
	Status string
}

// Online reports whether Status means the user is reachable.
func (p Presence) Online() bool {
	return p.Status == "online" || p.Status == "away"
}

// Ping is the keep-alive frame.
type Ping struct {
	Header
}

func (MessageCreate) Type() Type { return TypeMessageCreate }
func (MessageUpdate) Type() Type { return TypeMessageUpdate }
func (MessageDelete) Type() Type { return TypeMessageDelete }
func (Typing) Type() Type        { return TypeTyping }
func (Presence) Type() Type      { return TypePresence }
func (Ping) Type() Type          { return TypePing }

func (MessageCreate) isEvent() {}
func (MessageUpdate) isEvent() {}
func (MessageDelete) isEvent() {}
func (Typing) isEvent()        {}
func (Presence) isEvent()      {}
func (Ping) isEvent()          {}
