package api

import (
	"encoding/json"

	"github.com/matheus3301/huddle/internal/chat"
)

// StatusResponse describes the daemon and its connection.
type StatusResponse struct {
	Session       string `json:"session"`
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName,omitempty"`
	State         string `json:"state"`
	Online        bool   `json:"online"`
	Attempt       int    `json:"attempt"`
	Pending       int    `json:"pending"`
	Conversations int    `json:"conversations"`
	UptimeMs      int64  `json:"uptimeMs"`
}

// ViewResponse is everything a client renders in one snapshot.
type ViewResponse struct {
	State                string              `json:"state"`
	Online               bool                `json:"online"`
	Attempt              int                 `json:"attempt"`
	Pending              int                 `json:"pending"`
	ActiveConversationID string              `json:"activeConversationId,omitempty"`
	Conversations        []chat.Conversation `json:"conversations"`
	Messages             []chat.Message      `json:"messages"`
	Typing               []string            `json:"typing,omitempty"`
}

type ListConversationsRequest struct {
	// Refresh reloads the list from the server first.
	Refresh bool `json:"refresh,omitempty"`
}

type ListConversationsResponse struct {
	Conversations []chat.Conversation `json:"conversations"`
}

type ListMessagesRequest struct {
	ConversationID string `json:"conversationId"`
	// Before limits the result to messages older than this id.
	Before string `json:"before,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	// Fetch pulls that page from the server before answering.
	Fetch bool `json:"fetch,omitempty"`
}

type ListMessagesResponse struct {
	Messages []chat.Message `json:"messages"`
	Fetched  int            `json:"fetched,omitempty"`
}

type SendMessageRequest struct {
	ConversationID string            `json:"conversationId"`
	Body           string            `json:"body"`
	Attachments    []chat.Attachment `json:"attachments,omitempty"`
}

type EditMessageRequest struct {
	MessageID string `json:"messageId"`
	Body      string `json:"body"`
}

type MessageResponse struct {
	Message chat.Message `json:"message"`
}

// MessageHistoryResponse lists the bodies a message has had, oldest first.
type MessageHistoryResponse struct {
	MessageID string   `json:"messageId"`
	Revisions []string `json:"revisions"`
}

type CreateConversationRequest struct {
	Kind           chat.Kind `json:"kind"`
	Title          string    `json:"title,omitempty"`
	ParticipantIDs []string  `json:"participantIds"`
}

type ConversationResponse struct {
	Conversation chat.Conversation `json:"conversation"`
}

type SetTypingRequest struct {
	ConversationID string `json:"conversationId"`
	Typing         bool   `json:"typing"`
}

// WatchRequest selects event kinds or namespaces ("view.", "message.").
// Empty means every namespace a client cares about.
type WatchRequest struct {
	Kinds []string `json:"kinds,omitempty"`
}

// WatchEvent is one bus event forwarded to a watcher.
type WatchEvent struct {
	ID               string          `json:"id"`
	Session          string          `json:"session"`
	Kind             string          `json:"kind"`
	OccurredAtUnixMs int64           `json:"occurredAtUnixMs"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}
