// Package backend is the client for the durable REST API that stores
// conversations and messages server-side.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/matheus3301/huddle/internal/chat"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 15 * time.Second

// APIError is a non-2xx response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// Page selects a window of message history older than Before.
type Page struct {
	Before string
	Limit  int
}

// CreateMessageRequest is the body of a durable message create.
type CreateMessageRequest struct {
	ConversationID string            `json:"-"`
	ClientID       string            `json:"clientId"`
	Content        string            `json:"content"`
	Attachments    []chat.Attachment `json:"attachments,omitempty"`
}

// NewConversation describes a conversation to create.
type NewConversation struct {
	Kind           chat.Kind `json:"kind"`
	Title          string    `json:"title,omitempty"`
	ParticipantIDs []string  `json:"participantIds"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to the durable API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the API rooted at baseURL.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateMessage persists a message and returns the server's copy.
func (c *Client) CreateMessage(ctx context.Context, req CreateMessageRequest) (chat.Message, error) {
	var out chat.Message
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(req.ConversationID)+"/messages", nil, req, &out)
	return out, err
}

// EditMessage replaces a message body.
func (c *Client) EditMessage(ctx context.Context, id, content string) (chat.Message, error) {
	var out chat.Message
	body := map[string]string{"content": content}
	err := c.do(ctx, http.MethodPatch, "/api/messages/"+url.PathEscape(id), nil, body, &out)
	return out, err
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(id), nil, nil, nil)
}

// ConversationSummary is one entry of the conversation list. Unread is nil
// when the server left the unread count out.
type ConversationSummary struct {
	chat.Conversation
	Unread *int
}

// ListConversations returns every conversation the user belongs to.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, nil, &raw); err != nil {
		return nil, err
	}
	list := gjson.GetBytes(raw, "conversations")
	if list.Exists() && !list.IsArray() {
		return nil, fmt.Errorf("unmarshal response: conversations is %s", list.Type)
	}
	var (
		out    []ConversationSummary
		decErr error
	)
	list.ForEach(func(_, item gjson.Result) bool {
		var cs ConversationSummary
		if decErr = json.Unmarshal([]byte(item.Raw), &cs.Conversation); decErr != nil {
			return false
		}
		if v := item.Get("unreadCount"); v.Exists() {
			n := int(v.Int())
			cs.Unread = &n
		}
		out = append(out, cs)
		return true
	})
	if decErr != nil {
		return nil, fmt.Errorf("unmarshal response: %w", decErr)
	}
	return out, nil
}

// ListMessages returns one page of history, oldest first.
func (c *Client) ListMessages(ctx context.Context, convID string, page Page) ([]chat.Message, error) {
	q := url.Values{}
	if page.Before != "" {
		q.Set("before", page.Before)
	}
	if page.Limit > 0 {
		q.Set("limit", strconv.Itoa(page.Limit))
	}
	var out struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(convID)+"/messages", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// MarkConversationRead records that the user read convID up to upToID.
func (c *Client) MarkConversationRead(ctx context.Context, convID, upToID string) error {
	body := map[string]string{"upToId": upToID}
	return c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(convID)+"/read", nil, body, nil)
}

// CreateConversation creates a conversation with the given members.
func (c *Client) CreateConversation(ctx context.Context, req NewConversation) (chat.Conversation, error) {
	var out chat.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations", nil, req, &out)
	return out, err
}

// LeaveConversation removes the user from convID.
func (c *Client) LeaveConversation(ctx context.Context, convID string) error {
	return c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(convID)+"/leave", nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func decodeError(status int, data []byte) *APIError {
	e := &APIError{Status: status, Message: http.StatusText(status)}
	if !gjson.ValidBytes(data) {
		return e
	}
	errField := gjson.GetBytes(data, "error")
	switch {
	case errField.IsObject():
		e.Code = errField.Get("code").String()
		if msg := errField.Get("message").String(); msg != "" {
			e.Message = msg
		}
	case errField.Type == gjson.String:
		e.Message = errField.Str
	}
	return e
}
