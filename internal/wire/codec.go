package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// MalformedError is returned by Decode for frames that cannot be turned into
// an Event. Callers log and drop them.
type MalformedError struct {
	Type   string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("malformed envelope: %s", e.Reason)
	}
	return fmt.Sprintf("malformed %s envelope: %s", e.Type, e.Reason)
}

type envelope struct {
	ID             string          `json:"id"`
	Type           Type            `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	SenderID       string          `json:"senderId,omitempty"`
	ClientID       string          `json:"clientId,omitempty"`
	Content        *string         `json:"content,omitempty"`
	Timestamp      string          `json:"timestamp"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// Decode parses a single frame.
func Decode(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, &MalformedError{Reason: "invalid JSON"}
	}
	typ := gjson.GetBytes(data, "type")
	if typ.Type != gjson.String || typ.Str == "" {
		return nil, &MalformedError{Reason: "missing type"}
	}
	t := typ.Str

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MalformedError{Type: t, Reason: err.Error()}
	}
	if env.ID == "" {
		return nil, &MalformedError{Type: t, Reason: "missing id"}
	}
	ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
	if err != nil {
		return nil, &MalformedError{Type: t, Reason: "bad timestamp"}
	}

	h := Header{
		ID:             env.ID,
		ConversationID: env.ConversationID,
		SenderID:       env.SenderID,
		Timestamp:      ts,
	}
	meta := gjson.ParseBytes(env.Metadata)

	switch Type(t) {
	case TypeMessageCreate:
		if h.ConversationID == "" {
			return nil, &MalformedError{Type: t, Reason: "missing conversationId"}
		}
		attachments, err := decodeAttachments(meta)
		if err != nil {
			return nil, &MalformedError{Type: t, Reason: err.Error()}
		}
		evt := MessageCreate{Header: h, ClientID: env.ClientID, Attachments: attachments}
		if env.Content != nil {
			evt.Content = *env.Content
		}
		return evt, nil
	case TypeMessageUpdate:
		if h.ConversationID == "" {
			return nil, &MalformedError{Type: t, Reason: "missing conversationId"}
		}
		evt := MessageUpdate{
			Header:   h,
			ClientID: env.ClientID,
			Content:  env.Content,
			Status:   meta.Get("status").String(),
		}
		if evt.Content == nil && evt.Status == "" {
			return nil, &MalformedError{Type: t, Reason: "neither content nor status"}
		}
		return evt, nil
	case TypeMessageDelete:
		return MessageDelete{Header: h}, nil
	case TypeTyping:
		if h.ConversationID == "" || h.SenderID == "" {
			return nil, &MalformedError{Type: t, Reason: "missing conversationId or senderId"}
		}
		isTyping := true
		if v := meta.Get("isTyping"); v.Exists() {
			isTyping = v.Bool()
		}
		return Typing{Header: h, IsTyping: isTyping}, nil
	case TypePresence:
		if h.SenderID == "" {
			return nil, &MalformedError{Type: t, Reason: "missing senderId"}
		}
		return Presence{Header: h, Status: meta.Get("status").String()}, nil
	case TypePing:
		return Ping{Header: h}, nil
	default:
		return nil, &MalformedError{Type: t, Reason: "unknown type"}
	}
}

// Encode renders evt as a frame.
func Encode(evt Event) ([]byte, error) {
	h := evt.Head()
	env := envelope{
		ID:             h.ID,
		Type:           evt.Type(),
		ConversationID: h.ConversationID,
		SenderID:       h.SenderID,
		Timestamp:      h.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	meta := map[string]any{}

	switch e := evt.(type) {
	case MessageCreate:
		env.ClientID = e.ClientID
		env.Content = &e.Content
		if len(e.Attachments) > 0 {
			meta["attachments"] = e.Attachments
		}
	case MessageUpdate:
		env.ClientID = e.ClientID
		env.Content = e.Content
		if e.Status != "" {
			meta["status"] = e.Status
		}
	case MessageDelete, Ping:
	case Typing:
		meta["isTyping"] = e.IsTyping
	case Presence:
		meta["status"] = e.Status
	default:
		return nil, fmt.Errorf("encode: unsupported event %T", evt)
	}

	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		env.Metadata = raw
	}
	return json.Marshal(env)
}

func decodeAttachments(meta gjson.Result) ([]Attachment, error) {
	raw := meta.Get("attachments")
	if !raw.Exists() {
		return nil, nil
	}
	if !raw.IsArray() {
		return nil, fmt.Errorf("attachments is not an array")
	}
	var out []Attachment
	if err := json.Unmarshal([]byte(raw.Raw), &out); err != nil {
		return nil, fmt.Errorf("attachments: %w", err)
	}
	return out, nil
}
