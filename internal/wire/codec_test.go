package wire

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeMessageCreate(t *testing.T) {
	frame := `{"id":"srv-1","type":"message-create","conversationId":"c1","senderId":"u2",
		"clientId":"cli-1","content":"hello","timestamp":"2024-05-01T10:00:00Z",
		"metadata":{"attachments":[{"id":"a1","url":"https://cdn/x.png","mimeType":"image/png"}]}}`

	evt, err := Decode([]byte(frame))
	if err != nil {
		t.Fatal(err)
	}
	mc, ok := evt.(MessageCreate)
	if !ok {
		t.Fatalf("event type = %T, want MessageCreate", evt)
	}
	if mc.ID != "srv-1" || mc.ClientID != "cli-1" || mc.ConversationID != "c1" || mc.SenderID != "u2" {
		t.Errorf("header = %+v clientID=%q", mc.Header, mc.ClientID)
	}
	if mc.Content != "hello" {
		t.Errorf("content = %q, want hello", mc.Content)
	}
	if len(mc.Attachments) != 1 || mc.Attachments[0].MimeType != "image/png" {
		t.Errorf("attachments = %+v", mc.Attachments)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if !mc.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", mc.Timestamp, want)
	}
}

func TestDecodeMessageUpdate(t *testing.T) {
	tests := []struct {
		name       string
		frame      string
		wantBody   string
		wantStatus string
	}{
		{
			"edit",
			`{"id":"m1","type":"message-update","conversationId":"c1","content":"edited","timestamp":"2024-05-01T10:00:00Z"}`,
			"edited", "",
		},
		{
			"status only",
			`{"id":"m1","type":"message-update","conversationId":"c1","timestamp":"2024-05-01T10:00:00Z","metadata":{"status":"read"}}`,
			"", "read",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatal(err)
			}
			mu := evt.(MessageUpdate)
			if tt.wantBody == "" && mu.Content != nil {
				t.Errorf("content = %q, want nil", *mu.Content)
			}
			if tt.wantBody != "" && (mu.Content == nil || *mu.Content != tt.wantBody) {
				t.Errorf("content = %v, want %q", mu.Content, tt.wantBody)
			}
			if mu.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", mu.Status, tt.wantStatus)
			}
		})
	}
}

func TestDecodeTypingDefaultsToTyping(t *testing.T) {
	evt, err := Decode([]byte(`{"id":"t1","type":"typing","conversationId":"c1","senderId":"u2","timestamp":"2024-05-01T10:00:00Z"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !evt.(Typing).IsTyping {
		t.Error("IsTyping = false, want true when metadata omits it")
	}

	evt, err = Decode([]byte(`{"id":"t2","type":"typing","conversationId":"c1","senderId":"u2","timestamp":"2024-05-01T10:00:00Z","metadata":{"isTyping":false}}`))
	if err != nil {
		t.Fatal(err)
	}
	if evt.(Typing).IsTyping {
		t.Error("IsTyping = true, want false")
	}
}

func TestDecodePresence(t *testing.T) {
	evt, err := Decode([]byte(`{"id":"p1","type":"presence","senderId":"u2","timestamp":"2024-05-01T10:00:00Z","metadata":{"status":"online"}}`))
	if err != nil {
		t.Fatal(err)
	}
	p := evt.(Presence)
	if !p.Online() {
		t.Errorf("Online() = false for status %q", p.Status)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{"id":`},
		{"missing type", `{"id":"x","timestamp":"2024-05-01T10:00:00Z"}`},
		{"numeric type", `{"id":"x","type":3,"timestamp":"2024-05-01T10:00:00Z"}`},
		{"unknown type", `{"id":"x","type":"reaction","timestamp":"2024-05-01T10:00:00Z"}`},
		{"missing id", `{"type":"ping","timestamp":"2024-05-01T10:00:00Z"}`},
		{"bad timestamp", `{"id":"x","type":"ping","timestamp":"yesterday"}`},
		{"create without conversation", `{"id":"x","type":"message-create","content":"hi","timestamp":"2024-05-01T10:00:00Z"}`},
		{"empty update", `{"id":"x","type":"message-update","conversationId":"c1","timestamp":"2024-05-01T10:00:00Z"}`},
		{"typing without sender", `{"id":"x","type":"typing","conversationId":"c1","timestamp":"2024-05-01T10:00:00Z"}`},
		{"attachments not array", `{"id":"x","type":"message-create","conversationId":"c1","timestamp":"2024-05-01T10:00:00Z","metadata":{"attachments":{}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			var me *MalformedError
			if !errors.As(err, &me) {
				t.Fatalf("err = %v, want *MalformedError", err)
			}
		})
	}
}

func TestEncodeDecodeCarriesClientID(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	in := MessageCreate{
		Header:   Header{ID: "cli-1", ConversationID: "c1", SenderID: "me", Timestamp: ts},
		ClientID: "cli-1",
		Content:  "hi",
	}
	data, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	mc := out.(MessageCreate)
	if mc.ClientID != "cli-1" || mc.Content != "hi" || !mc.Timestamp.Equal(ts) {
		t.Errorf("decoded = %+v", mc)
	}
}

func TestEncodeTypingStop(t *testing.T) {
	data, err := Encode(Typing{Header: Header{ID: "t", ConversationID: "c1", SenderID: "me", Timestamp: time.Now()}})
	if err != nil {
		t.Fatal(err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if out.(Typing).IsTyping {
		t.Error("stop-typing frame decoded as typing")
	}
}
