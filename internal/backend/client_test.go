package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matheus3301/huddle/internal/chat"
)

func TestCreateMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/conversations/c1/messages" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		if body["clientId"] != "cli-1" || body["content"] != "hi" {
			t.Errorf("body = %s", data)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"srv-1","clientId":"cli-1","conversationId":"c1","senderId":"me","body":"hi","createdAt":"2024-05-01T10:00:00Z","status":"sent"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	m, err := c.CreateMessage(context.Background(), CreateMessageRequest{ConversationID: "c1", ClientID: "cli-1", Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != "srv-1" || m.Status != chat.StatusSent || !m.CreatedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("message = %+v", m)
	}
}

func TestListConversationsReportsMissingUnread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"conversations":[{"id":"c1","kind":"group","title":"team","unreadCount":3},{"id":"c2","kind":"direct"}]}`))
	}))
	defer srv.Close()

	convs, err := New(srv.URL, "tok").ListConversations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("conversations = %+v", convs)
	}
	if convs[0].Title != "team" || convs[0].Unread == nil || *convs[0].Unread != 3 {
		t.Errorf("first = %+v", convs[0])
	}
	if convs[1].ID != "c2" || convs[1].Unread != nil {
		t.Errorf("second = %+v, want no unread count", convs[1])
	}
}

func TestListMessagesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("before") != "m9" || q.Get("limit") != "20" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"m1","conversationId":"c1","body":"a"},{"id":"m2","conversationId":"c1","body":"b"}]}`))
	}))
	defer srv.Close()

	msgs, err := New(srv.URL, "tok").ListMessages(context.Background(), "c1", Page{Before: "m9", Limit: 20})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[1].Body != "b" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{"structured", http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"no such conversation"}}`, "NOT_FOUND", "no such conversation"},
		{"plain string", http.StatusForbidden, `{"error":"not a member"}`, "", "not a member"},
		{"not json", http.StatusBadGateway, `<html>bad gateway</html>`, "", "Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := New(srv.URL, "tok").LeaveConversation(context.Background(), "c1")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("err = %v, want *APIError", err)
			}
			if apiErr.Status != tt.status || apiErr.Code != tt.wantCode || apiErr.Message != tt.wantMsg {
				t.Errorf("error = %+v", apiErr)
			}
		})
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := New(srv.URL, "tok").ListConversations(context.Background())
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Errorf("connection failure reported as API error: %v", err)
	}
}
