package daemon

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/config"
	"github.com/matheus3301/huddle/internal/lock"
	"github.com/matheus3301/huddle/internal/relay"
	"github.com/matheus3301/huddle/internal/session"
	"github.com/matheus3301/huddle/internal/store"
)

type harness struct {
	home   string
	socket string
	relay  *relay.Relay
	srv    *httptest.Server
	conv   chat.Conversation
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// Use a short path to stay under the Unix socket length limit.
	home, err := os.MkdirTemp("/tmp", "huddle-d-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(home) })
	t.Setenv(session.EnvHome, home)

	r := relay.New(relay.Options{Users: map[string]string{"alice": "Alice", "bob": "Bob"}})
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(func() {
		r.Close()
		srv.Close()
	})
	conv, err := r.CreateConversation("alice", chat.KindDirect, "", "bob")
	if err != nil {
		t.Fatal(err)
	}
	return &harness{
		home:   home,
		socket: filepath.Join(home, "d.sock"),
		relay:  r,
		srv:    srv,
		conv:   conv,
	}
}

func (h *harness) config() *config.Config {
	cfg := config.Default()
	cfg.Endpoint = "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	cfg.APIURL = h.srv.URL
	cfg.UserID = "alice"
	cfg.DisplayName = "Alice"
	cfg.Token = "alice"
	return cfg
}

func (h *harness) params() Params {
	return Params{
		SessionName: "test",
		SocketPath:  h.socket,
		Config:      h.config(),
		LogLevel:    zapcore.WarnLevel,
		Quiet:       true,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	h := newHarness(t)
	app := fxtest.New(t, Module(h.params()), fx.NopLogger)
	app.RequireStart()

	client, err := api.Dial(h.socket)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	waitFor(t, "ready", func() bool {
		st, err := client.GetStatus(ctx)
		return err == nil && st.State == "READY"
	})

	convs, err := client.ListConversations(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs.Conversations) != 1 || convs.Conversations[0].ID != h.conv.ID {
		t.Fatalf("conversations = %+v, want %s", convs.Conversations, h.conv.ID)
	}

	sent, err := client.SendMessage(ctx, &api.SendMessageRequest{ConversationID: h.conv.ID, Body: "hi bob"})
	if err != nil {
		t.Fatalf("SendMessage error = %v", err)
	}
	if sent.Message.ID == sent.Message.ClientID {
		t.Errorf("message %+v was not confirmed by the server", sent.Message)
	}
	if sent.Message.Status == chat.StatusPending || sent.Message.Status == chat.StatusFailed {
		t.Errorf("status = %s after confirmation", sent.Message.Status)
	}

	bob := backend.New(h.srv.URL, "bob")
	history, err := bob.ListMessages(ctx, h.conv.ID, backend.Page{})
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Body != "hi bob" {
		t.Fatalf("bob sees %+v, want one message", history)
	}

	if _, err := bob.CreateMessage(ctx, backend.CreateMessageRequest{ConversationID: h.conv.ID, ClientID: "b1", Content: "hey alice"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "inbound message", func() bool {
		list, err := client.ListMessages(ctx, &api.ListMessagesRequest{ConversationID: h.conv.ID})
		return err == nil && len(list.Messages) == 2 && list.Messages[1].Body == "hey alice"
	})

	app.RequireStop()

	if _, err := os.Stat(h.socket); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
	if _, ok := lock.Holder(session.Dir("test")); ok {
		t.Error("lock still held after stop")
	}

	db, err := store.Open(session.CachePath("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	cached, err := db.LoadMessages(h.conv.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 2 {
		t.Errorf("cached %d messages, want 2", len(cached))
	}
	last, err := db.Checkpoint(CheckpointLastReady)
	if err != nil {
		t.Fatal(err)
	}
	if last == "" {
		t.Error("last ready checkpoint not written")
	}
}

func TestDaemonRestoresCacheWhileOffline(t *testing.T) {
	h := newHarness(t)

	app := fxtest.New(t, Module(h.params()), fx.NopLogger)
	app.RequireStart()
	client, err := api.Dial(h.socket)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	waitFor(t, "ready", func() bool {
		st, err := client.GetStatus(ctx)
		return err == nil && st.State == "READY"
	})
	if _, err := client.SendMessage(ctx, &api.SendMessageRequest{ConversationID: h.conv.ID, Body: "kept"}); err != nil {
		t.Fatal(err)
	}
	_ = client.Close()
	app.RequireStop()

	// Second run points at an endpoint that refuses connections.
	p := h.params()
	p.Config.Endpoint = "ws://127.0.0.1:1/ws"
	p.Config.APIURL = ""
	p.Config.Reconnect.MaxAttempts = 1
	app = fxtest.New(t, Module(p), fx.NopLogger)
	app.RequireStart()
	defer app.RequireStop()

	client, err = api.Dial(h.socket)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	list, err := client.ListMessages(ctx, &api.ListMessagesRequest{ConversationID: h.conv.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Messages) != 1 || list.Messages[0].Body != "kept" {
		t.Errorf("messages = %+v, want the cached one", list.Messages)
	}
}

func TestLogOutstandingCountsUnsentMessages(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	for id, st := range map[string]chat.Status{"a": chat.StatusPending, "b": chat.StatusFailed, "c": chat.StatusFailed, "d": chat.StatusSent} {
		if err := db.SaveMessage(chat.Message{ID: id, ConversationID: "c1", CreatedAt: now, Status: st}); err != nil {
			t.Fatal(err)
		}
	}

	core, logs := observer.New(zapcore.InfoLevel)
	logOutstanding(db, zap.New(core))

	entries := logs.FilterMessage("unsent messages in cache").All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["pending"] != int64(1) || fields["failed"] != int64(2) {
		t.Errorf("fields = %v", fields)
	}
}

func TestDaemonRejectsInvalidConfig(t *testing.T) {
	h := newHarness(t)
	p := h.params()
	p.Config.Token = ""

	app := fx.New(Module(p), fx.NopLogger)
	if err := app.Err(); err == nil {
		t.Fatal("expected config validation error")
	}
}

func TestSecondDaemonCannotTakeLock(t *testing.T) {
	h := newHarness(t)
	app := fxtest.New(t, Module(h.params()), fx.NopLogger)
	app.RequireStart()
	defer app.RequireStop()

	p := h.params()
	p.SocketPath = filepath.Join(h.home, "d2.sock")
	second := fx.New(Module(p), fx.NopLogger)
	if err := second.Err(); err == nil {
		t.Fatal("second daemon started on a held session")
	}
}
