package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/chat"
	intsync "github.com/matheus3301/huddle/internal/sync"
	"github.com/matheus3301/huddle/internal/transport"
	"github.com/matheus3301/huddle/internal/wire"
)

type fakeTransport struct {
	bus *bus.Bus

	mu   sync.Mutex
	sent []wire.Event
}

func (f *fakeTransport) Connect(context.Context, string) error {
	f.bus.Publish(bus.Event{Kind: bus.TransportConnected})
	return nil
}

func (f *fakeTransport) Reconnect(ctx context.Context) error { return f.Connect(ctx, "") }
func (f *fakeTransport) Disconnect()                         {}
func (f *fakeTransport) State() transport.State              { return transport.StateConnected }
func (f *fakeTransport) Attempt() int                        { return 0 }
func (f *fakeTransport) Pending() int                        { return 0 }

func (f *fakeTransport) Send(_ context.Context, evt wire.Event) {
	f.mu.Lock()
	f.sent = append(f.sent, evt)
	f.mu.Unlock()
}

type fixture struct {
	client *Client
	bus    *bus.Bus
	engine *intsync.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	// Short path to stay under the Unix socket length limit.
	tmpDir, err := os.MkdirTemp("/tmp", "huddle-api-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })
	socketPath := filepath.Join(tmpDir, "d.sock")

	b := bus.New(nil)
	engine := intsync.NewEngine(intsync.Identity{UserID: "me", DisplayName: "Me", Token: "tok"}, &fakeTransport{bus: b}, b, intsync.Options{})
	if err := engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(engine.Close)

	srv := grpc.NewServer()
	Register(srv, NewService("test", engine, b, nil))
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.Stop)

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return &fixture{client: c, bus: b, engine: engine}
}

// receive simulates the server pushing a message into c1.
func (f *fixture) receive(id, body string) {
	evt := wire.MessageCreate{
		Header:  wire.Header{ID: id, ConversationID: "c1", SenderID: "u2", Timestamp: time.Now()},
		Content: body,
	}
	f.bus.Publish(bus.Event{Kind: bus.InboundMessageCreate, Payload: evt})
}

func ctxTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t)

	resp, err := f.client.GetStatus(ctxTimeout(t))
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if resp.Session != "test" || resp.UserID != "me" {
		t.Errorf("status = %+v", resp)
	}
	if resp.State != "READY" || !resp.Online {
		t.Errorf("state = %s online=%v, want READY online", resp.State, resp.Online)
	}
}

func TestSendAndListMessages(t *testing.T) {
	f := newFixture(t)
	ctx := ctxTimeout(t)
	f.receive("m1", "hello")

	sent, err := f.client.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Body: "hi back"})
	if err != nil {
		t.Fatalf("SendMessage error = %v", err)
	}
	if sent.Message.Status != chat.StatusPending || sent.Message.ClientID == "" {
		t.Errorf("sent = %+v, want pending with client id", sent.Message)
	}

	list, err := f.client.ListMessages(ctx, &ListMessagesRequest{ConversationID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Messages) != 2 || list.Messages[0].Body != "hello" || list.Messages[1].Body != "hi back" {
		t.Errorf("messages = %+v", list.Messages)
	}

	convs, err := f.client.ListConversations(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs.Conversations) != 1 || convs.Conversations[0].ID != "c1" {
		t.Errorf("conversations = %+v", convs.Conversations)
	}
}

func TestActiveConversationAndView(t *testing.T) {
	f := newFixture(t)
	ctx := ctxTimeout(t)
	f.receive("m1", "hello")

	if err := f.client.SetActiveConversation(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	view, err := f.client.GetView(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if view.ActiveConversationID != "c1" || len(view.Messages) != 1 {
		t.Errorf("view = %+v", view)
	}
	if view.Conversations[0].UnreadCount != 0 {
		t.Errorf("unread = %d after selecting, want 0", view.Conversations[0].UnreadCount)
	}
}

func TestMessageHistory(t *testing.T) {
	f := newFixture(t)
	ctx := ctxTimeout(t)
	f.receive("m1", "helo")
	for i, body := range []string{"hello", "hello all"} {
		f.bus.Publish(bus.Event{Kind: bus.InboundMessageUpdate, Payload: wire.MessageUpdate{
			Header:  wire.Header{ID: "m1", ConversationID: "c1", SenderID: "u2", Timestamp: time.Now().Add(time.Duration(i+1) * time.Second)},
			Content: &body,
		}})
	}

	resp, err := f.client.MessageHistory(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got := fmt.Sprint(resp.Revisions); got != "[helo hello hello all]" {
		t.Errorf("revisions = %s", got)
	}
}

func TestErrorCodes(t *testing.T) {
	f := newFixture(t)
	ctx := ctxTimeout(t)

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"edit unknown", func() error { _, err := f.client.EditMessage(ctx, "nope", "x"); return err }, codes.NotFound},
		{"empty body", func() error {
			_, err := f.client.SendMessage(ctx, &SendMessageRequest{ConversationID: "c1", Body: "  "})
			return err
		}, codes.InvalidArgument},
		{"refresh without api", func() error { _, err := f.client.ListConversations(ctx, true); return err }, codes.Unimplemented},
		{"messages without conversation", func() error {
			_, err := f.client.ListMessages(ctx, &ListMessagesRequest{})
			return err
		}, codes.InvalidArgument},
		{"retry unknown", func() error { _, err := f.client.RetryMessage(ctx, "nope"); return err }, codes.NotFound},
		{"history unknown", func() error { _, err := f.client.MessageHistory(ctx, "nope"); return err }, codes.NotFound},
		{"select unknown", func() error { return f.client.SetActiveConversation(ctx, "nope") }, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if got := grpcstatus.Code(err); got != tt.want {
				t.Errorf("code = %v (%v), want %v", got, err, tt.want)
			}
		})
	}
}

func TestWatchStreamsEvents(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(ctxTimeout(t))
	defer cancel()

	w, err := f.client.Watch(ctx, string(bus.Message))
	if err != nil {
		t.Fatal(err)
	}

	// The server subscribes asynchronously; publish until the watcher sees one.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				f.bus.Publish(bus.Event{Kind: bus.MessageFailed, Payload: bus.SendFailure{MessageID: "m1", Err: "boom"}})
			}
		}
	}()

	evt, err := w.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != string(bus.MessageFailed) || evt.Session != "test" || evt.ID == "" {
		t.Errorf("event = %+v", evt)
	}
	if string(evt.Payload) != `{"ConversationID":"","MessageID":"m1","Err":"boom"}` {
		t.Errorf("payload = %s", evt.Payload)
	}
}

func TestWindow(t *testing.T) {
	msgs := make([]chat.Message, 5)
	for i := range msgs {
		msgs[i].ID = fmt.Sprintf("m%d", i)
	}
	tests := []struct {
		name   string
		before string
		limit  int
		want   []string
	}{
		{"all", "", 0, []string{"m0", "m1", "m2", "m3", "m4"}},
		{"tail", "", 2, []string{"m3", "m4"}},
		{"before", "m3", 0, []string{"m0", "m1", "m2"}},
		{"before with limit", "m3", 2, []string{"m1", "m2"}},
		{"unknown before", "zz", 1, []string{"m4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := window(msgs, tt.before, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d messages, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("got[%d] = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{intsync.ErrUnauthenticated, codes.Unauthenticated},
		{fmt.Errorf("wrapped: %w", intsync.ErrUnknownMessage), codes.NotFound},
		{intsync.ErrNotOwner, codes.PermissionDenied},
		{intsync.ErrSubmitting, codes.Aborted},
		{intsync.ErrUnconfirmed, codes.FailedPrecondition},
		{intsync.ErrClosed, codes.Unavailable},
		{fmt.Errorf("edit: %w", &backend.APIError{Status: 404}), codes.NotFound},
		{&backend.APIError{Status: 503}, codes.Unavailable},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		if got := grpcstatus.Code(toStatus(tt.err)); got != tt.want {
			t.Errorf("toStatus(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
