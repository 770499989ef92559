package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is a typed huddle.v1.SyncService client.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket. The connection is lazy;
// the first call fails if no daemon is listening.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, fullMethod(method), in, out, grpc.CallContentSubtype(codecName))
}

func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	out := new(StatusResponse)
	return out, c.invoke(ctx, "GetStatus", &emptypb.Empty{}, out)
}

func (c *Client) GetView(ctx context.Context) (*ViewResponse, error) {
	out := new(ViewResponse)
	return out, c.invoke(ctx, "GetView", &emptypb.Empty{}, out)
}

func (c *Client) ListConversations(ctx context.Context, refresh bool) (*ListConversationsResponse, error) {
	out := new(ListConversationsResponse)
	return out, c.invoke(ctx, "ListConversations", &ListConversationsRequest{Refresh: refresh}, out)
}

func (c *Client) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	out := new(ListMessagesResponse)
	return out, c.invoke(ctx, "ListMessages", req, out)
}

func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*MessageResponse, error) {
	out := new(MessageResponse)
	return out, c.invoke(ctx, "SendMessage", req, out)
}

func (c *Client) RetryMessage(ctx context.Context, id string) (*MessageResponse, error) {
	out := new(MessageResponse)
	return out, c.invoke(ctx, "RetryMessage", wrapperspb.String(id), out)
}

func (c *Client) EditMessage(ctx context.Context, id, body string) (*MessageResponse, error) {
	out := new(MessageResponse)
	return out, c.invoke(ctx, "EditMessage", &EditMessageRequest{MessageID: id, Body: body}, out)
}

func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.invoke(ctx, "DeleteMessage", wrapperspb.String(id), &emptypb.Empty{})
}

func (c *Client) MessageHistory(ctx context.Context, id string) (*MessageHistoryResponse, error) {
	out := new(MessageHistoryResponse)
	return out, c.invoke(ctx, "GetMessageHistory", wrapperspb.String(id), out)
}

func (c *Client) MarkRead(ctx context.Context, convID string) error {
	return c.invoke(ctx, "MarkRead", wrapperspb.String(convID), &emptypb.Empty{})
}

func (c *Client) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*ConversationResponse, error) {
	out := new(ConversationResponse)
	return out, c.invoke(ctx, "CreateConversation", req, out)
}

func (c *Client) LeaveConversation(ctx context.Context, convID string) error {
	return c.invoke(ctx, "LeaveConversation", wrapperspb.String(convID), &emptypb.Empty{})
}

func (c *Client) SetActiveConversation(ctx context.Context, convID string) error {
	return c.invoke(ctx, "SetActiveConversation", wrapperspb.String(convID), &emptypb.Empty{})
}

func (c *Client) SetTyping(ctx context.Context, convID string, typing bool) error {
	return c.invoke(ctx, "SetTyping", &SetTypingRequest{ConversationID: convID, Typing: typing}, &emptypb.Empty{})
}

func (c *Client) Reconnect(ctx context.Context) error {
	return c.invoke(ctx, "Reconnect", &emptypb.Empty{}, &emptypb.Empty{})
}

// Watcher receives events from a Watch call.
type Watcher struct {
	stream grpc.ClientStream
}

// Watch subscribes to bus events of the given kinds or namespaces. Cancel
// ctx to stop.
func (c *Client) Watch(ctx context.Context, kinds ...string) (*Watcher, error) {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("Watch"), grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&WatchRequest{Kinds: kinds}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Watcher{stream: stream}, nil
}

// Recv blocks for the next event.
func (w *Watcher) Recv() (*WatchEvent, error) {
	evt := new(WatchEvent)
	if err := w.stream.RecvMsg(evt); err != nil {
		return nil, err
	}
	return evt, nil
}
