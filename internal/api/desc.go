package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "huddle.v1.SyncService"

// Server is the daemon side of huddle.v1.SyncService.
type Server interface {
	GetStatus(context.Context, *emptypb.Empty) (*StatusResponse, error)
	GetView(context.Context, *emptypb.Empty) (*ViewResponse, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	SendMessage(context.Context, *SendMessageRequest) (*MessageResponse, error)
	RetryMessage(context.Context, *wrapperspb.StringValue) (*MessageResponse, error)
	EditMessage(context.Context, *EditMessageRequest) (*MessageResponse, error)
	DeleteMessage(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	GetMessageHistory(context.Context, *wrapperspb.StringValue) (*MessageHistoryResponse, error)
	MarkRead(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	CreateConversation(context.Context, *CreateConversationRequest) (*ConversationResponse, error)
	LeaveConversation(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	SetActiveConversation(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	SetTyping(context.Context, *SetTypingRequest) (*emptypb.Empty, error)
	Reconnect(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Watch(*WatchRequest, WatchStream) error
}

// WatchStream is the server side of a Watch call.
type WatchStream interface {
	Send(*WatchEvent) error
	Context() context.Context
}

// ServiceDesc describes huddle.v1.SyncService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", Server.GetStatus),
		unary("GetView", Server.GetView),
		unary("ListConversations", Server.ListConversations),
		unary("ListMessages", Server.ListMessages),
		unary("SendMessage", Server.SendMessage),
		unary("RetryMessage", Server.RetryMessage),
		unary("EditMessage", Server.EditMessage),
		unary("DeleteMessage", Server.DeleteMessage),
		unary("GetMessageHistory", Server.GetMessageHistory),
		unary("MarkRead", Server.MarkRead),
		unary("CreateConversation", Server.CreateConversation),
		unary("LeaveConversation", Server.LeaveConversation),
		unary("SetActiveConversation", Server.SetActiveConversation),
		unary("SetTyping", Server.SetTyping),
		unary("Reconnect", Server.Reconnect),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "huddle/v1/sync",
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

func unary[Req, Resp any](name string, call func(Server, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(Server), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(Server), ctx, req.(*Req))
			})
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(Server).Watch(in, &watchServer{stream})
}

type watchServer struct {
	grpc.ServerStream
}

func (w *watchServer) Send(evt *WatchEvent) error {
	return w.ServerStream.SendMsg(evt)
}
