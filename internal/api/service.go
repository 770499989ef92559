// Package api exposes a session's sync engine over gRPC. The service is
// described by hand in ServiceDesc and carried with a JSON codec, so clients
// need no generated stubs; Client is the typed wrapper they use.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/chat"
	intsync "github.com/matheus3301/huddle/internal/sync"
)

// DefaultWatchKinds are streamed when a WatchRequest names none.
var DefaultWatchKinds = []string{
	string(bus.Session),
	string(bus.View),
	string(bus.Message),
	string(bus.Transport),
}

const watchBuffer = 256

// Engine is the part of *sync.Engine the service drives.
type Engine interface {
	Identity() intsync.Identity
	View() intsync.ViewState
	Conversations() []chat.Conversation
	Messages(convID string) []chat.Message
	LoadConversations(ctx context.Context) error
	LoadMessages(ctx context.Context, convID string, page backend.Page) (int, error)
	SendMessage(ctx context.Context, convID, body string, attachments []chat.Attachment) (chat.Message, error)
	RetryMessage(ctx context.Context, id string) (chat.Message, error)
	EditMessage(ctx context.Context, id, body string) (chat.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	MessageHistory(id string) ([]string, error)
	MarkRead(ctx context.Context, convID string) error
	CreateConversation(ctx context.Context, req backend.NewConversation) (chat.Conversation, error)
	LeaveConversation(ctx context.Context, convID string) error
	SetActiveConversation(ctx context.Context, convID string) error
	SetTyping(ctx context.Context, convID string, isTyping bool) error
	Reconnect(ctx context.Context) error
}

// Service implements Server on top of an Engine.
type Service struct {
	sessionName string
	startedAt   time.Time
	engine      Engine
	bus         *bus.Bus
	logger      *zap.Logger
}

// NewService creates the service for one session.
func NewService(sessionName string, engine Engine, b *bus.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sessionName: sessionName,
		startedAt:   time.Now(),
		engine:      engine,
		bus:         b,
		logger:      logger,
	}
}

func (s *Service) GetStatus(_ context.Context, _ *emptypb.Empty) (*StatusResponse, error) {
	ident := s.engine.Identity()
	v := s.engine.View()
	return &StatusResponse{
		Session:       s.sessionName,
		UserID:        ident.UserID,
		DisplayName:   ident.DisplayName,
		State:         string(v.State),
		Online:        v.Online,
		Attempt:       v.Attempt,
		Pending:       v.Pending,
		Conversations: len(v.Conversations),
		UptimeMs:      time.Since(s.startedAt).Milliseconds(),
	}, nil
}

func (s *Service) GetView(_ context.Context, _ *emptypb.Empty) (*ViewResponse, error) {
	v := s.engine.View()
	return &ViewResponse{
		State:                string(v.State),
		Online:               v.Online,
		Attempt:              v.Attempt,
		Pending:              v.Pending,
		ActiveConversationID: v.ActiveConversationID,
		Conversations:        v.Conversations,
		Messages:             v.Messages,
		Typing:               v.Typing,
	}, nil
}

func (s *Service) ListConversations(ctx context.Context, req *ListConversationsRequest) (*ListConversationsResponse, error) {
	if req.Refresh {
		if err := s.engine.LoadConversations(ctx); err != nil {
			return nil, toStatus(err)
		}
	}
	return &ListConversationsResponse{Conversations: s.engine.Conversations()}, nil
}

func (s *Service) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	if req.ConversationID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "conversationId is required")
	}
	resp := &ListMessagesResponse{}
	if req.Fetch {
		n, err := s.engine.LoadMessages(ctx, req.ConversationID, backend.Page{Before: req.Before, Limit: req.Limit})
		if err != nil {
			return nil, toStatus(err)
		}
		resp.Fetched = n
	}
	resp.Messages = window(s.engine.Messages(req.ConversationID), req.Before, req.Limit)
	return resp, nil
}

// window returns up to limit messages that precede before, oldest first.
func window(msgs []chat.Message, before string, limit int) []chat.Message {
	if before != "" {
		if i := slices.IndexFunc(msgs, func(m chat.Message) bool { return m.ID == before }); i >= 0 {
			msgs = msgs[:i]
		}
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

func (s *Service) SendMessage(ctx context.Context, req *SendMessageRequest) (*MessageResponse, error) {
	m, err := s.engine.SendMessage(ctx, req.ConversationID, req.Body, req.Attachments)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: m}, nil
}

func (s *Service) RetryMessage(ctx context.Context, req *wrapperspb.StringValue) (*MessageResponse, error) {
	m, err := s.engine.RetryMessage(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: m}, nil
}

func (s *Service) EditMessage(ctx context.Context, req *EditMessageRequest) (*MessageResponse, error) {
	m, err := s.engine.EditMessage(ctx, req.MessageID, req.Body)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: m}, nil
}

func (s *Service) GetMessageHistory(_ context.Context, req *wrapperspb.StringValue) (*MessageHistoryResponse, error) {
	revs, err := s.engine.MessageHistory(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageHistoryResponse{MessageID: req.GetValue(), Revisions: revs}, nil
}

func (s *Service) DeleteMessage(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return empty(s.engine.DeleteMessage(ctx, req.GetValue()))
}

func (s *Service) MarkRead(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return empty(s.engine.MarkRead(ctx, req.GetValue()))
}

func (s *Service) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*ConversationResponse, error) {
	if len(req.ParticipantIDs) == 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "at least one participant is required")
	}
	kind := req.Kind
	if kind == "" {
		kind = chat.KindDirect
		if len(req.ParticipantIDs) > 1 {
			kind = chat.KindGroup
		}
	}
	c, err := s.engine.CreateConversation(ctx, backend.NewConversation{
		Kind:           kind,
		Title:          req.Title,
		ParticipantIDs: req.ParticipantIDs,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &ConversationResponse{Conversation: c}, nil
}

func (s *Service) LeaveConversation(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return empty(s.engine.LeaveConversation(ctx, req.GetValue()))
}

func (s *Service) SetActiveConversation(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return empty(s.engine.SetActiveConversation(ctx, req.GetValue()))
}

func (s *Service) SetTyping(ctx context.Context, req *SetTypingRequest) (*emptypb.Empty, error) {
	return empty(s.engine.SetTyping(ctx, req.ConversationID, req.Typing))
}

func (s *Service) Reconnect(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return empty(s.engine.Reconnect(ctx))
}

// Watch streams bus events until the client goes away. Events are dropped
// for a watcher that falls more than watchBuffer behind.
func (s *Service) Watch(req *WatchRequest, stream WatchStream) error {
	kinds := req.Kinds
	if len(kinds) == 0 {
		kinds = DefaultWatchKinds
	}
	keys := make([]bus.Kind, 0, len(kinds))
	for _, k := range kinds {
		if strings.TrimSpace(k) == "" {
			return grpcstatus.Error(codes.InvalidArgument, "empty event kind")
		}
		keys = append(keys, bus.Kind(k))
	}
	ch, unsub := s.bus.Stream(watchBuffer, keys...)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if err := stream.Send(s.envelope(evt)); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *Service) envelope(evt bus.Event) *WatchEvent {
	out := &WatchEvent{
		ID:               uuid.NewString(),
		Session:          s.sessionName,
		Kind:             string(evt.Kind),
		OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
	}
	if evt.Payload != nil {
		raw, err := json.Marshal(evt.Payload)
		if err != nil {
			s.logger.Warn("watch payload not encodable", zap.String("kind", out.Kind), zap.Error(err))
		} else {
			out.Payload = raw
		}
	}
	return out
}

func empty(err error) (*emptypb.Empty, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// toStatus maps engine and API errors onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return grpcstatus.FromContextError(err).Err()
	}

	code := codes.Internal
	switch {
	case errors.Is(err, intsync.ErrUnauthenticated):
		code = codes.Unauthenticated
	case errors.Is(err, intsync.ErrEmptyMessage):
		code = codes.InvalidArgument
	case errors.Is(err, intsync.ErrUnknownConversation), errors.Is(err, intsync.ErrUnknownMessage):
		code = codes.NotFound
	case errors.Is(err, intsync.ErrNotOwner):
		code = codes.PermissionDenied
	case errors.Is(err, intsync.ErrSubmitting):
		code = codes.Aborted
	case errors.Is(err, intsync.ErrNotFailed), errors.Is(err, intsync.ErrUnconfirmed):
		code = codes.FailedPrecondition
	case errors.Is(err, intsync.ErrNoDurableAPI):
		code = codes.Unimplemented
	case errors.Is(err, intsync.ErrClosed):
		code = codes.Unavailable
	default:
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) {
			code = apiCode(apiErr.Status)
		}
	}
	return grpcstatus.Error(code, err.Error())
}

func apiCode(httpStatus int) codes.Code {
	switch {
	case httpStatus == 401:
		return codes.Unauthenticated
	case httpStatus == 403:
		return codes.PermissionDenied
	case httpStatus == 404:
		return codes.NotFound
	case httpStatus == 409:
		return codes.AlreadyExists
	case httpStatus == 429:
		return codes.ResourceExhausted
	case httpStatus >= 400 && httpStatus < 500:
		return codes.InvalidArgument
	default:
		return codes.Unavailable
	}
}
