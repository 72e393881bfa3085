package api

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/mediaqueue"
	"github.com/tupski/wa-monitor/internal/profile"
	"github.com/tupski/wa-monitor/internal/source"
	intsync "github.com/tupski/wa-monitor/internal/sync"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "wamon.v1.Monitor"

type Empty struct{}

type ListChatsResponse struct {
	Chats []chat.Conversation `json:"chats"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

type GetMessagesResponse struct {
	Messages []chat.Message `json:"messages"`
}

type CallLogsResponse struct {
	Calls []chat.CallLog `json:"calls"`
}

type StopSyncResponse struct {
	Stopped bool `json:"stopped"`
}

type RequestMediaRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

type RequestMediaResponse struct {
	RequestID int64  `json:"requestId"`
	Status    string `json:"status"`
}

type LoadProfilesRequest struct {
	IDs []string `json:"ids"`
}

type ContactRequest struct {
	ContactID string `json:"contactId"`
}

type WatchEventsRequest struct {
	// Prefix filters events by kind; empty receives everything.
	Prefix string `json:"prefix"`
}

// MonitorServer is the server API of the Monitor service.
type MonitorServer interface {
	Status(context.Context, *Empty) (*StatusReport, error)
	ListChats(context.Context, *Empty) (*ListChatsResponse, error)
	GetMessages(context.Context, *ConversationRequest) (*GetMessagesResponse, error)
	GetCallLogs(context.Context, *ConversationRequest) (*CallLogsResponse, error)
	StartSync(context.Context, *Empty) (*intsync.StartResult, error)
	StopSync(context.Context, *Empty) (*StopSyncResponse, error)
	SyncProgress(context.Context, *Empty) (*intsync.Progress, error)
	RequestMedia(context.Context, *RequestMediaRequest) (*RequestMediaResponse, error)
	LoadProfiles(context.Context, *LoadProfilesRequest) (*profile.Summary, error)
	LoadProfile(context.Context, *ContactRequest) (*profile.Item, error)
	GetContact(context.Context, *ContactRequest) (*chat.Contact, error)
	GetSelf(context.Context, *Empty) (*chat.Contact, error)
	WatchEvents(*WatchEventsRequest, grpc.ServerStreamingServer[Envelope]) error
}

func unary[Req, Resp any](name string, call func(MonitorServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MonitorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MonitorServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MonitorServer).WatchEvents(in, &grpc.GenericServerStream[WatchEventsRequest, Envelope]{ServerStream: stream})
}

// ServiceDesc describes the Monitor service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MonitorServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", MonitorServer.Status),
		unary("ListChats", MonitorServer.ListChats),
		unary("GetMessages", MonitorServer.GetMessages),
		unary("GetCallLogs", MonitorServer.GetCallLogs),
		unary("StartSync", MonitorServer.StartSync),
		unary("StopSync", MonitorServer.StopSync),
		unary("SyncProgress", MonitorServer.SyncProgress),
		unary("RequestMedia", MonitorServer.RequestMedia),
		unary("LoadProfiles", MonitorServer.LoadProfiles),
		unary("LoadProfile", MonitorServer.LoadProfile),
		unary("GetContact", MonitorServer.GetContact),
		unary("GetSelf", MonitorServer.GetSelf),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "wamon/v1/monitor",
}

// Register attaches a MonitorServer to s.
func Register(s grpc.ServiceRegistrar, srv MonitorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Service implements MonitorServer on top of a Monitor.
type Service struct {
	m *Monitor
}

// NewService creates the gRPC service for m.
func NewService(m *Monitor) *Service {
	return &Service{m: m}
}

func (s *Service) Status(_ context.Context, _ *Empty) (*StatusReport, error) {
	report := s.m.Status()
	return &report, nil
}

func (s *Service) ListChats(ctx context.Context, _ *Empty) (*ListChatsResponse, error) {
	chats, err := s.m.ListConversations(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListChatsResponse{Chats: chats}, nil
}

func (s *Service) GetMessages(_ context.Context, req *ConversationRequest) (*GetMessagesResponse, error) {
	msgs, err := s.m.GetMessages(req.ConversationID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetMessagesResponse{Messages: msgs}, nil
}

func (s *Service) GetCallLogs(_ context.Context, req *ConversationRequest) (*CallLogsResponse, error) {
	if req.ConversationID == "" {
		return nil, toStatus(ErrInvalidArgument)
	}
	return &CallLogsResponse{Calls: s.m.GetCallLogs(req.ConversationID)}, nil
}

func (s *Service) StartSync(_ context.Context, _ *Empty) (*intsync.StartResult, error) {
	res := s.m.StartSync()
	return &res, nil
}

func (s *Service) StopSync(_ context.Context, _ *Empty) (*StopSyncResponse, error) {
	return &StopSyncResponse{Stopped: s.m.StopSync()}, nil
}

func (s *Service) SyncProgress(_ context.Context, _ *Empty) (*intsync.Progress, error) {
	p := s.m.GetSyncProgress()
	return &p, nil
}

func (s *Service) RequestMedia(_ context.Context, req *RequestMediaRequest) (*RequestMediaResponse, error) {
	mr, err := s.m.RequestMediaDownload(req.MessageID, req.ConversationID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RequestMediaResponse{RequestID: mr.ID, Status: mr.Status}, nil
}

func (s *Service) LoadProfiles(ctx context.Context, req *LoadProfilesRequest) (*profile.Summary, error) {
	sum, err := s.m.LoadProfiles(ctx, req.IDs)
	if err != nil {
		return nil, toStatus(err)
	}
	return &sum, nil
}

func (s *Service) LoadProfile(ctx context.Context, req *ContactRequest) (*profile.Item, error) {
	item, err := s.m.LoadProfile(ctx, req.ContactID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &item, nil
}

func (s *Service) GetContact(ctx context.Context, req *ContactRequest) (*chat.Contact, error) {
	c, err := s.m.GetContactInfo(ctx, req.ContactID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &c, nil
}

func (s *Service) GetSelf(ctx context.Context, _ *Empty) (*chat.Contact, error) {
	c, err := s.m.GetSelfInfo(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &c, nil
}

func (s *Service) WatchEvents(req *WatchEventsRequest, stream grpc.ServerStreamingServer[Envelope]) error {
	ch, unsub := s.m.Bus.Subscribe(req.Prefix, 256)
	defer unsub()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := NewEnvelope(s.m.Session, evt)
			if err != nil {
				s.m.Logger.Warn("dropping event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(env); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, mediaqueue.ErrMessageNotFound), errors.Is(err, source.ErrUnknownContact):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrUnsupported):
		return grpcstatus.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, profile.ErrBusy):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	default:
		return grpcstatus.Errorf(codes.Internal, "%v", err)
	}
}
