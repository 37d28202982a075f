package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/hui-ledger/internal/adapters/security"
	"github.com/viralforge/hui-ledger/internal/application"
	"github.com/viralforge/hui-ledger/internal/contracts"
	"github.com/viralforge/hui-ledger/internal/domain"
	"github.com/viralforge/hui-ledger/internal/ports"
)

const serviceName = "hui.ledger.v1.LedgerInternalService"

type LedgerInternalService interface {
	GetPool(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetMember(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMembers(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

// Subscriber is the live side of WatchEvents.
type Subscriber interface {
	Subscribe(buffer int) (<-chan domain.Event, func())
}

type LedgerInternalServer struct {
	service     *application.Service
	subscriber  Subscriber
	watchBuffer int
}

func NewLedgerInternalServer(service *application.Service, subscriber Subscriber, watchBuffer int) *LedgerInternalServer {
	if watchBuffer <= 0 {
		watchBuffer = 256
	}
	return &LedgerInternalServer{service: service, subscriber: subscriber, watchBuffer: watchBuffer}
}

func Register(server grpc.ServiceRegistrar, svc LedgerInternalService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*LedgerInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetPool", Handler: emptyHandler("GetPool", svc.GetPool)},
			{MethodName: "GetMember", Handler: structHandler("GetMember", svc.GetMember)},
			{MethodName: "ListMembers", Handler: emptyHandler("ListMembers", svc.ListMembers)},
			{MethodName: "ListEvents", Handler: structHandler("ListEvents", svc.ListEvents)},
		},
		Streams: []grpc.StreamDesc{
			{
				StreamName:    "WatchEvents",
				Handler:       watchEventsHandler(svc),
				ServerStreams: true,
			},
		},
		Metadata: "hui/ledger/v1/ledger_internal.proto",
	}, svc)
}

func (s *LedgerInternalServer) GetPool(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	view, err := s.service.GetPool(ctx)
	if err != nil {
		return nil, statusFromError(err)
	}
	return toStruct(contracts.NewPoolResponse(view.Pool, len(view.Members)))
}

func (s *LedgerInternalServer) GetMember(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw := req.GetFields()["address"].GetStringValue()
	if raw == "" {
		return nil, status.Error(codes.InvalidArgument, "missing address")
	}
	addr, err := security.ParseAddress(raw)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	member, pool, err := s.service.GetMember(ctx, addr)
	if err != nil {
		return nil, statusFromError(err)
	}
	return toStruct(contracts.NewMemberResponse(member, pool))
}

func (s *LedgerInternalServer) ListMembers(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	view, err := s.service.GetPool(ctx)
	if err != nil {
		return nil, statusFromError(err)
	}
	out := contracts.MembersResponse{Members: make([]contracts.MemberResponse, 0, len(view.Members))}
	for _, m := range view.Members {
		out.Members = append(out.Members, contracts.NewMemberResponse(m, view.Pool))
	}
	return toStruct(out)
}

func (s *LedgerInternalServer) ListEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query, err := eventQueryFrom(req)
	if err != nil {
		return nil, err
	}
	events, err := s.service.ListEvents(ctx, query)
	if err != nil {
		return nil, statusFromError(err)
	}
	next := query.AfterSeq
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	return toStruct(contracts.EventsResponse{Events: contracts.NewEventResponses(events), NextSeq: next})
}

// WatchEvents replays history after after_seq and then follows live commits.
// The subscription is opened before the replay so nothing committed in
// between is lost. Live events can reach the hub out of commit order; a live
// event that skips ahead of the last delivered seq makes the stream refill
// the gap from history first, and anything already delivered is skipped. A
// watcher that cannot keep up gets ResourceExhausted and resumes from the
// last seq it saw.
func (s *LedgerInternalServer) WatchEvents(req *structpb.Struct, stream grpc.ServerStream) error {
	if s.subscriber == nil {
		return status.Error(codes.Unavailable, "event watch is not enabled")
	}
	query, err := eventQueryFrom(req)
	if err != nil {
		return err
	}
	ctx := stream.Context()
	live, cancel := s.subscriber.Subscribe(s.watchBuffer)
	defer cancel()

	wanted := map[string]bool{}
	for _, t := range query.Types {
		wanted[t] = true
	}
	last := query.AfterSeq
	send := func(ev domain.Event) error {
		if ev.Seq <= last {
			return nil
		}
		last = ev.Seq
		if len(wanted) > 0 && !wanted[ev.Type] {
			return nil
		}
		msg, err := toStruct(contracts.NewEventResponse(ev))
		if err != nil {
			return err
		}
		return stream.SendMsg(msg)
	}
	// catchUp sends history after last until upTo (0 means the head).
	catchUp := func(upTo uint64) error {
		for upTo == 0 || last < upTo {
			page, err := s.service.ListEvents(ctx, ports.EventQuery{AfterSeq: last})
			if err != nil {
				return statusFromError(err)
			}
			if len(page) == 0 {
				return nil
			}
			for _, ev := range page {
				if upTo != 0 && ev.Seq > upTo {
					return nil
				}
				if err := send(ev); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := catchUp(0); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-live:
			if !ok {
				return status.Errorf(codes.ResourceExhausted, "watcher fell behind; resume with after_seq=%d", last)
			}
			if ev.Seq > last+1 {
				if err := catchUp(ev.Seq - 1); err != nil {
					return err
				}
			}
			if err := send(ev); err != nil {
				return err
			}
		}
	}
}

func eventQueryFrom(req *structpb.Struct) (ports.EventQuery, error) {
	fields := req.GetFields()
	var query ports.EventQuery
	if v, ok := fields["after_seq"]; ok {
		n := v.GetNumberValue()
		if n < 0 {
			return query, status.Error(codes.InvalidArgument, "after_seq must not be negative")
		}
		query.AfterSeq = uint64(n)
	}
	if v, ok := fields["limit"]; ok {
		query.Limit = int(v.GetNumberValue())
	}
	if v, ok := fields["types"]; ok {
		for _, item := range v.GetListValue().GetValues() {
			if t := item.GetStringValue(); t != "" {
				query.Types = append(query.Types, t)
			}
		}
	}
	return query, nil
}

// toStruct converts a contracts DTO into a Struct through its JSON form, so
// gRPC and HTTP clients see the same field names.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return out, nil
}

func statusFromError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotDeployed):
		return status.Error(codes.NotFound, "pool not deployed")
	case errors.Is(err, domain.ErrNotMember):
		return status.Error(codes.NotFound, "address is not a member")
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsupportedEventType):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, "invalid or missing credentials")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")
	default:
		return status.Error(codes.Internal, fmt.Sprintf("internal error: %v", err))
	}
}

type unaryHandler = func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error)

func emptyHandler(method string, call func(context.Context, *emptypb.Empty) (*structpb.Struct, error)) unaryHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &emptypb.Empty{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*emptypb.Empty)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func structHandler(method string, call func(context.Context, *structpb.Struct) (*structpb.Struct, error)) unaryHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func watchEventsHandler(svc LedgerInternalService) grpc.StreamHandler {
	return func(_ any, stream grpc.ServerStream) error {
		req := &structpb.Struct{}
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		return svc.WatchEvents(req, stream)
	}
}
