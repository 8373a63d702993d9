// Package transport exposes a task channel over gRPC. The server fronts a
// channel held by the worker process; remote clients reach it through
// the grpcchan package.
package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	taskrpcv1 "taskrpc/api/taskrpc/v1"
	"taskrpc/internal/channel"
	"taskrpc/internal/codec"
	"taskrpc/internal/logging"
)

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
}

// StartServer listens on addr and registers svc. Call Serve to start
// accepting calls.
func StartServer(addr string, svc *Service) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewServer(lis, svc), nil
}

// NewServer registers svc and the standard health service on an existing
// listener. Health reports SERVING for the Tasks service until Stop.
func NewServer(lis net.Listener, svc *Service) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		lis:    lis,
	}
	taskrpcv1.RegisterTasksServer(s.grpc, svc)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(taskrpcv1.Tasks_ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) Addr() net.Addr { return s.lis.Addr() }

func (s *Server) Serve() error {
	return s.grpc.Serve(s.lis)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

/*──────── service ───────*/

// Service bridges the Tasks RPCs onto a channel.
type Service struct {
	taskrpcv1.UnimplementedTasksServer

	ch               channel.Channel
	accept           []string
	resultSerializer string
	name             string
}

func NewService(ch channel.Channel, name string, accept []string, resultSerializer string) *Service {
	if resultSerializer == "" {
		resultSerializer = "x-json"
	}
	return &Service{ch: ch, name: name, accept: accept, resultSerializer: resultSerializer}
}

func (s *Service) Submit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := codec.PayloadFromValue(in.AsMap()[taskrpcv1.FieldPayload])
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	req, err := channel.DecodeRequest(p, s.accept)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	h, err := s.ch.Enqueue(ctx, req)
	if err != nil {
		logging.L().Warn("grpc submit failed", "task", req.Task, "id", req.ID, "err", err)
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{taskrpcv1.FieldHandle: string(h)})
}

func (s *Service) Await(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m := in.AsMap()
	h, _ := m[taskrpcv1.FieldHandle].(string)
	if h == "" {
		return nil, status.Error(codes.InvalidArgument, "handle required")
	}
	ms, _ := m[taskrpcv1.FieldTimeoutMS].(float64)
	res, err := s.ch.Await(ctx, channel.Handle(h), time.Duration(ms)*time.Millisecond)
	if err != nil {
		return nil, toStatus(err)
	}
	p, err := channel.EncodeResult(res, s.resultSerializer)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return structpb.NewStruct(map[string]any{taskrpcv1.FieldPayload: p.Value()})
}

func (s *Service) Ping(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	out := in.AsMap()
	out["server"] = s.name
	out["pong"] = true
	return structpb.NewStruct(out)
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, channel.ErrTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, channel.ErrUnknown):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, channel.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, channel.ErrEnqueue):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
