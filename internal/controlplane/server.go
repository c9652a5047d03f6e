// Package controlplane exposes a thin internal gRPC surface over the
// process manager: KillAll and Stats, for a cluster supervisor to poll
// or force a drain. It is deliberately not a scheduling API — multi-host
// placement stays out of scope, this only reports and acts on what one
// gateway instance already holds.
//
// The service messages are the well-known protobuf types (Empty,
// Struct) rather than a generated package, so the RPC wiring below is
// the same shape protoc-gen-go-grpc would emit for a one-method
// request/response pair, hand-written against those stock messages.
package controlplane

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oriys/evalgw/internal/logging"
	"github.com/oriys/evalgw/internal/procmanager"
)

// Server implements the evalgw.ControlPlane gRPC service.
type Server struct {
	manager *procmanager.Manager
	grpcSrv *grpc.Server
}

// NewServer binds a control-plane surface to the given manager.
func NewServer(m *procmanager.Manager) *Server {
	return &Server{manager: m}
}

// KillAll runs the manager's KillAll: READY engines are force-killed and
// starting ones cancelled; engines with a call in flight are left alone.
func (s *Server) KillAll(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.manager.KillAll()
	return &emptypb.Empty{}, nil
}

// Stats reports this instance's engine counts and per-identifier state.
func (s *Server) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(s.manager.Stats())
}

func killAllHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).KillAll(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/evalgw.ControlPlane/KillAll"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).KillAll(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func statsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/evalgw.ControlPlane/Stats"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).Stats(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the grpc.ServiceDesc for evalgw.ControlPlane, written
// by hand in place of protoc-gen-go-grpc output.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "evalgw.ControlPlane",
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "KillAll", Handler: killAllHandler},
		{MethodName: "Stats", Handler: statsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/controlplane/server.go",
}

// Start binds addr and serves the control-plane in the background.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.grpcSrv = grpc.NewServer()
	s.grpcSrv.RegisterService(&ServiceDesc, s)

	go func() {
		logging.Op().Info("control-plane grpc server started", "addr", addr)
		if err := s.grpcSrv.Serve(lis); err != nil {
			logging.Op().Error("control-plane grpc server stopped", "error", err)
		}
	}()

	return nil
}

// Stop gracefully drains in-flight calls and shuts the listener down.
func (s *Server) Stop() {
	if s.grpcSrv != nil {
		s.grpcSrv.GracefulStop()
	}
}
