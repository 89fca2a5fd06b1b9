// Package grpc serves and calls the management API over gRPC with a JSON
// codec.
package grpc

import (
    "context"
    "errors"
    "net"
    "sync"
    "time"

    "github.com/hashicorp/go-hclog"
    "go.opentelemetry.io/otel/attribute"
    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-leaderelection/internal/logutil"
    "github.com/amirimatin/go-leaderelection/pkg/observability/tracing"
    "github.com/amirimatin/go-leaderelection/pkg/transport"
)

const serviceName = "leaderelection.v1.Management"

// Server implements transport.RPCServer.
type Server struct {
    bind string
    log  hclog.Logger

    mu     sync.Mutex
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
}

func NewServer(bind string, logger hclog.Logger) *Server {
    return &Server{bind: bind, log: logutil.Named(logger, "grpc")}
}

type empty struct{}

type statusBlob struct {
    Data []byte `json:"data"`
}

type managementServer interface {
    GetStatus(ctx context.Context, in *empty) (*statusBlob, error)
    GetLeader(ctx context.Context, in *transport.LeaderRequest) (*transport.LeaderResponse, error)
    Join(ctx context.Context, in *transport.JoinRequest) (*transport.JoinResponse, error)
    Leave(ctx context.Context, in *transport.LeaveRequest) (*transport.LeaveResponse, error)
}

type mgmtImpl struct{ h transport.Handlers }

func (m *mgmtImpl) GetStatus(ctx context.Context, _ *empty) (*statusBlob, error) {
    if m.h.Status == nil {
        return nil, status.Error(codes.Unimplemented, "status not supported")
    }
    ctx, end := tracing.StartSpan(ctx, "grpc.status")
    defer end()
    b, err := m.h.Status(ctx)
    if err != nil {
        tracing.RecordError(ctx, err)
        return nil, status.Error(codes.Internal, err.Error())
    }
    return &statusBlob{Data: b}, nil
}

func (m *mgmtImpl) GetLeader(ctx context.Context, in *transport.LeaderRequest) (*transport.LeaderResponse, error) {
    if m.h.Leader == nil {
        return nil, status.Error(codes.Unimplemented, "leader lookup not supported")
    }
    ctx, end := tracing.StartSpan(ctx, "grpc.leader", attribute.String("component", in.ComponentID))
    defer end()
    out, err := m.h.Leader(ctx, *in)
    if err != nil {
        tracing.RecordError(ctx, err)
        return nil, status.Error(codes.Internal, err.Error())
    }
    return &out, nil
}

// Join and Leave report handler errors in the reply so the leader hint
// reaches the caller.
func (m *mgmtImpl) Join(ctx context.Context, in *transport.JoinRequest) (*transport.JoinResponse, error) {
    if m.h.Join == nil {
        return &transport.JoinResponse{Error: "join not supported"}, nil
    }
    ctx, end := tracing.StartSpan(ctx, "grpc.join", attribute.String("id", in.ID))
    defer end()
    out, err := m.h.Join(ctx, *in)
    if err != nil {
        tracing.RecordError(ctx, err)
        out.Accepted = false
        if out.Error == "" { out.Error = err.Error() }
    }
    return &out, nil
}

func (m *mgmtImpl) Leave(ctx context.Context, in *transport.LeaveRequest) (*transport.LeaveResponse, error) {
    if m.h.Leave == nil {
        return &transport.LeaveResponse{Error: "leave not supported"}, nil
    }
    ctx, end := tracing.StartSpan(ctx, "grpc.leave", attribute.String("id", in.ID))
    defer end()
    out, err := m.h.Leave(ctx, *in)
    if err != nil {
        tracing.RecordError(ctx, err)
        out.Accepted = false
        if out.Error == "" { out.Error = err.Error() }
    }
    return &out, nil
}

// Hand-written service descriptor; the JSON codec makes codegen unnecessary.
var managementServiceDesc = grpc.ServiceDesc{
    ServiceName: serviceName,
    HandlerType: (*managementServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "GetStatus", Handler: unaryHandler("GetStatus", func(s managementServer, ctx context.Context, in *empty) (any, error) { return s.GetStatus(ctx, in) })},
        {MethodName: "GetLeader", Handler: unaryHandler("GetLeader", func(s managementServer, ctx context.Context, in *transport.LeaderRequest) (any, error) { return s.GetLeader(ctx, in) })},
        {MethodName: "Join", Handler: unaryHandler("Join", func(s managementServer, ctx context.Context, in *transport.JoinRequest) (any, error) { return s.Join(ctx, in) })},
        {MethodName: "Leave", Handler: unaryHandler("Leave", func(s managementServer, ctx context.Context, in *transport.LeaveRequest) (any, error) { return s.Leave(ctx, in) })},
    },
}

func unaryHandler[Req any](method string, call func(managementServer, context.Context, *Req) (any, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
    fullMethod := "/" + serviceName + "/" + method
    return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
        in := new(Req)
        if err := dec(in); err != nil {
            return nil, err
        }
        if interceptor == nil {
            return call(srv.(managementServer), ctx, in)
        }
        info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
        handler := func(ctx context.Context, req any) (any, error) {
            return call(srv.(managementServer), ctx, req.(*Req))
        }
        return interceptor(ctx, in, info, handler)
    }
}

func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.srv != nil {
        return errors.New("grpc: server already started")
    }
    lis, err := net.Listen("tcp", s.bind)
    if err != nil {
        return err
    }
    srv := grpc.NewServer(
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    )
    hs := health.NewServer()
    hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
    healthpb.RegisterHealthServer(srv, hs)
    srv.RegisterService(&managementServiceDesc, &mgmtImpl{h: h})
    s.lis, s.srv, s.health = lis, srv, hs

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
            s.log.Error("server error", "error", err)
        }
    }()
    s.log.Info("management API listening", "addr", lis.Addr().String())
    return nil
}

func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.lis != nil {
        return s.lis.Addr().String()
    }
    return s.bind
}

// Stop drains in-flight calls, forcing the stop after two seconds or when
// ctx ends.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv, hs := s.srv, s.health
    s.srv, s.health = nil, nil
    s.mu.Unlock()
    if srv == nil {
        return nil
    }
    hs.Shutdown()
    done := make(chan struct{})
    go func() { srv.GracefulStop(); close(done) }()
    select {
    case <-done:
    case <-ctx.Done():
        srv.Stop()
    case <-time.After(2 * time.Second):
        srv.Stop()
    }
    return nil
}

var _ transport.RPCServer = (*Server)(nil)
