// Package server exposes the rewriter over gRPC, for deployments where the
// trust boundary is a separate process from the application.
//
// The tenant travels in request metadata, never in the request body:
//
//	x-tenant-id:   7
//	x-tenant-kind: string   (optional; forces a string tenant)
//
// Without x-tenant-kind, ids that are canonical integers become integer
// tenants and everything else a string tenant (see tenantsql.ParseTenant).
package server

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/pthm/tenantsql"
)

// Metadata keys carrying the tenant.
const (
	TenantHeader     = "x-tenant-id"
	TenantKindHeader = "x-tenant-kind"
)

// Server implements RewriterServer on top of a tenantsql.Rewriter.
type Server struct {
	rw     *tenantsql.Rewriter
	logger *zap.Logger
}

var _ RewriterServer = (*Server)(nil)

// New creates a Server. A nil logger discards everything.
func New(rw *tenantsql.Rewriter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{rw: rw, logger: logger}
}

// RegisterService registers the rewriter service with g.
func (s *Server) RegisterService(g *grpc.Server) {
	g.RegisterService(&ServiceDesc, s)
}

// Rewrite scopes the statement in the request to the tenant of the call.
func (s *Server) Rewrite(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	out, err := s.rw.RewriteContext(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(out), nil
}

// Tables lists the physical tables of the statement in the request.
func (s *Server) Tables(ctx context.Context, in *wrapperspb.StringValue) (*structpb.ListValue, error) {
	tables, err := s.rw.Tables(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	values := make([]*structpb.Value, len(tables))
	for i, t := range tables {
		values[i] = structpb.NewStringValue(t.String())
	}
	return &structpb.ListValue{Values: values}, nil
}

// toStatus maps rewriter errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case tenantsql.IsNoTenantErr(err):
		return status.Error(codes.Unauthenticated, err.Error())
	case tenantsql.IsRejected(err):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// TenantFromMetadata reads the tenant of an incoming call.
func TenantFromMetadata(ctx context.Context) (tenantsql.Tenant, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return tenantsql.Tenant{}, tenantsql.ErrNoTenant
	}
	ids := md.Get(TenantHeader)
	if len(ids) != 1 {
		return tenantsql.Tenant{}, tenantsql.ErrNoTenant
	}
	if kinds := md.Get(TenantKindHeader); len(kinds) > 0 && kinds[0] == "string" {
		if ids[0] == "" {
			return tenantsql.Tenant{}, tenantsql.ErrNoTenant
		}
		return tenantsql.TenantString(ids[0]), nil
	}
	return tenantsql.ParseTenant(ids[0])
}

// TenantInterceptor attaches the tenant from call metadata to the request
// context. Calls without exactly one tenant id proceed without one and are
// refused by Rewrite.
func TenantInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if t, err := TenantFromMetadata(ctx); err == nil {
			ctx = tenantsql.WithTenant(ctx, t)
		}
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs every call with its outcome.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.Stringer("code", status.Code(err)),
		}
		if t, ok := tenantsql.TenantFromContext(ctx); ok {
			fields = append(fields, zap.String("tenant", t.String()))
		}
		if err != nil {
			logger.Info("rpc failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("rpc", fields...)
		}
		return resp, err
	}
}

// NewGRPCServer returns a grpc.Server with the rewriter service registered
// and the tenant and logging interceptors installed.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		TenantInterceptor(),
		LoggingInterceptor(s.logger),
	))
	g := grpc.NewServer(opts...)
	s.RegisterService(g)
	return g
}

// Serve accepts connections on lis until ctx is cancelled, then stops
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	g := s.NewGRPCServer()

	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Serve(lis)
	}()

	s.logger.Info("serving", zap.String("address", lis.Addr().String()))

	select {
	case <-ctx.Done():
		g.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
