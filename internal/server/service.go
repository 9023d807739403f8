package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tenantsql.v1.Rewriter"

const (
	rewriteMethod = "/" + ServiceName + "/Rewrite"
	tablesMethod  = "/" + ServiceName + "/Tables"
)

// RewriterServer is the server API for the tenantsql.v1.Rewriter service.
//
// Requests and responses use the well-known wrapper types, so the service
// needs no generated code:
//
//	rpc Rewrite(google.protobuf.StringValue) returns (google.protobuf.StringValue);
//	rpc Tables(google.protobuf.StringValue) returns (google.protobuf.ListValue);
type RewriterServer interface {
	Rewrite(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Tables(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
}

// ServiceDesc describes the tenantsql.v1.Rewriter service for
// grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RewriterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Rewrite", Handler: rewriteHandler},
		{MethodName: "Tables", Handler: tablesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tenantsql/v1/rewriter.proto",
}

func rewriteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RewriterServer).Rewrite(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: rewriteMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RewriterServer).Rewrite(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func tablesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RewriterServer).Tables(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: tablesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RewriterServer).Tables(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}
