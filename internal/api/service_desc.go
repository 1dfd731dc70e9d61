package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// QueryServiceName is the fully qualified gRPC service name.
const QueryServiceName = "nrquery.v1.QueryService"

// QueryServiceServer is the server API for the query service. Messages are
// google.protobuf.Struct documents so clients need no generated stubs.
type QueryServiceServer interface {
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reduce(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeadNodes(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterQueryServiceServer attaches srv to s.
func RegisterQueryServiceServer(s grpc.ServiceRegistrar, srv QueryServiceServer) {
	s.RegisterService(&QueryServiceDesc, srv)
}

// QueryServiceDesc describes the query service for grpc.Server.RegisterService.
var QueryServiceDesc = grpc.ServiceDesc{
	ServiceName: QueryServiceName,
	HandlerType: (*QueryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Query", Handler: unaryHandler("Query", QueryServiceServer.Query)},
		{MethodName: "Reduce", Handler: unaryHandler("Reduce", QueryServiceServer.Reduce)},
		{MethodName: "DeadNodes", Handler: unaryHandler("DeadNodes", QueryServiceServer.DeadNodes)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nrquery/v1/query.proto",
}

type structMethod func(QueryServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, method structMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + QueryServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(QueryServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return method(srv.(QueryServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
