// Package seriesrpc defines the SeriesService gRPC contract between the
// frontend and the backend. Messages are google.protobuf.Struct values, so
// the service needs no generated code.
package seriesrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "wedro.series.v1.SeriesService"

// Full method names.
const (
	GetSeriesMethod    = "/" + ServiceName + "/GetSeries"
	ListStationsMethod = "/" + ServiceName + "/ListStations"
)

// SeriesServer is the server API for SeriesService.
type SeriesServer interface {
	GetSeries(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListStations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterSeriesServer registers srv on s.
func RegisterSeriesServer(s grpc.ServiceRegistrar, srv SeriesServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc is the grpc.ServiceDesc for SeriesService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SeriesServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetSeries",
			Handler:    unaryHandler(GetSeriesMethod, SeriesServer.GetSeries),
		},
		{
			MethodName: "ListStations",
			Handler:    unaryHandler(ListStationsMethod, SeriesServer.ListStations),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wedro/series/v1/series.proto",
}

type unaryMethod func(SeriesServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SeriesServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SeriesServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
