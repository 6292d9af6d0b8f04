package record

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "procdb.v1.RecordService"

// ActorMetadataKey carries "user@host" of the caller for the audit log.
const ActorMetadataKey = "procdb-actor"

// Full method names.
const (
	GetMethod     = "/" + ServiceName + "/Get"
	PutMethod     = "/" + ServiceName + "/Put"
	ProcessMethod = "/" + ServiceName + "/Process"
	MonitorMethod = "/" + ServiceName + "/Monitor"
)

// RecordServiceServer is the server API of RecordService.
type RecordServiceServer interface {
	Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Put(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	Process(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	Monitor(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterRecordServiceServer registers srv on s.
func RegisterRecordServiceServer(s grpc.ServiceRegistrar, srv RecordServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc is the grpc.ServiceDesc of RecordService.
//
//nolint:gochecknoglobals // grpc.ServiceRegistrar takes the descriptor by pointer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RecordServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Put", Handler: putHandler},
		{MethodName: "Process", Handler: processHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Monitor", Handler: monitorHandler, ServerStreams: true},
	},
	Metadata: "procdb/v1/record.proto",
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(RecordServiceServer).Get(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RecordServiceServer).Get(ctx, req.(*structpb.Struct))
	}

	return interceptor(ctx, in, info, handler)
}

func putHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(RecordServiceServer).Put(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PutMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RecordServiceServer).Put(ctx, req.(*structpb.Struct))
	}

	return interceptor(ctx, in, info, handler)
}

func processHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(RecordServiceServer).Process(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ProcessMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RecordServiceServer).Process(ctx, req.(*structpb.Struct))
	}

	return interceptor(ctx, in, info, handler)
}

func monitorHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(RecordServiceServer).Monitor(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// RecordServiceClient is the client API of RecordService.
type RecordServiceClient interface {
	Get(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Put(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Process(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Monitor(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
}

type recordServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewRecordServiceClient returns a client stub bound to cc.
//
//nolint:ireturn // Mirrors the shape of generated client constructors.
func NewRecordServiceClient(cc grpc.ClientConnInterface) RecordServiceClient {
	return &recordServiceClient{cc: cc}
}

func (c *recordServiceClient) Get(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetMethod, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *recordServiceClient) Put(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, PutMethod, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *recordServiceClient) Process(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, ProcessMethod, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

//nolint:ireturn // Streams are returned as interfaces by grpc.
func (c *recordServiceClient) Monitor(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], MonitorMethod, opts...)
	if err != nil {
		return nil, err
	}

	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.SendMsg(in); err != nil {
		return nil, err
	}

	if err := x.CloseSend(); err != nil {
		return nil, err
	}

	return x, nil
}
