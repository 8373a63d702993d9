// Package taskrpcv1 is the gRPC surface of the task channel. Messages are
// google.protobuf.Struct values carrying codec payloads, so requests keep
// the serializer the client chose end to end.
package taskrpcv1

import (
	context "context"

	grpc "google.golang.org/grpc"
	codes "google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

const _ = grpc.SupportPackageIsVersion9

const (
	Tasks_Submit_FullMethodName = "/taskrpc.v1.Tasks/Submit"
	Tasks_Await_FullMethodName  = "/taskrpc.v1.Tasks/Await"
	Tasks_Ping_FullMethodName   = "/taskrpc.v1.Tasks/Ping"
)

// Field names used inside the Struct messages.
const (
	FieldPayload   = "payload"
	FieldHandle    = "handle"
	FieldTimeoutMS = "timeout_ms"
)

type TasksClient interface {
	Submit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Await(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Ping(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type tasksClient struct {
	cc grpc.ClientConnInterface
}

func NewTasksClient(cc grpc.ClientConnInterface) TasksClient {
	return &tasksClient{cc}
}

func (c *tasksClient) Submit(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, Tasks_Submit_FullMethodName, in, opts)
}

func (c *tasksClient) Await(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, Tasks_Await_FullMethodName, in, opts)
}

func (c *tasksClient) Ping(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, Tasks_Ping_FullMethodName, in, opts)
}

func (c *tasksClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	cOpts := append([]grpc.CallOption{grpc.StaticMethod()}, opts...)
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, cOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

type TasksServer interface {
	Submit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Await(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Ping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	mustEmbedUnimplementedTasksServer()
}

type UnimplementedTasksServer struct{}

func (UnimplementedTasksServer) Submit(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Submit not implemented")
}
func (UnimplementedTasksServer) Await(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Await not implemented")
}
func (UnimplementedTasksServer) Ping(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Ping not implemented")
}
func (UnimplementedTasksServer) mustEmbedUnimplementedTasksServer() {}
func (UnimplementedTasksServer) testEmbeddedByValue()               {}

func RegisterTasksServer(s grpc.ServiceRegistrar, srv TasksServer) {
	if t, ok := srv.(interface{ testEmbeddedByValue() }); ok {
		t.testEmbeddedByValue()
	}
	s.RegisterService(&Tasks_ServiceDesc, srv)
}

func unaryHandler(method string, call func(TasksServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TasksServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: method,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(TasksServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var Tasks_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "taskrpc.v1.Tasks",
	HandlerType: (*TasksServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Submit",
			Handler:    unaryHandler(Tasks_Submit_FullMethodName, TasksServer.Submit),
		},
		{
			MethodName: "Await",
			Handler:    unaryHandler(Tasks_Await_FullMethodName, TasksServer.Await),
		},
		{
			MethodName: "Ping",
			Handler:    unaryHandler(Tasks_Ping_FullMethodName, TasksServer.Ping),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "taskrpc/v1/tasks.proto",
}
