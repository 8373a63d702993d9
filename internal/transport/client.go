package transport

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	taskrpcv1 "taskrpc/api/taskrpc/v1"
)

// Dial connects to a Tasks server. The connection is lazy; the first call
// establishes it.
func Dial(addr string, opts ...grpc.DialOption) (taskrpcv1.TasksClient, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return taskrpcv1.NewTasksClient(cc), cc, nil
}
