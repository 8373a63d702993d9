// Package grpcchan is the client side of the task channel over gRPC.
package grpcchan

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	taskrpcv1 "taskrpc/api/taskrpc/v1"
	"taskrpc/internal/channel"
	"taskrpc/internal/codec"
)

type Channel struct {
	rpc    taskrpcv1.TasksClient
	conn   io.Closer
	accept []string
}

// New wraps rpc. conn, when non-nil, is closed by Close.
func New(rpc taskrpcv1.TasksClient, conn io.Closer, accept []string) *Channel {
	return &Channel{rpc: rpc, conn: conn, accept: accept}
}

func (c *Channel) Enqueue(ctx context.Context, req *channel.Request) (channel.Handle, error) {
	p, err := channel.EncodeRequest(req)
	if err != nil {
		return "", errors.Wrapf(channel.ErrEnqueue, "encode %s: %v", req.Task, err)
	}
	in, err := structpb.NewStruct(map[string]any{taskrpcv1.FieldPayload: p.Value()})
	if err != nil {
		return "", errors.Wrapf(channel.ErrEnqueue, "wrap %s: %v", req.Task, err)
	}
	out, err := c.rpc.Submit(ctx, in)
	if err != nil {
		return "", errors.Wrapf(channel.ErrEnqueue, "submit %s: %v", req.Task, err)
	}
	h, _ := out.AsMap()[taskrpcv1.FieldHandle].(string)
	if h == "" {
		return "", errors.Wrap(channel.ErrEnqueue, "server returned no handle")
	}
	return channel.Handle(h), nil
}

func (c *Channel) Await(ctx context.Context, h channel.Handle, timeout time.Duration) (*channel.Result, error) {
	in, err := structpb.NewStruct(map[string]any{
		taskrpcv1.FieldHandle:    string(h),
		taskrpcv1.FieldTimeoutMS: float64(timeout.Milliseconds()),
	})
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		// Leave the server room to answer with its own timeout first.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout+time.Second)
		defer cancel()
	}
	out, err := c.rpc.Await(ctx, in)
	if err != nil {
		return nil, fromStatus(err)
	}
	p, err := codec.PayloadFromValue(out.AsMap()[taskrpcv1.FieldPayload])
	if err != nil {
		return nil, err
	}
	return channel.DecodeResult(p, c.accept)
}

func (c *Channel) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return channel.ErrTimeout
	case codes.NotFound:
		return fmt.Errorf("%w: %s", channel.ErrUnknown, st.Message())
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", channel.ErrClosed, st.Message())
	case codes.Canceled:
		return context.Canceled
	default:
		return err
	}
}

var _ channel.Channel = (*Channel)(nil)
