package grpcchan

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"taskrpc/internal/channel"
	"taskrpc/internal/channel/memory"
	"taskrpc/internal/transport"
)

func startServer(t *testing.T) (*memory.Broker, *Channel) {
	t.Helper()
	broker := memory.NewBroker()
	lis := bufconn.Listen(1 << 20)
	srv := transport.NewServer(lis, transport.NewService(broker, "test-worker", nil, "json"))
	go func() { _ = srv.Serve() }()

	rpc, cc, err := transport.Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)

	ch := New(rpc, cc, nil)
	t.Cleanup(func() {
		_ = ch.Close()
		srv.Stop()
		_ = broker.Close()
	})
	return broker, ch
}

func TestSubmitAndAwait(t *testing.T) {
	broker, ch := startServer(t)
	ctx := context.Background()

	req := &channel.Request{
		ID:         "grpc-1",
		Task:       "taskrpc.call",
		Args:       []any{"echo"},
		Queue:      "taskrpc.requests",
		Serializer: "x-protobuf",
	}
	h, err := ch.Enqueue(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, channel.Handle("grpc-1"), h)

	go func() {
		d, err := broker.Next(ctx)
		if err != nil {
			return
		}
		_ = broker.Publish(ctx, d.Request, channel.Success(d.Request.ID, d.Request.Args))
		d.Ack()
	}()

	res, err := ch.Await(ctx, h, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, channel.StatusSuccess, res.Status)
	assert.Equal(t, []any{"echo"}, res.Value)
}

func TestAwait_Timeout(t *testing.T) {
	_, ch := startServer(t)
	ctx := context.Background()

	h, err := ch.Enqueue(ctx, &channel.Request{ID: "slow", Task: "t", Queue: "q", Serializer: "json"})
	require.NoError(t, err)

	_, err = ch.Await(ctx, h, 20*time.Millisecond)
	assert.ErrorIs(t, err, channel.ErrTimeout)
}

func TestAwait_UnknownHandle(t *testing.T) {
	_, ch := startServer(t)

	_, err := ch.Await(context.Background(), "nope", time.Second)
	assert.ErrorIs(t, err, channel.ErrUnknown)
}

func TestEnqueue_RejectedPayload(t *testing.T) {
	_, ch := startServer(t)

	_, err := ch.Enqueue(context.Background(), &channel.Request{ID: "x", Task: "t", Serializer: "pickle"})
	assert.ErrorIs(t, err, channel.ErrEnqueue)
}

func TestPing(t *testing.T) {
	_, ch := startServer(t)

	in, err := structpb.NewStruct(map[string]any{"from": "test"})
	require.NoError(t, err)
	out, err := ch.rpc.Ping(context.Background(), in)
	require.NoError(t, err)
	m := out.AsMap()
	assert.Equal(t, "test", m["from"])
	assert.Equal(t, "test-worker", m["server"])
	assert.Equal(t, true, m["pong"])
}
