package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"taskrpc/internal/channel/grpcchan"
	"taskrpc/internal/client"
	"taskrpc/internal/config"
	"taskrpc/internal/transport"
)

func testConfig(tr config.Transport) config.Config {
	cfg := config.Default()
	cfg.Transport = tr
	cfg.GRPC.Address = "127.0.0.1:0"
	cfg.WrapRemoteErrors = true
	cfg.ResultTimeout = 2 * time.Second
	cfg.Models = []config.Model{{Name: "books", Fields: []string{"title"}}}
	return cfg
}

func start(t *testing.T, cfg config.Config, opts ...Option) *Engine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	e, err := Bootstrap(ctx, cfg, opts...)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return e
}

func TestBootstrap_RejectsUnknownTransport(t *testing.T) {
	cfg := testConfig("carrier-pigeon")
	_, err := Bootstrap(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewStore_DefaultsPrimaryKey(t *testing.T) {
	s := NewStore([]config.Model{{Name: "books"}, {Name: "authors", PK: "slug"}})

	assert.ElementsMatch(t, []string{"books", "authors"}, s.Models())
	pk, err := s.PrimaryKey("books")
	require.NoError(t, err)
	assert.Equal(t, "id", pk)
	pk, err = s.PrimaryKey("authors")
	require.NoError(t, err)
	assert.Equal(t, "slug", pk)
}

func TestEngine_MemoryTransport(t *testing.T) {
	cfg := testConfig(config.TransportMemory)
	e := start(t, cfg, WithFunction("double", func(_ context.Context, args []any, _ map[string]any) (any, error) {
		return args[0].(int64) * 2, nil
	}))
	require.NotNil(t, e.Channel())
	assert.Nil(t, e.Addr())

	c := client.New(cfg, e.Channel(), nil)
	ctx := context.Background()

	got, err := c.Call(ctx, "double", []any{int64(21)}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	got, err = c.Call(ctx, "echo", []any{"hi"}, map[string]any{"loud": true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"args": []any{"hi"}, "kwargs": map[string]any{"loud": true}}, got)

	_, err = c.Create(ctx, "books", map[string]any{"id": int64(1), "title": "Dune"}, nil)
	require.NoError(t, err)
	rows, err := c.Filter(ctx, "books", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": int64(1), "title": "Dune"}}, rows)
}

func TestEngine_GRPCTransport(t *testing.T) {
	cfg := testConfig(config.TransportGRPC)
	cfg.TaskSerializer = "x-protobuf"
	e := start(t, cfg)
	require.NotNil(t, e.Addr())

	rpc, cc, err := transport.Dial(e.Addr().String())
	require.NoError(t, err)
	c := client.New(cfg, grpcchan.New(rpc, cc, cfg.AcceptContent), nil)
	defer c.Close()
	ctx := context.Background()

	hc, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: "taskrpc.v1.Tasks"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.GetStatus())

	got, err := c.Pipe().
		Create("books", map[string]any{"id": int64(5), "title": "Emma"}, nil).
		Filter("books", map[string]any{"filters": map[string]any{"title": "Emma"}}).
		Run(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []any{map[string]any{"id": int64(5), "title": "Emma"}}, got[1])

	_, err = c.Call(ctx, "missing", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FunctionNotFound")
}

func TestEngine_StepHookSeesPipelineSteps(t *testing.T) {
	cfg := testConfig(config.TransportMemory)
	var (
		mu    sync.Mutex
		names []string
		errs  []error
	)
	e := start(t, cfg, WithStepHook(func(index int, name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, name)
		errs = append(errs, err)
	}))

	c := client.New(cfg, e.Channel(), nil)
	_, err := c.Pipe().
		Create("books", map[string]any{"id": int64(3), "title": "Kim"}, nil).
		Filter("books", nil).
		Result(2).
		Run(context.Background())
	require.Error(t, err, "index 2 is past the two results so far")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"taskrpc.create", "taskrpc.filter", "taskrpc.result"}, names)
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Error(t, errs[2])
}
