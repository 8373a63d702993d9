package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskrpc/internal/channel"
	"taskrpc/internal/config"
	"taskrpc/internal/operation"
	"taskrpc/internal/remoteerr"
	"taskrpc/internal/store"
)

// fakeChannel records requests and answers awaits from a table.
type fakeChannel struct {
	mu          sync.Mutex
	enqueueErrs []error
	sent        []*channel.Request
	results     map[channel.Handle]*channel.Result
	awaitErr    error
	awaits      int
	timeouts    []time.Duration

	// block, when set, holds every Await until it is closed.
	block chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{results: map[channel.Handle]*channel.Result{}}
}

func (f *fakeChannel) Enqueue(_ context.Context, req *channel.Request) (channel.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.enqueueErrs) > 0 {
		err := f.enqueueErrs[0]
		f.enqueueErrs = f.enqueueErrs[1:]
		if err != nil {
			return "", err
		}
	}
	f.sent = append(f.sent, req)
	return channel.Handle(req.ID), nil
}

func (f *fakeChannel) Await(_ context.Context, h channel.Handle, timeout time.Duration) (*channel.Result, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.awaits++
	f.timeouts = append(f.timeouts, timeout)
	if f.awaitErr != nil {
		return nil, f.awaitErr
	}
	if res, ok := f.results[h]; ok {
		return res, nil
	}
	return nil, channel.ErrUnknown
}

func (f *fakeChannel) Close() error { return nil }

var fixedNow = time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)

func newTestClient(cfg config.Config, ch channel.Channel) *Client {
	c := New(cfg, ch, nil)
	c.hostname = "testhost"
	c.now = func() time.Time { return fixedNow }
	n := 0
	c.newID = func() string {
		n++
		return fmt.Sprintf("req-%d", n)
	}
	return c
}

func filterOp() operation.Operation {
	return operation.New(operation.Filter, []any{"books"}, nil, operation.Options{})
}

/*──────── building ───────*/

func TestPrepare_DefaultLane(t *testing.T) {
	c := newTestClient(config.Default(), newFakeChannel())

	req := c.Prepare(filterOp())
	assert.Equal(t, "req-1", req.ID)
	assert.Equal(t, operation.Filter, req.Task)
	assert.Equal(t, "taskrpc.requests", req.Queue)
	assert.Empty(t, req.RoutingKey, "no lane override without high priority")
	assert.Equal(t, "taskrpc_client@testhost", req.Referer())
	assert.Equal(t, fixedNow.Add(10*time.Second), req.Expires)
	assert.Equal(t, "x-json", req.Serializer)
}

func TestPrepare_HighPriority(t *testing.T) {
	c := newTestClient(config.Default(), newFakeChannel())

	req := c.Prepare(filterOp(), HighPriority(), WithTimeout(time.Minute))
	assert.Equal(t, "taskrpc.requests.high_priority", req.Queue)
	assert.Equal(t, "taskrpc.high_priority", req.RoutingKey)
	assert.Equal(t, fixedNow.Add(time.Minute), req.Expires)

	op := operation.New(operation.Filter, []any{"books"}, nil, operation.Options{HighPriority: true})
	assert.Equal(t, "taskrpc.high_priority", c.Prepare(op).RoutingKey)
}

func TestPrepare_ZeroTimeoutUsesResultTimeout(t *testing.T) {
	c := newTestClient(config.Default(), newFakeChannel())

	req := c.Prepare(filterOp(), WithTimeout(0))
	assert.False(t, req.Expires.IsZero(), "request must still expire")
	assert.Equal(t, fixedNow.Add(10*time.Second), req.Expires)
}

func TestPrepare_HeadersMerge(t *testing.T) {
	c := newTestClient(config.Default(), newFakeChannel())
	op := operation.New(operation.Filter, []any{"books"}, nil, operation.Options{
		RoutingKey: "custom",
		Headers:    map[string]any{"trace": "a", "referer": "spoofed"},
	})

	req := c.Prepare(op, WithHeader("tenant", "t1"))
	assert.Equal(t, "custom", req.RoutingKey)
	assert.Equal(t, "taskrpc.requests", req.Queue)
	assert.Equal(t, map[string]any{
		"trace":   "a",
		"tenant":  "t1",
		"referer": "taskrpc_client@testhost",
	}, req.Headers)
}

/*──────── sending ───────*/

func TestSend_RetriesEnqueueFailures(t *testing.T) {
	ch := newFakeChannel()
	ch.enqueueErrs = []error{fmt.Errorf("%w: broker down", channel.ErrEnqueue), nil}
	c := newTestClient(config.Default(), ch)

	ar, err := c.Send(context.Background(), c.Prepare(filterOp()), WithRetries(2))
	require.NoError(t, err)
	assert.Equal(t, StateEnqueued, ar.State())
	assert.Len(t, ch.sent, 1)
}

func TestSend_ExhaustedRetries(t *testing.T) {
	ch := newFakeChannel()
	ch.enqueueErrs = []error{channel.ErrEnqueue, channel.ErrEnqueue}
	c := newTestClient(config.Default(), ch)

	_, err := c.Send(context.Background(), c.Prepare(filterOp()))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequest)
	assert.ErrorIs(t, err, channel.ErrEnqueue)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, 1, reqErr.Attempts, "default of one attempt means no retry")
	assert.Len(t, ch.enqueueErrs, 1)
}

func TestSend_ClosedChannelIsNotRetried(t *testing.T) {
	ch := newFakeChannel()
	ch.enqueueErrs = []error{channel.ErrClosed, nil}
	c := newTestClient(config.Default(), ch)

	_, err := c.Send(context.Background(), c.Prepare(filterOp()), WithRetries(3))
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, 1, reqErr.Attempts)
	assert.ErrorIs(t, err, channel.ErrClosed)
}

/*──────── results ───────*/

func TestGet_Success(t *testing.T) {
	ch := newFakeChannel()
	ch.results["req-1"] = channel.Success("req-1", []any{"x"})
	c := newTestClient(config.Default(), ch)

	v, err := c.Submit(context.Background(), filterOp())
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, v)
}

func TestGet_Timeout(t *testing.T) {
	ch := newFakeChannel()
	ch.awaitErr = channel.ErrTimeout
	c := newTestClient(config.Default(), ch)

	v, err := c.Submit(context.Background(), filterOp(), NoWait())
	require.NoError(t, err)
	ar := v.(*AsyncResult)

	_, err = ar.Get(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateTimedOut, ar.State())
}

func TestGet_TerminalResultIsCached(t *testing.T) {
	ch := newFakeChannel()
	ch.results["req-1"] = channel.Success("req-1", "once")
	c := newTestClient(config.Default(), ch)

	v, err := c.Submit(context.Background(), filterOp(), NoWait())
	require.NoError(t, err)
	ar := v.(*AsyncResult)
	assert.Equal(t, StateEnqueued, ar.State())

	for i := 0; i < 3; i++ {
		got, err := ar.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "once", got)
	}
	assert.Equal(t, 1, ch.awaits)
	assert.Equal(t, StateSucceeded, ar.State())
}

func remoteFailure(t *testing.T, err error) *channel.Failure {
	t.Helper()
	env, perr := remoteerr.Pack(err, "x-json")
	require.NoError(t, perr)
	return &channel.Failure{Type: env.Class, Message: err.Error(), Envelope: env.Value()}
}

func TestGet_RemoteErrorIsUnpacked(t *testing.T) {
	cfg := config.Default()
	cfg.WrapRemoteErrors = true
	ch := newFakeChannel()
	ch.results["req-1"] = channel.Failed("req-1", remoteFailure(t, store.ErrNotFound.With("books", int64(7))))
	c := newTestClient(cfg, ch)

	_, err := c.Submit(context.Background(), filterOp())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, err, remoteerr.ErrRemote)
	assert.ErrorIs(t, err, remoteerr.ErrLookup)
	assert.NotErrorIs(t, err, ErrResponse)

	var rerr *remoteerr.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, remoteerr.Native, rerr.Resolution())
	assert.Equal(t, []any{"books", int64(7)}, rerr.Args())
}

func TestGet_WrappingDisabledGivesResponseError(t *testing.T) {
	ch := newFakeChannel()
	ch.results["req-1"] = channel.Failed("req-1", remoteFailure(t, store.ErrNotFound.With("books")))
	c := newTestClient(config.Default(), ch)

	_, err := c.Submit(context.Background(), filterOp())
	assert.ErrorIs(t, err, ErrResponse)
	assert.NotErrorIs(t, err, store.ErrNotFound)

	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, "DoesNotExist", respErr.Failure.Type)
}

func TestGet_MalformedEnvelopeGivesResponseError(t *testing.T) {
	cfg := config.Default()
	cfg.WrapRemoteErrors = true
	ch := newFakeChannel()
	ch.results["req-1"] = channel.Failed("req-1", &channel.Failure{
		Type:     "ValueError",
		Message:  "bad",
		Envelope: []any{"builtins", "ValueError"},
	})
	c := newTestClient(cfg, ch)

	_, err := c.Submit(context.Background(), filterOp())
	assert.ErrorIs(t, err, ErrResponse)
	assert.NotErrorIs(t, err, remoteerr.ErrRemote)
}

func TestGet_ChannelFailureGivesResponseError(t *testing.T) {
	ch := newFakeChannel()
	ch.awaitErr = channel.ErrClosed
	c := newTestClient(config.Default(), ch)

	_, err := c.Submit(context.Background(), filterOp())
	assert.ErrorIs(t, err, ErrResponse)
	assert.ErrorIs(t, err, channel.ErrClosed)
}

func TestGetResult_ByHandle(t *testing.T) {
	ch := newFakeChannel()
	ch.results["h"] = channel.Success("h", int64(3))
	c := newTestClient(config.Default(), ch)

	v, err := c.GetResult(context.Background(), "h", time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestGetResult_ZeroTimeoutUsesResultTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.ResultTimeout = 50 * time.Millisecond
	ch := newFakeChannel()
	ch.results["h"] = channel.Success("h", "ok")
	c := newTestClient(cfg, ch)

	_, err := c.GetResult(context.Background(), "h", 0)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{50 * time.Millisecond}, ch.timeouts)

	ch.awaitErr = channel.ErrTimeout
	_, err = c.GetResult(context.Background(), "h", 0)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "result (h)")
}

func TestGet_StateDoesNotWaitForResult(t *testing.T) {
	ch := newFakeChannel()
	ch.block = make(chan struct{})
	ch.results["req-1"] = channel.Success("req-1", "late")
	c := newTestClient(config.Default(), ch)

	v, err := c.Submit(context.Background(), filterOp(), NoWait())
	require.NoError(t, err)
	ar := v.(*AsyncResult)

	done := make(chan any, 2)
	for i := 0; i < 2; i++ {
		go func() {
			got, _ := ar.Get(context.Background())
			done <- got
		}()
	}

	states := make(chan State, 1)
	go func() { states <- ar.State() }()
	select {
	case st := <-states:
		assert.Equal(t, StateEnqueued, st)
	case <-time.After(time.Second):
		t.Fatal("State blocked behind a pending Get")
	}

	close(ch.block)
	assert.Equal(t, "late", <-done)
	assert.Equal(t, "late", <-done)
	assert.Equal(t, StateSucceeded, ar.State())
	assert.Equal(t, 1, ch.awaits, "second Get reuses the settled result")
}

/*──────── helpers ───────*/

func TestHelpers_RejectBadData(t *testing.T) {
	ch := newFakeChannel()
	c := newTestClient(config.Default(), ch)
	ctx := context.Background()

	_, err := c.Update(ctx, "books", "not a record", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = c.Create(ctx, "books", 42, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = c.Filter(ctx, "", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = c.Call(ctx, "", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, ch.sent)
}

func TestHelpers_BuildOperations(t *testing.T) {
	ch := newFakeChannel()
	c := newTestClient(config.Default(), ch)
	ctx := context.Background()

	_, err := c.GetSet(ctx, "books", map[string]any{"id": int64(1), "title": "X"}, nil, NoWait())
	require.NoError(t, err)
	_, err = c.Call(ctx, "echo", nil, nil, NoWait())
	require.NoError(t, err)

	require.Len(t, ch.sent, 2)
	assert.Equal(t, operation.GetSet, ch.sent[0].Task)
	assert.Equal(t, []any{"books", map[string]any{"id": int64(1), "title": "X"}}, ch.sent[0].Args)
	assert.Equal(t, operation.Call, ch.sent[1].Task)
	assert.Equal(t, []any{"echo", []any{}, map[string]any{}}, ch.sent[1].Args)
}

/*──────── pipe ───────*/

func TestPipe_IsPersistent(t *testing.T) {
	c := newTestClient(config.Default(), newFakeChannel())

	base := c.Pipe().Filter("books", nil)
	a := base.Delete("books", nil, nil)
	b := base.Translate(map[string]any{"name": "title"}, nil).Result(0)

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, 3, b.Len())

	steps := b.Pipeline().Steps()
	assert.False(t, steps[0].IsTransformer())
	assert.True(t, steps[1].IsTransformer())
	assert.Equal(t, operation.Result, steps[2].Name())
	assert.True(t, a.Pipeline().Steps()[1].IsTransformer())
}

func TestPipe_DataGivenIsNotTransformer(t *testing.T) {
	c := newTestClient(config.Default(), newFakeChannel())

	p := c.Pipe().Update("books", map[string]any{"id": int64(1)}, nil)
	assert.False(t, p.Pipeline().Steps()[0].IsTransformer())
}

func TestPipe_InvalidStepIsNotSent(t *testing.T) {
	ch := newFakeChannel()
	c := newTestClient(config.Default(), ch)

	_, err := c.Pipe().Filter("books", nil).Update("books", "oops", nil).Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, ch.sent)
}

func TestPipe_SubmittedAsOnePipeOperation(t *testing.T) {
	ch := newFakeChannel()
	ch.results["req-1"] = channel.Success("req-1", []any{[]any{}, nil})
	c := newTestClient(config.Default(), ch)

	got, err := c.Pipe().Filter("books", nil).Delete("books", nil, nil).Run(context.Background(), HighPriority())
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{}, nil}, got)

	require.Len(t, ch.sent, 1)
	req := ch.sent[0]
	assert.Equal(t, operation.Pipe, req.Task)
	assert.Equal(t, "taskrpc.requests.high_priority", req.Queue)
	require.Len(t, req.Args, 1)
	parsed, err := operation.ParsePipeline(req.Args[0])
	require.NoError(t, err)
	assert.Equal(t, 2, parsed.Len())
}
