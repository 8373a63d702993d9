// Package client submits operations and pipelines to workers over a task
// channel and collects their results.
//
// Every submission walks the states Built, Enqueued and then one of
// Succeeded, Failed or TimedOut. A request the channel refuses ends in
// EnqueueFailed and is built again for the next attempt, up to the
// configured number of retries. Remote failures are never retried.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskrpc/internal/channel"
	"taskrpc/internal/config"
	"taskrpc/internal/logging"
	"taskrpc/internal/operation"
	"taskrpc/internal/remoteerr"
	"taskrpc/internal/telemetry"
)

type State int

const (
	StateBuilt State = iota
	StateEnqueued
	StateSucceeded
	StateFailed
	StateTimedOut
	StateEnqueueFailed
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateEnqueued:
		return "enqueued"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateEnqueueFailed:
		return "enqueue_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s can no longer change.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

type Client struct {
	cfg      config.Config
	ch       channel.Channel
	registry *remoteerr.Registry
	hostname string

	now   func() time.Time
	newID func() string
}

// New builds a client over ch. A nil registry gets a fresh one accepting
// the configured content types.
func New(cfg config.Config, ch channel.Channel, reg *remoteerr.Registry) *Client {
	if reg == nil {
		reg = remoteerr.NewRegistry(remoteerr.WithAccept(cfg.AcceptContent...))
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return &Client{
		cfg:      cfg,
		ch:       ch,
		registry: reg,
		hostname: host,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (c *Client) Registry() *remoteerr.Registry { return c.registry }

// Referer identifies this client in request headers.
func (c *Client) Referer() string { return c.cfg.ClientName + "@" + c.hostname }

func (c *Client) Close() error { return c.ch.Close() }

/*──────── building ───────*/

// Prepare builds the wire request for op.
func (c *Client) Prepare(op operation.Operation, opts ...Option) *channel.Request {
	return c.prepare(op, c.options(opts))
}

func (c *Client) prepare(op operation.Operation, o callOptions) *channel.Request {
	opOpts := op.Options()

	headers := make(map[string]any, len(opOpts.Headers)+len(o.headers)+1)
	for k, v := range opOpts.Headers {
		headers[k] = v
	}
	for k, v := range o.headers {
		headers[k] = v
	}
	headers[channel.HeaderReferer] = c.Referer()

	req := &channel.Request{
		ID:         c.newID(),
		Task:       op.Name(),
		Args:       op.Args(),
		Kwargs:     op.Kwargs(),
		Headers:    headers,
		Queue:      c.cfg.Queue,
		Serializer: c.cfg.TaskSerializer,
	}
	switch {
	case o.highPriority || opOpts.HighPriority:
		req.Queue = c.cfg.HighPriorityQueue()
		req.RoutingKey = c.cfg.HighPriorityRoutingKey()
	case opOpts.RoutingKey != "":
		req.RoutingKey = opOpts.RoutingKey
	}
	if o.timeout > 0 {
		req.Expires = c.now().Add(o.timeout)
	}
	return req
}

/*──────── sending ───────*/

// Send enqueues req, retrying enqueue failures.
func (c *Client) Send(ctx context.Context, req *channel.Request, opts ...Option) (*AsyncResult, error) {
	return c.send(ctx, req, c.options(opts))
}

func (c *Client) send(ctx context.Context, req *channel.Request, o callOptions) (*AsyncResult, error) {
	var lastErr error
	attempts := 0
	for attempts < o.retries {
		attempts++
		if attempts > 1 {
			telemetry.EnqueueRetries.Inc()
		}
		h, err := c.ch.Enqueue(ctx, req)
		if err == nil {
			logging.L().Debug("request enqueued", "task", req.Task, "id", req.ID, "queue", req.Queue, "attempt", attempts)
			return &AsyncResult{client: c, task: req.Task, id: req.ID, handle: h, timeout: o.timeout, state: StateEnqueued}, nil
		}
		lastErr = err
		logging.L().Warn("enqueue failed", "task", req.Task, "id", req.ID, "attempt", attempts, "of", o.retries, "err", err)
		if !errors.Is(err, channel.ErrEnqueue) || ctx.Err() != nil {
			break
		}
	}
	telemetry.ClientRequests.WithLabelValues(req.Task, StateEnqueueFailed.String()).Inc()
	return nil, &RequestError{Task: req.Task, ID: req.ID, Attempts: attempts, Err: lastErr}
}

/*──────── results ───────*/

// GetResult waits up to timeout for the result behind h. A timeout of zero
// uses the configured result timeout.
func (c *Client) GetResult(ctx context.Context, h channel.Handle, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = c.cfg.ResultTimeout
	}
	_, v, err := c.collect(ctx, "result", string(h), h, timeout)
	return v, err
}

func (c *Client) collect(ctx context.Context, task, id string, h channel.Handle, timeout time.Duration) (State, any, error) {
	res, err := c.ch.Await(ctx, h, timeout)
	switch {
	case errors.Is(err, channel.ErrTimeout):
		return StateTimedOut, nil, fmt.Errorf("%w: %s (%s) after %s", ErrTimeout, task, id, timeout)
	case err != nil:
		return StateFailed, nil, &ResponseError{Task: task, ID: id, Err: err}
	}

	if res.Status == channel.StatusSuccess {
		return StateSucceeded, res.Value, nil
	}
	if c.cfg.WrapRemoteErrors && res.Failure != nil && res.Failure.Envelope != nil {
		if rerr := c.registry.Unpack(res.Failure.Envelope, c.cfg.ResultSerializer); rerr != nil {
			return StateFailed, nil, rerr
		}
		logging.L().Debug("cannot unpack remote error", "task", task, "id", id)
	}
	return StateFailed, nil, &ResponseError{Task: task, ID: id, Failure: res.Failure}
}

// AsyncResult is a submitted request whose result may not have arrived.
type AsyncResult struct {
	client  *Client
	task    string
	id      string
	handle  channel.Handle
	timeout time.Duration

	// inflight serializes waits; mu only guards the fields below.
	inflight sync.Mutex

	mu    sync.Mutex
	state State
	value any
	err   error
}

func (r *AsyncResult) ID() string             { return r.id }
func (r *AsyncResult) Task() string           { return r.task }
func (r *AsyncResult) Handle() channel.Handle { return r.handle }

func (r *AsyncResult) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Get waits for the result. Once a terminal state is reached the same
// value and error are returned on every call.
func (r *AsyncResult) Get(ctx context.Context) (any, error) {
	if ok, v, err := r.settled(); ok {
		return v, err
	}

	r.inflight.Lock()
	defer r.inflight.Unlock()
	// another Get may have finished while we queued
	if ok, v, err := r.settled(); ok {
		return v, err
	}

	state, v, err := r.client.collect(ctx, r.task, r.id, r.handle, r.timeout)
	if ctx.Err() != nil && state == StateFailed {
		// The wait was abandoned; the request may still complete.
		return nil, err
	}
	r.mu.Lock()
	r.state, r.value, r.err = state, v, err
	r.mu.Unlock()
	telemetry.ClientRequests.WithLabelValues(r.task, state.String()).Inc()
	return v, err
}

func (r *AsyncResult) settled() (bool, any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Terminal(), r.value, r.err
}

/*──────── submission ───────*/

// Submit sends op and waits for its result, or returns the *AsyncResult
// when NoWait is given.
func (c *Client) Submit(ctx context.Context, op operation.Operation, opts ...Option) (any, error) {
	o := c.options(opts)
	ar, err := c.send(ctx, c.prepare(op, o), o)
	if err != nil {
		return nil, err
	}
	if o.noWait {
		return ar, nil
	}
	return ar.Get(ctx)
}
