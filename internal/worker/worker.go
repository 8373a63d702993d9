// Package worker executes requests taken from a task channel and publishes
// their results.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"taskrpc/internal/channel"
	"taskrpc/internal/codec"
	"taskrpc/internal/handlers"
	"taskrpc/internal/logging"
	"taskrpc/internal/operation"
	"taskrpc/internal/pipeline"
	"taskrpc/internal/remoteerr"
	"taskrpc/internal/telemetry"
)

var (
	ErrTaskExpired  = remoteerr.NewKind("taskrpc.worker", "TaskExpired", remoteerr.ErrRuntime)
	ErrTaskPanicked = remoteerr.NewKind("taskrpc.worker", "TaskPanicked", remoteerr.ErrRuntime)
)

type Options struct {
	// Concurrency bounds the requests handled at once.
	Concurrency int
	// WrapRemoteErrors packs failures into envelopes the client can
	// rebuild as typed errors.
	WrapRemoteErrors bool
	// Serializer encodes envelope arguments.
	Serializer string
	// Now defaults to time.Now.
	Now func() time.Time
}

type Worker struct {
	registry *handlers.Registry
	opts     Options
}

func New(reg *handlers.Registry, opts Options) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Serializer == "" {
		opts.Serializer = "x-json"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Worker{registry: reg, opts: opts}
}

// Handle executes req and returns its result. It never panics.
func (w *Worker) Handle(ctx context.Context, req *channel.Request) *channel.Result {
	started := time.Now()
	log := logging.L().With("task", req.Task, "id", req.ID, "referer", req.Referer(), "piped", isPiped(req))
	if key, name := subject(req); name != "" {
		log = log.With(key, name)
	}

	if req.Expired(w.opts.Now()) {
		telemetry.TasksExpired.Inc()
		telemetry.TasksTotal.WithLabelValues(req.Task, telemetry.StatusExpired).Inc()
		log.Warn("task expired before execution", "expires", req.Expires)
		return w.failure(req, ErrTaskExpired.With(req.Task, codec.FormatTime(req.Expires.UTC())))
	}

	value, err := w.run(ctx, req)
	telemetry.ObserveTask(req.Task, started, err)
	if err != nil {
		log.Warn("task failed", "err", err)
		return w.failure(req, err)
	}
	log.Debug("task done", "duration", time.Since(started))
	return channel.Success(req.ID, value)
}

func (w *Worker) run(ctx context.Context, req *channel.Request) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.L().Error("task panicked", "task", req.Task, "id", req.ID, "panic", r, "stack", string(debug.Stack()))
			err = ErrTaskPanicked.With(req.Task, fmt.Sprint(r))
		}
	}()
	h, err := w.registry.Lookup(req.Task)
	if err != nil {
		return nil, err
	}
	return h(ctx, handlers.Call{Args: req.Args, Kwargs: req.Kwargs, Headers: req.Headers})
}

// failure reports err to the client. A failed pipeline step reports the
// error that step raised.
func (w *Worker) failure(req *channel.Request, err error) *channel.Result {
	var stepErr *pipeline.StepError
	if errors.As(err, &stepErr) {
		err = stepErr.Err
	}
	_, name, _ := remoteerr.Describe(err)
	f := &channel.Failure{Type: name, Message: err.Error()}
	if w.opts.WrapRemoteErrors {
		env, perr := remoteerr.Pack(err, w.opts.Serializer)
		if perr != nil {
			logging.L().Warn("cannot pack remote error", "task", req.Task, "id", req.ID, "err", perr)
		} else {
			f.Envelope = env.Value()
		}
	}
	return channel.Failed(req.ID, f)
}

// Serve hands requests from src to at most Concurrency goroutines and
// publishes each result through pub. A request is acked once its result
// is published. Serve returns nil when src is closed.
func (w *Worker) Serve(ctx context.Context, src channel.Source, pub channel.Publisher) error {
	var g errgroup.Group
	g.SetLimit(w.opts.Concurrency)
	logging.L().Info("worker serving", "concurrency", w.opts.Concurrency, "wrap_remote_errors", w.opts.WrapRemoteErrors)

	for {
		d, err := src.Next(ctx)
		if err != nil {
			_ = g.Wait()
			if errors.Is(err, channel.ErrClosed) {
				return nil
			}
			return err
		}
		g.Go(func() error {
			res := w.Handle(ctx, d.Request)
			if err := pub.Publish(ctx, d.Request, res); err != nil {
				logging.L().Error("publish result failed", "task", d.Request.Task, "id", d.Request.ID, "err", err)
				return nil
			}
			d.Ack()
			return nil
		})
	}
}

func isPiped(req *channel.Request) bool {
	p, _ := req.Headers[channel.HeaderPiped].(bool)
	return p
}

// subject names the model or function req targets.
func subject(req *channel.Request) (key, name string) {
	if len(req.Args) == 0 {
		return "", ""
	}
	name, _ = req.Args[0].(string)
	switch req.Task {
	case operation.Call:
		return "function", name
	case operation.Filter, operation.Create, operation.Update, operation.UpdateOrCreate, operation.GetSet, operation.Delete:
		return "model", name
	}
	return "", ""
}
