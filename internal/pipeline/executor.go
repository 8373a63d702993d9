// Package pipeline executes a chain of operations as one atomic unit of
// work on the worker.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"taskrpc/internal/handlers"
	"taskrpc/internal/operation"
	"taskrpc/internal/store"
	"taskrpc/internal/telemetry"
)

func init() {
	handlers.Register(operation.Pipe, func(env handlers.Env) handlers.Handler {
		e := NewExecutor(env.Registry, env.Store)
		if env.OnStep != nil {
			e.Subscribe(func(ev StepEvent) { env.OnStep(ev.Index, ev.Name, ev.Err) })
		}
		return e.Handler()
	})
}

// StepError reports which step of a pipeline failed. It unwraps to the
// error the step returned.
type StepError struct {
	Index int
	Name  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pipeline step %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// StepEvent is delivered to subscribers after every step.
type StepEvent struct {
	Index  int
	Name   string
	Result any
	Err    error
}

// accumulator is the state threaded through the steps.
type accumulator struct {
	previous any
	results  []any
}

// argsFor returns the positional arguments of op in the state acc.
func (acc accumulator) argsFor(op operation.Operation) []any {
	args := op.Args()
	if !op.IsTransformer() {
		return args
	}
	if op.Name() == operation.Result {
		return append(args, append([]any(nil), acc.results...))
	}
	return append(args, acc.previous)
}

func (acc accumulator) push(result any) accumulator {
	return accumulator{
		previous: result,
		results:  append(acc.results[:len(acc.results):len(acc.results)], result),
	}
}

type Executor struct {
	registry *handlers.Registry
	store    store.Store

	mu   sync.Mutex
	subs []func(StepEvent)
}

func NewExecutor(reg *handlers.Registry, s store.Store) *Executor {
	return &Executor{registry: reg, store: s}
}

// Subscribe registers fn to be called after each executed step.
func (e *Executor) Subscribe(fn func(StepEvent)) {
	e.mu.Lock()
	e.subs = append(e.subs, fn)
	e.mu.Unlock()
}

func (e *Executor) notify(ev StepEvent) {
	e.mu.Lock()
	subs := append([]func(StepEvent){}, e.subs...)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Execute runs steps in order inside one atomic store scope and returns
// one result per step. The first failing step aborts the pipeline and
// rolls back every write made by the steps before it.
func (e *Executor) Execute(ctx context.Context, steps []operation.Operation) ([]any, error) {
	acc := accumulator{results: make([]any, 0, len(steps))}
	headers := map[string]any{"piped": true}

	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		for i, op := range steps {
			h, err := e.registry.Lookup(op.Name())
			if err != nil {
				return &StepError{Index: i, Name: op.Name(), Err: err}
			}
			res, err := h(ctx, handlers.Call{
				Args:    acc.argsFor(op),
				Kwargs:  op.Kwargs(),
				Headers: headers,
			})
			e.notify(StepEvent{Index: i, Name: op.Name(), Result: res, Err: err})
			if err != nil {
				telemetry.PipelineSteps.WithLabelValues(op.Name(), telemetry.StatusError).Inc()
				return &StepError{Index: i, Name: op.Name(), Err: err}
			}
			telemetry.PipelineSteps.WithLabelValues(op.Name(), telemetry.StatusOK).Inc()
			acc = acc.push(res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc.results, nil
}

// Handler adapts the executor to the pipe operation, whose only argument
// is the list of step descriptors.
func (e *Executor) Handler() handlers.Handler {
	return func(ctx context.Context, c handlers.Call) (any, error) {
		var raw any
		switch {
		case len(c.Args) == 1:
			raw = c.Args[0]
		case len(c.Args) == 0:
			raw = c.Kwargs["pipeline"]
		default:
			return nil, handlers.ErrInvalidArgument.Errorf("pipe takes one argument, got %d", len(c.Args))
		}
		p, err := operation.ParsePipeline(raw)
		if err != nil {
			return nil, handlers.ErrInvalidArgument.With(err.Error())
		}
		return e.Execute(ctx, p.Steps())
	}
}
