package client

import (
	"context"
	"fmt"

	"taskrpc/internal/operation"
)

// Pipe builds a pipeline submitted as one request. Pipes are values:
// every method returns a new Pipe and leaves the receiver unchanged, so a
// common prefix can be shared.
//
// A data helper called with nil data becomes a transformer and receives
// the previous step's result instead.
type Pipe struct {
	client *Client
	p      operation.Pipeline
	err    error
}

func (c *Client) Pipe() Pipe { return Pipe{client: c} }

// Then appends op as is.
func (p Pipe) Then(op operation.Operation) Pipe {
	if p.err != nil {
		return p
	}
	p.p = p.p.Then(op)
	return p
}

func (p Pipe) fail(err error) Pipe {
	if p.err == nil {
		p.err = err
	}
	return p
}

func (p Pipe) data(name, model string, data any, kwargs map[string]any) Pipe {
	if err := checkModel(name, model); err != nil {
		return p.fail(err)
	}
	if data == nil {
		return p.Then(operation.New(name, []any{model}, kwargs, operation.Options{Transformer: true}))
	}
	op, err := dataOp(name, model, data, kwargs)
	if err != nil {
		return p.fail(err)
	}
	return p.Then(op)
}

func (p Pipe) Filter(model string, kwargs map[string]any) Pipe {
	if err := checkModel(operation.Filter, model); err != nil {
		return p.fail(err)
	}
	return p.Then(operation.New(operation.Filter, []any{model}, kwargs, operation.Options{}))
}

func (p Pipe) Update(model string, data any, kwargs map[string]any) Pipe {
	return p.data(operation.Update, model, data, kwargs)
}

func (p Pipe) GetSet(model string, data any, kwargs map[string]any) Pipe {
	return p.data(operation.GetSet, model, data, kwargs)
}

func (p Pipe) UpdateOrCreate(model string, data any, kwargs map[string]any) Pipe {
	return p.data(operation.UpdateOrCreate, model, data, kwargs)
}

func (p Pipe) Create(model string, data any, kwargs map[string]any) Pipe {
	return p.data(operation.Create, model, data, kwargs)
}

func (p Pipe) Delete(model string, data any, kwargs map[string]any) Pipe {
	return p.data(operation.Delete, model, data, kwargs)
}

func (p Pipe) Call(function string, args []any, kwargs map[string]any) Pipe {
	if function == "" {
		return p.fail(fmt.Errorf("%w: call needs a function name", ErrInvalidRequest))
	}
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return p.Then(operation.New(operation.Call, []any{function, args, kwargs}, nil, operation.Options{}))
}

// Translate renames the keys of the previous result: every mapping entry
// new_key -> old_key. kwargs may carry defaults.
func (p Pipe) Translate(mapping map[string]any, kwargs map[string]any) Pipe {
	if len(mapping) == 0 {
		return p.fail(fmt.Errorf("%w: translate needs a mapping", ErrInvalidRequest))
	}
	return p.Then(operation.New(operation.Translate, []any{mapping}, kwargs, operation.Options{Transformer: true}))
}

// Result replaces the previous result with the result of step index.
func (p Pipe) Result(index int) Pipe {
	return p.Then(operation.New(operation.Result, []any{int64(index)}, nil, operation.Options{Transformer: true}))
}

func (p Pipe) Len() int { return p.p.Len() }

func (p Pipe) Pipeline() operation.Pipeline { return p.p }

// Err reports the first invalid step added to p.
func (p Pipe) Err() error { return p.err }

// Operation is the single pipe operation carrying every step.
func (p Pipe) Operation() (operation.Operation, error) {
	if p.err != nil {
		return operation.Operation{}, p.err
	}
	return PipeOperation(p.p), nil
}

// PipeOperation wraps a pipeline in the operation that runs it.
func PipeOperation(pl operation.Pipeline) operation.Operation {
	return operation.New(operation.Pipe, []any{pl.Wire()}, nil, operation.Options{})
}

// Send submits the pipeline without waiting.
func (p Pipe) Send(ctx context.Context, opts ...Option) (*AsyncResult, error) {
	op, err := p.Operation()
	if err != nil {
		return nil, err
	}
	o := p.client.options(opts)
	return p.client.send(ctx, p.client.prepare(op, o), o)
}

// Run submits the pipeline and waits for one result per step.
func (p Pipe) Run(ctx context.Context, opts ...Option) ([]any, error) {
	ar, err := p.Send(ctx, opts...)
	if err != nil {
		return nil, err
	}
	v, err := ar.Get(ctx)
	if err != nil {
		return nil, err
	}
	return asResults(v)
}

// RunPipeline submits pl and waits for its results.
func (c *Client) RunPipeline(ctx context.Context, pl operation.Pipeline, opts ...Option) ([]any, error) {
	return Pipe{client: c, p: pl}.Run(ctx, opts...)
}

func asResults(v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case nil:
		return []any{}, nil
	default:
		return nil, fmt.Errorf("%w: pipeline returned %T", ErrResponse, v)
	}
}
