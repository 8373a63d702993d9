// Package operation describes the named operations a client submits and
// the pipelines that chain them.
package operation

import (
	"errors"
	"fmt"
	"maps"
)

// Task names understood by the worker.
const (
	Filter         = "taskrpc.filter"
	Create         = "taskrpc.create"
	Update         = "taskrpc.update"
	UpdateOrCreate = "taskrpc.update_or_create"
	GetSet         = "taskrpc.getset"
	Delete         = "taskrpc.delete"
	Call           = "taskrpc.call"
	Pipe           = "taskrpc.pipe"
	Translate      = "taskrpc.translate"
	Result         = "taskrpc.result"
)

var ErrMalformedStep = errors.New("operation: malformed step")

// Options alter how an operation is routed and, inside a pipeline, how it
// receives its input.
type Options struct {
	// Transformer makes the step receive the previous step's result as its
	// last positional argument.
	Transformer  bool
	HighPriority bool
	RoutingKey   string
	Headers      map[string]any
}

func (o Options) clone() Options {
	o.Headers = maps.Clone(o.Headers)
	return o
}

// Operation is an immutable named call. Inputs are copied on construction
// and accessors hand out copies.
type Operation struct {
	name   string
	args   []any
	kwargs map[string]any
	opts   Options
}

func New(name string, args []any, kwargs map[string]any, opts Options) Operation {
	return Operation{
		name:   name,
		args:   cloneList(args),
		kwargs: cloneMap(kwargs),
		opts:   opts.clone(),
	}
}

func (o Operation) Name() string           { return o.name }
func (o Operation) Args() []any            { return cloneList(o.args) }
func (o Operation) Kwargs() map[string]any { return cloneMap(o.kwargs) }
func (o Operation) Options() Options       { return o.opts.clone() }
func (o Operation) IsTransformer() bool    { return o.opts.Transformer }

// AsTransformer returns a copy marked as transformer.
func (o Operation) AsTransformer() Operation {
	out := New(o.name, o.args, o.kwargs, o.opts)
	out.opts.Transformer = true
	return out
}

func (o Operation) String() string {
	return fmt.Sprintf("%s%v", o.name, o.args)
}

// Step renders the operation as a pipeline step descriptor.
func (o Operation) Step() map[string]any {
	args := cloneList(o.args)
	if args == nil {
		args = []any{}
	}
	kwargs := cloneMap(o.kwargs)
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return map[string]any{
		"name":    o.name,
		"args":    args,
		"kwargs":  kwargs,
		"options": map[string]any{"transformer": o.opts.Transformer},
	}
}

// FromStep parses a step descriptor.
func FromStep(v any) (Operation, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Operation{}, fmt.Errorf("%w: want a map, got %T", ErrMalformedStep, v)
	}
	name, _ := m["name"].(string)
	if name == "" {
		return Operation{}, fmt.Errorf("%w: missing name", ErrMalformedStep)
	}
	var args []any
	switch a := m["args"].(type) {
	case nil:
	case []any:
		args = a
	default:
		return Operation{}, fmt.Errorf("%w: %s args must be a list, got %T", ErrMalformedStep, name, a)
	}
	var kwargs map[string]any
	switch k := m["kwargs"].(type) {
	case nil:
	case map[string]any:
		kwargs = k
	default:
		return Operation{}, fmt.Errorf("%w: %s kwargs must be a map, got %T", ErrMalformedStep, name, k)
	}
	var opts Options
	if o, ok := m["options"].(map[string]any); ok {
		opts.Transformer, _ = o["transformer"].(bool)
	}
	return New(name, args, kwargs, opts), nil
}

func cloneList(in []any) []any {
	if in == nil {
		return nil
	}
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = cloneValue(v)
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		return cloneList(x)
	case map[string]any:
		return cloneMap(x)
	case []map[string]any:
		out := make([]any, len(x))
		for i, m := range x {
			out[i] = cloneMap(m)
		}
		return out
	default:
		return v
	}
}
