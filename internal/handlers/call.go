package handlers

import (
	"context"
	"sort"
	"sync"

	"taskrpc/internal/operation"
)

func init() {
	Register(operation.Call, newCall)
}

// Function is a named procedure reachable through the call operation.
type Function func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Functions is the table of procedures exposed to clients.
type Functions struct {
	mu sync.RWMutex
	m  map[string]Function
}

func NewFunctions() *Functions {
	return &Functions{m: make(map[string]Function)}
}

func (f *Functions) Register(name string, fn Function) {
	f.mu.Lock()
	f.m[name] = fn
	f.mu.Unlock()
}

func (f *Functions) Lookup(name string) (Function, error) {
	f.mu.RLock()
	fn, ok := f.m[name]
	f.mu.RUnlock()
	if !ok {
		return nil, ErrFunctionNotFound.With(name)
	}
	return fn, nil
}

func (f *Functions) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func newCall(env Env) Handler {
	return func(ctx context.Context, c Call) (any, error) {
		in, err := bind(c, "function", "args", "kwargs")
		if err != nil {
			return nil, err
		}
		name, err := requireString(in, "function")
		if err != nil {
			return nil, err
		}
		fn, err := env.Functions.Lookup(name)
		if err != nil {
			return nil, err
		}

		var args []any
		switch a := in["args"].(type) {
		case nil:
			args = []any{}
		case []any:
			args = a
		default:
			return nil, ErrInvalidArgument.Errorf("invalid type of 'args', need: 'list', got: '%T'", a)
		}
		var kwargs map[string]any
		switch k := in["kwargs"].(type) {
		case nil:
			kwargs = map[string]any{}
		case map[string]any:
			kwargs = k
		default:
			return nil, ErrInvalidArgument.Errorf("invalid type of 'kwargs', need: 'map', got: '%T'", k)
		}
		return fn(ctx, args, kwargs)
	}
}
