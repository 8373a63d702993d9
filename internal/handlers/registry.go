// Package handlers implements the operations a worker executes.
//
// Each operation registers a Factory from its file's init. A Registry is
// built from the factories for one Env, so every handler shares the same
// store and function table.
package handlers

import (
	"context"
	"sort"
	"sync"

	"taskrpc/internal/remoteerr"
	"taskrpc/internal/store"
)

var (
	ErrOperationNotFound = remoteerr.NewKind("taskrpc.handlers", "OperationNotFound", remoteerr.ErrKey)
	ErrFunctionNotFound  = remoteerr.NewKind("taskrpc.handlers", "FunctionNotFound", remoteerr.ErrImport)
	ErrInvalidArgument   = remoteerr.NewKind("taskrpc.handlers", "InvalidArgument", remoteerr.ErrType)
)

// DefaultFilterLimit caps filter results when neither the call nor the
// worker configuration sets a limit.
const DefaultFilterLimit = 1000

// Call carries the arguments of one invocation.
type Call struct {
	Args    []any
	Kwargs  map[string]any
	Headers map[string]any
}

// Piped reports whether the call runs as a pipeline step.
func (c Call) Piped() bool {
	p, _ := c.Headers["piped"].(bool)
	return p
}

type Handler func(ctx context.Context, c Call) (any, error)

// StepHook observes every pipeline step once it has run. err is nil for a
// step that succeeded.
type StepHook func(index int, name string, err error)

// Env is what handlers are built against.
type Env struct {
	Store       store.Store
	Functions   *Functions
	FilterLimit int
	OnStep      StepHook
	// Registry is set by NewRegistry to the registry being built.
	Registry *Registry
}

// Factory builds the handler of one operation.
type Factory func(env Env) Handler

var factories = map[string]Factory{}

// Register is called from each handler's init.
func Register(name string, f Factory) { factories[name] = f }

// Registry resolves operation names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry instantiates every registered factory against env.
func NewRegistry(env Env) *Registry {
	r := &Registry{handlers: make(map[string]Handler, len(factories))}
	if env.Functions == nil {
		env.Functions = NewFunctions()
	}
	if env.FilterLimit <= 0 {
		env.FilterLimit = DefaultFilterLimit
	}
	env.Registry = r
	for name, f := range factories {
		r.handlers[name] = f(env)
	}
	return r
}

// Handle installs or replaces the handler for name.
func (r *Registry) Handle(name string, h Handler) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

// Lookup fails with ErrOperationNotFound for unknown names.
func (r *Registry) Lookup(name string) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrOperationNotFound.With(name)
	}
	return h, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
