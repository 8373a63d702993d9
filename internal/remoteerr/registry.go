package remoteerr

import (
	"slices"
	"sync"

	"taskrpc/internal/codec"
	"taskrpc/internal/logging"
)

// Resolution tells whether a reconstructed error's kind was found in the
// local binary.
type Resolution int

const (
	Unknown Resolution = iota
	Native
)

func (r Resolution) String() string {
	if r == Native {
		return "native"
	}
	return "unknown"
}

// Class is a synthesized remote error type. It implements error only so it
// can be used as an errors.Is target.
type Class struct {
	module  string
	name    string
	native  *Kind
	parents []*Class
}

func (c *Class) Error() string         { return c.QualifiedName() }
func (c *Class) Module() string        { return c.module }
func (c *Class) Name() string          { return c.name }
func (c *Class) QualifiedName() string { return qualify(c.module, c.name) }

// Native returns the resolved local kind, nil for stub classes.
func (c *Class) Native() *Kind { return c.native }

func (c *Class) Resolution() Resolution {
	if c.native != nil {
		return Native
	}
	return Unknown
}

// New instantiates the class.
func (c *Class) New(args ...any) *Error {
	return &Error{class: c, args: slices.Clone(args)}
}

// IsSubclassOf reports whether other is c or one of its ancestors.
func (c *Class) IsSubclassOf(other *Class) bool {
	if c == other {
		return true
	}
	for _, p := range c.parents {
		if p.IsSubclassOf(other) {
			return true
		}
	}
	return false
}

func (c *Class) natives() []error {
	var out []error
	if c.native != nil {
		out = append(out, c.native)
	}
	for _, p := range c.parents {
		out = append(out, p.natives()...)
	}
	return out
}

// Error is a reconstructed remote error.
type Error struct {
	class *Class
	args  []any
}

func (e *Error) Error() string { return formatError(e.class.name, e.args) }

func (e *Error) Class() *Class { return e.class }

func (e *Error) Resolution() Resolution { return e.class.Resolution() }

// OriginalType is the qualified name of the remote kind.
func (e *Error) OriginalType() string { return e.class.QualifiedName() }

func (e *Error) Args() []any { return slices.Clone(e.args) }

func (e *Error) RemoteName() (string, string) { return e.class.module, e.class.name }
func (e *Error) RemoteArgs() []any            { return e.Args() }

// Is matches the class and its ancestors.
func (e *Error) Is(target error) bool {
	if c, ok := target.(*Class); ok {
		return e.class.IsSubclassOf(c)
	}
	return false
}

// Unwrap exposes the native kinds and the remote marker.
func (e *Error) Unwrap() []error {
	return append(e.class.natives(), ErrRemote)
}

/*──────── registry ───────*/

type Option func(*Registry)

// WithAccept restricts the codecs allowed to decode envelope arguments.
func WithAccept(names ...string) Option {
	return func(r *Registry) { r.accept = slices.Clone(names) }
}

// WithKinds registers kinds the registry resolves in addition to the ones
// declared with NewKind.
func WithKinds(kinds ...*Kind) Option {
	return func(r *Registry) { r.Register(kinds...) }
}

// Registry caches synthesized classes by qualified name.
type Registry struct {
	mu      sync.Mutex
	classes map[string]*Class
	kinds   map[string]*Kind
	accept  []string
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		classes: make(map[string]*Class),
		kinds:   make(map[string]*Kind),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register makes kinds resolvable by this registry.
func (r *Registry) Register(kinds ...*Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range kinds {
		r.kinds[k.QualifiedName()] = k
	}
}

func (r *Registry) resolveLocked(qualified string) *Kind {
	if k, ok := r.kinds[qualified]; ok {
		return k
	}
	if k, ok := LookupKind(qualified); ok {
		return k
	}
	return nil
}

// Class returns the class for module.name, synthesizing it on first use.
func (r *Registry) Class(module, name string) *Class {
	key := qualify(module, name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.classes[key]; ok {
		return c
	}
	c := &Class{module: module, name: name, native: r.resolveLocked(key)}
	r.classes[key] = c
	return c
}

// Get returns the cached class for a qualified name, or creates a stub
// whose only ancestor is the remote marker.
func (r *Registry) Get(qualified string) *Class {
	module, name := split(qualified)
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.classes[qualified]; ok {
		return c
	}
	c := &Class{module: module, name: name}
	r.classes[qualified] = c
	return c
}

// Subclass registers a class named qualified whose parent is parent (nil
// means the marker only), replacing any cached class of that name.
func (r *Registry) Subclass(parent *Class, qualified string) *Class {
	module, name := split(qualified)
	c := &Class{module: module, name: name}
	if parent != nil {
		c.parents = []*Class{parent}
	}
	r.mu.Lock()
	r.classes[qualified] = c
	r.mu.Unlock()
	return c
}

// Flush forgets every synthesized class.
func (r *Registry) Flush() {
	r.mu.Lock()
	r.classes = make(map[string]*Class)
	r.mu.Unlock()
}

// Len is the number of cached classes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.classes)
}

// Pack builds an envelope for err.
func (r *Registry) Pack(err error, serializer string) (Envelope, error) {
	return Pack(err, serializer)
}

// Unpack rebuilds the error carried by data, an envelope in wire form.
// serializer names the codec used when the payload carries no content type.
// It returns nil when data cannot be unpacked for any reason.
func (r *Registry) Unpack(data any, serializer string) *Error {
	env, err := EnvelopeFromValue(data)
	if err != nil {
		logging.L().Debug("remoteerr: not an envelope", "err", err)
		return nil
	}
	if env.Args.ContentType == "" {
		c, err := codec.Lookup(serializer)
		if err != nil {
			logging.L().Debug("remoteerr: unknown serializer", "serializer", serializer)
			return nil
		}
		env.Args.ContentType = c.ContentType()
	}
	decoded, err := codec.Decode(env.Args, r.accept)
	if err != nil {
		logging.L().Debug("remoteerr: cannot decode envelope args", "class", env.Class, "err", err)
		return nil
	}
	args, ok := decoded.([]any)
	if !ok {
		logging.L().Debug("remoteerr: envelope args are not a list", "class", env.Class)
		return nil
	}
	return r.Class(env.Module, env.Class).New(args...)
}
