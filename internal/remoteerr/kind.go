// Package remoteerr tunnels typed errors from the worker back to the client.
//
// A worker packs a failure into an Envelope: the module and name of the
// error kind plus its constructor arguments, encoded by a codec. The client
// hands the envelope to a Registry which rebuilds an *Error whose Class is
// synthesized once per qualified name. A rebuilt error always matches
// ErrRemote, matches its Class and every ancestor Class, and, when the kind
// is compiled into the local binary, matches the native *Kind as well:
//
//	err := reg.Unpack(envelope, "x-json")
//	errors.Is(err, remoteerr.ErrRemote)    // true
//	errors.Is(err, store.ErrNotFound)      // true when the kind is known locally
//	errors.Is(err, reg.Get("pkg.Custom")) // true for the synthesized class
package remoteerr

import (
	"fmt"
	"strings"
)

// ErrRemote is the marker every reconstructed error matches.
var ErrRemote = &Kind{module: "taskrpc.remoteerr", name: "RemoteError"}

// Builtin kinds shared with workers written in other languages.
var (
	ErrException = NewKind("builtins", "Exception")
	ErrValue     = NewKind("builtins", "ValueError", ErrException)
	ErrType      = NewKind("builtins", "TypeError", ErrException)
	ErrRuntime   = NewKind("builtins", "RuntimeError", ErrException)
	ErrImport    = NewKind("builtins", "ImportError", ErrException)
	ErrLookup    = NewKind("builtins", "LookupError", ErrException)
	ErrKey       = NewKind("builtins", "KeyError", ErrLookup)
	ErrIndex     = NewKind("builtins", "IndexError", ErrLookup)
)

// Kind is an error kind that can cross the wire. Kinds are declared at
// package level with NewKind and raised with With.
type Kind struct {
	module  string
	name    string
	parents []*Kind
}

// catalog holds every kind compiled into the binary. It is written only
// while package-level variables are initialized.
var catalog = map[string]*Kind{}

// NewKind declares a kind. Declaring the same qualified name twice replaces
// the catalog entry.
func NewKind(module, name string, parents ...*Kind) *Kind {
	k := &Kind{module: module, name: name, parents: parents}
	catalog[k.QualifiedName()] = k
	return k
}

// LookupKind finds a kind declared anywhere in the binary.
func LookupKind(qualified string) (*Kind, bool) {
	k, ok := catalog[qualified]
	return k, ok
}

func (k *Kind) Error() string  { return k.name }
func (k *Kind) Module() string { return k.module }
func (k *Kind) Name() string   { return k.name }

func (k *Kind) QualifiedName() string { return qualify(k.module, k.name) }

func (k *Kind) RemoteName() (string, string) { return k.module, k.name }

// Unwrap exposes the parent kinds to errors.Is.
func (k *Kind) Unwrap() []error {
	if len(k.parents) == 0 {
		return nil
	}
	out := make([]error, len(k.parents))
	for i, p := range k.parents {
		out[i] = p
	}
	return out
}

// With raises the kind with constructor arguments.
func (k *Kind) With(args ...any) error {
	return &kindError{kind: k, args: args}
}

// Errorf raises the kind with a single formatted message argument.
func (k *Kind) Errorf(format string, a ...any) error {
	return k.With(fmt.Sprintf(format, a...))
}

type kindError struct {
	kind *Kind
	args []any
}

func (e *kindError) Error() string                { return formatError(e.kind.name, e.args) }
func (e *kindError) Unwrap() error                { return e.kind }
func (e *kindError) RemoteName() (string, string) { return e.kind.RemoteName() }
func (e *kindError) RemoteArgs() []any            { return e.args }

func formatError(name string, args []any) string {
	switch len(args) {
	case 0:
		return name
	case 1:
		return name + ": " + fmt.Sprint(args[0])
	default:
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprint(a)
		}
		return name + ": (" + strings.Join(parts, ", ") + ")"
	}
}

func qualify(module, name string) string {
	if module == "" {
		return name
	}
	return module + "." + name
}

// split is the inverse of qualify; class names never contain dots.
func split(qualified string) (module, name string) {
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		return qualified[:i], qualified[i+1:]
	}
	return "", qualified
}
