package remoteerr

import (
	"errors"
	"fmt"
	"reflect"

	"taskrpc/internal/codec"
)

var ErrMalformedEnvelope = errors.New("remoteerr: malformed envelope")

// Envelope is the wire form of a tunneled error.
type Envelope struct {
	Module string
	Class  string
	Args   codec.Payload
}

// Value renders the envelope as the 3-element wire list.
func (e Envelope) Value() []any {
	return []any{e.Module, e.Class, e.Args.Value()}
}

// EnvelopeFromValue accepts the list form produced by Value, or a map with
// module, class and args keys.
func EnvelopeFromValue(v any) (Envelope, error) {
	var module, class, args any
	switch x := v.(type) {
	case Envelope:
		return x, nil
	case []any:
		if len(x) != 3 {
			return Envelope{}, fmt.Errorf("%w: want 3 items, got %d", ErrMalformedEnvelope, len(x))
		}
		module, class, args = x[0], x[1], x[2]
	case map[string]any:
		module, class, args = x["module"], x["class"], x["args"]
	default:
		return Envelope{}, fmt.Errorf("%w: unexpected %T", ErrMalformedEnvelope, v)
	}
	m, ok1 := module.(string)
	c, ok2 := class.(string)
	if !ok1 || !ok2 || c == "" {
		return Envelope{}, fmt.Errorf("%w: module and class must be strings", ErrMalformedEnvelope)
	}
	p, err := codec.PayloadFromValue(args)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return Envelope{Module: m, Class: c, Args: p}, nil
}

type remoteNamer interface {
	RemoteName() (module, name string)
}

type remoteArgser interface {
	RemoteArgs() []any
}

// Describe names err for the wire. Errors raised from a Kind keep their
// kind and arguments; anything else is named after its Go type and carries
// its message as the only argument.
func Describe(err error) (module, name string, args []any) {
	var named remoteNamer
	if errors.As(err, &named) {
		module, name = named.RemoteName()
		var withArgs remoteArgser
		if errors.As(err, &withArgs) {
			return module, name, withArgs.RemoteArgs()
		}
		if k, ok := named.(*Kind); ok && err == error(k) {
			return module, name, nil
		}
		return module, name, []any{err.Error()}
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	name = t.Name()
	if name == "" {
		name = "error"
	}
	return t.PkgPath(), name, []any{err.Error()}
}

// Pack builds the envelope for err, encoding its arguments with the named
// codec. Arguments the codec cannot encode are replaced by the message.
func Pack(err error, serializer string) (Envelope, error) {
	module, name, args := Describe(err)
	if args == nil {
		args = []any{}
	}
	p, encErr := codec.Encode(serializer, args)
	if encErr != nil {
		p, encErr = codec.Encode(serializer, []any{err.Error()})
		if encErr != nil {
			return Envelope{}, encErr
		}
	}
	return Envelope{Module: module, Class: name, Args: p}, nil
}
