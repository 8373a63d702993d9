package channel

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"taskrpc/internal/codec"
)

var ErrMalformed = errors.New("channel: malformed message")

// Request is one task on the wire.
type Request struct {
	ID         string
	Task       string
	Args       []any
	Kwargs     map[string]any
	Headers    map[string]any
	Queue      string
	RoutingKey string
	// Expires is the deadline after which a worker must not run the task.
	// The zero time means never.
	Expires time.Time
	// Serializer names the codec used for the task payload.
	Serializer string
}

func (r *Request) Expired(now time.Time) bool {
	return !r.Expires.IsZero() && now.After(r.Expires)
}

func (r *Request) Referer() string {
	s, _ := r.Headers[HeaderReferer].(string)
	return s
}

// Value renders r as a generic tree.
func (r *Request) Value() map[string]any {
	m := map[string]any{
		"id":          r.ID,
		"task":        r.Task,
		"args":        orEmptyList(r.Args),
		"kwargs":      orEmptyMap(r.Kwargs),
		"headers":     orEmptyMap(r.Headers),
		"queue":       r.Queue,
		"routing_key": r.RoutingKey,
		"serializer":  r.Serializer,
	}
	if !r.Expires.IsZero() {
		m["expires"] = codec.FormatTime(r.Expires.UTC())
	}
	return m
}

// RequestFromValue is the inverse of Request.Value.
func RequestFromValue(v any) (*Request, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: request must be a map, got %T", ErrMalformed, v)
	}
	r := &Request{}
	r.ID, _ = m["id"].(string)
	r.Task, _ = m["task"].(string)
	if r.ID == "" || r.Task == "" {
		return nil, fmt.Errorf("%w: request needs id and task", ErrMalformed)
	}
	r.Queue, _ = m["queue"].(string)
	r.RoutingKey, _ = m["routing_key"].(string)
	r.Serializer, _ = m["serializer"].(string)

	var err error
	if r.Args, err = listField(m, "args"); err != nil {
		return nil, err
	}
	if r.Kwargs, err = mapField(m, "kwargs"); err != nil {
		return nil, err
	}
	if r.Headers, err = mapField(m, "headers"); err != nil {
		return nil, err
	}
	if s, ok := m["expires"].(string); ok && s != "" {
		if r.Expires, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return nil, fmt.Errorf("%w: expires: %v", ErrMalformed, err)
		}
	}
	return r, nil
}

// EncodeRequest serializes r with its own serializer.
func EncodeRequest(r *Request) (codec.Payload, error) {
	return codec.Encode(r.Serializer, r.Value())
}

func DecodeRequest(p codec.Payload, accept []string) (*Request, error) {
	v, err := codec.Decode(p, accept)
	if err != nil {
		return nil, err
	}
	return RequestFromValue(v)
}

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Failure describes why a task failed. Envelope holds the packed remote
// error when the worker wraps errors; otherwise only Type and Message are
// set.
type Failure struct {
	Type     string
	Message  string
	Envelope any
}

type Result struct {
	ID      string
	Status  Status
	Value   any
	Failure *Failure
}

func Success(id string, v any) *Result {
	return &Result{ID: id, Status: StatusSuccess, Value: v}
}

func Failed(id string, f *Failure) *Result {
	return &Result{ID: id, Status: StatusFailure, Failure: f}
}

func (r *Result) Map() map[string]any {
	m := map[string]any{
		"id":     r.ID,
		"status": string(r.Status),
		"value":  r.Value,
	}
	if r.Failure != nil {
		f := map[string]any{"type": r.Failure.Type, "message": r.Failure.Message}
		if r.Failure.Envelope != nil {
			f["envelope"] = r.Failure.Envelope
		}
		m["failure"] = f
	}
	return m
}

// ResultFromValue is the inverse of Result.Map.
func ResultFromValue(v any) (*Result, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: result must be a map, got %T", ErrMalformed, v)
	}
	r := &Result{Value: m["value"]}
	r.ID, _ = m["id"].(string)
	status, _ := m["status"].(string)
	r.Status = Status(status)
	if r.ID == "" || (r.Status != StatusSuccess && r.Status != StatusFailure) {
		return nil, fmt.Errorf("%w: result needs id and status", ErrMalformed)
	}
	if f, ok := m["failure"].(map[string]any); ok {
		r.Failure = &Failure{Envelope: f["envelope"]}
		r.Failure.Type, _ = f["type"].(string)
		r.Failure.Message, _ = f["message"].(string)
	}
	if r.Status == StatusFailure && r.Failure == nil {
		r.Failure = &Failure{}
	}
	return r, nil
}

func EncodeResult(r *Result, serializer string) (codec.Payload, error) {
	return codec.Encode(serializer, r.Map())
}

func DecodeResult(p codec.Payload, accept []string) (*Result, error) {
	v, err := codec.Decode(p, accept)
	if err != nil {
		return nil, err
	}
	return ResultFromValue(v)
}

// Clone returns a copy safe to hand to another goroutine.
func (r *Request) Clone() *Request {
	out := *r
	out.Args = append([]any(nil), r.Args...)
	out.Kwargs = maps.Clone(r.Kwargs)
	out.Headers = maps.Clone(r.Headers)
	return &out
}

func orEmptyList(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}

func orEmptyMap(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}

func listField(m map[string]any, key string) ([]any, error) {
	switch x := m[key].(type) {
	case nil:
		return nil, nil
	case []any:
		return x, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list, got %T", ErrMalformed, key, x)
	}
}

func mapField(m map[string]any, key string) (map[string]any, error) {
	switch x := m[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return x, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a map, got %T", ErrMalformed, key, x)
	}
}
