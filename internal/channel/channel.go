// Package channel carries requests from clients to workers and results
// back. Implementations live in the sub-packages.
package channel

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTimeout = errors.New("channel: timed out waiting for result")
	ErrEnqueue = errors.New("channel: enqueue failed")
	ErrClosed  = errors.New("channel: closed")
	ErrUnknown = errors.New("channel: unknown handle")
)

// Header names set by the client.
const (
	HeaderReferer = "referer"
	HeaderPiped   = "piped"
)

// Handle identifies an enqueued request.
type Handle string

// Channel is the client side of the task channel.
type Channel interface {
	Enqueue(ctx context.Context, req *Request) (Handle, error)
	// Await blocks until the result of h arrives, timeout elapses
	// (ErrTimeout) or ctx is done. A zero timeout waits for ctx only.
	Await(ctx context.Context, h Handle, timeout time.Duration) (*Result, error)
	Close() error
}

// Delivery is a request handed to a worker. Ack must be called once the
// result has been published.
type Delivery struct {
	Request *Request
	Ack     func()
}

// Source is the worker side of the task channel.
type Source interface {
	Next(ctx context.Context) (Delivery, error)
}

// Publisher returns results to the client that sent req.
type Publisher interface {
	Publish(ctx context.Context, req *Request, res *Result) error
}
