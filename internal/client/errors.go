package client

import (
	"errors"
	"fmt"

	"taskrpc/internal/channel"
)

var (
	// ErrInvalidRequest is returned before anything is sent when the
	// arguments of a helper have the wrong shape.
	ErrInvalidRequest = errors.New("client: invalid request")
	ErrRequest        = errors.New("client: request not enqueued")
	ErrTimeout        = errors.New("client: timed out waiting for result")
	ErrResponse       = errors.New("client: response error")
)

// RequestError reports a request the channel did not accept after every
// attempt.
type RequestError struct {
	Task     string
	ID       string
	Attempts int
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("client: enqueue %s (%s) failed after %d attempt(s): %v", e.Task, e.ID, e.Attempts, e.Err)
}

func (e *RequestError) Is(target error) bool { return target == ErrRequest }

func (e *RequestError) Unwrap() error { return e.Err }

// ResponseError reports a failed request whose error could not be rebuilt
// as a typed remote error, or a channel failure while waiting.
type ResponseError struct {
	Task string
	ID   string
	// Failure is the failure the worker sent, nil for channel failures.
	Failure *channel.Failure
	Err     error
}

func (e *ResponseError) Error() string {
	switch {
	case e.Failure != nil:
		return fmt.Sprintf("client: %s (%s) failed: %s: %s", e.Task, e.ID, e.Failure.Type, e.Failure.Message)
	case e.Err != nil:
		return fmt.Sprintf("client: %s (%s): %v", e.Task, e.ID, e.Err)
	default:
		return fmt.Sprintf("client: %s (%s) failed", e.Task, e.ID)
	}
}

func (e *ResponseError) Is(target error) bool { return target == ErrResponse }

func (e *ResponseError) Unwrap() error { return e.Err }
