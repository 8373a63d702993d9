package client

import (
	"maps"
	"time"
)

type callOptions struct {
	highPriority bool
	timeout      time.Duration
	retries      int
	noWait       bool
	headers      map[string]any
}

// Option adjusts one submission.
type Option func(*callOptions)

// HighPriority routes the request to the high priority lane.
func HighPriority() Option {
	return func(o *callOptions) { o.highPriority = true }
}

// WithTimeout bounds both the request's lifetime and the wait for its
// result. Zero keeps the configured result timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) { o.timeout = d }
}

// WithRetries sets how many times enqueueing is attempted.
func WithRetries(n int) Option {
	return func(o *callOptions) { o.retries = n }
}

// NoWait makes helpers return the *AsyncResult instead of waiting.
func NoWait() Option {
	return func(o *callOptions) { o.noWait = true }
}

func WithHeader(key string, value any) Option {
	return func(o *callOptions) {
		if o.headers == nil {
			o.headers = map[string]any{}
		}
		o.headers[key] = value
	}
}

func (c *Client) options(opts []Option) callOptions {
	o := callOptions{
		timeout: c.cfg.ResultTimeout,
		retries: c.cfg.Retries,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		o.timeout = c.cfg.ResultTimeout
	}
	if o.retries < 1 {
		o.retries = 1
	}
	o.headers = maps.Clone(o.headers)
	return o
}
