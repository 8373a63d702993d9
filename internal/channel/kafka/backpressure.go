package kafka

import (
	"context"
	"sync"
	"time"
)

// Controller is a token bucket bounding how many requests a worker holds
// unacknowledged. A token is taken per delivered request and returned when
// the request is acked, or skipped.
type Controller struct {
	capacity int64
	refill   int64

	mu     sync.Mutex
	tokens int64
	cond   *sync.Cond
	closed bool
}

func NewController(capacity, refill int64, tick time.Duration) *Controller {
	c := &Controller{
		capacity: capacity,
		refill:   refill,
		tokens:   capacity,
	}
	c.cond = sync.NewCond(&c.mu)

	go func() {
		t := time.NewTicker(tick)
		defer t.Stop()
		for range t.C {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			c.tokens += c.refill
			if c.tokens > c.capacity {
				c.tokens = c.capacity
			}
			c.mu.Unlock()
			c.cond.Broadcast()
		}
	}()
	return c
}

// Acquire blocks until a token is free, ctx is done or c is closed.
func (c *Controller) Acquire(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.tokens == 0 && !c.closed && ctx.Err() == nil {
		c.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed {
		return context.Canceled
	}
	c.tokens--
	return nil
}

func (c *Controller) TryAcquire(n int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokens < n {
		return false
	}
	c.tokens -= n
	return true
}

func (c *Controller) Release(n int64) {
	c.mu.Lock()
	c.tokens += n
	if c.tokens > c.capacity {
		c.tokens = c.capacity
	}
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Available reports the free tokens.
func (c *Controller) Available() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
}
