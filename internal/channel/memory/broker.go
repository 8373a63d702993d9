// Package memory is an in-process task channel. One Broker serves both
// ends: clients enqueue and await through it, workers consume it as a
// Source and answer through it as a Publisher. Messages are serialized
// with the configured codecs exactly as they would be on a network channel.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"taskrpc/internal/channel"
	"taskrpc/internal/codec"
	"taskrpc/internal/logging"
)

const highPrioritySuffix = ".high_priority"

type Option func(*Broker)

// WithAccept restricts the codecs accepted when decoding messages.
func WithAccept(names ...string) Option {
	return func(b *Broker) { b.accept = append([]string(nil), names...) }
}

// WithResultSerializer sets the codec results are encoded with.
func WithResultSerializer(name string) Option {
	return func(b *Broker) { b.resultSerializer = name }
}

type Broker struct {
	accept           []string
	resultSerializer string

	mu      sync.Mutex
	queues  map[string][]codec.Payload
	waiters map[channel.Handle]chan codec.Payload
	closed  bool

	signal chan struct{}
	done   chan struct{}
}

func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		resultSerializer: "x-json",
		queues:           make(map[string][]codec.Payload),
		waiters:          make(map[channel.Handle]chan codec.Payload),
		signal:           make(chan struct{}, 1),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) poke() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

/*──────── client side ───────*/

func (b *Broker) Enqueue(_ context.Context, req *channel.Request) (channel.Handle, error) {
	if req.ID == "" {
		return "", errors.Wrap(channel.ErrEnqueue, "request without id")
	}
	p, err := channel.EncodeRequest(req)
	if err != nil {
		return "", errors.Wrapf(channel.ErrEnqueue, "encode %s: %v", req.Task, err)
	}
	h := channel.Handle(req.ID)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", channel.ErrClosed
	}
	b.queues[req.Queue] = append(b.queues[req.Queue], p)
	if _, ok := b.waiters[h]; !ok {
		b.waiters[h] = make(chan codec.Payload, 1)
	}
	b.mu.Unlock()

	b.poke()
	return h, nil
}

// Await waits for the result of h. A wait that times out forgets h, so a
// result arriving later is discarded.
func (b *Broker) Await(ctx context.Context, h channel.Handle, timeout time.Duration) (*channel.Result, error) {
	b.mu.Lock()
	ch, ok := b.waiters[h]
	b.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(channel.ErrUnknown, "handle %s", h)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case p := <-ch:
		b.forget(h)
		return channel.DecodeResult(p, b.accept)
	case <-expired:
		b.forget(h)
		return nil, channel.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, channel.ErrClosed
	}
}

func (b *Broker) forget(h channel.Handle) {
	b.mu.Lock()
	delete(b.waiters, h)
	b.mu.Unlock()
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

/*──────── worker side ───────*/

// laneOrderLocked lists non-empty queues, high priority lanes first.
func (b *Broker) laneOrderLocked() []string {
	names := make([]string, 0, len(b.queues))
	for name, q := range b.queues {
		if len(q) > 0 {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		hi, hj := strings.HasSuffix(names[i], highPrioritySuffix), strings.HasSuffix(names[j], highPrioritySuffix)
		if hi != hj {
			return hi
		}
		return names[i] < names[j]
	})
	return names
}

func (b *Broker) pop() (codec.Payload, bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lanes := b.laneOrderLocked()
	if len(lanes) == 0 {
		return codec.Payload{}, false, b.closed
	}
	q := b.queues[lanes[0]]
	p := q[0]
	b.queues[lanes[0]] = q[1:]
	more := len(q) > 1 || len(lanes) > 1
	if more {
		b.poke()
	}
	return p, true, b.closed
}

// Next hands the next request to a worker, high priority lanes first.
func (b *Broker) Next(ctx context.Context) (channel.Delivery, error) {
	for {
		p, ok, closed := b.pop()
		if ok {
			req, err := channel.DecodeRequest(p, b.accept)
			if err != nil {
				logging.L().Warn("memory broker: dropping undecodable request", "content_type", p.ContentType, "err", err)
				continue
			}
			return channel.Delivery{Request: req, Ack: func() {}}, nil
		}
		if closed {
			return channel.Delivery{}, channel.ErrClosed
		}
		select {
		case <-b.signal:
		case <-b.done:
		case <-ctx.Done():
			return channel.Delivery{}, ctx.Err()
		}
	}
}

// Publish delivers res to the client awaiting req. Results nobody waits
// for are dropped.
func (b *Broker) Publish(_ context.Context, req *channel.Request, res *channel.Result) error {
	p, err := channel.EncodeResult(res, b.resultSerializer)
	if err != nil {
		return fmt.Errorf("memory broker: encode result of %s: %w", req.ID, err)
	}
	b.mu.Lock()
	ch, ok := b.waiters[channel.Handle(req.ID)]
	b.mu.Unlock()
	if !ok {
		logging.L().Debug("memory broker: result has no waiter", "id", req.ID)
		return nil
	}
	select {
	case ch <- p:
	default:
	}
	return nil
}

// Depth is the number of requests waiting in queue.
func (b *Broker) Depth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

var (
	_ channel.Channel   = (*Broker)(nil)
	_ channel.Source    = (*Broker)(nil)
	_ channel.Publisher = (*Broker)(nil)
)
