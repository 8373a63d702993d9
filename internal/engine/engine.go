// Package engine wires a worker process: store, handlers, worker, the
// request source of the configured transport and the metrics listener.
package engine

import (
	"context"
	"errors"
	"net"

	"golang.org/x/sync/errgroup"

	"taskrpc/internal/channel"
	"taskrpc/internal/channel/kafka"
	"taskrpc/internal/channel/memory"
	"taskrpc/internal/config"
	"taskrpc/internal/logging"
	"taskrpc/internal/store"
	"taskrpc/internal/transport"
	"taskrpc/internal/worker"
)

type Engine struct {
	cfg    config.Config
	worker *worker.Worker
	store  *store.Memory

	src channel.Source
	pub channel.Publisher

	kafka     *kafka.Source
	broker    *memory.Broker
	transport *transport.Server

	closers []func() error
}

// Channel is the in-process channel clients of a memory or grpc engine can
// use directly. It is nil for kafka.
func (e *Engine) Channel() channel.Channel {
	if e.broker == nil {
		return nil
	}
	return e.broker
}

func (e *Engine) Store() *store.Memory { return e.store }

// Addr is the gRPC listen address, nil unless the transport is grpc.
func (e *Engine) Addr() net.Addr {
	if e.transport == nil {
		return nil
	}
	return e.transport.Addr()
}

// Run serves requests until ctx is done, then releases every resource.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if e.kafka != nil {
		g.Go(func() error { return e.kafka.Run(ctx) })
	}
	if e.transport != nil {
		g.Go(e.transport.Serve)
	}
	g.Go(func() error { return e.worker.Serve(ctx, e.src, e.pub) })

	go func() {
		<-ctx.Done()
		if e.transport != nil {
			e.transport.Stop()
		}
		for _, closeFn := range e.closers {
			if err := closeFn(); err != nil {
				logging.L().Warn("engine: close failed", "err", err)
			}
		}
	}()

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
