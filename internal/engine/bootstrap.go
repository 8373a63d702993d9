package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"taskrpc/internal/channel/kafka"
	"taskrpc/internal/channel/memory"
	"taskrpc/internal/config"
	"taskrpc/internal/handlers"
	"taskrpc/internal/logging"
	"taskrpc/internal/store"
	"taskrpc/internal/telemetry"
	"taskrpc/internal/transport"
	"taskrpc/internal/worker"
)

type Option func(*options)

type options struct {
	functions map[string]handlers.Function
	store     *store.Memory
	stepHooks []handlers.StepHook
}

// WithFunction exposes fn to the call operation under name.
func WithFunction(name string, fn handlers.Function) Option {
	return func(o *options) { o.functions[name] = fn }
}

// WithStore replaces the store built from the configured models.
func WithStore(s *store.Memory) Option {
	return func(o *options) { o.store = s }
}

// WithStepHook calls fn after every pipeline step the worker runs.
func WithStepHook(fn handlers.StepHook) Option {
	return func(o *options) { o.stepHooks = append(o.stepHooks, fn) }
}

// stepLogger logs each pipeline step and fans it out to hooks.
func stepLogger(hooks []handlers.StepHook) handlers.StepHook {
	return func(index int, name string, err error) {
		if err != nil {
			logging.L().Debug("pipeline step failed", "step", index, "op", name, "err", err)
		} else {
			logging.L().Debug("pipeline step", "step", index, "op", name)
		}
		for _, h := range hooks {
			h(index, name, err)
		}
	}
}

// Builtins are the functions every worker exposes.
func Builtins() map[string]handlers.Function {
	return map[string]handlers.Function{
		"echo": func(_ context.Context, args []any, kwargs map[string]any) (any, error) {
			return map[string]any{"args": args, "kwargs": kwargs}, nil
		},
		"hostname": func(context.Context, []any, map[string]any) (any, error) {
			return os.Hostname()
		},
		"now": func(context.Context, []any, map[string]any) (any, error) {
			return time.Now().UTC().Format(time.RFC3339Nano), nil
		},
	}
}

// NewStore builds the in-memory store declared by models. A model without
// a primary key uses "id".
func NewStore(models []config.Model) *store.Memory {
	s := store.NewMemory()
	for _, m := range models {
		pk := m.PK
		if pk == "" {
			pk = "id"
		}
		s.RegisterModel(m.Name, pk, m.Fields...)
	}
	return s
}

// ConfigureLogging applies the log section of the config, falling back to
// TASKRPC_LOG_LEVEL and TASKRPC_LOG_JSON when it is empty.
func ConfigureLogging(l config.Log) {
	if l.Level == "" && !l.JSON {
		logging.InitFromEnv()
		return
	}
	logging.Configure(logging.Options{Level: l.Level, JSON: l.JSON})
}

func Bootstrap(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ConfigureLogging(cfg.Log)

	o := options{functions: Builtins()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = NewStore(cfg.Models)
	}

	// 1. handlers and worker
	fns := handlers.NewFunctions()
	for name, fn := range o.functions {
		fns.Register(name, fn)
	}
	reg := handlers.NewRegistry(handlers.Env{
		Store:       o.store,
		Functions:   fns,
		FilterLimit: cfg.FilterLimit,
		OnStep:      stepLogger(o.stepHooks),
	})
	w := worker.New(reg, worker.Options{
		Concurrency:      cfg.Worker.Concurrency,
		WrapRemoteErrors: cfg.WrapRemoteErrors,
		Serializer:       cfg.ResultSerializer,
	})

	e := &Engine{cfg: cfg, worker: w, store: o.store}

	// 2. request source and result publisher
	switch cfg.Transport {
	case config.TransportKafka:
		src, err := kafka.NewSource(cfg)
		if err != nil {
			return nil, fmt.Errorf("kafka source: %w", err)
		}
		pub, err := kafka.NewPublisher(cfg)
		if err != nil {
			_ = src.Close()
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		e.kafka = src
		e.src, e.pub = src, pub
		e.closers = append(e.closers, pub.Close, src.Close)

	case config.TransportMemory, config.TransportGRPC:
		broker := memory.NewBroker(
			memory.WithAccept(cfg.AcceptContent...),
			memory.WithResultSerializer(cfg.ResultSerializer),
		)
		e.broker = broker
		e.src, e.pub = broker, broker
		e.closers = append(e.closers, broker.Close)

		// 3. transport server
		if cfg.Transport == config.TransportGRPC {
			svc := transport.NewService(broker, cfg.ClientName, cfg.AcceptContent, cfg.ResultSerializer)
			srv, err := transport.StartServer(cfg.GRPC.Address, svc)
			if err != nil {
				_ = broker.Close()
				return nil, fmt.Errorf("transport: %w", err)
			}
			e.transport = srv
		}
	}

	// 4. metrics
	telemetry.Expose(cfg.MetricsPort)

	logging.L().Info("engine ready",
		"transport", cfg.Transport,
		"queues", cfg.Queues(),
		"models", o.store.Models(),
		"functions", fns.Names())
	return e, nil
}
