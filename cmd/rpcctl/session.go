package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"taskrpc/internal/channel"
	"taskrpc/internal/channel/grpcchan"
	"taskrpc/internal/channel/kafka"
	"taskrpc/internal/client"
	"taskrpc/internal/codec"
	"taskrpc/internal/config"
	"taskrpc/internal/engine"
	"taskrpc/internal/logging"
	"taskrpc/internal/transport"
)

// session is one client connected through the configured transport.
type session struct {
	cfg    config.Config
	client *client.Client
	stop   func()
}

func open(ctx context.Context) (*session, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	engine.ConfigureLogging(cfg.Log)

	ch, stop, err := openChannel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, client: client.New(cfg, ch, nil), stop: stop}, nil
}

func openChannel(ctx context.Context, cfg config.Config) (channel.Channel, func(), error) {
	switch cfg.Transport {
	case config.TransportKafka:
		ch, err := kafka.NewChannel(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka: %w", err)
		}
		return ch, func() {}, nil

	case config.TransportGRPC:
		rpc, cc, err := transport.Dial(cfg.GRPC.Address)
		if err != nil {
			return nil, nil, fmt.Errorf("grpc: %w", err)
		}
		return grpcchan.New(rpc, cc, cfg.AcceptContent), func() {}, nil

	default:
		ctx, cancel := context.WithCancel(ctx)
		e, err := engine.Bootstrap(ctx, cfg)
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("embedded worker: %w", err)
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := e.Run(ctx); err != nil {
				logging.L().Error("embedded worker stopped", "err", err)
			}
		}()
		return e.Channel(), func() { cancel(); <-done }, nil
	}
}

func (s *session) Close() {
	_ = s.client.Close()
	s.stop()
}

// callOptions turns the persistent flags into client options.
func callOptions() []client.Option {
	var opts []client.Option
	if highPriority {
		opts = append(opts, client.HighPriority())
	}
	if timeout > 0 {
		opts = append(opts, client.WithTimeout(timeout))
	}
	if retries > 0 {
		opts = append(opts, client.WithRetries(retries))
	}
	return opts
}

// parseValue reads a command line value as YAML, so 7 is a number and
// {id: 7} is a map.
func parseValue(s string) (any, error) {
	c, err := codec.Lookup("yaml")
	if err != nil {
		return nil, err
	}
	return c.Unmarshal([]byte(s))
}

func parseMap(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	v, err := parseValue(s)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%q is not a map", s)
	}
	return m, nil
}

// parseKwargs reads key=value pairs.
func parseKwargs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("kwarg %q: want key=value", p)
		}
		parsed, err := parseValue(v)
		if err != nil {
			return nil, fmt.Errorf("kwarg %s: %w", k, err)
		}
		out[k] = parsed
	}
	return out, nil
}

func render(w io.Writer, v any) error {
	c, err := codec.Lookup(output)
	if err != nil {
		return err
	}
	raw, err := c.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if len(raw) > 0 && raw[len(raw)-1] != '\n' {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

func contextWithTimeout(cmd *cobra.Command, cfg config.Config) (context.Context, context.CancelFunc) {
	d := timeout
	if d <= 0 {
		d = cfg.ResultTimeout
	}
	return context.WithTimeout(cmd.Context(), d)
}
