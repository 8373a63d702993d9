package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	taskrpcv1 "taskrpc/api/taskrpc/v1"
	"taskrpc/internal/client"
	"taskrpc/internal/config"
	"taskrpc/internal/pipeline"
	"taskrpc/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run <manifest.yml>",
	Short: "Submit a pipeline manifest as one request",
	Long: `Submit the steps of a pipeline manifest as one atomic request and print
one result per step.

Manifest fields high_priority, timeout_ms and retries apply unless the
matching flag is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, pl, err := pipeline.CompileFile(args[0])
		if err != nil {
			return err
		}
		var opts []client.Option
		if f.HighPriority {
			opts = append(opts, client.HighPriority())
		}
		if f.TimeoutMS > 0 {
			opts = append(opts, client.WithTimeout(time.Duration(f.TimeoutMS)*time.Millisecond))
		}
		if f.Retries > 0 {
			opts = append(opts, client.WithRetries(f.Retries))
		}
		opts = append(opts, callOptions()...)

		s, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		results, err := s.client.RunPipeline(cmd.Context(), pl, opts...)
		if err != nil {
			return fmt.Errorf("pipeline %s: %w", f.Name, err)
		}
		return render(os.Stdout, results)
	},
}

var callKwargs []string

var callCmd = &cobra.Command{
	Use:   "call <function> [args...]",
	Short: "Call a function registered on the workers",
	Long: `Call a function registered on the workers. Positional arguments and
--kwarg values are read as YAML, so 7 is a number and "[a, b]" a list.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fnArgs := make([]any, 0, len(args)-1)
		for _, a := range args[1:] {
			v, err := parseValue(a)
			if err != nil {
				return fmt.Errorf("arg %q: %w", a, err)
			}
			fnArgs = append(fnArgs, v)
		}
		kwargs, err := parseKwargs(callKwargs)
		if err != nil {
			return err
		}

		s, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		v, err := s.client.Call(cmd.Context(), args[0], fnArgs, kwargs, callOptions()...)
		if err != nil {
			return err
		}
		return render(os.Stdout, v)
	},
}

var (
	filterWhere   string
	filterExclude string
	filterOrderBy []string
	filterFields  []string
	filterOffset  int
	filterLimit   int
)

var filterCmd = &cobra.Command{
	Use:     "filter <model>",
	Short:   "List the records of a model",
	Example: `  rpcctl filter books --where '{id__gte: 7}' --order-by -title --limit 10`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kwargs := map[string]any{}
		where, err := parseMap(filterWhere)
		if err != nil {
			return fmt.Errorf("--where: %w", err)
		}
		if where != nil {
			kwargs["filters"] = where
		}
		exclude, err := parseMap(filterExclude)
		if err != nil {
			return fmt.Errorf("--exclude: %w", err)
		}
		if exclude != nil {
			kwargs["exclude"] = exclude
		}
		if len(filterOrderBy) > 0 {
			kwargs["order_by"] = toList(filterOrderBy)
		}
		if len(filterFields) > 0 {
			kwargs["fields"] = toList(filterFields)
		}
		if filterOffset > 0 {
			kwargs["offset"] = int64(filterOffset)
		}
		if filterLimit > 0 {
			kwargs["limit"] = int64(filterLimit)
		}

		s, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		v, err := s.client.Filter(cmd.Context(), args[0], kwargs, callOptions()...)
		if err != nil {
			return err
		}
		return render(os.Stdout, v)
	},
}

func toList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that a worker answers",
	Long: `With the grpc transport ping calls the Ping RPC of the worker. Other
transports submit a call to the builtin hostname function.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if cfg.Transport == config.TransportGRPC {
			return pingRPC(cmd, cfg)
		}

		s, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		started := time.Now()
		host, err := s.client.Call(cmd.Context(), "hostname", nil, nil, callOptions()...)
		if err != nil {
			return err
		}
		return render(os.Stdout, map[string]any{
			"server":     host,
			"transport":  string(cfg.Transport),
			"round_trip": time.Since(started).String(),
		})
	},
}

func pingRPC(cmd *cobra.Command, cfg config.Config) error {
	rpc, cc, err := transport.Dial(cfg.GRPC.Address)
	if err != nil {
		return err
	}
	defer cc.Close()

	in, err := structpb.NewStruct(map[string]any{"client": cfg.ClientName})
	if err != nil {
		return err
	}
	ctx, cancel := contextWithTimeout(cmd, cfg)
	defer cancel()

	started := time.Now()
	out, err := rpc.Ping(ctx, in)
	if err != nil {
		return fmt.Errorf("ping %s: %w", taskrpcv1.Tasks_Ping_FullMethodName, err)
	}
	res := out.AsMap()
	res["round_trip"] = time.Since(started).String()

	hc, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{
		Service: taskrpcv1.Tasks_ServiceDesc.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	res["health"] = hc.GetStatus().String()
	return render(os.Stdout, res)
}

func init() {
	callCmd.Flags().StringArrayVarP(&callKwargs, "kwarg", "k", nil, "keyword argument key=value, repeatable")

	ff := filterCmd.Flags()
	ff.StringVar(&filterWhere, "where", "", "lookups the records must match, as a YAML map")
	ff.StringVar(&filterExclude, "exclude", "", "lookups the records must not match, as a YAML map")
	ff.StringSliceVar(&filterOrderBy, "order-by", nil, "fields to sort by, prefix - for descending")
	ff.StringSliceVar(&filterFields, "fields", nil, "fields to return")
	ff.IntVar(&filterOffset, "offset", 0, "records to skip")
	ff.IntVar(&filterLimit, "limit", 0, "maximum records (default from config)")
}
