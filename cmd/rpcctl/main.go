package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	cfgPath      string
	output       string
	highPriority bool
	timeout      time.Duration
	retries      int

	rootCmd = &cobra.Command{
		Use:   "rpcctl",
		Short: "Submit operations and pipelines to taskrpc workers",
		Long: `rpcctl builds requests the same way the client library does and
prints their results.

With the memory transport rpcctl embeds a worker, which is handy for
trying manifests without a broker. The kafka and grpc transports reach
the workers named in the config file.`,
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgPath, "config", "c", "taskrpc.yml", "config file, optional")
	pf.StringVarP(&output, "output", "o", "json", "result format: json or yaml")
	pf.BoolVar(&highPriority, "high-priority", false, "route through the high priority lane")
	pf.DurationVar(&timeout, "timeout", 0, "request expiry and result wait (default from config)")
	pf.IntVar(&retries, "retries", 0, "enqueue attempts (default from config)")

	rootCmd.AddCommand(runCmd, callCmd, filterCmd, pingCmd)
}
