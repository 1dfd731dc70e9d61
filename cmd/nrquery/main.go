package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build variables - set by ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
)

type globalFlags struct {
	configPath string
	logLevel   string
	jsonLogs   bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "nrquery",
		Short:         "Run NRQL queries and reduce their results",
		Long:          "nrquery executes NRQL through NerdGraph, normalizes the results into tables and computes weighted statistics over them.",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to configuration file (default $NRQUERY_CONFIG)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().BoolVar(&flags.jsonLogs, "json-logs", false, "emit JSON logs")

	root.AddCommand(
		newQueryCmd(flags),
		newStatsCmd(flags),
		newSampleCmd(flags),
		newDeadNodesCmd(flags),
		newServeCmd(flags),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
