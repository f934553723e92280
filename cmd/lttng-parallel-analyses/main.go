// Package main provides the entry point for the lttng-parallel-analyses CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheZorg/lttng-parallel-analyses/cmd/lttng-parallel-analyses/commands"
	"github.com/TheZorg/lttng-parallel-analyses/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lttng-parallel-analyses",
		Short: "Parallel offline analyses over LTTng kernel traces",
		Long: `lttng-parallel-analyses runs offline analyses over recorded kernel
traces, splitting the trace into chunks processed in parallel and folding
the partial results back into one.

Analyses:
  count   Number of events in the trace
  cpu     Per-CPU and per-thread scheduling time
  io      Per-thread syscall I/O bytes and latency`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewAnalyzeCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "lttng-parallel-analyses %s (commit: %s, built: %s)\n",
				version.Version, version.Commit, version.Date)
		},
	}
}
