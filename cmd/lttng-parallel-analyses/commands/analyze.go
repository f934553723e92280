// Package commands implements the CLI commands.
package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TheZorg/lttng-parallel-analyses/internal/config"
	"github.com/TheZorg/lttng-parallel-analyses/pkg/analysis"
	"github.com/TheZorg/lttng-parallel-analyses/pkg/analysis/count"
	"github.com/TheZorg/lttng-parallel-analyses/pkg/analysis/cpu"
	analysisio "github.com/TheZorg/lttng-parallel-analyses/pkg/analysis/io"
	"github.com/TheZorg/lttng-parallel-analyses/pkg/observability"
)

// AnalyzeCommand holds the flag values for the analyze command.
type AnalyzeCommand struct {
	analysis     string
	analysisType string
	format       string
	configPath   string
	threads      int
	balanced     bool
	benchmark    bool
	verbose      bool
}

// NewAnalyzeCommand creates and configures the analyze command.
func NewAnalyzeCommand() *cobra.Command {
	ac := &AnalyzeCommand{}

	cobraCmd := &cobra.Command{
		Use:   "analyze [trace-directory]",
		Short: "Run an analysis over a trace directory",
		Long: `Run an analysis over a recorded trace directory.

In parallel mode the trace is divided into chunks processed concurrently:
by equal time by default, by equal content size with --balanced (which uses
the per-stream packet indices).`,
		Args: cobra.ExactArgs(1),
		RunE: ac.run,
	}

	cobraCmd.Flags().StringVarP(&ac.analysis, "analysis", "a", config.DefaultAnalysis,
		"Name of analysis to execute [ count | cpu | io ]")
	cobraCmd.Flags().StringVarP(&ac.analysisType, "type", "T", config.DefaultType,
		"Type of analysis to execute [ serial | parallel ]")
	cobraCmd.Flags().IntVarP(&ac.threads, "thread", "t", config.DefaultThreads,
		"Maximum number of threads to use")
	cobraCmd.Flags().BoolVarP(&ac.benchmark, "benchmark", "b", false,
		"Output benchmark times")
	cobraCmd.Flags().BoolVarP(&ac.verbose, "verbose", "V", false,
		"Be verbose")
	cobraCmd.Flags().BoolVar(&ac.balanced, "balanced", false,
		"Balance chunks by content size using packet indices")
	cobraCmd.Flags().StringVarP(&ac.format, "format", "f", config.DefaultFormat,
		"Output format [ table | yaml | json ]")
	cobraCmd.Flags().StringVar(&ac.configPath, "config", "",
		"Config file (default: .lttng-analyses.yaml in CWD or $HOME)")

	return cobraCmd
}

// run resolves configuration, then dispatches to the selected analysis.
func (ac *AnalyzeCommand) run(cmd *cobra.Command, args []string) error {
	cfg, err := ac.resolveConfig(cmd)
	if err != nil {
		return err
	}

	observability.Init(ac.verbose)

	opts := analysis.Options{
		Threads:   cfg.Threads,
		Parallel:  cfg.Type == "parallel",
		Balanced:  cfg.Balanced,
		Benchmark: cfg.Benchmark,
	}

	tracePath := args[0]
	out := cmd.OutOrStdout()

	switch cfg.Analysis {
	case "count":
		return ac.runCount(cmd, tracePath, opts, cfg.Format, out)
	case "cpu":
		return ac.runCPU(cmd, tracePath, opts, cfg.Format, out)
	case "io":
		return ac.runIO(cmd, tracePath, opts, cfg.Format, out)
	}

	return fmt.Errorf("%w: %q", config.ErrInvalidAnalysis, cfg.Analysis)
}

// resolveConfig loads file/env configuration and lets explicitly-set flags
// override it.
func (ac *AnalyzeCommand) resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(ac.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()

	if flags.Changed("analysis") {
		cfg.Analysis = ac.analysis
	}

	if flags.Changed("type") {
		cfg.Type = ac.analysisType
	}

	if flags.Changed("thread") {
		cfg.Threads = ac.threads
	}

	if flags.Changed("balanced") {
		cfg.Balanced = ac.balanced
	}

	if flags.Changed("benchmark") {
		cfg.Benchmark = ac.benchmark
	}

	if flags.Changed("format") {
		cfg.Format = ac.format
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, validateErr
	}

	return cfg, nil
}

func (ac *AnalyzeCommand) runCount(
	cmd *cobra.Command, tracePath string, opts analysis.Options, format string, out io.Writer,
) error {
	eng := &analysis.Engine[uint64]{Analyzer: &count.Analyzer{}, Opts: opts}

	total, err := eng.Run(cmd.Context(), tracePath)
	if err != nil {
		return err
	}

	if format != config.DefaultFormat {
		return emit(out, format, count.BuildReport(total))
	}

	count.Render(out, total)

	return nil
}

func (ac *AnalyzeCommand) runCPU(
	cmd *cobra.Command, tracePath string, opts analysis.Options, format string, out io.Writer,
) error {
	eng := &analysis.Engine[cpu.State]{Analyzer: &cpu.Analyzer{}, Opts: opts}

	st, err := eng.Run(cmd.Context(), tracePath)
	if err != nil {
		return err
	}

	if format != config.DefaultFormat {
		return emit(out, format, cpu.BuildReport(&st))
	}

	cpu.Render(out, &st)

	return nil
}

func (ac *AnalyzeCommand) runIO(
	cmd *cobra.Command, tracePath string, opts analysis.Options, format string, out io.Writer,
) error {
	eng := &analysis.Engine[analysisio.State]{Analyzer: &analysisio.Analyzer{}, Opts: opts}

	st, err := eng.Run(cmd.Context(), tracePath)
	if err != nil {
		return err
	}

	if format != config.DefaultFormat {
		return emit(out, format, analysisio.BuildReport(&st))
	}

	analysisio.Render(out, &st)

	return nil
}

// emit serializes a report in the requested machine-readable format.
func emit(out io.Writer, format string, report any) error {
	switch format {
	case "yaml":
		data, err := yaml.Marshal(report)
		if err != nil {
			return fmt.Errorf("marshal yaml: %w", err)
		}

		_, err = out.Write(data)

		return err
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	}

	return fmt.Errorf("%w: %q", config.ErrInvalidFormat, format)
}
