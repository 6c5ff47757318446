package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/psantana5/reconwrap/internal/pipeline"
	"github.com/psantana5/reconwrap/internal/telemetry"
	"github.com/spf13/cobra"
)

var (
	benchStep   string
	benchName   string
	benchRunID  string
	benchOutDir string
)

var benchCmd = &cobra.Command{
	Use:   "bench [flags] -- <command> [args...]",
	Short: "Run one command as a monitored operation",
	Long: `Bench wraps an arbitrary command in a telemetry scope and appends one row to
the run's telemetry logs, for ad-hoc benchmarking outside a run config.

Example:
  reconwrap bench --step dem --name buildDem --output-dir /data/bench -- ./build_dem.sh tile7`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().StringVar(&benchStep, "step", "bench", "step label for the telemetry row")
	benchCmd.Flags().StringVar(&benchName, "name", "", "operation name (default is the command)")
	benchCmd.Flags().StringVar(&benchRunID, "run-id", "", "run identifier (default generated)")
	benchCmd.Flags().StringVar(&benchOutDir, "output-dir", ".", "directory for the telemetry logs")
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitWith(2, err)
	}
	logger := newLogger(cfg)

	op := pipeline.Operation{Name: benchName, Command: args[0], Args: args[1:]}
	if op.Name == "" {
		op.Name = args[0]
	}
	runID := (&pipeline.Config{RunName: benchRunID}).RunID()

	human, structured := pipeline.LogPaths(benchOutDir, runID)
	mon, err := telemetry.New(human, structured, nil,
		telemetry.WithRunID(runID),
		telemetry.WithLogger(logger))
	if err != nil {
		return exitWith(1, err)
	}
	defer mon.Close()
	mon.SetStepName(benchStep)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := pipeline.NewCommandEngine("")
	err = mon.Track(ctx, op.Name, func(ctx context.Context) error {
		return engine.Run(ctx, op)
	})
	if err != nil {
		return exitWith(1, err)
	}
	fmt.Fprintf(os.Stderr, "Telemetry written to %s\n", structured)
	return nil
}
