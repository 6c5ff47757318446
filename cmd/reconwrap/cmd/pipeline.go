package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/psantana5/reconwrap/internal/pipeline"
	"github.com/psantana5/reconwrap/internal/telemetry"
	"github.com/spf13/cobra"
)

var (
	runConfigPath string
	step          string
	outputPath    string
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline --run-config <file> [--step <stage>] [--output-path <dir>]",
	Short: "Run reconstruction stages with per-operation telemetry",
	Long: `Pipeline executes the operations of the selected stage (or every enabled
stage) in order. Each operation prints progress markers and is sampled for
CPU, GPU and memory usage. Telemetry lands in the output directory as
<run_id>_log.txt and <run_id>_telemetry.yaml.

Example:
  reconwrap pipeline --run-config run.yaml --step align --output-path /data/plot-42/out`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(pipelineCmd)

	pipelineCmd.Flags().StringVar(&runConfigPath, "run-config", "", "YAML run config")
	pipelineCmd.Flags().StringVar(&step, "step", pipeline.StepAll, "stage to run, or all")
	pipelineCmd.Flags().StringVar(&outputPath, "output-path", "", "output directory (default from run config)")
	pipelineCmd.MarkFlagRequired("run-config")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return exitWith(2, err)
	}
	logger := newLogger(cfg)

	run, err := pipeline.LoadConfig(runConfigPath)
	if err != nil {
		return exitWith(2, err)
	}
	dir := outputPath
	if dir == "" {
		dir = run.OutputPath
	}
	if dir == "" {
		dir = "."
	}

	runID := run.RunID()
	human, structured := pipeline.LogPaths(dir, runID)
	mon, err := telemetry.New(human, structured, nil,
		telemetry.WithRunID(runID),
		telemetry.WithLogger(logger))
	if err != nil {
		return exitWith(1, err)
	}
	defer mon.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("pipeline started", map[string]interface{}{"run_id": runID, "step": step, "output": dir})
	runner := pipeline.NewRunner(run, pipeline.NewCommandEngine(""), mon, os.Stdout, logger)
	if err := runner.Run(ctx, step); err != nil {
		return exitWith(1, fmt.Errorf("run %s failed: %w", runID, err))
	}
	logger.Info("pipeline finished", map[string]interface{}{"run_id": runID, "telemetry": structured})
	return nil
}
