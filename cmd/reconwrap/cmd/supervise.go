package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/psantana5/reconwrap/internal/config"
	"github.com/psantana5/reconwrap/internal/observe"
	"github.com/psantana5/reconwrap/internal/report"
	"github.com/psantana5/reconwrap/internal/wrapper"
	"github.com/spf13/cobra"
)

var superviseCmd = &cobra.Command{
	Use:   "supervise [worker args...]",
	Short: "Run the worker, retrying while no license is available",
	Long: `Supervise starts the worker with every argument passed through unmodified.

When one of the first LICENSE_CHECK_LINES output lines reports that no
license could be obtained, the worker is terminated and started again after
LICENSE_RETRY_INTERVAL seconds, up to LICENSE_MAX_RETRIES times (negative
retries forever). Any other exit ends supervision with the worker's own code.

The worker is WORKER_COMMAND, or this executable's pipeline subcommand.
Flags are not parsed here; set the config file with $` + configEnv + `.

Example:
  reconwrap supervise --run-config run.yaml --step align --output-path /data/plot-42/out
  WORKER_COMMAND=/opt/recon/bin/run LICENSE_MAX_RETRIES=-1 reconwrap supervise --step mesh`,
	DisableFlagParsing: true,
	RunE:               runSupervise,
}

func init() {
	rootCmd.AddCommand(superviseCmd)
}

func runSupervise(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stdout, "%s %v\n", observe.PrefixLicense, err)
		return exitWith(wrapper.ExitConfigError, nil)
	}
	logger := newLogger(cfg)

	command, workerArgs, err := workerCommand(cfg)
	if err != nil {
		fmt.Fprintf(os.Stdout, "%s %v\n", observe.PrefixLicense, err)
		return exitWith(wrapper.ExitConfigError, nil)
	}
	workerArgs = append(workerArgs, args...)

	monitor, err := observe.NewOutputMonitor(observe.Options{
		FullLogPath:       wrapper.FullLogPath(args, cfg.Output.LogDir),
		BufferSize:        cfg.Output.BufferSize,
		HeartbeatInterval: cfg.Output.HeartbeatInterval(),
	})
	if err != nil {
		fmt.Fprintf(os.Stdout, "%s %v\n", observe.PrefixLicense, err)
		return exitWith(wrapper.ExitConfigError, nil)
	}
	defer monitor.Close()

	metrics := report.NewMetrics()
	policy := wrapper.RetryPolicy{
		MaxRetries: cfg.Retry.MaxRetries,
		Interval:   cfg.Retry.Interval(),
	}
	sup, err := wrapper.New(wrapper.Options{
		Command:    command,
		Args:       workerArgs,
		Policy:     policy,
		CheckLines: cfg.Retry.CheckLines,
		Monitor:    monitor,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		fmt.Fprintf(os.Stdout, "%s %v\n", observe.PrefixLicense, err)
		return exitWith(wrapper.ExitConfigError, nil)
	}

	logger.Info("supervising worker", map[string]interface{}{
		"command": command,
		"policy":  policy.String(),
	})
	code := sup.Run(cmd.Context())

	if cfg.Metrics.Textfile != "" {
		if err := report.WriteTextfile(cfg.Metrics.Textfile, metrics.Gatherer()); err != nil {
			logger.Warn("failed to write metrics textfile", map[string]interface{}{
				"path":  cfg.Metrics.Textfile,
				"error": err.Error(),
			})
		}
	}
	return exitWith(code, nil)
}

// workerCommand splits WORKER_COMMAND into an executable and leading
// arguments. Unset, the worker is our own pipeline subcommand.
func workerCommand(cfg *config.Config) (string, []string, error) {
	if fields := strings.Fields(cfg.Worker.Command); len(fields) > 0 {
		return fields[0], fields[1:], nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("failed to locate own executable: %w", err)
	}
	return self, []string{"pipeline"}, nil
}
