package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/psantana5/reconwrap/internal/config"
	"github.com/psantana5/reconwrap/pkg/logging"
	"github.com/spf13/cobra"
)

// configEnv names the config file for subcommands that do not parse flags
const configEnv = "RECON_CONFIG"

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "reconwrap",
	Short: "License-aware supervisor and telemetry for photogrammetry pipelines",
	Long: `reconwrap runs long reconstruction jobs on shared compute nodes.

It retries a worker that could not obtain a floating license, condenses hours
of engine output into periodic heartbeats while keeping the full log on disk,
and records CPU, GPU and memory usage for every pipeline operation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitCodeError carries a process exit code out of a command. A nil err
// means the code speaks for itself and nothing is printed.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error {
	return e.err
}

func exitWith(code int, err error) error {
	if code == 0 && err == nil {
		return nil
	}
	return &exitCodeError{code: code, err: err}
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	err := rootCmd.ExecuteContext(context.Background())
	if err == nil {
		return 0
	}

	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.err)
		}
		return exitErr.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default from $"+configEnv+")")
}

// loadConfig builds the effective configuration from the config file and the
// environment
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv(configEnv)
	}
	v, err := config.NewViper(path)
	if err != nil {
		return nil, err
	}
	return config.Load(v)
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.NewLogger(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)
}
