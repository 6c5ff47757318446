package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/psantana5/reconwrap/internal/observe"
	"github.com/psantana5/reconwrap/pkg/logging"
)

// Tracker wraps an operation in a measured scope
type Tracker interface {
	SetStepName(step string)
	Track(ctx context.Context, name string, fn func(context.Context) error) error
}

// Runner executes the selected stages of a run config in order
type Runner struct {
	cfg     *Config
	engine  Engine
	tracker Tracker
	out     io.Writer
	logger  *logging.Logger
}

// NewRunner creates a runner. Progress markers go to out.
func NewRunner(cfg *Config, engine Engine, tracker Tracker, out io.Writer, logger *logging.Logger) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{cfg: cfg, engine: engine, tracker: tracker, out: out, logger: logger}
}

// Run executes step (a stage name or StepAll). The first failing operation
// stops the run.
func (r *Runner) Run(ctx context.Context, step string) error {
	stages, err := r.cfg.Select(step)
	if err != nil {
		return err
	}

	for _, stage := range stages {
		r.tracker.SetStepName(stage.Name)
		r.logger.Info("stage started", map[string]interface{}{"stage": stage.Name, "operations": len(stage.Operations)})

		for _, op := range stage.Operations {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("run cancelled before %s: %w", op.Name, err)
			}

			fmt.Fprintln(r.out, observe.ProgressLine(op.Name, 0))
			err := r.tracker.Track(ctx, op.Name, func(ctx context.Context) error {
				return r.engine.Run(ctx, op)
			})
			if err != nil {
				return fmt.Errorf("stage %s: %w", stage.Name, err)
			}
			fmt.Fprintln(r.out, observe.ProgressLine(op.Name, 100))
		}
	}
	return nil
}

// LogPaths returns the human and structured telemetry log paths for a run
func LogPaths(outputDir, runID string) (human, structured string) {
	return filepath.Join(outputDir, runID+"_log.txt"),
		filepath.Join(outputDir, runID+"_telemetry.yaml")
}
