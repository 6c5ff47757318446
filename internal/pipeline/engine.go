package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
)

// Engine runs one named operation and blocks until it returns or fails
type Engine interface {
	Run(ctx context.Context, op Operation) error
}

// CommandEngine runs each operation as an external command
type CommandEngine struct {
	Stdout io.Writer
	Stderr io.Writer
	Dir    string
}

// NewCommandEngine returns an engine writing to the process's stdout/stderr
func NewCommandEngine(dir string) *CommandEngine {
	return &CommandEngine{Stdout: os.Stdout, Stderr: os.Stderr, Dir: dir}
}

// Run executes op.Command with op.Args. op.Env is added to the inherited
// environment.
func (e *CommandEngine) Run(ctx context.Context, op Operation) error {
	cmd := exec.CommandContext(ctx, op.Command, op.Args...)
	cmd.Stdout = e.Stdout
	cmd.Stderr = e.Stderr
	cmd.Dir = e.Dir
	if len(op.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(op.Env)...)
	}

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("operation %s exited with code %d", op.Name, exitErr.ExitCode())
		}
		return fmt.Errorf("operation %s failed: %w", op.Name, err)
	}
	return nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
