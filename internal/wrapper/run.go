package wrapper

import (
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/psantana5/reconwrap/internal/observe"
	"github.com/psantana5/reconwrap/internal/report"
)

// attempt is the outcome of one worker run before result bookkeeping
type attempt struct {
	result      *report.Result
	interrupted bool
}

// runAttempt spawns the worker once, feeds its combined output through the
// monitor and waits for it to exit. Only a spawn failure is an error.
func (s *Supervisor) runAttempt(number int) (*attempt, error) {
	cmd := exec.Command(s.command, s.args...)
	cmd.Env = s.env
	cmd.Dir = s.dir

	// The worker leads its own process group so termination reaches
	// everything it started.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	// One pipe for both streams keeps their relative order.
	cmd.Stderr = cmd.Stdout

	startTime := s.now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker %s: %w", s.command, err)
	}
	pid := cmd.Process.Pid

	s.forwarder.Attach(cmd.Process)
	s.setState(StateRunning)
	s.logger.Debug("worker started", map[string]interface{}{"pid": pid, "attempt": number})

	license := s.consume(stdout)

	var killTimer *time.Timer
	if license {
		s.setState(StateLicenseFailure)
		s.forwarder.Terminate()
		killTimer = time.AfterFunc(s.killGrace, s.forwarder.Kill)
	}

	if err := cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			s.logger.Warn("error waiting for worker", map[string]interface{}{"pid": pid, "error": err.Error()})
		}
	}
	if killTimer != nil {
		killTimer.Stop()
	}
	interrupted := s.forwarder.Detach()

	code, sig := exitStatus(cmd.ProcessState)
	result := report.NewResult(number, s.step, pid, code, license, startTime, s.now()).
		WithLines(s.monitor.LineCount())
	if sig != "" {
		result = result.WithSignal(sig)
	}
	return &attempt{result: result, interrupted: interrupted}, nil
}

// consume reads lines until EOF or a license failure in the first
// checkLines lines. Every line read reaches the monitor exactly once.
func (s *Supervisor) consume(r io.Reader) (license bool) {
	lr := observe.NewLineReader(r)
	checked := 0
	for {
		line, err := lr.ReadLine()
		if err != nil {
			if err != io.EOF {
				s.logger.Warn("error reading worker output", map[string]interface{}{"error": err.Error()})
			}
			return false
		}

		s.monitor.ProcessLine(line)

		if checked >= s.checkLines {
			continue
		}
		checked++
		if observe.IsLicenseFailure(line) {
			return true
		}
		if checked == s.checkLines {
			s.printf("License check passed, proceeding with workflow...")
		}
	}
}
