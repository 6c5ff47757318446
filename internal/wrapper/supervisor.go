package wrapper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/reconwrap/internal/observe"
	"github.com/psantana5/reconwrap/internal/report"
	"github.com/psantana5/reconwrap/pkg/logging"
)

const defaultKillGrace = 30 * time.Second

// Options configures a Supervisor
type Options struct {
	// Command and Args are the worker invocation. Args are passed unmodified.
	Command string
	Args    []string
	// Env is the worker environment; nil inherits ours.
	Env []string
	Dir string

	Policy RetryPolicy
	// CheckLines is how many leading lines are scanned for a license failure.
	CheckLines int

	Monitor *observe.OutputMonitor
	// Out receives supervisor console messages. Defaults to stdout.
	Out     io.Writer
	Logger  *logging.Logger
	Metrics *report.Metrics
	// Forwarder defaults to a new one owned by the supervisor.
	Forwarder *Forwarder

	// After and Now are the clock, replaceable for tests.
	After func(time.Duration) <-chan time.Time
	Now   func() time.Time
	// KillGrace bounds how long a terminated worker may take to exit before
	// it is killed.
	KillGrace time.Duration
}

// Supervisor runs the worker until it completes or license retries run out
type Supervisor struct {
	command    string
	args       []string
	env        []string
	dir        string
	step       string
	policy     RetryPolicy
	checkLines int

	monitor   *observe.OutputMonitor
	out       io.Writer
	logger    *logging.Logger
	metrics   *report.Metrics
	forwarder *Forwarder
	after     func(time.Duration) <-chan time.Time
	now       func() time.Time
	killGrace time.Duration

	mu      sync.Mutex
	state   State
	results []*report.Result
}

// New validates opts and builds a supervisor
func New(opts Options) (*Supervisor, error) {
	if opts.Command == "" {
		return nil, errors.New("worker command is required")
	}
	if opts.Monitor == nil {
		return nil, errors.New("output monitor is required")
	}
	if opts.CheckLines < 0 {
		return nil, fmt.Errorf("check lines must not be negative: %d", opts.CheckLines)
	}
	if opts.Policy.Interval < 0 {
		return nil, fmt.Errorf("retry interval must not be negative: %s", opts.Policy.Interval)
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Forwarder == nil {
		opts.Forwarder = NewForwarder(opts.Logger)
	}
	if opts.After == nil {
		opts.After = time.After
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultKillGrace
	}

	step := StepName(opts.Args)
	opts.Monitor.SetStep(step)

	return &Supervisor{
		command:    opts.Command,
		args:       opts.Args,
		env:        opts.Env,
		dir:        opts.Dir,
		step:       step,
		policy:     opts.Policy,
		checkLines: opts.CheckLines,
		monitor:    opts.Monitor,
		out:        opts.Out,
		logger:     opts.Logger.WithField("step", step),
		metrics:    opts.Metrics,
		forwarder:  opts.Forwarder,
		after:      opts.After,
		now:        opts.Now,
		killGrace:  opts.KillGrace,
		state:      StateIdle,
	}, nil
}

// Run supervises attempts and returns the process exit code. Cancelling ctx
// is treated like SIGTERM.
func (s *Supervisor) Run(ctx context.Context) int {
	s.forwarder.Start()
	defer s.forwarder.Stop()

	stop := context.AfterFunc(ctx, func() { s.forwarder.deliver(syscall.SIGTERM) })
	defer stop()

	runStart := s.now()
	code := s.loop()
	if s.metrics != nil {
		s.metrics.SetFinal(code, s.now().Sub(runStart))
	}
	s.logger.Info("supervisor finished", map[string]interface{}{
		"exit_code": code,
		"attempts":  len(s.Results()),
		"state":     string(s.State()),
	})
	return code
}

func (s *Supervisor) loop() int {
	for number := 1; ; number++ {
		s.setState(StateStarting)
		if err := s.monitor.Reset(); err != nil {
			s.logger.Warn("failed to reset output monitor", map[string]interface{}{"error": err.Error()})
		}
		s.monitor.EchoNext(s.checkLines)
		s.printf("Starting worker (attempt %d)...", number)

		a, err := s.runAttempt(number)
		if err != nil {
			s.forwarder.Detach()
			s.logger.Error("worker could not be started", map[string]interface{}{"error": err.Error()})
			s.printf("Failed to start worker: %v", err)
			s.setState(StateFailedTerminal)
			return ExitConfigError
		}
		s.record(a.result)

		if a.result.Outcome != report.OutcomeLicenseFailure {
			s.setState(StateCompleted)
			if a.result.ExitCode != 0 {
				s.monitor.DumpBuffer()
			}
			s.monitor.PrintSummary(a.result.ExitCode)
			return a.result.ExitCode
		}

		if a.interrupted {
			s.printf("No license available and a termination signal was received; not retrying")
			s.setState(StateFailedTerminal)
			return ExitLicenseUnavailable
		}
		if !s.policy.Allows(number) {
			if s.policy.MaxRetries == 0 {
				s.printf("No license available and retries disabled (LICENSE_MAX_RETRIES=0)")
			} else {
				s.printf("Max retries (%d) exceeded", s.policy.MaxRetries)
			}
			s.setState(StateFailedTerminal)
			return ExitLicenseUnavailable
		}

		s.setState(StateWaiting)
		s.printf("No license available. Waiting %.0fs before retry...", s.policy.Interval.Seconds())
		if sig, ok := s.wait(s.policy.Interval); !ok {
			s.printf("Received %s while waiting to retry; abandoning", sig)
			s.setState(StateFailedTerminal)
			return ExitLicenseUnavailable
		}
		if s.metrics != nil {
			s.metrics.RecordRetryWait(s.policy.Interval)
		}
	}
}

// wait sleeps for d unless a signal arrives first. A signal already queued
// wins even when d is zero.
func (s *Supervisor) wait(d time.Duration) (os.Signal, bool) {
	select {
	case sig := <-s.forwarder.Interrupts():
		return sig, false
	default:
	}
	select {
	case sig := <-s.forwarder.Interrupts():
		return sig, false
	case <-s.after(d):
		return nil, true
	}
}

func (s *Supervisor) record(r *report.Result) {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()

	r.LogSummary(s.logger)
	if s.metrics != nil {
		s.metrics.RecordResult(r)
	}
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()
	s.logger.Debug("state transition", map[string]interface{}{"from": string(prev), "to": string(state)})
}

// State returns the current lifecycle state
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Results returns the finished attempts in order
func (s *Supervisor) Results() []*report.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*report.Result(nil), s.results...)
}

func (s *Supervisor) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, "%s %s\n", observe.PrefixLicense, fmt.Sprintf(format, args...))
}
