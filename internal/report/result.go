package report

// One record per attempt, frozen when the attempt ends.
// Counters are projections of these records and nothing else.

import (
	"fmt"
	"time"

	"github.com/psantana5/reconwrap/pkg/logging"
)

// Outcome classifies how an attempt ended
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeLicenseFailure Outcome = "license_failure"
	OutcomeFailure        Outcome = "failure"
)

// Result is the immutable record of one worker attempt
type Result struct {
	Attempt int    `json:"attempt"`
	Step    string `json:"step"`
	PID     int    `json:"pid"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_seconds"`

	ExitCode  int     `json:"exit_code"`
	Outcome   Outcome `json:"outcome"`
	Signal    string  `json:"signal,omitempty"`
	LinesRead int     `json:"lines_read"`
}

// NewResult freezes an attempt. Outcome is derived from the license flag and
// the exit code.
func NewResult(attempt int, step string, pid, exitCode int, licenseFailure bool, startTime, endTime time.Time) *Result {
	outcome := OutcomeSuccess
	switch {
	case licenseFailure:
		outcome = OutcomeLicenseFailure
	case exitCode != 0:
		outcome = OutcomeFailure
	}
	return &Result{
		Attempt:   attempt,
		Step:      step,
		PID:       pid,
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  endTime.Sub(startTime),
		ExitCode:  exitCode,
		Outcome:   outcome,
	}
}

// WithSignal returns a copy noting the signal that ended the worker
func (r Result) WithSignal(name string) *Result {
	r.Signal = name
	return &r
}

// WithLines returns a copy carrying the attempt's output line count
func (r Result) WithLines(n int) *Result {
	r.LinesRead = n
	return &r
}

// Summary is the one-line form operators grep for
func (r *Result) Summary() string {
	s := fmt.Sprintf("ATTEMPT %d | step=%s | outcome=%s | runtime=%.0fs | exit=%d | lines=%d | pid=%d",
		r.Attempt, r.Step, r.Outcome, r.Duration.Seconds(), r.ExitCode, r.LinesRead, r.PID)
	if r.Signal != "" {
		s += " | signal=" + r.Signal
	}
	return s
}

// LogSummary writes Summary at info level, or warn for failed attempts
func (r *Result) LogSummary(logger *logging.Logger) {
	if r.Outcome == OutcomeSuccess {
		logger.Info(r.Summary())
		return
	}
	logger.Warn(r.Summary())
}
