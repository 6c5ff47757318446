package wrapper

// One worker at a time. The supervisor never leaves a child behind,
// and never retries anything but a missing license.

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// State is the supervisor's position in the attempt lifecycle
type State string

const (
	StateIdle           State = "idle"
	StateStarting       State = "starting"
	StateRunning        State = "running"
	StateLicenseFailure State = "license_failure"
	StateWaiting        State = "waiting"
	StateCompleted      State = "completed"
	StateFailedTerminal State = "failed_terminal"
)

// Terminal reports whether no further attempt can follow this state
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailedTerminal
}

// Exit codes produced by the supervisor itself. Any other code is the
// worker's own.
const (
	ExitLicenseUnavailable = 1
	ExitConfigError        = 2
)

// exitStatus maps a finished process to a shell-style exit code. A worker
// killed by a signal reports 128+signo and the signal's name.
func exitStatus(ps *os.ProcessState) (code int, signal string) {
	if ps == nil {
		return -1, ""
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal()
		return 128 + int(sig), signalName(sig)
	}
	return ps.ExitCode(), ""
}

func signalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return sig.String()
}
