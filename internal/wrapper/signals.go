package wrapper

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/psantana5/reconwrap/pkg/logging"
)

// Forwarder relays SIGINT and SIGTERM to the running worker. Signals that
// arrive while no worker runs are queued on Interrupts instead.
type Forwarder struct {
	logger *logging.Logger

	sigCh      chan os.Signal
	interrupts chan os.Signal
	done       chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once

	mu        sync.Mutex
	child     *os.Process
	forwarded bool
}

// NewForwarder creates a forwarder. Call Start to begin receiving signals.
func NewForwarder(logger *logging.Logger) *Forwarder {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Forwarder{
		logger:     logger,
		sigCh:      make(chan os.Signal, 4),
		interrupts: make(chan os.Signal, 1),
		done:       make(chan struct{}),
	}
}

// Start subscribes to SIGINT and SIGTERM
func (f *Forwarder) Start() {
	f.startOnce.Do(func() {
		signal.Notify(f.sigCh, syscall.SIGINT, syscall.SIGTERM)
		go f.loop()
	})
}

// Stop unsubscribes and ends the relay goroutine
func (f *Forwarder) Stop() {
	f.stopOnce.Do(func() {
		signal.Stop(f.sigCh)
		close(f.done)
	})
}

func (f *Forwarder) loop() {
	for {
		select {
		case <-f.done:
			return
		case sig := <-f.sigCh:
			f.deliver(sig)
		}
	}
}

// Attach makes p the forwarding target. A signal queued before the worker
// existed is delivered to it immediately.
func (f *Forwarder) Attach(p *os.Process) {
	f.mu.Lock()
	f.child = p
	f.forwarded = false
	f.mu.Unlock()

	select {
	case sig := <-f.interrupts:
		f.deliver(sig)
	default:
	}
}

// Detach clears the target and reports whether any signal was forwarded
// to it while attached.
func (f *Forwarder) Detach() (forwarded bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	forwarded = f.forwarded
	f.child = nil
	f.forwarded = false
	return forwarded
}

// Interrupts yields signals received while no worker was attached
func (f *Forwarder) Interrupts() <-chan os.Signal {
	return f.interrupts
}

// Terminate sends SIGTERM to the attached worker without marking the
// attempt as interrupted by the operator.
func (f *Forwarder) Terminate() {
	f.mu.Lock()
	child := f.child
	f.mu.Unlock()
	if child != nil {
		signalGroup(child, syscall.SIGTERM)
	}
}

// Kill sends SIGKILL to the attached worker's process group
func (f *Forwarder) Kill() {
	f.mu.Lock()
	child := f.child
	f.mu.Unlock()
	if child != nil {
		signalGroup(child, syscall.SIGKILL)
	}
}

func (f *Forwarder) deliver(sig os.Signal) {
	f.mu.Lock()
	child := f.child
	if child != nil {
		f.forwarded = true
	}
	f.mu.Unlock()

	if child == nil {
		f.logger.Warn("signal received with no worker running", map[string]interface{}{"signal": sig.String()})
		select {
		case f.interrupts <- sig:
		default:
		}
		return
	}

	f.logger.Info("forwarding signal to worker", map[string]interface{}{"signal": sig.String(), "pid": child.Pid})
	if s, ok := sig.(syscall.Signal); ok {
		signalGroup(child, s)
		return
	}
	child.Signal(sig)
}

// signalGroup signals the worker's process group, which it leads, falling
// back to the process alone.
func signalGroup(p *os.Process, sig syscall.Signal) {
	if err := syscall.Kill(-p.Pid, sig); err != nil {
		p.Signal(sig)
	}
}
