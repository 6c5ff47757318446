package observe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultBufferSize        = 100
	DefaultHeartbeatInterval = 60 * time.Second
	contentLineLimit         = 100
)

// Options configures an OutputMonitor
type Options struct {
	// FullLogPath receives every line verbatim. Empty disables the full log.
	FullLogPath string
	// BufferSize is the ring capacity for the error-context dump.
	BufferSize int
	// HeartbeatInterval of zero selects full-output mode.
	HeartbeatInterval time.Duration
	// Out is the operator console. Defaults to stdout.
	Out io.Writer
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// OutputMonitor turns a long, mostly silent stream of worker output into
// sparse console heartbeats while keeping full fidelity on disk.
// It is driven by a single goroutine and is not safe for concurrent use.
type OutputMonitor struct {
	out               io.Writer
	now               func() time.Time
	heartbeatInterval time.Duration
	fullOutput        bool
	fullLogPath       string
	logFile           *os.File

	buffer        *Ring
	lineCount     int
	timing        *Timing
	lastHeartbeat time.Time
	echoRemaining int
	step          string

	currentOperation string
	lastProgress     string
	lastContent      string
}

// NewOutputMonitor creates a monitor and opens the full log if configured
func NewOutputMonitor(opts Options) (*OutputMonitor, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.HeartbeatInterval < 0 {
		return nil, fmt.Errorf("heartbeat interval must not be negative: %s", opts.HeartbeatInterval)
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &OutputMonitor{
		out:               opts.Out,
		now:               opts.Now,
		heartbeatInterval: opts.HeartbeatInterval,
		fullOutput:        opts.HeartbeatInterval == 0,
		fullLogPath:       opts.FullLogPath,
		buffer:            NewRing(opts.BufferSize),
		timing:            NewTimingWithClock(opts.Now),
	}
	m.lastHeartbeat = m.timing.StartedAt

	if opts.FullLogPath != "" {
		if dir := filepath.Dir(opts.FullLogPath); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
			}
		}
		f, err := os.OpenFile(opts.FullLogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open full log %s: %w", opts.FullLogPath, err)
		}
		m.logFile = f
		fmt.Fprintf(m.out, "%s Full log: %s\n", PrefixMonitor, opts.FullLogPath)
	}

	if m.fullOutput {
		fmt.Fprintf(m.out, "%s Full output mode enabled (LOG_HEARTBEAT_INTERVAL=0)\n", PrefixMonitor)
	}
	return m, nil
}

// SetStep labels subsequent heartbeats with a pipeline stage
func (m *OutputMonitor) SetStep(step string) {
	m.step = step
}

// EchoNext prints the next n lines verbatim regardless of classification
func (m *OutputMonitor) EchoNext(n int) {
	if n < 0 {
		n = 0
	}
	m.echoRemaining = n
}

// ProcessLine handles one line of worker output, including its newline
func (m *OutputMonitor) ProcessLine(line string) {
	m.lineCount++
	m.buffer.Push(line)

	if m.logFile != nil {
		// Full log is best effort; a full disk must not stop the worker.
		io.WriteString(m.logFile, line)
	}

	if m.fullOutput {
		io.WriteString(m.out, line)
		return
	}

	echo := m.echoRemaining > 0
	if echo {
		m.echoRemaining--
		io.WriteString(m.out, line)
	}

	c := Classify(line)
	switch c.Kind {
	case KindProgress:
		m.lastProgress = c.Summary
		if c.Operation != m.currentOperation {
			m.currentOperation = c.Operation
			m.printf("%s %s | %s: started\n", PrefixHeartbeat, m.clock(), c.Operation)
		}
		if c.Done() {
			m.printf("%s %s | %s: completed\n", PrefixHeartbeat, m.clock(), c.Operation)
		}
	case KindImportant:
		if !echo {
			io.WriteString(m.out, line)
		}
	default:
		m.lastContent = truncateRunes(strings.TrimSpace(line), contentLineLimit)
	}

	m.maybeHeartbeat()
}

func (m *OutputMonitor) maybeHeartbeat() {
	now := m.now()
	if now.Sub(m.lastHeartbeat) < m.heartbeatInterval {
		return
	}

	msg := fmt.Sprintf("%s %s | output lines: %d | elapsed: %.0fs",
		PrefixHeartbeat, now.Format("15:04:05"), m.lineCount, now.Sub(m.timing.StartedAt).Seconds())
	if m.step != "" {
		msg += " | step: " + m.step
	}
	if m.lastProgress != "" {
		msg += " | " + m.lastProgress
	}
	if m.lastContent != "" {
		msg += " | last: " + m.lastContent
	}
	m.printf("%s\n", msg)
	m.lastHeartbeat = now
}

// DumpBuffer prints buffered lines for error context
func (m *OutputMonitor) DumpBuffer() {
	lines := m.buffer.Lines()
	m.printf("\n%s === Last %d lines before error ===\n", PrefixMonitor, len(lines))
	for _, line := range lines {
		io.WriteString(m.out, line)
	}
	m.printf("%s === End error context ===\n\n", PrefixMonitor)
}

// PrintSummary prints the final one-line status
func (m *OutputMonitor) PrintSummary(exitCode int) {
	status := "SUCCESS"
	if exitCode != 0 {
		status = fmt.Sprintf("FAILED (exit code %d)", exitCode)
	}
	m.printf("%s %s | total output lines: %d | elapsed: %.0fs\n",
		PrefixMonitor, status, m.lineCount, m.timing.Duration().Seconds())
	if m.logFile != nil {
		m.printf("%s Full worker output log saved to: %s\n", PrefixMonitor, m.fullLogPath)
	}
}

// Reset clears all per-attempt state and truncates the full log
func (m *OutputMonitor) Reset() error {
	m.buffer.Clear()
	m.lineCount = 0
	m.timing.Restart()
	m.lastHeartbeat = m.timing.StartedAt
	m.echoRemaining = 0
	m.currentOperation = ""
	m.lastProgress = ""
	m.lastContent = ""

	if m.logFile != nil {
		if err := m.logFile.Truncate(0); err != nil {
			return fmt.Errorf("failed to truncate full log: %w", err)
		}
		if _, err := m.logFile.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind full log: %w", err)
		}
	}
	return nil
}

// LineCount returns lines processed in the current attempt
func (m *OutputMonitor) LineCount() int {
	return m.lineCount
}

// Buffered returns the current ring contents, oldest first
func (m *OutputMonitor) Buffered() []string {
	return m.buffer.Lines()
}

// LastProgress returns the most recent progress summary
func (m *OutputMonitor) LastProgress() string {
	return m.lastProgress
}

// LastContent returns the most recent ordinary line, truncated
func (m *OutputMonitor) LastContent() string {
	return m.lastContent
}

// Elapsed returns time since the current attempt started
func (m *OutputMonitor) Elapsed() time.Duration {
	return m.timing.Duration()
}

// Close flushes and closes the full log
func (m *OutputMonitor) Close() error {
	if m.logFile == nil {
		return nil
	}
	err := m.logFile.Close()
	m.logFile = nil
	return err
}

func (m *OutputMonitor) printf(format string, args ...interface{}) {
	fmt.Fprintf(m.out, format, args...)
}

func (m *OutputMonitor) clock() string {
	return m.now().Format("15:04:05")
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
