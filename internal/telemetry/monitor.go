package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psantana5/reconwrap/internal/cgroups"
	"github.com/psantana5/reconwrap/pkg/logging"
)

const (
	DefaultSampleInterval = time.Second
	DefaultJoinTimeout    = 2 * time.Second
)

// ErrScopeActive is returned by Track while another scope is running
var ErrScopeActive = errors.New("telemetry scope already active")

// Monitor wraps named operations with background resource sampling and
// appends one row per operation to a human log and a YAML log.
type Monitor struct {
	humanPath string
	yamlPath  string
	runID     string
	nodeInfo  NodeInfoFunc

	probe       Probe
	gpu         GPUProvider
	gpuSet      bool
	cgroup      *cgroups.Reader
	pid         int
	interval    time.Duration
	joinTimeout time.Duration
	logger      *logging.Logger
	now         func() time.Time

	mu     sync.Mutex
	step   string
	active atomic.Bool
}

// Option configures a Monitor
type Option func(*Monitor)

// WithRunID sets the run identifier stored in the YAML header and every row
func WithRunID(id string) Option {
	return func(m *Monitor) { m.runID = id }
}

// WithSampleInterval overrides the sampling period
func WithSampleInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithJoinTimeout bounds how long scope exit waits for the sampler
func WithJoinTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.joinTimeout = d
		}
	}
}

// WithRootPID measures the process tree rooted at pid instead of self
func WithRootPID(pid int) Option {
	return func(m *Monitor) { m.pid = pid }
}

// WithGPUProvider replaces nvidia-smi detection. A nil provider disables GPU
// telemetry.
func WithGPUProvider(gpu GPUProvider) Option {
	return func(m *Monitor) {
		m.gpu = gpu
		m.gpuSet = true
	}
}

// WithProbe replaces the system probe entirely
func WithProbe(p Probe) Option {
	return func(m *Monitor) { m.probe = p }
}

// WithCgroupReader sets the cgroup hierarchy used for memory and CPU quota
func WithCgroupReader(r *cgroups.Reader) Option {
	return func(m *Monitor) { m.cgroup = r }
}

// WithLogger routes degradation warnings
func WithLogger(l *logging.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithClock overrides time.Now for timestamps and durations
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor. humanLog is appended to; yamlLog is truncated and
// receives a fresh header. A nil nodeInfo uses DefaultNodeInfo.
func New(humanLog, yamlLog string, nodeInfo NodeInfoFunc, opts ...Option) (*Monitor, error) {
	m := &Monitor{
		humanPath:   humanLog,
		yamlPath:    yamlLog,
		nodeInfo:    nodeInfo,
		interval:    DefaultSampleInterval,
		joinTimeout: DefaultJoinTimeout,
		logger:      logging.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cgroup == nil {
		m.cgroup = cgroups.New()
	}

	if !m.gpuSet {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		gpu, err := NewNvidiaSMI(ctx)
		cancel()
		if err != nil {
			m.logger.Info("GPU telemetry disabled", map[string]interface{}{"reason": err.Error()})
		} else {
			m.gpu = gpu
		}
	}
	if m.probe == nil {
		m.probe = NewSystemProbe(m.pid, m.gpu, m.cgroup)
	}
	if m.nodeInfo == nil {
		m.nodeInfo = DefaultNodeInfo(m.gpu, m.cgroup)
	}

	if m.humanPath != "" {
		if err := initHumanLog(m.humanPath); err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry log %s: %w", m.humanPath, err)
		}
	}
	if m.yamlPath != "" {
		if err := initStructuredLog(m.yamlPath, m.runID); err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry log %s: %w", m.yamlPath, err)
		}
	}
	return m, nil
}

// SetStepName labels rows emitted by subsequent scopes
func (m *Monitor) SetStepName(step string) {
	m.mu.Lock()
	m.step = step
	m.mu.Unlock()
}

// Track runs fn inside a sampled scope named name. The record is emitted on
// every exit path; fn's error or panic propagates unchanged.
func (m *Monitor) Track(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	if !m.active.CompareAndSwap(false, true) {
		return ErrScopeActive
	}
	defer m.active.Store(false)

	sampleCtx := context.WithoutCancel(ctx)
	m.probe.Prime(sampleCtx)
	started := m.now()
	s := startSampler(sampleCtx, m.probe, m.interval, m.logger)

	completed := false
	defer func() {
		ended := m.now()
		samples, joined := s.stop(m.joinTimeout)
		if !joined {
			m.logger.Warn("telemetry sampler did not stop in time", map[string]interface{}{
				"operation": name,
				"timeout":   m.joinTimeout.String(),
			})
		}
		if len(samples) == 0 {
			samples = []Sample{m.safeSample(sampleCtx)}
		}

		var outcome *string
		switch {
		case !completed:
			msg := "panic"
			outcome = &msg
		case err != nil:
			msg := err.Error()
			outcome = &msg
		}
		m.emit(m.buildRecord(name, started, ended, samples, outcome))
	}()

	err = fn(ctx)
	completed = true
	return err
}

func (m *Monitor) safeSample(ctx context.Context) (s Sample) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("telemetry snapshot failed", map[string]interface{}{"panic": fmt.Sprint(r)})
			s = Sample{At: m.now()}
		}
	}()
	return m.probe.Sample(ctx)
}

func (m *Monitor) buildRecord(name string, started, ended time.Time, samples []Sample, outcome *string) Record {
	m.mu.Lock()
	step := m.step
	m.mu.Unlock()

	rec := Record{
		RunID:           m.runID,
		Step:            step,
		Operation:       name,
		StartedAt:       started,
		DurationSeconds: round1(ended.Sub(started).Seconds()),
		Error:           outcome,
	}
	summarize(&rec, samples)

	info := m.nodeInfo()
	rec.NodeName = info.NodeName
	rec.CPUCoresAvailable = info.CPUCoresAvailable
	rec.GPUCount = info.GPUCount
	rec.GPUModel = info.GPUModel
	return rec
}

// emit appends rec to both logs. Write failures are logged, not returned.
func (m *Monitor) emit(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.humanPath != "" {
		if err := appendFile(m.humanPath, []byte(humanRow(rec))); err != nil {
			m.logger.Warn("failed to write telemetry row", map[string]interface{}{"path": m.humanPath, "error": err.Error()})
		}
	}
	if m.yamlPath != "" {
		entry, err := structuredEntry(rec)
		if err == nil {
			err = appendFile(m.yamlPath, entry)
		}
		if err != nil {
			m.logger.Warn("failed to write telemetry entry", map[string]interface{}{"path": m.yamlPath, "error": err.Error()})
		}
	}
}

// Close releases the GPU provider
func (m *Monitor) Close() error {
	if m.gpu == nil {
		return nil
	}
	return m.gpu.Close()
}

// sampler is the background goroutine of one scope
type sampler struct {
	stopCh chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	samples []Sample
}

func startSampler(ctx context.Context, probe Probe, interval time.Duration, logger *logging.Logger) *sampler {
	s := &sampler{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run(ctx, probe, interval, logger)
	return s
}

func (s *sampler) run(ctx context.Context, probe Probe, interval time.Duration, logger *logging.Logger) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			sample, ok := s.take(ctx, probe, logger)
			if !ok {
				continue
			}
			s.mu.Lock()
			s.samples = append(s.samples, sample)
			s.mu.Unlock()
		}
	}
}

// take isolates a panicking probe so it cannot bring down the process
func (s *sampler) take(ctx context.Context, probe Probe, logger *logging.Logger) (sample Sample, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("telemetry sample failed", map[string]interface{}{"panic": fmt.Sprint(r)})
			ok = false
		}
	}()
	return probe.Sample(ctx), true
}

// stop signals the goroutine and waits up to timeout. The returned slice is a
// copy; joined is false if the goroutine was still running.
func (s *sampler) stop(timeout time.Duration) (samples []Sample, joined bool) {
	close(s.stopCh)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		joined = true
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sample(nil), s.samples...), joined
}
