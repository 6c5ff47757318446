package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	mu      sync.Mutex
	sample  Sample
	calls   int
	primes  int
	entered chan struct{}
	block   chan struct{}
}

func (p *fakeProbe) Prime(context.Context) {
	p.mu.Lock()
	p.primes++
	p.mu.Unlock()
}

func (p *fakeProbe) Sample(context.Context) Sample {
	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	s := p.sample
	p.mu.Unlock()

	if first && p.block != nil {
		close(p.entered)
		<-p.block
	}
	return s
}

func (p *fakeProbe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testSample() Sample {
	return Sample{
		CPUPercent:   50,
		ProcessCores: 1.5,
		Memory: MemorySnapshot{
			ProcessRSSBytes:         2 << 30,
			Scope:                   MemoryScopeCgroup,
			ContainerLimitBytes:     8 << 30,
			ContainerUsedBytes:      3 << 30,
			ContainerAvailableBytes: 5 << 30,
			SystemTotalBytes:        64 << 30,
			SystemUsedBytes:         16 << 30,
			SystemAvailableBytes:    48 << 30,
		},
	}
}

func newTestMonitor(t *testing.T, probe Probe, opts ...Option) (*Monitor, string, string) {
	t.Helper()
	dir := t.TempDir()
	human := filepath.Join(dir, "run_log.txt")
	structured := filepath.Join(dir, "run_telemetry.yaml")

	node := "node-7"
	cores := 16.0
	nodeInfo := func() NodeInfo { return NodeInfo{NodeName: &node, CPUCoresAvailable: &cores} }

	base := []Option{WithProbe(probe), WithGPUProvider(nil), WithRunID("run-1")}
	m, err := New(human, structured, nodeInfo, append(base, opts...)...)
	require.NoError(t, err)
	return m, human, structured
}

func TestTrackEmitsOneRecord(t *testing.T) {
	probe := &fakeProbe{sample: testSample()}
	m, human, structured := newTestMonitor(t, probe, WithSampleInterval(time.Hour))
	m.SetStepName("align")

	ran := false
	err := m.Track(context.Background(), "matchPhotos", func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, probe.primes)

	doc, err := ReadStructuredLog(structured)
	require.NoError(t, err)
	assert.Equal(t, "run-1", doc.RunID)
	require.Len(t, doc.Operations, 1)

	rec := doc.Operations[0]
	assert.Equal(t, "align", rec.Step)
	assert.Equal(t, "matchPhotos", rec.Operation)
	assert.Equal(t, 50.0, rec.CPUPercent)
	assert.Equal(t, 1.5, rec.ProcessCPUCores)
	assert.Equal(t, uint64(3<<30), rec.ContainerUsedPeakBytes)
	assert.Equal(t, MemoryScopeCgroup, rec.MemoryScope)
	require.NotNil(t, rec.NodeName)
	assert.Equal(t, "node-7", *rec.NodeName)
	assert.Nil(t, rec.Error)

	data, err := os.ReadFile(human)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.TrimSuffix(humanHeader(), "\n"), lines[0])
	assert.Contains(t, lines[1], "matchPhotos")
	assert.Contains(t, lines[1], "node-7")
}

func TestZeroSamplesFallBackToSnapshot(t *testing.T) {
	probe := &fakeProbe{sample: testSample()}
	m, _, structured := newTestMonitor(t, probe, WithSampleInterval(time.Hour))

	require.NoError(t, m.Track(context.Background(), "quick", func(context.Context) error { return nil }))

	assert.Equal(t, 1, probe.Calls())
	doc, err := ReadStructuredLog(structured)
	require.NoError(t, err)
	require.Len(t, doc.Operations, 1)
	assert.Equal(t, 1, doc.Operations[0].Samples)
	assert.Equal(t, 50.0, doc.Operations[0].CPUPercent)
}

func TestGPUFieldsNullWithoutProvider(t *testing.T) {
	probe := &fakeProbe{sample: testSample()}
	m, _, structured := newTestMonitor(t, probe, WithSampleInterval(time.Hour))
	require.NoError(t, m.Track(context.Background(), "op", func(context.Context) error { return nil }))

	data, err := os.ReadFile(structured)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "gpu_percent: null")
	assert.Contains(t, text, "gpu_count: null")
	assert.Contains(t, text, "gpu_model: null")
	assert.Contains(t, text, "error: null")
}

func TestTrackPropagatesError(t *testing.T) {
	probe := &fakeProbe{sample: testSample()}
	m, _, structured := newTestMonitor(t, probe, WithSampleInterval(time.Hour))
	boom := errors.New("engine exploded")

	err := m.Track(context.Background(), "buildModel", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	doc, err := ReadStructuredLog(structured)
	require.NoError(t, err)
	require.Len(t, doc.Operations, 1)
	require.NotNil(t, doc.Operations[0].Error)
	assert.Equal(t, "engine exploded", *doc.Operations[0].Error)
}

func TestTrackPropagatesPanic(t *testing.T) {
	probe := &fakeProbe{sample: testSample()}
	m, _, structured := newTestMonitor(t, probe, WithSampleInterval(time.Hour))

	assert.PanicsWithValue(t, "kaboom", func() {
		m.Track(context.Background(), "buildTexture", func(context.Context) error { panic("kaboom") })
	})

	doc, err := ReadStructuredLog(structured)
	require.NoError(t, err)
	require.Len(t, doc.Operations, 1)
	require.NotNil(t, doc.Operations[0].Error)
	assert.Equal(t, "panic", *doc.Operations[0].Error)

	// The scope is released after a panic.
	assert.NoError(t, m.Track(context.Background(), "next", func(context.Context) error { return nil }))
}

func TestConcurrentScopeRejected(t *testing.T) {
	probe := &fakeProbe{sample: testSample()}
	m, _, structured := newTestMonitor(t, probe, WithSampleInterval(time.Hour))

	innerRan := false
	err := m.Track(context.Background(), "outer", func(ctx context.Context) error {
		inner := m.Track(ctx, "inner", func(context.Context) error {
			innerRan = true
			return nil
		})
		assert.ErrorIs(t, inner, ErrScopeActive)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, innerRan)

	doc, err := ReadStructuredLog(structured)
	require.NoError(t, err)
	require.Len(t, doc.Operations, 1)
	assert.Equal(t, "outer", doc.Operations[0].Operation)
}

func TestSamplerCollectsWhileRunning(t *testing.T) {
	probe := &fakeProbe{sample: testSample()}
	m, _, structured := newTestMonitor(t, probe, WithSampleInterval(5*time.Millisecond))

	err := m.Track(context.Background(), "long", func(context.Context) error {
		deadline := time.Now().Add(5 * time.Second)
		for probe.Calls() < 3 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)

	doc, err := ReadStructuredLog(structured)
	require.NoError(t, err)
	require.Len(t, doc.Operations, 1)
	assert.GreaterOrEqual(t, doc.Operations[0].Samples, 3)
}

func TestJoinTimeoutBoundsExit(t *testing.T) {
	probe := &fakeProbe{
		sample:  testSample(),
		entered: make(chan struct{}),
		block:   make(chan struct{}),
	}
	defer close(probe.block)
	m, _, structured := newTestMonitor(t, probe,
		WithSampleInterval(time.Millisecond),
		WithJoinTimeout(20*time.Millisecond))

	start := time.Now()
	err := m.Track(context.Background(), "stuck", func(context.Context) error {
		<-probe.entered
		return nil
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	doc, err := ReadStructuredLog(structured)
	require.NoError(t, err)
	require.Len(t, doc.Operations, 1)
	assert.Equal(t, 1, doc.Operations[0].Samples)
}

func TestHumanLogHeaderWrittenOnce(t *testing.T) {
	dir := t.TempDir()
	human := filepath.Join(dir, "log.txt")
	probe := &fakeProbe{sample: testSample()}

	for i := 0; i < 2; i++ {
		m, err := New(human, "", func() NodeInfo { return NodeInfo{} },
			WithProbe(probe), WithGPUProvider(nil), WithSampleInterval(time.Hour))
		require.NoError(t, err)
		require.NoError(t, m.Track(context.Background(), "op", func(context.Context) error { return nil }))
		require.NoError(t, m.Close())
	}

	data, err := os.ReadFile(human)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "operation"))
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 3)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00:00"},
		{59 * time.Second, "0:00:59"},
		{61 * time.Second, "0:01:01"},
		{3*time.Hour + 4*time.Minute + 5*time.Second, "3:04:05"},
		{27 * time.Hour, "27:00:00"},
		{-time.Second, "0:00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.d))
		})
	}
}

// slowGPU reports a reading only after delay, longer than the join timeout
type slowGPU struct {
	delay time.Duration
}

func (g slowGPU) Utilization(ctx context.Context) (float64, error) {
	time.Sleep(g.delay)
	return 40, nil
}
func (slowGPU) Count() int    { return 1 }
func (slowGPU) Model() string { return "Slow GPU" }
func (slowGPU) Close() error  { return nil }

func TestTrackAfterSamplerOutlivesJoin(t *testing.T) {
	dir := t.TempDir()
	m, err := New(filepath.Join(dir, "log.txt"), filepath.Join(dir, "telemetry.yaml"),
		func() NodeInfo { return NodeInfo{} },
		WithGPUProvider(slowGPU{delay: 150 * time.Millisecond}),
		WithSampleInterval(20*time.Millisecond),
		WithJoinTimeout(50*time.Millisecond))
	require.NoError(t, err)

	// Each scope ends while its sampler is still inside a sample, so the
	// fallback snapshot and the next Prime overlap the leaked walk.
	for i := 0; i < 3; i++ {
		err := m.Track(context.Background(), "op", func(context.Context) error {
			time.Sleep(30 * time.Millisecond)
			return nil
		})
		require.NoError(t, err)
	}

	doc, err := ReadStructuredLog(filepath.Join(dir, "telemetry.yaml"))
	require.NoError(t, err)
	require.Len(t, doc.Operations, 3)
	for _, rec := range doc.Operations {
		assert.Equal(t, 1, rec.Samples)
	}
}

func TestProcessTreeConcurrentWalks(t *testing.T) {
	tree := newProcessTree(int32(os.Getpid()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, rss := tree.sample(context.Background())
				assert.NotZero(t, rss)
			}
		}()
	}
	wg.Wait()
}
