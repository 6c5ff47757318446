package observe

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMonitor(t *testing.T, heartbeat time.Duration, bufferSize int) (*OutputMonitor, *bytes.Buffer, *fakeClock) {
	t.Helper()
	var out bytes.Buffer
	clock := newFakeClock()
	m, err := NewOutputMonitor(Options{
		BufferSize:        bufferSize,
		HeartbeatInterval: heartbeat,
		Out:               &out,
		Now:               clock.Now,
	})
	require.NoError(t, err)
	return m, &out, clock
}

func TestRingKeepsMostRecent(t *testing.T) {
	for _, capacity := range []int{1, 2, 5, 100} {
		for _, count := range []int{0, 1, 4, 5, 6, 250} {
			t.Run(fmt.Sprintf("cap%d_lines%d", capacity, count), func(t *testing.T) {
				r := NewRing(capacity)
				for i := 0; i < count; i++ {
					r.Push(strconv.Itoa(i))
				}

				want := min(capacity, count)
				got := r.Lines()
				require.Len(t, got, want)
				for i, line := range got {
					assert.Equal(t, strconv.Itoa(count-want+i), line)
				}
			})
		}
	}
}

func TestRingClear(t *testing.T) {
	r := NewRing(3)
	r.Push("a")
	r.Push("b")
	r.Clear()
	assert.Equal(t, 0, r.Len())
	r.Push("c")
	assert.Equal(t, []string{"c"}, r.Lines())
}

func TestFullOutputModePrintsEverything(t *testing.T) {
	m, out, _ := newTestMonitor(t, 0, 10)
	out.Reset()

	m.ProcessLine("plain line\n")
	m.ProcessLine(ProgressLine("alignCameras", 10) + "\n")

	assert.Equal(t, "plain line\n"+ProgressLine("alignCameras", 10)+"\n", out.String())
}

func TestSparseModeSuppressesOrdinaryLines(t *testing.T) {
	m, out, _ := newTestMonitor(t, time.Minute, 10)

	m.ProcessLine("matching points 1/200\n")
	m.ProcessLine("matching points 2/200\n")

	assert.Empty(t, out.String())
	assert.Equal(t, "matching points 2/200", m.LastContent())
	assert.Equal(t, 2, m.LineCount())
}

func TestSparseModePrintsImportantLines(t *testing.T) {
	m, out, _ := newTestMonitor(t, time.Minute, 10)

	m.ProcessLine(PrefixLicense + " checking\n")
	m.ProcessLine(PrefixProgress + " garbled\n")

	assert.Equal(t, PrefixLicense+" checking\n"+PrefixProgress+" garbled\n", out.String())
}

func TestProgressTransitions(t *testing.T) {
	m, out, _ := newTestMonitor(t, time.Hour, 10)

	m.ProcessLine(ProgressLine("buildDepthMaps", 0) + "\n")
	m.ProcessLine(ProgressLine("buildDepthMaps", 45) + "\n")
	m.ProcessLine(ProgressLine("buildDepthMaps", 100) + "\n")
	m.ProcessLine(ProgressLine("buildModel", 3.5) + "\n")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, PrefixHeartbeat+" 10:00:00 | buildDepthMaps: started", lines[0])
	assert.Equal(t, PrefixHeartbeat+" 10:00:00 | buildDepthMaps: completed", lines[1])
	assert.Equal(t, PrefixHeartbeat+" 10:00:00 | buildModel: started", lines[2])
	assert.Equal(t, "buildModel: 3.5%", m.LastProgress())
}

func TestHeartbeatContents(t *testing.T) {
	m, out, clock := newTestMonitor(t, 10*time.Second, 10)
	m.SetStep("align")

	m.ProcessLine(ProgressLine("matchPhotos", 20) + "\n")
	out.Reset()
	clock.Advance(5 * time.Second)
	m.ProcessLine("tie points: 1024\n")
	assert.Empty(t, out.String())

	clock.Advance(6 * time.Second)
	m.ProcessLine("tie points: 2048\n")
	assert.Equal(t,
		PrefixHeartbeat+" 10:00:11 | output lines: 3 | elapsed: 11s | step: align | matchPhotos: 20% | last: tie points: 2048\n",
		out.String())

	out.Reset()
	clock.Advance(time.Second)
	m.ProcessLine("tie points: 4096\n")
	assert.Empty(t, out.String(), "timer resets after a heartbeat")
}

func TestEchoNextPrintsCheckWindow(t *testing.T) {
	m, out, _ := newTestMonitor(t, time.Hour, 10)
	m.EchoNext(2)

	m.ProcessLine("engine 2.1 starting\n")
	m.ProcessLine(PrefixMonitor + " hello\n")
	m.ProcessLine("silent\n")

	assert.Equal(t, "engine 2.1 starting\n"+PrefixMonitor+" hello\n", out.String())
}

func TestContentLineTruncated(t *testing.T) {
	m, _, _ := newTestMonitor(t, time.Hour, 10)
	m.ProcessLine(strings.Repeat("é", 250) + "\n")
	assert.Equal(t, strings.Repeat("é", 100), m.LastContent())
}

func TestDumpBufferAndSummary(t *testing.T) {
	m, out, clock := newTestMonitor(t, time.Hour, 2)

	m.ProcessLine("one\n")
	m.ProcessLine("two\n")
	m.ProcessLine("three\n")
	clock.Advance(42 * time.Second)
	out.Reset()

	m.DumpBuffer()
	m.PrintSummary(3)

	assert.Equal(t,
		"\n"+PrefixMonitor+" === Last 2 lines before error ===\ntwo\nthree\n"+
			PrefixMonitor+" === End error context ===\n\n"+
			PrefixMonitor+" FAILED (exit code 3) | total output lines: 3 | elapsed: 42s\n",
		out.String())
}

func TestResetMatchesFreshInstance(t *testing.T) {
	script := []string{
		"booting\n",
		ProgressLine("alignCameras", 50) + "\n",
		PrefixLicense + " ok\n",
		"bundle adjustment\n",
		ProgressLine("alignCameras", 100) + "\n",
	}
	run := func(m *OutputMonitor, out *bytes.Buffer, clock *fakeClock) string {
		out.Reset()
		for _, line := range script {
			clock.Advance(700 * time.Millisecond)
			m.ProcessLine(line)
		}
		m.PrintSummary(0)
		return out.String()
	}

	fresh, freshOut, freshClock := newTestMonitor(t, time.Second, 3)
	want := run(fresh, freshOut, freshClock)

	reused, reusedOut, reusedClock := newTestMonitor(t, time.Second, 3)
	for i := 0; i < 50; i++ {
		reusedClock.Advance(time.Second)
		reused.ProcessLine(ProgressLine("stale", float64(i)) + "\n")
		reused.ProcessLine("stale content\n")
	}
	reusedClock.t = freshClock.t.Add(-3500 * time.Millisecond)
	require.NoError(t, reused.Reset())
	got := run(reused, reusedOut, reusedClock)

	assert.Equal(t, want, got)
	assert.Equal(t, fresh.Buffered(), reused.Buffered())
	assert.Equal(t, fresh.LineCount(), reused.LineCount())
}

func TestFullLogTruncatedOnReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "recon-align.log")
	var out bytes.Buffer
	m, err := NewOutputMonitor(Options{FullLogPath: path, HeartbeatInterval: time.Hour, Out: &out})
	require.NoError(t, err)
	defer m.Close()

	m.ProcessLine("attempt one\n")
	require.NoError(t, m.Reset())
	m.ProcessLine("attempt two\n")
	require.NoError(t, m.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "attempt two\n", string(data))
	assert.Contains(t, out.String(), "Full log: "+path)
}

func TestHeartbeatElapsedNonDecreasing(t *testing.T) {
	m, out, clock := newTestMonitor(t, time.Second, 10)
	for i := 0; i < 12; i++ {
		clock.Advance(300 * time.Millisecond)
		m.ProcessLine("working\n")
	}

	re := regexp.MustCompile(`elapsed: (\d+)s`)
	matches := re.FindAllStringSubmatch(out.String(), -1)
	require.GreaterOrEqual(t, len(matches), 2)
	prev := -1
	for _, match := range matches {
		v, err := strconv.Atoi(match[1])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, prev)
		prev = v
	}
}

func TestNegativeHeartbeatRejected(t *testing.T) {
	_, err := NewOutputMonitor(Options{HeartbeatInterval: -time.Second})
	assert.Error(t, err)
}
