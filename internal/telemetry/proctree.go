package telemetry

import (
	"context"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// processTree measures a process and all of its live descendants.
// Process handles are cached between walks so gopsutil can compute CPU
// deltas; handles for processes that are gone are dropped. Walks are
// serialized: a sampler left running after a timed-out join may overlap the
// next scope's walk.
type processTree struct {
	root int32

	mu    sync.Mutex
	cache map[int32]*process.Process
}

func newProcessTree(root int32) *processTree {
	return &processTree{root: root, cache: make(map[int32]*process.Process)}
}

// sample walks the tree once and returns CPU in core-equivalents and summed
// RSS. A process that exits mid-walk is skipped, never reported as an error.
func (t *processTree) sample(ctx context.Context) (cores float64, rss uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[int32]*process.Process, len(t.cache))
	queue := []int32{t.root}

	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		if _, dup := seen[pid]; dup {
			continue
		}

		p, ok := t.cache[pid]
		if !ok {
			var err error
			if p, err = process.NewProcessWithContext(ctx, pid); err != nil {
				continue
			}
		}

		// Percent(0) compares against the previous call on the same handle;
		// the first call for a new handle reports 0.
		pct, err := p.PercentWithContext(ctx, 0)
		if err != nil {
			continue
		}
		info, err := p.MemoryInfoWithContext(ctx)
		if err != nil {
			continue
		}

		seen[pid] = p
		cores += pct / 100
		rss += info.RSS

		// gopsutil returns an error for "no children"; either way there is
		// nothing more to walk below this process.
		children, err := p.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		for _, child := range children {
			if _, cached := t.cache[child.Pid]; !cached {
				t.cache[child.Pid] = child
			}
			queue = append(queue, child.Pid)
		}
	}

	t.cache = seen
	return cores, rss
}
