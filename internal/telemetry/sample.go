package telemetry

// Telemetry degrades, it never fails the operation it measures.
// Every reading here is best effort and point in time.

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/psantana5/reconwrap/internal/cgroups"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	MemoryScopeCgroup = "cgroup"
	MemoryScopeSystem = "system"
)

// Sample is one point-in-time resource reading.
type Sample struct {
	At           time.Time
	CPUPercent   float64
	GPUPercent   *float64
	ProcessCores float64
	Memory       MemorySnapshot
}

// MemorySnapshot holds process, container and system memory at one instant.
// Container figures fall back to system figures when no cgroup limit applies;
// Scope records which one was used.
type MemorySnapshot struct {
	ProcessRSSBytes uint64

	Scope                   string
	ContainerLimitBytes     uint64
	ContainerUsedBytes      uint64
	ContainerAvailableBytes uint64

	SystemTotalBytes     uint64
	SystemUsedBytes      uint64
	SystemAvailableBytes uint64
}

// Probe takes samples. Prime resets rate baselines at the start of a scope
// so the first sample covers only the scope itself.
type Probe interface {
	Prime(ctx context.Context)
	Sample(ctx context.Context) Sample
}

// SystemProbe samples the host with gopsutil, the calling process tree,
// the process's cgroup and an optional GPU provider.
type SystemProbe struct {
	gpu    GPUProvider
	cgroup *cgroups.Reader
	tree   *processTree
	now    func() time.Time

	cpuPercent    func(ctx context.Context) (float64, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

// NewSystemProbe creates a probe rooted at pid. A nil gpu disables GPU readings.
func NewSystemProbe(pid int, gpu GPUProvider, cg *cgroups.Reader) *SystemProbe {
	if pid <= 0 {
		pid = os.Getpid()
	}
	if cg == nil {
		cg = cgroups.New()
	}
	return &SystemProbe{
		gpu:    gpu,
		cgroup: cg,
		tree:   newProcessTree(int32(pid)),
		now:    time.Now,
		cpuPercent: func(ctx context.Context) (float64, error) {
			values, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil {
				return 0, err
			}
			if len(values) == 0 {
				return 0, errors.New("cpu: no readings")
			}
			return values[0], nil
		},
		virtualMemory: mem.VirtualMemoryWithContext,
	}
}

// Prime resets CPU baselines for the host and the process tree
func (p *SystemProbe) Prime(ctx context.Context) {
	p.cpuPercent(ctx)
	p.tree.sample(ctx)
}

// Sample reads everything once. Failing sources contribute zero or nil.
func (p *SystemProbe) Sample(ctx context.Context) Sample {
	s := Sample{At: p.now()}

	if pct, err := p.cpuPercent(ctx); err == nil {
		s.CPUPercent = pct
	}

	if p.gpu != nil {
		if util, err := p.gpu.Utilization(ctx); err == nil {
			s.GPUPercent = &util
		}
	}

	s.ProcessCores, s.Memory.ProcessRSSBytes = p.tree.sample(ctx)
	p.fillMemory(ctx, &s.Memory)
	return s
}

func (p *SystemProbe) fillMemory(ctx context.Context, m *MemorySnapshot) {
	if vm, err := p.virtualMemory(ctx); err == nil {
		m.SystemTotalBytes = vm.Total
		m.SystemUsedBytes = vm.Used
		m.SystemAvailableBytes = vm.Available
	}

	if cg, err := p.cgroup.Memory(); err == nil {
		m.Scope = MemoryScopeCgroup
		m.ContainerLimitBytes = cg.LimitBytes
		m.ContainerUsedBytes = cg.UsedBytes
		m.ContainerAvailableBytes = cg.AvailableBytes
		return
	}

	m.Scope = MemoryScopeSystem
	m.ContainerLimitBytes = m.SystemTotalBytes
	m.ContainerUsedBytes = m.SystemUsedBytes
	m.ContainerAvailableBytes = m.SystemAvailableBytes
}
