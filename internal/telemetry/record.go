package telemetry

import (
	"math"
	"time"
)

// Record is the immutable summary of one tracked operation. Pointer fields
// are nil when the value was not measurable and encode as null.
type Record struct {
	RunID           string    `yaml:"run_id"`
	Step            string    `yaml:"step"`
	Operation       string    `yaml:"operation"`
	StartedAt       time.Time `yaml:"started_at"`
	DurationSeconds float64   `yaml:"duration_seconds"`
	Samples         int       `yaml:"samples"`

	CPUPercent      float64  `yaml:"cpu_percent"`
	GPUPercent      *float64 `yaml:"gpu_percent"`
	ProcessCPUCores float64  `yaml:"process_cpu_cores"`

	ProcessRSSPeakBytes        uint64 `yaml:"process_rss_peak_bytes"`
	MemoryScope                string `yaml:"memory_scope"`
	ContainerLimitBytes        uint64 `yaml:"container_limit_bytes"`
	ContainerUsedPeakBytes     uint64 `yaml:"container_used_peak_bytes"`
	ContainerAvailableMinBytes uint64 `yaml:"container_available_min_bytes"`
	SystemTotalBytes           uint64 `yaml:"system_total_bytes"`
	SystemUsedPeakBytes        uint64 `yaml:"system_used_peak_bytes"`
	SystemAvailableMinBytes    uint64 `yaml:"system_available_min_bytes"`

	NodeName          *string  `yaml:"node_name"`
	CPUCoresAvailable *float64 `yaml:"cpu_cores_available"`
	GPUCount          *int     `yaml:"gpu_count"`
	GPUModel          *string  `yaml:"gpu_model"`

	Error *string `yaml:"error"`
}

// Duration returns the operation's wall time
func (r Record) Duration() time.Duration {
	return time.Duration(r.DurationSeconds * float64(time.Second))
}

// Succeeded reports whether the operation returned without error
func (r Record) Succeeded() bool {
	return r.Error == nil
}

// summarize folds samples into the aggregate fields of a record. Means for
// rates; peaks for used memory; minima for available memory. GPU stays nil
// unless at least one sample carried a reading.
func summarize(rec *Record, samples []Sample) {
	rec.Samples = len(samples)
	if len(samples) == 0 {
		return
	}

	var cpuSum, coreSum, gpuSum float64
	var gpuCount int
	availMin := uint64(math.MaxUint64)
	sysAvailMin := uint64(math.MaxUint64)

	for _, s := range samples {
		cpuSum += s.CPUPercent
		coreSum += s.ProcessCores
		if s.GPUPercent != nil {
			gpuSum += *s.GPUPercent
			gpuCount++
		}

		m := s.Memory
		rec.ProcessRSSPeakBytes = max(rec.ProcessRSSPeakBytes, m.ProcessRSSBytes)
		rec.ContainerLimitBytes = max(rec.ContainerLimitBytes, m.ContainerLimitBytes)
		rec.ContainerUsedPeakBytes = max(rec.ContainerUsedPeakBytes, m.ContainerUsedBytes)
		rec.SystemTotalBytes = max(rec.SystemTotalBytes, m.SystemTotalBytes)
		rec.SystemUsedPeakBytes = max(rec.SystemUsedPeakBytes, m.SystemUsedBytes)
		availMin = min(availMin, m.ContainerAvailableBytes)
		sysAvailMin = min(sysAvailMin, m.SystemAvailableBytes)

		// A cgroup reading anywhere in the scope wins over the system fallback.
		if rec.MemoryScope != MemoryScopeCgroup {
			rec.MemoryScope = m.Scope
		}
	}

	n := float64(len(samples))
	rec.CPUPercent = round1(cpuSum / n)
	rec.ProcessCPUCores = round2(coreSum / n)
	if gpuCount > 0 {
		gpu := round1(gpuSum / float64(gpuCount))
		rec.GPUPercent = &gpu
	}
	rec.ContainerAvailableMinBytes = availMin
	rec.SystemAvailableMinBytes = sysAvailMin
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
