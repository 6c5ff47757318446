package cgroups

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Memory is a point-in-time view of a memory-limited cgroup.
type Memory struct {
	LimitBytes     uint64
	UsedBytes      uint64
	AvailableBytes uint64
}

// Memory reads memory.max, memory.current and memory.stat. Page cache that
// the kernel can reclaim (inactive_file) is not counted as used. Returns
// ErrNoLimit when the cgroup is unlimited, or a file error when cgroup v2
// is not mounted.
func (r *Reader) Memory() (Memory, error) {
	dir := r.Dir()

	limit, err := readUint(filepath.Join(dir, "memory.max"))
	if err != nil {
		return Memory{}, err
	}
	current, err := readUint(filepath.Join(dir, "memory.current"))
	if err != nil {
		return Memory{}, err
	}

	used := current
	if inactive, err := readStat(filepath.Join(dir, "memory.stat"), "inactive_file"); err == nil && inactive < used {
		used -= inactive
	}

	m := Memory{LimitBytes: limit, UsedBytes: used}
	if limit > used {
		m.AvailableBytes = limit - used
	}
	return m, nil
}

// CPUQuota returns the CPU limit in cores from cpu.max ("quota period").
// Returns ErrNoLimit when the quota is "max".
func (r *Reader) CPUQuota() (float64, error) {
	data, err := os.ReadFile(filepath.Join(r.Dir(), "cpu.max"))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("cgroup: empty cpu.max")
	}
	if fields[0] == "max" {
		return 0, ErrNoLimit
	}

	quota, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("cgroup: parse cpu.max quota: %w", err)
	}
	period := 100000.0
	if len(fields) > 1 {
		if period, err = strconv.ParseFloat(fields[1], 64); err != nil || period <= 0 {
			return 0, fmt.Errorf("cgroup: invalid cpu.max period %q", fields[1])
		}
	}
	return quota / period, nil
}
