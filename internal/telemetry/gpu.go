package telemetry

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNoGPU is returned when no GPU telemetry source is present
var ErrNoGPU = errors.New("no GPU telemetry available")

// GPUProvider reports GPU utilization averaged over all devices
type GPUProvider interface {
	Utilization(ctx context.Context) (float64, error)
	Count() int
	Model() string
	Close() error
}

// smiLog is the subset of `nvidia-smi -q -x` we read
type smiLog struct {
	XMLName xml.Name `xml:"nvidia_smi_log"`
	GPUs    []smiGPU `xml:"gpu"`
}

type smiGPU struct {
	ID          string `xml:"id,attr"`
	ProductName string `xml:"product_name"`
	Utilization struct {
		GPUUtil string `xml:"gpu_util"`
	} `xml:"utilization"`
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// NvidiaSMI queries nvidia-smi for every reading. Device count and model are
// captured once at construction.
type NvidiaSMI struct {
	run   commandRunner
	count int
	model string
}

// NewNvidiaSMI probes for nvidia-smi and at least one GPU
func NewNvidiaSMI(ctx context.Context) (*NvidiaSMI, error) {
	return newNvidiaSMI(ctx, runCommand)
}

func newNvidiaSMI(ctx context.Context, run commandRunner) (*NvidiaSMI, error) {
	n := &NvidiaSMI{run: run}
	log, err := n.query(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoGPU, err)
	}
	if len(log.GPUs) == 0 {
		return nil, ErrNoGPU
	}
	n.count = len(log.GPUs)
	n.model = strings.TrimSpace(log.GPUs[0].ProductName)
	return n, nil
}

func (n *NvidiaSMI) query(ctx context.Context) (*smiLog, error) {
	output, err := n.run(ctx, "nvidia-smi", "-q", "-x")
	if err != nil {
		return nil, fmt.Errorf("failed to query nvidia-smi: %w", err)
	}
	var log smiLog
	if err := xml.Unmarshal(output, &log); err != nil {
		return nil, fmt.Errorf("failed to parse nvidia-smi XML: %w", err)
	}
	return &log, nil
}

// Utilization returns the mean gpu_util across devices that reported one
func (n *NvidiaSMI) Utilization(ctx context.Context) (float64, error) {
	log, err := n.query(ctx)
	if err != nil {
		return 0, err
	}

	var sum float64
	var reported int
	for _, gpu := range log.GPUs {
		v, ok := parsePercent(gpu.Utilization.GPUUtil)
		if !ok {
			continue
		}
		sum += v
		reported++
	}
	if reported == 0 {
		return 0, errors.New("nvidia-smi reported no utilization")
	}
	return sum / float64(reported), nil
}

func (n *NvidiaSMI) Count() int    { return n.count }
func (n *NvidiaSMI) Model() string { return n.model }
func (n *NvidiaSMI) Close() error  { return nil }

// parsePercent extracts the number from values like "45 %" or "N/A"
func parsePercent(s string) (float64, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
