package telemetry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const humanRowFormat = "%-16s | %-24s | %8s | %5s | %5s | %5s | %7s | %7s | %7s | %7s | %7s | %5s | %4s | %-20s | %s\n"

func humanHeader() string {
	return fmt.Sprintf(humanRowFormat,
		"step", "operation", "duration", "cpu%", "gpu%", "cores",
		"rss_pk", "used_pk", "avl_min", "limit", "sys_avl",
		"cpus", "gpus", "gpu_model", "node")
}

func humanRow(r Record) string {
	row := fmt.Sprintf(humanRowFormat,
		r.Step,
		r.Operation,
		FormatDuration(r.Duration()),
		fmt.Sprintf("%.1f", r.CPUPercent),
		formatOptFloat(r.GPUPercent, "%.1f"),
		fmt.Sprintf("%.2f", r.ProcessCPUCores),
		FormatGiB(r.ProcessRSSPeakBytes),
		FormatGiB(r.ContainerUsedPeakBytes),
		FormatGiB(r.ContainerAvailableMinBytes),
		FormatGiB(r.ContainerLimitBytes),
		FormatGiB(r.SystemAvailableMinBytes),
		formatOptFloat(r.CPUCoresAvailable, "%g"),
		formatOptInt(r.GPUCount),
		formatOptString(r.GPUModel),
		formatOptString(r.NodeName))
	if r.Error != nil {
		row = strings.TrimSuffix(row, "\n") + " | error: " + firstLine(*r.Error) + "\n"
	}
	return row
}

// FormatDuration renders d as H:MM:SS
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// FormatGiB renders a byte count in GiB with one decimal
func FormatGiB(b uint64) string {
	return fmt.Sprintf("%.1fG", float64(b)/(1<<30))
}

// NotAvailable stands in for a value that could not be measured
const NotAvailable = "N/A"

func formatOptFloat(v *float64, format string) string {
	if v == nil {
		return NotAvailable
	}
	return fmt.Sprintf(format, *v)
}

func formatOptInt(v *int) string {
	if v == nil {
		return NotAvailable
	}
	return fmt.Sprintf("%d", *v)
}

func formatOptString(v *string) string {
	if v == nil || *v == "" {
		return NotAvailable
	}
	return *v
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func appendFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// initHumanLog writes the column header unless the log already has content
func initHumanLog(path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return nil
	}
	return appendFile(path, []byte(humanHeader()))
}

// StructuredLog is the document shape of the YAML telemetry log
type StructuredLog struct {
	RunID      string   `yaml:"run_id"`
	Operations []Record `yaml:"operations"`
}

// initStructuredLog truncates path and writes the document header
func initStructuredLog(path, runID string) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	header, err := yaml.Marshal(map[string]string{"run_id": runID})
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(header, []byte("operations:\n")...), 0644)
}

// structuredEntry encodes r as one item of the operations list
func structuredEntry(r Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	for i, line := range lines {
		switch {
		case line == "":
		case i == 0:
			out.WriteString("  - ")
		default:
			out.WriteString("    ")
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.Bytes(), nil
}

// ReadStructuredLog parses a YAML telemetry log written by a Monitor
func ReadStructuredLog(path string) (*StructuredLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read telemetry log: %w", err)
	}
	var doc StructuredLog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse telemetry log %s: %w", path, err)
	}
	return &doc, nil
}
