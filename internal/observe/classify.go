package observe

import (
	"regexp"
	"strconv"
	"strings"
)

// Marker prefixes recognised in worker output.
const (
	PrefixProgress  = "[recon-progress]"
	PrefixLicense   = "[recon-license-wrapper]"
	PrefixMonitor   = "[recon-monitor]"
	PrefixHeartbeat = "[recon-heartbeat]"
)

// LineKind tags how a line of output is handled in sparse mode.
type LineKind int

const (
	// KindOrdinary lines are remembered as last content, not printed.
	KindOrdinary LineKind = iota
	// KindProgress lines update progress state and drive start/complete heartbeats.
	KindProgress
	// KindImportant lines are always printed verbatim.
	KindImportant
)

func (k LineKind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	case KindImportant:
		return "important"
	default:
		return "ordinary"
	}
}

// Classification is the result of classifying one line.
// Operation, Percent and Summary are set only for KindProgress.
type Classification struct {
	Kind      LineKind
	Operation string
	Percent   float64
	// Summary is the marker payload, e.g. "buildDepthMaps: 45%".
	Summary string
}

// Done reports whether a progress line marks its operation complete.
func (c Classification) Done() bool {
	return c.Kind == KindProgress && c.Percent >= 100
}

var progressPattern = regexp.MustCompile(`^(.+?):\s*(\d+(?:\.\d+)?)\s*%`)

var importantPrefixes = []string{PrefixLicense, PrefixMonitor, PrefixHeartbeat}

// Classify assigns exactly one kind to a line. A progress marker without a
// parseable operation and percentage is treated as important so it still
// reaches the console.
func Classify(line string) Classification {
	stripped := strings.TrimSpace(line)

	if strings.HasPrefix(stripped, PrefixProgress) {
		payload := strings.TrimSpace(strings.TrimPrefix(stripped, PrefixProgress))
		m := progressPattern.FindStringSubmatch(payload)
		if m == nil {
			return Classification{Kind: KindImportant}
		}
		pct, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return Classification{Kind: KindImportant}
		}
		return Classification{
			Kind:      KindProgress,
			Operation: strings.TrimSpace(m[1]),
			Percent:   pct,
			Summary:   payload,
		}
	}

	for _, prefix := range importantPrefixes {
		if strings.HasPrefix(stripped, prefix) {
			return Classification{Kind: KindImportant}
		}
	}
	return Classification{Kind: KindOrdinary}
}

// ProgressLine formats a progress marker the way Classify expects it.
func ProgressLine(operation string, percent float64) string {
	return PrefixProgress + " " + operation + ": " + strconv.FormatFloat(percent, 'f', -1, 64) + "%"
}

// IsLicenseFailure reports whether a line carries the license failure signature.
func IsLicenseFailure(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "license not found") || strings.Contains(lower, "no license found")
}
