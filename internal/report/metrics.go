package report

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reconwrap"

// Metrics are plain counters and gauges for one supervisor run, kept in a
// private registry so nothing leaks into the process default.
type Metrics struct {
	registry *prometheus.Registry

	attempts        *prometheus.CounterVec
	licenseFailures prometheus.Counter
	linesProcessed  prometheus.Counter
	retryWait       prometheus.Counter
	exitCode        prometheus.Gauge
	runDuration     prometheus.Gauge
}

// NewMetrics creates and registers the supervisor collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Worker attempts by outcome.",
		}, []string{"outcome"}),
		licenseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_failures_total",
			Help:      "Attempts terminated because no license was available.",
		}),
		linesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_lines_total",
			Help:      "Worker output lines processed across all attempts.",
		}),
		retryWait: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_wait_seconds_total",
			Help:      "Time spent waiting between license retries.",
		}),
		exitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exit_code",
			Help:      "Final exit code of the supervisor.",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time from first spawn to supervisor exit.",
		}),
	}
	m.registry.MustRegister(m.attempts, m.licenseFailures, m.linesProcessed,
		m.retryWait, m.exitCode, m.runDuration)

	for _, o := range []Outcome{OutcomeSuccess, OutcomeLicenseFailure, OutcomeFailure} {
		m.attempts.WithLabelValues(string(o))
	}
	return m
}

// RecordResult updates counters from a finished attempt
func (m *Metrics) RecordResult(r *Result) {
	m.attempts.WithLabelValues(string(r.Outcome)).Inc()
	if r.Outcome == OutcomeLicenseFailure {
		m.licenseFailures.Inc()
	}
	m.linesProcessed.Add(float64(r.LinesRead))
}

// RecordRetryWait accounts for one delay between attempts
func (m *Metrics) RecordRetryWait(d time.Duration) {
	m.retryWait.Add(d.Seconds())
}

// SetFinal records the run's exit code and total duration
func (m *Metrics) SetFinal(exitCode int, d time.Duration) {
	m.exitCode.Set(float64(exitCode))
	m.runDuration.Set(d.Seconds())
}

// Gatherer exposes the private registry
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
