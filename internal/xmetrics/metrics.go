// Package xmetrics wires facade operation counters and latencies into
// prometheus/client_golang, grounded on cuemby-warren's use of the same
// library for its storage layer's storage_operations_total /
// storage_errors_total / storage_tx_duration gauges and histograms.
package xmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the facade's operation counters and latency histogram. A
// Metrics created with New() registers its collectors on its own private
// registry rather than prometheus' default one, so multiple filesystem
// instances in one process do not collide.
type Metrics struct {
	registry  *prometheus.Registry
	opsTotal  *prometheus.CounterVec
	opsErrors *prometheus.CounterVec
	opLatency *prometheus.HistogramVec
}

// New returns a Metrics bound to a fresh, private prometheus.Registry.
// Call Registry to expose it via an HTTP handler if desired.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "encryptedfs_operations_total",
			Help: "Count of filesystem operations by name.",
		}, []string{"op"}),
		opsErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "encryptedfs_operation_errors_total",
			Help: "Count of filesystem operation failures by name and error kind.",
		}, []string{"op", "kind"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "encryptedfs_operation_duration_seconds",
			Help:    "Latency of filesystem operations by name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(m.opsTotal, m.opsErrors, m.opLatency)
	return m
}

// Registry returns the private registry so callers can mount it behind
// promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records one call to op, taking elapsed and (if non-nil) an error
// kind label.
func (m *Metrics) Observe(op string, elapsed time.Duration, errKind string) {
	m.opsTotal.WithLabelValues(op).Inc()
	m.opLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	if errKind != "" {
		m.opsErrors.WithLabelValues(op, errKind).Inc()
	}
}

// Track is a convenience wrapper: call it with defer to time and count op.
func (m *Metrics) Track(op string) func(err error) {
	start := time.Now()
	return func(err error) {
		kind := ""
		if err != nil {
			kind = "error"
		}
		m.Observe(op, time.Since(start), kind)
	}
}
