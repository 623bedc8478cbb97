// Copyright The TT-Top Authors
// SPDX-License-Identifier: Apache-2.0

// Package selfmetrics exposes the agent's own safety counters over
// prometheus, plus the usual health endpoints.
package selfmetrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the safety-coordination metric set. Every field is
// registered against the registry passed to New, so tests can build
// isolated instances without colliding on the default registry.
type Metrics struct {
	PollInterval      prometheus.Gauge
	PCIeErrors        prometheus.Counter
	MonitoringEnabled prometheus.Gauge
	LockTimeouts      prometheus.Counter
	ReadFallbacks     prometheus.Counter
	ScanDuration      prometheus.Histogram
	ActiveMLProcesses prometheus.Gauge
	MLMemoryGB        prometheus.Gauge

	ready atomic.Bool
}

// New builds and registers the metric set. An empty namespace defaults
// to "tt_top".
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "tt_top"
	}
	m := &Metrics{
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "safety_poll_interval_seconds",
			Help: "Effective telemetry poll interval chosen by the safety coordinator.",
		}),
		PCIeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pcie_errors_total",
			Help: "Kernel log PCIe interference signatures counted.",
		}),
		MonitoringEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "monitoring_enabled",
			Help: "1 while monitoring is enabled, 0 after the PCIe error latch trips.",
		}),
		LockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "device_lock_timeouts_total",
			Help: "Device lock acquisitions that timed out and proceeded unsynchronized.",
		}),
		ReadFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "telemetry_read_fallbacks_total",
			Help: "Telemetry reads that exhausted retries and served fallback data.",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "workload_scan_duration_seconds",
			Buckets:   prometheus.DefBuckets,
			Help:      "Process-table workload scan latency.",
		}),
		ActiveMLProcesses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_ml_processes",
			Help: "ML processes retained by the last workload scan.",
		}),
		MLMemoryGB: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "ml_memory_gb",
			Help: "Resident memory of retained ML processes in GB.",
		}),
	}
	reg.MustRegister(
		m.PollInterval, m.PCIeErrors, m.MonitoringEnabled, m.LockTimeouts,
		m.ReadFallbacks, m.ScanDuration, m.ActiveMLProcesses, m.MLMemoryGB,
	)
	m.MonitoringEnabled.Set(1)
	return m
}

// SetReady flips the /readyz state.
func (m *Metrics) SetReady(v bool) { m.ready.Store(v) }

// InstallHandlers mounts /metrics, /healthz and /readyz on the mux.
func (m *Metrics) InstallHandlers(mux *http.ServeMux, reg *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if m.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})
}
