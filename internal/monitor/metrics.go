package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the script hosting service.
type Metrics struct {
	Registry *prometheus.Registry

	ScriptsRunning      prometheus.Gauge
	ScriptStarts        *prometheus.CounterVec
	ScriptTerminations  *prometheus.CounterVec
	ScriptRuntime       *prometheus.HistogramVec
	SessionsActive      *prometheus.GaugeVec
	SessionTerminations *prometheus.CounterVec
	SessionLifetime     prometheus.Histogram
	ShareLinksIssued    prometheus.Counter
	RequestsInFlight    prometheus.Gauge
	UploadSizeBytes     prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ScriptsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "scripthost",
				Name:      "scripts_running",
				Help:      "Number of currently running user scripts.",
			},
		),

		ScriptStarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scripthost",
				Name:      "script_starts_total",
				Help:      "Total script start attempts by kind and outcome.",
			},
			[]string{"kind", "status"},
		),

		ScriptTerminations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scripthost",
				Name:      "script_terminations_total",
				Help:      "Total script terminations by reason.",
			},
			[]string{"reason"},
		),

		ScriptRuntime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "scripthost",
				Name:      "script_runtime_seconds",
				Help:      "Wall-clock runtime of terminated scripts in seconds.",
				Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"kind"},
		),

		SessionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "scripthost",
				Name:      "sessions_active",
				Help:      "Number of live hosting sessions by tier.",
			},
			[]string{"tier"},
		),

		SessionTerminations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scripthost",
				Name:      "session_terminations_total",
				Help:      "Total hosting session terminations by tier and reason.",
			},
			[]string{"tier", "reason"},
		),

		SessionLifetime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "scripthost",
				Name:      "session_lifetime_seconds",
				Help:      "Lifetime of terminated hosting sessions in seconds.",
				Buckets:   []float64{60, 300, 900, 1800, 3600, 21600, 86400},
			},
		),

		ShareLinksIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scripthost",
				Name:      "share_links_issued_total",
				Help:      "Total share links issued.",
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "scripthost",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		UploadSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "scripthost",
				Name:      "upload_size_bytes",
				Help:      "Size of uploaded files in bytes.",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.ScriptsRunning,
		m.ScriptStarts,
		m.ScriptTerminations,
		m.ScriptRuntime,
		m.SessionsActive,
		m.SessionTerminations,
		m.SessionLifetime,
		m.ShareLinksIssued,
		m.RequestsInFlight,
		m.UploadSizeBytes,
	)

	return m
}

// RecordScriptStart records one start attempt.
func (m *Metrics) RecordScriptStart(kind, status string) {
	m.ScriptStarts.WithLabelValues(kind, status).Inc()
}

// RecordScriptTermination records a terminated script and its runtime.
func (m *Metrics) RecordScriptTermination(kind, reason string, runtimeSec float64) {
	m.ScriptTerminations.WithLabelValues(reason).Inc()
	m.ScriptRuntime.WithLabelValues(kind).Observe(runtimeSec)
}

// RecordSessionTermination records a terminated session and its lifetime.
func (m *Metrics) RecordSessionTermination(tier, reason string, lifetimeSec float64) {
	m.SessionTerminations.WithLabelValues(tier, reason).Inc()
	m.SessionLifetime.Observe(lifetimeSec)
}
