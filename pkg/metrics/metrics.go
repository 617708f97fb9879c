package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "history_migrator"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	// Outcome label values for per-record migration results
	OutcomeMigrated  = "migrated"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"

	Builder = "builder"
	Report  = "report"
)

// Labels holds constant labels applied to all metrics.
// These are useful for distinguishing metrics from multiple wallet backends.
type Labels struct {
	Environment   string // Deployment environment (e.g., "production", "staging", "development")
	Region        string // Cloud region (e.g., "us-east-1", "eu-west-1")
	CloudProvider string // Cloud provider (e.g., "aws", "oci", "gcp")
	Sink          string // Current-store backend (e.g., "postgres", "clickhouse")
}

// toPrometheusLabels converts Labels to prometheus.Labels map.
// Only non-empty labels are included to avoid empty label values.
func (l Labels) toPrometheusLabels() prometheus.Labels {
	labels := prometheus.Labels{}
	if l.Environment != "" {
		labels["environment"] = l.Environment
	}
	if l.Region != "" {
		labels["region"] = l.Region
	}
	if l.CloudProvider != "" {
		labels["cloud_provider"] = l.CloudProvider
	}
	if l.Sink != "" {
		labels["sink"] = l.Sink
	}
	return labels
}

type Metrics struct {
	// Migration counters
	records       *prometheus.CounterVec // by outcome, family
	runs          *prometheus.CounterVec // by status
	runDuration   prometheus.Histogram
	persisted     prometheus.Counter
	legacyRecords prometheus.Gauge
	errors        *prometheus.CounterVec

	// Builder RPC metrics
	builderCalls    *prometheus.CounterVec
	builderDuration prometheus.Histogram
	builderInFlight prometheus.Gauge

	// Error report delivery
	reportsPublished *prometheus.CounterVec
	reportsDropped   prometheus.Counter
}

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
func New(reg prometheus.Registerer) (*Metrics, error) {
	return NewWithLabels(reg, Labels{})
}

// NewWithLabels creates a new Metrics instance with constant labels applied to all metrics.
func NewWithLabels(reg prometheus.Registerer, labels Labels) (*Metrics, error) {
	promLabels := labels.toPrometheusLabels()
	if len(promLabels) > 0 {
		reg = prometheus.WrapRegistererWith(promLabels, reg)
	}

	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_total",
			Help:      "Legacy pending-history records handled, by outcome and chain family",
		}, []string{"outcome", "family"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Migration runs by status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Time to read, migrate and persist one batch",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "persisted_records_total",
			Help:      "Migrated records handed to the current store",
		}),
		legacyRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "legacy_pending_records",
			Help:      "Pending records returned by the legacy store in the last run",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"type"}),
		builderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Builder,
			Name:      "calls_total",
			Help:      "Total transaction builder calls by method and status",
		}, []string{"method", "status"}),
		builderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Builder,
			Name:      "call_duration_seconds",
			Help:      "Transaction builder call duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		builderInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Builder,
			Name:      "in_flight",
			Help:      "Number of builder calls currently in progress",
		}),
		reportsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Report,
			Name:      "published_total",
			Help:      "Error reports published to the report queue by status",
		}, []string{"status"}),
		reportsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Report,
			Name:      "dropped_total",
			Help:      "Error reports dropped because the report buffer was full",
		}),
	}

	err := errors.Join(
		reg.Register(m.records),
		reg.Register(m.runs),
		reg.Register(m.runDuration),
		reg.Register(m.persisted),
		reg.Register(m.legacyRecords),
		reg.Register(m.errors),
		reg.Register(m.builderCalls),
		reg.Register(m.builderDuration),
		reg.Register(m.builderInFlight),
		reg.Register(m.reportsPublished),
		reg.Register(m.reportsDropped),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Error type constants.
const (
	ErrTypeBuild         = "build"
	ErrTypeDuplicateID   = "duplicate_id"
	ErrTypeReadLegacy    = "read_legacy"
	ErrTypePersist       = "persist"
	ErrTypeMarker        = "marker"
	ErrTypeReportPublish = "report_publish"
	ErrTypeSetup         = "setup"
	ErrTypeMetricsServer = "metrics_server"
)

// IncError increments the error counter for the given error type.
func (m *Metrics) IncError(errType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errType).Inc()
}

// RecordRecord counts one legacy record by outcome and chain family label.
func (m *Metrics) RecordRecord(outcome, family string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(outcome, family).Inc()
}

// SetLegacyRecords records how many pending records the legacy store returned.
func (m *Metrics) SetLegacyRecords(n int) {
	if m == nil {
		return
	}
	m.legacyRecords.Set(float64(n))
}

// AddPersisted records migrated records handed to the current store.
func (m *Metrics) AddPersisted(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.persisted.Add(float64(count))
}

// RecordRun records a run outcome with its duration.
func (m *Metrics) RecordRun(err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.Observe(durationSeconds)
}

// IncBuilderInFlight increments the in-flight builder call gauge.
func (m *Metrics) IncBuilderInFlight() {
	if m == nil {
		return
	}
	m.builderInFlight.Inc()
}

// DecBuilderInFlight decrements the in-flight builder call gauge.
func (m *Metrics) DecBuilderInFlight() {
	if m == nil {
		return
	}
	m.builderInFlight.Dec()
}

// RecordBuilderCall records a builder call outcome.
func (m *Metrics) RecordBuilderCall(method string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.builderCalls.WithLabelValues(method, status).Inc()
	m.builderDuration.Observe(durationSeconds)
}

// RecordReportPublished records an error report publish attempt.
func (m *Metrics) RecordReportPublished(err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.reportsPublished.WithLabelValues(status).Inc()
}

// IncReportDropped counts an error report dropped on a full buffer.
func (m *Metrics) IncReportDropped() {
	if m == nil {
		return
	}
	m.reportsDropped.Inc()
}
