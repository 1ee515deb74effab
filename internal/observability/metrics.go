package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the harvester. Metrics are
// organized by subsystem: fetches, batches, documents and alerts. All
// counters and histograms are registered via promauto for automatic
// registration with the default Prometheus registry.
type Metrics struct {
	// FetchesTotal counts fetch attempts, labeled by source and outcome.
	FetchesTotal *prometheus.CounterVec

	// FetchDuration observes fetch duration in seconds, labeled by source.
	FetchDuration *prometheus.HistogramVec

	// FetchEvents observes the event count recorded per successful fetch, labeled by source.
	FetchEvents *prometheus.HistogramVec

	// SourceRateLimited counts rate limit responses from upstream APIs, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// BatchesClaimed counts batches claimed by workers, labeled by source.
	BatchesClaimed *prometheus.CounterVec

	// BatchesCompleted counts batches that completed, labeled by source.
	BatchesCompleted *prometheus.CounterVec

	// BatchesRescheduled counts batches rescheduled after failure or backpressure, labeled by source.
	BatchesRescheduled *prometheus.CounterVec

	// BatchDuration observes end-to-end batch duration in seconds, labeled by source.
	BatchDuration *prometheus.HistogramVec

	// WorksCreated counts works registered through the API.
	WorksCreated prometheus.Counter

	// DocumentWrites counts document store writes, labeled by doc type.
	DocumentWrites *prometheus.CounterVec

	// AlertsCreated counts alerts recorded, labeled by class name.
	AlertsCreated *prometheus.CounterVec

	// AlertsResolved counts alerts resolved through the operator API.
	AlertsResolved prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Fetches
		FetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Total number of fetch attempts by source and outcome",
		}, []string{"source", "outcome"}),
		FetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of fetches in seconds by source",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		FetchEvents: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_events",
			Help:      "Event count recorded per successful fetch by source",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000, 10000},
		}, []string{"source"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from sources",
		}, []string{"source"}),

		// Batches
		BatchesClaimed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_claimed_total",
			Help:      "Total number of batches claimed by workers by source",
		}, []string{"source"}),
		BatchesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_completed_total",
			Help:      "Total number of batches completed by source",
		}, []string{"source"}),
		BatchesRescheduled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_rescheduled_total",
			Help:      "Total number of batches rescheduled by source",
		}, []string{"source"}),
		BatchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch execution in seconds by source",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}, []string{"source"}),

		// Works
		WorksCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "works_created_total",
			Help:      "Total number of works registered",
		}),

		// Documents
		DocumentWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_writes_total",
			Help:      "Total number of document store writes by doc type",
		}, []string{"doc_type"}),

		// Alerts
		AlertsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Total number of alerts recorded by class",
		}, []string{"class_name"}),
		AlertsResolved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_resolved_total",
			Help:      "Total number of alerts resolved",
		}),
	}
}

// RecordFetch records a fetch attempt and its outcome.
func (m *Metrics) RecordFetch(source, outcome string, durationSeconds float64) {
	m.FetchesTotal.WithLabelValues(source, outcome).Inc()
	m.FetchDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordFetchEvents records the event count of a successful fetch.
func (m *Metrics) RecordFetchEvents(source string, count int64) {
	m.FetchEvents.WithLabelValues(source).Observe(float64(count))
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordBatchClaimed records that a worker claimed a batch.
func (m *Metrics) RecordBatchClaimed(source string) {
	m.BatchesClaimed.WithLabelValues(source).Inc()
}

// RecordBatchCompleted records that a batch finished.
func (m *Metrics) RecordBatchCompleted(source string, durationSeconds float64) {
	m.BatchesCompleted.WithLabelValues(source).Inc()
	m.BatchDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordBatchRescheduled records that a batch was pushed back onto the queue.
func (m *Metrics) RecordBatchRescheduled(source string) {
	m.BatchesRescheduled.WithLabelValues(source).Inc()
}

// RecordWorkCreated records a newly registered work.
func (m *Metrics) RecordWorkCreated() {
	m.WorksCreated.Inc()
}

// RecordDocumentWrite records a document store write.
func (m *Metrics) RecordDocumentWrite(docType string) {
	m.DocumentWrites.WithLabelValues(docType).Inc()
}

// RecordAlertCreated records a recorded alert.
func (m *Metrics) RecordAlertCreated(className string) {
	m.AlertsCreated.WithLabelValues(className).Inc()
}

// RecordAlertsResolved records resolved alerts.
func (m *Metrics) RecordAlertsResolved(count int64) {
	m.AlertsResolved.Add(float64(count))
}
