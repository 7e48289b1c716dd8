package snapshot

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricBatchTotal         = "snapshot_batch_total"
	MetricBatchErrors        = "snapshot_batch_errors_total"
	MetricBatchDuration      = "snapshot_batch_duration_seconds"
	MetricLastBatchTimestamp = "snapshot_last_batch_timestamp_seconds"
	MetricLastGenerationRows = "snapshot_last_generation_rows"
)

// Metrics contains Prometheus metrics for the snapshot batch.
// All operations are thread-safe.
type Metrics struct {
	batchTotal         prometheus.Counter
	batchErrors        prometheus.Counter
	batchDuration      prometheus.Histogram
	lastBatchTimestamp prometheus.Gauge
	lastGenerationRows prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register them
// with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		batchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricBatchTotal,
			Help: "Total number of completed snapshot batch runs",
		}),
		batchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricBatchErrors,
			Help: "Total number of failed snapshot batch runs",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricBatchDuration,
			Help:    "Histogram of snapshot batch duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0},
		}),
		lastBatchTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastBatchTimestamp,
			Help: "Unix timestamp of the last successful snapshot batch",
		}),
		lastGenerationRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastGenerationRows,
			Help: "Row count of the last written snapshot generation",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncBatchTotal increments the completed-batch counter.
func (m *Metrics) IncBatchTotal() {
	m.batchTotal.Inc()
}

// IncBatchErrors increments the failed-batch counter.
func (m *Metrics) IncBatchErrors() {
	m.batchErrors.Inc()
}

// ObserveBatchDuration records a batch duration sample.
func (m *Metrics) ObserveBatchDuration(seconds float64) {
	m.batchDuration.Observe(seconds)
}

// SetLastBatchTimestamp records when the last batch committed.
func (m *Metrics) SetLastBatchTimestamp(unixSeconds float64) {
	m.lastBatchTimestamp.Set(unixSeconds)
}

// SetLastGenerationRows records the size of the last written generation.
func (m *Metrics) SetLastGenerationRows(rows float64) {
	m.lastGenerationRows.Set(rows)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.batchTotal,
		m.batchErrors,
		m.batchDuration,
		m.lastBatchTimestamp,
		m.lastGenerationRows,
	}
}
