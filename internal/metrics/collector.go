package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Skip reasons used as label values
const (
	ReasonResumed   = "resumed"
	ReasonEmpty     = "empty"
	ReasonMalformed = "malformed"
)

// Collector manages all metrics for the ingestion service
type Collector struct {
	// Counters
	linesRead        prometheus.Counter
	recordsWritten   *prometheus.CounterVec
	linesSkipped     *prometheus.CounterVec
	batchesCommitted *prometheus.CounterVec
	filesCompleted   *prometheus.CounterVec
	filesFailed      *prometheus.CounterVec
	runsStarted      *prometheus.CounterVec

	// Gauges
	activeRuns prometheus.Gauge

	// Histograms
	batchDuration prometheus.Histogram

	registry *prometheus.Registry
}

// NewCollector creates a new metrics collector with its own registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,

		linesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestion_lines_read_total",
			Help: "Total number of archive lines read",
		}),

		recordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestion_records_written_total",
			Help: "Total number of events committed to the sink",
		}, []string{"table"}),

		linesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestion_lines_skipped_total",
			Help: "Total number of lines that produced no event",
		}, []string{"reason"}),

		batchesCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestion_batches_committed_total",
			Help: "Total number of batches committed and checkpointed",
		}, []string{"table"}),

		filesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestion_files_completed_total",
			Help: "Total number of archives fully ingested",
		}, []string{"table"}),

		filesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestion_files_failed_total",
			Help: "Total number of archives that stopped with an error",
		}, []string{"table"}),

		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestion_runs_started_total",
			Help: "Total number of ingestion runs started",
		}, []string{"table"}),

		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingestion_active_runs",
			Help: "Number of ingestion runs in progress",
		}),

		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingestion_batch_duration_seconds",
			Help:    "Time to write and checkpoint one batch",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
	}

	registry.MustRegister(
		c.linesRead,
		c.recordsWritten,
		c.linesSkipped,
		c.batchesCommitted,
		c.filesCompleted,
		c.filesFailed,
		c.runsStarted,
		c.activeRuns,
		c.batchDuration,
	)

	return c
}

func (c *Collector) LineRead() {
	c.linesRead.Inc()
}

func (c *Collector) LineSkipped(reason string) {
	c.linesSkipped.WithLabelValues(reason).Inc()
}

// BatchCommitted records a batch that is both committed and checkpointed
func (c *Collector) BatchCommitted(table string, records int, elapsed time.Duration) {
	c.batchesCommitted.WithLabelValues(table).Inc()
	c.recordsWritten.WithLabelValues(table).Add(float64(records))
	c.batchDuration.Observe(elapsed.Seconds())
}

func (c *Collector) FileCompleted(table string) {
	c.filesCompleted.WithLabelValues(table).Inc()
}

func (c *Collector) FileFailed(table string) {
	c.filesFailed.WithLabelValues(table).Inc()
}

// RunStarted counts a run and marks it active until the returned func is called
func (c *Collector) RunStarted(table string) (done func()) {
	c.runsStarted.WithLabelValues(table).Inc()
	c.activeRuns.Inc()
	return c.activeRuns.Dec
}

// Handler serves the collector's registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
