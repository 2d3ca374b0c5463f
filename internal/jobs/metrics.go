package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs      *prometheus.CounterVec
	failures  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	crossings *prometheus.CounterVec
	lowStock  *prometheus.GaugeVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddReorderCrossings counts movements that took an item to or below its
// reorder point.
func (m *Metrics) AddReorderCrossings(tenant string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.crossings.WithLabelValues(tenant).Add(float64(count))
}

// SetLowStock replaces the low stock gauge with the latest scan. Tenants
// missing from counts are reset to zero.
func (m *Metrics) SetLowStock(counts map[string]int) {
	if m == nil {
		return
	}
	m.lowStock.Reset()
	for tenant, n := range counts {
		m.lowStock.WithLabelValues(tenant).Set(float64(n))
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	crossings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_reorder_crossings_total",
		Help: "Movements that left an item at or below its reorder point.",
	}, []string{"tenant"})
	lowStock := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stockledger_low_stock_items",
		Help: "Inventory items at or below their reorder point, from the last scan.",
	}, []string{"tenant"})
	registerer.MustRegister(runs, failures, duration, crossings, lowStock)
	return &Metrics{runs: runs, failures: failures, duration: duration, crossings: crossings, lowStock: lowStock}
}
