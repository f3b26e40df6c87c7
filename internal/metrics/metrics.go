// Package metrics records per-run pipeline metrics. A batch run has no
// scrape endpoint, so metrics are written once in the node_exporter
// textfile format when the run ends.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cwas_annotate"

// Job outcome labels.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	jobs        *prometheus.CounterVec
	jobAttempts prometheus.Counter
	jobDuration prometheus.Histogram
	records     *prometheus.CounterVec
	partitions  prometheus.Gauge
	stage       *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Annotation jobs by final outcome.",
		}, []string{"status"}),
		jobAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_attempts_total",
			Help:      "Engine process launches, including retries.",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of each annotation job, retries included.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Data records handled per stage.",
		}, []string{"stage"}),
		partitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partitions",
			Help:      "Partitions produced by the last run.",
		}),
		stage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
		}, []string{"stage"}),
	}
	m.reg.MustRegister(m.jobs, m.jobAttempts, m.jobDuration, m.records, m.partitions, m.stage)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) ObserveJob(status string, attempts int, d time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
	m.jobAttempts.Add(float64(attempts))
	m.jobDuration.Observe(d.Seconds())
}

func (m *Metrics) AddRecords(stage string, n int) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) SetPartitions(n int) {
	if m == nil {
		return
	}
	m.partitions.Set(float64(n))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stage.WithLabelValues(stage).Set(d.Seconds())
}

// WriteTextfile atomically writes all metrics to path.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.reg)
}
