// Package metrics exposes Prometheus instrumentation for the export
// pipeline: submission/completion counters, job duration, and the number
// of exports currently in flight.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns all pipeline metrics.
type Collector struct {
	jobsSubmitted prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsFailed    prometheus.Counter
	jobsExpired   prometheus.Counter
	downloads     prometheus.Counter

	jobDuration  prometheus.Histogram
	jobsInFlight prometheus.Gauge
}

// NewCollector registers all export metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "export_jobs_submitted_total",
			Help: "Total number of export jobs accepted",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "export_jobs_completed_total",
			Help: "Total number of export jobs that reached READY",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "export_jobs_failed_total",
			Help: "Total number of export jobs that failed",
		}),
		jobsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "export_jobs_expired_total",
			Help: "Total number of READY jobs expired by the reaper",
		}),
		downloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "export_downloads_total",
			Help: "Total number of served artifact downloads",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "export_job_duration_seconds",
			Help:    "Wall time from claim to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "export_jobs_in_flight",
			Help: "Export jobs currently PROCESSING",
		}),
	}

	reg.MustRegister(
		c.jobsSubmitted,
		c.jobsCompleted,
		c.jobsFailed,
		c.jobsExpired,
		c.downloads,
		c.jobDuration,
		c.jobsInFlight,
	)
	return c
}

func (c *Collector) RecordSubmitted() { c.jobsSubmitted.Inc() }

func (c *Collector) RecordClaimed() { c.jobsInFlight.Inc() }

func (c *Collector) RecordCompleted(durationSeconds float64) {
	c.jobsCompleted.Inc()
	c.jobDuration.Observe(durationSeconds)
	c.jobsInFlight.Dec()
}

func (c *Collector) RecordFailed(durationSeconds float64) {
	c.jobsFailed.Inc()
	c.jobDuration.Observe(durationSeconds)
	c.jobsInFlight.Dec()
}

func (c *Collector) RecordExpired() { c.jobsExpired.Inc() }

func (c *Collector) RecordDownload() { c.downloads.Inc() }
