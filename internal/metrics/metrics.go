// ============================================================================
// Task Engine Metrics - Prometheus Monitoring
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collect and expose system metrics for Prometheus monitoring
//
// Metric Categories (every exported name carries the "semantica_" prefix):
//
//   1. Job Counters - Cumulative, monotonically increasing:
//      - jobs_enqueued_total: Total enqueued jobs
//      - jobs_dispatched_total: Total jobs popped for execution
//      - jobs_completed_total: Total jobs reaching DONE
//      - jobs_failed_total: Total jobs reaching FAILED
//      - jobs_superseded_total: Total jobs invalidated by a newer generation
//
//   2. Performance Metrics (Histogram) - Distribution stats:
//      - job_latency_seconds: started_at -> finished_at latency distribution
//
//   3. Status Metrics (Gauge) - Instantaneous values:
//      - recovery_time_seconds: Duration of the last startup recovery pass
//      - jobs_pending: Current queued jobs
//      - jobs_in_flight: Current running jobs
//
// HTTP Endpoint:
//   Exposed via /metrics, scraped by Prometheus. Default port: 9090.
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects Prometheus metrics for the job engine.
type Collector struct {
	jobsEnqueued   prometheus.Counter
	jobsDispatched prometheus.Counter
	jobsCompleted  prometheus.Counter
	jobsFailed     prometheus.Counter
	jobsSuperseded prometheus.Counter

	jobLatency   prometheus.Histogram
	recoveryTime prometheus.Gauge

	jobsPending  prometheus.Gauge
	jobsInFlight prometheus.Gauge

	mu sync.Mutex
}

// NewCollector creates a new metrics collector and registers it with the
// default Prometheus registry.
func NewCollector() *Collector {
	c := &Collector{
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "semantica_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		}),
		jobsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "semantica_jobs_dispatched_total",
			Help: "Total number of jobs popped for execution",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "semantica_jobs_completed_total",
			Help: "Total number of jobs completed successfully",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "semantica_jobs_failed_total",
			Help: "Total number of jobs that reached FAILED",
		}),
		jobsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "semantica_jobs_superseded_total",
			Help: "Total number of jobs invalidated by a newer generation",
		}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "semantica_job_latency_seconds",
			Help:    "Job execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		recoveryTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "semantica_recovery_time_seconds",
			Help: "Duration of the last startup recovery pass in seconds",
		}),
		jobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "semantica_jobs_pending",
			Help: "Current number of queued jobs",
		}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "semantica_jobs_in_flight",
			Help: "Current number of running jobs",
		}),
	}

	prometheus.MustRegister(
		c.jobsEnqueued, c.jobsDispatched, c.jobsCompleted, c.jobsFailed, c.jobsSuperseded,
		c.jobLatency, c.recoveryTime, c.jobsPending, c.jobsInFlight,
	)

	return c
}

func (c *Collector) RecordEnqueue() {
	c.jobsEnqueued.Inc()
}

func (c *Collector) RecordDispatch() {
	c.jobsDispatched.Inc()
}

func (c *Collector) RecordCompleted(latencySeconds float64) {
	c.jobsCompleted.Inc()
	c.jobLatency.Observe(latencySeconds)
}

func (c *Collector) RecordFailed() {
	c.jobsFailed.Inc()
}

func (c *Collector) RecordSuperseded(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := int64(0); i < n; i++ {
		c.jobsSuperseded.Inc()
	}
}

func (c *Collector) SetRecoveryTime(seconds float64) {
	c.recoveryTime.Set(seconds)
}

func (c *Collector) UpdateQueueStats(pending, inFlight int) {
	c.jobsPending.Set(float64(pending))
	c.jobsInFlight.Set(float64(inFlight))
}

// StartServer starts the Prometheus metrics HTTP server.
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
