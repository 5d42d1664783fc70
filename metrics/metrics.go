// Package metrics provides a Prometheus-backed jobkeep.MetricsRecorder,
// along with the counters and histograms the runner reports to and an
// HTTP handler to expose them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jobkeep/jobkeep"
)

var (
	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobkeep",
			Subsystem: "runner",
			Name:      "jobs_processed_total",
			Help:      "Total jobs dispatched, by job type and outcome.",
		},
		[]string{"job_type", "status"}, // "success" | "failed"
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jobkeep",
			Subsystem: "runner",
			Name:      "job_duration_seconds",
			Help:      "Duration of job dispatch, by job type.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job_type"},
	)

	fetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobkeep",
			Subsystem: "runner",
			Name:      "fetch_errors_total",
			Help:      "Total run_all_pending_jobs failures, by kind.",
		},
		[]string{"kind"},
	)
)

// DefaultRegistry is the registry jobkeep's own metrics are registered
// against. Register additional collectors here if embedding jobkeep in a
// larger process.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(collectors.NewGoCollector())
	DefaultRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	DefaultRegistry.MustRegister(jobsProcessed, jobDuration, fetchErrors)
}

// Recorder implements jobkeep.MetricsRecorder against the package-level
// Prometheus collectors.
type Recorder struct{}

// NewRecorder returns a Recorder. There is no per-instance state: the
// underlying collectors are process-wide, matching how a single process
// normally runs one runner.
func NewRecorder() Recorder {
	return Recorder{}
}

// ObserveJob implements jobkeep.MetricsRecorder.
func (Recorder) ObserveJob(jobType string, success bool, duration time.Duration) {
	status := "failed"
	if success {
		status = "success"
	}
	jobsProcessed.WithLabelValues(jobType, status).Inc()
	jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// ObserveFetchError implements jobkeep.MetricsRecorder, incrementing the
// fetch-error counter for the given FetchErrorKind.
func (Recorder) ObserveFetchError(kind jobkeep.FetchErrorKind) {
	fetchErrors.WithLabelValues(kind.String()).Inc()
}

// Handler exposes the DefaultRegistry for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
