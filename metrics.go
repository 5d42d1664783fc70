package jobkeep

import "time"

// MetricsRecorder receives one observation per dispatched job, plus one
// per orchestrator fetch error. A Runner defaults to a no-op recorder;
// install github.com/jobkeep/jobkeep/metrics's Prometheus-backed
// implementation via Builder.Metrics to expose processed/failed counts,
// duration histograms, and fetch-error counts.
type MetricsRecorder interface {
	ObserveJob(jobType string, success bool, duration time.Duration)

	// ObserveFetchError is called once for every FetchError
	// RunAllPendingJobs returns, labeled by its FetchErrorKind.
	ObserveFetchError(kind FetchErrorKind)
}

type noopMetrics struct{}

func (noopMetrics) ObserveJob(string, bool, time.Duration) {}
func (noopMetrics) ObserveFetchError(FetchErrorKind)       {}
