package jobkeep

import "fmt"

// EnqueueError wraps any failure encountered while enqueueing a job:
// payload serialization or the underlying storage insert.
type EnqueueError struct {
	Err error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("failed to enqueue job: %v", e.Err)
}

func (e *EnqueueError) Unwrap() error {
	return e.Err
}

// PerformError is any failure produced while dispatching a job: a handler
// return value, an unknown job type, an environment-type mismatch, a
// deserialization failure, or a caught handler panic. It is never
// surfaced to the orchestrator — the worker task absorbs it into retry
// bookkeeping and the failure log line.
type PerformError struct {
	msg string
}

func NewPerformError(msg string) *PerformError {
	return &PerformError{msg: msg}
}

func (e *PerformError) Error() string {
	return e.msg
}

// FetchError is surfaced from Runner.RunAllPendingJobs when the
// orchestrator cannot continue observing worker events.
type FetchError struct {
	Kind FetchErrorKind
	Err  error
}

// FetchErrorKind distinguishes the three ways run_all_pending_jobs can
// fail to drain the queue.
type FetchErrorKind int

const (
	// NoDatabaseConnection means a worker could not obtain a pooled
	// connection.
	NoDatabaseConnection FetchErrorKind = iota
	// FailedLoadingJob means the locking query itself returned an error.
	FailedLoadingJob
	// NoMessageReceived means the orchestrator timed out waiting for the
	// next worker event within job_start_timeout.
	NoMessageReceived
)

func (k FetchErrorKind) String() string {
	switch k {
	case NoDatabaseConnection:
		return "no database connection"
	case FailedLoadingJob:
		return "failed loading job"
	case NoMessageReceived:
		return "no message received"
	default:
		return "unknown fetch error"
	}
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FailedJobsError is surfaced from Runner.CheckForFailedJobs.
type FailedJobsError struct {
	// Count is the number of recently-failed rows, set when the error
	// represents JobsFailed(n) with n > 0.
	Count int
	// PanicCount is the number of worker tasks that panicked (a failed
	// finalize commit), set when the error represents a panic report.
	PanicCount int
	// Err wraps an underlying database error from counting failures.
	Err error
}

func (e *FailedJobsError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("failed to count failed jobs: %v", e.Err)
	case e.PanicCount > 0:
		return fmt.Sprintf("%d threads panicked", e.PanicCount)
	default:
		return fmt.Sprintf("%d jobs failed", e.Count)
	}
}

func (e *FailedJobsError) Unwrap() error {
	return e.Err
}
