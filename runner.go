package jobkeep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jobkeep/jobkeep/internal/workerpool"
)

const (
	defaultThreadCount     = 5
	defaultJobStartTimeout = 10 * time.Second
)

// Builder configures a Runner before Build constructs it. The zero value
// is not usable; start from NewBuilder.
type Builder[E any] struct {
	storage         Storage
	env             *E
	threadCount     int
	jobStartTimeout time.Duration
	connectionCount int
	metrics         MetricsRecorder
}

// NewBuilder starts a Builder for environment type E, bound to storage
// and sharing env read-only with every handler invocation.
func NewBuilder[E any](storage Storage, env *E) *Builder[E] {
	return &Builder[E]{
		storage:         storage,
		env:             env,
		threadCount:     defaultThreadCount,
		jobStartTimeout: defaultJobStartTimeout,
		metrics:         noopMetrics{},
	}
}

// ThreadCount sets the maximum number of concurrently dispatched jobs.
// Default 5.
func (b *Builder[E]) ThreadCount(n int) *Builder[E] {
	b.threadCount = n
	return b
}

// JobStartTimeout bounds how long run_all_pending_jobs waits for the next
// worker event. Default 10s.
func (b *Builder[E]) JobStartTimeout(d time.Duration) *Builder[E] {
	b.jobStartTimeout = d
	return b
}

// SetConnectionCount records the upper bound on the connection pool
// backing storage. Runner does not construct the pool itself (that
// remains the caller's responsibility, per the storage engine chosen),
// but Build validates it against ThreadCount: every concurrently
// dispatched job holds one connection for the lifetime of its
// transaction, so a pool smaller than ThreadCount would starve workers
// of connections before they ever reach the locking query. Defaults to
// ThreadCount, which needs no further validation. Callers sizing a pool
// can read the defaulted value back via ConnectionCount.
func (b *Builder[E]) SetConnectionCount(n int) *Builder[E] {
	b.connectionCount = n
	return b
}

// ConnectionCount returns the configured (or defaulted) connection count,
// applying the same defaulting Build uses for ThreadCount.
func (b *Builder[E]) ConnectionCount() int {
	if b.connectionCount > 0 {
		return b.connectionCount
	}
	if b.threadCount > 0 {
		return b.threadCount
	}
	return defaultThreadCount
}

// Metrics installs a MetricsRecorder the runner reports job outcomes to.
// Defaults to a no-op recorder.
func (b *Builder[E]) Metrics(m MetricsRecorder) *Builder[E] {
	b.metrics = m
	return b
}

// Build loads the registry for E and constructs the Runner.
func (b *Builder[E]) Build() (*Runner[E], error) {
	registry, err := LoadRegistry[E]()
	if err != nil {
		return nil, err
	}

	threadCount := b.threadCount
	if threadCount <= 0 {
		threadCount = defaultThreadCount
	}

	connectionCount := b.connectionCount
	if connectionCount <= 0 {
		connectionCount = threadCount
	}
	if connectionCount < threadCount {
		return nil, fmt.Errorf("jobkeep: connection count (%d) is less than thread count (%d): every concurrently dispatched job holds one connection for the lifetime of its transaction", connectionCount, threadCount)
	}

	return &Runner[E]{
		storage:         b.storage,
		env:             b.env,
		registry:        registry,
		threadCount:     threadCount,
		jobStartTimeout: b.jobStartTimeout,
		pool:            workerpool.New(threadCount),
		metrics:         b.metrics,
	}, nil
}

// Runner owns the connection pool (via Storage), the thread pool, the
// registry, and the shared environment for one background-job consumer.
type Runner[E any] struct {
	storage         Storage
	env             *E
	registry        *Registry
	threadCount     int
	jobStartTimeout time.Duration
	pool            *workerpool.Pool
	metrics         MetricsRecorder
}

// Storage returns the runner's storage gateway, for test-only inspection
// or manual enqueuing.
func (r *Runner[E]) Storage() Storage {
	return r.storage
}

// RunAllPendingJobs submits worker tasks until the queue is observed
// drained (NoJobAvailable) or a fetch-layer error prevents the
// orchestrator from continuing. Each round it submits enough tasks to
// fill the free pool slots (at least one when no event is outstanding),
// then waits up to jobStartTimeout for the next worker event: Working
// keeps the loop going, NoJobAvailable returns nil, and the other
// outcomes return a *FetchError.
func (r *Runner[E]) RunAllPendingJobs(ctx context.Context) error {
	sender := newEventSender(r.threadCount)
	stop := make(chan struct{})
	defer close(stop)

	pendingMessages := 0

	for {
		available := r.threadCount - r.pool.ActiveCount()
		var toQueue int
		if pendingMessages > 0 {
			toQueue = available
		} else {
			toQueue = max(available, 1)
		}

		for range toQueue {
			r.pool.Execute(func() {
				r.workerTask(ctx, sender, stop)
			})
		}
		pendingMessages += toQueue

		select {
		case evt := <-sender.ch:
			switch evt.Kind {
			case Working:
				pendingMessages--
			case NoJobAvailable:
				return nil
			case ErrorLoadingJob:
				r.metrics.ObserveFetchError(FailedLoadingJob)
				return &FetchError{Kind: FailedLoadingJob, Err: evt.Err}
			case FailedToAcquireConnection:
				r.metrics.ObserveFetchError(NoDatabaseConnection)
				return &FetchError{Kind: NoDatabaseConnection, Err: evt.Err}
			}
		case <-time.After(r.jobStartTimeout):
			r.metrics.ObserveFetchError(NoMessageReceived)
			return &FetchError{Kind: NoMessageReceived}
		}
	}
}

// CheckForFailedJobs waits for all in-flight worker tasks to finish, then
// reports panicked finalize-commits (if any occurred) or the current
// recently-failed job count.
func (r *Runner[E]) CheckForFailedJobs(ctx context.Context) error {
	panicCount := r.pool.Join()
	if panicCount > 0 {
		return &FailedJobsError{PanicCount: panicCount}
	}

	count, err := r.storage.FailedJobCount(ctx, nil)
	if err != nil {
		return &FailedJobsError{Err: err}
	}
	if count > 0 {
		return &FailedJobsError{Count: count}
	}

	return nil
}

// workerTask is one attempt: acquire, lock, dispatch, finalize, commit.
// It never lets a handler panic escape; a failed finalize write
// (UpdateFailedJob or DeleteSuccessfulJob) or a failed commit are the
// failure modes allowed to panic the goroutine, observed by the worker
// pool's panic counter.
func (r *Runner[E]) workerTask(ctx context.Context, sender *eventSender, stop <-chan struct{}) {
	tx, err := r.storage.Begin(ctx)
	if err != nil {
		sender.send(Event{Kind: FailedToAcquireConnection, Err: err}, stop)
		return
	}

	id, jobType, data, err := r.storage.FindNextUnlockedJob(ctx, tx)
	switch {
	case err == nil:
		sender.send(Event{Kind: Working}, stop)
	case errors.Is(err, ErrNoJobAvailable):
		sender.send(Event{Kind: NoJobAvailable}, stop)
		if cErr := r.storage.Commit(ctx, tx); cErr != nil {
			panic(fmt.Sprintf("failed to commit empty-queue transaction: %v", cErr))
		}
		return
	default:
		sender.send(Event{Kind: ErrorLoadingJob, Err: err}, stop)
		if rbErr := r.storage.Rollback(ctx, tx); rbErr != nil {
			slog.ErrorContext(ctx, "rollback after locking error failed", "error", rbErr)
		}
		return
	}

	start := time.Now()
	performErr := r.dispatch(tx, jobType, data)
	r.metrics.ObserveJob(jobType, performErr == nil, time.Since(start))

	if performErr != nil {
		fmt.Fprintf(os.Stderr, "Job %d failed to run: %s\n", id, performErr)
		slog.ErrorContext(ctx, "job failed to run", "job_id", id, "job_type", jobType, "error", performErr)

		if err := r.storage.UpdateFailedJob(ctx, tx, id); err != nil {
			panic(fmt.Sprintf("failed to record failed job %d: %v", id, err))
		}
	} else {
		if err := r.storage.DeleteSuccessfulJob(ctx, tx, id); err != nil {
			panic(fmt.Sprintf("failed to delete successful job %d: %v", id, err))
		}
	}

	if err := r.storage.Commit(ctx, tx); err != nil {
		panic(fmt.Sprintf("failed to commit job %d: %v", id, err))
	}
}

// dispatch looks up jobType in the registry and runs its handler inside a
// panic-catching envelope: a panic never propagates past dispatch, it is
// converted to a *PerformError instead.
func (r *Runner[E]) dispatch(tx any, jobType string, data json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = NewPerformError(panicMessage(p))
		}
	}()

	return r.registry.perform(jobType, data, any(r.env), tx)
}

// panicMessage renders a recovered panic value as a handler error
// message, trying well-known string-carrying shapes before falling back
// to a generic message.
func panicMessage(p any) string {
	switch v := p.(type) {
	case string:
		return fmt.Sprintf("job panicked: %s", v)
	case error:
		return fmt.Sprintf("job panicked: %s", v.Error())
	case fmt.Stringer:
		return fmt.Sprintf("job panicked: %s", v.String())
	default:
		return "job panicked"
	}
}
