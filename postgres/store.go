// Package postgres is jobkeep's storage gateway: the SQL operations that
// back the durable job queue. Every operation runs on the Querier it is
// given: Enqueue and FailedJobCount may run standalone against the pool or
// inside a transaction, while FindNextUnlockedJob, DeleteSuccessfulJob and
// UpdateFailedJob are called from inside a caller-managed transaction,
// mirroring how the runner drives a single transaction across a
// lock-dispatch-finalize sequence.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is jobkeep's Postgres-backed storage gateway.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an already-connected pool. Use Connect to build one with
// migrations and retried Ping applied first.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying connection pool, for callers (the runner,
// tests) that need to manage their own transactions.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// operation below run either standalone or inside a caller-managed
// transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrNoJobAvailable is returned by FindNextUnlockedJob when the locking
// query finds no eligible row. It is not a database error: it is the
// expected outcome of an empty (or fully backed-off) queue.
var ErrNoJobAvailable = errors.New("postgres: no unlocked job available")

// Job is one row fetched from background_jobs.
type Job struct {
	ID      int64
	JobType string
	Data    json.RawMessage
}

// FindNextUnlockedJob locks and returns the earliest-created row whose
// exponential backoff window has elapsed, skipping rows locked by other
// sessions. It must be called with a Querier bound to an open transaction:
// the row stays locked until that transaction commits or rolls back.
//
// The backoff predicate (1 minute * 2^retries) is evaluated entirely in
// SQL; nothing in Go reimplements or overrides it.
func (s *Store) FindNextUnlockedJob(ctx context.Context, q Querier) (Job, error) {
	const query = `
		SELECT id, job_type, data
		FROM background_jobs
		WHERE last_retry < now() - (interval '1 minute' * power(2, retries))
		ORDER BY id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`

	var job Job
	err := q.QueryRow(ctx, query).Scan(&job.ID, &job.JobType, &job.Data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNoJobAvailable
		}
		return Job{}, fmt.Errorf("failed to lock next job: %w", err)
	}

	return job, nil
}

// Enqueue inserts one row with the given job type and JSON payload,
// returning its assigned id. retries, created_at and last_retry take their
// database defaults.
func (s *Store) Enqueue(ctx context.Context, q Querier, jobType string, data json.RawMessage) (int64, error) {
	const query = `
		INSERT INTO background_jobs (job_type, data)
		VALUES ($1, $2)
		RETURNING id
	`

	var id int64
	if err := q.QueryRow(ctx, query, jobType, data).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return id, nil
}

// DeleteSuccessfulJob deletes the row for a job that completed without
// error. Must be called from inside the transaction that holds its lock.
func (s *Store) DeleteSuccessfulJob(ctx context.Context, q Querier, id int64) error {
	const query = `DELETE FROM background_jobs WHERE id = $1`

	if _, err := q.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete job %d: %w", id, err)
	}

	return nil
}

// UpdateFailedJob increments retries and sets last_retry to now(), in a
// single statement so neither field is ever updated without the other.
// Must be called from inside the transaction that holds the row's lock.
func (s *Store) UpdateFailedJob(ctx context.Context, q Querier, id int64) error {
	const query = `
		UPDATE background_jobs
		SET retries = retries + 1, last_retry = now()
		WHERE id = $1
	`

	if _, err := q.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to update failed job %d: %w", id, err)
	}

	return nil
}

// FailedJobCount returns the number of rows whose last_retry falls within
// the last minute: the "recently failed" metric used by failure checks.
// A job that is retried and then succeeds is no longer counted, since its
// row is deleted on success.
func (s *Store) FailedJobCount(ctx context.Context, q Querier) (int, error) {
	const query = `
		SELECT count(*)
		FROM background_jobs
		WHERE last_retry > now() - interval '1 minute'
	`

	var count int
	if err := q.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count failed jobs: %w", err)
	}

	return count, nil
}
