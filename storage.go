package jobkeep

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNoJobAvailable is the sentinel a Storage implementation's
// FindNextUnlockedJob must return (wrapped or bare, checked with
// errors.Is) when the locking query finds no eligible row.
var ErrNoJobAvailable = errors.New("jobkeep: no unlocked job available")

// Storage is the storage gateway the runner drives: acquire a connection
// and open a transaction, lock the next eligible job, finalize it, and
// commit or roll back. Transaction handles are opaque (any) so the
// dispatch core has no dependency on a specific database driver; the
// postgres package's Gateway type is the implementation jobkeepctl wires
// in, but any storage engine offering row-level locking with a
// skip-locked equivalent can supply another one.
type Storage interface {
	// Begin acquires a connection from the pool and opens a transaction.
	// A non-nil error here corresponds to FailedToAcquireConnection.
	Begin(ctx context.Context) (tx any, err error)
	Commit(ctx context.Context, tx any) error
	Rollback(ctx context.Context, tx any) error

	// FindNextUnlockedJob locks and returns the earliest-created eligible
	// row. ErrNoJobAvailable (use errors.Is) means the queue is drained
	// of eligible rows, not a failure.
	FindNextUnlockedJob(ctx context.Context, tx any) (id int64, jobType string, data json.RawMessage, err error)

	// Enqueue may be called either inside an open transaction (tx from
	// Begin) or standalone (tx == nil), against the shared pool.
	Enqueue(ctx context.Context, tx any, jobType string, data json.RawMessage) (id int64, err error)

	DeleteSuccessfulJob(ctx context.Context, tx any, id int64) error
	UpdateFailedJob(ctx context.Context, tx any, id int64) error
	FailedJobCount(ctx context.Context, tx any) (int, error)
}
