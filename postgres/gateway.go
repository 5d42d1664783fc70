package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jobkeep/jobkeep"
)

// Gateway adapts Store to jobkeep.Storage: the runner only ever sees an
// opaque transaction handle (any), never a concrete pgx.Tx, so the
// job-dispatch core stays free of a direct Postgres dependency.
type Gateway struct {
	store *Store
}

// NewGateway wraps a Store for use as a jobkeep.Storage implementation.
func NewGateway(store *Store) *Gateway {
	return &Gateway{store: store}
}

// Begin acquires a connection from the pool and opens a transaction,
// returning it as an opaque handle.
func (g *Gateway) Begin(ctx context.Context) (any, error) {
	tx, err := g.store.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Commit commits the transaction held by tx.
func (g *Gateway) Commit(ctx context.Context, tx any) error {
	return tx.(pgx.Tx).Commit(ctx)
}

// Rollback rolls back the transaction held by tx.
func (g *Gateway) Rollback(ctx context.Context, tx any) error {
	return tx.(pgx.Tx).Rollback(ctx)
}

func (g *Gateway) FindNextUnlockedJob(ctx context.Context, tx any) (int64, string, json.RawMessage, error) {
	job, err := g.store.FindNextUnlockedJob(ctx, tx.(pgx.Tx))
	if err != nil {
		if errors.Is(err, ErrNoJobAvailable) {
			return 0, "", nil, jobkeep.ErrNoJobAvailable
		}
		return 0, "", nil, err
	}
	return job.ID, job.JobType, job.Data, nil
}

func (g *Gateway) Enqueue(ctx context.Context, tx any, jobType string, data json.RawMessage) (int64, error) {
	q, err := g.querierFor(tx)
	if err != nil {
		return 0, err
	}
	return g.store.Enqueue(ctx, q, jobType, data)
}

func (g *Gateway) DeleteSuccessfulJob(ctx context.Context, tx any, id int64) error {
	return g.store.DeleteSuccessfulJob(ctx, tx.(pgx.Tx), id)
}

func (g *Gateway) UpdateFailedJob(ctx context.Context, tx any, id int64) error {
	return g.store.UpdateFailedJob(ctx, tx.(pgx.Tx), id)
}

func (g *Gateway) FailedJobCount(ctx context.Context, tx any) (int, error) {
	q, err := g.querierFor(tx)
	if err != nil {
		return 0, err
	}
	return g.store.FailedJobCount(ctx, q)
}

// querierFor lets Enqueue and FailedJobCount be called either inside an
// open transaction (tx is a pgx.Tx) or standalone against the pool (tx is
// nil), since the storage gateway allows both.
func (g *Gateway) querierFor(tx any) (Querier, error) {
	if tx == nil {
		return g.store.pool, nil
	}
	q, ok := tx.(Querier)
	if !ok {
		return nil, fmt.Errorf("postgres gateway: unexpected handle type %T", tx)
	}
	return q, nil
}
