package jobkeep

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// fakeRow is one in-memory background_jobs row.
type fakeRow struct {
	id        int64
	jobType   string
	data      json.RawMessage
	retries   int
	lastRetry time.Time
	locked    bool
}

func backoffElapsed(row *fakeRow, now time.Time) bool {
	backoff := time.Minute * time.Duration(1<<uint(row.retries))
	return row.lastRetry.Before(now.Add(-backoff))
}

// fakeTx is the opaque handle fakeStorage.Begin returns; it remembers
// which row (if any) this transaction locked, and what finalize action
// was requested, applied only at Commit.
type fakeTx struct {
	rowID         int64
	hasRow        bool
	deleteOnClose bool
	failOnClose   bool
}

// fakeStorage is a minimal in-memory Storage used to unit-test the
// orchestrator and worker-task dispatch without a database. It does not
// attempt to reproduce every concurrency nuance of SKIP LOCKED; property
// tests for that live against a real Postgres instance (see
// postgres/store_test.go).
type fakeStorage struct {
	mu     sync.Mutex
	rows   map[int64]*fakeRow
	nextID int64

	beginErr error // when set, Begin always fails (simulates FailedToAcquireConnection)
	findErr  error // when set, FindNextUnlockedJob always fails (simulates ErrorLoadingJob)
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{rows: make(map[int64]*fakeRow)}
}

func (s *fakeStorage) seed(jobType string, data json.RawMessage) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.rows[s.nextID] = &fakeRow{id: s.nextID, jobType: jobType, data: data}
	return s.nextID
}

func (s *fakeStorage) Begin(context.Context) (any, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &fakeTx{}, nil
}

func (s *fakeStorage) Commit(_ context.Context, tx any) error {
	t := tx.(*fakeTx)
	if !t.hasRow {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[t.rowID]
	if !ok {
		return nil
	}
	row.locked = false
	switch {
	case t.deleteOnClose:
		delete(s.rows, t.rowID)
	case t.failOnClose:
		row.retries++
		row.lastRetry = time.Now()
	}
	return nil
}

func (s *fakeStorage) Rollback(_ context.Context, tx any) error {
	t := tx.(*fakeTx)
	if !t.hasRow {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[t.rowID]; ok {
		row.locked = false
	}
	return nil
}

func (s *fakeStorage) FindNextUnlockedJob(_ context.Context, tx any) (int64, string, json.RawMessage, error) {
	if s.findErr != nil {
		return 0, "", nil, s.findErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var best *fakeRow
	for _, row := range s.rows {
		if row.locked || !backoffElapsed(row, now) {
			continue
		}
		if best == nil || row.id < best.id {
			best = row
		}
	}

	if best == nil {
		return 0, "", nil, ErrNoJobAvailable
	}

	best.locked = true
	t := tx.(*fakeTx)
	t.rowID = best.id
	t.hasRow = true

	return best.id, best.jobType, best.data, nil
}

func (s *fakeStorage) Enqueue(_ context.Context, _ any, jobType string, data json.RawMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.rows[s.nextID] = &fakeRow{id: s.nextID, jobType: jobType, data: data}
	return s.nextID, nil
}

func (s *fakeStorage) DeleteSuccessfulJob(_ context.Context, tx any, id int64) error {
	t, ok := tx.(*fakeTx)
	if !ok || !t.hasRow || t.rowID != id {
		return fmt.Errorf("fakeStorage: delete called for row %d not held by this tx", id)
	}
	t.deleteOnClose = true
	return nil
}

func (s *fakeStorage) UpdateFailedJob(_ context.Context, tx any, id int64) error {
	t, ok := tx.(*fakeTx)
	if !ok || !t.hasRow || t.rowID != id {
		return fmt.Errorf("fakeStorage: update called for row %d not held by this tx", id)
	}
	t.failOnClose = true
	return nil
}

func (s *fakeStorage) FailedJobCount(context.Context, any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	count := 0
	for _, row := range s.rows {
		if row.lastRetry.After(now.Add(-time.Minute)) {
			count++
		}
	}
	return count, nil
}

func (s *fakeStorage) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *fakeStorage) retriesFor(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id].retries
}
