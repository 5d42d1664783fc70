// Package workerpool is a small bounded goroutine pool shaped around the
// four operations the orchestrator needs from a thread pool: a maximum
// concurrency, the current active count, submitting work, and joining
// while reporting how many submitted tasks panicked.
package workerpool

import (
	"sync"
	"sync/atomic"
)

// Pool runs submitted functions on goroutines and reports MaxCount as
// the concurrency ceiling its callers are expected to respect; it does
// not enforce that ceiling itself. A panicking task is recovered so it
// never takes down the pool; Join reports how many tasks
// panicked since the pool was created (or since the last Join, since the
// counter is reset there).
type Pool struct {
	maxCount int

	wg     sync.WaitGroup
	active atomic.Int64
	panics atomic.Int64
}

// New creates a Pool with the given maximum concurrency. maxCount must be
// positive.
func New(maxCount int) *Pool {
	return &Pool{maxCount: maxCount}
}

// MaxCount returns the pool's configured concurrency ceiling.
func (p *Pool) MaxCount() int {
	return p.maxCount
}

// ActiveCount returns the number of tasks currently executing.
func (p *Pool) ActiveCount() int {
	return int(p.active.Load())
}

// Execute runs fn on a new goroutine, tracked by the pool. Callers are
// responsible for not exceeding MaxCount concurrently submitted tasks;
// the pool does not itself block Execute when saturated (the
// orchestrator enforces the ceiling by computing how many tasks to
// submit before calling Execute).
func (p *Pool) Execute(fn func()) {
	p.wg.Add(1)
	p.active.Add(1)

	go func() {
		defer p.wg.Done()
		defer p.active.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
			}
		}()

		fn()
	}()
}

// Join blocks until every submitted task has returned, then returns the
// number of tasks that panicked and resets that counter.
func (p *Pool) Join() int {
	p.wg.Wait()
	return int(p.panics.Swap(0))
}
