// Package workpool implements a fixed-size worker pool with a bounded
// backlog, grounded on original_source/src/thread-pool.h's ThreadPool:
// a small set of long-lived goroutines drain a work queue, and once the
// backlog is full, Submit runs the task inline on the calling goroutine
// rather than blocking indefinitely — the same backpressure valve the
// original gives its callers. Slot accounting is done with
// golang.org/x/sync/semaphore, which the rest of the example pack
// already depends on for bounded concurrency.
package workpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool runs submitted functions across a fixed number of workers, with
// at most maxBacklog tasks queued before Submit falls back to running
// the task inline.
type Pool struct {
	tasks    chan func()
	backlog  *semaphore.Weighted
	done     chan struct{}
}

// New starts a Pool with workers goroutines and room for maxBacklog
// queued tasks.
func New(workers, maxBacklog int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if maxBacklog < 0 {
		maxBacklog = 0
	}
	p := &Pool{
		tasks:   make(chan func(), maxBacklog),
		backlog: semaphore.NewWeighted(int64(maxBacklog)),
		done:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case fn, ok := <-p.tasks:
			if !ok {
				return
			}
			fn()
		case <-p.done:
			return
		}
	}
}

// Submit queues fn for execution by a worker. If the backlog is full,
// Submit runs fn synchronously on the calling goroutine instead of
// blocking — the inline-execution fallback original_source/src/
// thread-pool.h uses to apply backpressure without deadlocking a
// producer that outruns the pool.
func (p *Pool) Submit(fn func()) {
	if !p.backlog.TryAcquire(1) {
		fn()
		return
	}
	wrapped := func() {
		defer p.backlog.Release(1)
		fn()
	}
	select {
	case p.tasks <- wrapped:
	case <-p.done:
		p.backlog.Release(1)
		fn()
	}
}

// Close stops accepting new work and signals every worker goroutine to
// exit once it finishes its current task; tasks still queued at that
// point are not run. Close does not wait for
// in-flight inline-fallback executions on other goroutines; callers
// that need that guarantee should track their own WaitGroup around
// Submit calls.
func (p *Pool) Close() {
	close(p.done)
}

// TryAcquireContext blocks until a backlog slot is free or ctx is
// done, for callers (such as a bounded producer) that want to wait
// rather than fall back to inline execution.
func (p *Pool) TryAcquireContext(ctx context.Context) error {
	return p.backlog.Acquire(ctx, 1)
}
