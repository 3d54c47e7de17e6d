// Package taskqueue implements the bounded sub-task queue described in
// spec.md §4.1/§5: a named queue with a fixed concurrency limit,
// backed by gammazero/workerpool, that the enqueuing step always
// joins before it returns. Grounded on the teacher's
// pkg/queue.WorkerPool start/stop/registration shape, adapted from a
// session-worker pool to a generic bounded fan-out queue.
package taskqueue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gammazero/workerpool"
)

// Queue runs submitted tasks with at most concurrency goroutines
// active at once, and lets the caller wait for every task it
// submitted to finish before proceeding — the "join before the
// enqueuing step returns" rule.
type Queue struct {
	name       string
	pool       *workerpool.WorkerPool
	submitted  atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	cancelOnce sync.Once
	canceled   atomic.Bool
}

// New creates a Queue named name with the given worker concurrency.
// name is used only for logging/metrics.
func New(name string, concurrency int) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Queue{
		name: name,
		pool: workerpool.New(concurrency),
	}
}

// Submit enqueues fn to run on the next free worker. Submit never
// blocks on fn's completion; call Wait to join every submitted task.
// Submit is a no-op once Cancel has been called.
func (q *Queue) Submit(ctx context.Context, fn func(ctx context.Context) error) {
	if q.canceled.Load() {
		return
	}
	q.submitted.Add(1)
	q.pool.Submit(func() {
		if q.canceled.Load() {
			return
		}
		if ctx.Err() != nil {
			q.failed.Add(1)
			return
		}
		if err := fn(ctx); err != nil {
			q.failed.Add(1)
			slog.Warn("task failed", "queue", q.name, "error", err)
			return
		}
		q.completed.Add(1)
	})
}

// Wait blocks until every task submitted so far has finished, the
// join point a step calls before it returns.
func (q *Queue) Wait() {
	q.pool.StopWait()
}

// Cancel stops accepting new tasks and drops queued tasks that have not
// started yet (they count as neither completed nor failed); tasks
// already running are not interrupted, they finish or observe ctx
// cancellation on their own.
func (q *Queue) Cancel() {
	q.cancelOnce.Do(func() {
		q.canceled.Store(true)
	})
}

// Stats reports how many tasks this queue has submitted, completed,
// and failed so far.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
}

func (q *Queue) Stats() Stats {
	return Stats{
		Submitted: q.submitted.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}
}
