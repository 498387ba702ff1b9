package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one unit of deferred work enqueued by the orchestrator: turn
// persistence, semantic indexing, cascade runs, and flag clearing all travel
// through the queue so the caller never waits on them.
type Task struct {
	// Name identifies the task in failure logs.
	Name string

	// Fn does the work. A non-nil error is logged by the consumer; deferred
	// work is never retried.
	Fn func(ctx context.Context) error
}

// TaskQueue is a buffered fire-and-forget work queue with a single consumer
// goroutine. Enqueued tasks run in order; failures are logged and dropped.
type TaskQueue struct {
	tasks   chan Task
	timeout time.Duration
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// NewTaskQueue creates a queue with the given buffer size and starts its
// consumer goroutine. Call [TaskQueue.Close] to drain and stop it.
func NewTaskQueue(buffer int) *TaskQueue {
	q := &TaskQueue{
		tasks:   make(chan Task, buffer),
		timeout: 5 * time.Minute,
	}
	q.wg.Add(1)
	go q.consume()
	return q
}

// Enqueue submits a task for background execution. It blocks only when the
// buffer is full. Enqueueing on a closed queue panics, so Close must be the
// last call made.
func (q *TaskQueue) Enqueue(t Task) {
	q.tasks <- t
}

// Close stops accepting tasks, waits for everything already enqueued to
// finish, and returns. Safe to call more than once.
func (q *TaskQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.tasks)
	})
	q.wg.Wait()
}

func (q *TaskQueue) consume() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(t)
	}
}

func (q *TaskQueue) run(t Task) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	start := time.Now()
	if err := t.Fn(ctx); err != nil {
		slog.Error("deferred task failed",
			"task", t.Name,
			"duration", time.Since(start),
			"err", err,
		)
		return
	}
	slog.Debug("deferred task done", "task", t.Name, "duration", time.Since(start))
}
