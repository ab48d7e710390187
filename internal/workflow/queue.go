package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oncallstack/oncall-responder/internal/metrics"
)

// ErrQueueClosed is returned by Submit after Close.
var ErrQueueClosed = errors.New("task queue closed")

// ErrQueueFull is returned when the task buffer has no room; callers treat
// it as backpressure, not a crash.
var ErrQueueFull = errors.New("task queue full")

// Task is one unit of background work. Tasks run to completion; there is no
// mid-task cancellation signal.
type Task func(ctx context.Context)

// Queue is a bounded in-process worker pool for background workflow steps.
// A panicking task is recovered, logged and counted; it never takes a
// worker down.
type Queue struct {
	tasks  chan Task
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewQueue starts a pool of workers draining a buffer of the given size.
func NewQueue(workers, size int, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 16
	}
	q := &Queue{
		tasks:  make(chan Task, size),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues a task without blocking. A full buffer is reported as
// ErrQueueFull and counted as a task failure.
func (q *Queue) Submit(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		metrics.ObserveTaskFailure()
		return fmt.Errorf("%w: %d tasks pending", ErrQueueFull, len(q.tasks))
	}
}

// Close stops accepting tasks and waits for in-flight and buffered tasks to
// finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for task := range q.tasks {
		q.run(task)
	}
}

func (q *Queue) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ObserveTaskFailure()
			q.logger.Error("background task panicked", "panic", r)
		}
	}()
	task(context.Background())
}
