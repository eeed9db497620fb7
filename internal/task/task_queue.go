package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueClosed is returned when work is submitted after Close.
var ErrQueueClosed = errors.New("work queue is closed")

// Work is one unit of CPU-bound work.
type Work func(ctx context.Context) error

// workItem pairs a unit of work with the channel its result is sent on.
type workItem struct {
	name   string
	ctx    context.Context
	fn     Work
	result chan error
}

// WorkQueue is a bounded queue of work items consumed by a WorkerPool.
type WorkQueue struct {
	items     chan workItem
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewWorkQueue creates a new queue with the specified buffer size
func NewWorkQueue(size int, logger *slog.Logger) *WorkQueue {
	if size < 0 {
		size = 0
	}
	return &WorkQueue{
		items:  make(chan workItem, size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Enqueue adds an item, waiting for space until ctx is done or the queue closes.
func (q *WorkQueue) Enqueue(ctx context.Context, item workItem) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.items <- item:
		q.logger.Debug("work enqueued",
			"work", item.name,
			"queue_len", q.Len(),
			"queue_cap", cap(q.items))
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further submissions. Items already queued are left for the
// workers to drain or abandon.
func (q *WorkQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.logger.Info("work queue closed")
	})
}

// Len returns the number of queued items.
func (q *WorkQueue) Len() int {
	return len(q.items)
}
