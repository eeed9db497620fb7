package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// WorkerPool runs CPU-bound work on a fixed number of goroutines so that
// heavy image processing for one job cannot starve the others.
type WorkerPool struct {
	// queue holds work waiting for a free worker
	queue *WorkQueue

	// workerCount is the number of concurrent workers to start
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is used for cancellation and shutdown signaling
	ctx context.Context

	// cancel is the function to call to cancel the context
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once

	// logger for structured logging
	logger *slog.Logger
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// QueueSize is the number of items that may wait for a worker.
	QueueSize int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 2,
		QueueSize:   64,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration.
// Call Start before submitting work.
func NewWorkerPool(config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:       NewWorkQueue(config.QueueSize, logger),
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.With("component", "worker_pool"),
	}
}

// Start launches the workers. Calling it again has no effect.
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.workerCount; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		p.logger.Info("worker pool started", "worker_count", p.workerCount)
	})
}

// Stop rejects new work, stops the workers and waits for them to exit.
// Work in progress observes a cancelled context.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		p.queue.Close()
		p.cancel()
		p.wg.Wait()
		p.logger.Info("worker pool stopped")
	})
}

// Do submits fn and waits for its result. It returns early with ctx's error
// if ctx is done first, or ErrQueueClosed after Stop.
func (p *WorkerPool) Do(ctx context.Context, name string, fn Work) error {
	item := workItem{name: name, ctx: ctx, fn: fn, result: make(chan error, 1)}
	if err := p.queue.Enqueue(ctx, item); err != nil {
		return err
	}

	select {
	case err := <-item.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrQueueClosed
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("starting worker", "worker_id", id)
	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("stopping worker", "worker_id", id)
			return
		case item := <-p.queue.items:
			item.result <- p.run(item)
		}
	}
}

func (p *WorkerPool) run(item workItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("work panicked",
				"work", item.name,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("work %s panicked: %v", item.name, r)
		}
	}()

	if err := item.ctx.Err(); err != nil {
		return err
	}
	return item.fn(item.ctx)
}
