package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkerPool(t *testing.T) {
	logger := discardLogger()

	pool := NewWorkerPool(WorkerPoolConfig{WorkerCount: 5, QueueSize: 3}, logger)
	assert.Equal(t, 5, pool.workerCount)
	assert.Equal(t, 3, cap(pool.queue.items))

	// Invalid worker counts default to 1
	pool = NewWorkerPool(WorkerPoolConfig{WorkerCount: 0}, logger)
	assert.Equal(t, 1, pool.workerCount)

	pool = NewWorkerPool(WorkerPoolConfig{WorkerCount: -5}, logger)
	assert.Equal(t, 1, pool.workerCount)
}

func TestWorkerPool_Do(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{WorkerCount: 2, QueueSize: 4}, discardLogger())
	pool.Start()
	defer pool.Stop()

	var ran atomic.Bool
	err := pool.Do(context.Background(), "resize", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran.Load())

	workErr := errors.New("decode failed")
	err = pool.Do(context.Background(), "resize", func(ctx context.Context) error { return workErr })
	assert.Equal(t, workErr, err)
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	const workers = 3
	pool := NewWorkerPool(WorkerPoolConfig{WorkerCount: workers, QueueSize: 16}, discardLogger())
	pool.Start()
	defer pool.Stop()

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Do(context.Background(), "work", func(ctx context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				current.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.Positive(t, peak.Load())
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{WorkerCount: 1, QueueSize: 1}, discardLogger())
	pool.Start()
	defer pool.Stop()

	err := pool.Do(context.Background(), "explode", func(ctx context.Context) error {
		panic("bad image")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad image")

	// the worker survives
	assert.NoError(t, pool.Do(context.Background(), "after", func(ctx context.Context) error { return nil }))
}

func TestWorkerPool_StopAndContext(t *testing.T) {
	t.Run("context cancelled while waiting", func(t *testing.T) {
		pool := NewWorkerPool(WorkerPoolConfig{WorkerCount: 1, QueueSize: 1}, discardLogger())
		pool.Start()
		defer pool.Stop()

		block := make(chan struct{})
		started := make(chan struct{})
		defer close(block)
		go func() {
			_ = pool.Do(context.Background(), "blocker", func(ctx context.Context) error {
				close(started)
				<-block
				return nil
			})
		}()
		<-started

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		err := pool.Do(ctx, "starved", func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("submit after stop", func(t *testing.T) {
		pool := NewWorkerPool(WorkerPoolConfig{WorkerCount: 1}, discardLogger())
		pool.Start()
		pool.Stop()
		pool.Stop()

		err := pool.Do(context.Background(), "late", func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, err, ErrQueueClosed)
	})
}
