package task

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrCancelled is the distinguished outcome of work stopped by a cancellation
// request. It is never treated as a failure.
var ErrCancelled = errors.New("job cancelled")

// CancellationToken is a one-way latch shared by everything working on one job.
// It starts unset and, once cancelled, stays cancelled.
type CancellationToken struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewCancellationToken returns an unset token.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{done: make(chan struct{})}
}

// IsCancelled reports whether Cancel has been called. It never blocks.
func (t *CancellationToken) IsCancelled() bool {
	return t.cancelled.Load()
}

// Cancel sets the token. Calling it more than once has no further effect.
func (t *CancellationToken) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.done)
	})
}

// Done returns a channel closed when the token is cancelled.
func (t *CancellationToken) Done() <-chan struct{} {
	return t.done
}

// Check returns ErrCancelled when the token is set.
func (t *CancellationToken) Check() error {
	if t.IsCancelled() {
		return ErrCancelled
	}
	return nil
}

// IsCancelled reports whether err carries the cancellation outcome.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
