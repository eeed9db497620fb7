package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/phrazzld/adlens/internal/platform/logger"
	"github.com/sethvargo/go-retry"
)

// ErrTransient marks an error as retryable. Wrap it with fmt.Errorf("%w").
var ErrTransient = errors.New("transient failure")

// FatalPersistenceError is returned by WithRetry once every attempt has
// failed with a transient error.
type FatalPersistenceError struct {
	Operation string
	Attempts  int
	Err       error
}

// Error implements the error interface.
func (e *FatalPersistenceError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *FatalPersistenceError) Unwrap() error {
	return e.Err
}

// RetryPolicy bounds a persistence call.
type RetryPolicy struct {
	// Timeout is the hard limit for one attempt.
	Timeout time.Duration
	// MaxRetries is the number of attempts after the first.
	MaxRetries int
	// Delay is the base of the exponential backoff between attempts.
	Delay time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		Delay:      200 * time.Millisecond,
	}
}

// IsTransient reports whether err is worth retrying: explicit ErrTransient,
// deadline overruns and network errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// WithRetry runs op under policy.Timeout per attempt and retries transient
// failures with exponential backoff. Non-transient errors are returned
// unchanged on the first occurrence. Once the retries are exhausted a
// *FatalPersistenceError is returned.
//
// Attempts run on a context detached from ctx's cancellation, so a job that is
// being cancelled can still record its final state.
func WithRetry[T any](
	ctx context.Context,
	name string,
	policy RetryPolicy,
	op func(ctx context.Context) (T, error),
) (T, error) {
	log := logger.FromContext(ctx)
	base := context.WithoutCancel(ctx)

	var (
		result   T
		lastErr  error
		attempts int
	)

	delay := policy.Delay
	if delay <= 0 {
		delay = time.Millisecond
	}
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := retry.WithMaxRetries(uint64(maxRetries), retry.NewExponential(delay))

	err := retry.Do(base, backoff, func(attemptCtx context.Context) error {
		attempts++

		value, opErr := runAttempt(attemptCtx, policy.Timeout, op)
		if opErr == nil {
			result = value
			return nil
		}

		lastErr = opErr
		if !IsTransient(opErr) {
			return opErr
		}

		log.Warn("persistence call failed, retrying",
			slog.String("operation", name),
			slog.Int("attempt", attempts),
			slog.String("error", opErr.Error()))
		return retry.RetryableError(opErr)
	})

	if err == nil {
		return result, nil
	}

	var zero T
	if lastErr != nil && IsTransient(lastErr) {
		log.Error("persistence call exhausted retries",
			slog.String("operation", name),
			slog.Int("attempts", attempts),
			slog.String("error", lastErr.Error()))
		return zero, &FatalPersistenceError{Operation: name, Attempts: attempts, Err: lastErr}
	}

	return zero, err
}

type attemptResult[T any] struct {
	value T
	err   error
}

// runAttempt calls op and stops waiting once timeout elapses, even when op
// ignores its context. A result that arrives after the deadline is discarded.
func runAttempt[T any](
	ctx context.Context,
	timeout time.Duration,
	op func(ctx context.Context) (T, error),
) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		value, err := op(callCtx)
		done <- attemptResult[T]{value: value, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-callCtx.Done():
		var zero T
		return zero, fmt.Errorf("attempt abandoned after %s: %w", timeout, context.DeadlineExceeded)
	}
}
