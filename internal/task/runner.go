package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/phrazzld/adlens/internal/platform/logger"
)

// RaceConfig bounds the cancellation race around a job.
type RaceConfig struct {
	// PollInterval is how often the token is checked.
	PollInterval time.Duration
	// Grace is how long a forcefully cancelled run may take to tear down.
	Grace time.Duration
}

// RunWithCancellation runs fn while polling token every PollInterval.
// If the token is set first, fn's context is cancelled and fn is awaited for
// at most Grace before ErrCancelled is returned. A run that finishes after
// the token was set is also reported as ErrCancelled. Panics in fn are
// recovered and returned as errors.
func RunWithCancellation(
	ctx context.Context,
	token *CancellationToken,
	cfg RaceConfig,
	fn func(ctx context.Context) error,
) error {
	log := logger.FromContext(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error("job panicked",
					slog.Any("panic", p),
					slog.String("stack", string(debug.Stack())))
				result <- fmt.Errorf("job panicked: %v", p)
			}
		}()
		result <- fn(runCtx)
	}()

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case err := <-result:
			if token.IsCancelled() {
				return ErrCancelled
			}
			return err

		case <-ticker.C:
			if !token.IsCancelled() {
				continue
			}
			log.Info("cancellation requested, stopping job")
			cancel()
			awaitTeardown(log, result, cfg.Grace)
			return ErrCancelled

		case <-ctx.Done():
			cancel()
			awaitTeardown(log, result, cfg.Grace)
			if token.IsCancelled() {
				return ErrCancelled
			}
			return ctx.Err()
		}
	}
}

func awaitTeardown(log *slog.Logger, result <-chan error, grace time.Duration) {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-result:
	case <-timer.C:
		log.Warn("job did not stop within grace period", slog.Duration("grace", grace))
	}
}
