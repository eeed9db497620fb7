// Package task runs background jobs outside the request path.
//
// Manager persists job records, starts each job on its own goroutine with a
// CancellationToken, and finalizes the record when the job completes, fails
// or is cancelled. Cancellation is cooperative through the token and forced
// through RunWithCancellation, which polls the token and bounds teardown by a
// grace period. Persistence calls go through WithRetry so a slow store cannot
// stall a job forever. CPU-heavy work runs on a bounded WorkerPool.
package task
