package task

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/events"
	"github.com/phrazzld/adlens/internal/platform/logger"
	"github.com/phrazzld/adlens/internal/redact"
	"github.com/phrazzld/adlens/internal/store"
)

// Default and maximum page sizes for ListRecent.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ManagerConfig tunes the job lifecycle manager.
type ManagerConfig struct {
	Race               RaceConfig
	Retry              RetryPolicy
	Progress           ProgressConfig
	CleanupProbability float64
	CleanupMaxAge      time.Duration
	JobType            domain.JobType
}

// DefaultManagerConfig returns the configuration used when none is given.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Race:               RaceConfig{PollInterval: 100 * time.Millisecond, Grace: 5 * time.Second},
		Retry:              DefaultRetryPolicy(),
		Progress:           ProgressConfig{Min: 5, Max: 90, SecondsPerItem: 20},
		CleanupProbability: 0.05,
		CleanupMaxAge:      7 * 24 * time.Hour,
		JobType:            domain.JobTypeMediaAnalysis,
	}
}

// Manager owns the lifecycle of background jobs: it persists records,
// spawns executions, tracks them in the running-job registry and
// finalizes their records.
type Manager struct {
	store    store.JobStore
	results  store.ResultStore
	executor Executor
	emitter  events.EventEmitter
	registry *Registry
	config   ManagerConfig
	logger   *slog.Logger

	// baseCtx outlives the requests that start jobs.
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	random func() float64
	now    func() time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithResultStore enables result persistence and automatic skip-on-resume.
func WithResultStore(results store.ResultStore) ManagerOption {
	return func(m *Manager) { m.results = results }
}

// WithEventEmitter publishes lifecycle events through emitter.
func WithEventEmitter(emitter events.EventEmitter) ManagerOption {
	return func(m *Manager) { m.emitter = emitter }
}

// WithRandom overrides the source used for the cleanup sweep draw.
func WithRandom(random func() float64) ManagerOption {
	return func(m *Manager) { m.random = random }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. One Manager is created per process and
// shared by everything that controls jobs.
func NewManager(
	jobStore store.JobStore,
	executor Executor,
	config ManagerConfig,
	logger *slog.Logger,
	opts ...ManagerOption,
) *Manager {
	if config.JobType == "" {
		config.JobType = domain.JobTypeMediaAnalysis
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:    jobStore,
		executor: executor,
		emitter:  events.NopEmitter{},
		registry: NewRegistry(),
		config:   config,
		logger:   logger.With("component", "job_manager"),
		baseCtx:  ctx,
		stop:     cancel,
		random:   rand.Float64,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry exposes the running-job registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Start persists a pending job for ownerID and starts executing it in the
// background. It returns as soon as the record exists.
func (m *Manager) Start(ctx context.Context, ownerID uuid.UUID, params map[string]any) (uuid.UUID, error) {
	if params == nil {
		return uuid.Nil, domain.MissingParameter("parameters")
	}

	job, err := domain.NewJobRecord(ownerID, m.config.JobType, redact.Params(params))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job: %w", err)
	}

	if _, err := WithRetry(ctx, "create_job", m.config.Retry, func(ctx context.Context) (uuid.UUID, error) {
		return m.store.Create(ctx, job)
	}); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create job: %w", err)
	}

	log := m.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("owner_id", ownerID.String()),
		slog.String("job_type", string(job.JobType)),
	)

	jobCtx, cancel := context.WithCancel(logger.WithLogger(m.baseCtx, log))
	entry := &runningJob{
		ownerID: ownerID,
		token:   NewCancellationToken(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if err := m.registry.register(job.ID, entry); err != nil {
		cancel()
		return uuid.Nil, err
	}

	snapshot := *job
	m.emit(jobCtx, &snapshot)

	run := JobRun{
		Job:      &snapshot,
		Params:   params,
		Token:    entry.token,
		Progress: NewProgressReporter(m.store, job.ID, m.config.Progress, m.config.Retry, log),
		Logger:   log,
	}

	m.wg.Add(1)
	go m.execute(jobCtx, run, entry)

	log.Info("job started")
	return job.ID, nil
}

func (m *Manager) execute(ctx context.Context, run JobRun, entry *runningJob) {
	log := run.Logger
	jobID := run.Job.ID
	defer func() {
		m.registry.remove(jobID)
		entry.cancel()
		close(entry.done)
		m.wg.Done()
	}()

	if entry.token.IsCancelled() {
		m.stopped(ctx, entry, run.Job, nil)
		return
	}

	startedAt := m.now()
	applied, err := m.update(ctx, jobID, domain.JobUpdate{
		Status:    domain.Ptr(domain.JobStatusRunning),
		Message:   domain.Ptr(domain.MessageJobStarted),
		StartedAt: &startedAt,
	})
	if err != nil {
		log.Error("failed to mark job running", slog.String("error", redact.Error(err)))
		m.fail(ctx, run, startedAt, err)
		return
	}
	if !applied {
		log.Info("job reached a terminal state before it started")
		return
	}
	m.emitCurrent(ctx, run.Job, domain.JobStatusRunning, domain.MessageJobStarted, 0)

	run.CompletedItemIDs = m.completedItems(ctx, run)

	var result JobResult
	err = RunWithCancellation(ctx, entry.token, m.config.Race, func(ctx context.Context) error {
		var execErr error
		result, execErr = m.executor.Execute(ctx, run)
		return execErr
	})

	switch {
	case IsCancelled(err) || entry.token.IsCancelled():
		m.stopped(ctx, entry, run.Job, &startedAt)
	case err != nil:
		m.fail(ctx, run, startedAt, err)
	default:
		m.complete(ctx, run, startedAt, result)
	}
}

// completedItems unions caller-supplied ids with ids already stored for the
// same account. Lookup failures only disable the automatic part.
func (m *Manager) completedItems(ctx context.Context, run JobRun) []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, id := range stringSlice(run.Params[domain.ParamCompletedItemIDs]) {
		add(id)
	}

	accountRef, _ := run.Params[domain.ParamAccountRef].(string)
	if m.results == nil || accountRef == "" {
		return ids
	}

	stored, err := WithRetry(ctx, "completed_item_ids", m.config.Retry, func(ctx context.Context) ([]string, error) {
		return m.results.CompletedItemIDs(ctx, run.Job.OwnerID, accountRef)
	})
	if err != nil {
		run.Logger.Warn("failed to load previously completed items", slog.String("error", redact.Error(err)))
		return ids
	}
	for _, id := range stored {
		add(id)
	}
	return ids
}

func (m *Manager) complete(ctx context.Context, run JobRun, startedAt time.Time, result JobResult) {
	log := run.Logger

	if m.results != nil && len(result.Records) > 0 {
		_, err := WithRetry(ctx, "save_results", m.config.Retry, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, m.results.SaveRecords(ctx, run.Job.ID, run.Job.OwnerID, result.Records)
		})
		if err != nil {
			log.Error("failed to save job results", slog.String("error", redact.Error(err)))
			m.fail(ctx, run, startedAt, fmt.Errorf("failed to save results: %w", err))
			return
		}
	}

	completedAt := m.now()
	message := fmt.Sprintf("%s: %d results, %d item errors",
		domain.MessageJobCompleted, len(result.Records), len(result.ItemErrors))
	update := domain.JobUpdate{
		Status:                domain.Ptr(domain.JobStatusCompleted),
		Message:               &message,
		Progress:              domain.Ptr(100),
		CompletedAt:           &completedAt,
		ResultCount:           domain.Ptr(len(result.Records)),
		ItemErrors:            nonNilItemErrors(result.ItemErrors),
		ActualDurationSeconds: domain.Ptr(durationSeconds(startedAt, completedAt)),
	}

	applied, err := m.update(ctx, run.Job.ID, update)
	if err != nil {
		log.Error("failed to mark job completed", slog.String("error", redact.Error(err)))
		return
	}
	if applied {
		log.Info("job completed",
			slog.Int("result_count", len(result.Records)),
			slog.Int("item_errors", len(result.ItemErrors)))
		m.emitCurrent(ctx, run.Job, domain.JobStatusCompleted, message, 100)
	}
}

func (m *Manager) fail(ctx context.Context, run JobRun, startedAt time.Time, cause error) {
	log := run.Logger
	completedAt := m.now()
	errMsg := redact.Secrets(cause.Error())
	message := "Job failed: " + errMsg

	applied, err := m.update(ctx, run.Job.ID, domain.JobUpdate{
		Status:                domain.Ptr(domain.JobStatusFailed),
		Message:               &message,
		ErrorMessage:          &errMsg,
		CompletedAt:           &completedAt,
		ActualDurationSeconds: domain.Ptr(durationSeconds(startedAt, completedAt)),
	})
	if err != nil {
		log.Error("failed to mark job failed", slog.String("error", redact.Error(err)))
		return
	}
	if applied {
		log.Error("job failed", slog.String("error", redact.Error(cause)))
		m.emitCurrent(ctx, run.Job, domain.JobStatusFailed, message, -1)
	}
}

// stopped records a cancellation observed by the execution itself. A Cancel
// call waiting on the job reads entry.cancelled and writes the record itself
// when this write did not land.
func (m *Manager) stopped(ctx context.Context, entry *runningJob, job *domain.JobRecord, startedAt *time.Time) {
	if applied, _ := m.markCancelled(ctx, job, startedAt); applied {
		entry.cancelled.Store(true)
	}
}

// markCancelled writes the cancelled state unless the record is already terminal.
func (m *Manager) markCancelled(ctx context.Context, job *domain.JobRecord, startedAt *time.Time) (bool, error) {
	completedAt := m.now()
	update := domain.JobUpdate{
		Status:      domain.Ptr(domain.JobStatusCancelled),
		Message:     domain.Ptr(domain.MessageJobCancelled),
		CompletedAt: &completedAt,
	}
	if startedAt != nil {
		update.ActualDurationSeconds = domain.Ptr(durationSeconds(*startedAt, completedAt))
	}

	applied, err := m.update(ctx, job.ID, update)
	if err != nil {
		logger.FromContextOrDefault(ctx, m.logger).Error("failed to mark job cancelled",
			slog.String("job_id", job.ID.String()),
			slog.String("error", redact.Error(err)))
		return false, err
	}
	if applied {
		logger.FromContextOrDefault(ctx, m.logger).Info("job cancelled", slog.String("job_id", job.ID.String()))
		m.emitCurrent(ctx, job, domain.JobStatusCancelled, domain.MessageJobCancelled, -1)
	}
	return applied, nil
}

// GetStatus returns the persisted record for id. It never consults the
// registry, so status survives the end of the in-memory execution.
func (m *Manager) GetStatus(ctx context.Context, id, ownerID uuid.UUID) (*domain.JobRecord, error) {
	return WithRetry(ctx, "find_job", m.config.Retry, func(ctx context.Context) (*domain.JobRecord, error) {
		return m.store.Find(ctx, id, ownerID)
	})
}

// ListRecent returns ownerID's newest jobs. With probability
// CleanupProbability it also sweeps old terminal records.
func (m *Manager) ListRecent(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.JobRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	jobs, err := WithRetry(ctx, "list_jobs", m.config.Retry, func(ctx context.Context) ([]*domain.JobRecord, error) {
		return m.store.List(ctx, ownerID, limit)
	})
	if err != nil {
		return nil, err
	}

	if m.config.CleanupProbability > 0 && m.random() < m.config.CleanupProbability {
		if count, err := m.CleanupOld(ctx, m.config.CleanupMaxAge); err != nil {
			logger.FromContextOrDefault(ctx, m.logger).Warn("opportunistic job cleanup failed",
				slog.String("error", redact.Error(err)))
		} else if count > 0 {
			logger.FromContextOrDefault(ctx, m.logger).Info("removed old jobs", slog.Int64("count", count))
		}
	}

	return jobs, nil
}

// Cancel requests cancellation of a job. The token is set first, then the
// running execution is stopped and awaited for at most the grace period.
// The execution writes the cancelled state as it stops; when that write did
// not land, or the execution outlived the grace period, Cancel writes it.
// It returns true only when this request moved the record to the cancelled
// state.
func (m *Manager) Cancel(ctx context.Context, id, ownerID uuid.UUID) (bool, error) {
	if entry, ok := m.registry.get(id); ok && entry.ownerID == ownerID {
		if !entry.requested.CompareAndSwap(false, true) {
			return false, nil
		}
		entry.token.Cancel()
		entry.cancel()

		timer := time.NewTimer(m.config.Race.Grace)
		select {
		case <-entry.done:
			if entry.cancelled.Load() {
				timer.Stop()
				return true, nil
			}
		case <-timer.C:
			logger.FromContextOrDefault(ctx, m.logger).Warn("job still running after cancellation grace period",
				slog.String("job_id", id.String()))
		case <-ctx.Done():
		}
		timer.Stop()
	}

	job, err := m.GetStatus(ctx, id, ownerID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	if job.IsTerminal() {
		return false, nil
	}

	return m.markCancelled(ctx, job, job.StartedAt)
}

// CleanupOld deletes terminal records created more than maxAge ago.
func (m *Manager) CleanupOld(ctx context.Context, maxAge time.Duration) (int64, error) {
	filter := store.JobFilter{
		Statuses:      domain.TerminalStatuses(),
		CreatedBefore: m.now().Add(-maxAge),
	}
	return WithRetry(ctx, "cleanup_jobs", m.config.Retry, func(ctx context.Context) (int64, error) {
		return m.store.DeleteMany(ctx, filter)
	})
}

// Reconcile fails every pending or running record that this process is not
// executing. It runs once at startup, before any job is started.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	jobs, err := WithRetry(ctx, "list_active_jobs", m.config.Retry, func(ctx context.Context) ([]*domain.JobRecord, error) {
		return m.store.ListByStatus(ctx, domain.ActiveStatuses()...)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list active jobs: %w", err)
	}

	log := logger.FromContextOrDefault(ctx, m.logger)
	reconciled := 0
	for _, job := range jobs {
		if m.registry.Contains(job.ID) {
			continue
		}

		completedAt := m.now()
		applied, err := m.update(ctx, job.ID, domain.JobUpdate{
			Status:       domain.Ptr(domain.JobStatusFailed),
			Message:      domain.Ptr(domain.MessageJobInterrupted),
			ErrorMessage: domain.Ptr(domain.MessageJobInterrupted),
			CompletedAt:  &completedAt,
		})
		if err != nil {
			log.Error("failed to reconcile job",
				slog.String("job_id", job.ID.String()),
				slog.String("error", redact.Error(err)))
			continue
		}
		if applied {
			reconciled++
			m.emitCurrent(ctx, job, domain.JobStatusFailed, domain.MessageJobInterrupted, -1)
		}
	}

	log.Info("reconciled interrupted jobs", slog.Int("found", len(jobs)), slog.Int("reconciled", reconciled))
	return reconciled, nil
}

// Shutdown cancels every running job and waits for them to finish their
// teardown, or for ctx to be done.
func (m *Manager) Shutdown(ctx context.Context) error {
	running := m.registry.snapshot()
	for _, entry := range running {
		entry.token.Cancel()
	}
	m.logger.Info("shutting down job manager", slog.Int("running_jobs", len(running)))

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.stop()
		return nil
	case <-ctx.Done():
		m.stop()
		return fmt.Errorf("job manager shutdown: %w", ctx.Err())
	}
}

func (m *Manager) update(ctx context.Context, id uuid.UUID, update domain.JobUpdate) (bool, error) {
	return WithRetry(ctx, "update_job", m.config.Retry, func(ctx context.Context) (bool, error) {
		return m.store.Update(ctx, id, update)
	})
}

func (m *Manager) emit(ctx context.Context, job *domain.JobRecord) {
	if err := m.emitter.EmitEvent(ctx, events.NewJobEvent(job)); err != nil {
		logger.FromContextOrDefault(ctx, m.logger).Warn("failed to emit job event",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
	}
}

// emitCurrent emits an event for job with the given transition applied.
// A negative progress keeps the snapshot's value.
func (m *Manager) emitCurrent(
	ctx context.Context,
	job *domain.JobRecord,
	status domain.JobStatus,
	message string,
	progress int,
) {
	snapshot := *job
	snapshot.Status = status
	snapshot.Message = message
	if progress >= 0 {
		snapshot.Progress = progress
	}
	m.emit(ctx, &snapshot)
}

func durationSeconds(from, to time.Time) int {
	return int(to.Sub(from).Round(time.Second) / time.Second)
}

func nonNilItemErrors(errs []domain.ItemError) []domain.ItemError {
	if errs == nil {
		return []domain.ItemError{}
	}
	return errs
}

// stringSlice reads a list of strings from a decoded parameter value.
func stringSlice(v any) []string {
	switch typed := v.(type) {
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
