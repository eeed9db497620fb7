package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/platform/logger"
	"github.com/phrazzld/adlens/internal/task"
	"golang.org/x/sync/errgroup"
)

// ErrCancelled is returned when a run stops because its token was set.
// It is the same value as task.ErrCancelled so collaborators can return either.
var ErrCancelled = task.ErrCancelled

// Config tunes the engine.
type Config struct {
	// WorkDir is where creatives are acquired, one directory per owner.
	WorkDir string
	// MaxFrames caps the frames extracted per item.
	MaxFrames int
	// ConcurrentBranches runs stages of the same DAG level in parallel.
	ConcurrentBranches bool
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{WorkDir: "./data/media", MaxFrames: 6, ConcurrentBranches: true}
}

type stageFunc func(ctx context.Context, s *State) (Update, error)

// Engine executes the pipeline DAG.
type Engine struct {
	collab Collaborators
	config Config
	logger *slog.Logger
	levels [][]StageID
	stages map[StageID]stageFunc
}

// NewEngine creates an engine. Missing collaborators are reported as errors
// here rather than at run time.
func NewEngine(collab Collaborators, config Config, logger *slog.Logger) (*Engine, error) {
	if collab.Synthesizer == nil {
		collab.Synthesizer = NewDefaultSynthesizer()
	}
	if err := validateCollaborators(collab); err != nil {
		return nil, err
	}
	if config.MaxFrames <= 0 {
		config.MaxFrames = DefaultConfig().MaxFrames
	}

	levels, err := Levels(Dependencies)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		collab: collab,
		config: config,
		logger: logger.With("component", "pipeline"),
		levels: levels,
	}
	e.stages = map[StageID]stageFunc{
		StageFetchSource:       e.fetchSource,
		StageResolveMedia:      e.resolveMedia,
		StageAcquire:           e.acquire,
		StageTranscribe:        e.transcribe,
		StageExtractFrames:     e.extractFrames,
		StageAnalyzeTranscript: e.analyzeTranscript,
		StageAnalyzeFrames:     e.analyzeFrames,
		StageSynthesize:        e.synthesize,
	}
	return e, nil
}

// validateCollaborators reports every missing collaborator in stage order.
func validateCollaborators(c Collaborators) error {
	required := []struct {
		name    string
		missing bool
	}{
		{"source lister", c.Lister == nil},
		{"media resolver", c.Resolver == nil},
		{"media acquirer", c.Acquirer == nil},
		{"transcriber", c.Transcriber == nil},
		{"frame extractor", c.Extractor == nil},
		{"text analyzer", c.Text == nil},
		{"visual analyzer", c.Visual == nil},
	}

	var missing []string
	for _, r := range required {
		if r.missing {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrFatalConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// Execute implements task.Executor.
func (e *Engine) Execute(ctx context.Context, run task.JobRun) (task.JobResult, error) {
	accountRef, _ := run.Params[domain.ParamAccountRef].(string)
	accessToken, _ := run.Params[domain.ParamAccessToken].(string)

	var progress Reporter = nopReporter{}
	if run.Progress != nil {
		progress = run.Progress
	}
	if run.Logger != nil {
		ctx = logger.WithLogger(ctx, run.Logger)
	}

	state := NewState(
		run.Job.OwnerID,
		Credentials{AccountRef: accountRef, AccessToken: accessToken},
		run.CompletedItemIDs,
		run.Token,
		progress,
	)

	if err := e.Run(ctx, state); err != nil {
		return task.JobResult{}, err
	}

	return task.JobResult{
		Records:    state.FinalRecords,
		ItemErrors: state.ItemErrors(),
	}, nil
}

// Run drives state through every stage. It returns ErrCancelled when the
// token is set, and any structural error that makes the run impossible.
// Per-item failures are recorded in state.Errors instead.
func (e *Engine) Run(ctx context.Context, state *State) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-state.Token.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	log := logger.FromContextOrDefault(ctx, e.logger)
	for _, level := range e.levels {
		if state.Cancelled() {
			return ErrCancelled
		}

		updates, err := e.runLevel(ctx, state, level)
		for _, u := range updates {
			state.Merge(u)
		}
		if err != nil {
			if state.Cancelled() || errors.Is(err, ErrCancelled) {
				return ErrCancelled
			}
			return err
		}
	}

	if state.Cancelled() {
		return ErrCancelled
	}

	log.Info("pipeline finished",
		slog.Int("items", len(state.Items)),
		slog.Int("records", len(state.FinalRecords)),
		slog.Int("item_errors", len(state.ItemErrors())))
	return nil
}

// runLevel runs the stages of one DAG level and returns their updates in
// stage order. Stages only read state; merging happens afterwards.
func (e *Engine) runLevel(ctx context.Context, state *State, level []StageID) ([]Update, error) {
	updates := make([]Update, len(level))

	if len(level) == 1 || !e.config.ConcurrentBranches {
		for i, id := range level {
			u, err := e.runStage(ctx, state, id)
			updates[i] = u
			if err != nil {
				return updates[:i+1], err
			}
		}
		return updates, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range level {
		g.Go(func() error {
			u, err := e.runStage(gctx, state, id)
			updates[i] = u
			return err
		})
	}
	err := g.Wait()
	return updates, err
}

func (e *Engine) runStage(ctx context.Context, state *State, id StageID) (Update, error) {
	log := logger.FromContextOrDefault(ctx, e.logger).With(slog.String("stage", id.String()))
	ctx = logger.WithLogger(ctx, log)

	log.Debug("stage started")
	u, err := e.stages[id](ctx, state)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			log.Info("stage stopped by cancellation")
		} else {
			log.Error("stage failed", slog.String("error", err.Error()))
		}
		return u, fmt.Errorf("%s: %w", id, err)
	}
	log.Debug("stage finished", slog.Int("errors", len(u.Errors)))
	return u, nil
}

// mediaDir is where an item's creative and frames live.
func (e *Engine) mediaDir(state *State, itemID string) string {
	return filepath.Join(e.config.WorkDir, state.OwnerID.String(), filepath.Base(itemID))
}
