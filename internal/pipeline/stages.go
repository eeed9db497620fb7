package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/platform/logger"
	"github.com/phrazzld/adlens/internal/redact"
)

// Progress span of each stage, in percent of the whole run.
var stageSpan = map[StageID][2]int{
	StageFetchSource:       {0, 10},
	StageResolveMedia:      {10, 20},
	StageAcquire:           {20, 40},
	StageTranscribe:        {40, 60},
	StageExtractFrames:     {40, 60},
	StageAnalyzeTranscript: {60, 85},
	StageAnalyzeFrames:     {60, 85},
	StageSynthesize:        {85, 100},
}

var stageMessages = map[StageID]string{
	StageFetchSource:       "Listing ads",
	StageResolveMedia:      "Resolving creatives",
	StageAcquire:           "Downloading creatives",
	StageTranscribe:        "Transcribing videos",
	StageExtractFrames:     "Extracting frames",
	StageAnalyzeTranscript: "Analyzing transcripts",
	StageAnalyzeFrames:     "Analyzing visuals",
	StageSynthesize:        "Combining analyses",
}

func cancelledMarker(stage StageID) domain.ItemError {
	return domain.ItemError{Stage: stage.String(), Message: "cancelled", Cancelled: true}
}

func isCancellation(ctx context.Context, state *State, err error) bool {
	if errors.Is(err, ErrCancelled) {
		return true
	}
	return (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) &&
		(state.Cancelled() || ctx.Err() != nil)
}

// forEachItem runs fn for every id in ids. The token is checked before and
// after each item; a positive check appends a cancellation marker and stops.
// An item error is recorded and the loop continues with the next item.
func forEachItem(
	ctx context.Context,
	state *State,
	stage StageID,
	ids []string,
	u *Update,
	fn func(ctx context.Context, i int) error,
) {
	log := logger.FromContext(ctx)
	span := stageSpan[stage]
	total := len(ids)

	for i, itemID := range ids {
		if state.Cancelled() || ctx.Err() != nil {
			u.Errors = append(u.Errors, cancelledMarker(stage))
			return
		}
		if state.IsCompleted(itemID) {
			continue
		}

		itemCtx := logger.WithLogger(ctx, log.With(slog.String("item_id", itemID)))
		if err := fn(itemCtx, i); err != nil {
			if isCancellation(ctx, state, err) {
				u.Errors = append(u.Errors, cancelledMarker(stage))
				return
			}
			log.Warn("item failed",
				slog.String("item_id", itemID),
				slog.String("error", redact.Error(err)))
			u.Errors = append(u.Errors, domain.ItemError{
				Stage:   stage.String(),
				ItemID:  itemID,
				Message: redact.Secrets(err.Error()),
			})
		}

		if state.Cancelled() {
			u.Errors = append(u.Errors, cancelledMarker(stage))
			return
		}

		done := i + 1
		percent := span[0] + (span[1]-span[0])*done/total
		state.Progress.Report(ctx, percent, fmt.Sprintf("%s (%d/%d)", stageMessages[stage], done, total))
	}
}

func (e *Engine) fetchSource(ctx context.Context, state *State) (Update, error) {
	var u Update
	creds := state.Credentials
	if creds.AccountRef == "" {
		return u, domain.MissingParameter(domain.ParamAccountRef)
	}
	if creds.AccessToken == "" {
		return u, domain.MissingParameter(domain.ParamAccessToken)
	}
	if state.Cancelled() {
		u.Errors = append(u.Errors, cancelledMarker(StageFetchSource))
		return u, nil
	}

	state.Progress.Report(ctx, stageSpan[StageFetchSource][0], stageMessages[StageFetchSource])
	items, err := e.collab.Lister.List(ctx, creds)
	if err != nil {
		if isCancellation(ctx, state, err) {
			u.Errors = append(u.Errors, cancelledMarker(StageFetchSource))
			return u, nil
		}
		return u, fmt.Errorf("list source items: %w", err)
	}
	if len(items) == 0 {
		return u, domain.ErrNoItems
	}

	skipped := 0
	for _, item := range items {
		if state.IsCompleted(item.ID) {
			skipped++
			continue
		}
		if item.AccountRef == "" {
			item.AccountRef = creds.AccountRef
		}
		u.Items = append(u.Items, item)
	}

	logger.FromContext(ctx).Info("listed source items",
		slog.Int("listed", len(items)),
		slog.Int("skipped_completed", skipped))
	state.Progress.ItemsListed(ctx, len(u.Items))
	state.Progress.Report(ctx, stageSpan[StageFetchSource][1],
		fmt.Sprintf("Found %d ads (%d already analyzed)", len(u.Items), skipped))

	if state.Cancelled() {
		u.Errors = append(u.Errors, cancelledMarker(StageFetchSource))
	}
	return u, nil
}

func (e *Engine) resolveMedia(ctx context.Context, state *State) (Update, error) {
	var u Update
	ids := make([]string, len(state.Items))
	for i, item := range state.Items {
		ids[i] = item.ID
	}

	forEachItem(ctx, state, StageResolveMedia, ids, &u, func(ctx context.Context, i int) error {
		locator, err := e.collab.Resolver.Resolve(ctx, state.Credentials, state.Items[i])
		if err != nil {
			return err
		}
		if locator.ItemID == "" {
			locator.ItemID = state.Items[i].ID
		}
		u.ResolvedMedia = append(u.ResolvedMedia, locator)
		return nil
	})
	return u, nil
}

func (e *Engine) acquire(ctx context.Context, state *State) (Update, error) {
	var u Update
	ids := make([]string, len(state.ResolvedMedia))
	for i, locator := range state.ResolvedMedia {
		ids[i] = locator.ItemID
	}

	forEachItem(ctx, state, StageAcquire, ids, &u, func(ctx context.Context, i int) error {
		locator := state.ResolvedMedia[i]
		handle, err := e.collab.Acquirer.Acquire(ctx, locator, e.mediaDir(state, locator.ItemID))
		if err != nil {
			return err
		}
		u.AcquiredMedia = append(u.AcquiredMedia, handle)
		return nil
	})
	return u, nil
}

func (e *Engine) transcribe(ctx context.Context, state *State) (Update, error) {
	var u Update
	var videos []domain.MediaHandle
	for _, handle := range state.AcquiredMedia {
		if handle.MediaType == domain.MediaTypeVideo {
			videos = append(videos, handle)
		}
	}
	ids := make([]string, len(videos))
	for i, handle := range videos {
		ids[i] = handle.ItemID
	}

	forEachItem(ctx, state, StageTranscribe, ids, &u, func(ctx context.Context, i int) error {
		transcript, err := e.collab.Transcriber.Transcribe(ctx, videos[i])
		if err != nil {
			return err
		}
		transcript.ItemID = videos[i].ItemID
		u.Transcripts = append(u.Transcripts, transcript)
		return nil
	})
	return u, nil
}

func (e *Engine) extractFrames(ctx context.Context, state *State) (Update, error) {
	var u Update
	ids := make([]string, len(state.AcquiredMedia))
	for i, handle := range state.AcquiredMedia {
		ids[i] = handle.ItemID
	}

	forEachItem(ctx, state, StageExtractFrames, ids, &u, func(ctx context.Context, i int) error {
		frames, err := e.collab.Extractor.Extract(ctx, state.AcquiredMedia[i], e.config.MaxFrames)
		if err != nil {
			return err
		}
		if len(frames.Frames) == 0 {
			return errors.New("no frames extracted")
		}
		frames.ItemID = state.AcquiredMedia[i].ItemID
		u.FrameSets = append(u.FrameSets, frames)
		return nil
	})
	return u, nil
}

func (e *Engine) analyzeTranscript(ctx context.Context, state *State) (Update, error) {
	var u Update
	ids := make([]string, len(state.Transcripts))
	for i, transcript := range state.Transcripts {
		ids[i] = transcript.ItemID
	}

	forEachItem(ctx, state, StageAnalyzeTranscript, ids, &u, func(ctx context.Context, i int) error {
		transcript := state.Transcripts[i]

		var analysis domain.TranscriptAnalysis
		switch class := ClassifyTranscript(transcript); class {
		case TranscriptSpeech:
			result, err := e.collab.Text.Analyze(ctx, transcript)
			if err != nil {
				return err
			}
			analysis = result
			analysis.Class = class.String()
		case TranscriptMusicOnly, TranscriptSilent:
			analysis = noSpeechAnalysis(transcript.ItemID, class)
		default:
			return fmt.Errorf("unknown transcript class %d", class)
		}

		analysis.ItemID = transcript.ItemID
		u.TranscriptAnalyses = append(u.TranscriptAnalyses, analysis)
		return nil
	})
	return u, nil
}

func (e *Engine) analyzeFrames(ctx context.Context, state *State) (Update, error) {
	var u Update
	ids := make([]string, len(state.FrameSets))
	for i, frames := range state.FrameSets {
		ids[i] = frames.ItemID
	}

	forEachItem(ctx, state, StageAnalyzeFrames, ids, &u, func(ctx context.Context, i int) error {
		analysis, err := e.collab.Visual.Analyze(ctx, state.FrameSets[i])
		if err != nil {
			return err
		}
		analysis.ItemID = state.FrameSets[i].ItemID
		u.FrameAnalyses = append(u.FrameAnalyses, analysis)
		return nil
	})
	return u, nil
}

func (e *Engine) synthesize(ctx context.Context, state *State) (Update, error) {
	var u Update

	texts := make(map[string]*domain.TranscriptAnalysis, len(state.TranscriptAnalyses))
	for i := range state.TranscriptAnalyses {
		texts[state.TranscriptAnalyses[i].ItemID] = &state.TranscriptAnalyses[i]
	}
	visuals := make(map[string]*domain.FrameAnalysis, len(state.FrameAnalyses))
	for i := range state.FrameAnalyses {
		visuals[state.FrameAnalyses[i].ItemID] = &state.FrameAnalyses[i]
	}

	// Only items with at least one analysis are combined; the others
	// already have an error entry from the stage that dropped them.
	var items []domain.Item
	for _, item := range state.Items {
		if texts[item.ID] != nil || visuals[item.ID] != nil {
			items = append(items, item)
		}
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}

	forEachItem(ctx, state, StageSynthesize, ids, &u, func(ctx context.Context, i int) error {
		item := items[i]
		record, err := e.collab.Synthesizer.Combine(ctx, item, texts[item.ID], visuals[item.ID])
		if err != nil {
			return err
		}
		record.ItemID = item.ID
		if record.AccountRef == "" {
			record.AccountRef = state.Credentials.AccountRef
		}
		u.FinalRecords = append(u.FinalRecords, record)
		return nil
	})
	return u, nil
}
