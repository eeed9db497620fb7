package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/task"
)

// Reporter receives progress from the pipeline.
// *task.ProgressReporter satisfies it.
type Reporter interface {
	Report(ctx context.Context, percent int, message string)
	ItemsListed(ctx context.Context, count int)
}

type nopReporter struct{}

func (nopReporter) Report(context.Context, int, string) {}
func (nopReporter) ItemsListed(context.Context, int)    {}

// Credentials identify the ad account a run analyzes.
type Credentials struct {
	AccountRef  string
	AccessToken string
}

// State is the working state of one pipeline run. The input fields are set
// once; the list fields only ever grow through Merge.
type State struct {
	OwnerID     uuid.UUID
	Credentials Credentials
	// Completed holds ids of items finished by an earlier run.
	Completed map[string]struct{}

	Items              []domain.Item
	ResolvedMedia      []domain.MediaLocator
	AcquiredMedia      []domain.MediaHandle
	Transcripts        []domain.Transcript
	FrameSets          []domain.FrameSet
	TranscriptAnalyses []domain.TranscriptAnalysis
	FrameAnalyses      []domain.FrameAnalysis
	FinalRecords       []domain.FinalRecord
	Errors             []domain.ItemError

	Token    *task.CancellationToken
	Progress Reporter
}

// NewState returns a state ready to run.
func NewState(
	ownerID uuid.UUID,
	creds Credentials,
	completed []string,
	token *task.CancellationToken,
	progress Reporter,
) *State {
	set := make(map[string]struct{}, len(completed))
	for _, id := range completed {
		set[id] = struct{}{}
	}
	if token == nil {
		token = task.NewCancellationToken()
	}
	if progress == nil {
		progress = nopReporter{}
	}
	return &State{
		OwnerID:     ownerID,
		Credentials: creds,
		Completed:   set,
		Token:       token,
		Progress:    progress,
	}
}

// IsCompleted reports whether itemID was finished by an earlier run.
func (s *State) IsCompleted(itemID string) bool {
	_, ok := s.Completed[itemID]
	return ok
}

// Cancelled reports whether the run has been asked to stop.
func (s *State) Cancelled() bool {
	return s.Token.IsCancelled()
}

// Update is the output of one stage.
type Update struct {
	Items              []domain.Item
	ResolvedMedia      []domain.MediaLocator
	AcquiredMedia      []domain.MediaHandle
	Transcripts        []domain.Transcript
	FrameSets          []domain.FrameSet
	TranscriptAnalyses []domain.TranscriptAnalysis
	FrameAnalyses      []domain.FrameAnalysis
	FinalRecords       []domain.FinalRecord
	Errors             []domain.ItemError
}

// Merge appends every list in u to the state. Nothing is ever replaced.
func (s *State) Merge(u Update) {
	s.Items = append(s.Items, u.Items...)
	s.ResolvedMedia = append(s.ResolvedMedia, u.ResolvedMedia...)
	s.AcquiredMedia = append(s.AcquiredMedia, u.AcquiredMedia...)
	s.Transcripts = append(s.Transcripts, u.Transcripts...)
	s.FrameSets = append(s.FrameSets, u.FrameSets...)
	s.TranscriptAnalyses = append(s.TranscriptAnalyses, u.TranscriptAnalyses...)
	s.FrameAnalyses = append(s.FrameAnalyses, u.FrameAnalyses...)
	s.FinalRecords = append(s.FinalRecords, u.FinalRecords...)
	s.Errors = append(s.Errors, u.Errors...)
}

// ItemErrors returns the per-item failures, excluding cancellation markers.
func (s *State) ItemErrors() []domain.ItemError {
	var out []domain.ItemError
	for _, e := range s.Errors {
		if !e.Cancelled {
			out = append(out, e)
		}
	}
	return out
}
