package pipeline

import (
	"context"

	"github.com/phrazzld/adlens/internal/domain"
)

// SourceLister lists the ads of an account.
type SourceLister interface {
	List(ctx context.Context, creds Credentials) ([]domain.Item, error)
}

// MediaResolver finds the downloadable creative of an item.
type MediaResolver interface {
	Resolve(ctx context.Context, creds Credentials, item domain.Item) (domain.MediaLocator, error)
}

// MediaAcquirer downloads a creative to dest. It reuses a valid file already at dest.
type MediaAcquirer interface {
	Acquire(ctx context.Context, locator domain.MediaLocator, dest string) (domain.MediaHandle, error)
}

// Transcriber produces the spoken text of a video.
type Transcriber interface {
	Transcribe(ctx context.Context, media domain.MediaHandle) (domain.Transcript, error)
}

// FrameExtractor extracts up to maxFrames stills. It reuses frames already extracted.
type FrameExtractor interface {
	Extract(ctx context.Context, media domain.MediaHandle, maxFrames int) (domain.FrameSet, error)
}

// TextAnalyzer reads a transcript.
type TextAnalyzer interface {
	Analyze(ctx context.Context, transcript domain.Transcript) (domain.TranscriptAnalysis, error)
}

// VisualAnalyzer reads a set of frames.
type VisualAnalyzer interface {
	Analyze(ctx context.Context, frames domain.FrameSet) (domain.FrameAnalysis, error)
}

// Synthesizer combines the analyses of one item. Either analysis may be nil.
type Synthesizer interface {
	Combine(
		ctx context.Context,
		item domain.Item,
		text *domain.TranscriptAnalysis,
		visual *domain.FrameAnalysis,
	) (domain.FinalRecord, error)
}

// Collaborators bundles the external services the pipeline calls.
type Collaborators struct {
	Lister      SourceLister
	Resolver    MediaResolver
	Acquirer    MediaAcquirer
	Transcriber Transcriber
	Extractor   FrameExtractor
	Text        TextAnalyzer
	Visual      VisualAnalyzer
	Synthesizer Synthesizer
}
