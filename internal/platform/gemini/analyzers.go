package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/phrazzld/adlens/internal/domain"
	"github.com/phrazzld/adlens/internal/pipeline"
	"google.golang.org/genai"
)

type transcriptResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

type transcriptAnalysisResponse struct {
	Hook         string   `json:"hook"`
	KeyMessages  []string `json:"key_messages"`
	CallToAction string   `json:"call_to_action"`
	Tone         string   `json:"tone"`
	Summary      string   `json:"summary"`
}

type frameAnalysisResponse struct {
	Scenes       []string `json:"scenes"`
	OnScreenText []string `json:"on_screen_text"`
	Branding     string   `json:"branding"`
	Summary      string   `json:"summary"`
}

// Transcriber implements pipeline.Transcriber by uploading the video inline.
type Transcriber struct {
	client *Client
}

// TextAnalyzer implements pipeline.TextAnalyzer.
type TextAnalyzer struct {
	client *Client
}

// VisualAnalyzer implements pipeline.VisualAnalyzer by sending every frame as an image part.
type VisualAnalyzer struct {
	client *Client
}

var (
	_ pipeline.Transcriber    = (*Transcriber)(nil)
	_ pipeline.TextAnalyzer   = (*TextAnalyzer)(nil)
	_ pipeline.VisualAnalyzer = (*VisualAnalyzer)(nil)
)

// NewTranscriber returns a Transcriber using client.
func NewTranscriber(client *Client) *Transcriber {
	return &Transcriber{client: client}
}

// NewTextAnalyzer returns a TextAnalyzer using client.
func NewTextAnalyzer(client *Client) *TextAnalyzer {
	return &TextAnalyzer{client: client}
}

// NewVisualAnalyzer returns a VisualAnalyzer using client.
func NewVisualAnalyzer(client *Client) *VisualAnalyzer {
	return &VisualAnalyzer{client: client}
}

// Transcribe implements pipeline.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, media domain.MediaHandle) (domain.Transcript, error) {
	part, size, err := t.client.inlinePart(media.Path, "video/mp4")
	if err != nil {
		return domain.Transcript{}, err
	}

	t.client.logger.DebugContext(ctx, "transcribing media",
		"item_id", media.ItemID,
		"size_bytes", size)

	var out transcriptResponse
	if err := t.client.generate(ctx, "transcribe.tmpl", nil, []*genai.Part{part}, &out); err != nil {
		return domain.Transcript{}, fmt.Errorf("transcribe: %w", err)
	}

	return domain.Transcript{
		ItemID:   media.ItemID,
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
	}, nil
}

// Analyze implements pipeline.TextAnalyzer.
func (a *TextAnalyzer) Analyze(
	ctx context.Context,
	transcript domain.Transcript,
) (domain.TranscriptAnalysis, error) {
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		return domain.TranscriptAnalysis{}, fmt.Errorf("%w: transcript for %s", ErrEmptyInput, transcript.ItemID)
	}

	var out transcriptAnalysisResponse
	data := struct{ Text string }{Text: text}
	if err := a.client.generate(ctx, "analyze_transcript.tmpl", data, nil, &out); err != nil {
		return domain.TranscriptAnalysis{}, fmt.Errorf("analyze transcript: %w", err)
	}
	if out.Summary == "" {
		return domain.TranscriptAnalysis{}, fmt.Errorf("%w: transcript analysis has no summary", ErrInvalidResponse)
	}

	return domain.TranscriptAnalysis{
		ItemID:       transcript.ItemID,
		Class:        pipeline.TranscriptSpeech.String(),
		Hook:         out.Hook,
		KeyMessages:  out.KeyMessages,
		CallToAction: out.CallToAction,
		Tone:         out.Tone,
		Summary:      out.Summary,
	}, nil
}

// Analyze implements pipeline.VisualAnalyzer.
func (a *VisualAnalyzer) Analyze(ctx context.Context, frames domain.FrameSet) (domain.FrameAnalysis, error) {
	if len(frames.Frames) == 0 {
		return domain.FrameAnalysis{}, fmt.Errorf("%w: no frames for %s", ErrEmptyInput, frames.ItemID)
	}

	parts := make([]*genai.Part, 0, len(frames.Frames))
	total := 0
	for _, frame := range frames.Frames {
		part, size, err := a.client.inlinePart(frame.Path, "image/jpeg")
		if err != nil {
			return domain.FrameAnalysis{}, err
		}
		total += size
		if total > maxInlineBytes {
			return domain.FrameAnalysis{}, fmt.Errorf("%w: %d frames", ErrMediaTooLarge, len(frames.Frames))
		}
		parts = append(parts, part)
	}

	var out frameAnalysisResponse
	data := struct{ Count int }{Count: len(parts)}
	if err := a.client.generate(ctx, "analyze_frames.tmpl", data, parts, &out); err != nil {
		return domain.FrameAnalysis{}, fmt.Errorf("analyze frames: %w", err)
	}
	if out.Summary == "" {
		return domain.FrameAnalysis{}, fmt.Errorf("%w: frame analysis has no summary", ErrInvalidResponse)
	}

	return domain.FrameAnalysis{
		ItemID:       frames.ItemID,
		Scenes:       out.Scenes,
		OnScreenText: out.OnScreenText,
		Branding:     out.Branding,
		Summary:      out.Summary,
	}, nil
}
