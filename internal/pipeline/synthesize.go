package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/phrazzld/adlens/internal/domain"
)

// DefaultSynthesizer merges analyses without calling any external service.
type DefaultSynthesizer struct {
	now func() time.Time
}

// NewDefaultSynthesizer returns a DefaultSynthesizer.
func NewDefaultSynthesizer() *DefaultSynthesizer {
	return &DefaultSynthesizer{now: func() time.Time { return time.Now().UTC() }}
}

// Combine implements Synthesizer.
func (s *DefaultSynthesizer) Combine(
	ctx context.Context,
	item domain.Item,
	text *domain.TranscriptAnalysis,
	visual *domain.FrameAnalysis,
) (domain.FinalRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.FinalRecord{}, err
	}

	var parts []string
	if text != nil && text.Summary != "" {
		parts = append(parts, text.Summary)
	}
	if visual != nil && visual.Summary != "" {
		parts = append(parts, visual.Summary)
	}
	if text != nil && text.CallToAction != "" {
		parts = append(parts, "Call to action: "+text.CallToAction+".")
	}

	return domain.FinalRecord{
		ItemID:             item.ID,
		AccountRef:         item.AccountRef,
		Name:               item.Name,
		TranscriptAnalysis: text,
		FrameAnalysis:      visual,
		Summary:            strings.Join(parts, " "),
		CreatedAt:          s.now(),
	}, nil
}
