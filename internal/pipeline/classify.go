package pipeline

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/phrazzld/adlens/internal/domain"
)

// TranscriptClass is the outcome of classifying a transcript.
type TranscriptClass int

// Transcript classes.
const (
	TranscriptSpeech TranscriptClass = iota
	TranscriptMusicOnly
	TranscriptSilent
)

// String returns the class name stored on analyses.
func (c TranscriptClass) String() string {
	switch c {
	case TranscriptSpeech:
		return "speech"
	case TranscriptMusicOnly:
		return "music_only"
	case TranscriptSilent:
		return "silent"
	default:
		return "unknown"
	}
}

// nonSpeechMarker matches annotations transcribers emit for non-verbal audio.
var nonSpeechMarker = regexp.MustCompile(
	`(?i)\[(?:music|instrumental|applause|sound effects?|sfx|no speech|silence)[^\]]*\]` +
		`|\((?:music|instrumental|applause|sound effects?|no speech|silence)[^)]*\)` +
		`|[♪♫♬]`)

var musicMarker = regexp.MustCompile(`(?i)music|instrumental|[♪♫♬]`)

// minSpeechLetters is the least amount of text treated as speech.
const minSpeechLetters = 3

// ClassifyTranscript decides how a transcript is analyzed.
func ClassifyTranscript(t domain.Transcript) TranscriptClass {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return TranscriptSilent
	}

	spoken := nonSpeechMarker.ReplaceAllString(text, " ")
	letters := 0
	for _, r := range spoken {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if letters >= minSpeechLetters {
		return TranscriptSpeech
	}

	if musicMarker.MatchString(text) {
		return TranscriptMusicOnly
	}
	return TranscriptSilent
}

// noSpeechAnalysis stands in for text analysis when there is nothing to read,
// so the item still pairs up during synthesis.
func noSpeechAnalysis(itemID string, class TranscriptClass) domain.TranscriptAnalysis {
	summary := "No spoken content."
	if class == TranscriptMusicOnly {
		summary = "No spoken content; audio is music only."
	}
	return domain.TranscriptAnalysis{
		ItemID:  itemID,
		Class:   class.String(),
		Summary: summary,
	}
}
