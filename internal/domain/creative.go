package domain

import "time"

// MediaType distinguishes the kind of creative attached to an ad.
type MediaType string

// Supported media types
const (
	MediaTypeVideo MediaType = "video"
	MediaTypeImage MediaType = "image"
)

// Item is one ad listed from the ad source for an account.
type Item struct {
	ID          string            `json:"id"`
	AccountRef  string            `json:"account_ref"`
	Name        string            `json:"name"`
	Body        string            `json:"body,omitempty"`
	SnapshotURL string            `json:"snapshot_url,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// MediaLocator points at the downloadable creative of an Item.
type MediaLocator struct {
	ItemID    string    `json:"item_id"`
	URL       string    `json:"url"`
	MediaType MediaType `json:"media_type"`
}

// MediaHandle is a creative that has been acquired to local storage.
type MediaHandle struct {
	ItemID    string    `json:"item_id"`
	Path      string    `json:"path"`
	MediaType MediaType `json:"media_type"`
	SizeBytes int64     `json:"size_bytes"`
	Reused    bool      `json:"reused,omitempty"`
}

// Transcript is the spoken text of a video creative.
type Transcript struct {
	ItemID   string `json:"item_id"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// Frame is a still extracted from a creative.
type Frame struct {
	ItemID           string  `json:"item_id"`
	Index            int     `json:"index"`
	Path             string  `json:"path"`
	TimestampSeconds float64 `json:"timestamp_seconds"`
}

// FrameSet groups the frames extracted for one item.
type FrameSet struct {
	ItemID string  `json:"item_id"`
	Frames []Frame `json:"frames"`
	Reused bool    `json:"reused,omitempty"`
}

// TranscriptAnalysis is the structured reading of a transcript.
type TranscriptAnalysis struct {
	ItemID       string   `json:"item_id"`
	Class        string   `json:"class"`
	Hook         string   `json:"hook,omitempty"`
	KeyMessages  []string `json:"key_messages,omitempty"`
	CallToAction string   `json:"call_to_action,omitempty"`
	Tone         string   `json:"tone,omitempty"`
	Summary      string   `json:"summary"`
}

// FrameAnalysis is the structured reading of a creative's frames.
type FrameAnalysis struct {
	ItemID       string   `json:"item_id"`
	Scenes       []string `json:"scenes,omitempty"`
	OnScreenText []string `json:"on_screen_text,omitempty"`
	Branding     string   `json:"branding,omitempty"`
	Summary      string   `json:"summary"`
}

// FinalRecord combines the text and visual analyses of one item.
type FinalRecord struct {
	ItemID             string              `json:"item_id"`
	AccountRef         string              `json:"account_ref"`
	Name               string              `json:"name,omitempty"`
	TranscriptAnalysis *TranscriptAnalysis `json:"transcript_analysis,omitempty"`
	FrameAnalysis      *FrameAnalysis      `json:"frame_analysis,omitempty"`
	Summary            string              `json:"summary"`
	CreatedAt          time.Time           `json:"created_at"`
}
