package entities

import "time"

// TranscriptItemType distinguishes recognized words from punctuation.
type TranscriptItemType int

const (
	ItemUnknown TranscriptItemType = iota
	ItemPronunciation
	ItemPunctuation
)

func (t TranscriptItemType) String() string {
	switch t {
	case ItemPronunciation:
		return "pronunciation"
	case ItemPunctuation:
		return "punctuation"
	default:
		return "unknown"
	}
}

// TranscriptItem is a single token within a transcript segment.
type TranscriptItem struct {
	Content   string
	StartTime float64 // seconds from session start
	EndTime   float64
	Type      TranscriptItemType
}

// TranscriptResult is one transcript segment emitted by the transcription
// service. Results are immutable once emitted; partial results may be
// superseded by later results covering the same audio.
type TranscriptResult struct {
	SessionID  string
	Text       string
	Partial    bool
	StartTime  float64
	EndTime    float64
	ResultID   string
	Items      []TranscriptItem
	Sequence   int64
	ReceivedAt time.Time
}
