package entities

import (
	"fmt"
	"time"
)

// VerificationStatus classifies a window against the enrolled speaker.
type VerificationStatus int

const (
	// VerificationUnknown means no authoritative decision was possible,
	// either because nothing has been verified yet or because the engine
	// is running in degraded fallback mode.
	VerificationUnknown VerificationStatus = iota

	// VerificationMatch means the window is attributed to the enrolled speaker.
	VerificationMatch

	// VerificationMismatch means the window is attributed to someone else.
	VerificationMismatch
)

func (s VerificationStatus) String() string {
	switch s {
	case VerificationUnknown:
		return "unknown"
	case VerificationMatch:
		return "match"
	case VerificationMismatch:
		return "mismatch"
	default:
		return fmt.Sprintf("VerificationStatus(%d)", int(s))
	}
}

// VerificationState is the latest speaker verification observation.
// It is published as a single overwritable value: readers always see the
// newest observation, never a queue of them.
type VerificationState struct {
	Status     VerificationStatus
	Confidence float32 // clamped to [0, 1]
	Timestamp  time.Time
}

// SpeakerProfile is the enrolled reference voice: an embedding averaged
// over all enrollment clips. Owned by the verification engine for the
// lifetime of a capture session and cleared on reset.
type SpeakerProfile struct {
	Embedding []float32
	ClipCount int
}
