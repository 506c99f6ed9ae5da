package websocket

import "time"

// Event types pushed to UI clients.
const (
	TypeVerification    = "verification"
	TypeTranscript      = "transcript"
	TypeAssistantStatus = "assistant_status"
	TypeAmplitude       = "amplitude"
	TypeStreamingPhase  = "streaming_phase"
)

// Event is one outbound push message.
type Event struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType string, payload interface{}) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now().Unix(),
		Payload:   payload,
	}
}

// VerificationPayload mirrors the live verification state.
type VerificationPayload struct {
	Status     string  `json:"status"`
	Confidence float32 `json:"confidence"`
}

// TranscriptPayload is one transcript segment.
type TranscriptPayload struct {
	SessionID string  `json:"session_id"`
	Text      string  `json:"text"`
	Partial   bool    `json:"partial"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Sequence  int64   `json:"sequence"`
}

// AssistantStatusPayload mirrors the conversational session snapshot.
type AssistantStatusPayload struct {
	State     string  `json:"state"`
	Link      string  `json:"link"`
	SessionID string  `json:"session_id,omitempty"`
	Message   string  `json:"message,omitempty"`
	Speaking  bool    `json:"speaking"`
	Listening bool    `json:"listening"`
	VULevel   float32 `json:"vu_level"`
}

// AmplitudePayload is the enrollment recording level.
type AmplitudePayload struct {
	Level float32 `json:"level"`
}

// StreamingPhasePayload is the transcription forwarder phase.
type StreamingPhasePayload struct {
	Phase string `json:"phase"`
}
