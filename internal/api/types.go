package api

import "time"

// ErrorResponse is the shared error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// TokenRequest asks for a client token.
type TokenRequest struct {
	ClientID string `json:"client_id"`
}

// TokenResponse carries an issued token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ClientID  string    `json:"client_id"`
}

// StreamingRequest toggles transcription forwarding.
type StreamingRequest struct {
	Enabled bool `json:"enabled"`
}

// ClipResponse describes one finished enrollment clip.
type ClipResponse struct {
	Index      int     `json:"index"`
	Bytes      int     `json:"bytes"`
	RMS        float64 `json:"rms"`
	DurationMs int64   `json:"duration_ms"`
}

// StatusResponse is the pipeline snapshot.
type StatusResponse struct {
	Capturing      bool               `json:"capturing"`
	Enrolled       bool               `json:"enrolled"`
	Recording      bool               `json:"recording"`
	StreamingPhase string             `json:"streaming_phase"`
	Verification   VerificationStatus `json:"verification"`
	Assistant      AssistantStatus    `json:"assistant"`
}

// VerificationStatus is the latest speaker decision.
type VerificationStatus struct {
	Status     string  `json:"status"`
	Confidence float32 `json:"confidence"`
}

// AssistantStatus is the conversational session snapshot.
type AssistantStatus struct {
	State     string  `json:"state"`
	Link      string  `json:"link"`
	SessionID string  `json:"session_id,omitempty"`
	Speaking  bool    `json:"speaking"`
	Listening bool    `json:"listening"`
	VULevel   float32 `json:"vu_level"`
}
