// Package assist runs the bidirectional conversational session: audio
// up, synthesized speech and text down, over a JSON envelope protocol.
package assist

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Envelope event names.
const (
	EventSessionStart     = "sessionStart"
	EventAudioInput       = "audioInput"
	EventSessionHeartbeat = "sessionHeartbeat"
	EventSessionEnd       = "sessionEnd"
	EventTextOutput       = "textOutput"
	EventAudioOutput      = "audioOutput"
	EventContentEnd       = "contentEnd"
)

// Session end reasons.
const (
	ReasonTimeout   = "timeout"
	ReasonRemoteEnd = "remote_end"
	ReasonUserEnd   = "user_end"
)

// Envelope is one protocol message. Exactly one payload field is set,
// keyed by Event.
type Envelope struct {
	Event string `json:"event"`

	SessionStart     *SessionStartEvent     `json:"sessionStart,omitempty"`
	AudioInput       *AudioInputEvent       `json:"audioInput,omitempty"`
	SessionHeartbeat *SessionHeartbeatEvent `json:"sessionHeartbeat,omitempty"`
	SessionEnd       *SessionEndEvent       `json:"sessionEnd,omitempty"`
	TextOutput       *TextOutputEvent       `json:"textOutput,omitempty"`
	AudioOutput      *AudioOutputEvent      `json:"audioOutput,omitempty"`
	ContentEnd       *ContentEndEvent       `json:"contentEnd,omitempty"`
}

// InferenceConfiguration bounds the remote model's generation.
type InferenceConfiguration struct {
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"topP"`
}

// SessionStartEvent opens a conversation.
type SessionStartEvent struct {
	SessionID              string                 `json:"sessionId"`
	SystemPrompt           string                 `json:"systemPrompt,omitempty"`
	InferenceConfiguration InferenceConfiguration `json:"inferenceConfiguration"`
	Metadata               map[string]string      `json:"metadata,omitempty"`
}

// AudioFormat describes a PCM payload.
type AudioFormat struct {
	Type         string `json:"type"`
	SampleRateHz int    `json:"sampleRateHz"`
	Channels     int    `json:"channels"`
}

// AudioPayload carries base64 PCM with its format.
type AudioPayload struct {
	AudioFormat AudioFormat `json:"audioFormat"`
	Content     string      `json:"content"`
}

// AudioInputEvent carries one microphone frame upstream.
type AudioInputEvent struct {
	SessionID string       `json:"sessionId"`
	Audio     AudioPayload `json:"audio"`
}

// SessionHeartbeatEvent keeps an otherwise quiet session alive.
type SessionHeartbeatEvent struct {
	SessionID string `json:"sessionId"`
}

// SessionEndEvent closes a conversation with a reason.
type SessionEndEvent struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// TextOutputEvent is the assistant's transcript of its own reply.
type TextOutputEvent struct {
	Content string `json:"content"`
}

// AudioOutputEvent carries synthesized speech downstream.
type AudioOutputEvent struct {
	Content     string       `json:"content"`
	AudioFormat *AudioFormat `json:"audioFormat,omitempty"`
}

// ContentEndEvent marks the end of one assistant turn.
type ContentEndEvent struct{}

// NewSessionStart builds a sessionStart envelope.
func NewSessionStart(sessionID, systemPrompt string, inference InferenceConfiguration, metadata map[string]string) Envelope {
	return Envelope{
		Event: EventSessionStart,
		SessionStart: &SessionStartEvent{
			SessionID:              sessionID,
			SystemPrompt:           systemPrompt,
			InferenceConfiguration: inference,
			Metadata:               metadata,
		},
	}
}

// NewAudioInput wraps a PCM16 frame for the wire.
func NewAudioInput(sessionID string, pcm []byte, sampleRate, channels int) Envelope {
	return Envelope{
		Event: EventAudioInput,
		AudioInput: &AudioInputEvent{
			SessionID: sessionID,
			Audio: AudioPayload{
				AudioFormat: AudioFormat{
					Type:         "pcm16",
					SampleRateHz: sampleRate,
					Channels:     channels,
				},
				Content: base64.StdEncoding.EncodeToString(pcm),
			},
		},
	}
}

// NewHeartbeat builds a sessionHeartbeat envelope.
func NewHeartbeat(sessionID string) Envelope {
	return Envelope{
		Event:            EventSessionHeartbeat,
		SessionHeartbeat: &SessionHeartbeatEvent{SessionID: sessionID},
	}
}

// NewSessionEnd builds a sessionEnd envelope.
func NewSessionEnd(sessionID, reason string) Envelope {
	return Envelope{
		Event:      EventSessionEnd,
		SessionEnd: &SessionEndEvent{SessionID: sessionID, Reason: reason},
	}
}

// DecodeAudio returns the PCM bytes of an audioOutput event.
func (e *AudioOutputEvent) DecodeAudio() ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(e.Content)
	if err != nil {
		return nil, fmt.Errorf("decode audio content: %w", err)
	}
	return pcm, nil
}

// ParseEnvelope decodes a wire message and checks that the payload
// matching the event name is present.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Event {
	case EventTextOutput:
		if env.TextOutput == nil {
			return Envelope{}, fmt.Errorf("envelope %q missing payload", env.Event)
		}
	case EventAudioOutput:
		if env.AudioOutput == nil {
			return Envelope{}, fmt.Errorf("envelope %q missing payload", env.Event)
		}
	case EventContentEnd, EventSessionEnd, EventSessionStart, EventAudioInput, EventSessionHeartbeat:
	case "":
		return Envelope{}, fmt.Errorf("envelope missing event name")
	}
	return env, nil
}
