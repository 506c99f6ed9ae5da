package repositories

import (
	"context"

	"github.com/voicegate/voicegate/domain/entities"
)

// AudioStreamConfig configures a transcription streaming session.
// Encoding is fixed at 16-bit PCM by the pipeline.
type AudioStreamConfig struct {
	SampleRate int
	Language   string
}

// TranscriptionService opens bidirectional audio-in/text-out streaming
// sessions against a cloud ASR backend.
type TranscriptionService interface {
	StartSession(ctx context.Context, config AudioStreamConfig) (TranscriptionStream, error)
}

// TranscriptionStream is one live transcription session. Audio goes in
// through Send/TrySend; transcript segments come out through Results.
type TranscriptionStream interface {
	SessionID() string

	// TrySend attempts a non-blocking send and reports whether the chunk
	// was accepted.
	TrySend(chunk []byte) bool

	// Send blocks until the chunk is accepted, the context is done, or
	// the stream has failed.
	Send(ctx context.Context, chunk []byte) error

	// Results delivers transcript segments until the stream ends.
	Results() <-chan entities.TranscriptResult

	// Done is closed when the stream has terminated for any reason.
	Done() <-chan struct{}

	// Err reports the terminal error, if any, once Done is closed.
	Err() error

	// Close ends the session. Safe to call more than once.
	Close() error
}
