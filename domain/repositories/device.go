package repositories

import (
	"context"

	"github.com/voicegate/voicegate/domain/entities"
)

// CaptureDevice abstracts the platform microphone. The core depends only
// on "give me frames of N samples at rate R" semantics; the host runtime
// supplies the concrete backend.
type CaptureDevice interface {
	// Open acquires the device for exclusive use. The returned stream
	// delivers samples until Close is called or the source is exhausted.
	Open(ctx context.Context, config entities.CaptureConfig) (CaptureStream, error)
}

// CaptureStream is an open microphone stream.
type CaptureStream interface {
	// Read blocks until at least one sample is available and fills buf,
	// returning the number of samples read. It returns io.EOF when the
	// source is exhausted.
	Read(buf []int16) (int, error)

	// Close releases the device. Safe to call more than once.
	Close() error
}

// PlaybackSink plays raw PCM audio. Play blocks until the audio has been
// rendered, which lets callers pace "speaking" state off its completion.
type PlaybackSink interface {
	Play(ctx context.Context, pcm []byte, sampleRate, channels int) error
}
