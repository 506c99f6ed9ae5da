// Package playback provides PlaybackSink backends.
package playback

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// WriterSink renders PCM by writing it to an io.Writer (a pipe into an
// audio daemon, a file, or io.Discard) and sleeping for the audio's
// real duration so Play blocks like a hardware sink would.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer

	// Unpaced skips the duration sleep, for tests.
	Unpaced bool
}

// NewWriterSink wraps w. A nil writer discards the audio but still
// paces playback.
func NewWriterSink(w io.Writer) *WriterSink {
	if w == nil {
		w = io.Discard
	}
	return &WriterSink{w: w}
}

func (s *WriterSink) Play(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	if sampleRate <= 0 || channels <= 0 {
		return fmt.Errorf("invalid playback format: rate %d, channels %d", sampleRate, channels)
	}

	s.mu.Lock()
	_, err := s.w.Write(pcm)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write playback audio: %w", err)
	}

	if s.Unpaced {
		return nil
	}
	samples := len(pcm) / 2 / channels
	duration := time.Duration(samples) * time.Second / time.Duration(sampleRate)
	select {
	case <-time.After(duration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
