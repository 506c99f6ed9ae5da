// Package device provides CaptureDevice backends for hosts without a
// real microphone: synthesized tones and raw PCM files.
package device

import (
	"context"
	"io"
	"math"
	"sync"
	"time"

	"github.com/voicegate/voicegate/domain/entities"
	"github.com/voicegate/voicegate/domain/repositories"
)

// ToneDevice synthesizes a sine tone, paced to real time like a
// microphone would deliver it.
type ToneDevice struct {
	// FrequencyHz is the tone frequency; zero means 440.
	FrequencyHz float64

	// Amplitude in [0, 1]; zero means 0.25.
	Amplitude float64

	// LimitSamples ends the stream with io.EOF after this many samples.
	// Zero streams forever.
	LimitSamples int

	// Unpaced disables real-time pacing, for tests that want the audio
	// as fast as possible.
	Unpaced bool
}

func (d *ToneDevice) Open(ctx context.Context, config entities.CaptureConfig) (repositories.CaptureStream, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	freq := d.FrequencyHz
	if freq <= 0 {
		freq = 440
	}
	amp := d.Amplitude
	if amp <= 0 {
		amp = 0.25
	}
	if amp > 1 {
		amp = 1
	}
	return &toneStream{
		freq:       freq,
		amp:        amp,
		sampleRate: config.SampleRate,
		limit:      d.LimitSamples,
		paced:      !d.Unpaced,
		closed:     make(chan struct{}),
	}, nil
}

type toneStream struct {
	freq       float64
	amp        float64
	sampleRate int
	limit      int
	paced      bool

	mu       sync.Mutex
	position int

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *toneStream) Read(buf []int16) (int, error) {
	select {
	case <-s.closed:
		return 0, io.EOF
	default:
	}

	s.mu.Lock()
	pos := s.position
	n := len(buf)
	if s.limit > 0 {
		remaining := s.limit - pos
		if remaining <= 0 {
			s.mu.Unlock()
			return 0, io.EOF
		}
		if n > remaining {
			n = remaining
		}
	}
	s.position = pos + n
	s.mu.Unlock()

	for i := 0; i < n; i++ {
		t := float64(pos+i) / float64(s.sampleRate)
		buf[i] = int16(s.amp * 32767 * math.Sin(2*math.Pi*s.freq*t))
	}

	if s.paced {
		wait := time.Duration(n) * time.Second / time.Duration(s.sampleRate)
		select {
		case <-time.After(wait):
		case <-s.closed:
			return n, io.EOF
		}
	}
	return n, nil
}

func (s *toneStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
