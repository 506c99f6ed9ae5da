package entities

import (
	"fmt"
	"time"
)

const (
	// DefaultSampleRate is the pipeline-wide default capture rate.
	DefaultSampleRate = 16000

	// BytesPerSample is fixed by the 16-bit PCM encoding.
	BytesPerSample = 2

	// MinBufferBytes is the smallest buffer the capture backend accepts
	// (20ms of mono audio at the default rate).
	MinBufferBytes = DefaultSampleRate / 50 * BytesPerSample
)

// CaptureConfig describes how audio is read from the capture device.
// Encoding is fixed at 16-bit signed little-endian PCM.
type CaptureConfig struct {
	SampleRate int
	Channels   int
	BufferSize int // bytes
}

// DefaultCaptureConfig returns a mono 16kHz configuration with a buffer
// sized for roughly 100ms of audio, doubled for read headroom.
func DefaultCaptureConfig() CaptureConfig {
	preferred := DefaultSampleRate / 10 * BytesPerSample * 2
	return CaptureConfig{
		SampleRate: DefaultSampleRate,
		Channels:   1,
		BufferSize: preferred,
	}
}

// Validate rejects configurations the audio backend cannot honor.
func (c CaptureConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels < 1 || c.Channels > 2 {
		return fmt.Errorf("channel count must be 1 or 2, got %d", c.Channels)
	}
	if c.BufferSize < MinBufferBytes {
		return fmt.Errorf("buffer size %d below minimum %d bytes", c.BufferSize, MinBufferBytes)
	}
	return nil
}

// BufferSamples returns the capture buffer capacity in samples.
func (c CaptureConfig) BufferSamples() int {
	return c.BufferSize / BytesPerSample
}

// AudioFrame is one capture read: a slice of samples plus the time the
// read completed. Frames are owned by the pipeline stage processing them;
// fan-out to multiple consumers must hand each consumer its own copy.
type AudioFrame struct {
	Samples   []int16
	Timestamp time.Time
}

// Clone returns a deep copy safe to hand to another consumer.
func (f AudioFrame) Clone() AudioFrame {
	samples := make([]int16, len(f.Samples))
	copy(samples, f.Samples)
	return AudioFrame{Samples: samples, Timestamp: f.Timestamp}
}

// AudioWindow is a fixed-size chunk of PCM bytes, the unit of
// verification and forwarding decisions. Start is the timestamp of the
// first sample in the window. Windows are immutable after creation.
type AudioWindow struct {
	Data  []byte
	Start time.Time
}
