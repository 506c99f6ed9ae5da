package device

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/voicegate/voicegate/domain/entities"
	"github.com/voicegate/voicegate/domain/repositories"
)

// FileDevice replays a raw little-endian PCM16 file as if it were a
// live microphone, paced to the configured sample rate.
type FileDevice struct {
	Path string

	// Unpaced disables real-time pacing.
	Unpaced bool
}

func (d *FileDevice) Open(ctx context.Context, config entities.CaptureConfig) (repositories.CaptureStream, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("open pcm file: %w", err)
	}
	return &fileStream{
		file:       f,
		sampleRate: config.SampleRate,
		paced:      !d.Unpaced,
		closed:     make(chan struct{}),
	}, nil
}

type fileStream struct {
	file       *os.File
	sampleRate int
	paced      bool

	mu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *fileStream) Read(buf []int16) (int, error) {
	select {
	case <-s.closed:
		return 0, io.EOF
	default:
	}

	raw := make([]byte, len(buf)*2)
	s.mu.Lock()
	n, err := io.ReadFull(s.file, raw)
	s.mu.Unlock()

	samples := n / 2
	for i := 0; i < samples; i++ {
		buf[i] = int16(raw[2*i]) | int16(raw[2*i+1])<<8
	}

	if err == io.ErrUnexpectedEOF {
		err = nil
		if samples == 0 {
			err = io.EOF
		}
	}
	if err != nil && err != io.EOF {
		return samples, fmt.Errorf("read pcm file: %w", err)
	}
	if samples == 0 && err == io.EOF {
		return 0, io.EOF
	}

	if s.paced && samples > 0 {
		wait := time.Duration(samples) * time.Second / time.Duration(s.sampleRate)
		select {
		case <-time.After(wait):
		case <-s.closed:
			return samples, io.EOF
		}
	}
	return samples, err
}

func (s *fileStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.file.Close()
	})
	return err
}
