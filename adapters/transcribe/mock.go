package transcribe

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicegate/voicegate/domain/entities"
	"github.com/voicegate/voicegate/domain/repositories"
)

// MockTranscription is an offline TranscriptionService for development
// and tests: it acknowledges audio and fabricates transcript segments
// sized to the amount of audio received.
type MockTranscription struct {
	logger *zap.Logger
}

// NewMockTranscription creates the mock backend.
func NewMockTranscription(logger *zap.Logger) *MockTranscription {
	return &MockTranscription{logger: logger}
}

func (m *MockTranscription) StartSession(ctx context.Context, config repositories.AudioStreamConfig) (repositories.TranscriptionStream, error) {
	m.logger.Info("initializing mock transcription session",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("language", config.Language))

	s := &mockStream{
		sessionID:  uuid.New().String(),
		sampleRate: config.SampleRate,
		logger:     m.logger,
		results:    make(chan entities.TranscriptResult, 16),
		done:       make(chan struct{}),
	}
	if s.sampleRate <= 0 {
		s.sampleRate = entities.DefaultSampleRate
	}
	return s, nil
}

type mockStream struct {
	sessionID  string
	sampleRate int
	logger     *zap.Logger

	results chan entities.TranscriptResult
	done    chan struct{}

	mu        sync.Mutex
	closed    bool
	bytesIn   int
	sequence  int64
	closeOnce sync.Once
}

func (s *mockStream) SessionID() string { return s.sessionID }

func (s *mockStream) TrySend(chunk []byte) bool {
	return s.Send(context.Background(), chunk) == nil
}

func (s *mockStream) Send(_ context.Context, chunk []byte) error {
	// The result send stays inside the critical section so it cannot
	// race a concurrent Close of the results channel.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.bytesIn += len(chunk)
	total := s.bytesIn
	s.sequence++
	seq := s.sequence

	text := "hello"
	switch {
	case total > 10*s.sampleRate*2:
		text = "hello there, this has been quite a long recording session"
	case total > 3*s.sampleRate*2:
		text = "hello there, testing the transcription pipeline"
	}

	end := float64(total) / float64(s.sampleRate*2)
	result := entities.TranscriptResult{
		SessionID:  s.sessionID,
		Text:       text,
		Partial:    seq%3 != 0,
		StartTime:  0,
		EndTime:    end,
		ResultID:   s.sessionID + "-mock",
		Sequence:   seq,
		ReceivedAt: time.Now(),
	}
	select {
	case s.results <- result:
	default:
	}
	return nil
}

func (s *mockStream) Results() <-chan entities.TranscriptResult { return s.results }

func (s *mockStream) Done() <-chan struct{} { return s.done }

func (s *mockStream) Err() error { return nil }

func (s *mockStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.results)
		close(s.done)
		s.mu.Unlock()
	})
	return nil
}
