// Package transcribe provides TranscriptionService backends.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/voicegate/voicegate/domain/entities"
	"github.com/voicegate/voicegate/domain/repositories"
)

// ErrStreamClosed is returned by Send after the stream has terminated.
var ErrStreamClosed = errors.New("transcription stream closed")

// GoogleTranscription implements TranscriptionService on Google Cloud
// Speech-to-Text streaming recognition.
type GoogleTranscription struct {
	logger *zap.Logger
}

// NewGoogleTranscription builds the Google backend.
func NewGoogleTranscription(logger *zap.Logger) *GoogleTranscription {
	return &GoogleTranscription{logger: logger}
}

// StartSession opens a streaming recognize session. Interim results are
// on so the UI can show text while the speaker is still talking; word
// time offsets feed per-token transcript items.
func (g *GoogleTranscription) StartSession(ctx context.Context, config repositories.AudioStreamConfig) (repositories.TranscriptionStream, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	grpcStream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	language := config.Language
	if language == "" {
		language = "en-US"
	}

	if err := grpcStream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:              speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:       int32(config.SampleRate),
					LanguageCode:          language,
					EnableWordTimeOffsets: true,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		grpcStream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &googleStream{
		sessionID: uuid.New().String(),
		client:    client,
		stream:    grpcStream,
		logger:    g.logger,
		audioIn:   make(chan []byte, 8),
		results:   make(chan entities.TranscriptResult, 16),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.sendLoop()
	go s.receiveLoop()
	return s, nil
}

type googleStream struct {
	sessionID string
	client    *speech.Client
	stream    speechpb.Speech_StreamingRecognizeClient
	logger    *zap.Logger

	// audioIn is never closed; Close signals the sender through closing
	// instead, so a producer mid-send can never hit a closed channel.
	audioIn chan []byte
	results chan entities.TranscriptResult
	closing chan struct{}
	done    chan struct{}
	doneErr error

	mu       sync.Mutex
	closed   bool
	sequence int64

	closeOnce  sync.Once
	finishOnce sync.Once
}

func (s *googleStream) SessionID() string { return s.sessionID }

func (s *googleStream) TrySend(chunk []byte) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}
	select {
	case s.audioIn <- chunk:
		return true
	default:
		return false
	}
}

func (s *googleStream) Send(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrStreamClosed
	}
	select {
	case s.audioIn <- chunk:
		return nil
	case <-s.closing:
		return ErrStreamClosed
	case <-s.done:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *googleStream) Results() <-chan entities.TranscriptResult { return s.results }

func (s *googleStream) Done() <-chan struct{} { return s.done }

func (s *googleStream) Err() error {
	select {
	case <-s.done:
		return s.doneErr
	default:
		return nil
	}
}

func (s *googleStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.closing)
	})
	return nil
}

func (s *googleStream) sendLoop() {
	for {
		select {
		case <-s.closing:
			if err := s.stream.CloseSend(); err != nil {
				s.logger.Warn("failed to close send stream", zap.Error(err))
			}
			return
		case <-s.done:
			return
		case chunk := <-s.audioIn:
			if err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: chunk,
				},
			}); err != nil {
				s.logger.Error("failed to send audio to speech service", zap.Error(err))
				s.finish(fmt.Errorf("failed to send audio data: %w", err))
				return
			}
		}
	}
}

func (s *googleStream) receiveLoop() {
	defer close(s.results)
	for {
		resp, err := s.stream.Recv()
		if err == io.EOF {
			s.finish(nil)
			return
		}
		if err != nil {
			s.finish(fmt.Errorf("failed to receive response: %w", err))
			return
		}
		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			s.emit(result)
		}
	}
}

func (s *googleStream) emit(result *speechpb.StreamingRecognitionResult) {
	alt := result.Alternatives[0]

	s.mu.Lock()
	s.sequence++
	seq := s.sequence
	s.mu.Unlock()

	items := make([]entities.TranscriptItem, 0, len(alt.Words))
	var start, end float64
	for i, word := range alt.Words {
		ws := durationSeconds(word.StartTime)
		we := durationSeconds(word.EndTime)
		if i == 0 {
			start = ws
		}
		if we > end {
			end = we
		}
		items = append(items, entities.TranscriptItem{
			Content:   word.Word,
			StartTime: ws,
			EndTime:   we,
			Type:      entities.ItemPronunciation,
		})
	}
	if end == 0 {
		end = durationSeconds(result.ResultEndTime)
	}

	out := entities.TranscriptResult{
		SessionID:  s.sessionID,
		Text:       alt.Transcript,
		Partial:    !result.IsFinal,
		StartTime:  start,
		EndTime:    end,
		ResultID:   fmt.Sprintf("%s-%d", s.sessionID, seq),
		Items:      items,
		Sequence:   seq,
		ReceivedAt: time.Now(),
	}

	select {
	case s.results <- out:
	default:
		// Consumer fell behind; drop the oldest segment to keep the
		// freshest text flowing.
		select {
		case <-s.results:
		default:
		}
		select {
		case s.results <- out:
		default:
		}
	}
}

func (s *googleStream) finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.doneErr = err
		s.client.Close()
		close(s.done)
	})
}

func durationSeconds(d *durationpb.Duration) float64 {
	return d.AsDuration().Seconds()
}
