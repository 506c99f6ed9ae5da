package transcribe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/voicegate/voicegate/domain/repositories"
)

func TestMockStreamProducesResults(t *testing.T) {
	svc := NewMockTranscription(zap.NewNop())
	stream, err := svc.StartSession(context.Background(), repositories.AudioStreamConfig{
		SampleRate: 16000,
		Language:   "en-US",
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	defer stream.Close()

	chunk := make([]byte, 3200)
	if err := stream.Send(context.Background(), chunk); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case result := <-stream.Results():
		if result.SessionID != stream.SessionID() {
			t.Errorf("result session = %q, want %q", result.SessionID, stream.SessionID())
		}
		if result.EndTime <= 0 {
			t.Errorf("end time = %v, want > 0", result.EndTime)
		}
	default:
		t.Fatal("no result after Send")
	}
}

func TestMockStreamCloseDuringSends(t *testing.T) {
	svc := NewMockTranscription(zap.NewNop())
	stream, err := svc.StartSession(context.Background(), repositories.AudioStreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	// Hammer the stream from several producers while Close races them;
	// nothing here may panic on a closed results channel.
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			chunk := make([]byte, 640)
			for j := 0; j < 500; j++ {
				stream.TrySend(chunk)
			}
		}()
	}
	close(start)
	stream.Close()
	wg.Wait()

	if err := stream.Send(context.Background(), nil); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Send after Close = %v, want ErrStreamClosed", err)
	}
	select {
	case <-stream.Done():
	default:
		t.Error("Done not signalled after Close")
	}
}
