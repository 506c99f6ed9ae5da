package capture

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voicegate/voicegate/domain/entities"
	"github.com/voicegate/voicegate/domain/repositories"
	"github.com/voicegate/voicegate/internal/dsp"
)

// fakeDevice serves a fixed number of sine samples as fast as the
// reader asks for them, then reports io.EOF.
type fakeDevice struct {
	totalSamples int
	openErr      error
}

func (d *fakeDevice) Open(_ context.Context, config entities.CaptureConfig) (repositories.CaptureStream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return &fakeStream{
		remaining:  d.totalSamples,
		sampleRate: config.SampleRate,
	}, nil
}

type fakeStream struct {
	mu         sync.Mutex
	remaining  int
	position   int
	sampleRate int
	closed     bool
}

func (s *fakeStream) Read(buf []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.remaining <= 0 {
		return 0, io.EOF
	}
	n := len(buf)
	if n > s.remaining {
		n = s.remaining
	}
	for i := 0; i < n; i++ {
		t := float64(s.position+i) / float64(s.sampleRate)
		buf[i] = int16(0.3 * 32767 * math.Sin(2*math.Pi*440*t))
	}
	s.position += n
	s.remaining -= n
	return n, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func newTestEngine(device repositories.CaptureDevice) *Engine {
	return NewEngine(device, nil, dsp.DefaultProcessingConfig(entities.DefaultSampleRate), zap.NewNop())
}

func TestEngineWindowsFromFiniteSource(t *testing.T) {
	// Five seconds of audio: 80000 samples at 16kHz yields five full
	// windows and a 2000-sample tail flushed at end of stream.
	device := &fakeDevice{totalSamples: 5 * entities.DefaultSampleRate}
	e := newTestEngine(device)

	windows := make(chan entities.AudioWindow, 16)
	e.RegisterWindowListener(func(w entities.AudioWindow) { windows <- w })

	if err := e.Start(context.Background(), Options{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	var got []entities.AudioWindow
	for len(got) < 6 {
		select {
		case w := <-windows:
			got = append(got, w)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d windows, want 6", len(got))
		}
	}

	fullBytes := WindowSamples * entities.BytesPerSample
	for i := 0; i < 5; i++ {
		if len(got[i].Data) != fullBytes {
			t.Errorf("window %d has %d bytes, want %d", i, len(got[i].Data), fullBytes)
		}
	}
	if wantTail := 2000 * entities.BytesPerSample; len(got[5].Data) != wantTail {
		t.Errorf("tail window has %d bytes, want %d", len(got[5].Data), wantTail)
	}
}

func TestEngineStartWhileRunning(t *testing.T) {
	e := newTestEngine(&fakeDevice{totalSamples: 10 * entities.DefaultSampleRate})

	if err := e.Start(context.Background(), Options{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	if err := e.Start(context.Background(), Options{}); !errors.Is(err, ErrAlreadyCapturing) {
		t.Errorf("second Start error = %v, want ErrAlreadyCapturing", err)
	}
}

func TestEngineOpenFailure(t *testing.T) {
	e := newTestEngine(&fakeDevice{openErr: errors.New("no such device")})

	err := e.Start(context.Background(), Options{})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Start error = %v, want ErrDeviceUnavailable", err)
	}
	if e.IsCapturing() {
		t.Error("engine reports capturing after failed Start")
	}
}

func TestEngineStopIsIdempotent(t *testing.T) {
	e := newTestEngine(&fakeDevice{totalSamples: entities.DefaultSampleRate})

	e.Stop() // not running yet

	if err := e.Start(context.Background(), Options{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Stop()
	e.Stop()

	if e.IsCapturing() {
		t.Error("engine reports capturing after Stop")
	}
}

func TestEngineFansOutChunkCopies(t *testing.T) {
	device := &fakeDevice{totalSamples: entities.DefaultSampleRate}
	e := newTestEngine(device)

	type seen struct {
		first []int16
	}
	a := &seen{}
	b := &seen{}
	done := make(chan struct{}, 2)
	var once sync.Once

	e.RegisterChunkListener(func(f entities.AudioFrame) {
		if a.first == nil {
			a.first = f.Samples
			// Mutate our copy; the other listener must not see it.
			for i := range f.Samples {
				f.Samples[i] = 0
			}
			once.Do(func() { done <- struct{}{}; done <- struct{}{} })
		}
	})
	e.RegisterChunkListener(func(f entities.AudioFrame) {
		if b.first == nil {
			b.first = f.Samples
		}
	})

	if err := e.Start(context.Background(), Options{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for chunks")
	}
	e.Stop()

	if b.first == nil {
		t.Fatal("second listener saw no chunks")
	}
	nonZero := false
	for _, s := range b.first {
		if s != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Error("second listener's chunk was zeroed by the first listener's mutation")
	}
}

func TestEngineRemoveListener(t *testing.T) {
	device := &fakeDevice{totalSamples: entities.DefaultSampleRate}
	e := newTestEngine(device)

	var count int
	var mu sync.Mutex
	id := e.RegisterChunkListener(func(entities.AudioFrame) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	e.RemoveChunkListener(id)

	if err := e.Start(context.Background(), Options{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	e.Stop()

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("removed listener received %d chunks, want 0", count)
	}
}
