package enroll

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
	"github.com/voicegate/voicegate/internal/capture"
	"github.com/voicegate/voicegate/internal/dsp"
)

type toneDevice struct{}

func (toneDevice) Open(_ context.Context, config entities.CaptureConfig) (repositories.CaptureStream, error) {
	return &toneStream{sampleRate: config.SampleRate}, nil
}

type toneStream struct {
	mu         sync.Mutex
	sampleRate int
	position   int
	closed     bool
}

func (s *toneStream) Read(buf []int16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.EOF
	}
	for i := range buf {
		t := float64(s.position+i) / float64(s.sampleRate)
		buf[i] = int16(0.3 * 32767 * math.Sin(2*math.Pi*440*t))
	}
	s.position += len(buf)
	// Light pacing keeps a tight read loop from ballooning the recording
	// buffer during the test.
	time.Sleep(time.Millisecond)
	return len(buf), nil
}

func (s *toneStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type memoryProfileStore struct {
	mu    sync.Mutex
	clips [][]byte
}

func (s *memoryProfileStore) SaveProfile(_ context.Context, clips [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clips = clips
	return nil
}

func (s *memoryProfileStore) LoadProfile(context.Context) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clips, nil
}

func (s *memoryProfileStore) ClearProfile(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clips = nil
	return nil
}

type memorySettings struct {
	mu    sync.Mutex
	flags map[string]bool
}

func newMemorySettings() *memorySettings {
	return &memorySettings{flags: make(map[string]bool)}
}

func (s *memorySettings) SetBool(key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[key] = value
	return nil
}

func (s *memorySettings) GetBool(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[key], nil
}

func (s *memorySettings) Close() error { return nil }

func newTestManager(t *testing.T) (*Manager, *memoryProfileStore, *memorySettings) {
	t.Helper()
	engine := capture.NewEngine(toneDevice{}, nil, dsp.DefaultProcessingConfig(entities.DefaultSampleRate), zap.NewNop())
	profiles := &memoryProfileStore{}
	settings := newMemorySettings()
	m := NewManager(engine, profiles, settings, zap.NewNop(), nil)
	return m, profiles, settings
}

func recordClip(t *testing.T, m *Manager) Clip {
	t.Helper()
	if err := m.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	clip, err := m.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	return clip
}

func TestRecordAndFinalize(t *testing.T) {
	m, profiles, settings := newTestManager(t)

	clips := []Clip{recordClip(t, m), recordClip(t, m)}
	for i, clip := range clips {
		if len(clip.Data) == 0 {
			t.Fatalf("clip %d is empty", i)
		}
		if clip.RMS < MinMeanClipEnergy {
			t.Fatalf("clip %d RMS %.4f below usable energy", i, clip.RMS)
		}
		if clip.Duration <= 0 {
			t.Fatalf("clip %d has non-positive duration", i)
		}
	}

	if err := m.Finalize(context.Background(), clips); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	stored, err := profiles.LoadProfile(context.Background())
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("stored %d clips, want 2", len(stored))
	}
	enrolled, err := settings.GetBool(SettingEnrolled)
	if err != nil || !enrolled {
		t.Errorf("enrolled flag = %v, %v; want true, nil", enrolled, err)
	}
}

func TestSecondRecordingRejected(t *testing.T) {
	m, _, _ := newTestManager(t)

	if err := m.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	defer m.CancelRecording()

	if err := m.StartRecording(context.Background()); !errors.Is(err, ErrRecordingActive) {
		t.Errorf("second StartRecording error = %v, want ErrRecordingActive", err)
	}
}

func TestStopWithoutRecording(t *testing.T) {
	m, _, _ := newTestManager(t)

	if _, err := m.StopRecording(); !errors.Is(err, ErrNoRecording) {
		t.Errorf("StopRecording error = %v, want ErrNoRecording", err)
	}
	if err := m.CancelRecording(); !errors.Is(err, ErrNoRecording) {
		t.Errorf("CancelRecording error = %v, want ErrNoRecording", err)
	}
}

func TestCancelDiscardsClip(t *testing.T) {
	m, _, _ := newTestManager(t)

	if err := m.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := m.CancelRecording(); err != nil {
		t.Fatalf("CancelRecording: %v", err)
	}
	if m.IsRecording() {
		t.Error("manager reports recording after cancel")
	}
}

func TestFinalizeRejectsBadClips(t *testing.T) {
	m, _, settings := newTestManager(t)

	quiet := Clip{Data: make([]byte, 32000), RMS: 0.001}
	tests := []struct {
		name  string
		clips []Clip
	}{
		{"no clips", nil},
		{"empty clip", []Clip{{Data: nil, RMS: 0.5}}},
		{"too quiet", []Clip{quiet, quiet}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Finalize(context.Background(), tt.clips)
			if !errors.Is(err, ErrEnrollmentFailed) {
				t.Errorf("Finalize error = %v, want ErrEnrollmentFailed", err)
			}
		})
	}

	enrolled, _ := settings.GetBool(SettingEnrolled)
	if enrolled {
		t.Error("failed enrollment set the enrolled flag")
	}
}

func TestClearProfile(t *testing.T) {
	m, profiles, settings := newTestManager(t)

	clip := recordClip(t, m)
	if err := m.Finalize(context.Background(), []Clip{clip}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if err := m.ClearProfile(context.Background()); err != nil {
		t.Fatalf("ClearProfile: %v", err)
	}
	stored, _ := profiles.LoadProfile(context.Background())
	if len(stored) != 0 {
		t.Errorf("profile still holds %d clips after clear", len(stored))
	}
	enrolled, _ := settings.GetBool(SettingEnrolled)
	if enrolled {
		t.Error("enrolled flag still set after clear")
	}
}

func TestAmplitudeCallback(t *testing.T) {
	engine := capture.NewEngine(toneDevice{}, nil, dsp.DefaultProcessingConfig(entities.DefaultSampleRate), zap.NewNop())
	levels := make(chan float32, 64)
	m := NewManager(engine, &memoryProfileStore{}, newMemorySettings(), zap.NewNop(), func(level float32) {
		select {
		case levels <- level:
		default:
		}
	})

	if err := m.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	defer m.CancelRecording()

	select {
	case level := <-levels:
		if level <= 0 || level > 1 {
			t.Errorf("amplitude level = %f, want in (0, 1]", level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no amplitude callbacks received")
	}
}
