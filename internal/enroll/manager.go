// Package enroll records voice enrollment clips and turns them into a
// durable speaker profile.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicegate/voicegate/domain/entities"
	"github.com/voicegate/voicegate/domain/repositories"
	"github.com/voicegate/voicegate/internal/capture"
	"github.com/voicegate/voicegate/internal/dsp"
)

// SettingEnrolled is the settings key flipped once a profile is saved.
const SettingEnrolled = "voice_enrolled"

// MinMeanClipEnergy is the minimum mean RMS across clips for a profile
// to be accepted. Below this the recordings are effectively silence and
// would enroll a useless reference.
const MinMeanClipEnergy = 0.015

var (
	// ErrRecordingActive is returned by StartRecording while a clip is
	// already being recorded.
	ErrRecordingActive = errors.New("enrollment recording already active")

	// ErrNoRecording is returned by StopRecording and CancelRecording when
	// nothing is being recorded.
	ErrNoRecording = errors.New("no enrollment recording active")

	// ErrEnrollmentFailed is returned by Finalize when the clips cannot
	// form a usable profile.
	ErrEnrollmentFailed = errors.New("enrollment failed")
)

// Clip is one finished enrollment recording.
type Clip struct {
	Data     []byte  // little-endian PCM16
	RMS      float64 // normalized [0, 1]
	Duration time.Duration
}

// AmplitudeFunc observes the live recording level in [0, 1], for UI
// metering while the user speaks.
type AmplitudeFunc func(level float32)

// Manager runs the enrollment flow: record a handful of clips through
// the shared capture engine, then finalize them into a profile. One
// recording at a time; a second StartRecording fails instead of
// interleaving audio.
type Manager struct {
	engine      *capture.Engine
	profiles    repositories.ProfileStore
	settings    repositories.SettingsStore
	logger      *zap.Logger
	onAmplitude AmplitudeFunc

	mu         sync.Mutex
	recording  bool
	listenerID int
	samples    []int16
	startedAt  time.Time
	sampleRate int
}

// NewManager wires the enrollment flow. onAmplitude may be nil.
func NewManager(engine *capture.Engine, profiles repositories.ProfileStore, settings repositories.SettingsStore, logger *zap.Logger, onAmplitude AmplitudeFunc) *Manager {
	return &Manager{
		engine:      engine,
		profiles:    profiles,
		settings:    settings,
		logger:      logger,
		onAmplitude: onAmplitude,
	}
}

// IsRecording reports whether a clip is currently being recorded.
func (m *Manager) IsRecording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

// StartRecording begins capturing one enrollment clip. Verification is
// kept out of the loop: the user's voice is the subject here, not a
// speaker to gate on.
func (m *Manager) StartRecording(ctx context.Context) error {
	m.mu.Lock()
	if m.recording {
		m.mu.Unlock()
		return ErrRecordingActive
	}
	m.recording = true
	m.samples = nil
	m.startedAt = time.Now()
	m.mu.Unlock()

	cfg := entities.DefaultCaptureConfig()
	err := m.engine.Start(ctx, capture.Options{Config: cfg, StreamToVerifier: false})
	if err != nil {
		m.mu.Lock()
		m.recording = false
		m.mu.Unlock()
		return fmt.Errorf("start enrollment capture: %w", err)
	}

	m.mu.Lock()
	m.sampleRate = cfg.SampleRate
	m.listenerID = m.engine.RegisterChunkListener(m.onChunk)
	m.mu.Unlock()

	m.logger.Info("enrollment recording started")
	return nil
}

func (m *Manager) onChunk(frame entities.AudioFrame) {
	m.mu.Lock()
	if !m.recording {
		m.mu.Unlock()
		return
	}
	m.samples = append(m.samples, frame.Samples...)
	m.mu.Unlock()

	if m.onAmplitude != nil {
		level := float32(dsp.RMS(frame.Samples) * 4)
		if level > 1 {
			level = 1
		}
		m.onAmplitude(level)
	}
}

// StopRecording finishes the current clip and returns it.
func (m *Manager) StopRecording() (Clip, error) {
	samples, sampleRate, err := m.teardown()
	if err != nil {
		return Clip{}, err
	}

	clip := Clip{
		Data:     dsp.SamplesToBytes(samples),
		RMS:      dsp.RMS(samples),
		Duration: time.Duration(len(samples)) * time.Second / time.Duration(sampleRate),
	}
	m.logger.Info("enrollment clip recorded",
		zap.Duration("duration", clip.Duration),
		zap.Float64("rms", clip.RMS))
	return clip, nil
}

// CancelRecording discards the current clip.
func (m *Manager) CancelRecording() error {
	_, _, err := m.teardown()
	if err != nil {
		return err
	}
	m.logger.Info("enrollment recording cancelled")
	return nil
}

func (m *Manager) teardown() ([]int16, int, error) {
	m.mu.Lock()
	if !m.recording {
		m.mu.Unlock()
		return nil, 0, ErrNoRecording
	}
	listenerID := m.listenerID
	m.mu.Unlock()

	m.engine.RemoveChunkListener(listenerID)
	m.engine.Stop()

	m.mu.Lock()
	samples := m.samples
	sampleRate := m.sampleRate
	m.recording = false
	m.samples = nil
	m.mu.Unlock()

	if sampleRate <= 0 {
		sampleRate = entities.DefaultSampleRate
	}
	return samples, sampleRate, nil
}

// Finalize validates the clips and persists them as the speaker
// profile. Any empty clip, or a mean energy below MinMeanClipEnergy,
// fails the whole enrollment; a partial profile is worse than none.
func (m *Manager) Finalize(ctx context.Context, clips []Clip) error {
	if len(clips) == 0 {
		return fmt.Errorf("%w: no clips recorded", ErrEnrollmentFailed)
	}

	var energySum float64
	raw := make([][]byte, len(clips))
	for i, clip := range clips {
		if len(clip.Data) == 0 {
			return fmt.Errorf("%w: clip %d is empty", ErrEnrollmentFailed, i)
		}
		energySum += clip.RMS
		raw[i] = clip.Data
	}
	meanEnergy := energySum / float64(len(clips))
	if meanEnergy < MinMeanClipEnergy {
		return fmt.Errorf("%w: recordings too quiet (mean energy %.4f)", ErrEnrollmentFailed, meanEnergy)
	}

	if err := m.profiles.SaveProfile(ctx, raw); err != nil {
		return fmt.Errorf("save voice profile: %w", err)
	}
	if err := m.settings.SetBool(SettingEnrolled, true); err != nil {
		return fmt.Errorf("persist enrollment flag: %w", err)
	}

	m.logger.Info("voice enrollment complete",
		zap.Int("clips", len(clips)),
		zap.Float64("meanEnergy", meanEnergy))
	return nil
}

// ClearProfile removes the stored profile and resets the enrollment
// flag.
func (m *Manager) ClearProfile(ctx context.Context) error {
	if err := m.profiles.ClearProfile(ctx); err != nil {
		return fmt.Errorf("clear voice profile: %w", err)
	}
	if err := m.settings.SetBool(SettingEnrolled, false); err != nil {
		return fmt.Errorf("persist enrollment flag: %w", err)
	}
	m.logger.Info("voice profile cleared")
	return nil
}

// IsEnrolled reports whether a profile has been saved.
func (m *Manager) IsEnrolled() (bool, error) {
	return m.settings.GetBool(SettingEnrolled)
}
