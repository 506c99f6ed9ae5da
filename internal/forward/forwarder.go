// Package forward gates audio windows on voice activity and speaker
// verification, then streams them to the transcription service.
package forward

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicegate/voicegate/domain/entities"
	"github.com/voicegate/voicegate/domain/repositories"
	"github.com/voicegate/voicegate/internal/dsp"
	"github.com/voicegate/voicegate/internal/metrics"
)

// VerifierState supplies the latest speaker verification observation.
type VerifierState interface {
	State() entities.VerificationState
}

// Phase is the forwarder lifecycle.
type Phase int

const (
	PhaseDisabled Phase = iota
	PhaseStarting
	PhaseActive
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseDisabled:
		return "disabled"
	case PhaseStarting:
		return "starting"
	case PhaseActive:
		return "active"
	case PhaseStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config tunes the gating and the downstream session.
type Config struct {
	// VADThreshold is the window RMS below which audio is considered
	// ambient and forwarded unredacted.
	VADThreshold float64

	// RedactUnknown treats an Unknown verification status like a
	// mismatch: voiced audio without a confirmed speaker is zeroed.
	RedactUnknown bool

	Language   string
	SampleRate int
}

// DefaultConfig returns the production gating.
func DefaultConfig() Config {
	return Config{
		VADThreshold:  0.012,
		RedactUnknown: true,
		Language:      "en-US",
		SampleRate:    entities.DefaultSampleRate,
	}
}

// TranscriptFunc observes each transcription result.
type TranscriptFunc func(entities.TranscriptResult)

// StatusFunc observes phase transitions.
type StatusFunc func(Phase)

// Forwarder owns one transcription session at a time. Every completed
// window passes through a redaction decision: ambient audio (below the
// VAD threshold) and verified speech go through unchanged; voiced audio
// from an unverified speaker is replaced with zeros of equal length, so
// the downstream stream keeps its timing while the content disappears.
//
// Session failures tear the forwarder down to disabled; re-enabling
// opens a fresh session rather than resurrecting the dead one.
type Forwarder struct {
	cfg      Config
	service  repositories.TranscriptionService
	verifier VerifierState
	logger   *zap.Logger
	onResult TranscriptFunc
	onStatus StatusFunc

	mu     sync.Mutex
	phase  Phase
	stream repositories.TranscriptionStream
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewForwarder wires the gate. onResult and onStatus may be nil.
func NewForwarder(cfg Config, service repositories.TranscriptionService, verifier VerifierState, logger *zap.Logger, onResult TranscriptFunc, onStatus StatusFunc) *Forwarder {
	if cfg.VADThreshold <= 0 {
		cfg.VADThreshold = DefaultConfig().VADThreshold
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = entities.DefaultSampleRate
	}
	return &Forwarder{
		cfg:      cfg,
		service:  service,
		verifier: verifier,
		logger:   logger,
		onResult: onResult,
		onStatus: onStatus,
	}
}

// Phase returns the current lifecycle phase.
func (f *Forwarder) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

// SetEnabled opens or closes the transcription session. Enabling while
// already enabled (or disabling while disabled) is a no-op.
func (f *Forwarder) SetEnabled(ctx context.Context, enabled bool) error {
	if enabled {
		return f.enable(ctx)
	}
	f.disable()
	return nil
}

func (f *Forwarder) enable(ctx context.Context) error {
	f.mu.Lock()
	if f.phase != PhaseDisabled {
		f.mu.Unlock()
		return nil
	}
	f.phase = PhaseStarting
	f.mu.Unlock()
	f.notify(PhaseStarting)

	stream, err := f.service.StartSession(ctx, repositories.AudioStreamConfig{
		SampleRate: f.cfg.SampleRate,
		Language:   f.cfg.Language,
	})
	if err != nil {
		f.mu.Lock()
		f.phase = PhaseDisabled
		f.mu.Unlock()
		f.notify(PhaseDisabled)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	f.mu.Lock()
	f.phase = PhaseActive
	f.stream = stream
	f.cancel = cancel
	f.wg.Add(2)
	go f.pumpResults(stream)
	go f.watchSession(runCtx, stream)
	f.mu.Unlock()

	metrics.TranscriptionActive.Set(1)
	f.logger.Info("transcription session started",
		zap.String("sessionId", stream.SessionID()),
		zap.String("language", f.cfg.Language))
	f.notify(PhaseActive)
	return nil
}

func (f *Forwarder) disable() {
	f.mu.Lock()
	if f.phase != PhaseActive && f.phase != PhaseStarting {
		f.mu.Unlock()
		return
	}
	f.phase = PhaseStopping
	stream := f.stream
	cancel := f.cancel
	f.stream = nil
	f.cancel = nil
	f.mu.Unlock()
	f.notify(PhaseStopping)

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			f.logger.Warn("transcription stream close failed", zap.Error(err))
		}
	}
	f.wg.Wait()

	f.mu.Lock()
	f.phase = PhaseDisabled
	f.mu.Unlock()
	metrics.TranscriptionActive.Set(0)
	f.logger.Info("transcription session stopped")
	f.notify(PhaseDisabled)
}

// OnWindow applies the redaction decision and ships the window. Called
// from the capture fan-out; it must not block, so a full send buffer
// falls back to an asynchronous blocking send.
func (f *Forwarder) OnWindow(window entities.AudioWindow) {
	f.mu.Lock()
	stream := f.stream
	active := f.phase == PhaseActive
	f.mu.Unlock()
	if !active || stream == nil {
		return
	}

	payload, outcome := f.gate(window.Data)
	metrics.WindowsForwarded.WithLabelValues(outcome).Inc()

	if stream.TrySend(payload) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stream.Send(ctx, payload); err != nil && !errors.Is(err, context.Canceled) {
			f.logger.Warn("transcription send failed", zap.Error(err))
		}
	}()
}

// gate decides what leaves the device. The returned slice is always a
// copy; callers upstream may reuse the window buffer.
func (f *Forwarder) gate(data []byte) ([]byte, string) {
	rms := dsp.RMSBytes(data)
	if rms < f.cfg.VADThreshold {
		out := make([]byte, len(data))
		copy(out, data)
		return out, "ambient"
	}

	state := f.verifier.State()
	pass := state.Status == entities.VerificationMatch
	if !f.cfg.RedactUnknown && state.Status == entities.VerificationUnknown {
		pass = true
	}
	if pass {
		out := make([]byte, len(data))
		copy(out, data)
		return out, "forwarded"
	}
	return make([]byte, len(data)), "redacted"
}

func (f *Forwarder) pumpResults(stream repositories.TranscriptionStream) {
	defer f.wg.Done()
	for result := range stream.Results() {
		if f.onResult != nil {
			f.onResult(result)
		}
	}
}

// watchSession tears the forwarder down when the stream dies on its
// own. No automatic restart: the user toggles streaming back on and
// gets a fresh session.
func (f *Forwarder) watchSession(ctx context.Context, stream repositories.TranscriptionStream) {
	defer f.wg.Done()
	select {
	case <-ctx.Done():
		return
	case <-stream.Done():
	}

	if err := stream.Err(); err != nil {
		f.logger.Error("transcription session ended", zap.Error(err))
	}

	f.mu.Lock()
	if f.stream != stream {
		f.mu.Unlock()
		return
	}
	f.phase = PhaseDisabled
	f.stream = nil
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	stream.Close()
	metrics.TranscriptionActive.Set(0)
	f.notify(PhaseDisabled)
}

func (f *Forwarder) notify(p Phase) {
	if f.onStatus != nil {
		f.onStatus(p)
	}
}
