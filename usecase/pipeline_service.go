// Package usecase wires the audio pipeline components behind one
// service facade the API layer calls into.
package usecase

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/voicegate/voicegate/domain/entities"
	"github.com/voicegate/voicegate/domain/repositories"
	"github.com/voicegate/voicegate/internal/assist"
	"github.com/voicegate/voicegate/internal/capture"
	"github.com/voicegate/voicegate/internal/dsp"
	"github.com/voicegate/voicegate/internal/enroll"
	"github.com/voicegate/voicegate/internal/forward"
	"github.com/voicegate/voicegate/internal/metrics"
	"github.com/voicegate/voicegate/internal/verify"
	"github.com/voicegate/voicegate/internal/websocket"
)

// PipelineStatus is the full service snapshot returned by the status
// endpoint.
type PipelineStatus struct {
	Capturing      bool
	Enrolled       bool
	Recording      bool
	StreamingPhase forward.Phase
	Verification   entities.VerificationState
	Assistant      assist.Status
}

// PipelineService owns the capture, verification, transcription, and
// assistant subsystems and bridges their events onto the UI hub.
type PipelineService struct {
	engine     *capture.Engine
	verifier   *verify.Engine
	forwarder  *forward.Forwarder
	assistant  *assist.Manager
	enrollment *enroll.Manager
	hub        *websocket.Hub
	logger     *zap.Logger

	mu              sync.Mutex
	assistFrameID   int
	assistListening bool
}

// Deps collects the constructor inputs.
type Deps struct {
	Device        repositories.CaptureDevice
	Playback      repositories.PlaybackSink
	Transcription repositories.TranscriptionService
	Profiles      repositories.ProfileStore
	Settings      repositories.SettingsStore
	Model         verify.Model

	ForwardConfig forward.Config
	AssistConfig  assist.Config
	AssistDialer  assist.Dialer

	Hub    *websocket.Hub
	Logger *zap.Logger
}

// NewPipelineService builds and cross-wires the pipeline. The forwarder
// listens to every completed window; the assistant taps conditioned
// frames only while its session is active.
func NewPipelineService(deps Deps) (*PipelineService, error) {
	s := &PipelineService{
		hub:    deps.Hub,
		logger: deps.Logger,
	}

	s.verifier = verify.NewEngine(
		verify.DefaultConfig(),
		deps.Model,
		deps.Profiles,
		deps.Logger,
		s.onVerification,
	)

	s.forwarder = forward.NewForwarder(
		deps.ForwardConfig,
		deps.Transcription,
		s.verifier,
		deps.Logger,
		s.onTranscript,
		s.onStreamingPhase,
	)

	s.engine = capture.NewEngine(
		deps.Device,
		s.verifier,
		dsp.DefaultProcessingConfig(entities.DefaultSampleRate),
		deps.Logger,
	)
	s.engine.RegisterWindowListener(s.forwarder.OnWindow)

	if deps.AssistDialer != nil {
		s.assistant = assist.NewManager(
			deps.AssistConfig,
			deps.AssistDialer,
			deps.Playback,
			deps.Logger,
			s.onAssistantStatus,
		)
	}

	s.enrollment = enroll.NewManager(
		s.engine,
		deps.Profiles,
		deps.Settings,
		deps.Logger,
		s.onAmplitude,
	)

	return s, nil
}

// StartCapture begins the live pipeline.
func (s *PipelineService) StartCapture(ctx context.Context) error {
	return s.engine.Start(ctx, capture.Options{StreamToVerifier: true})
}

// StopCapture halts the live pipeline.
func (s *PipelineService) StopCapture() {
	s.engine.Stop()
}

// SetStreaming toggles transcription forwarding.
func (s *PipelineService) SetStreaming(ctx context.Context, enabled bool) error {
	return s.forwarder.SetEnabled(ctx, enabled)
}

// StartAssistant opens a conversational session, tapping conditioned
// frames for upstream audio for the session's lifetime.
func (s *PipelineService) StartAssistant(ctx context.Context) error {
	if s.assistant == nil {
		return fmt.Errorf("assistant is not configured")
	}
	if err := s.assistant.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.assistListening {
		s.assistFrameID = s.engine.RegisterChunkListener(s.assistant.OnFrame)
		s.assistListening = true
	}
	s.mu.Unlock()
	return nil
}

// StopAssistant ends the conversational session.
func (s *PipelineService) StopAssistant() {
	if s.assistant == nil {
		return
	}
	s.assistant.Stop(assist.ReasonUserEnd)
	s.detachAssistant()
}

func (s *PipelineService) detachAssistant() {
	s.mu.Lock()
	if s.assistListening {
		s.engine.RemoveChunkListener(s.assistFrameID)
		s.assistListening = false
	}
	s.mu.Unlock()
}

// StartEnrollmentRecording begins one enrollment clip.
func (s *PipelineService) StartEnrollmentRecording(ctx context.Context) error {
	return s.enrollment.StartRecording(ctx)
}

// StopEnrollmentRecording finishes the clip.
func (s *PipelineService) StopEnrollmentRecording() (enroll.Clip, error) {
	return s.enrollment.StopRecording()
}

// CancelEnrollmentRecording discards the clip.
func (s *PipelineService) CancelEnrollmentRecording() error {
	return s.enrollment.CancelRecording()
}

// FinalizeEnrollment persists the recorded clips as the voice profile
// and resets the verifier so the new reference takes effect.
func (s *PipelineService) FinalizeEnrollment(ctx context.Context, clips []enroll.Clip) error {
	if err := s.enrollment.Finalize(ctx, clips); err != nil {
		return err
	}
	s.verifier.Reset()
	return nil
}

// ClearEnrollment removes the voice profile.
func (s *PipelineService) ClearEnrollment(ctx context.Context) error {
	if err := s.enrollment.ClearProfile(ctx); err != nil {
		return err
	}
	s.verifier.Reset()
	return nil
}

// Status returns the full pipeline snapshot.
func (s *PipelineService) Status() PipelineStatus {
	status := PipelineStatus{
		Capturing:      s.engine.IsCapturing(),
		Recording:      s.enrollment.IsRecording(),
		StreamingPhase: s.forwarder.Phase(),
		Verification:   s.verifier.State(),
	}
	if enrolled, err := s.enrollment.IsEnrolled(); err == nil {
		status.Enrolled = enrolled
	}
	if s.assistant != nil {
		status.Assistant = s.assistant.Status()
	}
	return status
}

// Close shuts the subsystems down.
func (s *PipelineService) Close() error {
	s.StopAssistant()
	s.forwarder.SetEnabled(context.Background(), false)
	s.engine.Stop()
	return s.verifier.Close()
}

func (s *PipelineService) onVerification(state entities.VerificationState) {
	metrics.VerificationConfidence.Set(float64(state.Confidence))
	s.hub.Broadcast(websocket.NewEvent(websocket.TypeVerification, websocket.VerificationPayload{
		Status:     state.Status.String(),
		Confidence: state.Confidence,
	}))
}

func (s *PipelineService) onTranscript(result entities.TranscriptResult) {
	s.hub.Broadcast(websocket.NewEvent(websocket.TypeTranscript, websocket.TranscriptPayload{
		SessionID: result.SessionID,
		Text:      result.Text,
		Partial:   result.Partial,
		StartTime: result.StartTime,
		EndTime:   result.EndTime,
		Sequence:  result.Sequence,
	}))
}

func (s *PipelineService) onStreamingPhase(phase forward.Phase) {
	s.hub.Broadcast(websocket.NewEvent(websocket.TypeStreamingPhase, websocket.StreamingPhasePayload{
		Phase: phase.String(),
	}))
}

func (s *PipelineService) onAssistantStatus(status assist.Status) {
	if status.State == entities.SessionClosed {
		s.detachAssistant()
	}
	s.hub.Broadcast(websocket.NewEvent(websocket.TypeAssistantStatus, websocket.AssistantStatusPayload{
		State:     status.State.String(),
		Link:      status.Link.String(),
		SessionID: status.SessionID,
		Message:   status.Message,
		Speaking:  status.Speaking,
		Listening: status.Listening,
		VULevel:   status.VULevel,
	}))
}

func (s *PipelineService) onAmplitude(level float32) {
	s.hub.Broadcast(websocket.NewEvent(websocket.TypeAmplitude, websocket.AmplitudePayload{
		Level: level,
	}))
}
