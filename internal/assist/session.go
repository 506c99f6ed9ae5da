package assist

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voicegate/voicegate/domain/entities"
	"github.com/voicegate/voicegate/domain/repositories"
	"github.com/voicegate/voicegate/internal/dsp"
	"github.com/voicegate/voicegate/internal/metrics"
)

// Config tunes one conversational session.
type Config struct {
	SystemPrompt string
	Inference    InferenceConfiguration

	// HeartbeatInterval is the cadence of sessionHeartbeat envelopes.
	HeartbeatInterval time.Duration

	// IdleTimeout ends the session with reason "timeout" when neither
	// direction has carried traffic for this long. Zero disables it.
	IdleTimeout time.Duration

	SampleRate int
	Channels   int

	// QueueDepth bounds the outbound frame queue; oldest frames are
	// dropped when the network falls behind.
	QueueDepth int
}

// DefaultConfig returns the production session tuning.
func DefaultConfig() Config {
	return Config{
		Inference: InferenceConfiguration{
			MaxTokens:   1024,
			Temperature: 0.7,
			TopP:        0.9,
		},
		HeartbeatInterval: 30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		SampleRate:        entities.DefaultSampleRate,
		Channels:          1,
		QueueDepth:        6,
	}
}

// Status is the user-facing session snapshot published on every change.
type Status struct {
	State     entities.SessionState
	Link      entities.LinkStatus
	SessionID string
	Message   string // latest assistant text
	Speaking  bool   // assistant audio is rendering
	Listening bool   // microphone frames are flowing upstream
	VULevel   float32
}

// StatusFunc observes status snapshots.
type StatusFunc func(Status)

// session is the per-conversation state, replaced wholesale on each
// Start so a late goroutine from a dead session cannot touch a new one.
type session struct {
	id     string
	stream Stream
	frames chan []byte
	quit   chan struct{}

	lastActivity atomic.Int64 // unix nanos
	closeOnce    sync.Once
}

func (s *session) touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// Manager runs at most one conversational session. Start while active
// is a no-op; Stop is idempotent; the closed notification fires exactly
// once per session no matter how the session dies.
type Manager struct {
	cfg      Config
	dialer   Dialer
	playback repositories.PlaybackSink
	logger   *zap.Logger
	onStatus StatusFunc

	mu         sync.Mutex
	current    *session
	status     Status
	playCancel context.CancelFunc // cancels the render in flight

	// speakGen invalidates in-flight playback completions from a prior
	// session or turn.
	speakGen atomic.Int64
}

// NewManager wires a session manager. onStatus may be nil.
func NewManager(cfg Config, dialer Dialer, playback repositories.PlaybackSink, logger *zap.Logger, onStatus StatusFunc) *Manager {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = entities.DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Manager{
		cfg:      cfg,
		dialer:   dialer,
		playback: playback,
		logger:   logger,
		onStatus: onStatus,
	}
}

// Status returns the latest snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsActive reports whether a session is running.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// Start opens a new conversation. A second Start while one is active
// does nothing and returns nil.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.current != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	sessionID := uuid.New().String()
	m.publish(func(st *Status) {
		st.State = entities.SessionConnecting
		st.Link = entities.LinkConnecting
		st.SessionID = sessionID
		st.Message = ""
		st.Speaking = false
		st.Listening = false
	})

	stream, err := m.dialer.Dial(ctx, sessionID)
	if err != nil {
		m.publish(func(st *Status) {
			st.State = entities.SessionClosed
			st.Link = entities.LinkDisconnected
		})
		return fmt.Errorf("open conversational session: %w", err)
	}

	start := NewSessionStart(sessionID, m.cfg.SystemPrompt, m.cfg.Inference, nil)
	if err := stream.Send(start); err != nil {
		stream.Close()
		m.publish(func(st *Status) {
			st.State = entities.SessionClosed
			st.Link = entities.LinkDisconnected
		})
		return fmt.Errorf("start conversational session: %w", err)
	}

	s := &session{
		id:     sessionID,
		stream: stream,
		frames: make(chan []byte, m.cfg.QueueDepth),
		quit:   make(chan struct{}),
	}
	s.touch()

	m.mu.Lock()
	if m.current != nil {
		// Lost the race to a concurrent Start; fold this attempt.
		m.mu.Unlock()
		stream.Send(NewSessionEnd(sessionID, ReasonUserEnd))
		stream.Close()
		return nil
	}
	m.current = s
	m.mu.Unlock()

	m.speakGen.Add(1)
	metrics.AssistantSessionState.Set(float64(entities.SessionActive))
	m.publish(func(st *Status) {
		st.State = entities.SessionActive
		st.Link = entities.LinkConnected
		st.Listening = true
	})
	m.logger.Info("conversational session started", zap.String("sessionId", sessionID))

	go m.sendLoop(s)
	go m.receiveLoop(s)
	go m.watchdog(s)
	return nil
}

// Stop ends the active session with the given reason. Calling it with
// no session active is a no-op.
func (m *Manager) Stop(reason string) {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return
	}
	m.publish(func(st *Status) {
		if st.State == entities.SessionActive {
			st.State = entities.SessionEnding
		}
	})
	metrics.AssistantSessionState.Set(float64(entities.SessionEnding))
	m.endSession(s, reason)
}

// OnFrame queues one conditioned microphone frame for upstream
// delivery. Never blocks: when the queue is full the oldest frame is
// dropped and the link is marked degraded until delivery catches up.
func (m *Manager) OnFrame(frame entities.AudioFrame) {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return
	}

	level := float32(dsp.RMS(frame.Samples) * 4)
	if level > 1 {
		level = 1
	}

	pcm := dsp.SamplesToBytes(frame.Samples)
	dropped := false
	select {
	case s.frames <- pcm:
	default:
		select {
		case <-s.frames:
			metrics.AssistantFramesDropped.Inc()
			dropped = true
		default:
		}
		select {
		case s.frames <- pcm:
		default:
		}
	}

	m.publish(func(st *Status) {
		st.VULevel = level
		if dropped {
			st.Link = entities.LinkDegraded
		} else if st.Link == entities.LinkDegraded {
			st.Link = entities.LinkConnected
		}
	})
}

func (m *Manager) sendLoop(s *session) {
	for {
		select {
		case <-s.quit:
			return
		case pcm := <-s.frames:
			env := NewAudioInput(s.id, pcm, m.cfg.SampleRate, m.cfg.Channels)
			if err := s.stream.Send(env); err != nil {
				m.logger.Warn("audio upstream send failed", zap.Error(err))
				m.endSession(s, ReasonRemoteEnd)
				return
			}
			s.touch()
		}
	}
}

func (m *Manager) receiveLoop(s *session) {
	for {
		select {
		case <-s.quit:
			return
		case env, ok := <-s.stream.Receive():
			if !ok {
				if err := s.stream.Err(); err != nil {
					m.logger.Error("conversational stream failed", zap.Error(err))
				}
				m.endSession(s, ReasonRemoteEnd)
				return
			}
			s.touch()
			m.handleEvent(s, env)
		}
	}
}

func (m *Manager) handleEvent(s *session, env Envelope) {
	switch env.Event {
	case EventTextOutput:
		m.publish(func(st *Status) { st.Message = env.TextOutput.Content })
	case EventAudioOutput:
		pcm, err := env.AudioOutput.DecodeAudio()
		if err != nil {
			m.logger.Warn("undecodable assistant audio", zap.Error(err))
			return
		}
		m.playAudio(pcm, env.AudioOutput.AudioFormat)
	case EventContentEnd:
		m.stopSpeaking()
	case EventSessionEnd:
		reason := ReasonRemoteEnd
		if env.SessionEnd != nil && env.SessionEnd.Reason != "" {
			reason = env.SessionEnd.Reason
		}
		m.logger.Info("session ended by remote", zap.String("reason", reason))
		m.endSession(s, reason)
	default:
		m.logger.Debug("ignoring envelope", zap.String("event", env.Event))
	}
}

// playAudio renders one assistant chunk. The sink blocks for the render
// duration, so Speaking tracks real output time. A new chunk cancels
// any render still in flight, so speech never overlaps; the generation
// check keeps a stale completion from silencing newer speech.
func (m *Manager) playAudio(pcm []byte, format *AudioFormat) {
	sampleRate := m.cfg.SampleRate
	channels := m.cfg.Channels
	if format != nil {
		if format.SampleRateHz > 0 {
			sampleRate = format.SampleRateHz
		}
		if format.Channels > 0 {
			channels = format.Channels
		}
	}

	gen := m.speakGen.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	m.mu.Lock()
	if m.playCancel != nil {
		m.playCancel()
	}
	m.playCancel = cancel
	m.mu.Unlock()
	m.publish(func(st *Status) { st.Speaking = true })

	go func() {
		defer cancel()
		if ctx.Err() != nil {
			// Replaced before the render started; skip the write entirely
			// so superseded chunks never reach the sink out of order.
			return
		}
		if err := m.playback.Play(ctx, pcm, sampleRate, channels); err != nil && ctx.Err() == nil {
			m.logger.Warn("assistant playback failed", zap.Error(err))
		}
		if m.speakGen.Load() == gen {
			m.publish(func(st *Status) { st.Speaking = false })
		}
	}()
}

// stopSpeaking cancels the render in flight and clears the speaking
// flag immediately, without waiting for the sink to drain.
func (m *Manager) stopSpeaking() {
	m.speakGen.Add(1)
	m.mu.Lock()
	if m.playCancel != nil {
		m.playCancel()
		m.playCancel = nil
	}
	m.mu.Unlock()
	m.publish(func(st *Status) { st.Speaking = false })
}

// watchdog sends heartbeats and enforces the idle timeout. A
// non-positive heartbeat interval disables heartbeats. The idle check
// runs at half the timeout (at least every second) so the session ends
// within one check interval of going stale.
func (m *Manager) watchdog(s *session) {
	var heartbeatC <-chan time.Time
	if m.cfg.HeartbeatInterval > 0 {
		heartbeat := time.NewTicker(m.cfg.HeartbeatInterval)
		defer heartbeat.Stop()
		heartbeatC = heartbeat.C
	}

	idleCadence := m.cfg.IdleTimeout / 2
	if idleCadence < time.Second {
		idleCadence = time.Second
	}
	idle := time.NewTicker(idleCadence)
	defer idle.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-heartbeatC:
			if err := s.stream.Send(NewHeartbeat(s.id)); err != nil {
				m.logger.Warn("heartbeat send failed", zap.Error(err))
				m.endSession(s, ReasonRemoteEnd)
				return
			}
		case <-idle.C:
			if m.cfg.IdleTimeout <= 0 {
				continue
			}
			last := time.Unix(0, s.lastActivity.Load())
			if time.Since(last) >= m.cfg.IdleTimeout {
				m.logger.Info("session idle timeout", zap.String("sessionId", s.id))
				m.endSession(s, ReasonTimeout)
				return
			}
		}
	}
}

// endSession tears a session down exactly once. Every failure path and
// both local and remote ends funnel through here, so the Closed status
// is published once per session.
func (m *Manager) endSession(s *session, reason string) {
	s.closeOnce.Do(func() {
		close(s.quit)

		if err := s.stream.Send(NewSessionEnd(s.id, reason)); err != nil {
			m.logger.Debug("sessionEnd send failed", zap.Error(err))
		}
		s.stream.Close()

		m.mu.Lock()
		if m.current == s {
			m.current = nil
		}
		if m.playCancel != nil {
			m.playCancel()
			m.playCancel = nil
		}
		m.mu.Unlock()

		m.speakGen.Add(1)
		metrics.AssistantSessionState.Set(float64(entities.SessionClosed))
		m.publish(func(st *Status) {
			st.State = entities.SessionClosed
			st.Link = entities.LinkDisconnected
			st.Speaking = false
			st.Listening = false
			st.VULevel = 0
		})
		m.logger.Info("conversational session closed",
			zap.String("sessionId", s.id),
			zap.String("reason", reason))
	})
}

func (m *Manager) publish(mutate func(*Status)) {
	m.mu.Lock()
	mutate(&m.status)
	snapshot := m.status
	m.mu.Unlock()
	if m.onStatus != nil {
		m.onStatus(snapshot)
	}
}
