package verify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicegate/voicegate/domain/entities"
	"github.com/voicegate/voicegate/domain/repositories"
	"github.com/voicegate/voicegate/internal/dsp"
)

// Config tunes the verification decision.
type Config struct {
	// MatchThreshold is the minimum cosine confidence for a Match
	// decision in model mode.
	MatchThreshold float32

	// FallbackRMSDenominator maps window RMS onto a pseudo-confidence
	// when the engine runs without a model.
	FallbackRMSDenominator float64

	// ProfileWindowSamples is the chunk size enrollment clips are split
	// into when deriving the reference embedding.
	ProfileWindowSamples int

	// QueueDepth bounds the window backlog; older windows are dropped in
	// favor of fresher ones.
	QueueDepth int
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		MatchThreshold:         0.6,
		FallbackRMSDenominator: 0.4,
		ProfileWindowSamples:   16000,
		QueueDepth:             4,
	}
}

// StateFunc observes each new verification state as it is published.
type StateFunc func(entities.VerificationState)

type queuedWindow struct {
	data []byte
	ts   time.Time
}

// Engine scores audio windows against the enrolled speaker profile and
// publishes the latest VerificationState. Windows are processed by a
// single pump goroutine; AcceptWindow never blocks the caller and favors
// freshness over completeness when the pump falls behind.
//
// Two operating modes exist per window: model mode (embedding extraction
// plus cosine matching) and a degraded fallback (window RMS mapped to a
// bounded pseudo-confidence, status always Unknown). Inference failures
// degrade that window to fallback instead of propagating.
type Engine struct {
	cfg      Config
	model    Model // nil means permanent fallback mode
	profiles repositories.ProfileStore
	logger   *zap.Logger
	onState  StateFunc

	mu          sync.RWMutex
	state       entities.VerificationState
	reference   []float32
	refResolved bool

	windows chan queuedWindow
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewEngine creates the engine and starts its pump. A nil model is
// allowed and pins the engine in fallback mode.
func NewEngine(cfg Config, model Model, profiles repositories.ProfileStore, logger *zap.Logger, onState StateFunc) *Engine {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	e := &Engine{
		cfg:      cfg,
		model:    model,
		profiles: profiles,
		logger:   logger,
		onState:  onState,
		windows:  make(chan queuedWindow, cfg.QueueDepth),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go e.run()
	return e
}

// AcceptWindow enqueues a window for scoring. When the queue is full the
// oldest pending window is discarded first; live verification cares about
// the newest audio, not the backlog.
func (e *Engine) AcceptWindow(data []byte, ts time.Time) {
	if len(data) == 0 {
		return
	}
	w := queuedWindow{data: data, ts: ts}
	select {
	case e.windows <- w:
		return
	default:
	}
	select {
	case <-e.windows:
	default:
	}
	select {
	case e.windows <- w:
	default:
	}
}

// State returns the latest published observation.
func (e *Engine) State() entities.VerificationState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Reset clears the published state and the cached reference profile.
// Called when capture restarts or the user re-enrolls.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.state = entities.VerificationState{}
	e.reference = nil
	e.refResolved = false
	e.mu.Unlock()
}

// Close stops the pump. Safe to call more than once.
func (e *Engine) Close() error {
	e.once.Do(func() { close(e.quit) })
	<-e.done
	return nil
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.quit:
			return
		case w := <-e.windows:
			e.processWindow(w.data, w.ts)
		}
	}
}

func (e *Engine) processWindow(data []byte, ts time.Time) {
	if e.model == nil {
		e.publishFallback(data, ts)
		return
	}

	reference := e.resolveReference()

	embedding, err := e.model.Extract(data)
	if err != nil {
		e.logger.Error("speaker embedding inference failed, using fallback", zap.Error(err))
		e.publishFallback(data, ts)
		return
	}

	var confidence float32
	if reference != nil {
		confidence = clamp01(cosineSimilarity(embedding, reference))
	} else if len(embedding) > 0 {
		// No enrolled profile: treat the first output dimension as a raw
		// confidence score.
		confidence = clamp01(embedding[0])
	}

	status := entities.VerificationMismatch
	if confidence >= e.cfg.MatchThreshold {
		status = entities.VerificationMatch
	}
	e.publish(entities.VerificationState{
		Status:     status,
		Confidence: confidence,
		Timestamp:  ts,
	})
}

func (e *Engine) publishFallback(data []byte, ts time.Time) {
	rms := dsp.RMSBytes(data)
	confidence := rms / e.cfg.FallbackRMSDenominator
	if confidence > 1 {
		confidence = 1
	}
	e.publish(entities.VerificationState{
		Status:     entities.VerificationUnknown,
		Confidence: float32(confidence),
		Timestamp:  ts,
	})
}

func (e *Engine) publish(state entities.VerificationState) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
	if e.onState != nil {
		e.onState(state)
	}
}

// resolveReference returns the cached reference embedding, deriving it
// from the stored enrollment clips on first use. The result (including
// "no profile") sticks until Reset.
func (e *Engine) resolveReference() []float32 {
	e.mu.RLock()
	if e.refResolved {
		ref := e.reference
		e.mu.RUnlock()
		return ref
	}
	e.mu.RUnlock()

	ref := e.deriveReference()

	e.mu.Lock()
	if !e.refResolved {
		e.reference = ref
		e.refResolved = true
	}
	ref = e.reference
	e.mu.Unlock()
	return ref
}

func (e *Engine) deriveReference() []float32 {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clips, err := e.profiles.LoadProfile(ctx)
	if err != nil {
		e.logger.Error("failed to load voice profile", zap.Error(err))
		return nil
	}
	if len(clips) == 0 {
		e.logger.Debug("no enrolled voice profile, verifying without a reference")
		return nil
	}

	accumulator := make([]float32, e.model.Dimension())
	count := 0
	chunkBytes := e.cfg.ProfileWindowSamples * 2
	for i, clip := range clips {
		for offset := 0; offset < len(clip); offset += chunkBytes {
			end := offset + chunkBytes
			chunk := make([]byte, chunkBytes)
			if end > len(clip) {
				end = len(clip)
			}
			copy(chunk, clip[offset:end])

			embedding, err := e.model.Extract(chunk)
			if err != nil {
				e.logger.Error("failed to embed enrollment clip chunk",
					zap.Int("clip", i),
					zap.Int("offset", offset),
					zap.Error(err))
				continue
			}
			for j := range accumulator {
				accumulator[j] += embedding[j]
			}
			count++
		}
	}
	if count == 0 {
		e.logger.Warn("unable to derive reference embedding from profile clips")
		return nil
	}
	for j := range accumulator {
		accumulator[j] /= float32(count)
	}
	e.logger.Info("loaded speaker profile",
		zap.Int("clips", len(clips)),
		zap.Int("embeddings", count))
	return accumulator
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
