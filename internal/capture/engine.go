// Package capture owns the microphone read loop and fans conditioned
// frames out to the rest of the pipeline.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voicegate/voicegate/domain/entities"
	"github.com/voicegate/voicegate/domain/repositories"
	"github.com/voicegate/voicegate/internal/dsp"
	"github.com/voicegate/voicegate/internal/metrics"
	"github.com/voicegate/voicegate/internal/verify"
)

// WindowSamples is the window aggregation size: ~0.96s at 16kHz.
const WindowSamples = 15600

var (
	// ErrAlreadyCapturing is returned by Start when a session is active.
	// Callers get an explicit status instead of a silent ignore.
	ErrAlreadyCapturing = errors.New("capture already active")

	// ErrDeviceUnavailable wraps hardware initialization failures. The
	// attempt is fatal; retrying is the caller's decision.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
)

// ChunkListener receives each conditioned frame. Every listener gets its
// own copy of the samples and must return quickly; a slow listener stalls
// the fan-out, never the other consumers' data.
type ChunkListener func(frame entities.AudioFrame)

// WindowListener receives each completed window.
type WindowListener func(window entities.AudioWindow)

// Options control a single capture session.
type Options struct {
	// Config is the device configuration; zero value means defaults.
	Config entities.CaptureConfig

	// StreamToVerifier routes completed windows into the verification
	// engine. Disabled during enrollment recording, which reuses the
	// same device.
	StreamToVerifier bool
}

// Engine drives one capture session at a time: a dedicated goroutine
// reads hardware frames, conditions them, and fans copies out to chunk
// listeners, the window aggregator, and (optionally) the verifier.
// Start and Stop are safe for concurrent use; Stop is idempotent.
type Engine struct {
	device   repositories.CaptureDevice
	verifier *verify.Engine
	procCfg  dsp.ProcessingConfig
	logger   *zap.Logger

	mu              sync.Mutex
	running         bool
	cancel          context.CancelFunc
	done            chan struct{}
	stream          repositories.CaptureStream
	nextListenerID  int
	chunkListeners  map[int]ChunkListener
	windowListeners map[int]WindowListener
}

// NewEngine creates an engine bound to a device and verifier. The
// processing config's sample rate is overridden per session by the
// capture config.
func NewEngine(device repositories.CaptureDevice, verifier *verify.Engine, procCfg dsp.ProcessingConfig, logger *zap.Logger) *Engine {
	return &Engine{
		device:          device,
		verifier:        verifier,
		procCfg:         procCfg,
		logger:          logger,
		chunkListeners:  make(map[int]ChunkListener),
		windowListeners: make(map[int]WindowListener),
	}
}

// RegisterChunkListener subscribes to conditioned frames and returns an
// id for RemoveChunkListener. Registration survives capture restarts.
func (e *Engine) RegisterChunkListener(l ChunkListener) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextListenerID++
	e.chunkListeners[e.nextListenerID] = l
	return e.nextListenerID
}

// RemoveChunkListener unsubscribes a chunk listener.
func (e *Engine) RemoveChunkListener(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.chunkListeners, id)
}

// RegisterWindowListener subscribes to completed windows.
func (e *Engine) RegisterWindowListener(l WindowListener) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextListenerID++
	e.windowListeners[e.nextListenerID] = l
	return e.nextListenerID
}

// RemoveWindowListener unsubscribes a window listener.
func (e *Engine) RemoveWindowListener(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.windowListeners, id)
}

// IsCapturing reports whether a session is active.
func (e *Engine) IsCapturing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start opens the device and begins the read loop. It returns
// ErrAlreadyCapturing if a session is active and ErrDeviceUnavailable if
// the device cannot be opened.
func (e *Engine) Start(ctx context.Context, opts Options) error {
	cfg := opts.Config
	if cfg == (entities.CaptureConfig{}) {
		cfg = entities.DefaultCaptureConfig()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid capture config: %w", err)
	}

	procCfg := e.procCfg
	procCfg.SampleRate = cfg.SampleRate
	conditioner, err := dsp.NewConditioner(procCfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyCapturing
	}

	stream, err := e.device.Open(ctx, cfg)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	if e.verifier != nil {
		e.verifier.Reset()
	}

	aggregator, err := dsp.NewWindowAggregator(WindowSamples*entities.BytesPerSample, func(data []byte, start time.Time) {
		metrics.WindowsEmitted.Inc()
		e.dispatchWindow(entities.AudioWindow{Data: data, Start: start}, opts.StreamToVerifier)
	})
	if err != nil {
		stream.Close()
		e.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.running = true
	e.cancel = cancel
	e.done = done
	e.stream = stream
	e.mu.Unlock()

	e.logger.Info("starting audio capture",
		zap.Int("sampleRate", cfg.SampleRate),
		zap.Int("channels", cfg.Channels),
		zap.Bool("streamToVerifier", opts.StreamToVerifier))

	go e.readLoop(runCtx, stream, cfg, conditioner, aggregator, done)
	return nil
}

// Stop halts delivery, flushes the in-flight window, and releases the
// device. Safe to call multiple times and while not capturing.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	done := e.done
	stream := e.stream
	e.running = false
	e.cancel = nil
	e.done = nil
	e.stream = nil
	e.mu.Unlock()

	e.logger.Info("stopping audio capture")
	cancel()
	stream.Close()
	<-done

	if e.verifier != nil {
		e.verifier.Reset()
	}
}

func (e *Engine) readLoop(ctx context.Context, stream repositories.CaptureStream, cfg entities.CaptureConfig, conditioner *dsp.Conditioner, aggregator *dsp.WindowAggregator, done chan struct{}) {
	defer close(done)
	defer aggregator.Flush()

	buf := make([]int16, cfg.BufferSamples())
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := make([]int16, n)
			copy(chunk, buf[:n])
			conditioner.Process(chunk)
			ts := time.Now()
			metrics.FramesCaptured.Inc()

			e.dispatchChunk(entities.AudioFrame{Samples: chunk, Timestamp: ts})
			aggregator.Append(chunk, ts)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				e.logger.Error("capture device read failed", zap.Error(err))
			}
			return
		}
	}
}

func (e *Engine) dispatchChunk(frame entities.AudioFrame) {
	e.mu.Lock()
	listeners := make([]ChunkListener, 0, len(e.chunkListeners))
	for _, l := range e.chunkListeners {
		listeners = append(listeners, l)
	}
	e.mu.Unlock()

	for _, l := range listeners {
		l(frame.Clone())
	}
}

func (e *Engine) dispatchWindow(window entities.AudioWindow, toVerifier bool) {
	if toVerifier && e.verifier != nil {
		e.verifier.AcceptWindow(window.Data, window.Start)
	}

	e.mu.Lock()
	listeners := make([]WindowListener, 0, len(e.windowListeners))
	for _, l := range e.windowListeners {
		listeners = append(listeners, l)
	}
	e.mu.Unlock()

	for _, l := range listeners {
		l(window)
	}
}
