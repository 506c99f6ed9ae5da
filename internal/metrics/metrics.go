// Package metrics exposes Prometheus collectors for the audio pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesCaptured counts frames read from the capture device.
	FramesCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voicegate",
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Audio frames read from the capture device.",
	})

	// WindowsEmitted counts windows produced by the aggregator.
	WindowsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voicegate",
		Subsystem: "capture",
		Name:      "windows_total",
		Help:      "Fixed-size audio windows emitted by the aggregator.",
	})

	// WindowsForwarded counts windows sent to the transcription service,
	// partitioned by outcome (forwarded, redacted, ambient).
	WindowsForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voicegate",
		Subsystem: "transcription",
		Name:      "windows_total",
		Help:      "Windows streamed to the transcription service by outcome.",
	}, []string{"outcome"})

	// TranscriptionActive reports whether a transcription session is live.
	TranscriptionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voicegate",
		Subsystem: "transcription",
		Name:      "session_active",
		Help:      "1 while a transcription streaming session is open.",
	})

	// AssistantFramesDropped counts frames discarded by the bounded
	// conversational ingest queue.
	AssistantFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voicegate",
		Subsystem: "assistant",
		Name:      "frames_dropped_total",
		Help:      "Audio frames dropped by the assistant ingest queue.",
	})

	// AssistantSessionState reports the conversational session lifecycle
	// state as an enum gauge.
	AssistantSessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voicegate",
		Subsystem: "assistant",
		Name:      "session_state",
		Help:      "Conversational session state (0 idle, 1 connecting, 2 active, 3 ending, 4 closed).",
	})

	// VerificationConfidence reports the latest speaker verification
	// confidence.
	VerificationConfidence = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voicegate",
		Subsystem: "verification",
		Name:      "confidence",
		Help:      "Latest speaker verification confidence in [0, 1].",
	})
)
