package verify

import (
	"fmt"
	"math"
)

// Model extracts a fixed-length speaker embedding from raw PCM16 audio.
//
// Input is signed little-endian 16-bit mono PCM at the engine's sample
// rate. Output is a dense vector of length Dimension(). Implementations
// must be safe for concurrent use; the engine may also build the
// enrollment reference while live windows are being scored.
type Model interface {
	Extract(pcm []byte) ([]float32, error)
	Dimension() int
	Close() error
}

// FbankModel is the built-in embedding model: the time-averaged log-mel
// spectrum of the input, mean-subtracted and L2-normalized. Averaging
// over frames discards phase and timing, mean subtraction discards
// broadband level, leaving the spectral shape of the voice for cosine
// matching against an enrolled profile.
//
// Degenerate input (silence, or fewer samples than one analysis frame)
// yields the zero vector, which cosine-scores 0 against any profile.
type FbankModel struct {
	extractor *FeatureExtractor
}

// NewFbankModel builds the model with the given analysis config.
func NewFbankModel(cfg FbankConfig) (*FbankModel, error) {
	extractor, err := NewFeatureExtractor(cfg)
	if err != nil {
		return nil, fmt.Errorf("feature extractor: %w", err)
	}
	return &FbankModel{extractor: extractor}, nil
}

func (m *FbankModel) Dimension() int {
	return m.extractor.cfg.MelBins
}

func (m *FbankModel) Extract(pcm []byte) ([]float32, error) {
	sampleCount := len(pcm) / 2
	frameCount := m.extractor.FrameCountFor(sampleCount)
	if frameCount == 0 {
		return make([]float32, m.Dimension()), nil
	}

	samples := make([]int16, sampleCount)
	for i := 0; i < sampleCount; i++ {
		samples[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}

	frames := m.extractor.Compute(samples, frameCount)
	dim := m.Dimension()
	mean := make([]float64, dim)
	for _, frame := range frames {
		for i, v := range frame {
			mean[i] += v
		}
	}
	var vectorMean float64
	for i := range mean {
		mean[i] /= float64(frameCount)
		vectorMean += mean[i]
	}
	vectorMean /= float64(dim)

	var norm float64
	for i := range mean {
		mean[i] -= vectorMean
		norm += mean[i] * mean[i]
	}
	norm = math.Sqrt(norm)

	embedding := make([]float32, dim)
	if norm < 1e-9 {
		return embedding, nil
	}
	for i := range mean {
		embedding[i] = float32(mean[i] / norm)
	}
	return embedding, nil
}

func (m *FbankModel) Close() error { return nil }

// cosineSimilarity returns the cosine of the angle between two vectors,
// clamped to [-1, 1], or 0 for mismatched or zero-norm inputs.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return float32(sim)
}
