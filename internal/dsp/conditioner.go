package dsp

import (
	"fmt"
	"math"
)

// ProcessingConfig parameterizes the noise conditioning chain. Derived
// constants (noise floor amplitude, high-pass coefficient) are computed
// once in NewConditioner and reused for every frame.
type ProcessingConfig struct {
	SampleRate     int
	TargetRMS      float64 // loudness target the AGC converges to
	MinGain        float64
	MaxGain        float64
	NoiseFloorDB   float64 // gate threshold, dBFS (negative)
	Smoothing      float64 // EMA factor for gain changes, [0, 1)
	HighPassCutoff float64 // Hz
}

// DefaultProcessingConfig returns the tuning used for speech capture.
func DefaultProcessingConfig(sampleRate int) ProcessingConfig {
	return ProcessingConfig{
		SampleRate:     sampleRate,
		TargetRMS:      0.12,
		MinGain:        0.6,
		MaxGain:        4.0,
		NoiseFloorDB:   -55,
		Smoothing:      0.85,
		HighPassCutoff: 120,
	}
}

// Validate rejects configurations eagerly, before any audio flows.
func (c ProcessingConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.TargetRMS < 0 || c.TargetRMS > 1 {
		return fmt.Errorf("target RMS must be between 0 and 1, got %f", c.TargetRMS)
	}
	if c.MinGain <= 0 {
		return fmt.Errorf("min gain must be positive, got %f", c.MinGain)
	}
	if c.MaxGain < c.MinGain {
		return fmt.Errorf("max gain %f must be >= min gain %f", c.MaxGain, c.MinGain)
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		return fmt.Errorf("smoothing factor must be in [0, 1), got %f", c.Smoothing)
	}
	nyquist := float64(c.SampleRate) / 2
	if c.HighPassCutoff < 20 || c.HighPassCutoff > nyquist {
		return fmt.Errorf("high-pass cutoff %f outside [20, %f] Hz", c.HighPassCutoff, nyquist)
	}
	return nil
}

// Conditioner applies adaptive gain, a single-pole high-pass filter and a
// noise gate to successive frames. Filter state carries across frames and
// belongs to exactly one capture session; call Reset when capture restarts.
// Not safe for concurrent use.
type Conditioner struct {
	cfg        ProcessingConfig
	noiseFloor float64 // linear amplitude for NoiseFloorDB
	alpha      float64 // high-pass coefficient

	prevInput  float64
	prevOutput float64
	prevGain   float64
}

// NewConditioner validates cfg and precomputes the derived constants.
func NewConditioner(cfg ProcessingConfig) (*Conditioner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid processing config: %w", err)
	}
	rc := 1 / (2 * math.Pi * cfg.HighPassCutoff)
	dt := 1 / float64(cfg.SampleRate)
	alpha := rc / (rc + dt)
	if alpha > 0.995 {
		alpha = 0.995
	}
	return &Conditioner{
		cfg:        cfg,
		noiseFloor: math.Pow(10, cfg.NoiseFloorDB/20),
		alpha:      alpha,
		prevGain:   1,
	}, nil
}

// Process conditions one frame in place and returns it. The chain per
// frame: frame RMS -> target gain clamped to [MinGain, MaxGain] -> gain
// smoothed against the previous frame's gain -> per-sample high-pass ->
// noise gate (sub-floor samples zeroed, the rest scaled) -> clamp to the
// valid sample range.
func (c *Conditioner) Process(samples []int16) []int16 {
	if len(samples) == 0 {
		return samples
	}

	floats := make([]float64, len(samples))
	var sumSquares float64
	for i, s := range samples {
		normalized := float64(s) / 32768.0
		floats[i] = normalized
		sumSquares += normalized * normalized
	}

	rms := math.Sqrt(sumSquares / float64(len(samples)))
	targetGain := c.cfg.MaxGain
	if rms > 1e-6 {
		targetGain = clamp(c.cfg.TargetRMS/rms, c.cfg.MinGain, c.cfg.MaxGain)
	}

	// EMA keeps the gain from pumping audibly between frames.
	gain := c.cfg.Smoothing*c.prevGain + (1-c.cfg.Smoothing)*targetGain
	c.prevGain = gain

	prevIn := c.prevInput
	prevOut := c.prevOutput
	for i, input := range floats {
		highPassed := c.alpha * (prevOut + input - prevIn)
		prevIn = input
		prevOut = highPassed

		processed := highPassed
		if math.Abs(processed) < c.noiseFloor {
			processed = 0
		} else {
			processed *= gain
		}

		processed = clamp(processed, -1, 1)
		samples[i] = int16(clamp(processed*32767, -32768, 32767))
	}
	c.prevInput = prevIn
	c.prevOutput = prevOut

	return samples
}

// Reset clears the carried filter state for a fresh capture session.
func (c *Conditioner) Reset() {
	c.prevInput = 0
	c.prevOutput = 0
	c.prevGain = 1
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
