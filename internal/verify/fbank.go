package verify

import (
	"fmt"
	"math"
	"math/cmplx"
)

// FbankConfig configures log-mel filterbank extraction.
type FbankConfig struct {
	SampleRate  int
	FrameLength int     // samples per analysis frame (400 = 25ms @ 16kHz)
	FrameShift  int     // hop between frames (160 = 10ms @ 16kHz)
	FFTSize     int     // power of two >= FrameLength
	MelBins     int     // filterbank channels
	LowFreqHz   float64 // lower filterbank edge
	HighFreqHz  float64 // upper filterbank edge, capped at Nyquist
}

// DefaultFbankConfig returns the analysis setup for 16kHz speech.
func DefaultFbankConfig() FbankConfig {
	return FbankConfig{
		SampleRate:  16000,
		FrameLength: 400,
		FrameShift:  160,
		FFTSize:     512,
		MelBins:     40,
		LowFreqHz:   125,
		HighFreqHz:  7500,
	}
}

const melEpsilon = 1e-10

// FeatureExtractor computes log-mel spectrograms from PCM samples using a
// Hann-windowed short-time Fourier analysis and a triangular mel
// filterbank whose edges come from mel-scale frequency warping. The
// window and filterbank are precomputed once.
type FeatureExtractor struct {
	cfg        FbankConfig
	window     []float64   // Hann
	filterbank [][]float64 // MelBins x (FFTSize/2+1)
}

// NewFeatureExtractor validates cfg and precomputes analysis tables.
func NewFeatureExtractor(cfg FbankConfig) (*FeatureExtractor, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameLength <= 0 || cfg.FrameShift <= 0 {
		return nil, fmt.Errorf("frame length/shift must be positive, got %d/%d", cfg.FrameLength, cfg.FrameShift)
	}
	if cfg.FFTSize < cfg.FrameLength || cfg.FFTSize&(cfg.FFTSize-1) != 0 {
		return nil, fmt.Errorf("FFT size must be a power of two >= frame length, got %d", cfg.FFTSize)
	}
	if cfg.MelBins <= 0 {
		return nil, fmt.Errorf("mel bin count must be positive, got %d", cfg.MelBins)
	}

	window := make([]float64, cfg.FrameLength)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(cfg.FrameLength-1))
	}

	return &FeatureExtractor{
		cfg:        cfg,
		window:     window,
		filterbank: melFilterbank(cfg),
	}, nil
}

// Compute returns frameCount log-mel vectors for the given samples.
// Samples beyond the analysis span are ignored; missing samples are
// zero-padded, so short or silent input degrades to the log floor
// rather than failing.
func (e *FeatureExtractor) Compute(samples []int16, frameCount int) [][]float64 {
	cfg := e.cfg
	required := cfg.FrameShift*(frameCount-1) + cfg.FrameLength
	normalized := make([]float64, required)
	for i := 0; i < required && i < len(samples); i++ {
		normalized[i] = float64(samples[i]) / 32767.0
	}

	spectrumSize := cfg.FFTSize/2 + 1
	frames := make([][]float64, frameCount)
	fftBuf := make([]complex128, cfg.FFTSize)

	for f := 0; f < frameCount; f++ {
		offset := f * cfg.FrameShift
		for i := 0; i < cfg.FrameLength; i++ {
			fftBuf[i] = complex(normalized[offset+i]*e.window[i], 0)
		}
		for i := cfg.FrameLength; i < cfg.FFTSize; i++ {
			fftBuf[i] = 0
		}
		fft(fftBuf)

		mel := make([]float64, cfg.MelBins)
		for m := 0; m < cfg.MelBins; m++ {
			weights := e.filterbank[m]
			var energy float64
			for k := 0; k < spectrumSize; k++ {
				if weights[k] == 0 {
					continue
				}
				power := cmplx.Abs(fftBuf[k])
				energy += weights[k] * power * power
			}
			mel[m] = math.Log(energy + melEpsilon)
		}
		frames[f] = mel
	}
	return frames
}

// FrameCountFor returns how many full analysis frames fit in sampleCount.
func (e *FeatureExtractor) FrameCountFor(sampleCount int) int {
	if sampleCount < e.cfg.FrameLength {
		return 0
	}
	return (sampleCount-e.cfg.FrameLength)/e.cfg.FrameShift + 1
}

func melFilterbank(cfg FbankConfig) [][]float64 {
	spectrumSize := cfg.FFTSize/2 + 1
	filters := make([][]float64, cfg.MelBins)
	for m := range filters {
		filters[m] = make([]float64, spectrumSize)
	}

	high := math.Min(cfg.HighFreqHz, float64(cfg.SampleRate)/2)
	lowerMel := hzToMel(cfg.LowFreqHz)
	upperMel := hzToMel(high)

	binPoints := make([]int, cfg.MelBins+2)
	for i := range binPoints {
		mel := lowerMel + float64(i)/float64(cfg.MelBins+1)*(upperMel-lowerMel)
		hz := melToHz(mel)
		bin := int(float64(cfg.FFTSize+1) * hz / float64(cfg.SampleRate))
		if bin < 0 {
			bin = 0
		}
		if bin > spectrumSize-1 {
			bin = spectrumSize - 1
		}
		binPoints[i] = bin
	}

	for m := 1; m <= cfg.MelBins; m++ {
		left, center, right := binPoints[m-1], binPoints[m], binPoints[m+1]
		if center <= left || right <= center {
			continue
		}
		for k := left; k < center; k++ {
			filters[m-1][k] = float64(k-left) / float64(center-left)
		}
		for k := center; k < right; k++ {
			filters[m-1][k] = float64(right-k) / float64(right-center)
		}
	}
	return filters
}

func hzToMel(hz float64) float64 { return 2595 * math.Log10(1+hz/700) }

func melToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

// fft performs an in-place radix-2 Cooley-Tukey transform. len(buf) must
// be a power of two.
func fft(buf []complex128) {
	n := len(buf)
	if n <= 1 {
		return
	}

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			buf[i], buf[j] = buf[j], buf[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math.Pi / float64(length)
		wl := cmplx.Rect(1, angle)
		for start := 0; start < n; start += length {
			w := complex(1, 0)
			half := length / 2
			for k := 0; k < half; k++ {
				u := buf[start+k]
				v := buf[start+k+half] * w
				buf[start+k] = u + v
				buf[start+k+half] = u - v
				w *= wl
			}
		}
	}
}
