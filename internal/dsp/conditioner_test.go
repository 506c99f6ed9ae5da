package dsp

import (
	"math"
	"testing"
)

func sineFrame(amplitude, freq float64, sampleRate, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestProcessingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ProcessingConfig)
		wantErr bool
	}{
		{"defaults", func(c *ProcessingConfig) {}, false},
		{"zero sample rate", func(c *ProcessingConfig) { c.SampleRate = 0 }, true},
		{"negative target rms", func(c *ProcessingConfig) { c.TargetRMS = -0.1 }, true},
		{"target rms above one", func(c *ProcessingConfig) { c.TargetRMS = 1.5 }, true},
		{"zero min gain", func(c *ProcessingConfig) { c.MinGain = 0 }, true},
		{"max below min gain", func(c *ProcessingConfig) { c.MaxGain = 0.1 }, true},
		{"smoothing of one", func(c *ProcessingConfig) { c.Smoothing = 1 }, true},
		{"cutoff below audible", func(c *ProcessingConfig) { c.HighPassCutoff = 5 }, true},
		{"cutoff above nyquist", func(c *ProcessingConfig) { c.HighPassCutoff = 9000 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultProcessingConfig(16000)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConditionerSilenceStaysSilent(t *testing.T) {
	c, err := NewConditioner(DefaultProcessingConfig(16000))
	if err != nil {
		t.Fatalf("NewConditioner: %v", err)
	}

	frame := make([]int16, 1600)
	c.Process(frame)
	for i, s := range frame {
		if s != 0 {
			t.Fatalf("sample %d = %d, silence should stay silent", i, s)
		}
	}
}

func TestConditionerBoostsQuietAudio(t *testing.T) {
	cfg := DefaultProcessingConfig(16000)
	c, err := NewConditioner(cfg)
	if err != nil {
		t.Fatalf("NewConditioner: %v", err)
	}

	// Quiet but well above the noise gate.
	input := sineFrame(0.03, 440, 16000, 1600)
	inputRMS := RMS(input)

	var outputRMS float64
	for i := 0; i < 10; i++ {
		frame := make([]int16, len(input))
		copy(frame, input)
		c.Process(frame)
		outputRMS = RMS(frame)
	}

	if outputRMS <= inputRMS {
		t.Errorf("quiet audio not boosted: input RMS %.4f, output RMS %.4f", inputRMS, outputRMS)
	}
	if math.Abs(outputRMS-cfg.TargetRMS) >= math.Abs(inputRMS-cfg.TargetRMS) {
		t.Errorf("output RMS %.4f not closer to target %.2f than input %.4f", outputRMS, cfg.TargetRMS, inputRMS)
	}
}

func TestConditionerAttenuatesLoudAudio(t *testing.T) {
	cfg := DefaultProcessingConfig(16000)
	c, err := NewConditioner(cfg)
	if err != nil {
		t.Fatalf("NewConditioner: %v", err)
	}

	input := sineFrame(0.9, 440, 16000, 1600)
	inputRMS := RMS(input)

	var outputRMS float64
	for i := 0; i < 10; i++ {
		frame := make([]int16, len(input))
		copy(frame, input)
		c.Process(frame)
		outputRMS = RMS(frame)
	}

	if outputRMS >= inputRMS {
		t.Errorf("loud audio not attenuated: input RMS %.4f, output RMS %.4f", inputRMS, outputRMS)
	}
}

func TestConditionerGatesSubFloorSamples(t *testing.T) {
	c, err := NewConditioner(DefaultProcessingConfig(16000))
	if err != nil {
		t.Fatalf("NewConditioner: %v", err)
	}

	// Amplitude well below the -55 dBFS gate threshold; even with the
	// AGC at max gain the gate fires before amplification.
	frame := sineFrame(0.001, 440, 16000, 1600)
	c.Process(frame)
	for i, s := range frame {
		if s != 0 {
			t.Fatalf("sample %d = %d, sub-floor audio should be gated to zero", i, s)
		}
	}
}

func TestConditionerResetClearsState(t *testing.T) {
	c, err := NewConditioner(DefaultProcessingConfig(16000))
	if err != nil {
		t.Fatalf("NewConditioner: %v", err)
	}

	loud := sineFrame(0.9, 440, 16000, 1600)
	for i := 0; i < 5; i++ {
		frame := make([]int16, len(loud))
		copy(frame, loud)
		c.Process(frame)
	}

	c.Reset()

	// After Reset the first frame should behave like a fresh conditioner.
	fresh, _ := NewConditioner(DefaultProcessingConfig(16000))
	a := sineFrame(0.1, 440, 16000, 1600)
	b := make([]int16, len(a))
	copy(b, a)
	c.Process(a)
	fresh.Process(b)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs after Reset: %d vs %d", i, a[i], b[i])
		}
	}
}
