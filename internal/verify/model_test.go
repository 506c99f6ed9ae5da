package verify

import (
	"math"
	"testing"
)

func tonePCM(amplitude, freq float64, sampleRate, n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

func newTestModel(t *testing.T) *FbankModel {
	t.Helper()
	m, err := NewFbankModel(DefaultFbankConfig())
	if err != nil {
		t.Fatalf("NewFbankModel: %v", err)
	}
	return m
}

func TestFbankModelSameVoiceScoresHigh(t *testing.T) {
	m := newTestModel(t)

	a, err := m.Extract(tonePCM(0.4, 220, 16000, 16000))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	// Same tone, different level and phase; spectral shape is what the
	// embedding should capture.
	b, err := m.Extract(tonePCM(0.2, 220, 16000, 16000))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if sim := cosineSimilarity(a, b); sim < 0.6 {
		t.Errorf("same tone similarity = %.3f, want >= 0.6", sim)
	}
}

func TestFbankModelDifferentVoicesScoreLow(t *testing.T) {
	m := newTestModel(t)

	a, err := m.Extract(tonePCM(0.4, 220, 16000, 16000))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	b, err := m.Extract(tonePCM(0.4, 2400, 16000, 16000))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if sim := cosineSimilarity(a, b); sim > 0.35 {
		t.Errorf("different tone similarity = %.3f, want <= 0.35", sim)
	}
}

func TestFbankModelSilenceYieldsZeroVector(t *testing.T) {
	m := newTestModel(t)

	embedding, err := m.Extract(make([]byte, 32000))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(embedding) != m.Dimension() {
		t.Fatalf("embedding length %d, want %d", len(embedding), m.Dimension())
	}
	for i, v := range embedding {
		if v != 0 {
			t.Fatalf("embedding[%d] = %f, silence should yield the zero vector", i, v)
		}
	}
	if sim := cosineSimilarity(embedding, embedding); sim != 0 {
		t.Errorf("zero vector similarity = %f, want 0", sim)
	}
}

func TestFbankModelShortInput(t *testing.T) {
	m := newTestModel(t)

	// Fewer samples than one analysis frame.
	embedding, err := m.Extract(make([]byte, 100))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, v := range embedding {
		if v != 0 {
			t.Fatal("sub-frame input should yield the zero vector")
		}
	}
}

func TestCosineSimilarityEdgeCases(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"empty", nil, nil, 0},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero norm", []float32{0, 0}, []float32{1, 0}, 0},
		{"identical", []float32{0.6, 0.8}, []float32{0.6, 0.8}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("cosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}
