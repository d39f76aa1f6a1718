package signal

import (
	"errors"
	"math"
	"testing"
	"time"
)

func tone(n int, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*440*float64(i)/16000)
	}
	return out
}

func TestAnalyze_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		rate    int
	}{
		{"empty samples", nil, 16000},
		{"zero rate", []float64{0.1}, 0},
		{"negative rate", []float64{0.1}, -8000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze(tt.samples, tt.rate, DefaultConfig())
			if !errors.Is(err, ErrInvalidAudio) {
				t.Errorf("expected ErrInvalidAudio, got %v", err)
			}
		})
	}
}

func TestAnalyze_Duration(t *testing.T) {
	m, err := Analyze(make([]float64, 8000), 16000, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.DurationSeconds != 0.5 {
		t.Errorf("expected 0.5s, got %v", m.DurationSeconds)
	}
}

func TestAnalyze_SilenceIsMinimum(t *testing.T) {
	m, err := Analyze(make([]float64, 16000), 16000, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.SNRDb != MinSNRDb {
		t.Errorf("expected %v for silence, got %v", MinSNRDb, m.SNRDb)
	}
}

func TestAnalyze_SpeechOverQuietFloor(t *testing.T) {
	// One second of quiet hiss followed by one second of loud tone.
	samples := append(tone(16000, 0.001), tone(16000, 0.5)...)

	m, err := Analyze(samples, 16000, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Signal power ~ 0.0625, floor ~ 5e-7 -> ~51 dB
	if m.SNRDb < 45 || m.SNRDb > MaxSNRDb {
		t.Errorf("expected high SNR, got %v", m.SNRDb)
	}
}

func TestAnalyze_ConstantToneIsZeroDb(t *testing.T) {
	// Every 20ms window of a 50Hz-multiple tone carries the same power.
	samples := make([]float64, 16000)
	for i := range samples {
		samples[i] = 0.3 * math.Sin(2*math.Pi*100*float64(i)/16000)
	}

	m, err := Analyze(samples, 16000, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(m.SNRDb) > 0.5 {
		t.Errorf("expected ~0 dB, got %v", m.SNRDb)
	}
}

func TestAnalyze_DigitalSilenceFloorIsClamped(t *testing.T) {
	samples := append(make([]float64, 1600), tone(16000, 0.5)...)

	m, err := Analyze(samples, 16000, DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.SNRDb != MaxSNRDb {
		t.Errorf("expected clamp to %v, got %v", MaxSNRDb, m.SNRDb)
	}
}

func TestAnalyze_ShortClipUsesWholeClip(t *testing.T) {
	m, err := Analyze([]float64{0.5, -0.5, 0.5}, 16000, Config{Window: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.SNRDb != 0 {
		t.Errorf("expected 0 dB for single window, got %v", m.SNRDb)
	}
}
