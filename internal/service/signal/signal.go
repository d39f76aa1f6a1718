// Package signal computes objective audio-quality metrics from decoded samples.
package signal

import (
	"errors"
	"fmt"
	"math"
	"time"

	"speech-audit-pipeline/internal/models"
)

// ErrInvalidAudio is returned when the input cannot be analyzed at all.
var ErrInvalidAudio = errors.New("invalid audio")

const (
	MinSNRDb = -20.0
	MaxSNRDb = 60.0

	// powerFloor keeps log10 finite for digitally silent windows.
	powerFloor = 1e-12
)

// Config controls the noise-floor estimator.
type Config struct {
	Window time.Duration // length of the fixed analysis window
}

// DefaultConfig returns a 20ms analysis window.
func DefaultConfig() Config {
	return Config{Window: 20 * time.Millisecond}
}

// Analyze returns the SNR and duration of samples recorded at sampleRate.
// Samples are expected in [-1, 1]. The noise floor is the mean power of the
// quietest window; the signal power is the mean power of the whole clip.
func Analyze(samples []float64, sampleRate int, cfg Config) (models.AudioQualityMetrics, error) {
	if sampleRate <= 0 {
		return models.AudioQualityMetrics{}, fmt.Errorf("%w: sample rate %d", ErrInvalidAudio, sampleRate)
	}
	if len(samples) == 0 {
		return models.AudioQualityMetrics{}, fmt.Errorf("%w: no samples", ErrInvalidAudio)
	}

	window := int(float64(sampleRate) * cfg.Window.Seconds())
	if window <= 0 || window > len(samples) {
		window = len(samples)
	}

	signalPower := meanPower(samples)
	noisePower := math.Inf(1)
	for start := 0; start+window <= len(samples); start += window {
		if p := meanPower(samples[start : start+window]); p < noisePower {
			noisePower = p
		}
	}

	return models.AudioQualityMetrics{
		SNRDb:           snrDb(signalPower, noisePower),
		DurationSeconds: float64(len(samples)) / float64(sampleRate),
	}, nil
}

func snrDb(signalPower, noisePower float64) float64 {
	if signalPower <= powerFloor {
		return MinSNRDb
	}
	noisePower = math.Max(noisePower, powerFloor)
	return clamp(10*math.Log10(signalPower/noisePower), MinSNRDb, MaxSNRDb)
}

func meanPower(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return sum / float64(len(samples))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
