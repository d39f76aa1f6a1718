// Package scoring combines engine confidence, signal quality and linguistic
// plausibility into a single reliability score.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"speech-audit-pipeline/internal/models"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid scoring config")

const weightTolerance = 1e-6

// Weights is the convex combination applied to the normalized components.
type Weights struct {
	APIConfidence float64 `yaml:"api_confidence"`
	SNR           float64 `yaml:"snr"`
	Perplexity    float64 `yaml:"perplexity"`
}

// Thresholds are the inclusive lower bounds of each tier.
type Thresholds struct {
	High   float64 `yaml:"high"`
	Medium float64 `yaml:"medium"`
	Low    float64 `yaml:"low"`
}

// Config holds every scoring policy parameter.
type Config struct {
	Weights    Weights    `yaml:"weights"`
	Thresholds Thresholds `yaml:"thresholds"`

	// SNR is mapped linearly from SNRFloorDb (0) to SNRCeilingDb (1) and saturates outside.
	SNRFloorDb   float64 `yaml:"snr_floor_db"`
	SNRCeilingDb float64 `yaml:"snr_ceiling_db"`

	// Perplexity is mapped through 1/(1+exp((ppl-mid)/scale)).
	PerplexityMidpoint float64 `yaml:"perplexity_midpoint"`
	PerplexityScale    float64 `yaml:"perplexity_scale"`
}

// DefaultConfig returns the default scoring policy.
func DefaultConfig() Config {
	return Config{
		Weights:            Weights{APIConfidence: 0.5, SNR: 0.3, Perplexity: 0.2},
		Thresholds:         Thresholds{High: 0.75, Medium: 0.5, Low: 0.25},
		SNRFloorDb:         10,
		SNRCeilingDb:       30,
		PerplexityMidpoint: 20,
		PerplexityScale:    4,
	}
}

// Validate checks that the weights are a convex combination and the curves are well formed.
func (c Config) Validate() error {
	w := c.Weights
	if w.APIConfidence < 0 || w.SNR < 0 || w.Perplexity < 0 {
		return fmt.Errorf("%w: weights must be non-negative", ErrInvalidConfig)
	}
	if sum := w.APIConfidence + w.SNR + w.Perplexity; math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %.6f, want 1", ErrInvalidConfig, sum)
	}
	t := c.Thresholds
	if !(0 <= t.Low && t.Low <= t.Medium && t.Medium <= t.High && t.High <= 1) {
		return fmt.Errorf("%w: thresholds must satisfy 0 <= low <= medium <= high <= 1", ErrInvalidConfig)
	}
	if c.SNRCeilingDb <= c.SNRFloorDb {
		return fmt.Errorf("%w: snr ceiling must exceed floor", ErrInvalidConfig)
	}
	if c.PerplexityScale <= 0 {
		return fmt.Errorf("%w: perplexity scale must be positive", ErrInvalidConfig)
	}
	return nil
}

// Scorer computes ConfidenceScores. It holds no mutable state.
type Scorer struct {
	cfg Config
	lm  LanguageModel
}

// New validates cfg and returns a Scorer. A nil lm selects the default model.
func New(cfg Config, lm LanguageModel) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lm == nil {
		lm = DefaultLanguageModel()
	}
	return &Scorer{cfg: cfg, lm: lm}, nil
}

// Perplexity exposes the raw perplexity of text under the reference model.
// It returns 0 for empty text.
func (s *Scorer) Perplexity(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return s.lm.Perplexity(text)
}

// Score combines the three signals. Empty text is always UNRELIABLE with
// zeroed components, so value and tier stay consistent with each other.
func (s *Scorer) Score(apiConfidence float64, metrics models.AudioQualityMetrics, text string) models.ConfidenceScore {
	if strings.TrimSpace(text) == "" {
		return models.ConfidenceScore{
			Value: 0,
			Tier:  models.TierUnreliable,
			Components: map[string]float64{
				models.ComponentAPIConfidence: 0,
				models.ComponentSNR:           0,
				models.ComponentPerplexity:    0,
			},
		}
	}

	components := map[string]float64{
		models.ComponentAPIConfidence: clamp01(apiConfidence),
		models.ComponentSNR:           s.normalizeSNR(metrics.SNRDb),
		models.ComponentPerplexity:    s.normalizePerplexity(s.lm.Perplexity(text)),
	}
	value := s.Combine(components)

	return models.ConfidenceScore{
		Value:      value,
		Tier:       s.Tier(value),
		Components: components,
	}
}

// Combine applies the configured weights to normalized components.
func (s *Scorer) Combine(components map[string]float64) float64 {
	w := s.cfg.Weights
	return clamp01(w.APIConfidence*components[models.ComponentAPIConfidence] +
		w.SNR*components[models.ComponentSNR] +
		w.Perplexity*components[models.ComponentPerplexity])
}

// Tier buckets value using the configured thresholds.
func (s *Scorer) Tier(value float64) models.Tier {
	t := s.cfg.Thresholds
	switch {
	case value >= t.High:
		return models.TierHigh
	case value >= t.Medium:
		return models.TierMedium
	case value >= t.Low:
		return models.TierLow
	default:
		return models.TierUnreliable
	}
}

func (s *Scorer) normalizeSNR(db float64) float64 {
	return clamp01((db - s.cfg.SNRFloorDb) / (s.cfg.SNRCeilingDb - s.cfg.SNRFloorDb))
}

func (s *Scorer) normalizePerplexity(ppl float64) float64 {
	if math.IsNaN(ppl) || math.IsInf(ppl, 1) {
		return 0
	}
	return clamp01(1 / (1 + math.Exp((ppl-s.cfg.PerplexityMidpoint)/s.cfg.PerplexityScale)))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}
