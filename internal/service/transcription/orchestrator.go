package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"speech-audit-pipeline/internal/models"
	"speech-audit-pipeline/internal/observability/logging"
	"speech-audit-pipeline/internal/observability/metrics"
	"speech-audit-pipeline/internal/service/scoring"
	"speech-audit-pipeline/internal/service/stt"
)

var (
	// ErrTranscriptionUnavailable prefixes the warning recorded when no engine produced text.
	ErrTranscriptionUnavailable = errors.New("transcription unavailable")

	errEmptyTranscript = errors.New("empty transcript")
)

// RetryPolicy bounds primary engine retries.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns 3 attempts with 500ms exponential backoff capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// Validate checks that the policy can drive a backoff.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", p.MaxAttempts)
	case p.BaseDelay <= 0:
		return fmt.Errorf("retry: base delay must be positive, got %v", p.BaseDelay)
	case p.MaxDelay < p.BaseDelay:
		return fmt.Errorf("retry: max delay %v is below base delay %v", p.MaxDelay, p.BaseDelay)
	case p.AttemptTimeout <= 0:
		return fmt.Errorf("retry: attempt timeout must be positive, got %v", p.AttemptTimeout)
	}
	return nil
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.BaseDelay)
	b = retry.WithCappedDuration(p.MaxDelay, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

// Orchestrator drives one primary engine with retries and an optional
// fallback engine that runs at most once. It holds no per-run state and
// is safe for concurrent use.
type Orchestrator struct {
	primary  stt.Engine
	fallback stt.Engine
	scorer   *scoring.Scorer
	policy   RetryPolicy
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates an Orchestrator. fallback may be nil.
func New(primary, fallback stt.Engine, scorer *scoring.Scorer, policy RetryPolicy, m *metrics.Metrics) (*Orchestrator, error) {
	if primary == nil {
		return nil, errors.New("transcription: primary engine is required")
	}
	if scorer == nil {
		return nil, errors.New("transcription: scorer is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Orchestrator{
		primary:  primary,
		fallback: fallback,
		scorer:   scorer,
		policy:   policy,
		metrics:  m,
		logger:   logging.WithComponent("transcription"),
	}, nil
}

// Transcribe runs the state machine to a terminal state. Engine failures
// never surface as errors: an unusable clip yields an empty result with
// EngineNone and a warning. The only error is cancellation of ctx.
func (o *Orchestrator) Transcribe(ctx context.Context, audio stt.Audio, quality models.AudioQualityMetrics) (models.TranscriptionResult, error) {
	var (
		lc                      = NewLifecycle()
		attempts                []models.Attempt
		out                     models.EngineOutcome
		winner                  models.EngineID
		primaryErr, fallbackErr error
	)

	next := StateTryPrimary
	for {
		if err := lc.Transition(next); err != nil {
			return models.TranscriptionResult{}, err
		}

		switch lc.State() {
		case StateTryPrimary:
			out, primaryErr = o.runPrimary(ctx, audio, &attempts)
			switch {
			case primaryErr == nil:
				winner, next = models.EnginePrimary, StateSuccess
			case ctx.Err() != nil:
				return models.TranscriptionResult{}, ctx.Err()
			case o.fallback != nil:
				o.logger.Warn().Err(primaryErr).Str("runId", audio.RunID).Int("attempts", len(attempts)).Msg("Primary engine exhausted")
				next = StateTryFallback
			default:
				o.logger.Warn().Err(primaryErr).Str("runId", audio.RunID).Int("attempts", len(attempts)).Msg("Primary engine exhausted, no fallback configured")
				next = StateFailed
			}

		case StateTryFallback:
			o.metrics.RecordFallback()
			o.logger.Info().Str("runId", audio.RunID).Str("provider", o.fallback.Name()).Msg("Falling back to secondary engine")

			out, fallbackErr = o.attempt(ctx, o.fallback, models.EngineFallback, 1, audio, &attempts)
			switch {
			case fallbackErr == nil:
				winner, next = models.EngineFallback, StateSuccess
			case ctx.Err() != nil:
				return models.TranscriptionResult{}, ctx.Err()
			default:
				next = StateFailed
			}

		case StateSuccess:
			res := o.success(out, winner, quality, attempts)
			res.States = lc.Path()
			return res, nil

		case StateFailed:
			o.metrics.RecordTranscriptionFailure()
			res := o.failed(primaryErr, fallbackErr, quality, attempts)
			res.States = lc.Path()
			return res, nil
		}
	}
}

// runPrimary retries recoverable failures and empty transcripts.
func (o *Orchestrator) runPrimary(ctx context.Context, audio stt.Audio, attempts *[]models.Attempt) (models.EngineOutcome, error) {
	var (
		out models.EngineOutcome
		n   int
	)
	err := retry.Do(ctx, o.policy.backoff(), func(ctx context.Context) error {
		n++
		res, err := o.attempt(ctx, o.primary, models.EnginePrimary, n, audio, attempts)
		switch {
		case err == nil:
			out = res
			return nil
		case errors.Is(err, errEmptyTranscript) || stt.IsRecoverable(err):
			return retry.RetryableError(err)
		default:
			// not worth retrying, go straight to the fallback
			return err
		}
	})
	return out, err
}

// attempt makes one engine call under the per-attempt timeout and records provenance.
func (o *Orchestrator) attempt(ctx context.Context, e stt.Engine, id models.EngineID, n int, audio stt.Audio, attempts *[]models.Attempt) (models.EngineOutcome, error) {
	actx, cancel := context.WithTimeout(ctx, o.policy.AttemptTimeout)
	defer cancel()

	start := time.Now()
	out, err := e.Transcribe(actx, audio)
	latency := time.Since(start)

	if err == nil && strings.TrimSpace(out.Text) == "" {
		err = errEmptyTranscript
	}
	if err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("attempt timed out after %v: %w", o.policy.AttemptTimeout, context.DeadlineExceeded)
	}

	rec := models.Attempt{
		Engine:    id,
		Number:    n,
		Succeeded: err == nil,
		LatencyMs: latency.Milliseconds(),
	}
	o.metrics.RecordSTTAttempt(string(id), err, latency.Seconds())
	if err != nil {
		rec.Error = err.Error()
		o.metrics.RecordSTTError(e.Name(), stt.ErrorType(err))
		logging.WithEngine(audio.RunID, string(id)).Debug().
			Err(err).
			Str("component", "transcription").
			Str("provider", e.Name()).
			Int("attempt", n).
			Msg("STT attempt failed")
	}
	*attempts = append(*attempts, rec)

	out.EngineID = id
	out.Succeeded = err == nil
	if err != nil {
		out.FailureReason = err.Error()
	}
	return out, err
}

func (o *Orchestrator) success(out models.EngineOutcome, id models.EngineID, quality models.AudioQualityMetrics, attempts []models.Attempt) models.TranscriptionResult {
	text := strings.TrimSpace(out.Text)
	api := out.APIConfidence()
	score := o.scorer.Score(api, quality, text)
	o.metrics.RecordTier(string(score.Tier))

	return models.TranscriptionResult{
		Text:          text,
		Confidence:    score,
		APIConfidence: api,
		Perplexity:    o.scorer.Perplexity(text),
		EngineUsed:    id,
		IsEmpty:       false,
		Attempts:      attempts,
	}
}

func (o *Orchestrator) failed(primaryErr, fallbackErr error, quality models.AudioQualityMetrics, attempts []models.Attempt) models.TranscriptionResult {
	reason := fmt.Sprintf("primary: %v", primaryErr)
	if o.fallback == nil {
		reason += "; fallback: not configured"
	} else {
		reason += fmt.Sprintf("; fallback: %v", fallbackErr)
	}
	warning := fmt.Errorf("%w: could not understand audio (%s)", ErrTranscriptionUnavailable, reason)

	score := o.scorer.Score(0, quality, "")
	o.metrics.RecordTier(string(score.Tier))

	return models.TranscriptionResult{
		Text:       "",
		Confidence: score,
		EngineUsed: models.EngineNone,
		IsEmpty:    true,
		Attempts:   attempts,
		Warnings:   []string{warning.Error()},
	}
}
