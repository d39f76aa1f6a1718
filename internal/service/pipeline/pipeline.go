// Package pipeline runs one audio file through transcription, redaction,
// summarization, speech synthesis and audit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"speech-audit-pipeline/internal/models"
	"speech-audit-pipeline/internal/observability/logging"
	"speech-audit-pipeline/internal/observability/metrics"
	"speech-audit-pipeline/internal/service/audit"
	"speech-audit-pipeline/internal/service/media"
	"speech-audit-pipeline/internal/service/signal"
	"speech-audit-pipeline/internal/service/speech"
	"speech-audit-pipeline/internal/service/stt"
	"speech-audit-pipeline/internal/service/summary"
)

// Run outcomes, used as metric labels.
const (
	OutcomeSuccess     = "success"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
)

// Preparer converts an input file into a decodable WAV.
type Preparer interface {
	Prepare(ctx context.Context, input, runID string) (path string, cleanup func(), err error)
}

// Transcriber picks an engine and scores its transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audio stt.Audio, quality models.AudioQualityMetrics) (models.TranscriptionResult, error)
}

// Redactor masks PII in transcript text.
type Redactor interface {
	Redact(ctx context.Context, text string) (models.RedactedTranscript, error)
}

// TranscriptPublisher mirrors redacted transcripts to downstream consumers.
type TranscriptPublisher interface {
	PublishTranscript(ctx context.Context, key string, event any) error
}

// Config holds per-run settings.
type Config struct {
	OutputDir           string
	MaxSummarySentences int
	Signal              signal.Config
}

// Deps are the collaborators of a Pipeline. Publisher and Synthesizer are optional.
type Deps struct {
	Preparer    Preparer
	Transcriber Transcriber
	Redactor    Redactor
	Synthesizer speech.Synthesizer
	Sink        audit.Sink
	Publisher   TranscriptPublisher
	Metrics     *metrics.Metrics
}

// Result lists what a run produced.
type Result struct {
	RunID            string
	TranscriptPath   string
	SummaryAudioPath string
	Summary          string
	Transcription    models.TranscriptionResult
	Redacted         models.RedactedTranscript
	Audit            models.AuditRecord
}

// Pipeline is safe for concurrent use; each Run is independent.
type Pipeline struct {
	cfg        Config
	deps       Deps
	summarizer *summary.Summarizer
	recorder   *audit.Recorder
	newID      func() string
}

// New validates deps and creates a pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Preparer == nil:
		return nil, errors.New("pipeline: preparer is required")
	case deps.Transcriber == nil:
		return nil, errors.New("pipeline: transcriber is required")
	case deps.Redactor == nil:
		return nil, errors.New("pipeline: redactor is required")
	case deps.Sink == nil:
		return nil, errors.New("pipeline: audit sink is required")
	}
	if deps.Synthesizer == nil {
		deps.Synthesizer = speech.Noop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.Signal.Window <= 0 {
		cfg.Signal = signal.DefaultConfig()
	}

	return &Pipeline{
		cfg:        cfg,
		deps:       deps,
		summarizer: summary.New(cfg.MaxSummarySentences),
		recorder:   audit.NewRecorder(),
		newID:      uuid.NewString,
	}, nil
}

// Run processes one file. It fails only on unusable audio (wrapping
// signal.ErrInvalidAudio), malformed transcript text, an audit write
// failure or cancellation. An unintelligible clip still completes with an
// empty transcript and a warning in the audit record.
func (p *Pipeline) Run(ctx context.Context, input string) (Result, error) {
	start := time.Now()
	runID := p.newID()
	logger := logging.WithRun(runID, input)
	m := p.deps.Metrics

	m.RecordRunStart()
	outcome := OutcomeFailed
	defer func() { m.RecordRunEnd(outcome, time.Since(start).Seconds()) }()

	logger.Info().Msg("Run started")

	wavPath, cleanup, err := p.deps.Preparer.Prepare(ctx, input, runID)
	if err != nil {
		return Result{RunID: runID}, fmt.Errorf("%w: preprocess %s: %v", signal.ErrInvalidAudio, input, err)
	}
	defer cleanup()

	clip, err := media.LoadWAV(wavPath)
	if err != nil {
		return Result{RunID: runID}, fmt.Errorf("%w: decode %s: %v", signal.ErrInvalidAudio, input, err)
	}
	quality, err := signal.Analyze(clip.Samples, clip.SampleRate, p.cfg.Signal)
	if err != nil {
		return Result{RunID: runID}, err
	}
	m.RecordAudio(quality.DurationSeconds, quality.SNRDb)
	logger.Debug().
		Float64("snrDb", quality.SNRDb).
		Float64("durationSeconds", quality.DurationSeconds).
		Msg("Audio analyzed")

	result, err := p.deps.Transcriber.Transcribe(ctx, stt.Audio{
		Data:            clip.PCM,
		SampleRateHz:    clip.SampleRate,
		Path:            wavPath,
		DurationSeconds: quality.DurationSeconds,
		RunID:           runID,
	}, quality)
	if err != nil {
		return Result{RunID: runID}, err
	}

	redacted, err := p.deps.Redactor.Redact(ctx, result.Text)
	if err != nil {
		return Result{RunID: runID, Transcription: result}, err
	}

	res := Result{
		RunID:         runID,
		Transcription: result,
		Redacted:      redacted,
		Summary:       p.summarizer.Summarize(redacted.RedactedText),
	}

	var notes []string
	base := p.artifactBase(input, runID)

	res.TranscriptPath = base + "_transcript.txt"
	if err := writeText(res.TranscriptPath, redacted.RedactedText); err != nil {
		notes = append(notes, fmt.Sprintf("transcript not written: %v", err))
		res.TranscriptPath = ""
	}

	if res.Summary == "" {
		notes = append(notes, "speech synthesis skipped: empty summary")
	} else {
		audio, err := p.deps.Synthesizer.Synthesize(ctx, res.Summary, base+"_summary.wav")
		switch {
		case err != nil:
			notes = append(notes, fmt.Sprintf("speech synthesis failed: %v", err))
		case !audio.Skipped:
			res.SummaryAudioPath = audio.Path
		}
	}

	res.Audit = p.recorder.Record(audit.RunInfo{RunID: runID, InputFile: input, Quality: quality},
		result, redacted, len(res.Summary), notes)

	if err := p.deps.Sink.Write(ctx, res.Audit); err != nil {
		return res, fmt.Errorf("write audit record: %w", err)
	}

	p.publishTranscript(ctx, res, input)

	outcome = OutcomeSuccess
	if result.IsEmpty {
		outcome = OutcomeUnavailable
	}
	logger.Info().
		Str("engine", string(result.EngineUsed)).
		Str("tier", string(result.Confidence.Tier)).
		Int("redactions", res.Audit.RedactionCount).
		Strs("errors", res.Audit.Errors).
		Dur("elapsed", time.Since(start)).
		Msg("Run completed")

	return res, nil
}

func (p *Pipeline) publishTranscript(ctx context.Context, res Result, input string) {
	if p.deps.Publisher == nil {
		return
	}
	event := models.TranscriptEvent{
		EventType:    "speech.transcript.redacted",
		RunID:        res.RunID,
		InputFile:    input,
		Timestamp:    res.Audit.TimestampUTC.UnixMilli(),
		EngineUsed:   res.Transcription.EngineUsed,
		Tier:         res.Transcription.Confidence.Tier,
		RedactedText: res.Redacted.RedactedText,
		Summary:      res.Summary,
	}
	if err := p.deps.Publisher.PublishTranscript(ctx, res.RunID, event); err != nil {
		logger := logging.WithRun(res.RunID, input)
		logger.Warn().Err(err).Msg("Failed to publish transcript event")
	}
}

func (p *Pipeline) artifactBase(input, runID string) string {
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(p.cfg.OutputDir, name+"_"+short)
}

func writeText(path, text string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}
