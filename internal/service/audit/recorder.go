// Package audit builds the per-run audit record and writes it to its sinks.
package audit

import (
	"time"

	"speech-audit-pipeline/internal/models"
	"speech-audit-pipeline/internal/service/redaction"
)

// RunInfo identifies the run being recorded.
type RunInfo struct {
	RunID     string
	InputFile string
	Quality   models.AudioQualityMetrics
}

// Recorder aggregates stage outputs into an AuditRecord.
type Recorder struct {
	now func() time.Time
}

// NewRecorder creates a recorder stamping records with the current UTC time.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// Record assembles the audit record for one run. Warnings from the transcription
// result and the redaction come first in Errors, followed by errs, all verbatim.
func (r *Recorder) Record(run RunInfo, result models.TranscriptionResult, redacted models.RedactedTranscript, summaryLength int, errs []string) models.AuditRecord {
	notes := make([]string, 0, len(result.Warnings)+len(redacted.Warnings)+len(errs))
	notes = append(notes, result.Warnings...)
	notes = append(notes, redacted.Warnings...)
	notes = append(notes, errs...)

	attempts := make([]models.Attempt, len(result.Attempts))
	copy(attempts, result.Attempts)

	states := append([]string{}, result.States...)

	if summaryLength < 0 {
		summaryLength = 0
	}

	return models.AuditRecord{
		RunID:                run.RunID,
		InputFile:            run.InputFile,
		TimestampUTC:         r.now().UTC(),
		InputDurationSeconds: run.Quality.DurationSeconds,
		SNRDb:                run.Quality.SNRDb,
		Confidence:           copyScore(result.Confidence),
		APIConfidence:        result.APIConfidence,
		Perplexity:           result.Perplexity,
		EngineUsed:           engineOrNone(result.EngineUsed),
		Attempts:             attempts,
		States:               states,
		RedactionCount:       len(redacted.Matches),
		RedactionsByKind:     redaction.CountByKind(redacted.Matches),
		SummaryLength:        summaryLength,
		Errors:               notes,
	}
}

func copyScore(s models.ConfidenceScore) models.ConfidenceScore {
	out := s
	out.Components = make(map[string]float64, len(s.Components))
	for k, v := range s.Components {
		out.Components[k] = v
	}
	if out.Tier == "" {
		out.Tier = models.TierUnreliable
	}
	return out
}

func engineOrNone(e models.EngineID) models.EngineID {
	if e == "" {
		return models.EngineNone
	}
	return e
}
