// Package stt defines the interface for Speech-to-Text engines.
package stt

import (
	"context"
	"errors"
	"fmt"

	"speech-audit-pipeline/internal/models"
)

// ErrRecoverable marks transient engine failures that may succeed on retry.
var ErrRecoverable = errors.New("recoverable engine error")

// Audio is one complete, normalized clip handed to an engine.
type Audio struct {
	// PCM16 little-endian mono samples.
	Data         []byte
	SampleRateHz int
	// Path is the WAV file on disk, for engines that read files.
	Path string
	// DurationSeconds lets engines pick a sync or long-running path.
	DurationSeconds float64
	// RunID tags engine logs; engines may ignore it.
	RunID string
}

// Engine defines the interface for STT providers (Google, Vosk, whisper.cpp, etc.).
type Engine interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Transcribe converts the whole clip to text. An outcome with empty text
	// and a nil error means the engine heard nothing it could transcribe.
	Transcribe(ctx context.Context, audio Audio) (models.EngineOutcome, error)
}

// RecoverableError wraps a transient provider failure.
type RecoverableError struct {
	Provider string
	Err      error
}

func (e *RecoverableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *RecoverableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRecoverable) match any RecoverableError.
func (e *RecoverableError) Is(target error) bool { return target == ErrRecoverable }

// Recoverable wraps err as a RecoverableError for provider.
func Recoverable(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &RecoverableError{Provider: provider, Err: err}
}

// IsRecoverable reports whether err is worth retrying.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ErrorType is a short label for metrics.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrRecoverable):
		return "recoverable"
	default:
		return "fatal"
	}
}
