// Package whisper provides an offline fallback STT engine that shells out to whisper.cpp.
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"speech-audit-pipeline/internal/models"
	"speech-audit-pipeline/internal/service/stt"
)

const providerName = "whisper"

// Config holds whisper.cpp configuration.
type Config struct {
	BinaryPath string
	ModelPath  string
	Language   string
	Threads    int
	// whisper.cpp reports no usable utterance confidence.
	DefaultConfidence float64
}

// DefaultConfig returns defaults for a whisper-cli on PATH.
func DefaultConfig() Config {
	return Config{
		BinaryPath:        "whisper-cli",
		Language:          "en",
		Threads:           4,
		DefaultConfidence: 0.7,
	}
}

type runFunc func(ctx context.Context, name string, args ...string) (stdout []byte, err error)

// Adapter implements stt.Engine using the whisper.cpp CLI.
type Adapter struct {
	cfg Config
	run runFunc
}

// New creates a new whisper.cpp engine.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, run: execRun}
}

// Name implements stt.Engine.
func (a *Adapter) Name() string { return providerName }

// Transcribe runs whisper.cpp on the clip's WAV file.
func (a *Adapter) Transcribe(ctx context.Context, audio stt.Audio) (models.EngineOutcome, error) {
	if audio.Path == "" {
		return models.EngineOutcome{}, fmt.Errorf("%s: audio path is required", providerName)
	}

	// -nt: no timestamps, -np: no progress output
	args := []string{
		"-m", a.cfg.ModelPath,
		"-f", audio.Path,
		"-l", a.cfg.Language,
		"-t", strconv.Itoa(a.cfg.Threads),
		"-nt", "-np",
	}

	out, err := a.run(ctx, a.cfg.BinaryPath, args...)
	if err != nil {
		if ctx.Err() != nil {
			return models.EngineOutcome{}, fmt.Errorf("%s: %w", providerName, ctx.Err())
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			// binary missing: retrying will not help
			return models.EngineOutcome{}, fmt.Errorf("%s: %w", providerName, err)
		}
		return models.EngineOutcome{}, stt.Recoverable(providerName, err)
	}

	text := normalizeOutput(string(out))
	outcome := models.EngineOutcome{Text: text, Succeeded: true}
	if text != "" {
		outcome.Confidence = a.cfg.DefaultConfidence
	}
	return outcome, nil
}

// normalizeOutput joins whisper's lines and drops its non-speech markers.
func normalizeOutput(s string) string {
	var parts []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "[BLANK_AUDIO]" || (strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]")) {
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}
