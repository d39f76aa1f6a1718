// Package media prepares input audio for analysis and transcription.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"speech-audit-pipeline/internal/observability/logging"
)

// Config controls preprocessing.
type Config struct {
	FFmpegPath   string
	SampleRateHz int
	Normalize    bool // EBU R128 loudness leveling
	WorkDir      string
}

// DefaultConfig returns 16 kHz mono output with loudness normalization on.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:   "ffmpeg",
		SampleRateHz: 16000,
		Normalize:    true,
	}
}

type runFunc func(ctx context.Context, name string, args ...string) error

// Preprocessor converts arbitrary input audio into mono PCM16 WAV.
type Preprocessor struct {
	cfg    Config
	run    runFunc
	logger zerolog.Logger
}

// NewPreprocessor creates a preprocessor that shells out to ffmpeg.
func NewPreprocessor(cfg Config) *Preprocessor {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = 16000
	}
	return &Preprocessor{cfg: cfg, run: execRun, logger: logging.WithComponent("media")}
}

// Prepare returns the path of a WAV file ready for decoding. WAV input is
// passed through untouched when normalization is off. The returned cleanup
// removes any file Prepare created.
func (p *Preprocessor) Prepare(ctx context.Context, input, runID string) (string, func(), error) {
	noop := func() {}
	if _, err := os.Stat(input); err != nil {
		return "", noop, fmt.Errorf("input audio: %w", err)
	}
	if !p.cfg.Normalize && strings.EqualFold(filepath.Ext(input), ".wav") {
		return input, noop, nil
	}

	dir := p.cfg.WorkDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", noop, fmt.Errorf("create work dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	out := filepath.Join(dir, fmt.Sprintf("%s_%s_%dk.wav", base, shortID(runID), p.cfg.SampleRateHz/1000))

	// ffmpeg -y -i input [-af loudnorm] -ac 1 -ar 16000 -c:a pcm_s16le -f wav output
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", input}
	if p.cfg.Normalize {
		args = append(args, "-af", "loudnorm")
	}
	args = append(args,
		"-ac", "1",
		"-ar", strconv.Itoa(p.cfg.SampleRateHz),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		out,
	)

	p.logger.Debug().Str("input", input).Str("output", out).Bool("loudnorm", p.cfg.Normalize).Msg("Running ffmpeg")
	if err := p.run(ctx, p.cfg.FFmpegPath, args...); err != nil {
		_ = os.Remove(out)
		return "", noop, err
	}
	return out, func() { _ = os.Remove(out) }, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "run"
	}
	return id
}

func execRun(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
