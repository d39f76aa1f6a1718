// Package speech renders summaries to audio.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"speech-audit-pipeline/internal/observability/logging"
)

// Result describes one synthesis call.
type Result struct {
	Path    string // empty when skipped
	Bytes   int64
	Skipped bool
	Reason  string
}

// Synthesizer writes spoken audio for text to outPath. Blank text must yield
// a skipped Result, never an error.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text, outPath string) (Result, error)
}

// Noop never produces audio.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) Synthesize(_ context.Context, _ string, _ string) (Result, error) {
	return Result{Skipped: true, Reason: "speech synthesis disabled"}, nil
}

// PiperConfig holds Piper TTS configuration.
type PiperConfig struct {
	BinaryPath string
	ModelPath  string
	ConfigPath string // defaults to ModelPath + ".json"
	SpeakerID  int
}

type runFunc func(ctx context.Context, stdin string, name string, args ...string) error

// Piper synthesizes speech with the piper CLI.
type Piper struct {
	cfg    PiperConfig
	run    runFunc
	logger zerolog.Logger
}

// NewPiper validates that the model exists. The binary is resolved at call time.
func NewPiper(cfg PiperConfig) (*Piper, error) {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "piper"
	}
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("piper model path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("piper model: %w", err)
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = cfg.ModelPath + ".json"
	}
	return &Piper{cfg: cfg, run: execRun, logger: logging.WithComponent("speech")}, nil
}

func (p *Piper) Name() string { return "piper" }

// Synthesize pipes text to piper and writes a WAV file at outPath.
func (p *Piper) Synthesize(ctx context.Context, text, outPath string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{Skipped: true, Reason: "empty text"}, nil
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}

	// piper --model model.onnx --config model.onnx.json --output_file out.wav
	args := []string{
		"--model", p.cfg.ModelPath,
		"--config", p.cfg.ConfigPath,
		"--output_file", outPath,
	}
	if p.cfg.SpeakerID > 0 {
		args = append(args, "--speaker", fmt.Sprint(p.cfg.SpeakerID))
	}

	p.logger.Debug().Str("output", outPath).Int("chars", len(text)).Msg("Running piper")
	if err := p.run(ctx, text, p.cfg.BinaryPath, args...); err != nil {
		return Result{}, err
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return Result{}, fmt.Errorf("piper produced no output: %w", err)
	}
	return Result{Path: outPath, Bytes: info.Size()}, nil
}

func execRun(ctx context.Context, stdin string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("piper failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
