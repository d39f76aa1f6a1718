package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-audit-pipeline/internal/models"
	"speech-audit-pipeline/internal/service/media"
	"speech-audit-pipeline/internal/service/pipeline"
	"speech-audit-pipeline/internal/service/signal"
)

type fakeRunner struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeRunner) Run(_ context.Context, input string) (pipeline.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)

	if strings.HasPrefix(input, "bad") {
		return pipeline.Result{}, signal.ErrInvalidAudio
	}
	return pipeline.Result{
		RunID: "run-" + input,
		Audit: models.AuditRecord{
			EngineUsed:     models.EnginePrimary,
			RedactionCount: 2,
			Confidence:     models.ConfidenceScore{Tier: models.TierHigh},
		},
	}, nil
}

func TestRunFiles(t *testing.T) {
	var out bytes.Buffer
	runner := &fakeRunner{}

	err := runFiles(context.Background(), &out, runner, []string{"a.wav", "bad.wav", "c.wav", "d.wav"}, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, signal.ErrInvalidAudio)
	assert.Contains(t, err.Error(), "bad.wav")
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)

	var first, failed runSummary
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &failed))

	assert.Equal(t, "a.wav", first.Input)
	assert.Equal(t, "run-a.wav", first.RunID)
	assert.Equal(t, "PRIMARY", first.Engine)
	assert.Equal(t, "HIGH", first.Tier)
	assert.Equal(t, 2, first.RedactionCount)

	assert.Equal(t, "bad.wav", failed.Input)
	assert.NotEmpty(t, failed.Error)
	assert.Empty(t, failed.RunID)
}

func TestRunFiles_AllSucceed(t *testing.T) {
	var out bytes.Buffer
	err := runFiles(context.Background(), &out, &fakeRunner{}, []string{"a.wav"}, 0)
	assert.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("OUTPUT_DIR", filepath.Join(dir, "out"))
	t.Setenv("AUDIT_LOG_PATH", filepath.Join(dir, "out", "audit.jsonl"))
	t.Setenv("FALLBACK_PROVIDER", "none")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func TestRedactCommand(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		stdin string
	}{
		{"argument", []string{"redact", "call me at 555-123-4567"}, ""},
		{"stdin", []string{"redact"}, "call me at 555-123-4567\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			var out bytes.Buffer
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			cmd.SetIn(strings.NewReader(tt.stdin))
			cmd.SetOut(&out)

			require.NoError(t, cmd.Execute())

			var got models.RedactedTranscript
			require.NoError(t, json.Unmarshal(out.Bytes(), &got))
			assert.Equal(t, "call me at [REDACTED_PHONE]", got.RedactedText)
			require.Len(t, got.Matches, 1)
			assert.Equal(t, models.PIIPhone, got.Matches[0].Kind)
		})
	}
}

func TestRunCommand_MockEngine(t *testing.T) {
	dir := isolate(t)
	t.Setenv("STT_PROVIDER", "mock")
	t.Setenv("MEDIA_NORMALIZE", "false")

	samples := make([]float64, 16000)
	for i := range samples {
		samples[i] = 0.3
		if i%2 == 0 {
			samples[i] = -0.3
		}
	}
	input := filepath.Join(dir, "call.wav")
	require.NoError(t, os.WriteFile(input, media.EncodeWAV(media.PCM16(samples), 16000), 0o644))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs([]string{"run", "--concurrency", "2", input})
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())

	var s runSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &s))
	assert.Equal(t, input, s.Input)
	assert.NotEmpty(t, s.RunID)
	assert.FileExists(t, s.Transcript)
	assert.FileExists(t, filepath.Join(dir, "out", "audit.jsonl"))
}

func TestRunCommand_RequiresFiles(t *testing.T) {
	isolate(t)
	cmd := newRootCmd()
	cmd.SetArgs([]string{"run"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestRootCommand_BadConfigFile(t *testing.T) {
	isolate(t)
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", "/does/not/exist.yaml", "redact", "hi"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestTailCommand_RequiresBrokers(t *testing.T) {
	isolate(t)
	t.Setenv("KAFKA_BROKERS", "")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"tail"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Kafka brokers")
}
