package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speech-audit-pipeline/internal/models"
	"speech-audit-pipeline/internal/observability/metrics"
	"speech-audit-pipeline/internal/schema"
)

func sampleRecord(runID string) models.AuditRecord {
	return models.AuditRecord{
		RunID:            runID,
		TimestampUTC:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Confidence:       models.ConfidenceScore{Value: 0.6, Tier: models.TierMedium, Components: map[string]float64{}},
		EngineUsed:       models.EngineFallback,
		RedactionCount:   1,
		RedactionsByKind: map[models.PIIKind]int{models.PIIPersonName: 1},
		Errors:           []string{},
	}
}

func readLines(t *testing.T, path string) []models.AuditRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []models.AuditRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec models.AuditRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestFileSink_AppendsOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")

	s, err := NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), sampleRecord("a")))
	require.NoError(t, s.Close())

	// reopening appends rather than truncating
	s, err = NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), sampleRecord("b")))
	require.NoError(t, s.Close())

	recs := readLines(t, path)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].RunID)
	assert.Equal(t, "b", recs[1].RunID)
	assert.Equal(t, 1, recs[1].RedactionsByKind[models.PIIPersonName])
}

func TestFileSink_ConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	s, err := NewFileSink(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Write(context.Background(), sampleRecord("run")))
		}()
	}
	wg.Wait()
	require.NoError(t, s.Close())

	assert.Len(t, readLines(t, path), 20)
}

func TestFileSink_WriteAfterClose(t *testing.T) {
	s, err := NewFileSink(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Write(context.Background(), sampleRecord("x")), os.ErrClosed)
	assert.NoError(t, s.Close())
}

type fakeStream struct {
	args   []*redis.XAddArgs
	err    error
	closed bool
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx, "xadd", a.Stream)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.args = append(f.args, a)
	cmd.SetVal("1-0")
	return cmd
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

func TestRedisSink_Write(t *testing.T) {
	fake := &fakeStream{}
	s := newRedisSink(fake, "", 1000)

	require.NoError(t, s.Write(context.Background(), sampleRecord("run-9")))

	require.Len(t, fake.args, 1)
	a := fake.args[0]
	assert.Equal(t, "speech:audit", a.Stream)
	assert.Equal(t, int64(1000), a.MaxLen)
	assert.True(t, a.Approx)

	values, ok := a.Values.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-9", values["runId"])
	assert.Equal(t, "FALLBACK", values["engine"])

	var rec models.AuditRecord
	require.NoError(t, json.Unmarshal([]byte(values["record"].(string)), &rec))
	assert.Equal(t, "run-9", rec.RunID)

	require.NoError(t, s.Close())
	assert.True(t, fake.closed)
}

func TestRedisSink_WriteError(t *testing.T) {
	s := newRedisSink(&fakeStream{err: errors.New("connection refused")}, "audit", 0)

	err := s.Write(context.Background(), sampleRecord("run-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

type memorySink struct {
	name string
	err  error
	recs []models.AuditRecord
}

func (m *memorySink) Name() string { return m.name }

func (m *memorySink) Write(_ context.Context, rec models.AuditRecord) error {
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memorySink) Close() error { return nil }

func TestMultiSink_MirrorFailureIsNotFatal(t *testing.T) {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	primary := &memorySink{name: "file"}
	broken := &memorySink{name: "kafka", err: errors.New("broker down")}
	healthy := &memorySink{name: "redis"}

	s := NewMultiSink(m, primary, broken, healthy)
	require.NoError(t, s.Write(context.Background(), sampleRecord("run-1")))

	assert.Len(t, primary.recs, 1)
	assert.Len(t, healthy.recs, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditWrites.WithLabelValues("file")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditWriteErrors.WithLabelValues("kafka")))
}

func TestMultiSink_PrimaryFailureSkipsMirrors(t *testing.T) {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	primary := &memorySink{name: "file", err: errors.New("disk full")}
	mirror := &memorySink{name: "redis"}

	err := NewMultiSink(m, primary, mirror).Write(context.Background(), sampleRecord("run-1"))
	require.Error(t, err)
	assert.Empty(t, mirror.recs)
}

func TestMultiSink_RejectsInvalidRecord(t *testing.T) {
	primary := &memorySink{name: "file"}
	rec := sampleRecord("")

	err := NewMultiSink(metrics.NewMetricsWith(prometheus.NewRegistry()), primary).Write(context.Background(), rec)
	assert.ErrorIs(t, err, schema.ErrInvalidRecord)
	assert.Empty(t, primary.recs)
}
