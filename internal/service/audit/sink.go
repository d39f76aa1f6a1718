package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"speech-audit-pipeline/internal/events"
	"speech-audit-pipeline/internal/models"
	"speech-audit-pipeline/internal/observability/logging"
	"speech-audit-pipeline/internal/observability/metrics"
	"speech-audit-pipeline/internal/schema"
)

// Sink persists audit records.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec models.AuditRecord) error
	Close() error
}

// FileSink appends one JSON document per line to a local file.
type FileSink struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileSink opens path for appending, creating parent directories.
func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileSink{path: path, file: f}, nil
}

func (s *FileSink) Name() string { return "file" }

// Path returns the audit log location.
func (s *FileSink) Path() string { return s.path }

// Write encodes rec as a single line. Concurrent writers never interleave.
func (s *FileSink) Write(_ context.Context, rec models.AuditRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return os.ErrClosed
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// auditPublisher is the subset of events.Publisher used by KafkaSink.
type auditPublisher interface {
	PublishAudit(ctx context.Context, key string, event any) error
	Close() error
}

var _ auditPublisher = (*events.Publisher)(nil)

// KafkaSink mirrors audit records to the audit topic, keyed by run ID.
type KafkaSink struct {
	pub auditPublisher
}

func NewKafkaSink(pub *events.Publisher) *KafkaSink {
	return &KafkaSink{pub: pub}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, rec models.AuditRecord) error {
	return s.pub.PublishAudit(ctx, rec.RunID, rec)
}

func (s *KafkaSink) Close() error { return s.pub.Close() }

// streamClient is the subset of *redis.Client used by RedisSink.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisConfig configures the Redis stream mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// RedisSink appends audit records to a Redis stream.
type RedisSink struct {
	client streamClient
	stream string
	maxLen int64
}

// NewRedisSink connects lazily; the first write surfaces connection errors.
func NewRedisSink(cfg RedisConfig) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisSink(client, cfg.Stream, cfg.MaxLen)
}

func newRedisSink(client streamClient, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = "speech:audit"
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Write(ctx context.Context, rec models.AuditRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"runId":  rec.RunID,
			"engine": string(rec.EngineUsed),
			"record": string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis XADD %s: %w", s.stream, err)
	}
	return nil
}

func (s *RedisSink) Close() error { return s.client.Close() }

// MultiSink validates a record, writes it to the primary sink and then
// mirrors it. Only primary failures are returned; mirror failures are logged
// and counted.
type MultiSink struct {
	primary   Sink
	mirrors   []Sink
	validator *schema.Validator
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewMultiSink(m *metrics.Metrics, primary Sink, mirrors ...Sink) *MultiSink {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &MultiSink{
		primary:   primary,
		mirrors:   mirrors,
		validator: schema.New(),
		metrics:   m,
		logger:    logging.WithComponent("audit"),
	}
}

func (s *MultiSink) Name() string { return "multi" }

func (s *MultiSink) Write(ctx context.Context, rec models.AuditRecord) error {
	if err := s.validator.Validate(rec); err != nil {
		return err
	}

	err := s.primary.Write(ctx, rec)
	s.metrics.RecordAuditWrite(s.primary.Name(), err)
	if err != nil {
		return err
	}

	for _, m := range s.mirrors {
		merr := m.Write(ctx, rec)
		s.metrics.RecordAuditWrite(m.Name(), merr)
		if merr != nil {
			s.logger.Warn().
				Err(merr).
				Str("sink", m.Name()).
				Str("runId", rec.RunID).
				Msg("Audit mirror write failed")
		}
	}
	return nil
}

func (s *MultiSink) Close() error {
	var errs []error
	if err := s.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, m := range s.mirrors {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
		}
	}
	return errors.Join(errs...)
}
