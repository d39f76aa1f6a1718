package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"

	"speech-audit-pipeline/internal/observability/metrics"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetricsWith(prometheus.NewRegistry())
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg, newTestMetrics())
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.Enabled() {
				t.Error("expected publisher to be disabled")
			}
			if p.writerAudit != nil {
				t.Error("expected nil audit writer when disabled")
			}
			if p.writerTranscript != nil {
				t.Error("expected nil transcript writer when disabled")
			}
		})
	}
}

func TestNew_EnabledMode(t *testing.T) {
	p := New(&Config{
		Enabled:         true,
		Brokers:         []string{"localhost:9092"},
		TopicAudit:      "speech.audit",
		TopicTranscript: "speech.transcript",
	}, newTestMetrics())
	defer p.Close()

	if !p.Enabled() {
		t.Fatal("expected publisher to be enabled")
	}
	w, ok := p.writerAudit.(*kafka.Writer)
	if !ok || w.Topic != "speech.audit" {
		t.Errorf("unexpected audit writer %#v", p.writerAudit)
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:         false,
		Brokers:         []string{"localhost:9092"},
		TopicAudit:      "test.audit",
		TopicTranscript: "test.transcript",
		Principal:       "test-principal",
	}

	p := New(cfg, newTestMetrics())

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicAudit != "test.audit" {
		t.Errorf("expected audit topic 'test.audit', got %s", p.topicAudit)
	}
	if p.topicTranscript != "test.transcript" {
		t.Errorf("expected transcript topic 'test.transcript', got %s", p.topicTranscript)
	}
}

func TestPublisher_Disabled(t *testing.T) {
	m := newTestMetrics()
	p := New(&Config{Enabled: false, TopicAudit: "test.audit"}, m)

	if err := p.PublishAudit(context.Background(), "run-1", map[string]string{"runId": "run-1"}); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
	if err := p.PublishTranscript(context.Background(), "run-1", map[string]string{"text": "hi"}); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("test.audit", EventTypeAudit)); got != 1 {
		t.Errorf("expected 1 recorded publish, got %v", got)
	}
}

func TestPublisher_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false}, newTestMetrics())

	// Create an unmarshalable value (channel)
	event := make(chan int)
	if err := p.PublishAudit(context.Background(), "test-key", event); err == nil {
		t.Error("expected error for unmarshalable audit event")
	}
	if err := p.PublishTranscript(context.Background(), "test-key", event); err == nil {
		t.Error("expected error for unmarshalable transcript event")
	}
}

type testEvent struct {
	RunID        string `json:"runId"`
	RedactedText string `json:"redactedText"`
}

func TestPublisher_WritesMessage(t *testing.T) {
	audit := &fakeWriter{}
	transcript := &fakeWriter{}
	p := &Publisher{
		writerAudit:      audit,
		writerTranscript: transcript,
		principal:        "speech-audit",
		topicAudit:       "speech.audit",
		topicTranscript:  "speech.transcript",
		enabled:          true,
		metrics:          newTestMetrics(),
	}

	event := testEvent{RunID: "run-123", RedactedText: "my name is [REDACTED_PERSON]"}
	if err := p.PublishTranscript(context.Background(), "run-123", event); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(audit.msgs) != 0 {
		t.Errorf("expected no audit messages, got %d", len(audit.msgs))
	}
	if len(transcript.msgs) != 1 {
		t.Fatalf("expected 1 transcript message, got %d", len(transcript.msgs))
	}

	msg := transcript.msgs[0]
	if string(msg.Key) != "run-123" {
		t.Errorf("expected key run-123, got %s", msg.Key)
	}
	var decoded testEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded != event {
		t.Errorf("payload mismatch: %+v", decoded)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["eventType"] != EventTypeTranscript || headers["principal"] != "speech-audit" {
		t.Errorf("unexpected headers %v", headers)
	}
}

func TestPublisher_WriteError(t *testing.T) {
	m := newTestMetrics()
	writeErr := errors.New("broker not available")
	p := &Publisher{
		writerAudit: &fakeWriter{err: writeErr},
		topicAudit:  "speech.audit",
		enabled:     true,
		metrics:     m,
	}

	err := p.PublishAudit(context.Background(), "run-1", testEvent{RunID: "run-1"})
	if !errors.Is(err, writeErr) {
		t.Fatalf("expected write error, got %v", err)
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("speech.audit", EventTypeAudit)); got != 1 {
		t.Errorf("expected 1 publish error, got %v", got)
	}
}

func TestPublisher_Close(t *testing.T) {
	audit := &fakeWriter{}
	transcript := &fakeWriter{}
	p := &Publisher{writerAudit: audit, writerTranscript: transcript}

	if err := p.Close(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if !audit.closed || !transcript.closed {
		t.Error("expected both writers closed")
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false}, newTestMetrics())

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}
