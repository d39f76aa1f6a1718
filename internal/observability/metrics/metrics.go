// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech_audit"

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Run metrics
	RunsTotal   *prometheus.CounterVec
	RunsActive  prometheus.Gauge
	RunDuration prometheus.Histogram

	// Audio metrics
	AudioSeconds prometheus.Histogram
	AudioSNR     prometheus.Histogram

	// STT metrics
	STTAttempts  *prometheus.CounterVec
	STTLatency   *prometheus.HistogramVec
	STTErrors    *prometheus.CounterVec
	STTFallbacks prometheus.Counter
	STTFailures  prometheus.Counter

	// Scoring metrics
	ConfidenceTier *prometheus.CounterVec

	// Redaction metrics
	Redactions   *prometheus.CounterVec
	NERFailures  prometheus.Counter
	RedactionLag prometheus.Histogram

	// Audit sink metrics
	AuditWrites      *prometheus.CounterVec
	AuditWriteErrors *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on reg. Tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by outcome",
		}, []string{"outcome"}),
		RunsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of pipeline runs in progress",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "End-to-end duration of pipeline runs",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		AudioSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_duration_seconds",
			Help:      "Duration of processed input audio",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		AudioSNR: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_snr_db",
			Help:      "Estimated signal-to-noise ratio of input audio",
			Buckets:   []float64{-10, 0, 5, 10, 15, 20, 30, 40, 60},
		}),

		STTAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_attempts_total",
			Help:      "Total number of STT engine attempts",
		}, []string{"engine", "result"}),
		STTLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_latency_seconds",
			Help:      "Speech-to-text attempt latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"engine"}),
		STTErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"engine", "error_type"}),
		STTFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_fallbacks_total",
			Help:      "Total number of runs that fell back to the secondary engine",
		}),
		STTFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_failures_total",
			Help:      "Total number of runs where no engine produced a transcript",
		}),

		ConfidenceTier: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confidence_tier_total",
			Help:      "Transcripts by confidence tier",
		}, []string{"tier"}),

		Redactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redactions_total",
			Help:      "Total number of PII spans redacted",
		}, []string{"kind"}),
		NERFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ner_failures_total",
			Help:      "Total number of NER detector failures",
		}),
		RedactionLag: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "redaction_latency_seconds",
			Help:      "Time spent redacting a transcript",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		AuditWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_writes_total",
			Help:      "Total number of audit records written per sink",
		}, []string{"sink"}),
		AuditWriteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_errors_total",
			Help:      "Total number of audit write failures per sink",
		}, []string{"sink"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordRunStart records a pipeline run starting.
func (m *Metrics) RecordRunStart() {
	m.RunsActive.Inc()
}

// RecordRunEnd records a pipeline run ending.
func (m *Metrics) RecordRunEnd(outcome string, durationSeconds float64) {
	m.RunsActive.Dec()
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(durationSeconds)
}

// RecordAudio records the measured properties of an input clip.
func (m *Metrics) RecordAudio(durationSeconds, snrDb float64) {
	m.AudioSeconds.Observe(durationSeconds)
	m.AudioSNR.Observe(snrDb)
}

// RecordSTTAttempt records one engine attempt.
func (m *Metrics) RecordSTTAttempt(engine string, err error, latencySeconds float64) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.STTAttempts.WithLabelValues(engine, result).Inc()
	m.STTLatency.WithLabelValues(engine).Observe(latencySeconds)
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(engine, errorType string) {
	m.STTErrors.WithLabelValues(engine, errorType).Inc()
}

// RecordFallback records that the secondary engine was invoked.
func (m *Metrics) RecordFallback() {
	m.STTFallbacks.Inc()
}

// RecordTranscriptionFailure records that both engines failed.
func (m *Metrics) RecordTranscriptionFailure() {
	m.STTFailures.Inc()
}

// RecordTier records the confidence tier of a finished transcript.
func (m *Metrics) RecordTier(tier string) {
	m.ConfidenceTier.WithLabelValues(tier).Inc()
}

// RecordRedaction records one redacted span.
func (m *Metrics) RecordRedaction(kind string) {
	m.Redactions.WithLabelValues(kind).Inc()
}

// RecordNERFailure records a failed NER call.
func (m *Metrics) RecordNERFailure() {
	m.NERFailures.Inc()
}

// RecordRedactionLatency records time spent in the redaction engine.
func (m *Metrics) RecordRedactionLatency(seconds float64) {
	m.RedactionLag.Observe(seconds)
}

// RecordAuditWrite records an audit sink write.
func (m *Metrics) RecordAuditWrite(sink string, err error) {
	if err != nil {
		m.AuditWriteErrors.WithLabelValues(sink).Inc()
		return
	}
	m.AuditWrites.WithLabelValues(sink).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
