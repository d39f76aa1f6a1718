package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"speech-audit-pipeline/internal/config"
	"speech-audit-pipeline/internal/events"
	"speech-audit-pipeline/internal/observability/logging"
	"speech-audit-pipeline/internal/observability/metrics"
	"speech-audit-pipeline/internal/service/audit"
	"speech-audit-pipeline/internal/service/media"
	"speech-audit-pipeline/internal/service/pipeline"
	"speech-audit-pipeline/internal/service/redaction"
	"speech-audit-pipeline/internal/service/scoring"
	"speech-audit-pipeline/internal/service/speech"
	"speech-audit-pipeline/internal/service/stt"
	"speech-audit-pipeline/internal/service/stt/google"
	"speech-audit-pipeline/internal/service/stt/mock"
	"speech-audit-pipeline/internal/service/stt/vosk"
	"speech-audit-pipeline/internal/service/stt/whisper"
	"speech-audit-pipeline/internal/service/transcription"
)

const serviceName = "speech-audit-pipeline"

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	Metrics     *metrics.Metrics

	ready   atomic.Bool
	closers []io.Closer
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Config) *Application {
	a := &Application{
		Cfg:     cfg,
		Metrics: metrics.DefaultMetrics,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("Speech audit application created")
	return a
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(a.Cfg.LoggingConfig())

	a.Logger = logging.Logger().With().
		Str("service", serviceName).
		Str("component", "application").
		Logger()

	a.Logger.Debug().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", a.Cfg.Service.Env).
		Msg("Logger setup completed")
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Speech audit service starting")

	return nil
}

// Ready reports whether Start has completed and Shutdown has not begun.
func (a *Application) Ready() bool { return a.ready.Load() }

// Redactor builds the redaction engine with the configured entity detectors.
func (a *Application) Redactor() *redaction.Engine {
	var detectors []redaction.EntityDetector
	if a.Cfg.Redaction.NERURL != "" {
		detectors = append(detectors, redaction.NewHTTPDetector(a.Cfg.NERConfig()))
	}
	if a.Cfg.Redaction.Gazetteer {
		detectors = append(detectors, redaction.NewGazetteerDetector(a.Cfg.Redaction.ExtraNames...))
	}
	return redaction.New(a.Cfg.RedactionConfig(), a.Metrics, detectors...)
}

// Pipeline wires every collaborator from configuration. Resources it opens
// are released by Shutdown.
func (a *Application) Pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	primary, err := a.primaryEngine(ctx)
	if err != nil {
		return nil, err
	}
	fallback, err := a.fallbackEngine()
	if err != nil {
		return nil, err
	}

	scorer, err := scoring.New(a.Cfg.Scoring, nil)
	if err != nil {
		return nil, err
	}
	orch, err := transcription.New(primary, fallback, scorer, a.Cfg.RetryPolicy(), a.Metrics)
	if err != nil {
		return nil, err
	}

	synth, err := a.synthesizer()
	if err != nil {
		return nil, err
	}

	sink, publisher, err := a.auditSink()
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Preparer:    media.NewPreprocessor(a.Cfg.MediaConfig()),
		Transcriber: orch,
		Redactor:    a.Redactor(),
		Synthesizer: synth,
		Sink:        sink,
		Metrics:     a.Metrics,
	}
	if publisher != nil {
		deps.Publisher = publisher
	}
	return pipeline.New(a.Cfg.PipelineConfig(), deps)
}

func (a *Application) primaryEngine(ctx context.Context) (stt.Engine, error) {
	switch a.Cfg.STT.Provider {
	case "google":
		g, err := google.New(ctx, a.Cfg.GoogleConfig())
		if err != nil {
			return nil, fmt.Errorf("google speech client: %w", err)
		}
		a.closers = append(a.closers, g)
		return g, nil
	case "mock":
		return mock.New("mock"), nil
	}
	return nil, fmt.Errorf("unknown STT provider %q", a.Cfg.STT.Provider)
}

func (a *Application) fallbackEngine() (stt.Engine, error) {
	switch a.Cfg.Fallback.Provider {
	case "vosk":
		return vosk.New(a.Cfg.VoskConfig()), nil
	case "whisper":
		return whisper.New(a.Cfg.WhisperConfig()), nil
	case "mock":
		return mock.New("mock-fallback"), nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown fallback provider %q", a.Cfg.Fallback.Provider)
}

func (a *Application) synthesizer() (speech.Synthesizer, error) {
	if a.Cfg.TTS.Provider != "piper" {
		return speech.Noop{}, nil
	}
	return speech.NewPiper(a.Cfg.PiperConfig())
}

// auditSink opens the JSONL log and the enabled mirrors. The Kafka publisher
// is returned so the pipeline can also publish transcript events.
func (a *Application) auditSink() (audit.Sink, *events.Publisher, error) {
	file, err := audit.NewFileSink(a.Cfg.Output.AuditLogPath)
	if err != nil {
		return nil, nil, err
	}

	var (
		mirrors   []audit.Sink
		publisher *events.Publisher
	)
	if a.Cfg.Kafka.Enabled {
		publisher = events.New(a.Cfg.KafkaConfig(), a.Metrics)
		mirrors = append(mirrors, audit.NewKafkaSink(publisher))
	}
	if a.Cfg.Redis.Enabled {
		mirrors = append(mirrors, audit.NewRedisSink(a.Cfg.RedisConfig()))
	}

	sink := audit.NewMultiSink(a.Metrics, file, mirrors...)
	a.closers = append(a.closers, sink)
	return sink, publisher, nil
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown() {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	a.ready.Store(false)
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	if err := errors.Join(errs...); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Errors while releasing resources")
	}
	shutdownLogger.Info().Msg("Speech audit service shutting down")
}
