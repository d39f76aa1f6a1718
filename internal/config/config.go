// Package config loads process-wide settings. Values are layered: built-in
// defaults, then an optional YAML file, then a .env file, then the process
// environment. The result is read-only after Load returns.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"speech-audit-pipeline/internal/events"
	"speech-audit-pipeline/internal/observability/logging"
	"speech-audit-pipeline/internal/service/audit"
	"speech-audit-pipeline/internal/service/media"
	"speech-audit-pipeline/internal/service/pipeline"
	"speech-audit-pipeline/internal/service/redaction"
	"speech-audit-pipeline/internal/service/scoring"
	"speech-audit-pipeline/internal/service/signal"
	"speech-audit-pipeline/internal/service/speech"
	"speech-audit-pipeline/internal/service/stt/google"
	"speech-audit-pipeline/internal/service/stt/vosk"
	"speech-audit-pipeline/internal/service/stt/whisper"
	"speech-audit-pipeline/internal/service/transcription"
)

// ErrInvalidConfig is returned when the loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Output        OutputConfig        `yaml:"output"`
	STT           STTConfig           `yaml:"stt"`
	Fallback      FallbackConfig      `yaml:"fallback"`
	Retry         RetryConfig         `yaml:"retry"`
	Scoring       scoring.Config      `yaml:"scoring"`
	Redaction     RedactionConfig     `yaml:"redaction"`
	Summary       SummaryConfig       `yaml:"summary"`
	TTS           TTSConfig           `yaml:"tts"`
	Media         MediaConfig         `yaml:"media"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Redis         RedisConfig         `yaml:"redis"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Principal string `yaml:"principal" validate:"required"`
	Env       string `yaml:"env"`
	HTTPAddr  string `yaml:"http_addr" validate:"required"`
}

type OutputConfig struct {
	Dir          string `yaml:"dir" validate:"required"`
	AuditLogPath string `yaml:"audit_log_path" validate:"required"`
	Concurrency  int    `yaml:"concurrency" validate:"gte=1"`
}

// STTConfig configures the primary engine.
type STTConfig struct {
	Provider             string        `yaml:"provider" validate:"oneof=google mock"`
	LanguageCode         string        `yaml:"language_code" validate:"required"`
	SampleRateHz         int           `yaml:"sample_rate_hz" validate:"gt=0"`
	AudioEncoding        string        `yaml:"audio_encoding"`
	Model                string        `yaml:"model"`
	Punctuation          bool          `yaml:"punctuation"`
	CredentialsFile      string        `yaml:"credentials_file"`
	Endpoint             string        `yaml:"endpoint"`
	LongRunningThreshold time.Duration `yaml:"long_running_threshold" validate:"gt=0"`
	DefaultConfidence    float64       `yaml:"default_confidence" validate:"gte=0,lte=1"`
}

// FallbackConfig configures the offline engine.
type FallbackConfig struct {
	Provider          string        `yaml:"provider" validate:"oneof=vosk whisper mock none"`
	VoskURL           string        `yaml:"vosk_url"`
	VoskChunkBytes    int           `yaml:"vosk_chunk_bytes" validate:"gte=0"`
	VoskDialTimeout   time.Duration `yaml:"vosk_dial_timeout"`
	WhisperBinary     string        `yaml:"whisper_binary"`
	WhisperModel      string        `yaml:"whisper_model"`
	WhisperThreads    int           `yaml:"whisper_threads" validate:"gte=0"`
	DefaultConfidence float64       `yaml:"default_confidence" validate:"gte=0,lte=1"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" validate:"gte=1"`
	BaseDelay      time.Duration `yaml:"base_delay" validate:"gt=0"`
	MaxDelay       time.Duration `yaml:"max_delay" validate:"gtefield=BaseDelay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" validate:"gt=0"`
}

type RedactionConfig struct {
	RequireLuhn bool          `yaml:"require_luhn"`
	Gazetteer   bool          `yaml:"gazetteer"`
	ExtraNames  []string      `yaml:"extra_names"`
	NERURL      string        `yaml:"ner_url" validate:"omitempty,url"`
	NERModel    string        `yaml:"ner_model"`
	NERTimeout  time.Duration `yaml:"ner_timeout"`
}

type SummaryConfig struct {
	MaxSentences int `yaml:"max_sentences" validate:"gte=1"`
}

type TTSConfig struct {
	Provider    string `yaml:"provider" validate:"oneof=piper none"`
	PiperBinary string `yaml:"piper_binary"`
	PiperModel  string `yaml:"piper_model" validate:"required_if=Provider piper"`
	SpeakerID   int    `yaml:"speaker_id" validate:"gte=0"`
}

type MediaConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	Normalize  bool   `yaml:"normalize"`
	WorkDir    string `yaml:"work_dir"`
}

type KafkaConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Brokers         []string `yaml:"brokers" validate:"required_if=Enabled true"`
	TopicAudit      string   `yaml:"topic_audit" validate:"required"`
	TopicTranscript string   `yaml:"topic_transcript" validate:"required"`
	Principal       string   `yaml:"principal"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Stream   string `yaml:"stream" validate:"required"`
	MaxLen   int64  `yaml:"max_len" validate:"gte=0"`
}

type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat   string `yaml:"log_format" validate:"oneof=json console"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Options selects the optional config sources.
type Options struct {
	// ConfigFile is a YAML file; empty skips the YAML layer.
	ConfigFile string
	// EnvFile is a dotenv file. Empty means ".env" if present.
	EnvFile string
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Principal: "svc-speech-audit",
			Env:       "prod",
			HTTPAddr:  ":8080",
		},
		Output: OutputConfig{
			Dir:          "output",
			AuditLogPath: "output/audit.jsonl",
			Concurrency:  1,
		},
		STT: STTConfig{
			Provider:             "mock",
			LanguageCode:         "en-US",
			SampleRateHz:         16000,
			AudioEncoding:        "LINEAR16",
			Punctuation:          true,
			LongRunningThreshold: 55 * time.Second,
			DefaultConfidence:    0.85,
		},
		Fallback: FallbackConfig{
			Provider:          "vosk",
			VoskURL:           "ws://localhost:2700",
			VoskChunkBytes:    8000,
			VoskDialTimeout:   5 * time.Second,
			WhisperBinary:     "whisper-cli",
			WhisperThreads:    4,
			DefaultConfidence: 0.7,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			BaseDelay:      500 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			AttemptTimeout: 30 * time.Second,
		},
		Scoring: scoring.DefaultConfig(),
		Redaction: RedactionConfig{
			Gazetteer:  true,
			NERModel:   "en_core_web_sm",
			NERTimeout: 5 * time.Second,
		},
		Summary: SummaryConfig{MaxSentences: 3},
		TTS: TTSConfig{
			Provider:    "none",
			PiperBinary: "piper",
		},
		Media: MediaConfig{
			FFmpegPath: "ffmpeg",
			Normalize:  true,
		},
		Kafka: KafkaConfig{
			TopicAudit:      "speech.audit.v1",
			TopicTranscript: "speech.transcript.redacted.v1",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Stream: "speech:audit",
			MaxLen: 10000,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load returns defaults overlaid with the process environment, without
// validation. Use LoadWith for the full layering.
func Load() *Config {
	cfg := Defaults()
	cfg.applyEnv()
	return cfg
}

// LoadWith applies every layer and validates the result.
func LoadWith(opts Options) (*Config, error) {
	cfg := Defaults()

	if opts.ConfigFile != "" {
		data, err := os.ReadFile(opts.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, opts.ConfigFile, err)
		}
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
		if _, err := os.Stat(envFile); err != nil {
			envFile = ""
		}
	}
	if envFile != "" {
		// godotenv never overrides variables already set in the environment
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.Env = envOrDefault("ENV", c.Service.Env)
	c.Service.HTTPAddr = envOrDefault("HTTP_ADDR", c.Service.HTTPAddr)

	c.Output.Dir = envOrDefault("OUTPUT_DIR", c.Output.Dir)
	c.Output.AuditLogPath = envOrDefault("AUDIT_LOG_PATH", c.Output.AuditLogPath)
	c.Output.Concurrency = envOrDefaultInt("RUN_CONCURRENCY", c.Output.Concurrency)

	c.STT.Provider = envOrDefault("STT_PROVIDER", c.STT.Provider)
	c.STT.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", c.STT.LanguageCode)
	c.STT.SampleRateHz = envOrDefaultInt("STT_SAMPLE_RATE_HZ", c.STT.SampleRateHz)
	c.STT.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", c.STT.AudioEncoding)
	c.STT.Model = envOrDefault("STT_MODEL", c.STT.Model)
	c.STT.Punctuation = envOrDefaultBool("STT_PUNCTUATION", c.STT.Punctuation)
	c.STT.CredentialsFile = envOrDefault("GOOGLE_APPLICATION_CREDENTIALS", c.STT.CredentialsFile)
	c.STT.Endpoint = envOrDefault("STT_ENDPOINT", c.STT.Endpoint)
	c.STT.LongRunningThreshold = envOrDefaultDuration("STT_LONG_RUNNING_THRESHOLD", c.STT.LongRunningThreshold)
	c.STT.DefaultConfidence = envOrDefaultFloat("STT_DEFAULT_CONFIDENCE", c.STT.DefaultConfidence)

	c.Fallback.Provider = envOrDefault("FALLBACK_PROVIDER", c.Fallback.Provider)
	c.Fallback.VoskURL = envOrDefault("VOSK_URL", c.Fallback.VoskURL)
	c.Fallback.VoskChunkBytes = envOrDefaultInt("VOSK_CHUNK_BYTES", c.Fallback.VoskChunkBytes)
	c.Fallback.VoskDialTimeout = envOrDefaultDuration("VOSK_DIAL_TIMEOUT", c.Fallback.VoskDialTimeout)
	c.Fallback.WhisperBinary = envOrDefault("WHISPER_BINARY", c.Fallback.WhisperBinary)
	c.Fallback.WhisperModel = envOrDefault("WHISPER_MODEL", c.Fallback.WhisperModel)
	c.Fallback.WhisperThreads = envOrDefaultInt("WHISPER_THREADS", c.Fallback.WhisperThreads)
	c.Fallback.DefaultConfidence = envOrDefaultFloat("FALLBACK_DEFAULT_CONFIDENCE", c.Fallback.DefaultConfidence)

	c.Retry.MaxAttempts = envOrDefaultInt("RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts)
	c.Retry.BaseDelay = envOrDefaultDuration("RETRY_BASE_DELAY", c.Retry.BaseDelay)
	c.Retry.MaxDelay = envOrDefaultDuration("RETRY_MAX_DELAY", c.Retry.MaxDelay)
	c.Retry.AttemptTimeout = envOrDefaultDuration("RETRY_ATTEMPT_TIMEOUT", c.Retry.AttemptTimeout)

	c.Scoring.Weights.APIConfidence = envOrDefaultFloat("SCORING_WEIGHT_API", c.Scoring.Weights.APIConfidence)
	c.Scoring.Weights.SNR = envOrDefaultFloat("SCORING_WEIGHT_SNR", c.Scoring.Weights.SNR)
	c.Scoring.Weights.Perplexity = envOrDefaultFloat("SCORING_WEIGHT_PERPLEXITY", c.Scoring.Weights.Perplexity)
	c.Scoring.Thresholds.High = envOrDefaultFloat("SCORING_THRESHOLD_HIGH", c.Scoring.Thresholds.High)
	c.Scoring.Thresholds.Medium = envOrDefaultFloat("SCORING_THRESHOLD_MEDIUM", c.Scoring.Thresholds.Medium)
	c.Scoring.Thresholds.Low = envOrDefaultFloat("SCORING_THRESHOLD_LOW", c.Scoring.Thresholds.Low)

	c.Redaction.RequireLuhn = envOrDefaultBool("REDACTION_REQUIRE_LUHN", c.Redaction.RequireLuhn)
	c.Redaction.Gazetteer = envOrDefaultBool("REDACTION_GAZETTEER", c.Redaction.Gazetteer)
	c.Redaction.ExtraNames = envOrDefaultList("REDACTION_EXTRA_NAMES", c.Redaction.ExtraNames)
	c.Redaction.NERURL = envOrDefault("NER_URL", c.Redaction.NERURL)
	c.Redaction.NERModel = envOrDefault("NER_MODEL", c.Redaction.NERModel)
	c.Redaction.NERTimeout = envOrDefaultDuration("NER_TIMEOUT", c.Redaction.NERTimeout)

	c.Summary.MaxSentences = envOrDefaultInt("SUMMARY_MAX_SENTENCES", c.Summary.MaxSentences)

	c.TTS.Provider = envOrDefault("TTS_PROVIDER", c.TTS.Provider)
	c.TTS.PiperBinary = envOrDefault("PIPER_BINARY", c.TTS.PiperBinary)
	c.TTS.PiperModel = envOrDefault("PIPER_MODEL", c.TTS.PiperModel)
	c.TTS.SpeakerID = envOrDefaultInt("PIPER_SPEAKER_ID", c.TTS.SpeakerID)

	c.Media.FFmpegPath = envOrDefault("FFMPEG_PATH", c.Media.FFmpegPath)
	c.Media.Normalize = envOrDefaultBool("MEDIA_NORMALIZE", c.Media.Normalize)
	c.Media.WorkDir = envOrDefault("MEDIA_WORK_DIR", c.Media.WorkDir)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.TopicAudit = envOrDefault("KAFKA_TOPIC_AUDIT", c.Kafka.TopicAudit)
	c.Kafka.TopicTranscript = envOrDefault("KAFKA_TOPIC_TRANSCRIPT", c.Kafka.TopicTranscript)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Redis.Enabled = envOrDefaultBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = envOrDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envOrDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = envOrDefaultInt("REDIS_DB", c.Redis.DB)
	c.Redis.Stream = envOrDefault("REDIS_STREAM", c.Redis.Stream)
	c.Redis.MaxLen = int64(envOrDefaultInt("REDIS_STREAM_MAX_LEN", int(c.Redis.MaxLen)))

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsAddr = envOrDefault("METRICS_ADDR", c.Observability.MetricsAddr)
}

// Validate checks struct constraints and the cross-field scoring and retry rules.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// RetryPolicy returns the primary engine retry policy.
func (c *Config) RetryPolicy() transcription.RetryPolicy {
	return transcription.RetryPolicy{
		MaxAttempts:    c.Retry.MaxAttempts,
		BaseDelay:      c.Retry.BaseDelay,
		MaxDelay:       c.Retry.MaxDelay,
		AttemptTimeout: c.Retry.AttemptTimeout,
	}
}

func (c *Config) GoogleConfig() google.Config {
	return google.Config{
		LanguageCode:         c.STT.LanguageCode,
		SampleRateHz:         c.STT.SampleRateHz,
		AudioEncoding:        c.STT.AudioEncoding,
		Model:                c.STT.Model,
		Punctuation:          c.STT.Punctuation,
		CredentialsFile:      c.STT.CredentialsFile,
		Endpoint:             c.STT.Endpoint,
		LongRunningThreshold: c.STT.LongRunningThreshold,
		DefaultConfidence:    c.STT.DefaultConfidence,
	}
}

func (c *Config) VoskConfig() vosk.Config {
	return vosk.Config{
		URL:               c.Fallback.VoskURL,
		ChunkBytes:        c.Fallback.VoskChunkBytes,
		DialTimeout:       c.Fallback.VoskDialTimeout,
		DefaultConfidence: c.Fallback.DefaultConfidence,
	}
}

func (c *Config) WhisperConfig() whisper.Config {
	return whisper.Config{
		BinaryPath:        c.Fallback.WhisperBinary,
		ModelPath:         c.Fallback.WhisperModel,
		Language:          strings.SplitN(c.STT.LanguageCode, "-", 2)[0],
		Threads:           c.Fallback.WhisperThreads,
		DefaultConfidence: c.Fallback.DefaultConfidence,
	}
}

func (c *Config) RedactionConfig() redaction.Config {
	return redaction.Config{RequireLuhn: c.Redaction.RequireLuhn}
}

func (c *Config) NERConfig() redaction.HTTPDetectorConfig {
	return redaction.HTTPDetectorConfig{
		URL:     c.Redaction.NERURL,
		Model:   c.Redaction.NERModel,
		Timeout: c.Redaction.NERTimeout,
	}
}

func (c *Config) MediaConfig() media.Config {
	return media.Config{
		FFmpegPath:   c.Media.FFmpegPath,
		SampleRateHz: c.STT.SampleRateHz,
		Normalize:    c.Media.Normalize,
		WorkDir:      c.Media.WorkDir,
	}
}

func (c *Config) PiperConfig() speech.PiperConfig {
	return speech.PiperConfig{
		BinaryPath: c.TTS.PiperBinary,
		ModelPath:  c.TTS.PiperModel,
		SpeakerID:  c.TTS.SpeakerID,
	}
}

func (c *Config) KafkaConfig() *events.Config {
	return &events.Config{
		Brokers:         c.Kafka.Brokers,
		TopicAudit:      c.Kafka.TopicAudit,
		TopicTranscript: c.Kafka.TopicTranscript,
		Principal:       c.Kafka.Principal,
		Enabled:         c.Kafka.Enabled,
	}
}

func (c *Config) RedisConfig() audit.RedisConfig {
	return audit.RedisConfig{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		Stream:   c.Redis.Stream,
		MaxLen:   c.Redis.MaxLen,
	}
}

func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		OutputDir:           c.Output.Dir,
		MaxSummarySentences: c.Summary.MaxSentences,
		Signal:              signal.DefaultConfig(),
	}
}

func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Observability.LogLevel
	cfg.Format = c.Observability.LogFormat
	if c.Service.Env == "dev" {
		cfg.Format = "console"
	}
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping blanks.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
