// Package google provides a Google Cloud Speech-to-Text engine.
package google

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speech-audit-pipeline/internal/models"
	"speech-audit-pipeline/internal/observability"
	"speech-audit-pipeline/internal/service/stt"
)

const providerName = "google"

// Config holds Google STT configuration.
type Config struct {
	LanguageCode    string
	SampleRateHz    int
	AudioEncoding   string // LINEAR16, MULAW, FLAC, etc.
	Model           string
	Punctuation     bool
	CredentialsFile string
	Endpoint        string

	// Clips longer than this use LongRunningRecognize.
	LongRunningThreshold time.Duration
	// Used when the API reports neither utterance nor word confidence.
	DefaultConfidence float64
}

// DefaultConfig returns sensible defaults for batch transcription.
func DefaultConfig() Config {
	return Config{
		LanguageCode:         "en-US",
		SampleRateHz:         16000,
		AudioEncoding:        "LINEAR16",
		Punctuation:          true,
		LongRunningThreshold: 55 * time.Second,
		DefaultConfidence:    0.85,
	}
}

// parseAudioEncoding converts string encoding name to speechpb enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

type (
	recognizeFunc     func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	longRecognizeFunc func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error)
)

// Adapter implements stt.Engine using Google Cloud Speech-to-Text.
type Adapter struct {
	cfg           Config
	client        *speech.Client
	recognize     recognizeFunc
	longRecognize longRecognizeFunc
}

// New creates a new Google STT engine.
// Uses CredentialsFile when set, otherwise GOOGLE_APPLICATION_CREDENTIALS.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	opts := []option.ClientOption{
		option.WithGRPCDialOption(grpc.WithChainUnaryInterceptor(
			observability.UnaryClientInterceptor(providerName),
		)),
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}

	a := newWithFuncs(cfg,
		func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			return c.Recognize(ctx, req)
		},
		func(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
			op, err := c.LongRunningRecognize(ctx, req)
			if err != nil {
				return nil, err
			}
			return op.Wait(ctx)
		},
	)
	a.client = c
	return a, nil
}

func newWithFuncs(cfg Config, rec recognizeFunc, long longRecognizeFunc) *Adapter {
	return &Adapter{cfg: cfg, recognize: rec, longRecognize: long}
}

// Name implements stt.Engine.
func (a *Adapter) Name() string { return providerName }

// Transcribe sends the whole clip to Google and flattens the results.
func (a *Adapter) Transcribe(ctx context.Context, audio stt.Audio) (models.EngineOutcome, error) {
	rc := a.recognitionConfig(audio)
	ra := &speechpb.RecognitionAudio{
		AudioSource: &speechpb.RecognitionAudio_Content{Content: audio.Data},
	}

	var results []*speechpb.SpeechRecognitionResult
	if a.cfg.LongRunningThreshold > 0 && audio.DurationSeconds > a.cfg.LongRunningThreshold.Seconds() {
		log.Debug().Float64("durationSeconds", audio.DurationSeconds).Msg("Using long-running recognition")
		resp, err := a.longRecognize(ctx, &speechpb.LongRunningRecognizeRequest{Config: rc, Audio: ra})
		if err != nil {
			return models.EngineOutcome{}, classify(err)
		}
		results = resp.GetResults()
	} else {
		resp, err := a.recognize(ctx, &speechpb.RecognizeRequest{Config: rc, Audio: ra})
		if err != nil {
			return models.EngineOutcome{}, classify(err)
		}
		results = resp.GetResults()
	}

	return a.outcome(results), nil
}

// Close releases the underlying gRPC connection.
func (a *Adapter) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

func (a *Adapter) recognitionConfig(audio stt.Audio) *speechpb.RecognitionConfig {
	rate := a.cfg.SampleRateHz
	if audio.SampleRateHz > 0 {
		rate = audio.SampleRateHz
	}
	return &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(a.cfg.AudioEncoding),
		SampleRateHertz:            int32(rate),
		AudioChannelCount:          1,
		LanguageCode:               a.cfg.LanguageCode,
		Model:                      a.cfg.Model,
		EnableAutomaticPunctuation: a.cfg.Punctuation,
		EnableWordConfidence:       true,
	}
}

// outcome joins the top alternative of every result.
func (a *Adapter) outcome(results []*speechpb.SpeechRecognitionResult) models.EngineOutcome {
	var (
		parts   []string
		words   []models.WordConfidence
		confSum float64
		confN   int
	)
	for _, r := range results {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		if t := strings.TrimSpace(alt.GetTranscript()); t != "" {
			parts = append(parts, t)
		}
		if alt.GetConfidence() > 0 {
			confSum += float64(alt.GetConfidence())
			confN++
		}
		for _, w := range alt.GetWords() {
			words = append(words, models.WordConfidence{
				Word:       w.GetWord(),
				Confidence: float64(w.GetConfidence()),
			})
		}
	}

	out := models.EngineOutcome{
		Text:              strings.Join(parts, " "),
		PerWordConfidence: words,
		Succeeded:         true,
	}
	if confN > 0 {
		out.Confidence = confSum / float64(confN)
	}
	if out.Text != "" && out.APIConfidence() == 0 {
		out.Confidence = a.cfg.DefaultConfidence
	}
	return out
}

// classify marks transient gRPC failures as recoverable.
func classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", providerName, err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return stt.Recoverable(providerName, err)
	default:
		return fmt.Errorf("%s: %w", providerName, err)
	}
}
