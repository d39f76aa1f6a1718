package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"speech-audit-pipeline/internal/app"
	"speech-audit-pipeline/internal/config"
	"speech-audit-pipeline/internal/events"
	httpapi "speech-audit-pipeline/internal/http"
	"speech-audit-pipeline/internal/observability"
	"speech-audit-pipeline/internal/service/pipeline"
)

const shutdownTimeout = 10 * time.Second

type fileRunner interface {
	Run(ctx context.Context, input string) (pipeline.Result, error)
}

type globalFlags struct {
	configFile string
	envFile    string
}

// runSummary is printed to stdout once per processed file.
type runSummary struct {
	Input          string  `json:"input"`
	RunID          string  `json:"runId,omitempty"`
	Transcript     string  `json:"transcriptPath,omitempty"`
	SummaryAudio   string  `json:"summaryAudioPath,omitempty"`
	Engine         string  `json:"engineUsed,omitempty"`
	Tier           string  `json:"tier,omitempty"`
	RedactionCount int     `json:"redactionCount"`
	SNRDb          float64 `json:"snrDb"`
	Error          string  `json:"error,omitempty"`
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "speechaudit",
		Short:         "Transcribe, redact, summarize and audit recorded speech",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "dotenv file (default .env when present)")

	root.AddCommand(newRunCmd(flags), newRedactCmd(flags), newServeCmd(flags), newTailCmd(flags))
	return root
}

func loadApp(flags *globalFlags) (*app.Application, error) {
	cfg, err := config.LoadWith(config.Options{ConfigFile: flags.configFile, EnvFile: flags.envFile})
	if err != nil {
		return nil, err
	}
	return app.New(cfg), nil
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		concurrency int
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "run FILE...",
		Short: "Process audio files end to end",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			if cmd.Flags().Changed("concurrency") {
				application.Cfg.Output.Concurrency = concurrency
			}
			if cmd.Flags().Changed("metrics-addr") {
				application.Cfg.Observability.MetricsAddr = metricsAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if addr := application.Cfg.Observability.MetricsAddr; addr != "" {
				srv := observability.NewServer(addr, nil)
				if err := srv.Start(); err != nil {
					return fmt.Errorf("metrics server: %w", err)
				}
				defer shutdownServer(srv)
			}

			p, err := application.Pipeline(ctx)
			if err != nil {
				return err
			}
			if err := application.Start(); err != nil {
				return err
			}

			return runFiles(ctx, cmd.OutOrStdout(), p, args, application.Cfg.Output.Concurrency)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "files processed in parallel")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics on this address during the run")
	return cmd
}

// runFiles processes inputs with at most limit runs in flight. A failed
// file does not stop the others; the joined error reports every failure.
func runFiles(ctx context.Context, out io.Writer, p fileRunner, inputs []string, limit int) error {
	if limit < 1 {
		limit = 1
	}
	summaries := make([]runSummary, len(inputs))
	errs := make([]error, len(inputs))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, input := range inputs {
		g.Go(func() error {
			summaries[i], errs[i] = runOne(ctx, p, input)
			return nil
		})
	}
	_ = g.Wait()

	enc := json.NewEncoder(out)
	for _, s := range summaries {
		if err := enc.Encode(s); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func runOne(ctx context.Context, p fileRunner, input string) (runSummary, error) {
	s := runSummary{Input: input}
	res, err := p.Run(ctx, input)
	if err != nil {
		log.Error().Err(err).Str("input", input).Msg("Run failed")
		s.Error = err.Error()
		return s, fmt.Errorf("%s: %w", input, err)
	}
	s.RunID = res.RunID
	s.Transcript = res.TranscriptPath
	s.SummaryAudio = res.SummaryAudioPath
	s.Engine = string(res.Audit.EngineUsed)
	s.Tier = string(res.Audit.Confidence.Tier)
	s.RedactionCount = res.Audit.RedactionCount
	s.SNRDb = res.Audit.SNRDb
	return s, nil
}

func newRedactCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "redact [TEXT]",
		Short: "Redact PII from text given as an argument or on stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			var text string
			if len(args) == 1 {
				text = args[0]
			} else {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = strings.TrimRight(string(b), "\r\n")
			}

			out, err := application.Redactor().Redact(cmd.Context(), text)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the redaction API with health and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := loadApp(flags)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			if cmd.Flags().Changed("addr") {
				application.Cfg.Service.HTTPAddr = addr
			}

			router := httpapi.NewRouter(application, application.Redactor())
			srv := observability.NewServer(application.Cfg.Service.HTTPAddr, router)
			if err := srv.Start(); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			if err := application.Start(); err != nil {
				shutdownServer(srv)
				return err
			}
			log.Info().Str("addr", srv.Addr()).Msg("Speech audit service started")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			shutdownServer(srv)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http_addr)")
	return cmd
}

// tailLine is printed to stdout for every consumed event.
type tailLine struct {
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	EventType string          `json:"eventType,omitempty"`
	Principal string          `json:"principal,omitempty"`
	Time      time.Time       `json:"time"`
	Event     json.RawMessage `json:"event"`
}

func newTailCmd(flags *globalFlags) *cobra.Command {
	var (
		since      time.Duration
		transcript bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow audit records (or redacted transcripts) published to Kafka",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(config.Options{ConfigFile: flags.configFile, EnvFile: flags.envFile})
			if err != nil {
				return err
			}
			if len(cfg.Kafka.Brokers) == 0 {
				return errors.New("tail: no Kafka brokers configured")
			}
			topic := cfg.Kafka.TopicAudit
			if transcript {
				topic = cfg.Kafka.TopicTranscript
			}

			consumer := events.NewConsumer(events.ConsumerConfig{Brokers: cfg.Kafka.Brokers, Topic: topic, Since: since})
			defer consumer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			enc := json.NewEncoder(cmd.OutOrStdout())
			return consumer.Run(ctx, func(m events.Message) error {
				if !json.Valid(m.Value) {
					log.Warn().Str("topic", m.Topic).Str("key", m.Key).Msg("Skipping non-JSON event")
					return nil
				}
				return enc.Encode(tailLine{
					Topic:     m.Topic,
					Key:       m.Key,
					EventType: m.EventType,
					Principal: m.Principal,
					Time:      m.Time,
					Event:     m.Value,
				})
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", time.Hour, "replay events newer than this")
	cmd.Flags().BoolVar(&transcript, "transcripts", false, "follow the redacted transcript topic")
	return cmd
}

func shutdownServer(srv *observability.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}
