// Package vosk provides a fallback STT engine backed by a Vosk websocket server.
package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"speech-audit-pipeline/internal/models"
	"speech-audit-pipeline/internal/service/stt"
)

const providerName = "vosk"

// Config holds Vosk client configuration.
type Config struct {
	URL               string
	ChunkBytes        int
	DialTimeout       time.Duration
	DefaultConfidence float64
}

// DefaultConfig returns defaults for a local vosk-server.
func DefaultConfig() Config {
	return Config{
		URL:               "ws://localhost:2700",
		ChunkBytes:        8000,
		DialTimeout:       5 * time.Second,
		DefaultConfidence: 0.7,
	}
}

// voskResult is one message from the server. Partial messages carry only Partial.
type voskResult struct {
	Text   string `json:"text"`
	Result []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Conf  float64 `json:"conf"`
	} `json:"result"`
	Partial string `json:"partial"`
}

type configMessage struct {
	Config struct {
		SampleRate int `json:"sample_rate"`
		Words      int `json:"words"`
	} `json:"config"`
}

// Adapter implements stt.Engine against a Vosk server. Each call opens its
// own connection, so an Adapter is safe for concurrent use.
type Adapter struct {
	cfg    Config
	dialer *websocket.Dialer
}

// New creates a new Vosk engine.
func New(cfg Config) *Adapter {
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = DefaultConfig().ChunkBytes
	}
	return &Adapter{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
	}
}

// Name implements stt.Engine.
func (a *Adapter) Name() string { return providerName }

// Transcribe streams the clip to Vosk and collects every final result.
func (a *Adapter) Transcribe(ctx context.Context, audio stt.Audio) (models.EngineOutcome, error) {
	conn, _, err := a.dialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		return models.EngineOutcome{}, stt.Recoverable(providerName, fmt.Errorf("dial %s: %w", a.cfg.URL, err))
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	writeErr := make(chan error, 1)
	go func() { writeErr <- a.send(conn, audio) }()

	var (
		parts []string
		words []models.WordConfidence
	)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				break
			}
			if ctx.Err() != nil {
				return models.EngineOutcome{}, fmt.Errorf("%s: %w", providerName, ctx.Err())
			}
			return models.EngineOutcome{}, stt.Recoverable(providerName, fmt.Errorf("read: %w", err))
		}

		var res voskResult
		if err := json.Unmarshal(msg, &res); err != nil {
			log.Warn().Err(err).Str("provider", providerName).Msg("Failed to parse Vosk result")
			continue
		}
		if t := strings.TrimSpace(res.Text); t != "" {
			parts = append(parts, t)
			for _, w := range res.Result {
				words = append(words, models.WordConfidence{Word: w.Word, Confidence: w.Conf})
			}
		}
	}

	if err := <-writeErr; err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return models.EngineOutcome{}, stt.Recoverable(providerName, fmt.Errorf("write: %w", err))
	}

	out := models.EngineOutcome{
		Text:              strings.Join(parts, " "),
		PerWordConfidence: words,
		Succeeded:         true,
	}
	if out.Text != "" && out.APIConfidence() == 0 {
		out.Confidence = a.cfg.DefaultConfidence
	}
	return out, nil
}

// send writes the config, the audio in chunks and the EOF marker.
func (a *Adapter) send(conn *websocket.Conn, audio stt.Audio) error {
	var cm configMessage
	cm.Config.SampleRate = audio.SampleRateHz
	cm.Config.Words = 1
	if err := conn.WriteJSON(cm); err != nil {
		return err
	}

	for off := 0; off < len(audio.Data); off += a.cfg.ChunkBytes {
		end := min(off+a.cfg.ChunkBytes, len(audio.Data))
		if err := conn.WriteMessage(websocket.BinaryMessage, audio.Data[off:end]); err != nil {
			return err
		}
	}

	return conn.WriteMessage(websocket.TextMessage, []byte(`{"eof" : 1}`))
}
