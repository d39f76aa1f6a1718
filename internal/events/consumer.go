package events

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	SetOffsetAt(ctx context.Context, t time.Time) error
	Close() error
}

// Message is one event read back from a topic.
type Message struct {
	Topic     string
	Key       string
	EventType string
	Principal string
	Time      time.Time
	Value     []byte
}

// ConsumerConfig selects a topic partition to follow.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	// Since rewinds the reader to messages newer than now-Since. Zero starts
	// from the first offset.
	Since time.Duration
}

// Consumer follows partition 0 of a topic without a consumer group.
type Consumer struct {
	topic   string
	since   time.Duration
	reader  messageReader
	backoff time.Duration
}

// NewConsumer creates a consumer for cfg.Topic.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	return newConsumer(cfg, kafka.NewReader(kafka.ReaderConfig{
		Brokers:   cfg.Brokers,
		Topic:     cfg.Topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	}))
}

func newConsumer(cfg ConsumerConfig, r messageReader) *Consumer {
	return &Consumer{topic: cfg.Topic, since: cfg.Since, reader: r, backoff: time.Second}
}

// Run calls handle for every message until ctx is done or handle fails.
// Read errors are logged and retried after a short pause.
func (c *Consumer) Run(ctx context.Context, handle func(Message) error) error {
	if c.since > 0 {
		if err := c.reader.SetOffsetAt(ctx, time.Now().Add(-c.since)); err != nil {
			return err
		}
	}

	log.Info().Str("topic", c.topic).Dur("since", c.since).Msg("Consuming from Kafka topic")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("topic", c.topic).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		if err := handle(toMessage(msg)); err != nil {
			return err
		}
	}
}

// Close releases the reader.
func (c *Consumer) Close() error {
	if c.reader == nil {
		return errors.New("consumer not initialized")
	}
	return c.reader.Close()
}

func toMessage(msg kafka.Message) Message {
	out := Message{
		Topic: msg.Topic,
		Key:   string(msg.Key),
		Time:  msg.Time,
		Value: msg.Value,
	}
	for _, h := range msg.Headers {
		switch h.Key {
		case HeaderEventType:
			out.EventType = string(h.Value)
		case HeaderPrincipal:
			out.Principal = string(h.Value)
		}
	}
	return out
}
