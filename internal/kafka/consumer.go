package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"tidewatch/internal/config"
	"tidewatch/internal/gateway"
	"tidewatch/internal/logger"
	"tidewatch/internal/metrics"
	"tidewatch/internal/models"
)

const maxRetryBackoff = 5 * time.Second

// ReadingSubmitter is the part of the gateway the consumer needs.
type ReadingSubmitter interface {
	SubmitReading(ctx context.Context, r models.Reading) (gateway.Result, error)
}

// messageReader is the subset of *kafka.Reader used by Consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer feeds readings from an upstream topic into the gateway. An offset
// is committed only once its reading has been handled: accepted, duplicate,
// or rejected as malformed. Alert log write failures are retried in place,
// so delivery is at-least-once.
type Consumer struct {
	reader  messageReader
	gateway ReadingSubmitter
	backoff time.Duration
	log     zerolog.Logger
}

// NewConsumer joins cfg.GroupID on cfg.ReadingsTopic.
func NewConsumer(cfg config.KafkaConfig, gw ReadingSubmitter) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.ReadingsTopic == "" {
		return nil, errors.New("readings topic is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.ReadingsTopic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // synchronous commits
		StartOffset:    kafka.LastOffset,
	})
	return newConsumer(reader, gw, cfg.Producer.RetryBackoff), nil
}

func newConsumer(r messageReader, gw ReadingSubmitter, backoff time.Duration) *Consumer {
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &Consumer{
		reader:  r,
		gateway: gw,
		backoff: backoff,
		log:     logger.WithComponent("kafka_consumer"),
	}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().Msg("consumer started")
	defer c.log.Info().Msg("consumer stopped")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		if err := c.handle(ctx, msg); err != nil {
			// only cancellation gets here; leave the offset uncommitted
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error().Err(err).Int64("offset", msg.Offset).Msg("commit failed")
		}
	}
}

// handle submits one message, retrying alert log failures until they
// succeed or ctx is done.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	log := c.log.With().
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Logger()

	reading, err := models.DecodeReading(msg.Value)
	if err != nil {
		metrics.KafkaMessagesConsumed.WithLabelValues("rejected").Inc()
		log.Warn().Err(err).Msg("skipping malformed reading")
		return nil
	}

	backoff := c.backoff
	for {
		res, err := c.gateway.SubmitReading(gateway.WithSource(ctx, "kafka"), reading)
		switch {
		case err == nil:
			metrics.KafkaMessagesConsumed.WithLabelValues(string(res.Status)).Inc()
			return nil
		case models.IsValidation(err):
			metrics.KafkaMessagesConsumed.WithLabelValues("rejected").Inc()
			log.Warn().Err(err).Str("sensor_id", reading.SensorID).Msg("skipping invalid reading")
			return nil
		}

		metrics.KafkaMessagesConsumed.WithLabelValues("retry").Inc()
		log.Warn().Err(err).Dur("backoff", backoff).Msg("submit failed, retrying")

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxRetryBackoff)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
