package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/synaptica-ai/medrecords/pkg/common/config"
	"github.com/synaptica-ai/medrecords/pkg/common/logger"
	"github.com/synaptica-ai/medrecords/pkg/common/models"
)

const (
	handlerAttempts = 5
	handlerBackoff  = 500 * time.Millisecond
)

// messageReader is the part of *kafka.Reader the consumer drives.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader   messageReader
	attempts int
	backoff  time.Duration
}

type EventHandler func(ctx context.Context, event models.Event) error

func NewConsumer(topic string, groupID string) *Consumer {
	cfg := config.Load()
	if groupID == "" {
		groupID = cfg.KafkaGroupID
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: reader, attempts: handlerAttempts, backoff: handlerBackoff}
}

// Consume hands each event to handler until ctx is cancelled. Undecodable
// messages are committed and skipped. A handler failure is retried with
// backoff; if it keeps failing Consume returns without committing, since a
// commit on any later offset would skip the failed message for good.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			logger.Log.WithError(err).Error("Failed to fetch message")
			continue
		}

		var event models.Event
		if err := json.Unmarshal(message.Value, &event); err != nil {
			logger.Log.WithError(err).WithField("offset", message.Offset).Error("Failed to unmarshal event")
			c.reader.CommitMessages(ctx, message)
			continue
		}

		if err := c.handle(ctx, handler, message, event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("event %s at %s/%d offset %d: %w", event.ID, message.Topic, message.Partition, message.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, message); err != nil {
			logger.Log.WithError(err).Error("Failed to commit message")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler EventHandler, message kafka.Message, event models.Event) error {
	backoff := c.backoff
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = handler(ctx, event); err == nil {
			return nil
		}
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"event_id": event.ID,
			"topic":    message.Topic,
			"offset":   message.Offset,
			"attempt":  attempt,
		}).Error("Failed to process event")
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
