// Package consumer reads classification results from the
// behavior.classifications topic and feeds them to the ingest pipeline.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"proctor/internal/events"
	kafkautil "proctor/internal/kafka"

	"github.com/segmentio/kafka-go"
)

// Ingester accepts classification results. Satisfied by pipeline.Pipeline.
type Ingester interface {
	Ingest(ctx context.Context, result events.ClassificationResult) error
}

// Consumer wraps a Kafka reader delivering classification results.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer creates a consumer configured for at-least-once delivery.
func NewConsumer(brokers, topic, groupID string) (*Consumer, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	reader := kafka.NewReader(kafkautil.NewReaderConfig(brokerList, topic, groupID))

	return &Consumer{reader: reader, topic: topic}, nil
}

// ReadResult reads the next message and decodes it as a ClassificationResult.
// The raw message is returned for offset tracking.
func (c *Consumer) ReadResult(ctx context.Context) (*events.ClassificationResult, *kafka.Message, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read message from Kafka: %w", err)
	}

	var result events.ClassificationResult
	if err := json.Unmarshal(msg.Value, &result); err != nil {
		return nil, &msg, fmt.Errorf("failed to unmarshal classification result: %w", err)
	}

	return &result, &msg, nil
}

// CommitMessage commits the offset for the given message after successful
// processing.
func (c *Consumer) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	return c.reader.CommitMessages(ctx, *msg)
}

// Run consumes classification results until ctx is cancelled, feeding each
// to the ingester. Malformed messages are committed and skipped so one bad
// payload cannot wedge the partition; ingest rejections are committed too
// since redelivery cannot fix a transient input error.
func (c *Consumer) Run(ctx context.Context, ingester Ingester) error {
	slog.Info("Starting classification consume loop", "topic", c.topic)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Classification consume loop stopped")
			return nil
		default:
			result, msg, err := c.ReadResult(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Error("Failed to read classification result", "error", err)
				if msg != nil {
					if err := c.CommitMessage(ctx, msg); err != nil {
						slog.Error("Failed to commit skipped message", "error", err)
					}
				}
				continue
			}

			if err := ingester.Ingest(ctx, *result); err != nil {
				slog.Warn("Rejected classification result",
					"channel", result.ChannelID,
					"user_id", result.UserID,
					"error", err,
				)
			}

			if err := c.CommitMessage(ctx, msg); err != nil {
				slog.Error("Failed to commit offset",
					"channel", result.ChannelID,
					"user_id", result.UserID,
					"error", err,
				)
			}
		}
	}
}

// Close gracefully closes the Kafka reader.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	return nil
}
