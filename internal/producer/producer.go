// Package producer publishes fired behavior alerts to the behavior.alerts
// topic for downstream consumers.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"proctor/internal/events"
	kafkautil "proctor/internal/kafka"

	"github.com/segmentio/kafka-go"
)

// firedAlert is the published record: the alert plus its channel scope.
type firedAlert struct {
	ChannelID string        `json:"channel_id"`
	Alert     *events.Alert `json:"alert"`
}

// Producer wraps a Kafka writer for fired alerts.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a producer configured for at-least-once delivery with
// synchronous writes.
func NewProducer(brokers, topic string) (*Producer, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka producer",
		"brokers", brokerList,
		"topic", topic,
	)

	// Hash balancer keys messages by channel so one session's alerts stay
	// ordered within a partition.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: kafkautil.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return &Producer{writer: writer, topic: topic}, nil
}

// Publish serializes the alert to JSON and writes it to Kafka, keyed by
// channel ID.
func (p *Producer) Publish(ctx context.Context, channelID string, alert *events.Alert) error {
	payload, err := json.Marshal(firedAlert{ChannelID: channelID, Alert: alert})
	if err != nil {
		return fmt.Errorf("failed to marshal fired alert: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(channelID),
		Value: payload,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write alert to Kafka: %w", err)
	}

	slog.Debug("Published fired alert",
		"topic", p.topic,
		"channel", channelID,
		"user_id", alert.UserID,
	)
	return nil
}

// Close gracefully closes the Kafka writer.
func (p *Producer) Close() error {
	slog.Info("Closing Kafka producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		slog.Error("Error closing Kafka producer", "error", err)
		return err
	}
	return nil
}
