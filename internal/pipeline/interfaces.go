// Package pipeline orchestrates classification ingest: history bookkeeping,
// alert policy evaluation, and channel fan-out.
package pipeline

import (
	"context"

	"proctor/internal/broker"
	"proctor/internal/events"
)

// Broadcaster fans messages out to a channel's live observers.
type Broadcaster interface {
	// Subscribe registers conn under channelID.
	Subscribe(channelID string, conn broker.Conn)

	// Publish delivers payload to every subscriber of channelID and returns
	// the number of successful deliveries.
	Publish(ctx context.Context, channelID string, payload []byte) int
}

// AlertSink receives every fired alert for downstream consumers, independent
// of the observer fan-out.
type AlertSink interface {
	// Publish publishes a fired alert for the given channel.
	Publish(ctx context.Context, channelID string, alert *events.Alert) error

	// Close closes the sink and releases resources.
	Close() error
}
