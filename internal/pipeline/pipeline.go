package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"proctor/internal/broker"
	"proctor/internal/events"
	"proctor/internal/history"
	"proctor/internal/policy"
)

const (
	// RecentAlertsDepth is how many fired alerts are retained per channel for
	// replay and recent-alert queries. Oldest evicted on overflow.
	RecentAlertsDepth = 100
	// ReplayOnSubscribe is how many recent alerts a fresh subscriber receives.
	ReplayOnSubscribe = 5
	// ReplayOnRequest is how many recent alerts a get_alerts request yields.
	ReplayOnRequest = 10
	// ReplayDelay paces replayed sends so a freshly-opened connection is not
	// flooded.
	ReplayDelay = 50 * time.Millisecond
)

// Pipeline drives classification results through history, policy, and
// fan-out, and retains recent alerts per channel for replay.
type Pipeline struct {
	history     *history.Store
	policy      *policy.Policy
	broadcaster Broadcaster
	sink        AlertSink
	metrics     MetricsRecorder

	mu     sync.RWMutex
	recent map[string][]*events.Alert
}

// New creates a pipeline. sink may be nil when no downstream bus is
// configured; metrics may be nil for no-op recording.
func New(hist *history.Store, pol *policy.Policy, b Broadcaster, sink AlertSink, m MetricsRecorder) *Pipeline {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &Pipeline{
		history:     hist,
		policy:      pol,
		broadcaster: b,
		sink:        sink,
		metrics:     m,
		recent:      make(map[string][]*events.Alert),
	}
}

// Ingest processes one classification result. Per-item failures are contained
// and logged; steady-state ingest never returns a fatal error. The returned
// error only reports transient input problems, which mutate no state.
func (p *Pipeline) Ingest(ctx context.Context, result events.ClassificationResult) error {
	p.metrics.RecordReceived()

	if result.ChannelID == "" || result.UserID == "" {
		p.metrics.RecordError()
		return fmt.Errorf("classification result missing channel_id or user_id")
	}
	if !result.Severity.Valid() {
		p.metrics.RecordError()
		return fmt.Errorf("unknown severity %q", result.Severity)
	}

	start := time.Now()
	userKey := result.ChannelID + ":" + result.UserID

	ts := result.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	p.history.Record(userKey, ts, result.Labels)

	consistent := p.history.ConsistentBehaviors(userKey)

	alert := p.policy.Evaluate(userKey, result, consistent)
	if alert != nil {
		p.publish(ctx, result.ChannelID, alert)
	} else {
		p.metrics.IncrementCustom("alerts_suppressed")
	}

	p.metrics.RecordProcessed(time.Since(start))
	return nil
}

// publish stores the alert in the channel's replay ring, fans it out to
// observers, and forwards it to the downstream sink when one is configured.
func (p *Pipeline) publish(ctx context.Context, channelID string, alert *events.Alert) {
	p.remember(channelID, alert)

	payload, err := json.Marshal(events.Envelope{Type: events.TypeBehaviorAlert, Alert: alert})
	if err != nil {
		slog.Error("Failed to marshal behavior alert",
			"channel", channelID,
			"user_id", alert.UserID,
			"error", err,
		)
		p.metrics.RecordError()
		return
	}

	delivered := p.broadcaster.Publish(ctx, channelID, payload)
	p.metrics.RecordPublished()

	slog.Info("Published behavior alert",
		"channel", channelID,
		"user_id", alert.UserID,
		"severity", alert.Severity,
		"labels", alert.Labels,
		"delivered", delivered,
	)

	if p.sink != nil {
		if err := p.sink.Publish(ctx, channelID, alert); err != nil {
			slog.Error("Failed to publish alert to sink",
				"channel", channelID,
				"user_id", alert.UserID,
				"error", err,
			)
			p.metrics.RecordError()
		}
	}
}

// OnSubscribe registers conn on the channel and replays the most recent
// alerts to it, oldest first, paced by ReplayDelay.
func (p *Pipeline) OnSubscribe(ctx context.Context, channelID string, conn broker.Conn) {
	p.broadcaster.Subscribe(channelID, conn)
	p.Replay(ctx, channelID, conn, ReplayOnSubscribe, ReplayDelay)
}

// Replay sends up to limit recent alerts for channelID to a single
// connection in chronological order, separated by delay. A failed send
// aborts the replay; the liveness sweep reclaims the connection.
func (p *Pipeline) Replay(ctx context.Context, channelID string, conn broker.Conn, limit int, delay time.Duration) {
	alerts := p.RecentAlerts(channelID, limit)

	for i, alert := range alerts {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		payload, err := json.Marshal(events.Envelope{Type: events.TypeBehaviorAlert, Alert: alert})
		if err != nil {
			slog.Error("Failed to marshal replayed alert", "channel", channelID, "error", err)
			continue
		}
		if err := conn.Send(ctx, payload); err != nil {
			slog.Warn("Replay send failed", "channel", channelID, "error", err)
			return
		}
	}
}

// RecentAlerts returns up to limit most recent alerts for channelID in
// chronological order.
func (p *Pipeline) RecentAlerts(channelID string, limit int) []*events.Alert {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stored := p.recent[channelID]
	if limit > 0 && len(stored) > limit {
		stored = stored[len(stored)-limit:]
	}

	out := make([]*events.Alert, len(stored))
	copy(out, stored)
	return out
}

// remember appends an alert to the channel's bounded replay ring.
func (p *Pipeline) remember(channelID string, alert *events.Alert) {
	p.mu.Lock()
	defer p.mu.Unlock()

	alerts := append(p.recent[channelID], alert)
	if len(alerts) > RecentAlertsDepth {
		alerts = alerts[len(alerts)-RecentAlertsDepth:]
	}
	p.recent[channelID] = alerts
}
