// Package broker maintains per-channel sets of live observer connections and
// fans published messages out to them. Delivery is best-effort per
// connection: one dead subscriber never blocks the rest.
package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"proctor/internal/events"
)

const (
	// SweepInterval is the period of the liveness probe sweep.
	SweepInterval = 30 * time.Second
	// SendTimeout bounds every send so one stalled connection cannot delay
	// delivery or pruning for the others.
	SendTimeout = 5 * time.Second
)

// Conn is a single observer connection. Send must respect ctx cancellation
// and deadlines; a failed Send marks the connection dead.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// channel is the subscriber set for one room. Its mutex serializes set
// mutation against iteration snapshots; sends happen outside the lock.
type channel struct {
	mu   sync.Mutex
	subs map[Conn]struct{}
}

func (c *channel) snapshot() []Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	conns := make([]Conn, 0, len(c.subs))
	for conn := range c.subs {
		conns = append(conns, conn)
	}
	return conns
}

func (c *channel) remove(conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[conn]; !ok {
		return false
	}
	delete(c.subs, conn)
	return true
}

// Broker routes published messages to channel subscribers. Operations on
// different channels proceed independently.
type Broker struct {
	mu       sync.RWMutex
	channels map[string]*channel

	probePayload []byte
}

// New creates an empty broker.
func New() *Broker {
	probe, _ := json.Marshal(events.Envelope{Type: events.TypePing})
	return &Broker{
		channels:     make(map[string]*channel),
		probePayload: probe,
	}
}

// Subscribe registers conn under channelID, auto-creating the channel entry
// if unseen. A late-connecting observer is never rejected for ordering races
// with room creation.
func (b *Broker) Subscribe(channelID string, conn Conn) {
	ch := b.channel(channelID)
	ch.mu.Lock()
	ch.subs[conn] = struct{}{}
	n := len(ch.subs)
	ch.mu.Unlock()

	slog.Info("Observer subscribed", "channel", channelID, "subscribers", n)
}

// Unsubscribe removes conn from channelID. Idempotent: removing an absent
// connection is a no-op.
func (b *Broker) Unsubscribe(channelID string, conn Conn) {
	b.mu.RLock()
	ch, ok := b.channels[channelID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	if ch.remove(conn) {
		slog.Info("Observer unsubscribed", "channel", channelID)
	}
}

// Publish delivers payload to every subscriber of channelID and returns the
// number of successful deliveries. Failed connections are unsubscribed and
// closed; failures never propagate to the caller.
func (b *Broker) Publish(ctx context.Context, channelID string, payload []byte) int {
	ch := b.channel(channelID)

	delivered := 0
	for _, conn := range ch.snapshot() {
		if err := b.send(ctx, conn, payload); err != nil {
			slog.Warn("Dropping subscriber after failed send",
				"channel", channelID,
				"error", err,
			)
			b.drop(ch, conn)
			continue
		}
		delivered++
	}
	return delivered
}

// SubscriberCount returns the number of live subscribers for channelID.
func (b *Broker) SubscriberCount(channelID string) int {
	b.mu.RLock()
	ch, ok := b.channels[channelID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.subs)
}

// Run executes the periodic liveness sweep until ctx is cancelled. This is
// the mechanism that reclaims resources for silently-dropped observers.
func (b *Broker) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Liveness sweep stopped")
			return
		case <-ticker.C:
			b.Sweep(ctx)
		}
	}
}

// Sweep probes every connection in every channel with a ping. Connections
// whose probe send fails are unsubscribed and closed.
func (b *Broker) Sweep(ctx context.Context) {
	b.mu.RLock()
	chans := make(map[string]*channel, len(b.channels))
	for id, ch := range b.channels {
		chans[id] = ch
	}
	b.mu.RUnlock()

	pruned := 0
	for id, ch := range chans {
		for _, conn := range ch.snapshot() {
			if err := b.send(ctx, conn, b.probePayload); err != nil {
				b.drop(ch, conn)
				pruned++
				slog.Info("Pruned dead subscriber", "channel", id, "error", err)
			}
		}
	}

	if pruned > 0 {
		slog.Info("Liveness sweep complete", "pruned", pruned)
	}
}

// send delivers payload to a single connection with a bounded timeout.
func (b *Broker) send(ctx context.Context, conn Conn, payload []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, SendTimeout)
	defer cancel()
	return conn.Send(sendCtx, payload)
}

// drop removes a failed connection and closes it. No further delivery
// attempts are made once a connection has been dropped.
func (b *Broker) drop(ch *channel, conn Conn) {
	if ch.remove(conn) {
		_ = conn.Close()
	}
}

// channel returns the subscriber set for channelID, auto-creating it on first
// subscribe or publish.
func (b *Broker) channel(channelID string) *channel {
	b.mu.RLock()
	ch, ok := b.channels[channelID]
	b.mu.RUnlock()
	if ok {
		return ch
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok = b.channels[channelID]; !ok {
		ch = &channel{subs: make(map[Conn]struct{})}
		b.channels[channelID] = ch
	}
	return ch
}
