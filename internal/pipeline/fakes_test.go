package pipeline

import (
	"context"
	"sync"
	"time"

	"proctor/internal/broker"
	"proctor/internal/events"
)

// FakeBroadcaster is a test fake for Broadcaster.
type FakeBroadcaster struct {
	mu         sync.Mutex
	Subscribed map[string][]broker.Conn
	Published  map[string][][]byte
	Delivered  int
}

func NewFakeBroadcaster() *FakeBroadcaster {
	return &FakeBroadcaster{
		Subscribed: make(map[string][]broker.Conn),
		Published:  make(map[string][][]byte),
		Delivered:  1,
	}
}

func (f *FakeBroadcaster) Subscribe(channelID string, conn broker.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Subscribed[channelID] = append(f.Subscribed[channelID], conn)
}

func (f *FakeBroadcaster) Publish(ctx context.Context, channelID string, payload []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published[channelID] = append(f.Published[channelID], payload)
	return f.Delivered
}

func (f *FakeBroadcaster) PublishedCount(channelID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Published[channelID])
}

// FakeSink is a test fake for AlertSink.
type FakeSink struct {
	mu         sync.Mutex
	Alerts     []*events.Alert
	PublishErr error
}

func (f *FakeSink) Publish(ctx context.Context, channelID string, alert *events.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishErr != nil {
		return f.PublishErr
	}
	f.Alerts = append(f.Alerts, alert)
	return nil
}

func (f *FakeSink) Close() error {
	return nil
}

// FakeMetrics is a test fake for MetricsRecorder that tracks calls.
type FakeMetrics struct {
	ReceivedCount    int
	ProcessedCount   int
	PublishedCount   int
	ErrorCount       int
	CustomIncrements map[string]int
}

func NewFakeMetrics() *FakeMetrics {
	return &FakeMetrics{CustomIncrements: make(map[string]int)}
}

func (f *FakeMetrics) RecordReceived()                 { f.ReceivedCount++ }
func (f *FakeMetrics) RecordProcessed(_ time.Duration) { f.ProcessedCount++ }
func (f *FakeMetrics) RecordPublished()                { f.PublishedCount++ }
func (f *FakeMetrics) RecordError()                    { f.ErrorCount++ }
func (f *FakeMetrics) IncrementCustom(name string)     { f.CustomIncrements[name]++ }

// FakeConn is a test fake for broker.Conn used to observe replays.
type FakeConn struct {
	mu       sync.Mutex
	Payloads [][]byte
	SendErr  error
}

func (f *FakeConn) Send(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Payloads = append(f.Payloads, payload)
	return nil
}

func (f *FakeConn) Close() error { return nil }

func (f *FakeConn) Received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.Payloads))
	copy(out, f.Payloads)
	return out
}
