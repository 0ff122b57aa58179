package api

import (
	"context"
	"sync"

	"proctor/internal/events"
)

// FakeIngestor is a test fake for Ingestor.
type FakeIngestor struct {
	mu        sync.Mutex
	Ingested  []events.ClassificationResult
	IngestErr error
	Alerts    map[string][]*events.Alert
}

func NewFakeIngestor() *FakeIngestor {
	return &FakeIngestor{Alerts: make(map[string][]*events.Alert)}
}

func (f *FakeIngestor) Ingest(ctx context.Context, result events.ClassificationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.IngestErr != nil {
		return f.IngestErr
	}
	f.Ingested = append(f.Ingested, result)
	return nil
}

func (f *FakeIngestor) RecentAlerts(channelID string, limit int) []*events.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	alerts := f.Alerts[channelID]
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[len(alerts)-limit:]
	}
	return alerts
}

// FakePublisher is a test fake for Publisher.
type FakePublisher struct {
	mu        sync.Mutex
	Published map[string][][]byte
}

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Published: make(map[string][][]byte)}
}

func (f *FakePublisher) Publish(ctx context.Context, channelID string, payload []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published[channelID] = append(f.Published[channelID], payload)
	return 1
}

func (f *FakePublisher) PublishedTo(channelID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Published[channelID]
}
