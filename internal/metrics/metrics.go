// Package metrics collects ingest and fan-out counters and periodically
// reports them to Redis for centralized access.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for service metrics.
	KeyPrefix = "metrics:"
	// TTL is how long metrics stay in Redis if not refreshed.
	TTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing metrics.
	DefaultReportInterval = 30 * time.Second
)

// Snapshot is the reported metrics document for this service.
type Snapshot struct {
	ServiceName string    `json:"service_name"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"`

	FramesReceived   uint64 `json:"frames_received"`
	FramesIngested   uint64 `json:"frames_ingested"`
	AlertsPublished  uint64 `json:"alerts_published"`
	ProcessingErrors uint64 `json:"processing_errors"`

	FramesPerSecond float64 `json:"frames_per_second"`
	AvgIngestNs     float64 `json:"avg_ingest_latency_ns"`

	CustomCounters map[string]uint64 `json:"custom_counters,omitempty"`
}

// Collector accumulates counters and reports them to Redis on a fixed
// period. A nil Redis client disables reporting but keeps counting.
type Collector struct {
	serviceName    string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	framesReceived   atomic.Uint64
	framesIngested   atomic.Uint64
	alertsPublished  atomic.Uint64
	processingErrors atomic.Uint64

	totalLatencyNs atomic.Uint64
	latencyCount   atomic.Uint64

	reportMu          sync.Mutex
	lastReportTime    time.Time
	lastIngestedCount uint64

	customMu       sync.RWMutex
	customCounters map[string]*atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a collector for the named service.
func NewCollector(serviceName string, redisClient *redis.Client) *Collector {
	return &Collector{
		serviceName:    serviceName,
		redis:          redisClient,
		startedAt:      time.Now().UTC(),
		reportInterval: DefaultReportInterval,
		lastReportTime: time.Now().UTC(),
		customCounters: make(map[string]*atomic.Uint64),
		stopCh:         make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.write(context.Background())
				return
			case <-c.stopCh:
				c.write(context.Background())
				return
			case <-ticker.C:
				c.write(ctx)
			}
		}
	}()
}

// Stop halts reporting after a final write.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// RecordReceived counts an incoming classification frame.
func (c *Collector) RecordReceived() {
	c.framesReceived.Add(1)
}

// RecordProcessed counts a fully ingested frame with its latency.
func (c *Collector) RecordProcessed(latency time.Duration) {
	c.framesIngested.Add(1)
	c.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	c.latencyCount.Add(1)
}

// RecordPublished counts a fired alert.
func (c *Collector) RecordPublished() {
	c.alertsPublished.Add(1)
}

// RecordError counts a contained processing error.
func (c *Collector) RecordError() {
	c.processingErrors.Add(1)
}

// IncrementCustom increments a named counter.
func (c *Collector) IncrementCustom(name string) {
	c.customMu.RLock()
	counter, exists := c.customCounters[name]
	c.customMu.RUnlock()

	if !exists {
		c.customMu.Lock()
		if counter, exists = c.customCounters[name]; !exists {
			counter = &atomic.Uint64{}
			c.customCounters[name] = counter
		}
		c.customMu.Unlock()
	}
	counter.Add(1)
}

// GetSnapshot returns current metrics without writing to Redis.
func (c *Collector) GetSnapshot() *Snapshot {
	now := time.Now().UTC()
	ingested := c.framesIngested.Load()

	c.reportMu.Lock()
	elapsed := now.Sub(c.lastReportTime).Seconds()
	lastIngested := c.lastIngestedCount
	c.reportMu.Unlock()

	var rate float64
	if elapsed > 0 {
		rate = float64(ingested-lastIngested) / elapsed
	}

	var avgLatencyNs float64
	if count := c.latencyCount.Load(); count > 0 {
		avgLatencyNs = float64(c.totalLatencyNs.Load()) / float64(count)
	}

	c.customMu.RLock()
	custom := make(map[string]uint64, len(c.customCounters))
	for name, counter := range c.customCounters {
		custom[name] = counter.Load()
	}
	c.customMu.RUnlock()

	return &Snapshot{
		ServiceName:      c.serviceName,
		StartedAt:        c.startedAt,
		LastUpdated:      now,
		Status:           "healthy",
		FramesReceived:   c.framesReceived.Load(),
		FramesIngested:   ingested,
		AlertsPublished:  c.alertsPublished.Load(),
		ProcessingErrors: c.processingErrors.Load(),
		FramesPerSecond:  rate,
		AvgIngestNs:      avgLatencyNs,
		CustomCounters:   custom,
	}
}

// write reports the current snapshot to Redis.
func (c *Collector) write(ctx context.Context) {
	if c.redis == nil {
		return
	}

	snap := c.GetSnapshot()
	c.reportMu.Lock()
	c.lastReportTime = snap.LastUpdated
	c.lastIngestedCount = snap.FramesIngested
	c.reportMu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("Failed to marshal metrics", "service", c.serviceName, "error", err)
		return
	}

	key := KeyPrefix + c.serviceName
	if err := c.redis.Set(ctx, key, data, TTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "service", c.serviceName, "error", err)
	}
}

// Connect creates and validates a Redis connection for metrics reporting.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return client, nil
}
