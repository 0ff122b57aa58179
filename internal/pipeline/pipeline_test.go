package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"proctor/internal/events"
	"proctor/internal/history"
	"proctor/internal/policy"
)

func newTestPipeline(b Broadcaster, sink AlertSink, m MetricsRecorder) *Pipeline {
	return New(history.NewStore(), policy.New(), b, sink, m)
}

func classification(channelID, userID string, labels []string, severity events.Severity) events.ClassificationResult {
	return events.ClassificationResult{
		UserID:    userID,
		Username:  "User " + userID,
		ChannelID: channelID,
		Timestamp: time.Now(),
		Labels:    labels,
		Severity:  severity,
	}
}

func TestPipeline_IngestPublishesAlert(t *testing.T) {
	b := NewFakeBroadcaster()
	sink := &FakeSink{}
	m := NewFakeMetrics()
	p := newTestPipeline(b, sink, m)

	err := p.Ingest(context.Background(),
		classification("ch1", "u1", []string{events.LabelAbsent}, events.SeverityHigh))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if got := b.PublishedCount("ch1"); got != 1 {
		t.Fatalf("published %v envelopes, want 1", got)
	}

	var env events.Envelope
	if err := json.Unmarshal(b.Published["ch1"][0], &env); err != nil {
		t.Fatalf("published payload not JSON: %v", err)
	}
	if env.Type != events.TypeBehaviorAlert {
		t.Errorf("envelope type = %q, want %q", env.Type, events.TypeBehaviorAlert)
	}
	if env.Alert == nil || env.Alert.UserID != "u1" {
		t.Errorf("envelope alert = %+v, want alert for u1", env.Alert)
	}

	if len(sink.Alerts) != 1 {
		t.Errorf("sink received %v alerts, want 1", len(sink.Alerts))
	}
	if m.ReceivedCount != 1 || m.ProcessedCount != 1 || m.PublishedCount != 1 {
		t.Errorf("metrics = received %v processed %v published %v, want 1/1/1",
			m.ReceivedCount, m.ProcessedCount, m.PublishedCount)
	}
}

func TestPipeline_IngestNoAlertForQuietFrame(t *testing.T) {
	b := NewFakeBroadcaster()
	m := NewFakeMetrics()
	p := newTestPipeline(b, nil, m)

	err := p.Ingest(context.Background(),
		classification("ch1", "u1", []string{events.LabelActive}, events.SeverityLow))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if got := b.PublishedCount("ch1"); got != 0 {
		t.Errorf("published %v envelopes, want 0", got)
	}
	if got := len(p.RecentAlerts("ch1", 0)); got != 0 {
		t.Errorf("retained %v alerts, want 0", got)
	}
	if got := m.CustomIncrements["alerts_suppressed"]; got != 1 {
		t.Errorf("alerts_suppressed = %v, want 1", got)
	}
}

func TestPipeline_IngestRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name   string
		result events.ClassificationResult
	}{
		{
			name:   "missing channel",
			result: classification("", "u1", []string{events.LabelAbsent}, events.SeverityHigh),
		},
		{
			name:   "missing user",
			result: classification("ch1", "", []string{events.LabelAbsent}, events.SeverityHigh),
		},
		{
			name:   "unknown severity",
			result: classification("ch1", "u1", []string{events.LabelAbsent}, "catastrophic"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewFakeBroadcaster()
			m := NewFakeMetrics()
			p := newTestPipeline(b, nil, m)

			if err := p.Ingest(context.Background(), tt.result); err == nil {
				t.Error("Ingest() error = nil, want transient input error")
			}
			if got := b.PublishedCount("ch1"); got != 0 {
				t.Errorf("published %v envelopes, want 0", got)
			}
			if m.ErrorCount != 1 {
				t.Errorf("error count = %v, want 1", m.ErrorCount)
			}
		})
	}
}

func TestPipeline_SinkFailureIsContained(t *testing.T) {
	b := NewFakeBroadcaster()
	sink := &FakeSink{PublishErr: fmt.Errorf("kafka unavailable")}
	m := NewFakeMetrics()
	p := newTestPipeline(b, sink, m)

	err := p.Ingest(context.Background(),
		classification("ch1", "u1", []string{events.LabelAbsent}, events.SeverityHigh))
	if err != nil {
		t.Fatalf("Ingest() error = %v, sink failures must not propagate", err)
	}

	if got := b.PublishedCount("ch1"); got != 1 {
		t.Errorf("observers got %v envelopes despite sink failure, want 1", got)
	}
	if m.ErrorCount != 1 {
		t.Errorf("error count = %v, want 1", m.ErrorCount)
	}
}

func TestPipeline_RecentAlertsRetention(t *testing.T) {
	p := newTestPipeline(NewFakeBroadcaster(), nil, nil)

	total := RecentAlertsDepth + 20
	storeAlerts(t, p, "ch1", total)

	alerts := p.RecentAlerts("ch1", 0)
	if len(alerts) != RecentAlertsDepth {
		t.Fatalf("retained %v alerts, want %v", len(alerts), RecentAlertsDepth)
	}
	if alerts[len(alerts)-1].Message != fmt.Sprintf("frame %d", total-1) {
		t.Errorf("newest retained alert = %q, want frame %d", alerts[len(alerts)-1].Message, total-1)
	}
}

func TestPipeline_RecentAlertsLimit(t *testing.T) {
	p := newTestPipeline(NewFakeBroadcaster(), nil, nil)
	storeAlerts(t, p, "ch1", 7)

	alerts := p.RecentAlerts("ch1", 5)
	if len(alerts) != 5 {
		t.Fatalf("RecentAlerts(5) returned %v, want 5", len(alerts))
	}
	// The last 5 of 7, oldest first.
	for i, alert := range alerts {
		want := fmt.Sprintf("frame %d", i+2)
		if alert.Message != want {
			t.Errorf("alert %d message = %q, want %q", i, alert.Message, want)
		}
	}
}

func TestPipeline_ReplayOnSubscribe(t *testing.T) {
	b := NewFakeBroadcaster()
	p := newTestPipeline(b, nil, nil)
	storeAlerts(t, p, "ch1", 7)

	conn := &FakeConn{}
	p.OnSubscribe(context.Background(), "ch1", conn)

	if got := len(b.Subscribed["ch1"]); got != 1 {
		t.Fatalf("subscribed %v conns, want 1", got)
	}

	received := conn.Received()
	if len(received) != ReplayOnSubscribe {
		t.Fatalf("replayed %v alerts, want %v", len(received), ReplayOnSubscribe)
	}

	// Chronological order, no gaps, no duplicates: frames 2..6 of 7.
	for i, payload := range received {
		var env events.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("replayed payload %d not JSON: %v", i, err)
		}
		if env.Type != events.TypeBehaviorAlert {
			t.Errorf("replayed type = %q, want %q", env.Type, events.TypeBehaviorAlert)
		}
		want := fmt.Sprintf("frame %d", i+2)
		if env.Alert.Message != want {
			t.Errorf("replayed alert %d = %q, want %q", i, env.Alert.Message, want)
		}
	}
}

func TestPipeline_ReplayEmptyChannel(t *testing.T) {
	b := NewFakeBroadcaster()
	p := newTestPipeline(b, nil, nil)

	conn := &FakeConn{}
	p.OnSubscribe(context.Background(), "quiet", conn)

	if got := len(conn.Received()); got != 0 {
		t.Errorf("replayed %v alerts on empty channel, want 0", got)
	}
}

func TestPipeline_ReplayStopsOnSendFailure(t *testing.T) {
	p := newTestPipeline(NewFakeBroadcaster(), nil, nil)
	storeAlerts(t, p, "ch1", 3)

	conn := &FakeConn{SendErr: fmt.Errorf("broken pipe")}
	p.Replay(context.Background(), "ch1", conn, ReplayOnRequest, 0)

	if got := len(conn.Received()); got != 0 {
		t.Errorf("replayed %v alerts to a dead conn, want 0", got)
	}
}

// storeAlerts drives n alerts through ingest for channelID, with messages
// "frame 0" .. "frame n-1". Each frame comes from a distinct user so the
// first-alert path fires every time and no throttling applies.
func storeAlerts(t *testing.T, p *Pipeline, channelID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		res := classification(channelID, fmt.Sprintf("u%d", i),
			[]string{events.LabelEyesNotVisible}, events.SeverityHigh)
		res.Message = fmt.Sprintf("frame %d", i)
		if err := p.Ingest(context.Background(), res); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
	}
}
