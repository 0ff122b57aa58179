// Package events defines the classification and alert event structures shared
// across the ingest pipeline, the observer socket, and the Kafka topics.
package events

import (
	"sort"
	"time"
)

// Severity is the classifier's coarse assessment of a single frame.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// Reportable reports whether frames at this severity are alert candidates.
func (s Severity) Reportable() bool {
	return s == SeverityMedium || s == SeverityHigh
}

// Behavior label vocabulary. Unknown labels pass through opaquely but are
// never matched by named policy rules.
const (
	LabelActive          = "Active"
	LabelAbsent          = "Absent"
	LabelLookingAway     = "LookingAway"
	LabelDrowsy          = "Drowsy"
	LabelEyesNotVisible  = "EyesNotVisible"
	LabelHeadTilted      = "HeadTilted"
	LabelNotCentered     = "NotCentered"
	LabelDarkEnvironment = "DarkEnvironment"
)

// ClassificationResult is one analyzed frame for one participant, produced by
// the frame classifier and consumed by the ingest pipeline.
type ClassificationResult struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	ChannelID string    `json:"channel_id"`
	Timestamp time.Time `json:"timestamp"`
	Labels    []string  `json:"labels"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message,omitempty"`
}

// Alert is an outbound notification describing a believed-significant
// behavior change for one user.
type Alert struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Message    string    `json:"message"`
	Severity   Severity  `json:"severity"`
	Timestamp  time.Time `json:"timestamp"`
	Labels     []string  `json:"labels"`
	Consistent []string  `json:"consistent,omitempty"`
}

// Observer socket message types.
const (
	TypeBehaviorAlert      = "behavior_alert"
	TypePing               = "ping"
	TypePong               = "pong"
	TypeParticipantsUpdate = "participants_update"
	TypeInfo               = "info"
	TypeConnectionSuccess  = "connection_success"
	TypeGetAlerts          = "get_alerts"
)

// Envelope is the discriminated message exchanged with observers. Only the
// fields relevant to Type are populated. Count is always serialized: a
// participants_update with zero participants is a legitimate message.
type Envelope struct {
	Type    string `json:"type"`
	Alert   *Alert `json:"alert,omitempty"`
	Message string `json:"message,omitempty"`
	Count   int    `json:"count"`
	Channel string `json:"channel,omitempty"`
}

// HasLabel reports whether label is present in labels.
func HasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// SameLabelSet compares two label slices as sets, ignoring order and
// duplicates.
func SameLabelSet(a, b []string) bool {
	seen := make(map[string]bool, len(a))
	for _, l := range a {
		seen[l] = true
	}
	other := make(map[string]bool, len(b))
	for _, l := range b {
		if !seen[l] {
			return false
		}
		other[l] = true
	}
	return len(seen) == len(other)
}

// SortedLabels returns a sorted copy of labels for deterministic output.
func SortedLabels(labels []string) []string {
	out := make([]string, len(labels))
	copy(out, labels)
	sort.Strings(out)
	return out
}
