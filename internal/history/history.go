// Package history maintains bounded per-user rings of recent classification
// records and derives sustained behaviors from a recent window.
package history

import (
	"sync"
	"time"

	"proctor/internal/events"
)

const (
	// RetentionDepth is the number of records kept per user.
	RetentionDepth = 15
	// Window is the number of most-recent records examined for consistency.
	Window = 5
	// MinRecords is the minimum history length before consistency is judged.
	MinRecords = 3
	// ConsistencyThreshold is the default occurrence count for a label to be
	// deemed consistent within the window.
	ConsistencyThreshold = 3
	// LookingAwayThreshold is the stricter bar for LookingAway, a noisier
	// signal than the rest of the vocabulary.
	LookingAwayThreshold = 4
	// ActiveOverrideThreshold is the Active occurrence count that disqualifies
	// Absent from the consistent set.
	ActiveOverrideThreshold = 2
)

// Record is one appended classification observation. Immutable once appended.
type Record struct {
	Timestamp time.Time
	Labels    []string
}

// userHistory is the bounded ring for a single user key.
type userHistory struct {
	mu      sync.Mutex
	records []Record
}

// Store holds per-user histories keyed by channelID+userID. Lookups share a
// read lock; each user's ring has its own mutex so concurrent frames for
// different users never serialize on each other.
type Store struct {
	mu    sync.RWMutex
	users map[string]*userHistory
}

// NewStore creates an empty history store.
func NewStore() *Store {
	return &Store{users: make(map[string]*userHistory)}
}

// Record appends a record for the given user key, evicting the oldest entry
// once the ring exceeds RetentionDepth. Best-effort bookkeeping: never fails.
func (s *Store) Record(userKey string, ts time.Time, labels []string) {
	u := s.user(userKey)

	rec := Record{Timestamp: ts, Labels: append([]string(nil), labels...)}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.records = append(u.records, rec)
	if len(u.records) > RetentionDepth {
		u.records = u.records[len(u.records)-RetentionDepth:]
	}
}

// Len returns the number of retained records for the given user key.
func (s *Store) Len(userKey string) int {
	s.mu.RLock()
	u, ok := s.users[userKey]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.records)
}

// ConsistentBehaviors computes the labels sustained across the last Window
// records for the user. Returns nil when fewer than MinRecords records exist
// (insufficient signal) or when no label clears its threshold.
func (s *Store) ConsistentBehaviors(userKey string) []string {
	s.mu.RLock()
	u, ok := s.users[userKey]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.records) < MinRecords {
		return nil
	}

	window := u.records
	if len(window) > Window {
		window = window[len(window)-Window:]
	}

	counts := make(map[string]int)
	for _, rec := range window {
		for _, label := range rec.Labels {
			counts[label]++
		}
	}

	consistent := make([]string, 0, len(counts))
	for label, count := range counts {
		threshold := ConsistencyThreshold
		if label == events.LabelLookingAway {
			threshold = LookingAwayThreshold
		}
		if count >= threshold {
			consistent = append(consistent, label)
		}
	}

	// An engaged participant cannot be simultaneously judged consistently
	// absent: enough Active sightings in the window disqualify Absent, and
	// Active wins any remaining tie with Absent.
	if counts[events.LabelActive] >= ActiveOverrideThreshold ||
		events.HasLabel(consistent, events.LabelActive) {
		consistent = dropLabel(consistent, events.LabelAbsent)
	}

	if len(consistent) == 0 {
		return nil
	}
	return events.SortedLabels(consistent)
}

// user returns the history for userKey, creating it lazily on first record.
func (s *Store) user(userKey string) *userHistory {
	s.mu.RLock()
	u, ok := s.users[userKey]
	s.mu.RUnlock()
	if ok {
		return u
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok = s.users[userKey]; !ok {
		u = &userHistory{}
		s.users[userKey] = u
	}
	return u
}

func dropLabel(labels []string, label string) []string {
	out := labels[:0]
	for _, l := range labels {
		if l != label {
			out = append(out, l)
		}
	}
	return out
}
