// Package policy decides whether a classification result warrants an alert
// and shapes the alert payload. Frame-level classification is noisy; the
// policy converts it into a stream that fires on genuine change without
// spamming observers.
package policy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"proctor/internal/events"
)

const (
	// MinAlertInterval suppresses same-severity re-alerts inside this window.
	MinAlertInterval = 10 * time.Second
	// AbsentAlertInterval rate-limits absence alerts harder than the rest;
	// a camera that is simply off would otherwise fire constantly.
	AbsentAlertInterval = 30 * time.Second
	// HighRealertInterval re-fires unchanged high-severity findings after
	// this much time has passed.
	HighRealertInterval = 10 * time.Second
)

// alertState is the per-user record of the last alert actually sent.
// Mutated only when the policy decides to emit.
type alertState struct {
	mu            sync.Mutex
	behaviors     []string
	consistent    []string
	hasConsistent bool
	severity      events.Severity
	lastAlert     time.Time
}

// Policy evaluates classification results against per-user alert state.
type Policy struct {
	mu     sync.RWMutex
	states map[string]*alertState
	now    func() time.Time
}

// New creates a policy with empty state.
func New() *Policy {
	return &Policy{
		states: make(map[string]*alertState),
		now:    time.Now,
	}
}

// Evaluate decides whether result should fire an alert for userKey, given the
// consistent behaviors derived from recent history (nil when none). Returns
// nil when no alert should be sent; alert state is only mutated on emit.
func (p *Policy) Evaluate(userKey string, result events.ClassificationResult, consistent []string) *events.Alert {
	// Reportability gate: low-severity frames, empty frames, and pure
	// positive engagement never alert, and never touch state.
	if !result.Severity.Reportable() {
		return nil
	}
	if len(result.Labels) == 0 {
		return nil
	}
	if len(result.Labels) == 1 && result.Labels[0] == events.LabelActive {
		return nil
	}

	st := p.state(userKey)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := p.now()
	alerted := !st.lastAlert.IsZero()

	behaviorChanged := !alerted || !events.SameLabelSet(st.behaviors, result.Labels)
	consistentChanged := consistent != nil &&
		(!st.hasConsistent || !events.SameLabelSet(st.consistent, consistent))

	var elapsed time.Duration
	if alerted {
		elapsed = now.Sub(st.lastAlert)
	}

	// A never-alerted user always has behaviorChanged, so treating elapsed as
	// zero here cannot mask the first alert.
	shouldAlert := behaviorChanged || consistentChanged ||
		(result.Severity == events.SeverityHigh && alerted && elapsed > HighRealertInterval)

	// Suppression overrides: can only turn a yes into a no.
	if alerted && shouldAlert {
		switch {
		case events.HasLabel(result.Labels, events.LabelAbsent) && elapsed < AbsentAlertInterval:
			shouldAlert = false
		case elapsed < MinAlertInterval && st.severity == result.Severity && !consistentChanged:
			// No new information within the minimum interval. A changed
			// consistent set is new information and is not suppressed.
			shouldAlert = false
		}
	}

	if !shouldAlert {
		return nil
	}

	severity, message := shapeAlert(result, consistent)

	ts := result.Timestamp
	if ts.IsZero() {
		ts = now
	}

	alert := &events.Alert{
		UserID:     result.UserID,
		Username:   result.Username,
		Message:    message,
		Severity:   severity,
		Timestamp:  ts,
		Labels:     append([]string(nil), result.Labels...),
		Consistent: append([]string(nil), consistent...),
	}

	st.behaviors = append([]string(nil), result.Labels...)
	if consistent != nil {
		st.consistent = append([]string(nil), consistent...)
		st.hasConsistent = true
	}
	st.severity = severity
	st.lastAlert = now

	return alert
}

// shapeAlert applies consistency-driven severity escalation and selects the
// alert message. Priority order for consistency messages: Absent, Drowsy,
// LookingAway, pure engagement, generic.
func shapeAlert(result events.ClassificationResult, consistent []string) (events.Severity, string) {
	severity := result.Severity
	message := result.Message

	if len(consistent) == 0 {
		if message == "" {
			message = fmt.Sprintf("%s is showing: %s",
				displayName(result), strings.Join(result.Labels, ", "))
		}
		return severity, message
	}

	if severity == events.SeverityLow {
		severity = events.SeverityMedium
	}
	if severity == events.SeverityMedium && events.HasLabel(consistent, events.LabelAbsent) {
		severity = events.SeverityHigh
	}

	name := displayName(result)
	switch {
	case events.HasLabel(consistent, events.LabelAbsent):
		message = fmt.Sprintf("%s has been consistently absent", name)
	case events.HasLabel(consistent, events.LabelDrowsy):
		message = fmt.Sprintf("%s appears consistently drowsy or tired", name)
	case events.HasLabel(consistent, events.LabelLookingAway):
		message = fmt.Sprintf("%s has been consistently looking away", name)
	case len(consistent) == 1 && consistent[0] == events.LabelActive:
		message = fmt.Sprintf("%s is consistently engaged", name)
		// Sustained engagement is never alarming.
		severity = events.SeverityLow
	default:
		message = fmt.Sprintf("%s is consistently showing: %s",
			name, strings.Join(consistent, ", "))
	}

	return severity, message
}

func displayName(result events.ClassificationResult) string {
	if result.Username != "" {
		return result.Username
	}
	return result.UserID
}

// state returns the alert state for userKey, created lazily on the first
// alert decision for that key.
func (p *Policy) state(userKey string) *alertState {
	p.mu.RLock()
	st, ok := p.states[userKey]
	p.mu.RUnlock()
	if ok {
		return st
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok = p.states[userKey]; !ok {
		st = &alertState{}
		p.states[userKey] = st
	}
	return st
}
