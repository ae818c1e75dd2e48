// Package session tracks whether the agent is "in a conversation" with a
// specific meeting participant.
//
// Exactly one session exists at a time. A session starts when a trigger is
// accepted while idle, and ends on explicit end-of-conversation detection,
// on an idle timeout, or on manual termination. A trigger from a different
// speaker never pre-empts an active session by itself — the orchestrator
// ends and restarts the session only on an explicit mention.
package session

import (
	"log/slog"
	"sync"
	"time"
)

// defaultIdleTimeout ends the session after this much inactivity.
const defaultIdleTimeout = 120 * time.Second

// EndReason explains why a session ended, for logs and analytics.
type EndReason string

const (
	EndReasonFarewell EndReason = "farewell"
	EndReasonIdle     EndReason = "idle-timeout"
	EndReasonManual   EndReason = "manual"
	EndReasonReset    EndReason = "meeting-reset"
)

// State is a point-in-time snapshot of the tracker.
type State struct {
	Active           bool
	Speaker          string
	StartedAt        time.Time
	InFollowUpWindow bool
}

// Option configures a [Tracker].
type Option func(*Tracker)

// WithIdleTimeout overrides the inactivity window. Default: 120s.
func WithIdleTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.idleTimeout = d }
}

// WithOnEnd registers a callback invoked (without locks held) whenever the
// session transitions to idle, including idle-timeout expiry.
func WithOnEnd(fn func(speaker string, reason EndReason)) Option {
	return func(t *Tracker) { t.onEnd = fn }
}

// Tracker is the conversation-session state machine:
// Idle -> Active(speaker) -> Idle. All methods are safe for concurrent use.
type Tracker struct {
	idleTimeout time.Duration
	onEnd       func(speaker string, reason EndReason)

	mu        sync.Mutex
	active    bool
	speaker   string
	startedAt time.Time
	idleTimer *time.Timer
	closed    bool
}

// NewTracker creates an idle Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{idleTimeout: defaultIdleTimeout}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Start opens a session with speaker. It only transitions from Idle: while
// a session is active, Start is a no-op (returns false), even for another
// speaker. Explicit pre-emption is End followed by Start.
func (t *Tracker) Start(speaker string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.active {
		return false
	}
	t.active = true
	t.speaker = speaker
	t.startedAt = time.Now()
	t.armIdleTimerLocked()
	slog.Info("session started", "speaker", speaker)
	return true
}

// End transitions to Idle from any state. Ending an idle tracker is a no-op.
func (t *Tracker) End(reason EndReason) {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	speaker := t.speaker
	t.active = false
	t.speaker = ""
	if t.idleTimer != nil {
		t.idleTimer.Stop()
		t.idleTimer = nil
	}
	onEnd := t.onEnd
	t.mu.Unlock()

	slog.Info("session ended", "speaker", speaker, "reason", reason)
	if onEnd != nil {
		onEnd(speaker, reason)
	}
}

// Touch resets the idle timer. Call on every relevant activity from the
// session speaker.
func (t *Tracker) Touch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.armIdleTimerLocked()
}

// Snapshot returns the current state. While active, Speaker is non-empty.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Active:           t.active,
		Speaker:          t.speaker,
		StartedAt:        t.startedAt,
		InFollowUpWindow: t.active,
	}
}

// Close stops the idle timer and ends any active session with
// [EndReasonReset]. The tracker rejects Start after Close.
func (t *Tracker) Close() {
	t.End(EndReasonReset)
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// armIdleTimerLocked (re)starts the inactivity timer. Must be called with
// t.mu held.
func (t *Tracker) armIdleTimerLocked() {
	if t.idleTimer != nil {
		t.idleTimer.Stop()
	}
	t.idleTimer = time.AfterFunc(t.idleTimeout, func() {
		t.End(EndReasonIdle)
	})
}
