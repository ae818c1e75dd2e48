package caption

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/meetbridge/meetbridge/internal/mention"
)

const (
	// defaultGapWindow is the maximum silence between fragments of the same
	// speaker before the utterance is considered complete.
	defaultGapWindow = 1750 * time.Millisecond

	// defaultPendingWindow bounds how long a suspected mention may wait for
	// the utterance to finalize before it is force-confirmed.
	defaultPendingWindow = 4 * time.Second
)

// MentionChecker is the slice of the mention detector the aggregator needs
// to spot suspected mentions mid-utterance.
type MentionChecker interface {
	Detect(text string) mention.Result
}

// Option configures an [Aggregator] during construction.
type Option func(*Aggregator)

// WithGapWindow sets the per-speaker silence window that finalizes an
// utterance. Default: 1.75s.
func WithGapWindow(d time.Duration) Option {
	return func(a *Aggregator) { a.gapWindow = d }
}

// WithPendingWindow sets the maximum lifetime of an unconfirmed fuzzy
// mention before it is force-processed. Default: 4s.
func WithPendingWindow(d time.Duration) Option {
	return func(a *Aggregator) { a.pendingWindow = d }
}

// inProgress is the utterance currently being assembled.
type inProgress struct {
	speaker   string
	speakerID string
	texts     []string
	ids       []string
	start     time.Time
	lastAt    time.Time
}

// Aggregator merges caption fragments into utterances. It is an event-driven
// reducer: Add runs to completion without blocking, and finalized utterances
// are delivered through the registered callbacks.
//
// All exported methods are safe for concurrent use. Callbacks are invoked
// without internal locks held, one at a time.
type Aggregator struct {
	gapWindow     time.Duration
	pendingWindow time.Duration
	checker       MentionChecker

	mu           sync.Mutex
	current      *inProgress
	pending      *PendingMention
	flushTimer   *time.Timer
	pendingTimer *time.Timer
	closed       bool

	onAggregated     func(Aggregated, mention.Result)
	onPendingTimeout func(Aggregated, PendingMention)
}

// NewAggregator creates an Aggregator that uses checker to spot suspected
// mentions while an utterance is still open.
func NewAggregator(checker MentionChecker, opts ...Option) *Aggregator {
	a := &Aggregator{
		gapWindow:     defaultGapWindow,
		pendingWindow: defaultPendingWindow,
		checker:       checker,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SetOnAggregated registers the sink invoked once an utterance finalizes.
// The sink receives the aggregate and the locally-computed mention result.
func (a *Aggregator) SetOnAggregated(fn func(Aggregated, mention.Result)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onAggregated = fn
}

// SetOnPendingMentionTimeout registers the callback fired when a suspected
// mention has waited past the pending window. The aggregator force-finalizes
// the open utterance and reports it as a confirmed mention rather than
// discarding it.
func (a *Aggregator) SetOnPendingMentionTimeout(fn func(Aggregated, PendingMention)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onPendingTimeout = fn
}

// Add feeds one fragment into the aggregator.
//
// The fragment is appended to the in-progress utterance when it comes from
// the same speaker within the gap window and no other speaker has produced a
// fragment in between; otherwise the in-progress utterance (if any) is
// finalized first and a new one starts with this fragment.
func (a *Aggregator) Add(frag Fragment) {
	if strings.TrimSpace(frag.Text) == "" {
		return
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}

	var finalized *Aggregated
	var finalizedResult mention.Result

	if a.current != nil {
		sameSpeaker := a.current.speaker == frag.Speaker
		withinGap := !frag.Timestamp.After(a.current.lastAt.Add(a.gapWindow))
		if !sameSpeaker || !withinGap {
			agg := a.finalizeLocked()
			finalized = &agg
			finalizedResult = a.checker.Detect(agg.Text)
		}
	}

	if a.current == nil {
		a.current = &inProgress{
			speaker:   frag.Speaker,
			speakerID: frag.SpeakerID,
			start:     frag.Timestamp,
		}
	}
	a.current.texts = append(a.current.texts, strings.TrimSpace(frag.Text))
	a.current.ids = append(a.current.ids, frag.ID)
	a.current.lastAt = frag.Timestamp
	if a.current.speakerID == "" {
		a.current.speakerID = frag.SpeakerID
	}

	// Watch for a suspected mention in the text assembled so far. Only fuzzy
	// results arm the pending timer; exact matches are reported with the
	// finalized utterance as usual.
	if a.pending == nil {
		joined := strings.Join(a.current.texts, " ")
		if res := a.checker.Detect(joined); res.Mentioned && res.Fuzzy {
			a.pending = &PendingMention{
				Speaker:          frag.Speaker,
				CaptionText:      joined,
				MatchedVariation: res.MatchedVariation,
				Timestamp:        time.Now(),
			}
			a.armPendingTimerLocked()
		}
	}

	a.armFlushTimerLocked()
	onAggregated := a.onAggregated
	a.mu.Unlock()

	if finalized != nil && onAggregated != nil {
		onAggregated(*finalized, finalizedResult)
	}
}

// Flush finalizes the in-progress utterance immediately, if any, and
// delivers it through the aggregated-caption sink.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	if a.closed || a.current == nil {
		a.mu.Unlock()
		return
	}
	agg := a.finalizeLocked()
	res := a.checker.Detect(agg.Text)
	onAggregated := a.onAggregated
	a.mu.Unlock()

	if onAggregated != nil {
		onAggregated(agg, res)
	}
}

// Reset discards all in-progress state without delivering anything.
// Used when the active meeting identity changes.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopTimersLocked()
	a.current = nil
	a.pending = nil
}

// Close releases timers. The aggregator ignores fragments after Close.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopTimersLocked()
	a.current = nil
	a.pending = nil
	a.closed = true
}

// finalizeLocked converts the in-progress utterance into an Aggregated and
// clears the working state. Must be called with a.mu held and a.current
// non-nil.
func (a *Aggregator) finalizeLocked() Aggregated {
	cur := a.current
	agg := Aggregated{
		Speaker:    cur.speaker,
		SpeakerID:  cur.speakerID,
		Text:       strings.Join(cur.texts, " "),
		CaptionIDs: cur.ids,
		StartTime:  cur.start,
		EndTime:    cur.lastAt,
	}
	a.current = nil
	a.pending = nil
	a.stopTimersLocked()
	return agg
}

// flushExpired fires when the gap window elapses on the wall clock without a
// new fragment.
func (a *Aggregator) flushExpired() {
	a.Flush()
}

// pendingExpired fires when a suspected mention outlives the pending window.
func (a *Aggregator) pendingExpired() {
	a.mu.Lock()
	if a.closed || a.pending == nil || a.current == nil {
		a.mu.Unlock()
		return
	}
	pm := *a.pending
	agg := a.finalizeLocked()
	onTimeout := a.onPendingTimeout
	a.mu.Unlock()

	slog.Info("caption: pending mention timed out, force-confirming",
		"speaker", pm.Speaker, "variation", pm.MatchedVariation)

	if onTimeout != nil {
		onTimeout(agg, pm)
	}
}

// armFlushTimerLocked (re)starts the wall-clock finalization timer.
// Must be called with a.mu held.
func (a *Aggregator) armFlushTimerLocked() {
	if a.flushTimer != nil {
		a.flushTimer.Stop()
	}
	a.flushTimer = time.AfterFunc(a.gapWindow, a.flushExpired)
}

// armPendingTimerLocked starts the pending-mention timer. Must be called
// with a.mu held.
func (a *Aggregator) armPendingTimerLocked() {
	if a.pendingTimer != nil {
		a.pendingTimer.Stop()
	}
	a.pendingTimer = time.AfterFunc(a.pendingWindow, a.pendingExpired)
}

// stopTimersLocked stops both timers. Must be called with a.mu held.
func (a *Aggregator) stopTimersLocked() {
	if a.flushTimer != nil {
		a.flushTimer.Stop()
		a.flushTimer = nil
	}
	if a.pendingTimer != nil {
		a.pendingTimer.Stop()
		a.pendingTimer = nil
	}
}
