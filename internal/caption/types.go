// Package caption aggregates streaming caption fragments into coherent
// utterances.
//
// Live captions arrive as short per-speaker fragments. The [Aggregator]
// merges consecutive fragments from the same speaker into a single
// [Aggregated] utterance using a gap-window heuristic, and tracks suspected
// (fuzzy, unconfirmed) mentions so that a mention split across fragments is
// force-confirmed rather than silently lost.
package caption

import "time"

// Fragment is a single raw caption piece pushed by the meeting provider.
// Fragments are ephemeral; the Aggregator consumes them immediately.
type Fragment struct {
	// ID is the provider-assigned caption identifier.
	ID string

	// Speaker is the display name of the participant speaking.
	Speaker string

	// SpeakerID is the provider participant identifier. May be empty.
	SpeakerID string

	// Text is the transcribed fragment text.
	Text string

	// Timestamp is when the fragment was produced.
	Timestamp time.Time

	// IsFinal reports whether the provider considers this fragment stable.
	// Non-final fragments may still be revised upstream.
	IsFinal bool
}

// Aggregated is a finalized utterance built from one or more fragments from
// the same speaker.
//
// CaptionIDs is non-empty and ordered by arrival; Text is the
// whitespace-joined concatenation of fragment texts in arrival order.
type Aggregated struct {
	Speaker    string
	SpeakerID  string
	Text       string
	CaptionIDs []string
	StartTime  time.Time
	EndTime    time.Time
}

// PendingMention records a fuzzily suspected, not-yet-confirmed mention.
// If the utterance does not finalize within the pending window, the
// aggregator force-processes it as a real mention: a false-positive response
// is preferred over silently dropping a real one.
type PendingMention struct {
	Speaker          string
	CaptionText      string
	MatchedVariation string
	Timestamp        time.Time
}
