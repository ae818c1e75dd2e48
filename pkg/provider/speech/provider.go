// Package speech defines the Provider interface for meeting speech output.
//
// A speech provider turns response text into audio inside the meeting. The
// engine only cares about two things: whether the utterance was actually
// spoken, and being able to cut it off mid-sentence when someone else starts
// talking.
//
// Implementations must be safe for concurrent use.
package speech

import "context"

// Provider is the abstraction over any speech backend.
type Provider interface {
	// Speak synthesizes and plays text into the meeting. It returns true
	// when the utterance was delivered, false when the backend declined it
	// (muted, no audio session) without a hard error.
	Speak(ctx context.Context, text string) (bool, error)

	// Stop interrupts the in-progress utterance, if any. Stopping while
	// silent is a no-op.
	Stop(ctx context.Context) error
}
