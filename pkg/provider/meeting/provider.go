// Package meeting defines the Provider interface for meeting backends.
//
// A meeting provider connects the engine to a live meeting: it pushes caption
// fragments and chat messages as they happen, and accepts commands for the
// agent's own participation (chat messages, reactions, hand raising).
//
// Implementations must be safe for concurrent use.
package meeting

import (
	"context"
	"time"
)

// CaptionFragment is one unit of live transcription as delivered by the
// meeting backend. Fragments for the same utterance may arrive repeatedly
// with growing text until IsFinal is set.
type CaptionFragment struct {
	// ID identifies the utterance this fragment belongs to. Non-final and
	// final fragments of the same utterance share an ID.
	ID string

	// Speaker is the display name of the person talking.
	Speaker string

	// SpeakerID is the backend's stable participant identifier.
	SpeakerID string

	// Text is the transcribed content so far.
	Text string

	// Timestamp is when the backend produced this fragment.
	Timestamp time.Time

	// IsFinal marks the last fragment of the utterance.
	IsFinal bool
}

// ChatMessage is a message from the meeting chat.
type ChatMessage struct {
	ID string

	// SenderDisplayName is the author's display name.
	SenderDisplayName string

	// Content is the raw message body. Meeting backends deliver HTML here,
	// including structured mention spans.
	Content string

	// IsOwn marks messages sent by the agent itself. Own messages must never
	// re-trigger the agent.
	IsOwn bool

	CreatedOn time.Time
}

// JoinConfig identifies the meeting to join.
type JoinConfig struct {
	// MeetingID is the backend's meeting identifier.
	MeetingID string

	// DisplayName is the name the agent joins under.
	DisplayName string
}

// Call is an active meeting connection.
//
// The Captions and Chat channels are closed when the call ends, whether by
// Leave or by a terminal connection failure. Callers must drain both.
type Call interface {
	// Captions streams caption fragments in arrival order.
	Captions() <-chan CaptionFragment

	// Chat streams chat messages in arrival order.
	Chat() <-chan ChatMessage

	// SendMessage posts text to the meeting chat.
	SendMessage(ctx context.Context, text string) error

	// RaiseHand raises the agent's meeting hand.
	RaiseHand(ctx context.Context) error

	// LowerHand lowers the agent's meeting hand.
	LowerHand(ctx context.Context) error

	// SendReaction sends a meeting reaction, e.g. "like" or "applause".
	SendReaction(ctx context.Context, reaction string) error

	// SetOnHandRaisedChanged registers a callback for hand-state changes,
	// including lowering by the meeting host. Register before consuming the
	// streams.
	SetOnHandRaisedChanged(fn func(raised bool))

	// MeetingID returns the identifier of the joined meeting.
	MeetingID() string

	// Leave disconnects from the meeting and closes the streams.
	Leave(ctx context.Context) error
}

// Provider is the abstraction over any meeting backend.
type Provider interface {
	// Join connects to the meeting described by cfg. The returned Call is
	// live until Leave is called or the connection fails past its retry
	// budget.
	Join(ctx context.Context, cfg JoinConfig) (Call, error)
}
