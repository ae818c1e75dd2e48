// Package mock provides test doubles for the meeting.Provider and
// meeting.Call interfaces.
//
// Use Call to push scripted caption fragments and chat messages into a
// consumer and to verify the commands it issued:
//
//	c := mock.NewCall("meeting-1")
//	c.PushCaption(meeting.CaptionFragment{Speaker: "Alex", Text: "hi", IsFinal: true})
//	c.FireHandRaisedChanged(false)
package mock

import (
	"context"
	"sync"

	"github.com/meetbridge/meetbridge/pkg/provider/meeting"
)

// Provider is a mock implementation of meeting.Provider.
type Provider struct {
	mu sync.Mutex

	// JoinCall, if non-nil, is returned from Join.
	JoinCall *Call

	// JoinErr, if non-nil, is returned from Join instead of a call.
	JoinErr error

	joins []meeting.JoinConfig
}

var _ meeting.Provider = (*Provider)(nil)

// Join records the config and returns the configured call or error.
func (p *Provider) Join(ctx context.Context, cfg meeting.JoinConfig) (meeting.Call, error) {
	p.mu.Lock()
	p.joins = append(p.joins, cfg)
	p.mu.Unlock()
	if p.JoinErr != nil {
		return nil, p.JoinErr
	}
	if p.JoinCall == nil {
		p.JoinCall = NewCall(cfg.MeetingID)
	}
	return p.JoinCall, nil
}

// Joins returns a copy of the recorded join configs.
func (p *Provider) Joins() []meeting.JoinConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]meeting.JoinConfig, len(p.joins))
	copy(out, p.joins)
	return out
}

// Call is a scriptable mock implementation of meeting.Call.
type Call struct {
	mu sync.Mutex

	meetingID string
	captions  chan meeting.CaptionFragment
	chat      chan meeting.ChatMessage
	handCB    func(raised bool)
	left      bool

	// SendMessageErr, if non-nil, is returned from SendMessage.
	SendMessageErr error

	// RaiseHandErr, if non-nil, is returned from RaiseHand.
	RaiseHandErr error

	messages  []string
	reactions []string
	raised    int
	lowered   int
}

var _ meeting.Call = (*Call)(nil)

// NewCall creates a mock call with buffered streams.
func NewCall(meetingID string) *Call {
	return &Call{
		meetingID: meetingID,
		captions:  make(chan meeting.CaptionFragment, 64),
		chat:      make(chan meeting.ChatMessage, 64),
	}
}

func (c *Call) Captions() <-chan meeting.CaptionFragment { return c.captions }
func (c *Call) Chat() <-chan meeting.ChatMessage         { return c.chat }
func (c *Call) MeetingID() string                        { return c.meetingID }

func (c *Call) SendMessage(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendMessageErr != nil {
		return c.SendMessageErr
	}
	c.messages = append(c.messages, text)
	return nil
}

func (c *Call) RaiseHand(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RaiseHandErr != nil {
		return c.RaiseHandErr
	}
	c.raised++
	return nil
}

func (c *Call) LowerHand(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lowered++
	return nil
}

func (c *Call) SendReaction(ctx context.Context, reaction string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reactions = append(c.reactions, reaction)
	return nil
}

func (c *Call) SetOnHandRaisedChanged(fn func(raised bool)) {
	c.mu.Lock()
	c.handCB = fn
	c.mu.Unlock()
}

// Leave closes both streams. Safe to call once.
func (c *Call) Leave(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.left {
		c.left = true
		close(c.captions)
		close(c.chat)
	}
	return nil
}

// --- Scripting helpers ---

// PushCaption delivers a caption fragment to the consumer.
func (c *Call) PushCaption(f meeting.CaptionFragment) { c.captions <- f }

// PushChat delivers a chat message to the consumer.
func (c *Call) PushChat(m meeting.ChatMessage) { c.chat <- m }

// FireHandRaisedChanged invokes the registered hand-state callback.
func (c *Call) FireHandRaisedChanged(raised bool) {
	c.mu.Lock()
	cb := c.handCB
	c.mu.Unlock()
	if cb != nil {
		cb(raised)
	}
}

// Messages returns a copy of the chat messages the consumer sent.
func (c *Call) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	copy(out, c.messages)
	return out
}

// RaiseCount returns how often RaiseHand was called.
func (c *Call) RaiseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raised
}

// LowerCount returns how often LowerHand was called.
func (c *Call) LowerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lowered
}

// Reactions returns a copy of the reactions the consumer sent.
func (c *Call) Reactions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.reactions))
	copy(out, c.reactions)
	return out
}

// Left reports whether the consumer left the call.
func (c *Call) Left() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.left
}
