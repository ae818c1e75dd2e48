// Package behavior arbitrates how a generated response is delivered.
//
// A [Pattern] configures, per trigger source (caption mention or chat
// mention), whether the agent responds at all, over which channel, and under
// which delivery mode: immediate, controlled (human-supervised approval), or
// queued (raise hand and wait for acknowledgment). The [Processor] owns the
// pending-response queue and its state transitions.
package behavior

import "fmt"

// Mode is the delivery policy applied to a generated response.
type Mode string

const (
	// ModeImmediate delivers as soon as the response is generated.
	ModeImmediate Mode = "immediate"

	// ModeControlled holds the response for human approval.
	ModeControlled Mode = "controlled"

	// ModeQueued raises the meeting hand and delivers on acknowledgment.
	ModeQueued Mode = "queued"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeImmediate, ModeControlled, ModeQueued:
		return true
	}
	return false
}

// Channel selects where a response is delivered.
type Channel string

const (
	ChannelChat   Channel = "chat"
	ChannelSpeech Channel = "speech"
	ChannelBoth   Channel = "both"
)

// IsValid reports whether c is a recognised channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelChat, ChannelSpeech, ChannelBoth:
		return true
	}
	return false
}

// Speech reports whether the channel includes synthesized speech.
func (c Channel) Speech() bool { return c == ChannelSpeech || c == ChannelBoth }

// Chat reports whether the channel includes a chat message.
func (c Channel) Chat() bool { return c == ChannelChat || c == ChannelBoth }

// QueuedOptions tunes queued mode.
type QueuedOptions struct {
	// AutoRaiseHand raises the meeting hand when the response is queued.
	AutoRaiseHand bool `yaml:"auto_raise_hand"`

	// LowerHandAfter lowers the hand after delivering the held response.
	LowerHandAfter bool `yaml:"lower_hand_after"`
}

// ControlledOptions tunes controlled mode.
type ControlledOptions struct {
	// NotifyChat posts a brief chat notice that a response awaits approval.
	NotifyChat bool `yaml:"notify_chat"`
}

// TriggerConfig is the per-trigger-source behaviour block.
type TriggerConfig struct {
	Enabled    bool               `yaml:"enabled"`
	Channel    Channel            `yaml:"response_channel"`
	Mode       Mode               `yaml:"behavior_mode"`
	Queued     *QueuedOptions     `yaml:"queued_options"`
	Controlled *ControlledOptions `yaml:"controlled_options"`
}

// Validate checks a trigger block, using prefix in error messages.
func (tc TriggerConfig) Validate(prefix string) error {
	if !tc.Enabled {
		return nil
	}
	if tc.Channel != "" && !tc.Channel.IsValid() {
		return fmt.Errorf("%s.response_channel %q is invalid; valid values: chat, speech, both", prefix, tc.Channel)
	}
	if tc.Mode != "" && !tc.Mode.IsValid() {
		return fmt.Errorf("%s.behavior_mode %q is invalid; valid values: immediate, controlled, queued", prefix, tc.Mode)
	}
	return nil
}

// Pattern is an operator-selected behaviour configuration. It is read-only
// to the engine while a meeting is active.
type Pattern struct {
	ID             string        `yaml:"id"`
	Name           string        `yaml:"name"`
	CaptionMention TriggerConfig `yaml:"caption_mention"`
	ChatMention    TriggerConfig `yaml:"chat_mention"`
}

// Validate checks the pattern, using prefix in error messages.
func (p Pattern) Validate(prefix string) error {
	if p.ID == "" {
		return fmt.Errorf("%s.id is required", prefix)
	}
	if err := p.CaptionMention.Validate(prefix + ".caption_mention"); err != nil {
		return err
	}
	return p.ChatMention.Validate(prefix + ".chat_mention")
}

// DefaultPattern responds to both trigger sources immediately, speaking and
// posting to chat.
func DefaultPattern() Pattern {
	return Pattern{
		ID:   "default",
		Name: "Immediate response",
		CaptionMention: TriggerConfig{
			Enabled: true,
			Channel: ChannelBoth,
			Mode:    ModeImmediate,
		},
		ChatMention: TriggerConfig{
			Enabled: true,
			Channel: ChannelChat,
			Mode:    ModeImmediate,
		},
	}
}
