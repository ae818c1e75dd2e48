// Package agentconv defines the Provider interface for conversational agent
// backends.
//
// An agent provider owns one conversation at a time: Connect opens it and
// yields a conversation id, SendMessage exchanges one turn, Disconnect tears
// it down. Implementations exist for Copilot Studio, raw Direct Line, and
// Azure AI Foundry chat deployments.
//
// Implementations must be safe for concurrent use.
package agentconv

import "context"

// Kind identifies an agent backend implementation.
type Kind string

const (
	KindCopilotStudio Kind = "copilot-studio"
	KindDirectLine    Kind = "direct-line"
	KindAzureFoundry  Kind = "azure-foundry"
)

// IsValid reports whether k names a known backend.
func (k Kind) IsValid() bool {
	switch k {
	case KindCopilotStudio, KindDirectLine, KindAzureFoundry:
		return true
	}
	return false
}

// Reply is the agent's answer to one message.
type Reply struct {
	// Text is the agent's answer, plain text.
	Text string
}

// Provider is the abstraction over any conversational agent backend.
type Provider interface {
	// Connect opens a conversation and returns its id. An empty id with a
	// nil error means the backend accepted the connection but produced no
	// conversation; callers treat that as a failed connect and may retry.
	Connect(ctx context.Context) (conversationID string, err error)

	// SendMessage sends one turn and waits for the agent's reply. speaker
	// names who asked; recentContext carries surrounding transcript lines
	// for backends that accept them. Both may be empty.
	SendMessage(ctx context.Context, text, speaker string, recentContext []string) (Reply, error)

	// Connected reports whether a conversation is open.
	Connected() bool

	// Disconnect closes the conversation. Safe to call when not connected.
	Disconnect(ctx context.Context) error
}
