// Package mock provides a test double for the agentconv.Provider interface.
//
// Use Provider to script replies and inspect what the engine sent:
//
//	p := &mock.Provider{ConversationID: "conv-1", Reply: agentconv.Reply{Text: "hi"}}
//	id, _ := p.Connect(ctx)
package mock

import (
	"context"
	"sync"

	"github.com/meetbridge/meetbridge/pkg/provider/agentconv"
)

// SendCall records a single invocation of SendMessage.
type SendCall struct {
	Text    string
	Speaker string
	Context []string
}

// Provider is a mock implementation of agentconv.Provider.
type Provider struct {
	mu sync.Mutex

	// ConversationID is returned from Connect. An empty value simulates a
	// connect that silently fails to produce a conversation.
	ConversationID string

	// ConnectErr, if non-nil, is returned from Connect.
	ConnectErr error

	// Reply is returned from SendMessage when ReplyFunc is nil.
	Reply agentconv.Reply

	// SendErr, if non-nil, is returned from SendMessage.
	SendErr error

	// ReplyFunc, if set, computes the reply per call.
	ReplyFunc func(text, speaker string) (agentconv.Reply, error)

	connected    bool
	connectCalls int
	sends        []SendCall
}

var _ agentconv.Provider = (*Provider)(nil)

// Connect implements agentconv.Provider.
func (p *Provider) Connect(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connectCalls++
	if p.ConnectErr != nil {
		return "", p.ConnectErr
	}
	if p.ConversationID != "" {
		p.connected = true
	}
	return p.ConversationID, nil
}

// SendMessage implements agentconv.Provider.
func (p *Provider) SendMessage(ctx context.Context, text, speaker string, recentContext []string) (agentconv.Reply, error) {
	p.mu.Lock()
	p.sends = append(p.sends, SendCall{Text: text, Speaker: speaker, Context: recentContext})
	fn := p.ReplyFunc
	reply, err := p.Reply, p.SendErr
	p.mu.Unlock()

	if fn != nil {
		return fn(text, speaker)
	}
	if err != nil {
		return agentconv.Reply{}, err
	}
	return reply, nil
}

// Connected implements agentconv.Provider.
func (p *Provider) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Disconnect implements agentconv.Provider.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

// ConnectCalls returns how often Connect was invoked.
func (p *Provider) ConnectCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectCalls
}

// Sends returns a copy of the recorded SendMessage calls.
func (p *Provider) Sends() []SendCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SendCall, len(p.sends))
	copy(out, p.sends)
	return out
}
