// Package mock provides a test double for the speech.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/meetbridge/meetbridge/pkg/provider/speech"
)

// Provider is a mock implementation of speech.Provider.
type Provider struct {
	mu sync.Mutex

	// SpeakOK is returned as the success flag from Speak. Defaults to
	// false; set it to true for the common case.
	SpeakOK bool

	// SpeakErr, if non-nil, is returned from Speak.
	SpeakErr error

	// StopErr, if non-nil, is returned from Stop.
	StopErr error

	spoken []string
	stops  int
}

var _ speech.Provider = (*Provider)(nil)

// Speak records the text and returns the configured result.
func (p *Provider) Speak(ctx context.Context, text string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SpeakErr != nil {
		return false, p.SpeakErr
	}
	p.spoken = append(p.spoken, text)
	return p.SpeakOK, nil
}

// Stop records the interruption.
func (p *Provider) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.StopErr != nil {
		return p.StopErr
	}
	p.stops++
	return nil
}

// Spoken returns a copy of the texts passed to Speak.
func (p *Provider) Spoken() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.spoken))
	copy(out, p.spoken)
	return out
}

// Stops returns how often Stop was called.
func (p *Provider) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}
