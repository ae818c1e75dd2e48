package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/meetbridge/meetbridge/pkg/provider/agentconv"
	"github.com/meetbridge/meetbridge/pkg/provider/llmproc"
	"github.com/meetbridge/meetbridge/pkg/provider/meeting"
	"github.com/meetbridge/meetbridge/pkg/provider/speech"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	agent   map[agentconv.Kind]func(AgentProviderConfig) (agentconv.Provider, error)
	speech  map[string]func(ProviderEntry) (speech.Provider, error)
	llm     map[string]func(ProviderEntry) (llmproc.Processor, error)
	meeting map[string]func(ProviderEntry) (meeting.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		agent:   make(map[agentconv.Kind]func(AgentProviderConfig) (agentconv.Provider, error)),
		speech:  make(map[string]func(ProviderEntry) (speech.Provider, error)),
		llm:     make(map[string]func(ProviderEntry) (llmproc.Processor, error)),
		meeting: make(map[string]func(ProviderEntry) (meeting.Provider, error)),
	}
}

// RegisterAgent registers an agent backend factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) RegisterAgent(kind agentconv.Kind, factory func(AgentProviderConfig) (agentconv.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agent[kind] = factory
}

// RegisterSpeech registers a speech provider factory under name.
func (r *Registry) RegisterSpeech(name string, factory func(ProviderEntry) (speech.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[name] = factory
}

// RegisterLLM registers an LLM classification backend factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llmproc.Processor, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterMeeting registers a meeting provider factory under name.
func (r *Registry) RegisterMeeting(name string, factory func(ProviderEntry) (meeting.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meeting[name] = factory
}

// CreateAgent instantiates an agent backend using the factory registered
// under cfg.Kind. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that kind.
func (r *Registry) CreateAgent(cfg AgentProviderConfig) (agentconv.Provider, error) {
	r.mu.RLock()
	factory, ok := r.agent[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: agent/%q", ErrProviderNotRegistered, cfg.Kind)
	}
	return factory(cfg)
}

// CreateSpeech instantiates a speech provider using the factory registered under entry.Name.
func (r *Registry) CreateSpeech(entry ProviderEntry) (speech.Provider, error) {
	r.mu.RLock()
	factory, ok := r.speech[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: speech/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM classification backend using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llmproc.Processor, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateMeeting instantiates a meeting provider using the factory registered under entry.Name.
func (r *Registry) CreateMeeting(entry ProviderEntry) (meeting.Provider, error) {
	r.mu.RLock()
	factory, ok := r.meeting[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: meeting/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
