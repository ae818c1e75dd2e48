// Package config provides the configuration schema, loader, provider
// registry, and file watcher for the MeetBridge engine.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meetbridge/meetbridge/internal/behavior"
	"github.com/meetbridge/meetbridge/pkg/provider/agentconv"
)

// LogLevel controls log verbosity for the MeetBridge server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration so YAML values like "1.75s" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for MeetBridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Agent       AgentConfig       `yaml:"agent"`
	Mention     MentionConfig     `yaml:"mention"`
	Caption     CaptionConfig     `yaml:"caption"`
	Intent      IntentConfig      `yaml:"intent"`
	Session     SessionConfig     `yaml:"session"`
	Behavior    BehaviorConfig    `yaml:"behavior"`
	Meeting     MeetingConfig     `yaml:"meeting"`
	Speech      ProviderEntry     `yaml:"speech"`
	LLM         ProviderEntry     `yaml:"llm"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

// ServerConfig holds network and logging settings for the MeetBridge server.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server (metrics, pending
	// approvals) listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AgentConfig describes the assistant's identity and its conversation
// backend.
type AgentConfig struct {
	// DisplayName is the name the agent answers to in captions and chat
	// (e.g., "Jenny").
	DisplayName string `yaml:"display_name"`

	// ExtraVariations adds mention spellings beyond those derived from
	// DisplayName (nicknames, localized forms).
	ExtraVariations []string `yaml:"extra_variations"`

	// Provider selects and configures the conversation backend.
	Provider AgentProviderConfig `yaml:"provider"`
}

// AgentProviderConfig is the agent backend block. Exactly the fields for the
// selected Kind need to be set.
type AgentProviderConfig struct {
	// Kind selects the backend implementation.
	Kind agentconv.Kind `yaml:"kind"`

	// TokenEndpoint, TenantID, ClientID, ClientSecret configure the
	// copilot-studio backend. ClientSecret may be left empty and resolved
	// from the credential store under
	// "agent.copilot-studio.<client_id>.clientSecret".
	TokenEndpoint string `yaml:"token_endpoint"`
	TenantID      string `yaml:"tenant_id"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`

	// Secret and BaseURL configure the direct-line backend.
	Secret  string `yaml:"secret"`
	BaseURL string `yaml:"base_url"`

	// Endpoint, APIKey, and Deployment configure the azure-foundry backend.
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Deployment string `yaml:"deployment"`
}

// MentionConfig tunes agent-name detection.
type MentionConfig struct {
	// FuzzyThreshold is the minimum similarity score for a phonetic match,
	// in (0, 1]. Default: 0.85.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// LLMConfirmation enables the LLM tier for ambiguous matches. Requires
	// an llm provider.
	LLMConfirmation bool `yaml:"llm_confirmation"`
}

// CaptionConfig tunes caption aggregation.
type CaptionConfig struct {
	// GapWindow is the silence that finalizes an utterance. Default: 1.75s.
	GapWindow Duration `yaml:"gap_window"`

	// PendingMentionWindow is how long a fuzzy mention waits for
	// confirmation before being processed anyway. Default: 4s.
	PendingMentionWindow Duration `yaml:"pending_mention_window"`

	// BufferSize is how many recent utterances are kept for agent context.
	// Default: 50.
	BufferSize int `yaml:"buffer_size"`

	// BufferMaxAge evicts utterances older than this. Default: 5m.
	BufferMaxAge Duration `yaml:"buffer_max_age"`
}

// IntentConfig tunes the intent classifier.
type IntentConfig struct {
	// MinConfidence gates LLM-tier decisions, in (0, 1]. Default: 0.7.
	MinConfidence float64 `yaml:"min_confidence"`
}

// SessionConfig tunes the conversation session tracker.
type SessionConfig struct {
	// IdleTimeout ends the session after this much inactivity.
	// Default: 120s.
	IdleTimeout Duration `yaml:"idle_timeout"`
}

// BehaviorConfig selects the active behaviour pattern.
type BehaviorConfig struct {
	// Patterns lists the operator-selectable behaviour patterns.
	Patterns []behavior.Pattern `yaml:"patterns"`

	// ActivePattern is the id of the pattern in effect. When empty and no
	// patterns are declared, the built-in immediate pattern is used.
	ActivePattern string `yaml:"active_pattern"`

	// PendingTTL dismisses undecided held responses after this long.
	// Default: 10m.
	PendingTTL Duration `yaml:"pending_ttl"`
}

// MeetingConfig selects the meeting backend and the meeting to join.
type MeetingConfig struct {
	// Provider selects and configures the meeting backend (e.g., "acs").
	Provider ProviderEntry `yaml:"provider"`

	// MeetingID identifies the meeting to join.
	MeetingID string `yaml:"meeting_id"`
}

// ProviderEntry is the common configuration block shared by the speech, llm,
// and meeting provider selections. The Name field is used to look up the
// constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "openai", "acs", "http").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// StringOption returns Options[key] as a string, or def when absent.
func (e ProviderEntry) StringOption(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// CredentialsConfig locates the secret store.
type CredentialsConfig struct {
	// File is the path of the YAML secret store. Default:
	// "~/.config/meetbridge/credentials.yaml" resolved by the caller.
	File string `yaml:"file"`
}

// ActivePattern resolves the behaviour pattern in effect.
func (c *Config) ActivePattern() (behavior.Pattern, error) {
	if len(c.Behavior.Patterns) == 0 {
		if c.Behavior.ActivePattern != "" && c.Behavior.ActivePattern != "default" {
			return behavior.Pattern{}, fmt.Errorf("config: behavior.active_pattern %q does not exist", c.Behavior.ActivePattern)
		}
		return behavior.DefaultPattern(), nil
	}
	if c.Behavior.ActivePattern == "" {
		return c.Behavior.Patterns[0], nil
	}
	for _, p := range c.Behavior.Patterns {
		if p.ID == c.Behavior.ActivePattern {
			return p, nil
		}
	}
	return behavior.Pattern{}, fmt.Errorf("config: behavior.active_pattern %q does not exist", c.Behavior.ActivePattern)
}
