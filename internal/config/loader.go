package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":     {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"speech":  {"http"},
	"meeting": {"acs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Agent
	if cfg.Agent.DisplayName == "" {
		errs = append(errs, errors.New("agent.display_name is required"))
	}
	if cfg.Agent.Provider.Kind != "" && !cfg.Agent.Provider.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("agent.provider.kind %q is invalid; valid values: copilot-studio, direct-line, azure-foundry", cfg.Agent.Provider.Kind))
	}

	// Mention
	if t := cfg.Mention.FuzzyThreshold; t != 0 && (t <= 0 || t > 1) {
		errs = append(errs, fmt.Errorf("mention.fuzzy_threshold %.2f is out of range (0, 1]", t))
	}
	if cfg.Mention.LLMConfirmation && cfg.LLM.Name == "" {
		slog.Warn("mention.llm_confirmation is enabled but no llm provider is configured; ambiguous mentions resolve locally")
	}

	// Caption
	if cfg.Caption.GapWindow < 0 {
		errs = append(errs, errors.New("caption.gap_window must not be negative"))
	}
	if cfg.Caption.PendingMentionWindow < 0 {
		errs = append(errs, errors.New("caption.pending_mention_window must not be negative"))
	}

	// Intent
	if c := cfg.Intent.MinConfidence; c != 0 && (c <= 0 || c > 1) {
		errs = append(errs, fmt.Errorf("intent.min_confidence %.2f is out of range (0, 1]", c))
	}

	// Behavior patterns
	patternIDsSeen := make(map[string]int, len(cfg.Behavior.Patterns))
	for i, p := range cfg.Behavior.Patterns {
		prefix := fmt.Sprintf("behavior.patterns[%d]", i)
		if err := p.Validate(prefix); err != nil {
			errs = append(errs, err)
		}
		if p.ID != "" {
			if prev, ok := patternIDsSeen[p.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of behavior.patterns[%d]", prefix, p.ID, prev))
			}
			patternIDsSeen[p.ID] = i
		}
	}
	if _, err := cfg.ActivePattern(); err != nil {
		errs = append(errs, err)
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.LLM.Name)
	validateProviderName("speech", cfg.Speech.Name)
	validateProviderName("meeting", cfg.Meeting.Provider.Name)

	// Provider availability warnings
	if cfg.Meeting.Provider.Name == "" {
		slog.Warn("no meeting provider configured; the engine can only be driven by tests")
	}
	if cfg.Agent.Provider.Kind == "" {
		slog.Warn("no agent backend configured; triggers will be detected but never answered")
	}
	if cfg.Speech.Name == "" {
		slog.Warn("no speech provider configured; responses fall back to chat-only delivery")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
