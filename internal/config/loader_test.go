package config

import (
	"strings"
	"testing"
	"time"

	"github.com/meetbridge/meetbridge/internal/behavior"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
agent:
  display_name: "Jenny"
  extra_variations: ["Jen"]
  provider:
    kind: azure-foundry
    endpoint: "https://proj.openai.azure.com/openai/v1"
    api_key: "key"
    deployment: "gpt-4o-mini"
mention:
  fuzzy_threshold: 0.85
  llm_confirmation: true
caption:
  gap_window: 1.75s
  pending_mention_window: 4s
  buffer_size: 50
  buffer_max_age: 5m
intent:
  min_confidence: 0.7
session:
  idle_timeout: 120s
behavior:
  active_pattern: supervised
  pending_ttl: 10m
  patterns:
    - id: supervised
      name: "Supervised answers"
      caption_mention:
        enabled: true
        response_channel: both
        behavior_mode: controlled
      chat_mention:
        enabled: true
        response_channel: chat
        behavior_mode: immediate
meeting:
  provider:
    name: acs
    base_url: "wss://relay.example.com"
    api_key: "relay-key"
  meeting_id: "19:meeting_abc"
speech:
  name: http
  base_url: "https://tts.example.com"
llm:
  name: openai
  api_key: "sk-test"
  model: gpt-4o-mini
credentials:
  file: /tmp/creds.yaml
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Agent.DisplayName != "Jenny" {
		t.Errorf("display name = %q, want Jenny", cfg.Agent.DisplayName)
	}
	if got := cfg.Caption.GapWindow.Std(); got != 1750*time.Millisecond {
		t.Errorf("gap window = %v, want 1.75s", got)
	}
	if got := cfg.Session.IdleTimeout.Std(); got != 2*time.Minute {
		t.Errorf("idle timeout = %v, want 2m", got)
	}

	pattern, err := cfg.ActivePattern()
	if err != nil {
		t.Fatalf("ActivePattern: %v", err)
	}
	if pattern.ID != "supervised" || pattern.CaptionMention.Mode != behavior.ModeControlled {
		t.Fatalf("unexpected active pattern: %+v", pattern)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	yaml := `
agent:
  display_name: "Jenny"
  typo_field: true
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("want error for unknown field, got nil")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	yaml := `
server:
  log_level: loud
agent:
  display_name: ""
  provider:
    kind: smoke-signals
mention:
  fuzzy_threshold: 1.5
intent:
  min_confidence: -0.2
`
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("want validation errors, got nil")
	}
	for _, fragment := range []string{
		"server.log_level",
		"agent.display_name",
		"agent.provider.kind",
		"mention.fuzzy_threshold",
		"intent.min_confidence",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error is missing %q: %v", fragment, err)
		}
	}
}

func TestActivePatternDefaults(t *testing.T) {
	cfg := &Config{}
	p, err := cfg.ActivePattern()
	if err != nil {
		t.Fatalf("ActivePattern: %v", err)
	}
	if p.ID != "default" || p.CaptionMention.Mode != behavior.ModeImmediate {
		t.Fatalf("unexpected default pattern: %+v", p)
	}
}

func TestActivePatternUnknownID(t *testing.T) {
	cfg := &Config{}
	cfg.Behavior.Patterns = []behavior.Pattern{{ID: "a"}}
	cfg.Behavior.ActivePattern = "missing"
	if _, err := cfg.ActivePattern(); err == nil {
		t.Fatal("want error for unknown active pattern id")
	}
}

func TestDuplicatePatternIDs(t *testing.T) {
	yaml := `
agent:
  display_name: "Jenny"
behavior:
  patterns:
    - id: p1
    - id: p1
`
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("want duplicate pattern id error, got %v", err)
	}
}

func TestInvalidDuration(t *testing.T) {
	yaml := `
agent:
  display_name: "Jenny"
caption:
  gap_window: soon
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("want error for unparseable duration")
	}
}
