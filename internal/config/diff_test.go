package config

import (
	"testing"

	"github.com/meetbridge/meetbridge/internal/behavior"
)

func baseConfig() *Config {
	cfg := &Config{}
	cfg.Server.LogLevel = LogInfo
	cfg.Agent.DisplayName = "Jenny"
	cfg.Mention.FuzzyThreshold = 0.85
	cfg.Behavior.Patterns = []behavior.Pattern{
		{ID: "p1", CaptionMention: behavior.TriggerConfig{Enabled: true, Mode: behavior.ModeImmediate}},
		{ID: "p2", CaptionMention: behavior.TriggerConfig{Enabled: true, Mode: behavior.ModeControlled}},
	}
	cfg.Behavior.ActivePattern = "p1"
	return cfg
}

func TestDiffNoChange(t *testing.T) {
	t.Parallel()

	if d := Diff(baseConfig(), baseConfig()); d.Changed() {
		t.Fatalf("identical configs must not diff: %+v", d)
	}
}

func TestDiffLogLevel(t *testing.T) {
	t.Parallel()

	newCfg := baseConfig()
	newCfg.Server.LogLevel = LogDebug

	d := Diff(baseConfig(), newCfg)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Fatalf("want log level change to debug, got %+v", d)
	}
}

func TestDiffActivePatternSwitch(t *testing.T) {
	t.Parallel()

	newCfg := baseConfig()
	newCfg.Behavior.ActivePattern = "p2"

	d := Diff(baseConfig(), newCfg)
	if !d.PatternChanged || d.NewPattern.ID != "p2" {
		t.Fatalf("want pattern change to p2, got %+v", d)
	}
}

func TestDiffPatternEditedInPlace(t *testing.T) {
	t.Parallel()

	newCfg := baseConfig()
	newCfg.Behavior.Patterns[0].CaptionMention.Mode = behavior.ModeQueued

	d := Diff(baseConfig(), newCfg)
	if !d.PatternChanged || d.NewPattern.CaptionMention.Mode != behavior.ModeQueued {
		t.Fatalf("want in-place pattern edit detected, got %+v", d)
	}
}

func TestDiffMentionThreshold(t *testing.T) {
	t.Parallel()

	newCfg := baseConfig()
	newCfg.Mention.FuzzyThreshold = 0.9

	d := Diff(baseConfig(), newCfg)
	if !d.MentionThresholdChanged || d.NewMentionThreshold != 0.9 {
		t.Fatalf("want threshold change, got %+v", d)
	}
}
