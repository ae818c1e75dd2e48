package config

import (
	"reflect"

	"github.com/meetbridge/meetbridge/internal/behavior"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// connection changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PatternChanged is true when the resolved active behaviour pattern
	// differs, whether by selecting another pattern or editing the current
	// one in place.
	PatternChanged bool
	NewPattern     behavior.Pattern

	// MentionThresholdChanged tracks fuzzy-threshold tuning.
	MentionThresholdChanged bool
	NewMentionThreshold     float64
}

// Changed reports whether the diff carries any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PatternChanged || d.MentionThresholdChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(oldCfg, newCfg *Config) ConfigDiff {
	d := ConfigDiff{}

	if oldCfg.Server.LogLevel != newCfg.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = newCfg.Server.LogLevel
	}

	oldPattern, oldErr := oldCfg.ActivePattern()
	newPattern, newErr := newCfg.ActivePattern()
	if oldErr == nil && newErr == nil && !reflect.DeepEqual(oldPattern, newPattern) {
		d.PatternChanged = true
		d.NewPattern = newPattern
	}

	if oldCfg.Mention.FuzzyThreshold != newCfg.Mention.FuzzyThreshold {
		d.MentionThresholdChanged = true
		d.NewMentionThreshold = newCfg.Mention.FuzzyThreshold
	}

	return d
}
