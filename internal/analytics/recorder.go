// Package analytics keeps lightweight usage counters for the current
// meeting and mirrors them to OpenTelemetry instruments.
//
// Recording is fire-and-forget: callers never block on analytics and an
// unconfigured recorder is a no-op.
package analytics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/meetbridge/meetbridge/internal/behavior"
	"github.com/meetbridge/meetbridge/internal/observe"
)

// Summary is a point-in-time view of meeting usage.
type Summary struct {
	Questions       int64
	Responses       int64
	Mentions        int64
	DroppedTriggers int64
	Sessions        int64
	StartedAt       time.Time
}

// Recorder counts questions, responses, and mentions for the active meeting.
// All methods are safe for concurrent use.
type Recorder struct {
	metrics *observe.Metrics

	mu        sync.Mutex
	questions int64
	responses int64
	mentions  int64
	dropped   int64
	sessions  int64
	startedAt time.Time
}

var _ behavior.Analytics = (*Recorder)(nil)

// NewRecorder creates a Recorder mirroring to metrics. metrics may be nil;
// counters still work.
func NewRecorder(metrics *observe.Metrics) *Recorder {
	return &Recorder{metrics: metrics, startedAt: time.Now()}
}

// RecordQuestion counts an accepted trigger.
func (r *Recorder) RecordQuestion(source, author string) {
	r.mu.Lock()
	r.questions++
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.Questions.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("source", source),
				attribute.String("author", author),
			),
		)
	}
}

// RecordResponse counts a delivered response.
func (r *Recorder) RecordResponse(source string, channel behavior.Channel, mode behavior.Mode) {
	r.mu.Lock()
	r.responses++
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.Responses.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("source", source),
				attribute.String("channel", string(channel)),
				attribute.String("mode", string(mode)),
			),
		)
	}
}

// RecordDroppedTrigger counts a trigger dropped by the in-flight guard.
func (r *Recorder) RecordDroppedTrigger(source string) {
	r.mu.Lock()
	r.dropped++
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.DroppedTriggers.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("source", source)),
		)
	}
}

// RecordMention counts a detected agent mention.
func (r *Recorder) RecordMention(source, kind string) {
	r.mu.Lock()
	r.mentions++
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.RecordMention(context.Background(), source, kind)
	}
}

// SessionStarted marks a conversation session as live.
func (r *Recorder) SessionStarted() {
	r.mu.Lock()
	r.sessions++
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.ActiveSessions.Add(context.Background(), 1)
	}
}

// SessionEnded marks the conversation session as over.
func (r *Recorder) SessionEnded() {
	if r.metrics != nil {
		r.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// Snapshot returns the current counters.
func (r *Recorder) Snapshot() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Summary{
		Questions:       r.questions,
		Responses:       r.responses,
		Mentions:        r.mentions,
		DroppedTriggers: r.dropped,
		Sessions:        r.sessions,
		StartedAt:       r.startedAt,
	}
}

// Reset zeroes the per-meeting counters. Called when the meeting identity
// changes.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.questions, r.responses, r.mentions, r.dropped, r.sessions = 0, 0, 0, 0, 0
	r.startedAt = time.Now()
	r.mu.Unlock()
}
