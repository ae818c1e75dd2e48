// Package observe provides application-wide observability primitives for
// MeetBridge: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all MeetBridge metrics.
const meterName = "github.com/meetbridge/meetbridge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// AgentCallDuration tracks agent conversation round-trip latency.
	AgentCallDuration metric.Float64Histogram

	// ClassifyDuration tracks LLM intent/mention classification latency.
	ClassifyDuration metric.Float64Histogram

	// SpeechDuration tracks text-to-speech synthesis latency.
	SpeechDuration metric.Float64Histogram

	// --- Counters ---

	// Questions counts accepted triggers. Use with attributes:
	//   attribute.String("source", ...), attribute.String("author", ...)
	Questions metric.Int64Counter

	// Responses counts delivered responses. Use with attributes:
	//   attribute.String("source", ...), attribute.String("channel", ...),
	//   attribute.String("mode", ...)
	Responses metric.Int64Counter

	// MentionsDetected counts agent mentions. Use with attributes:
	//   attribute.String("source", ...), attribute.String("kind", "exact"|"fuzzy"|"llm")
	MentionsDetected metric.Int64Counter

	// DroppedTriggers counts triggers dropped by the single in-flight guard.
	DroppedTriggers metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks whether a conversation session is live (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// PendingResponses tracks the number of held responses awaiting a
	// decision or a hand-lowered acknowledgment.
	PendingResponses metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for conversational round-trip latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AgentCallDuration, err = m.Float64Histogram("meetbridge.agent.duration",
		metric.WithDescription("Latency of agent conversation round-trips."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassifyDuration, err = m.Float64Histogram("meetbridge.classify.duration",
		metric.WithDescription("Latency of LLM intent and mention classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeechDuration, err = m.Float64Histogram("meetbridge.speech.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Questions, err = m.Int64Counter("meetbridge.questions",
		metric.WithDescription("Total accepted triggers by source and author."),
	); err != nil {
		return nil, err
	}
	if met.Responses, err = m.Int64Counter("meetbridge.responses",
		metric.WithDescription("Total delivered responses by source, channel, and mode."),
	); err != nil {
		return nil, err
	}
	if met.MentionsDetected, err = m.Int64Counter("meetbridge.mentions",
		metric.WithDescription("Total agent mentions by source and detection kind."),
	); err != nil {
		return nil, err
	}
	if met.DroppedTriggers, err = m.Int64Counter("meetbridge.dropped_triggers",
		metric.WithDescription("Total triggers dropped while a response was in flight."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("meetbridge.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("meetbridge.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("meetbridge.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.PendingResponses, err = m.Int64UpDownCounter("meetbridge.pending_responses",
		metric.WithDescription("Number of held responses awaiting a decision."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("meetbridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordMention is a convenience method that records a detected mention.
func (m *Metrics) RecordMention(ctx context.Context, source, kind string) {
	m.MentionsDetected.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("kind", kind),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
