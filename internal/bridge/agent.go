package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/meetbridge/meetbridge/internal/behavior"
	"github.com/meetbridge/meetbridge/internal/caption"
	"github.com/meetbridge/meetbridge/internal/observe"
	"github.com/meetbridge/meetbridge/internal/resilience"
	"github.com/meetbridge/meetbridge/pkg/provider/agentconv"
)

const defaultConnectRetryDelay = 10 * time.Second

// ErrAgentUnavailable is returned when the agent backend accepted the
// connect request but never produced a conversation, even after the retry.
var ErrAgentUnavailable = errors.New("bridge: agent backend returned no conversation")

// agentGen adapts an [agentconv.Provider] to the behavior processor's
// generator contract. It connects lazily on the first trigger, retries a
// silent connect failure exactly once after a fixed delay, and routes every
// call through a circuit breaker so a dead backend stops being hammered.
type agentGen struct {
	agent      agentconv.Provider
	breaker    *resilience.CircuitBreaker
	buffer     *caption.RecentBuffer
	retryDelay time.Duration
	metrics    *observe.Metrics

	// mu serializes connect attempts; concurrent triggers must not open two
	// conversations.
	mu sync.Mutex
}

var _ behavior.Generator = (*agentGen)(nil)

func newAgentGen(agent agentconv.Provider, buffer *caption.RecentBuffer, retryDelay time.Duration, metrics *observe.Metrics) *agentGen {
	if retryDelay <= 0 {
		retryDelay = defaultConnectRetryDelay
	}
	return &agentGen{
		agent: agent,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "agent-conversation",
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  3,
		}),
		buffer:     buffer,
		retryDelay: retryDelay,
		metrics:    metrics,
	}
}

// ensureConnected opens the agent conversation if it is not already open.
// A connect that returns no conversation id and no error is a silent
// failure; it is retried once after the fixed delay and then given up on.
func (g *agentGen) ensureConnected(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.agent.Connected() {
		return nil
	}

	id, err := g.agent.Connect(ctx)
	if err != nil {
		return err
	}
	if id != "" {
		slog.Info("agent conversation opened", "conversation_id", id)
		return nil
	}

	slog.Warn("agent connect yielded no conversation, retrying once",
		"delay", g.retryDelay)
	select {
	case <-time.After(g.retryDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	id, err = g.agent.Connect(ctx)
	if err != nil {
		return err
	}
	if id == "" {
		return ErrAgentUnavailable
	}
	slog.Info("agent conversation opened on retry", "conversation_id", id)
	return nil
}

// Generate asks the agent backend for an answer, passing recent transcript
// lines as conversational context.
func (g *agentGen) Generate(ctx context.Context, text, speaker string) (string, error) {
	start := time.Now()
	var reply agentconv.Reply

	err := g.breaker.Execute(func() error {
		if err := g.ensureConnected(ctx); err != nil {
			return err
		}
		r, err := g.agent.SendMessage(ctx, text, speaker, g.buffer.Lines(10))
		if err != nil {
			return err
		}
		reply = r
		return nil
	})

	if g.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		g.metrics.AgentCallDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("status", status)))
		g.metrics.RecordProviderRequest(ctx, "agent", "send_message", status)
		if err != nil {
			g.metrics.RecordProviderError(ctx, "agent", "send_message")
		}
	}
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}
