package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/meetbridge/meetbridge/internal/behavior"
	"github.com/meetbridge/meetbridge/internal/observe"
	"github.com/meetbridge/meetbridge/pkg/provider/speech"
)

// gatedSpeech wraps the speech provider with barge-in support: while a
// response is being spoken, a caption from anyone but the participant being
// answered stops playback.
type gatedSpeech struct {
	provider speech.Provider
	metrics  *observe.Metrics

	mu       sync.Mutex
	speaking bool
}

var _ behavior.Speech = (*gatedSpeech)(nil)

func newGatedSpeech(provider speech.Provider, metrics *observe.Metrics) *gatedSpeech {
	return &gatedSpeech{provider: provider, metrics: metrics}
}

// Speak synthesizes text. Returns false without error when no speech
// provider is configured or playback was declined.
func (g *gatedSpeech) Speak(ctx context.Context, text string) (bool, error) {
	if g.provider == nil {
		return false, nil
	}

	g.mu.Lock()
	g.speaking = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.speaking = false
		g.mu.Unlock()
	}()

	start := time.Now()
	ok, err := g.provider.Speak(ctx, text)
	if g.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		g.metrics.SpeechDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("status", status)))
	}
	return ok, err
}

func (g *gatedSpeech) isSpeaking() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.speaking
}

// interrupt stops playback if a response is currently being spoken.
func (g *gatedSpeech) interrupt(ctx context.Context, by string) {
	g.mu.Lock()
	speaking := g.speaking
	g.speaking = false
	g.mu.Unlock()

	if !speaking || g.provider == nil {
		return
	}
	slog.Info("speech interrupted by participant", "speaker", by)
	if err := g.provider.Stop(ctx); err != nil {
		slog.Warn("failed to stop speech playback", "err", err)
	}
}
