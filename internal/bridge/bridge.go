// Package bridge wires the meeting transport to the conversation pipeline:
// caption aggregation, mention detection, intent classification, session
// tracking, and the behavior processor that delivers agent responses.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meetbridge/meetbridge/internal/analytics"
	"github.com/meetbridge/meetbridge/internal/behavior"
	"github.com/meetbridge/meetbridge/internal/caption"
	"github.com/meetbridge/meetbridge/internal/intent"
	"github.com/meetbridge/meetbridge/internal/mention"
	"github.com/meetbridge/meetbridge/internal/observe"
	"github.com/meetbridge/meetbridge/internal/session"
	"github.com/meetbridge/meetbridge/pkg/provider/agentconv"
	"github.com/meetbridge/meetbridge/pkg/provider/llmproc"
	"github.com/meetbridge/meetbridge/pkg/provider/meeting"
	"github.com/meetbridge/meetbridge/pkg/provider/speech"
)

const (
	defaultBufferSize   = 50
	defaultBufferMaxAge = 5 * time.Minute
	recentContextLines  = 10

	// defaultClosingReply is sent when a participant closes the conversation
	// with a farewell.
	defaultClosingReply = "You're welcome! Just say my name if you need anything else."
)

var errNoActiveCall = errors.New("bridge: no active meeting call")

// Config carries the tunables for a Bridge. Zero values fall back to
// sensible defaults.
type Config struct {
	// DisplayName is the agent's name in the meeting; captions attributed to
	// it are its own speech and never treated as input.
	DisplayName string

	// MeetingID identifies the meeting to join.
	MeetingID string

	// Pattern is the active behavior pattern.
	Pattern behavior.Pattern

	// ExtraVariations adds mention-name variations beyond the derived ones.
	ExtraVariations []string

	// FuzzyThreshold is the similarity cutoff for fuzzy mention matches.
	FuzzyThreshold float64

	// LLMConfirmation escalates ambiguous mentions to the LLM tier.
	LLMConfirmation bool

	// GapWindow and PendingWindow tune the caption aggregator.
	GapWindow     time.Duration
	PendingWindow time.Duration

	// BufferSize and BufferMaxAge bound the recent-transcript buffer.
	BufferSize   int
	BufferMaxAge time.Duration

	// MinConfidence gates intent-tier responses.
	MinConfidence float64

	// IdleTimeout ends a session after silence.
	IdleTimeout time.Duration

	// PendingTTL dismisses stale pending responses.
	PendingTTL time.Duration

	// DedupWindow collapses duplicate transcript events.
	DedupWindow time.Duration

	// ConnectRetryDelay is the wait before the single retry after a silent
	// agent connect failure.
	ConnectRetryDelay time.Duration

	// ClosingReply is the fixed farewell response.
	ClosingReply string
}

// Option configures a [Bridge] during construction.
type Option func(*Bridge)

// WithMetrics attaches OpenTelemetry instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithRecorder attaches an analytics recorder. Without one a metrics-less
// recorder is created.
func WithRecorder(r *analytics.Recorder) Option {
	return func(b *Bridge) { b.recorder = r }
}

// Bridge owns the per-meeting pipeline. Construct with [New], drive with
// [Bridge.Run], tear down with [Bridge.Close].
type Bridge struct {
	cfg          Config
	closingReply string

	meetingProv meeting.Provider
	agent       agentconv.Provider
	llm         llmproc.Processor

	agg        *caption.Aggregator
	buffer     *caption.RecentBuffer
	classifier *intent.Classifier
	tracker    *session.Tracker
	processor  *behavior.Processor
	gen        *agentGen
	gate       *gatedSpeech
	dedup      *dedupWindow
	recorder   *analytics.Recorder
	metrics    *observe.Metrics

	detMu    sync.RWMutex
	detector *mention.Detector

	mu        sync.Mutex
	call      meeting.Call
	meetingID string
	baseCtx   context.Context

	// pipeCtx scopes in-flight pipeline stages (agent calls, LLM calls,
	// synthesis) to the current meeting; a reset cancels and renews it.
	pipeCtx    context.Context
	pipeCancel context.CancelFunc
}

// liveChecker routes mention checks through the bridge's current detector so
// a threshold reload takes effect without rebuilding the pipeline.
type liveChecker struct{ b *Bridge }

func (c liveChecker) Detect(text string) mention.Result {
	return c.b.currentDetector().Detect(text)
}

// New builds the pipeline. speechProv and llm may be nil; the corresponding
// tiers degrade gracefully.
func New(cfg Config, meetingProv meeting.Provider, agent agentconv.Provider, speechProv speech.Provider, llm llmproc.Processor, opts ...Option) (*Bridge, error) {
	if meetingProv == nil || agent == nil {
		return nil, errors.New("bridge: meeting and agent providers are required")
	}

	b := &Bridge{
		cfg:          cfg,
		closingReply: cfg.ClosingReply,
		meetingProv:  meetingProv,
		agent:        agent,
		llm:          llm,
		baseCtx:      context.Background(),
	}
	if b.closingReply == "" {
		b.closingReply = defaultClosingReply
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.recorder == nil {
		b.recorder = analytics.NewRecorder(b.metrics)
	}
	if b.cfg.Pattern.ID == "" {
		b.cfg.Pattern = behavior.DefaultPattern()
	}
	b.pipeCtx, b.pipeCancel = context.WithCancel(b.baseCtx)

	det, err := b.buildDetector(cfg.FuzzyThreshold)
	if err != nil {
		return nil, fmt.Errorf("bridge: build mention detector: %w", err)
	}
	b.detector = det

	size := cfg.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	maxAge := cfg.BufferMaxAge
	if maxAge <= 0 {
		maxAge = defaultBufferMaxAge
	}
	b.buffer = caption.NewRecentBuffer(size, maxAge)

	var aggOpts []caption.Option
	if cfg.GapWindow > 0 {
		aggOpts = append(aggOpts, caption.WithGapWindow(cfg.GapWindow))
	}
	if cfg.PendingWindow > 0 {
		aggOpts = append(aggOpts, caption.WithPendingWindow(cfg.PendingWindow))
	}
	b.agg = caption.NewAggregator(liveChecker{b}, aggOpts...)
	b.agg.SetOnAggregated(b.onAggregated)
	b.agg.SetOnPendingMentionTimeout(b.onPendingMentionTimeout)

	var intentOpts []intent.Option
	if llm != nil {
		intentOpts = append(intentOpts, intent.WithProcessor(llm))
	}
	if cfg.MinConfidence > 0 {
		intentOpts = append(intentOpts, intent.WithMinConfidence(cfg.MinConfidence))
	}
	b.classifier = intent.NewClassifier(intentOpts...)

	var trackerOpts []session.Option
	if cfg.IdleTimeout > 0 {
		trackerOpts = append(trackerOpts, session.WithIdleTimeout(cfg.IdleTimeout))
	}
	trackerOpts = append(trackerOpts, session.WithOnEnd(b.onSessionEnd))
	b.tracker = session.NewTracker(trackerOpts...)

	b.gen = newAgentGen(agent, b.buffer, cfg.ConnectRetryDelay, b.metrics)
	b.gate = newGatedSpeech(speechProv, b.metrics)
	b.dedup = newDedupWindow(cfg.DedupWindow)

	procOpts := []behavior.Option{
		behavior.WithAnalytics(b.recorder),
		behavior.WithMentionChecker(liveChecker{b}),
	}
	if cfg.PendingTTL > 0 {
		procOpts = append(procOpts, behavior.WithPendingTTL(cfg.PendingTTL))
	}
	proc, err := behavior.NewProcessor(b.cfg.Pattern, b.gen, b.gate, callMeeting{b}, procOpts...)
	if err != nil {
		return nil, fmt.Errorf("bridge: build behavior processor: %w", err)
	}
	proc.SetOnDisplay(b.onResponseDisplayed)
	b.processor = proc

	return b, nil
}

func (b *Bridge) buildDetector(threshold float64) (*mention.Detector, error) {
	var detOpts []mention.Option
	if threshold > 0 {
		detOpts = append(detOpts, mention.WithFuzzyThreshold(threshold))
	}
	if len(b.cfg.ExtraVariations) > 0 {
		detOpts = append(detOpts, mention.WithExtraVariations(b.cfg.ExtraVariations...))
	}
	if b.cfg.LLMConfirmation && b.llm != nil {
		detOpts = append(detOpts, mention.WithProcessor(b.llm))
	}
	return mention.NewDetector(b.cfg.DisplayName, detOpts...)
}

func (b *Bridge) currentDetector() *mention.Detector {
	b.detMu.RLock()
	defer b.detMu.RUnlock()
	return b.detector
}

// Run joins the meeting and consumes its caption and chat streams until the
// context is canceled or the call ends.
func (b *Bridge) Run(ctx context.Context) error {
	call, err := b.meetingProv.Join(ctx, meeting.JoinConfig{
		MeetingID:   b.cfg.MeetingID,
		DisplayName: b.cfg.DisplayName,
	})
	if err != nil {
		return fmt.Errorf("bridge: join meeting: %w", err)
	}

	b.mu.Lock()
	b.baseCtx = ctx
	cancelOld := b.pipeCancel
	b.pipeCtx, b.pipeCancel = context.WithCancel(ctx)
	b.mu.Unlock()
	cancelOld()

	b.ResetForMeeting(call.MeetingID())
	b.mu.Lock()
	b.call = call
	b.mu.Unlock()

	call.SetOnHandRaisedChanged(func(raised bool) {
		b.processor.OnHandRaisedChanged(b.baseContext(), raised)
	})

	slog.Info("joined meeting", "meeting_id", call.MeetingID(),
		"display_name", b.cfg.DisplayName, "pattern", b.cfg.Pattern.ID)

	// Leaving unblocks the stream consumers when the context ends.
	stop := context.AfterFunc(ctx, func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := call.Leave(leaveCtx); err != nil {
			slog.Warn("leave meeting failed", "err", err)
		}
	})
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		for frag := range call.Captions() {
			b.HandleCaption(ctx, frag)
		}
		return nil
	})
	g.Go(func() error {
		for msg := range call.Chat() {
			b.HandleChat(ctx, msg)
		}
		return nil
	})
	err = g.Wait()

	b.agg.Flush()
	b.mu.Lock()
	b.call = nil
	b.mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// HandleCaption feeds one caption fragment into the pipeline. Exposed for
// transports that deliver captions by callback rather than channel.
func (b *Bridge) HandleCaption(ctx context.Context, frag meeting.CaptionFragment) {
	// Captions attributed to the agent are its own TTS being transcribed.
	if frag.Speaker == b.cfg.DisplayName {
		return
	}

	// Barge-in: anyone but the participant being answered talking over the
	// agent stops playback.
	if b.gate.isSpeaking() && frag.Speaker != b.tracker.Snapshot().Speaker {
		b.gate.interrupt(ctx, frag.Speaker)
	}

	if !frag.IsFinal {
		return
	}
	ts := frag.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if !b.dedup.observe("caption", frag.Text, ts) {
		slog.Debug("duplicate caption dropped", "speaker", frag.Speaker)
		return
	}

	b.buffer.Add(caption.Entry{Speaker: frag.Speaker, Text: frag.Text, Timestamp: ts})
	b.agg.Add(caption.Fragment{
		ID:        frag.ID,
		Speaker:   frag.Speaker,
		SpeakerID: frag.SpeakerID,
		Text:      frag.Text,
		Timestamp: ts,
		IsFinal:   frag.IsFinal,
	})
}

// HandleChat feeds one chat message into the pipeline.
func (b *Bridge) HandleChat(ctx context.Context, msg meeting.ChatMessage) {
	if msg.IsOwn {
		return
	}
	plain := mention.StripHTML(msg.Content)
	if plain == "" {
		return
	}
	ts := msg.CreatedOn
	if ts.IsZero() {
		ts = time.Now()
	}
	if !b.dedup.observe("chat", plain, ts) {
		slog.Debug("duplicate chat message dropped", "sender", msg.SenderDisplayName)
		return
	}

	b.buffer.Add(caption.Entry{Speaker: msg.SenderDisplayName, Text: plain, Timestamp: ts})

	res := b.currentDetector().DetectChat(msg.Content)
	if !res.Mentioned {
		return
	}
	b.recorder.RecordMention("chat", mentionKind(res))
	if b.metrics != nil {
		b.metrics.RecordMention(ctx, "chat", mentionKind(res))
	}
	if err := b.processor.ProcessChatMention(ctx, msg.SenderDisplayName, plain); err != nil {
		b.logProcessErr("chat", msg.SenderDisplayName, err)
	}
}

// onAggregated handles a finalized utterance: mention handling first, then
// the intent tier for utterances inside an active session.
func (b *Bridge) onAggregated(utt caption.Aggregated, res mention.Result) {
	ctx := b.baseContext()

	// Escalate ambiguous results through the LLM tier with recent context.
	if b.cfg.LLMConfirmation && b.llm != nil && !res.Mentioned {
		res = b.currentDetector().DetectHybrid(ctx, utt.Text, b.buffer.Lines(recentContextLines))
	}

	snap := b.tracker.Snapshot()
	if res.Mentioned {
		b.recorder.RecordMention("caption", mentionKind(res))
		if b.metrics != nil {
			b.metrics.RecordMention(ctx, "caption", mentionKind(res))
		}

		// An explicit mention by another participant takes the session over.
		if snap.Active && snap.Speaker != utt.Speaker {
			slog.Info("session overridden by explicit mention",
				"previous", snap.Speaker, "speaker", utt.Speaker)
			b.tracker.End(session.EndReasonManual)
		}
		if b.tracker.Start(utt.Speaker) {
			b.recorder.SessionStarted()
			slog.Info("session started", "speaker", utt.Speaker)
		} else {
			b.tracker.Touch()
		}
		b.processCaption(ctx, utt)
		return
	}

	// Without a mention, only an open session warrants the intent tier.
	if !snap.Active {
		return
	}
	decision := b.classifier.ShouldRespond(ctx, utt.Text, utt.Speaker, intent.Snapshot{
		AgentName:      b.cfg.DisplayName,
		SessionActive:  snap.Active,
		SessionSpeaker: snap.Speaker,
		Recent:         b.buffer.Lines(recentContextLines),
	})
	if decision.EndOfConversation {
		b.sendClosingReply(ctx)
		b.tracker.End(session.EndReasonFarewell)
		return
	}
	if !decision.Respond {
		slog.Debug("intent tier declined", "speaker", utt.Speaker,
			"confidence", decision.Confidence, "reason", decision.Reason)
		return
	}
	b.tracker.Touch()
	b.processCaption(ctx, utt)
}

// onPendingMentionTimeout fires when a suspected mention never firmed up
// inside the pending window. The utterance is processed as a real mention; a
// spurious answer beats ignoring a participant.
func (b *Bridge) onPendingMentionTimeout(utt caption.Aggregated, pm caption.PendingMention) {
	ctx := b.baseContext()
	slog.Info("unconfirmed mention timed out, answering anyway",
		"speaker", pm.Speaker, "variation", pm.MatchedVariation)

	b.recorder.RecordMention("caption", "pending-timeout")
	if b.metrics != nil {
		b.metrics.RecordMention(ctx, "caption", "pending-timeout")
	}
	if b.tracker.Start(utt.Speaker) {
		b.recorder.SessionStarted()
	}
	b.processCaption(ctx, utt)
}

func (b *Bridge) processCaption(ctx context.Context, utt caption.Aggregated) {
	if err := b.processor.ProcessCaptionMention(ctx, utt.Speaker, utt.Text); err != nil {
		b.logProcessErr("caption", utt.Speaker, err)
	}
}

func (b *Bridge) logProcessErr(source, author string, err error) {
	if errors.Is(err, behavior.ErrBusy) {
		slog.Debug("trigger dropped, already answering", "source", source, "author", author)
		return
	}
	slog.Error("failed to process trigger", "source", source, "author", author, "err", err)
}

// onResponseDisplayed appends every delivered or displayed response to the
// transcript buffer. On a speech-only channel an error-signature response is
// never spoken, so this entry is the only place its text surfaces.
func (b *Bridge) onResponseDisplayed(source behavior.TriggerSource, author, _, response string) {
	b.buffer.Add(caption.Entry{Speaker: b.cfg.DisplayName, Text: response, Timestamp: time.Now()})
	slog.Info("agent response", "source", source, "author", author, "response", response)
}

// sendClosingReply delivers the fixed farewell over the channel the active
// pattern configures for caption mentions.
func (b *Bridge) sendClosingReply(ctx context.Context) {
	b.mu.Lock()
	ch := b.cfg.Pattern.CaptionMention.Channel
	b.mu.Unlock()
	if ch == "" {
		ch = behavior.ChannelBoth
	}

	b.onResponseDisplayed(behavior.SourceCaption, b.tracker.Snapshot().Speaker, "", b.closingReply)
	if ch.Chat() {
		if call := b.currentCall(); call != nil {
			if err := call.SendMessage(ctx, b.closingReply); err != nil {
				slog.Warn("failed to send closing reply", "err", err)
			}
		}
	}
	if ch.Speech() {
		if _, err := b.gate.Speak(ctx, b.closingReply); err != nil {
			slog.Warn("failed to speak closing reply", "err", err)
		}
	}
}

func (b *Bridge) onSessionEnd(string, session.EndReason) {
	b.recorder.SessionEnded()
}

// ResetForMeeting clears all per-meeting state when the meeting identity
// changes. State from one meeting must never leak into the next.
func (b *Bridge) ResetForMeeting(meetingID string) {
	b.mu.Lock()
	previous := b.meetingID
	b.meetingID = meetingID
	if previous == meetingID {
		b.mu.Unlock()
		return
	}
	// Abort any in-flight stage still working for the previous meeting.
	cancel := b.pipeCancel
	b.pipeCtx, b.pipeCancel = context.WithCancel(b.baseCtx)
	b.mu.Unlock()
	cancel()
	if previous != "" {
		slog.Info("meeting identity changed, resetting pipeline",
			"previous", previous, "meeting_id", meetingID)
	}
	b.agg.Reset()
	b.buffer.Reset()
	b.tracker.End(session.EndReasonReset)
	b.processor.Reset()
	b.dedup.reset()
	b.recorder.Reset()
}

// ApplyPattern swaps the active behavior pattern, e.g. on config reload.
func (b *Bridge) ApplyPattern(p behavior.Pattern) error {
	if err := b.processor.SetPattern(p); err != nil {
		return err
	}
	b.mu.Lock()
	b.cfg.Pattern = p
	b.mu.Unlock()
	slog.Info("behavior pattern switched", "pattern", p.ID)
	return nil
}

// ApplyMentionThreshold rebuilds the mention detector with a new fuzzy
// threshold, e.g. on config reload.
func (b *Bridge) ApplyMentionThreshold(threshold float64) error {
	det, err := b.buildDetector(threshold)
	if err != nil {
		return fmt.Errorf("bridge: rebuild mention detector: %w", err)
	}
	b.detMu.Lock()
	b.detector = det
	b.detMu.Unlock()
	slog.Info("mention threshold updated", "threshold", threshold)
	return nil
}

// Approve releases a held controlled-mode response.
func (b *Bridge) Approve(ctx context.Context, id string) error {
	return b.processor.Approve(ctx, id)
}

// Reject discards a held controlled-mode response.
func (b *Bridge) Reject(id string) error { return b.processor.Reject(id) }

// Pending lists responses awaiting approval or hand-lowering.
func (b *Bridge) Pending() []behavior.PendingResponse { return b.processor.Pending() }

// Analytics returns the per-meeting counters.
func (b *Bridge) Analytics() analytics.Summary { return b.recorder.Snapshot() }

// CallActive reports whether a meeting call is currently live.
func (b *Bridge) CallActive() bool { return b.currentCall() != nil }

// Close tears the pipeline down. The meeting call, if still live, is left
// for Run's context cancellation to close.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	cancel := b.pipeCancel
	b.mu.Unlock()
	cancel()
	b.agg.Close()
	b.tracker.Close()
	b.processor.Close()
	if b.agent.Connected() {
		if err := b.agent.Disconnect(ctx); err != nil {
			return fmt.Errorf("bridge: disconnect agent: %w", err)
		}
	}
	return nil
}

func (b *Bridge) baseContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pipeCtx
}

func (b *Bridge) currentCall() meeting.Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.call
}

// callMeeting exposes the live call to the behavior processor.
type callMeeting struct{ b *Bridge }

var _ behavior.Meeting = callMeeting{}

func (m callMeeting) SendMessage(ctx context.Context, text string) error {
	call := m.b.currentCall()
	if call == nil {
		return errNoActiveCall
	}
	return call.SendMessage(ctx, text)
}

func (m callMeeting) RaiseHand(ctx context.Context) error {
	call := m.b.currentCall()
	if call == nil {
		return errNoActiveCall
	}
	return call.RaiseHand(ctx)
}

func (m callMeeting) LowerHand(ctx context.Context) error {
	call := m.b.currentCall()
	if call == nil {
		return errNoActiveCall
	}
	return call.LowerHand(ctx)
}

func mentionKind(res mention.Result) string {
	if res.Fuzzy {
		return "fuzzy"
	}
	return "exact"
}
