package behavior

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/meetbridge/meetbridge/internal/mention"
)

// defaultPendingTTL dismisses undecided held responses after this long.
const defaultPendingTTL = 10 * time.Minute

// ErrBusy is returned when a trigger arrives while another response is
// already being generated. The trigger is dropped, never queued.
var ErrBusy = errors.New("behavior: response already in flight")

// ErrUnknownResponse is returned for Approve/Reject of an id that is not
// held (expired, already decided, or never existed).
var ErrUnknownResponse = errors.New("behavior: unknown pending response")

// Generator produces the agent's reply to a trigger.
type Generator interface {
	Generate(ctx context.Context, text, speaker string) (string, error)
}

// Speech synthesizes a response into the meeting audio.
type Speech interface {
	Speak(ctx context.Context, text string) (bool, error)
}

// Meeting is the slice of the meeting provider the processor drives.
type Meeting interface {
	SendMessage(ctx context.Context, text string) error
	RaiseHand(ctx context.Context) error
	LowerHand(ctx context.Context) error
}

// Analytics receives fire-and-forget usage events.
type Analytics interface {
	RecordQuestion(source, author string)
	RecordResponse(source string, channel Channel, mode Mode)
	RecordDroppedTrigger(source string)
}

// MentionChecker answers whether free text addresses the agent.
type MentionChecker interface {
	Detect(text string) mention.Result
}

// errorSignatures mark generator output that is an error message rather than
// an answer. Such text is shown in the conversation log and in chat but must
// never be read aloud to meeting participants.
var errorSignatures = []string{
	"error code:",
	"content filtered",
	"rate limit",
	"too many requests",
	"service unavailable",
	"request timed out",
}

// looksLikeError reports whether text carries a known error signature.
func looksLikeError(text string) bool {
	lower := strings.ToLower(text)
	for _, sig := range errorSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// Option configures a [Processor].
type Option func(*Processor)

// WithPendingTTL overrides how long undecided responses are held before the
// janitor dismisses them. Default: 10m.
func WithPendingTTL(d time.Duration) Option {
	return func(p *Processor) { p.pendingTTL = d }
}

// WithAnalytics attaches a usage recorder.
func WithAnalytics(a Analytics) Option {
	return func(p *Processor) { p.analytics = a }
}

// WithMentionChecker attaches the detector that IsMentionOfAgent delegates
// to.
func WithMentionChecker(mc MentionChecker) Option {
	return func(p *Processor) { p.checker = mc }
}

// Processor applies the active behaviour pattern to triggers: it generates a
// response and either delivers it, holds it for approval, or queues it
// behind a raised hand. At most one response is generated at a time; a
// trigger arriving mid-generation is dropped with [ErrBusy].
type Processor struct {
	gen        Generator
	speech     Speech
	meeting    Meeting
	analytics  Analytics
	checker    MentionChecker
	pendingTTL time.Duration

	// onPending is invoked (without locks held) whenever a held response is
	// created or changes status.
	onPending func(PendingResponse)

	// onDisplay receives every delivered or displayed response for the
	// conversation log, including error-signature text that is not spoken.
	onDisplay func(source TriggerSource, author, trigger, response string)

	mu         sync.Mutex
	pattern    Pattern
	pending    map[string]*PendingResponse
	inFlight   bool
	handRaised bool

	janitorStop chan struct{}
	janitorDone chan struct{}
	closeOnce   sync.Once
}

// NewProcessor creates a Processor with the given pattern and dependencies.
// speech may be nil when no speech provider is configured; chat-only
// channels still work.
func NewProcessor(pattern Pattern, gen Generator, speech Speech, meeting Meeting, opts ...Option) (*Processor, error) {
	if gen == nil {
		return nil, errors.New("behavior: generator is required")
	}
	if meeting == nil {
		return nil, errors.New("behavior: meeting provider is required")
	}
	if err := pattern.Validate("pattern"); err != nil {
		return nil, err
	}
	p := &Processor{
		gen:         gen,
		speech:      speech,
		meeting:     meeting,
		pattern:     pattern,
		pendingTTL:  defaultPendingTTL,
		pending:     make(map[string]*PendingResponse),
		janitorStop: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	go p.janitor()
	return p, nil
}

// SetOnPending registers the held-response callback. Call before the first
// trigger.
func (p *Processor) SetOnPending(fn func(PendingResponse)) { p.onPending = fn }

// SetOnDisplay registers the conversation-log callback. Call before the
// first trigger.
func (p *Processor) SetOnDisplay(fn func(source TriggerSource, author, trigger, response string)) {
	p.onDisplay = fn
}

// SetPattern swaps the active pattern. Held responses keep the mode and
// channel they were created with.
func (p *Processor) SetPattern(pattern Pattern) error {
	if err := pattern.Validate("pattern"); err != nil {
		return err
	}
	p.mu.Lock()
	p.pattern = pattern
	p.mu.Unlock()
	return nil
}

// IsMentionOfAgent reports whether text addresses the agent, delegating to
// the configured detector. Without a detector it reports false.
func (p *Processor) IsMentionOfAgent(text string) bool {
	if p.checker == nil {
		return false
	}
	return p.checker.Detect(text).Mentioned
}

// ProcessCaptionMention handles a spoken trigger that mentioned the agent.
func (p *Processor) ProcessCaptionMention(ctx context.Context, speaker, text string) error {
	p.mu.Lock()
	cfg := p.pattern.CaptionMention
	p.mu.Unlock()
	return p.process(ctx, SourceCaption, speaker, text, cfg)
}

// ProcessChatMention handles a chat message that mentioned the agent.
func (p *Processor) ProcessChatMention(ctx context.Context, author, text string) error {
	p.mu.Lock()
	cfg := p.pattern.ChatMention
	p.mu.Unlock()
	return p.process(ctx, SourceChat, author, text, cfg)
}

func (p *Processor) process(ctx context.Context, source TriggerSource, author, text string, cfg TriggerConfig) error {
	if !cfg.Enabled {
		slog.Debug("trigger ignored, source disabled", "source", source, "author", author)
		return nil
	}
	if cfg.Channel == "" {
		cfg.Channel = ChannelBoth
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeImmediate
	}

	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		slog.Warn("trigger dropped, response already in flight", "source", source, "author", author)
		if p.analytics != nil {
			p.analytics.RecordDroppedTrigger(string(source))
		}
		return ErrBusy
	}
	p.inFlight = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	if p.analytics != nil {
		p.analytics.RecordQuestion(string(source), author)
	}

	response, err := p.gen.Generate(ctx, text, author)
	if err != nil {
		return fmt.Errorf("behavior: generate response: %w", err)
	}
	if strings.TrimSpace(response) == "" {
		slog.Debug("generator returned empty response", "source", source)
		return nil
	}

	switch cfg.Mode {
	case ModeControlled:
		return p.hold(ctx, source, author, text, response, cfg)
	case ModeQueued:
		return p.queue(ctx, source, author, text, response, cfg)
	default:
		if err := p.deliver(ctx, source, author, text, response, cfg.Channel); err != nil {
			return err
		}
		if p.analytics != nil {
			p.analytics.RecordResponse(string(source), cfg.Channel, cfg.Mode)
		}
		return nil
	}
}

// deliver sends the response over the configured channel. Error-signature
// text goes to the log and chat but is never spoken.
func (p *Processor) deliver(ctx context.Context, source TriggerSource, author, trigger, response string, ch Channel) error {
	if p.onDisplay != nil {
		p.onDisplay(source, author, trigger, response)
	}

	var errs []error
	if ch.Chat() {
		if err := p.meeting.SendMessage(ctx, response); err != nil {
			errs = append(errs, fmt.Errorf("send chat: %w", err))
		}
	}
	if ch.Speech() && p.speech != nil {
		if looksLikeError(response) {
			slog.Warn("response looks like an error message, not speaking it", "source", source)
		} else if _, err := p.speech.Speak(ctx, response); err != nil {
			errs = append(errs, fmt.Errorf("speak: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("behavior: deliver response: %w", errors.Join(errs...))
	}
	return nil
}

// hold creates a controlled-mode record and emits it for approval.
func (p *Processor) hold(ctx context.Context, source TriggerSource, author, trigger, response string, cfg TriggerConfig) error {
	rec := newPendingResponse(source, author, trigger, response, cfg)

	p.mu.Lock()
	p.pending[rec.ID] = rec
	snapshot := *rec
	p.mu.Unlock()

	slog.Info("response held for approval", "id", rec.ID, "source", source, "author", author)
	p.emitPending(snapshot)

	if cfg.Controlled != nil && cfg.Controlled.NotifyChat {
		if err := p.meeting.SendMessage(ctx, "I have a response ready, waiting for approval."); err != nil {
			slog.Warn("approval notice failed", "error", err)
		}
	}
	return nil
}

// queue creates a queued-mode record and raises the meeting hand once.
func (p *Processor) queue(ctx context.Context, source TriggerSource, author, trigger, response string, cfg TriggerConfig) error {
	rec := newPendingResponse(source, author, trigger, response, cfg)

	p.mu.Lock()
	p.pending[rec.ID] = rec
	raise := !p.handRaised && (cfg.Queued == nil || cfg.Queued.AutoRaiseHand)
	if raise {
		p.handRaised = true
	}
	snapshot := *rec
	p.mu.Unlock()

	slog.Info("response queued behind raised hand", "id", rec.ID, "source", source, "author", author)
	p.emitPending(snapshot)

	if raise {
		if err := p.meeting.RaiseHand(ctx); err != nil {
			p.mu.Lock()
			p.handRaised = false
			p.mu.Unlock()
			return fmt.Errorf("behavior: raise hand: %w", err)
		}
	}
	return nil
}

// Approve releases a held response for delivery.
func (p *Processor) Approve(ctx context.Context, id string) error {
	p.mu.Lock()
	rec, ok := p.pending[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownResponse, id)
	}
	if rec.Status == StatusPending {
		if err := rec.transition(StatusApproved); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	if err := rec.transition(StatusSending); err != nil {
		p.mu.Unlock()
		return err
	}
	snapshot := *rec
	p.mu.Unlock()

	p.emitPending(snapshot)
	return p.finishDelivery(ctx, rec)
}

// Reject discards a held response without delivering it.
func (p *Processor) Reject(id string) error {
	p.mu.Lock()
	rec, ok := p.pending[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownResponse, id)
	}
	if err := rec.transition(StatusRejected); err != nil {
		p.mu.Unlock()
		return err
	}
	delete(p.pending, id)
	snapshot := *rec
	p.mu.Unlock()

	slog.Info("response rejected", "id", id)
	p.emitPending(snapshot)
	return nil
}

// OnHandRaisedChanged reconciles local queued state with the meeting's
// actual hand state. A transition to lowered — whether by the host or by the
// agent — releases every hand-raised record for delivery.
func (p *Processor) OnHandRaisedChanged(ctx context.Context, raised bool) {
	p.mu.Lock()
	p.handRaised = raised
	if raised {
		p.mu.Unlock()
		return
	}
	var due []*PendingResponse
	for _, rec := range p.pending {
		if rec.Status == StatusHandRaised {
			if err := rec.transition(StatusSending); err != nil {
				slog.Warn("queued response in unexpected state", "id", rec.ID, "error", err)
				continue
			}
			due = append(due, rec)
		}
	}
	p.mu.Unlock()

	for _, rec := range due {
		p.emitPending(*rec)
		if err := p.finishDelivery(ctx, rec); err != nil {
			slog.Error("queued delivery failed", "id", rec.ID, "error", err)
		}
	}
}

// finishDelivery delivers a record in StatusSending and records the outcome.
func (p *Processor) finishDelivery(ctx context.Context, rec *PendingResponse) error {
	err := p.deliver(ctx, rec.Source, rec.Author, rec.Trigger, rec.Response, rec.Channel)

	p.mu.Lock()
	if err != nil {
		rec.Error = err.Error()
		_ = rec.transition(StatusFailed)
	} else {
		_ = rec.transition(StatusSent)
	}
	delete(p.pending, rec.ID)
	snapshot := *rec
	lowerAfter := err == nil && rec.Mode == ModeQueued && rec.LowerHandAfter &&
		p.handRaised && p.countHandRaisedLocked() == 0
	if lowerAfter {
		p.handRaised = false
	}
	p.mu.Unlock()

	p.emitPending(snapshot)
	if err != nil {
		return err
	}
	if p.analytics != nil {
		p.analytics.RecordResponse(string(rec.Source), rec.Channel, rec.Mode)
	}
	if lowerAfter {
		if lerr := p.meeting.LowerHand(ctx); lerr != nil {
			slog.Warn("lower hand failed", "error", lerr)
		}
	}
	return nil
}

// Pending returns a snapshot of every held response, newest first not
// guaranteed.
func (p *Processor) Pending() []PendingResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingResponse, 0, len(p.pending))
	for _, rec := range p.pending {
		out = append(out, *rec)
	}
	return out
}

// Reset dismisses every held response and clears the hand state. Used when
// the meeting identity changes.
func (p *Processor) Reset() {
	p.mu.Lock()
	var dismissed []PendingResponse
	for id, rec := range p.pending {
		if err := rec.transition(StatusDismissed); err == nil {
			dismissed = append(dismissed, *rec)
		}
		delete(p.pending, id)
	}
	p.inFlight = false
	p.handRaised = false
	p.mu.Unlock()

	for _, snap := range dismissed {
		p.emitPending(snap)
	}
	if len(dismissed) > 0 {
		slog.Info("held responses dismissed on reset", "count", len(dismissed))
	}
}

// Close stops the janitor. Held responses are dropped.
func (p *Processor) Close() {
	p.closeOnce.Do(func() {
		close(p.janitorStop)
		<-p.janitorDone
	})
}

func (p *Processor) emitPending(snap PendingResponse) {
	if p.onPending != nil {
		p.onPending(snap)
	}
}

func (p *Processor) countHandRaisedLocked() int {
	n := 0
	for _, rec := range p.pending {
		if rec.Status == StatusHandRaised {
			n++
		}
	}
	return n
}

// janitor dismisses undecided responses that outlived the TTL.
func (p *Processor) janitor() {
	defer close(p.janitorDone)
	interval := p.pendingTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.janitorStop:
			return
		case now := <-ticker.C:
			p.sweep(now)
		}
	}
}

func (p *Processor) sweep(now time.Time) {
	p.mu.Lock()
	var dismissed []PendingResponse
	for id, rec := range p.pending {
		if rec.Status.Terminal() || rec.Status == StatusSending {
			continue
		}
		if now.Sub(rec.CreatedAt) < p.pendingTTL {
			continue
		}
		if err := rec.transition(StatusDismissed); err != nil {
			continue
		}
		delete(p.pending, id)
		dismissed = append(dismissed, *rec)
	}
	p.mu.Unlock()

	for _, snap := range dismissed {
		slog.Info("held response expired", "id", snap.ID, "age", now.Sub(snap.CreatedAt))
		p.emitPending(snap)
	}
}
