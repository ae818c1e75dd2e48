package behavior

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	block   chan struct{}
	calls   int
	lastMsg string
}

func (g *stubGenerator) Generate(ctx context.Context, text, speaker string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.lastMsg = text
	block := g.block
	g.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return g.reply, g.err
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type stubSpeech struct {
	mu     sync.Mutex
	spoken []string
	err    error
}

func (s *stubSpeech) Speak(ctx context.Context, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.spoken = append(s.spoken, text)
	return true, nil
}

func (s *stubSpeech) spokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spoken)
}

type stubMeeting struct {
	mu       sync.Mutex
	messages []string
	raised   int
	lowered  int
}

func (m *stubMeeting) SendMessage(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, text)
	return nil
}

func (m *stubMeeting) RaiseHand(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raised++
	return nil
}

func (m *stubMeeting) LowerHand(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lowered++
	return nil
}

func (m *stubMeeting) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *stubMeeting) raiseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raised
}

func (m *stubMeeting) lowerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lowered
}

func immediatePattern(ch Channel) Pattern {
	return Pattern{
		ID:             "test",
		CaptionMention: TriggerConfig{Enabled: true, Channel: ch, Mode: ModeImmediate},
		ChatMention:    TriggerConfig{Enabled: true, Channel: ChannelChat, Mode: ModeImmediate},
	}
}

func newTestProcessor(t *testing.T, pattern Pattern, gen *stubGenerator, speech *stubSpeech, meeting *stubMeeting, opts ...Option) *Processor {
	t.Helper()
	p, err := NewProcessor(pattern, gen, speech, meeting, opts...)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestImmediateModeBothChannels(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: "It is sunny today."}
	speech := &stubSpeech{}
	meeting := &stubMeeting{}
	p := newTestProcessor(t, immediatePattern(ChannelBoth), gen, speech, meeting)

	var displayed []string
	p.SetOnDisplay(func(source TriggerSource, author, trigger, response string) {
		displayed = append(displayed, response)
	})

	if err := p.ProcessCaptionMention(context.Background(), "Alex", "Hey Jenny, what's the weather?"); err != nil {
		t.Fatalf("ProcessCaptionMention: %v", err)
	}

	if got := meeting.sent(); len(got) != 1 || got[0] != "It is sunny today." {
		t.Fatalf("want one chat message, got %v", got)
	}
	if speech.spokenCount() != 1 {
		t.Fatalf("want response spoken once, got %d", speech.spokenCount())
	}
	if len(displayed) != 1 {
		t.Fatalf("want one display callback, got %d", len(displayed))
	}
	if len(p.Pending()) != 0 {
		t.Fatal("immediate mode must not create a pending record")
	}
}

func TestErrorContentNeverSpoken(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{reply: "The service hit a rate limit, try again later."}
	speech := &stubSpeech{}
	meeting := &stubMeeting{}
	p := newTestProcessor(t, immediatePattern(ChannelBoth), gen, speech, meeting)

	var displayed []string
	p.SetOnDisplay(func(source TriggerSource, author, trigger, response string) {
		displayed = append(displayed, response)
	})

	if err := p.ProcessCaptionMention(context.Background(), "Alex", "Jenny, summarize"); err != nil {
		t.Fatalf("ProcessCaptionMention: %v", err)
	}

	if speech.spokenCount() != 0 {
		t.Fatalf("error text must never be spoken, got %v", speech.spoken)
	}
	if len(displayed) != 1 {
		t.Fatal("error text must still be displayed")
	}
	if len(meeting.sent()) != 1 {
		t.Fatal("error text still goes to chat")
	}
}

func TestSingleInFlightDropsSecondTrigger(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	gen := &stubGenerator{reply: "answer", block: block}
	meeting := &stubMeeting{}
	p := newTestProcessor(t, immediatePattern(ChannelChat), gen, nil, meeting)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- p.ProcessCaptionMention(context.Background(), "Alex", "Jenny, first question")
	}()

	// Wait until the first trigger holds the in-flight slot.
	deadline := time.After(2 * time.Second)
	for gen.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first trigger never reached the generator")
		case <-time.After(time.Millisecond):
		}
	}

	err := p.ProcessCaptionMention(context.Background(), "Blair", "Jenny, second question")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy for concurrent trigger, got %v", err)
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first trigger failed: %v", err)
	}
	if gen.callCount() != 1 {
		t.Fatalf("second trigger must not reach the generator, got %d calls", gen.callCount())
	}
}

func TestControlledApproveAndReject(t *testing.T) {
	t.Parallel()

	pattern := Pattern{
		ID: "test",
		CaptionMention: TriggerConfig{
			Enabled: true,
			Channel: ChannelChat,
			Mode:    ModeControlled,
		},
	}
	gen := &stubGenerator{reply: "held answer"}
	meeting := &stubMeeting{}
	p := newTestProcessor(t, pattern, gen, nil, meeting)

	var mu sync.Mutex
	var statuses []Status
	p.SetOnPending(func(rec PendingResponse) {
		mu.Lock()
		statuses = append(statuses, rec.Status)
		mu.Unlock()
	})

	if err := p.ProcessCaptionMention(context.Background(), "Alex", "Jenny, draft a reply"); err != nil {
		t.Fatalf("ProcessCaptionMention: %v", err)
	}
	if len(meeting.sent()) != 0 {
		t.Fatal("controlled mode must not deliver before approval")
	}

	held := p.Pending()
	if len(held) != 1 || held[0].Status != StatusPending {
		t.Fatalf("want one pending record, got %+v", held)
	}

	if err := p.Approve(context.Background(), held[0].ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got := meeting.sent(); len(got) != 1 || got[0] != "held answer" {
		t.Fatalf("want delivery after approval, got %v", got)
	}
	if len(p.Pending()) != 0 {
		t.Fatal("approved record must leave the queue")
	}

	mu.Lock()
	final := statuses[len(statuses)-1]
	mu.Unlock()
	if final != StatusSent {
		t.Fatalf("want final status sent, got %s", final)
	}

	// Reject path.
	if err := p.ProcessCaptionMention(context.Background(), "Alex", "Jenny, another one"); err != nil {
		t.Fatalf("ProcessCaptionMention: %v", err)
	}
	held = p.Pending()
	if err := p.Reject(held[0].ID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if len(meeting.sent()) != 1 {
		t.Fatal("rejected response must not be delivered")
	}
	if err := p.Approve(context.Background(), held[0].ID); !errors.Is(err, ErrUnknownResponse) {
		t.Fatalf("want ErrUnknownResponse after rejection, got %v", err)
	}
}

func TestQueuedModeDeliversOnHandLowered(t *testing.T) {
	t.Parallel()

	pattern := Pattern{
		ID: "test",
		CaptionMention: TriggerConfig{
			Enabled: true,
			Channel: ChannelChat,
			Mode:    ModeQueued,
			Queued:  &QueuedOptions{AutoRaiseHand: true},
		},
	}
	gen := &stubGenerator{reply: "queued answer"}
	meeting := &stubMeeting{}
	p := newTestProcessor(t, pattern, gen, nil, meeting)

	if err := p.ProcessCaptionMention(context.Background(), "Alex", "Jenny, when you get a chance"); err != nil {
		t.Fatalf("ProcessCaptionMention: %v", err)
	}

	if meeting.raiseCount() != 1 {
		t.Fatalf("want exactly one raiseHand call, got %d", meeting.raiseCount())
	}
	if len(meeting.sent()) != 0 {
		t.Fatal("queued response must not be delivered before acknowledgment")
	}

	p.OnHandRaisedChanged(context.Background(), false)

	if got := meeting.sent(); len(got) != 1 || got[0] != "queued answer" {
		t.Fatalf("want exactly one delivery after hand lowered, got %v", got)
	}

	// A second lowered event must not redeliver.
	p.OnHandRaisedChanged(context.Background(), false)
	if len(meeting.sent()) != 1 {
		t.Fatalf("want no redelivery, got %v", meeting.sent())
	}
}

func TestQueuedModeLowersHandAfterDelivery(t *testing.T) {
	t.Parallel()

	pattern := Pattern{
		ID: "test",
		CaptionMention: TriggerConfig{
			Enabled: true,
			Channel: ChannelChat,
			Mode:    ModeQueued,
			Queued:  &QueuedOptions{AutoRaiseHand: true, LowerHandAfter: true},
		},
	}
	gen := &stubGenerator{reply: "queued answer"}
	meeting := &stubMeeting{}
	p := newTestProcessor(t, pattern, gen, nil, meeting)

	if err := p.ProcessCaptionMention(context.Background(), "Alex", "Jenny, when you can"); err != nil {
		t.Fatalf("ProcessCaptionMention: %v", err)
	}
	held := p.Pending()
	if len(held) != 1 {
		t.Fatalf("want one queued record, got %d", len(held))
	}

	// An operator releasing the record while the hand is still up delivers
	// and drops the hand.
	if err := p.Approve(context.Background(), held[0].ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if len(meeting.sent()) != 1 {
		t.Fatalf("want delivery after release, got %v", meeting.sent())
	}
	if meeting.lowerCount() != 1 {
		t.Fatalf("want the hand lowered once after delivery, got %d", meeting.lowerCount())
	}
}

func TestQueuedModeKeepsHandWhenConfigured(t *testing.T) {
	t.Parallel()

	pattern := Pattern{
		ID: "test",
		CaptionMention: TriggerConfig{
			Enabled: true,
			Channel: ChannelChat,
			Mode:    ModeQueued,
			Queued:  &QueuedOptions{AutoRaiseHand: true, LowerHandAfter: false},
		},
	}
	gen := &stubGenerator{reply: "queued answer"}
	meeting := &stubMeeting{}
	p := newTestProcessor(t, pattern, gen, nil, meeting)

	if err := p.ProcessCaptionMention(context.Background(), "Alex", "Jenny, when you can"); err != nil {
		t.Fatalf("ProcessCaptionMention: %v", err)
	}
	held := p.Pending()
	if len(held) != 1 {
		t.Fatalf("want one queued record, got %d", len(held))
	}

	if err := p.Approve(context.Background(), held[0].ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if len(meeting.sent()) != 1 {
		t.Fatalf("want delivery after release, got %v", meeting.sent())
	}
	if meeting.lowerCount() != 0 {
		t.Fatalf("lower_hand_after=false must leave the hand up, got %d lowers", meeting.lowerCount())
	}
}

func TestDisabledTriggerIsNoOp(t *testing.T) {
	t.Parallel()

	pattern := Pattern{
		ID:             "test",
		CaptionMention: TriggerConfig{Enabled: false},
		ChatMention:    TriggerConfig{Enabled: true, Channel: ChannelChat, Mode: ModeImmediate},
	}
	gen := &stubGenerator{reply: "should not appear"}
	meeting := &stubMeeting{}
	p := newTestProcessor(t, pattern, gen, nil, meeting)

	if err := p.ProcessCaptionMention(context.Background(), "Alex", "Jenny?"); err != nil {
		t.Fatalf("ProcessCaptionMention: %v", err)
	}
	if gen.callCount() != 0 {
		t.Fatal("disabled trigger must not invoke the generator")
	}
	if len(meeting.sent()) != 0 {
		t.Fatal("disabled trigger must not deliver")
	}
}

func TestJanitorDismissesStaleRecords(t *testing.T) {
	t.Parallel()

	pattern := Pattern{
		ID: "test",
		CaptionMention: TriggerConfig{
			Enabled: true,
			Channel: ChannelChat,
			Mode:    ModeControlled,
		},
	}
	gen := &stubGenerator{reply: "stale answer"}
	meeting := &stubMeeting{}
	p := newTestProcessor(t, pattern, gen, nil, meeting)

	if err := p.ProcessCaptionMention(context.Background(), "Alex", "Jenny, hold this"); err != nil {
		t.Fatalf("ProcessCaptionMention: %v", err)
	}

	var mu sync.Mutex
	var dismissed bool
	p.SetOnPending(func(rec PendingResponse) {
		mu.Lock()
		if rec.Status == StatusDismissed {
			dismissed = true
		}
		mu.Unlock()
	})

	p.sweep(time.Now().Add(time.Hour))

	mu.Lock()
	got := dismissed
	mu.Unlock()
	if !got {
		t.Fatal("janitor never dismissed the stale record")
	}
	if len(p.Pending()) != 0 {
		t.Fatal("dismissed record still held")
	}
}

func TestResetClearsState(t *testing.T) {
	t.Parallel()

	pattern := Pattern{
		ID: "test",
		CaptionMention: TriggerConfig{
			Enabled: true,
			Channel: ChannelChat,
			Mode:    ModeQueued,
		},
	}
	gen := &stubGenerator{reply: "leftover"}
	meeting := &stubMeeting{}
	p := newTestProcessor(t, pattern, gen, nil, meeting)

	if err := p.ProcessCaptionMention(context.Background(), "Alex", "Jenny, queue this"); err != nil {
		t.Fatalf("ProcessCaptionMention: %v", err)
	}
	if len(p.Pending()) != 1 {
		t.Fatal("expected a held record before reset")
	}

	p.Reset()

	if len(p.Pending()) != 0 {
		t.Fatal("reset must drop held records")
	}
	p.OnHandRaisedChanged(context.Background(), false)
	if len(meeting.sent()) != 0 {
		t.Fatal("records dismissed by reset must never deliver")
	}
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusSent, false},
		{StatusHandRaised, StatusSending, true},
		{StatusHandRaised, StatusApproved, false},
		{StatusApproved, StatusSending, true},
		{StatusSending, StatusSent, true},
		{StatusSending, StatusFailed, true},
		{StatusSent, StatusSending, false},
		{StatusRejected, StatusApproved, false},
	}
	for _, tc := range cases {
		if got := canTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}
