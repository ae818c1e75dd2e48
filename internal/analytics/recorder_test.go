package analytics

import (
	"sync"
	"testing"

	"github.com/meetbridge/meetbridge/internal/behavior"
)

func TestRecorderCounts(t *testing.T) {
	t.Parallel()

	r := NewRecorder(nil)

	r.RecordQuestion("caption", "Alex")
	r.RecordQuestion("chat", "Blair")
	r.RecordResponse("caption", behavior.ChannelBoth, behavior.ModeImmediate)
	r.RecordMention("caption", "exact")
	r.RecordDroppedTrigger("caption")
	r.SessionStarted()

	s := r.Snapshot()
	if s.Questions != 2 || s.Responses != 1 || s.Mentions != 1 || s.DroppedTriggers != 1 || s.Sessions != 1 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

func TestRecorderReset(t *testing.T) {
	t.Parallel()

	r := NewRecorder(nil)
	r.RecordQuestion("caption", "Alex")
	r.Reset()

	if s := r.Snapshot(); s.Questions != 0 {
		t.Fatalf("reset did not zero counters: %+v", s)
	}
}

func TestRecorderConcurrent(t *testing.T) {
	t.Parallel()

	r := NewRecorder(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordQuestion("caption", "Alex")
			r.RecordResponse("caption", behavior.ChannelChat, behavior.ModeQueued)
		}()
	}
	wg.Wait()

	s := r.Snapshot()
	if s.Questions != 50 || s.Responses != 50 {
		t.Fatalf("want 50/50, got %+v", s)
	}
}
