package bridge

import (
	"fmt"
	"sync"
	"time"
)

// dedupWindow drops repeated transcript events. Flaky upstream callbacks can
// deliver the same logical caption or chat message twice; entries are keyed
// by role, text, and the timestamp rounded to the window so near-simultaneous
// duplicates collapse onto one key.
type dedupWindow struct {
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func newDedupWindow(window time.Duration) *dedupWindow {
	if window <= 0 {
		window = 2 * time.Second
	}
	return &dedupWindow{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// observe reports whether the event is new and records it. Duplicate events
// inside the window return false.
func (d *dedupWindow) observe(role, text string, ts time.Time) bool {
	key := fmt.Sprintf("%s|%s|%d", role, text, ts.Round(d.window).Unix())

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.seen[key]; dup {
		return false
	}
	d.seen[key] = ts

	// Prune entries old enough to never collide again.
	cutoff := ts.Add(-2 * d.window)
	for k, seenAt := range d.seen {
		if seenAt.Before(cutoff) {
			delete(d.seen, k)
		}
	}
	return true
}

// reset forgets all observed events.
func (d *dedupWindow) reset() {
	d.mu.Lock()
	d.seen = make(map[string]time.Time)
	d.mu.Unlock()
}
