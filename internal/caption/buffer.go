package caption

import (
	"sync"
	"time"
)

// Entry is a single utterance stored in the [RecentBuffer].
type Entry struct {
	Speaker   string
	Text      string
	Timestamp time.Time
}

// RecentBuffer keeps a bounded window of recent utterances (captions and
// chat lines). It is the conversational context handed to the LLM tiers of
// mention and intent classification.
//
// The buffer enforces both a maximum entry count and a maximum age; entries
// exceeding either limit are evicted on every [RecentBuffer.Add].
//
// All methods are safe for concurrent use.
type RecentBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
	maxAge  time.Duration
}

// NewRecentBuffer creates a buffer retaining at most maxSize entries and
// evicting entries older than maxAge.
func NewRecentBuffer(maxSize int, maxAge time.Duration) *RecentBuffer {
	return &RecentBuffer{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
		maxAge:  maxAge,
	}
}

// Add appends an entry and evicts anything over the size or age limits.
func (b *RecentBuffer) Add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
	b.evict()
}

// Recent returns up to max entries within the age window, oldest first.
func (b *RecentBuffer) Recent(max int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cutoff := time.Now().Add(-b.maxAge)
	result := make([]Entry, 0, max)
	for i := len(b.entries) - 1; i >= 0 && len(result) < max; i-- {
		if b.entries[i].Timestamp.Before(cutoff) {
			continue
		}
		result = append(result, b.entries[i])
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// Lines returns up to max entries formatted as "Speaker: text", oldest
// first. Convenience for building LLM prompts.
func (b *RecentBuffer) Lines(max int) []string {
	entries := b.Recent(max)
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Speaker + ": " + e.Text
	}
	return lines
}

// Reset discards all entries.
func (b *RecentBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = b.entries[:0]
}

// evict removes entries that are too old or exceed maxSize. Must be called
// with b.mu held. Survivors are copied to a fresh backing array so evicted
// entries do not pin memory for the lifetime of the meeting.
func (b *RecentBuffer) evict() {
	cutoff := time.Now().Add(-b.maxAge)

	start := 0
	for start < len(b.entries) && b.entries[start].Timestamp.Before(cutoff) {
		start++
	}
	keep := b.entries[start:]
	if len(keep) > b.maxSize {
		keep = keep[len(keep)-b.maxSize:]
	}
	if start > 0 || len(keep) < len(b.entries) {
		fresh := make([]Entry, len(keep), b.maxSize)
		copy(fresh, keep)
		b.entries = fresh
	}
}
