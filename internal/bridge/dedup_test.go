package bridge

import (
	"testing"
	"time"
)

func TestDedupDropsRepeatWithinWindow(t *testing.T) {
	t.Parallel()

	d := newDedupWindow(2 * time.Second)
	ts := time.Now()

	if !d.observe("caption", "hello team", ts) {
		t.Fatal("first event must be observed as new")
	}
	if d.observe("caption", "hello team", ts.Add(100*time.Millisecond)) {
		t.Fatal("repeat inside the window must be dropped")
	}
	if !d.observe("caption", "hello team", ts.Add(10*time.Second)) {
		t.Fatal("repeat outside the window must be accepted")
	}
}

func TestDedupKeysIncludeRole(t *testing.T) {
	t.Parallel()

	d := newDedupWindow(2 * time.Second)
	ts := time.Now()

	if !d.observe("caption", "hello", ts) {
		t.Fatal("caption event must be new")
	}
	if !d.observe("chat", "hello", ts) {
		t.Fatal("chat event with the same text must be tracked separately")
	}
}

func TestDedupReset(t *testing.T) {
	t.Parallel()

	d := newDedupWindow(2 * time.Second)
	ts := time.Now()
	d.observe("caption", "hello", ts)
	d.reset()
	if !d.observe("caption", "hello", ts) {
		t.Fatal("reset must forget observed events")
	}
}
