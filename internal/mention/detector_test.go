package mention

import (
	"context"
	"errors"
	"testing"

	procmock "github.com/meetbridge/meetbridge/pkg/provider/llmproc/mock"
)

func newDetector(t *testing.T, name string, opts ...Option) *Detector {
	t.Helper()
	d, err := NewDetector(name, opts...)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

func TestDeriveVariations(t *testing.T) {
	t.Parallel()

	d := newDetector(t, "Jenny Smith", WithExtraVariations("Jen"))
	got := d.Variations()

	want := map[string]bool{"jenny smith": true, "jenny": true, "jenny s": true, "jen": true}
	if len(got) != len(want) {
		t.Fatalf("want %d variations, got %d: %v", len(want), len(got), got)
	}
	for _, v := range got {
		if !want[v] {
			t.Fatalf("unexpected variation %q in %v", v, got)
		}
	}
	// Longest first so the most specific variation wins.
	if got[0] != "jenny smith" {
		t.Fatalf("want jenny smith first, got %q", got[0])
	}
}

func TestDetectExact(t *testing.T) {
	t.Parallel()

	d := newDetector(t, "Jenny Smith")

	t.Run("exact containment is never fuzzy", func(t *testing.T) {
		t.Parallel()
		for _, text := range []string{
			"Hey Jenny, what's the weather?",
			"JENNY SMITH please summarise",
			"I think jenny s said it best",
		} {
			res := d.Detect(text)
			if !res.Mentioned {
				t.Fatalf("want mention for %q", text)
			}
			if res.Fuzzy {
				t.Fatalf("want fuzzy=false for exact occurrence in %q", text)
			}
			if res.Confidence != 1 {
				t.Fatalf("want confidence 1, got %v", res.Confidence)
			}
		}
	})

	t.Run("longer variation preferred", func(t *testing.T) {
		t.Parallel()
		res := d.Detect("jenny smith, over to you")
		if res.MatchedVariation != "jenny smith" {
			t.Fatalf("want jenny smith, got %q", res.MatchedVariation)
		}
	})

	t.Run("unrelated text", func(t *testing.T) {
		t.Parallel()
		res := d.Detect("let's review the quarterly numbers")
		if res.Mentioned {
			t.Fatalf("unexpected mention: %+v", res)
		}
	})
}

func TestDetectFuzzy(t *testing.T) {
	t.Parallel()

	d := newDetector(t, "Jenny Smith")

	t.Run("misheard name matches", func(t *testing.T) {
		t.Parallel()
		res := d.Detect("hey genny can you help")
		if !res.Mentioned || !res.Fuzzy {
			t.Fatalf("want fuzzy mention, got %+v", res)
		}
		if res.Confidence < 0.85 {
			t.Fatalf("want confidence >= 0.85, got %v", res.Confidence)
		}
	})

	t.Run("distant word stays below threshold", func(t *testing.T) {
		t.Parallel()
		res := d.Detect("the budget looks wrong")
		if res.Mentioned {
			t.Fatalf("unexpected mention: %+v", res)
		}
	})

	t.Run("threshold is tunable", func(t *testing.T) {
		t.Parallel()
		strict := newDetector(t, "Jenny Smith", WithFuzzyThreshold(0.99))
		if res := strict.Detect("hey genny can you help"); res.Mentioned {
			t.Fatalf("want no mention at threshold 0.99, got %+v", res)
		}
	})
}

func TestDetectHybrid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("exact match skips the LLM", func(t *testing.T) {
		t.Parallel()
		proc := &procmock.Processor{Reply: "no"}
		d := newDetector(t, "Jenny", WithProcessor(proc))
		res := d.DetectHybrid(ctx, "Jenny, are you there?", nil)
		if !res.Mentioned || res.Fuzzy {
			t.Fatalf("want exact mention, got %+v", res)
		}
		if len(proc.Calls()) != 0 {
			t.Fatalf("want 0 LLM calls, got %d", len(proc.Calls()))
		}
	})

	t.Run("ambiguous text escalates and yes confirms", func(t *testing.T) {
		t.Parallel()
		proc := &procmock.Processor{Reply: "yes"}
		d := newDetector(t, "Jenny", WithProcessor(proc))
		res := d.DetectHybrid(ctx, "could the assistant chime in", []string{"earlier caption"})
		if !res.Mentioned {
			t.Fatalf("want mention after LLM yes, got %+v", res)
		}
		if !res.Fuzzy {
			t.Fatalf("want fuzzy=true for LLM-confirmed mention")
		}
		if len(proc.Calls()) != 1 {
			t.Fatalf("want 1 LLM call, got %d", len(proc.Calls()))
		}
	})

	t.Run("LLM error falls back to local result", func(t *testing.T) {
		t.Parallel()
		proc := &procmock.Processor{Err: errors.New("boom")}
		d := newDetector(t, "Jenny", WithProcessor(proc))
		res := d.DetectHybrid(ctx, "unrelated chatter entirely", nil)
		if res.Mentioned {
			t.Fatalf("want no mention on LLM failure, got %+v", res)
		}
	})

	t.Run("no processor behaves like Detect", func(t *testing.T) {
		t.Parallel()
		d := newDetector(t, "Jenny")
		res := d.DetectHybrid(ctx, "unrelated chatter entirely", nil)
		if res.Mentioned {
			t.Fatalf("want no mention, got %+v", res)
		}
	})
}

func TestDetectChat(t *testing.T) {
	t.Parallel()

	d := newDetector(t, "Jenny Smith")

	t.Run("structured mention span", func(t *testing.T) {
		t.Parallel()
		html := `<p>Hi <span itemtype="http://schema.skype.com/Mention" itemid="0">Jenny Smith</span>, thoughts?</p>`
		res := d.DetectChat(html)
		if !res.Mentioned || res.Fuzzy {
			t.Fatalf("want exact mention from span, got %+v", res)
		}
		if res.MatchedVariation != "jenny smith" {
			t.Fatalf("want jenny smith, got %q", res.MatchedVariation)
		}
	})

	t.Run("at-token in plain text", func(t *testing.T) {
		t.Parallel()
		res := d.DetectChat(`<div>@Jenny can you post the link?</div>`)
		if !res.Mentioned {
			t.Fatalf("want mention from @-token, got %+v", res)
		}
	})

	t.Run("plain name without markup", func(t *testing.T) {
		t.Parallel()
		res := d.DetectChat(`<div>jenny should take this one</div>`)
		if !res.Mentioned {
			t.Fatalf("want mention from plain text, got %+v", res)
		}
	})

	t.Run("span naming someone else falls through", func(t *testing.T) {
		t.Parallel()
		html := `<p><span itemtype="http://schema.skype.com/Mention">Alex Chen</span> please review</p>`
		res := d.DetectChat(html)
		if res.Mentioned {
			t.Fatalf("unexpected mention: %+v", res)
		}
	})
}

func TestStripHTML(t *testing.T) {
	t.Parallel()

	got := StripHTML(`<p>Hello&nbsp;<b>world</b> &amp; friends</p>`)
	if got != "Hello world & friends" {
		t.Fatalf("want %q, got %q", "Hello world & friends", got)
	}
}
