// Package mention decides whether a fragment of speech or chat text
// names or addresses the agent.
//
// Detection proceeds through three tiers:
//
//  1. Exact match: case-insensitive containment of the configured display
//     name or any precomputed name variation (first name, first name plus
//     last-initial, and operator-supplied extras).
//
//  2. Fuzzy match: Double Metaphone phonetic candidate filtering combined
//     with Jaro-Winkler similarity over the caption's word n-grams. A match
//     carries a confidence score; the acceptance threshold is configurable
//     (default 0.85).
//
//  3. LLM escalation: when a processor is configured and the local result is
//     absent or below the threshold, [Detector.DetectHybrid] asks the model
//     using the last few captions as context. Escalation failures fall back
//     to the local result — never to an error.
package mention

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/meetbridge/meetbridge/pkg/provider/llmproc"
)

const (
	// defaultFuzzyThreshold is the minimum Jaro-Winkler score required for a
	// fuzzy match to count as a mention. Tunable via [WithFuzzyThreshold].
	defaultFuzzyThreshold = 0.85

	// maxNGram bounds the candidate window scanned for fuzzy matches.
	// Name variations are at most two words, so trigrams add nothing.
	maxNGram = 2
)

// Result is the outcome of a mention check.
type Result struct {
	// Mentioned reports whether the text references the agent.
	Mentioned bool

	// MatchedVariation is the name variation that matched, when Mentioned.
	MatchedVariation string

	// Fuzzy is true when the match came from phonetic/similarity scoring or
	// LLM escalation rather than exact containment.
	Fuzzy bool

	// Confidence is 1.0 for exact matches and the similarity score otherwise.
	Confidence float64
}

// Option configures a [Detector] during construction.
type Option func(*Detector)

// WithFuzzyThreshold sets the minimum similarity score for fuzzy matches and
// the confidence below which hybrid detection escalates to the LLM.
// Default: 0.85.
func WithFuzzyThreshold(t float64) Option {
	return func(d *Detector) { d.fuzzyThreshold = t }
}

// WithExtraVariations adds operator-supplied name variations (nicknames,
// alternate spellings) to the derived set.
func WithExtraVariations(vs ...string) Option {
	return func(d *Detector) { d.extra = append(d.extra, vs...) }
}

// WithProcessor enables LLM-assisted hybrid detection for ambiguous cases.
func WithProcessor(p llmproc.Processor) Option {
	return func(d *Detector) { d.proc = p }
}

// Detector checks text for references to a single configured agent name.
// It is read-only after construction and safe for concurrent use.
type Detector struct {
	displayName    string
	extra          []string
	variations     []string // lowercase, sorted by descending length
	fuzzyThreshold float64
	proc           llmproc.Processor
}

// NewDetector builds a Detector for the given agent display name.
// Returns an error if displayName is blank.
func NewDetector(displayName string, opts ...Option) (*Detector, error) {
	if strings.TrimSpace(displayName) == "" {
		return nil, fmt.Errorf("mention: displayName must not be empty")
	}
	d := &Detector{
		displayName:    displayName,
		fuzzyThreshold: defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(d)
	}
	d.variations = deriveVariations(displayName, d.extra)
	return d, nil
}

// Variations returns the lowercase name variations the detector scans for,
// sorted by descending length.
func (d *Detector) Variations() []string {
	return slices.Clone(d.variations)
}

// Detect reports whether text mentions the agent using the local tiers only
// (exact containment, then fuzzy similarity). It never calls the LLM.
//
// For any text containing an exact case-insensitive occurrence of a name
// variation, the result has Fuzzy=false and Confidence=1.
func (d *Detector) Detect(text string) Result {
	lower := strings.ToLower(text)

	// Tier 1: exact containment. Variations are pre-sorted longest-first so
	// "jenny smith" wins over "jenny" when both occur.
	for _, v := range d.variations {
		if strings.Contains(lower, v) {
			return Result{Mentioned: true, MatchedVariation: v, Confidence: 1}
		}
	}

	// Tier 2: fuzzy. Scan word n-grams against every variation.
	variation, score := d.bestFuzzy(lower)
	if score >= d.fuzzyThreshold {
		return Result{Mentioned: true, MatchedVariation: variation, Fuzzy: true, Confidence: score}
	}

	// Below threshold: report the best score so callers can decide whether
	// the text is worth escalating or holding as a pending mention.
	return Result{Fuzzy: score > 0, Confidence: score}
}

// DetectHybrid runs Detect and, when the local result is ambiguous and a
// processor is configured, escalates to an LLM classification using
// recentContext (most recent last) as conversational context.
//
// On escalation failure the local result is returned unchanged.
func (d *Detector) DetectHybrid(ctx context.Context, text string, recentContext []string) Result {
	local := d.Detect(text)

	// Exact hits and confident fuzzy hits never need escalation; without a
	// processor the local result is all we have.
	if d.proc == nil || (local.Mentioned && !local.Fuzzy) || local.Confidence >= d.fuzzyThreshold {
		return local
	}

	verdict, err := d.proc.Classify(ctx, hybridSystemPrompt, d.hybridPrompt(text, recentContext))
	if err != nil {
		slog.Warn("mention: hybrid escalation failed, using local result",
			"err", err, "local_confidence", local.Confidence)
		return local
	}

	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(verdict)), "yes") {
		confidence := local.Confidence
		if confidence < d.fuzzyThreshold {
			confidence = d.fuzzyThreshold
		}
		return Result{
			Mentioned:        true,
			MatchedVariation: d.variations[0],
			Fuzzy:            true,
			Confidence:       confidence,
		}
	}
	return Result{Fuzzy: local.Fuzzy, Confidence: local.Confidence}
}

const hybridSystemPrompt = `You decide whether a meeting participant is addressing an AI assistant by name. ` +
	`Captions are auto-transcribed and may garble the name. Answer with exactly "yes" or "no".`

func (d *Detector) hybridPrompt(text string, recent []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assistant name: %s\n", d.displayName)
	if len(recent) > 0 {
		b.WriteString("Recent captions:\n")
		for _, r := range recent {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	fmt.Fprintf(&b, "Caption to judge: %q\nIs the speaker addressing %s?", text, d.displayName)
	return b.String()
}

// bestFuzzy returns the best-matching variation and its similarity score for
// the given lowercase text. Candidates are unigrams and bigrams of the text;
// each is scored against every variation using phonetic filtering plus
// Jaro-Winkler ranking.
func (d *Detector) bestFuzzy(lower string) (string, float64) {
	tokens := strings.Fields(lower)
	if len(tokens) == 0 {
		return "", 0
	}

	var bestVariation string
	var bestScore float64

	for n := 1; n <= maxNGram; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			gram := strings.Join(tokens[i:i+n], " ")
			for _, v := range d.variations {
				score := similarity(gram, v)
				if score > bestScore {
					bestScore = score
					bestVariation = v
				}
			}
		}
	}
	return bestVariation, bestScore
}

// similarity scores gram against variation. A Double Metaphone overlap is
// required before the Jaro-Winkler score counts; without phonetic overlap the
// raw JW score is discounted so that visually-near-but-phonetically-distinct
// words ("penny" vs "jenny") stay below threshold less often than true
// mishearings ("jeni", "genny").
func similarity(gram, variation string) float64 {
	jw := bestJWScore(gram, variation)
	if codesOverlap(codesFor(gram), codesFor(variation)) {
		return jw
	}
	return jw * 0.9
}

// bestJWScore computes the highest Jaro-Winkler similarity between gram and
// variation using full-string, space-stripped, and best pairwise token
// comparisons. Mirrors the strategy used for multi-word names.
func bestJWScore(gram, variation string) float64 {
	score := matchr.JaroWinkler(gram, variation, false)

	gTokens := strings.Fields(gram)
	vTokens := strings.Fields(variation)
	if len(gTokens) > 1 || len(vTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(gTokens, ""), strings.Join(vTokens, ""), false); s > score {
			score = s
		}
	}
	for _, gt := range gTokens {
		for _, vt := range vTokens {
			if s := matchr.JaroWinkler(gt, vt, false); s > score {
				score = s
			}
		}
	}
	return score
}

// codesFor returns the union of Double Metaphone codes for all tokens.
func codesFor(s string) map[string]struct{} {
	codes := make(map[string]struct{}, 4)
	for _, t := range strings.Fields(s) {
		p, sec := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if sec != "" {
			codes[sec] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// deriveVariations computes the lowercase variation set for a display name:
// the full name, the first name, "first + last-initial", plus extras.
// The result is de-duplicated and sorted by descending length so longer
// (more specific) variations match first.
func deriveVariations(displayName string, extra []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(v string) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			return
		}
		if _, ok := seen[v]; ok {
			return
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}

	full := strings.TrimSpace(displayName)
	add(full)

	fields := strings.Fields(strings.ToLower(full))
	if len(fields) > 0 {
		add(fields[0])
	}
	if len(fields) > 1 {
		last := fields[len(fields)-1]
		add(fields[0] + " " + last[:1])
	}
	for _, v := range extra {
		add(v)
	}

	slices.SortFunc(out, func(a, b string) int {
		return len(b) - len(a) // descending
	})
	return out
}
