package mention

import (
	"regexp"
	"strings"
)

// Meeting chat arrives as HTML. Platform-structured mentions are marked with
// a schema.skype.com Mention span; everything else falls back to plain-text
// name matching after the markup is stripped.
var (
	mentionSpanRe = regexp.MustCompile(`(?is)<span[^>]*itemtype="https?://schema\.skype\.com/Mention"[^>]*>(.*?)</span>`)
	tagRe         = regexp.MustCompile(`(?s)<[^>]+>`)
	atTokenRe     = regexp.MustCompile(`@([\p{L}\d._-]+(?:\s[\p{L}\d._-]+)?)`)
)

// DetectChat checks an HTML chat message body for a mention of the agent.
//
// Structured @mention markup is checked first: a Mention span (or a literal
// @-token) whose inner text matches a name variation is an exact mention.
// Otherwise the stripped plain text goes through [Detector.Detect].
func (d *Detector) DetectChat(html string) Result {
	for _, m := range mentionSpanRe.FindAllStringSubmatch(html, -1) {
		inner := strings.ToLower(strings.TrimSpace(StripHTML(m[1])))
		inner = strings.TrimPrefix(inner, "@")
		if v := d.matchVariation(inner); v != "" {
			return Result{Mentioned: true, MatchedVariation: v, Confidence: 1}
		}
	}

	plain := StripHTML(html)

	for _, m := range atTokenRe.FindAllStringSubmatch(plain, -1) {
		token := strings.ToLower(strings.TrimSpace(m[1]))
		if v := d.matchVariation(token); v != "" {
			return Result{Mentioned: true, MatchedVariation: v, Confidence: 1}
		}
	}

	return d.Detect(plain)
}

// matchVariation returns the variation equal to or contained in the given
// lowercase candidate, or "".
func (d *Detector) matchVariation(candidate string) string {
	for _, v := range d.variations {
		if candidate == v || strings.Contains(candidate, v) {
			return v
		}
	}
	return ""
}

// StripHTML removes markup tags and collapses whitespace, leaving the
// message's visible text. Exported for the bridge, which logs and classifies
// chat messages as plain text.
func StripHTML(html string) string {
	text := tagRe.ReplaceAllString(html, " ")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = strings.ReplaceAll(text, "&#39;", "'")
	return strings.Join(strings.Fields(text), " ")
}
