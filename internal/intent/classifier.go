// Package intent decides whether the agent should respond to an utterance
// that does not explicitly mention it, and whether an utterance signals the
// end of a conversation.
//
// Two tiers are available. The rules tier uses keyword heuristics: farewells
// and thanks mark end-of-conversation; questions and imperative lead-ins
// during an active conversation warrant a response. When an LLM processor is
// configured, it is consulted first with the last few utterances as context
// and returns a structured decision with a confidence score; classifier
// errors degrade to the rules tier, never to silence.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/meetbridge/meetbridge/pkg/provider/llmproc"
)

// defaultMinConfidence is the confidence floor below which an LLM "respond"
// verdict is ignored, to avoid responding to unrelated cross-talk.
const defaultMinConfidence = 0.7

// contextUtterances is how many recent utterances are sent to the LLM tier.
const contextUtterances = 5

// Snapshot carries the conversational state the classifier needs.
type Snapshot struct {
	// AgentName is the agent's configured display name.
	AgentName string

	// SessionActive reports whether a conversation session is open.
	SessionActive bool

	// SessionSpeaker is the participant the session is with, when active.
	SessionSpeaker string

	// Recent holds the last few utterances, oldest first, as "Speaker: text".
	Recent []string
}

// Decision is the classifier's structured verdict.
type Decision struct {
	// Respond reports whether the agent should answer even without an
	// explicit mention.
	Respond bool

	// Confidence is the classifier's certainty in [0, 1]. Rules-tier
	// decisions use fixed representative values.
	Confidence float64

	// Reason is a short human-readable explanation, used in logs.
	Reason string

	// EndOfConversation reports that the utterance closes the conversation
	// (thanks, goodbye).
	EndOfConversation bool
}

// Option configures a [Classifier].
type Option func(*Classifier)

// WithProcessor enables the LLM tier.
func WithProcessor(p llmproc.Processor) Option {
	return func(c *Classifier) { c.proc = p }
}

// WithMinConfidence sets the confidence floor for autonomous responses.
// Default: 0.7.
func WithMinConfidence(v float64) Option {
	return func(c *Classifier) { c.minConfidence = v }
}

// Classifier evaluates utterances and chat messages identically.
// It is read-only after construction and safe for concurrent use.
type Classifier struct {
	proc          llmproc.Processor
	minConfidence float64
}

// NewClassifier creates a Classifier. Without [WithProcessor] only the
// rules tier runs.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{minConfidence: defaultMinConfidence}
	for _, o := range opts {
		o(c)
	}
	return c
}

// MinConfidence returns the configured confidence floor.
func (c *Classifier) MinConfidence() float64 { return c.minConfidence }

// ShouldRespond classifies text from speaker against the session snapshot.
//
// When the LLM tier is configured its decision is used, gated by the
// confidence floor; on any LLM failure the rules tier answers instead.
func (c *Classifier) ShouldRespond(ctx context.Context, text string, speaker string, snap Snapshot) Decision {
	if c.proc != nil {
		d, err := c.classifyLLM(ctx, text, speaker, snap)
		if err == nil {
			if d.Respond && d.Confidence < c.minConfidence {
				d.Respond = false
				d.Reason = fmt.Sprintf("confidence %.2f below floor %.2f", d.Confidence, c.minConfidence)
			}
			return d
		}
		slog.Warn("intent: LLM classification failed, using rules", "err", err, "speaker", speaker)
	}
	return c.classifyRules(text, speaker, snap)
}

// llmDecision is the JSON shape the LLM tier is instructed to return.
type llmDecision struct {
	Respond           bool    `json:"respond"`
	Confidence        float64 `json:"confidence"`
	Reason            string  `json:"reason"`
	EndOfConversation bool    `json:"end_of_conversation"`
}

const llmSystemPrompt = `You classify meeting utterances for an AI assistant. ` +
	`Decide whether the utterance is directed at the assistant and warrants a reply, ` +
	`and whether it ends the conversation (thanks, goodbye). ` +
	`Reply with only a JSON object: {"respond":bool,"confidence":0..1,"reason":string,"end_of_conversation":bool}.`

func (c *Classifier) classifyLLM(ctx context.Context, text, speaker string, snap Snapshot) (Decision, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Assistant name: %s\n", snap.AgentName)
	if snap.SessionActive {
		fmt.Fprintf(&b, "The assistant is currently in a conversation with %s.\n", snap.SessionSpeaker)
	} else {
		b.WriteString("The assistant is not in a conversation.\n")
	}
	recent := snap.Recent
	if len(recent) > contextUtterances {
		recent = recent[len(recent)-contextUtterances:]
	}
	if len(recent) > 0 {
		b.WriteString("Recent utterances:\n")
		for _, r := range recent {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	fmt.Fprintf(&b, "Utterance from %s: %q", speaker, text)

	raw, err := c.proc.Classify(ctx, llmSystemPrompt, b.String())
	if err != nil {
		return Decision{}, err
	}

	var d llmDecision
	if err := json.Unmarshal([]byte(extractJSON(raw)), &d); err != nil {
		return Decision{}, fmt.Errorf("intent: parse LLM decision %q: %w", raw, err)
	}
	return Decision{
		Respond:           d.Respond,
		Confidence:        d.Confidence,
		Reason:            d.Reason,
		EndOfConversation: d.EndOfConversation,
	}, nil
}

// extractJSON pulls the first {...} object out of a completion that may be
// wrapped in prose or a code fence.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
