package intent

import "strings"

// Farewell phrases that close a conversation. Checked against the lowercase
// utterance with substring containment; captions rarely carry punctuation.
var farewellPhrases = []string{
	"thanks, that's all",
	"that's all i needed",
	"that's everything",
	"thank you",
	"thanks",
	"goodbye",
	"bye bye",
	"see you",
	"talk to you later",
	"never mind",
}

// Interrogative lead-ins that suggest a follow-up question during an active
// conversation.
var questionLeads = []string{
	"what", "when", "where", "who", "why", "how",
	"can you", "could you", "would you", "will you",
	"do you", "did you", "does", "is there", "are there",
	"tell me", "show me", "explain", "give me",
}

// classifyRules is the heuristic fallback tier. End-of-conversation and
// follow-up detection only apply while a session is active with the same
// speaker — without a session there is nothing to continue or to end.
func (c *Classifier) classifyRules(text string, speaker string, snap Snapshot) Decision {
	lower := strings.ToLower(strings.TrimSpace(text))
	inSession := snap.SessionActive && speaker == snap.SessionSpeaker

	if inSession {
		for _, phrase := range farewellPhrases {
			if strings.Contains(lower, phrase) {
				return Decision{
					Confidence:        0.9,
					Reason:            "farewell phrase: " + phrase,
					EndOfConversation: true,
				}
			}
		}

		if strings.Contains(lower, "?") {
			return Decision{Respond: true, Confidence: 0.8, Reason: "question mark in active session"}
		}
		for _, lead := range questionLeads {
			if strings.HasPrefix(lower, lead+" ") || lower == lead {
				return Decision{Respond: true, Confidence: 0.75, Reason: "interrogative lead-in: " + lead}
			}
		}
	}

	return Decision{Confidence: 0.5, Reason: "no heuristic matched"}
}
