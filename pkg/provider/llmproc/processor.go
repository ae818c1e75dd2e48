// Package llmproc defines the Processor interface for lightweight LLM-backed
// text classification.
//
// The bridge uses a Processor for two narrow jobs: deciding whether an
// ambiguous caption fragment mentions the agent, and classifying whether an
// utterance warrants an autonomous response. Both are single-shot
// prompt-in/text-out calls; no streaming, tools, or conversation state is
// needed, so the interface is deliberately smaller than a full LLM client.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llmproc

import "context"

// Processor is the abstraction over any LLM backend used for classification.
type Processor interface {
	// Classify sends a system instruction and a user prompt to the model and
	// returns the raw completion text. Callers parse the result themselves
	// (typically a one-word verdict or a small JSON object).
	//
	// Returns an error if the request fails or ctx is cancelled; callers are
	// expected to degrade to a non-LLM fallback on error.
	Classify(ctx context.Context, system string, prompt string) (string, error)
}
