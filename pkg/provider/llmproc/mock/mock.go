// Package mock provides a scriptable llmproc.Processor for tests.
package mock

import (
	"context"
	"sync"

	"github.com/meetbridge/meetbridge/pkg/provider/llmproc"
)

// Compile-time check that *Processor satisfies [llmproc.Processor].
var _ llmproc.Processor = (*Processor)(nil)

// Call records a single Classify invocation.
type Call struct {
	System string
	Prompt string
}

// Processor is a scriptable mock. Set Reply and Err before use, or set
// ClassifyFunc for per-call behaviour. All fields are guarded by an internal
// mutex, so the mock is safe for concurrent use.
type Processor struct {
	mu sync.Mutex

	// Reply is returned by Classify when ClassifyFunc is nil.
	Reply string

	// Err is returned by Classify when ClassifyFunc is nil.
	Err error

	// ClassifyFunc, when non-nil, overrides Reply/Err entirely.
	ClassifyFunc func(ctx context.Context, system, prompt string) (string, error)

	calls []Call
}

// Classify implements llmproc.Processor.
func (p *Processor) Classify(ctx context.Context, system string, prompt string) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{System: system, Prompt: prompt})
	fn := p.ClassifyFunc
	reply, err := p.Reply, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, system, prompt)
	}
	return reply, err
}

// Calls returns a copy of all recorded invocations.
func (p *Processor) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}
