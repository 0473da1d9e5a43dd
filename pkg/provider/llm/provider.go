// Package llm defines the language model capability consumed by voice
// sessions.
//
// A Completion wraps a chat model (cloud API or local) behind a simple
// text-in/text-out interface. The voice path wants one spoken reply per
// utterance, so the interface is intentionally narrower than a full chat
// SDK: no tool calls, no streaming deltas.
package llm

import "context"

// Options tunes a single Query.
type Options struct {
	// SystemPrompt prepended to the conversation. Empty uses the provider's
	// configured default.
	SystemPrompt string

	// Temperature for sampling. Zero means provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero means provider default.
	MaxTokens int
}

// Factory constructs a fresh Completion. Each voice session owns its own
// instance and closes it on teardown.
type Factory func() (Completion, error)

// Completion is the abstraction over any chat model backend.
type Completion interface {
	// Query sends one user utterance and returns the model's reply text.
	// Blocking; honors ctx.
	Query(ctx context.Context, text string, opts Options) (string, error)

	// Close releases underlying resources. Idempotent.
	Close() error
}
