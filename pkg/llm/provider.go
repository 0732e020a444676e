// Package llm abstracts the chat-completion backends the chunking
// oracle can run against.
package llm

import "context"

// Provider is a single-turn completion backend.
type Provider interface {
	// Complete returns the model's full response for prompt. Streaming
	// backends accumulate the stream before returning.
	Complete(ctx context.Context, prompt string) (string, error)

	// IsConfigured reports whether the provider has what it needs to
	// serve requests; unconfigured providers make callers fall back.
	IsConfigured() bool
}
