// Package llm streams text completions for a conversation.
package llm

import "context"

// Message is one conversation entry sent to the generator.
type Message struct {
	Role    string
	Content string
}

// Request is a single streaming completion request.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  float64
}

// Chunk is one streamed fragment. A chunk with a non-nil Err is the last one
// sent before the channel closes.
type Chunk struct {
	Text string
	Err  error
}

// Generator streams completions. The returned channel is closed when the
// stream ends, fails, or ctx is cancelled; cancelling ctx is how callers
// abort an in-flight stream.
type Generator interface {
	StreamCompletion(ctx context.Context, req Request) (<-chan Chunk, error)
}
