// Package ports defines the external provider contracts the engine depends
// on. Callers inject implementations (or the fakes under internal/providers)
// so every component is testable in isolation.
package ports

import "context"

// Tokenizer counts model-input tokens for a piece of text. Implementations
// are pluggable per target model; see internal/tokenutil for the default.
type Tokenizer interface {
	CountTokens(text string) int
}

// EmbeddingProvider turns text into a dense vector. It is an external
// service: calls may fail or time out, and callers must treat both as a
// degradation signal rather than a fatal error.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Summarizer condenses text, typically via an external LLM call. Like the
// embedding provider it may fail or time out; the conversation manager falls
// back to truncation when it does.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}
