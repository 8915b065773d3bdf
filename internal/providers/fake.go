package providers

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync/atomic"

	"weaver/internal/errors"
)

// FakeEmbedder is a deterministic, offline EmbeddingProvider: the vector is
// derived from a hash of the text, so identical inputs always embed
// identically and related inputs do not. Useful for tests and local demos
// where no embedding endpoint is available.
type FakeEmbedder struct {
	Dim   int          // default 32
	Fail  atomic.Bool  // when set, every call fails with EmbeddingError
	Calls atomic.Int64 // number of Embed invocations
}

// NewFakeEmbedder constructs a fake embedder with the given dimension.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	if dim <= 0 {
		dim = 32
	}
	return &FakeEmbedder{Dim: dim}
}

// Embed returns a hash-derived unit-independent vector for text.
func (f *FakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.Calls.Add(1)
	if f.Fail.Load() {
		return nil, &errors.EmbeddingError{Err: fmt.Errorf("fake embedder failure")}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, f.Dim)
	digest := sha256.Sum256([]byte(text))
	for i := range vec {
		// Spread digest bytes across the vector; repeatable and spread-out
		// enough that cosine similarity discriminates between texts.
		b := digest[(i*7)%len(digest)]
		vec[i] = (float32(b) - 127.5) / 127.5
	}
	return vec, nil
}

// Dimensions returns the vector dimension.
func (f *FakeEmbedder) Dimensions() int { return f.Dim }

// FakeSummarizer is a deterministic, offline Summarizer that keeps the first
// line of each paragraph.
type FakeSummarizer struct {
	Fail  atomic.Bool
	Calls atomic.Int64
}

// NewFakeSummarizer constructs a fake summarizer.
func NewFakeSummarizer() *FakeSummarizer {
	return &FakeSummarizer{}
}

// Summarize returns a deterministic condensation of text.
func (f *FakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	f.Calls.Add(1)
	if f.Fail.Load() {
		return "", &errors.SummarizationError{Err: fmt.Errorf("fake summarizer failure")}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		first, _, _ := strings.Cut(paragraph, "\n")
		lines = append(lines, first)
	}
	if len(lines) == 0 {
		return "(empty conversation)", nil
	}
	return "Summary: " + strings.Join(lines, " | "), nil
}
