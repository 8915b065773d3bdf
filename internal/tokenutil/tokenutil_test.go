package tokenutil

import (
	"strings"
	"testing"
)

func TestCountTokensEmpty(t *testing.T) {
	if got := CountTokens(""); got != 0 {
		t.Fatalf("CountTokens(\"\") = %d, want 0", got)
	}
}

func TestCountTokensGrowsWithText(t *testing.T) {
	short := CountTokens("hello world")
	long := CountTokens(strings.Repeat("hello world ", 50))
	if short <= 0 {
		t.Fatalf("short count = %d, want > 0", short)
	}
	if long <= short {
		t.Fatalf("longer text must count more tokens: short=%d long=%d", short, long)
	}
}

func TestEstimateFast(t *testing.T) {
	if got := EstimateFast("   "); got != 0 {
		t.Fatalf("whitespace = %d, want 0", got)
	}
	if got := EstimateFast("hi"); got < 1 {
		t.Fatalf("tiny text = %d, want at least 1", got)
	}
	// Never below the word count.
	text := "a b c d e f g h"
	if got := EstimateFast(text); got < 8 {
		t.Fatalf("estimate %d below word count 8", got)
	}
}

func TestTruncateToTokens(t *testing.T) {
	text := strings.Repeat("token soup ", 100)
	truncated := TruncateToTokens(text, 10)
	if len(truncated) >= len(text) {
		t.Fatal("expected truncation")
	}
	if !strings.HasSuffix(truncated, "...") {
		t.Fatalf("truncated text should be marked: %q", truncated[len(truncated)-10:])
	}
	if got := TruncateToTokens("short", 1000); got != "short" {
		t.Fatalf("under-limit text must be unchanged, got %q", got)
	}
	if got := TruncateToTokens(text, 0); got != text {
		t.Fatal("non-positive limit must be a no-op")
	}
}

func TestTokenizerForModelFallsBack(t *testing.T) {
	tok := ForModel("totally-unknown-model-xyz")
	if tok == nil {
		t.Fatal("ForModel must always return a tokenizer")
	}
	if got := tok.CountTokens("hello world"); got <= 0 {
		t.Fatalf("fallback tokenizer count = %d, want > 0", got)
	}
}

func TestDefaultTokenizerMatchesPackageCount(t *testing.T) {
	text := "consistency matters for budget math"
	if a, b := Default().CountTokens(text), CountTokens(text); a != b {
		t.Fatalf("Default().CountTokens = %d, CountTokens = %d", a, b)
	}
}
