package compose

import (
	"strings"
	"testing"

	"weaver/internal/budget"
)

func sampleSections() []Section {
	return []Section{
		{Name: budget.SectionSystem, Content: "be helpful"},
		{Name: budget.SectionQuery, Content: "what is a goroutine?"},
		{Name: budget.SectionKnowledge, Content: ""},
		{Name: budget.SectionConversation, Content: "User: hi\nAssistant: hello"},
	}
}

func TestTagAdapterFormat(t *testing.T) {
	out, err := TagAdapter{}.Format(sampleSections())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "<system>\nbe helpful\n</system>") {
		t.Fatalf("missing tagged system section:\n%s", out)
	}
	if strings.Contains(out, "<knowledge>") {
		t.Fatal("empty sections must be omitted")
	}
	if !strings.HasSuffix(out, "\n") || strings.HasSuffix(out, "\n\n") {
		t.Fatal("output must end with exactly one newline")
	}
}

func TestMarkdownAdapterFormat(t *testing.T) {
	out, err := MarkdownAdapter{}.Format(sampleSections())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "## System Instructions") || !strings.Contains(out, "## Query") {
		t.Fatalf("missing markdown headings:\n%s", out)
	}
	if strings.Contains(out, "## Knowledge") {
		t.Fatal("empty sections must be omitted")
	}
}

func TestGenericAdapterFormat(t *testing.T) {
	out, err := GenericAdapter{}.Format(sampleSections())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "SYSTEM:\nbe helpful") {
		t.Fatalf("missing uppercase label:\n%s", out)
	}
}

func TestResolveKnownFamilies(t *testing.T) {
	r := NewAdapterRegistry(nil)
	cases := []struct {
		model string
		want  string
	}{
		{"claude-3-opus", "tag"},
		{"Claude-Instant", "tag"},
		{"gpt-4o", "markdown"},
		{"openai/o3", "markdown"},
		{"llama-70b", "generic"},
		{"", "generic"},
	}
	for _, tc := range cases {
		if got := r.Resolve(tc.model).Name(); got != tc.want {
			t.Errorf("Resolve(%q) = %s, want %s", tc.model, got, tc.want)
		}
	}
}

func TestResolveExactBeatsPrefix(t *testing.T) {
	r := NewAdapterRegistry(nil)
	r.Register("claude-special", GenericAdapter{})
	if got := r.Resolve("claude-special").Name(); got != "generic" {
		t.Fatalf("exact registration must win, got %s", got)
	}
}

func TestUnknownModelNeverErrors(t *testing.T) {
	r := NewAdapterRegistry(nil)
	adapter := r.Resolve("some-future-model-v99")
	if _, err := adapter.Format(sampleSections()); err != nil {
		t.Fatalf("generic fallback must format without error: %v", err)
	}
}
