package compose

import (
	"strings"
	"testing"

	"weaver/internal/budget"
	"weaver/internal/conversation"
	"weaver/internal/errors"
	"weaver/internal/profile"
	"weaver/internal/registry"
)

type wordTokenizer struct{}

func (wordTokenizer) CountTokens(text string) int { return len(strings.Fields(text)) }

func testComposer() *Composer {
	return NewComposer(NewAdapterRegistry(nil), wordTokenizer{}, nil)
}

func roomyBudget() budget.Budget {
	return budget.Budget{System: 100, Query: 50, Knowledge: 500, Conversation: 200, Reserved: 100}
}

func knowledgeModules() []*registry.Module {
	return []*registry.Module{
		{ID: "style", Content: "prefer short functions"},
		{ID: "deploy", Content: "use the canary pipeline"},
	}
}

func TestComposeOrdersSectionsFixed(t *testing.T) {
	composed, err := testComposer().Compose(Input{
		SystemText: "be concise",
		Query:      "how do I deploy",
		Modules:    knowledgeModules(),
		History: conversation.History{Exchanges: []conversation.Exchange{
			{UserMessage: "hi", AssistantMessage: "hello", TokenCount: 2},
		}},
		TargetModel: "claude-3",
		Budget:      roomyBudget(),
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []budget.Section{
		budget.SectionSystem, budget.SectionQuery,
		budget.SectionKnowledge, budget.SectionConversation,
	}
	if len(composed.Sections) != len(want) {
		t.Fatalf("got %d sections", len(composed.Sections))
	}
	for i, name := range want {
		if composed.Sections[i].Name != name {
			t.Fatalf("section %d = %s, want %s", i, composed.Sections[i].Name, name)
		}
	}
	if composed.AdapterName != "tag" {
		t.Fatalf("adapter = %s, want tag for claude models", composed.AdapterName)
	}
	if len(composed.ModuleIDs) != 2 || composed.ModuleIDs[0] != "style" {
		t.Fatalf("ModuleIDs = %v", composed.ModuleIDs)
	}
}

func TestComposeSystemOverflowIsHardError(t *testing.T) {
	b := roomyBudget()
	b.System = 2
	_, err := testComposer().Compose(Input{
		SystemText: "these system instructions are way too long to fit",
		Query:      "q",
		Budget:     b,
	})
	if !errors.IsInsufficientBudget(err) {
		t.Fatalf("expected InsufficientBudget, got %v", err)
	}
}

func TestComposeQueryOverflowIsHardError(t *testing.T) {
	b := roomyBudget()
	b.Query = 3
	_, err := testComposer().Compose(Input{
		SystemText: "short",
		Query:      "a query with far too many words to fit the quota",
		Budget:     b,
	})
	if !errors.IsInsufficientBudget(err) {
		t.Fatalf("expected InsufficientBudget, got %v", err)
	}
}

func TestComposeProfileAttributesJoinSystemSection(t *testing.T) {
	composed, err := testComposer().Compose(Input{
		SystemText: "be concise",
		Query:      "q",
		Profile: profile.Profile{Attributes: map[string]string{
			"preference": "short answers",
			"name":       "sam",
		}},
		Budget: roomyBudget(),
	})
	if err != nil {
		t.Fatal(err)
	}
	system := composed.Sections[0].Content
	if !strings.Contains(system, "User profile:") {
		t.Fatalf("profile attributes missing from system section:\n%s", system)
	}
	// Attribute keys render in sorted order for stable output.
	if strings.Index(system, "name: sam") > strings.Index(system, "preference: short answers") {
		t.Fatalf("attributes not sorted:\n%s", system)
	}
}

func TestComposeProfileOverflowingSystemQuotaFails(t *testing.T) {
	b := roomyBudget()
	b.System = 3
	_, err := testComposer().Compose(Input{
		SystemText: "be concise",
		Query:      "q",
		Profile: profile.Profile{Attributes: map[string]string{
			"preference": "a very long preference string",
		}},
		Budget: b,
	})
	if !errors.IsInsufficientBudget(err) {
		t.Fatalf("profile text counts against the system quota, got %v", err)
	}
}

func TestComposeTrimsConversationToQuota(t *testing.T) {
	history := conversation.History{
		Summary: &conversation.Summary{Text: "summary of many earlier words here", TokenCount: 6},
		Exchanges: []conversation.Exchange{
			{UserMessage: "oldest message with several words", AssistantMessage: "reply one here", TokenCount: 8},
			{UserMessage: "newest", AssistantMessage: "ok", TokenCount: 2},
		},
	}
	b := roomyBudget()
	b.Conversation = 8

	composed, err := testComposer().Compose(Input{
		SystemText: "s",
		Query:      "q",
		History:    history,
		Budget:     b,
	})
	if err != nil {
		t.Fatalf("conversation overflow must trim, not fail: %v", err)
	}
	conv := composed.Sections[3].Content
	if strings.Contains(conv, "Summary of earlier conversation") {
		t.Fatalf("summary must be dropped first:\n%s", conv)
	}
	if !strings.Contains(conv, "newest") {
		t.Fatalf("newest exchange must survive trimming:\n%s", conv)
	}
}

func TestComposeEmptyConversationQuota(t *testing.T) {
	b := roomyBudget()
	b.Conversation = 0
	composed, err := testComposer().Compose(Input{
		SystemText: "s",
		Query:      "q",
		History: conversation.History{Exchanges: []conversation.Exchange{
			{UserMessage: "hi", AssistantMessage: "hello", TokenCount: 2},
		}},
		Budget: b,
	})
	if err != nil {
		t.Fatal(err)
	}
	if composed.Sections[3].Content != "" {
		t.Fatal("zero conversation quota must yield an empty section")
	}
}

func TestComposePropagatesDegraded(t *testing.T) {
	composed, err := testComposer().Compose(Input{
		SystemText: "s",
		Query:      "q",
		Budget:     roomyBudget(),
		Degraded:   true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !composed.Degraded {
		t.Fatal("upstream degradation must be visible on the composed context")
	}
}

func TestComposeKnowledgeLabelsModules(t *testing.T) {
	composed, err := testComposer().Compose(Input{
		SystemText: "s",
		Query:      "q",
		Modules:    knowledgeModules(),
		Budget:     roomyBudget(),
	})
	if err != nil {
		t.Fatal(err)
	}
	knowledge := composed.Sections[2].Content
	if !strings.Contains(knowledge, "[style]\nprefer short functions") {
		t.Fatalf("modules must be labeled by id:\n%s", knowledge)
	}
}
