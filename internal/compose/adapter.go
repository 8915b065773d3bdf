// Package compose merges selected modules, query, history, and profile into
// ordered sections and renders them through a model adapter chosen by target
// model name. Adapters are polymorphic over a single capability: formatting
// an ordered section list into one payload string.
package compose

import (
	"fmt"
	"strings"
	"sync"

	"weaver/internal/budget"
	"weaver/internal/logging"
)

// Section is one rendered block of the composed context.
type Section struct {
	Name       budget.Section
	Content    string
	TokenCount int
}

// Adapter renders sections into the text structure a target model expects.
type Adapter interface {
	Name() string
	Format(sections []Section) (string, error)
}

// TagAdapter wraps each section in XML-style tags, the structure Anthropic
// style models are steered with.
type TagAdapter struct{}

func (TagAdapter) Name() string { return "tag" }

func (TagAdapter) Format(sections []Section) (string, error) {
	var sb strings.Builder
	for _, section := range sections {
		if section.Content == "" {
			continue
		}
		fmt.Fprintf(&sb, "<%s>\n%s\n</%s>\n\n", section.Name, section.Content, section.Name)
	}
	return strings.TrimRight(sb.String(), "\n") + "\n", nil
}

// MarkdownAdapter renders sections under markdown headings.
type MarkdownAdapter struct{}

func (MarkdownAdapter) Name() string { return "markdown" }

func (MarkdownAdapter) Format(sections []Section) (string, error) {
	var sb strings.Builder
	for _, section := range sections {
		if section.Content == "" {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", headingFor(section.Name), section.Content)
	}
	return strings.TrimRight(sb.String(), "\n") + "\n", nil
}

func headingFor(name budget.Section) string {
	switch name {
	case budget.SectionSystem:
		return "System Instructions"
	case budget.SectionQuery:
		return "Query"
	case budget.SectionKnowledge:
		return "Knowledge"
	case budget.SectionConversation:
		return "Conversation History"
	default:
		return string(name)
	}
}

// GenericAdapter labels sections with plain uppercase headers. It is the
// fallback for unrecognized target models.
type GenericAdapter struct{}

func (GenericAdapter) Name() string { return "generic" }

func (GenericAdapter) Format(sections []Section) (string, error) {
	var sb strings.Builder
	for _, section := range sections {
		if section.Content == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s:\n%s\n\n", strings.ToUpper(string(section.Name)), section.Content)
	}
	return strings.TrimRight(sb.String(), "\n") + "\n", nil
}

type prefixRule struct {
	prefix  string
	adapter Adapter
}

// AdapterRegistry resolves a target model name to an adapter. New models are
// added by registration, never by editing the composer.
type AdapterRegistry struct {
	logger logging.Logger

	mu       sync.RWMutex
	exact    map[string]Adapter
	prefixes []prefixRule
	fallback Adapter
}

// NewAdapterRegistry builds a registry preloaded with the default model
// families: claude models use the tag adapter, gpt/openai models the
// markdown adapter. Everything else falls back to the generic adapter,
// which is logged but never an error.
func NewAdapterRegistry(logger logging.Logger) *AdapterRegistry {
	r := &AdapterRegistry{
		logger:   logging.OrNop(logger),
		exact:    map[string]Adapter{},
		fallback: GenericAdapter{},
	}
	r.RegisterPrefix("claude", TagAdapter{})
	r.RegisterPrefix("gpt", MarkdownAdapter{})
	r.RegisterPrefix("openai", MarkdownAdapter{})
	return r
}

// Register maps an exact target model name to an adapter.
func (r *AdapterRegistry) Register(model string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[model] = adapter
}

// RegisterPrefix maps every model name with the given prefix to an adapter.
func (r *AdapterRegistry) RegisterPrefix(prefix string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes = append(r.prefixes, prefixRule{prefix: prefix, adapter: adapter})
}

// Resolve returns the adapter for the target model, falling back to the
// generic adapter for unrecognized names.
func (r *AdapterRegistry) Resolve(targetModel string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if adapter, ok := r.exact[targetModel]; ok {
		return adapter
	}
	lower := strings.ToLower(targetModel)
	for _, rule := range r.prefixes {
		if strings.HasPrefix(lower, rule.prefix) {
			return rule.adapter
		}
	}
	r.logger.Info("no adapter registered for model %q, using generic", targetModel)
	return r.fallback
}
