package compose

import (
	"fmt"
	"sort"
	"strings"

	"weaver/internal/budget"
	"weaver/internal/conversation"
	"weaver/internal/errors"
	"weaver/internal/logging"
	"weaver/internal/ports"
	"weaver/internal/profile"
	"weaver/internal/registry"
)

// Input carries everything one composition needs.
type Input struct {
	SystemText  string
	Query       string
	Modules     []*registry.Module
	History     conversation.History
	Profile     profile.Profile
	TargetModel string
	Budget      budget.Budget
	Degraded    bool // upstream degradation (retrieval, summarization)
}

// ComposedContext is the bounded payload returned to the caller.
type ComposedContext struct {
	Sections    []Section
	Rendered    string
	TotalTokens int
	TargetModel string
	AdapterName string
	ModuleIDs   []string
	Degraded    bool
}

// Composer assembles sections in fixed priority order
// (system > query > knowledge > conversation) and renders them through the
// adapter resolved for the target model.
type Composer struct {
	adapters  *AdapterRegistry
	tokenizer ports.Tokenizer
	logger    logging.Logger
}

// NewComposer constructs a composer.
func NewComposer(adapters *AdapterRegistry, tokenizer ports.Tokenizer, logger logging.Logger) *Composer {
	return &Composer{
		adapters:  adapters,
		tokenizer: tokenizer,
		logger:    logging.OrNop(logger),
	}
}

// Compose builds the final payload. The system instructions and the query
// are never evicted or trimmed: when either exceeds its quota the whole call
// fails with InsufficientBudget rather than silently dropping mandatory
// content. Conversation history is the only section trimmed here; knowledge
// arrives already budget-fitted by the retrieval pipeline.
func (c *Composer) Compose(input Input) (*ComposedContext, error) {
	systemContent := c.renderSystem(input.SystemText, input.Profile)
	systemTokens := c.tokenizer.CountTokens(systemContent)
	if systemTokens > input.Budget.System {
		return nil, &errors.InsufficientBudgetError{
			Section:   "system",
			Required:  systemTokens,
			Available: input.Budget.System,
		}
	}

	queryTokens := c.tokenizer.CountTokens(input.Query)
	if queryTokens > input.Budget.Query {
		return nil, &errors.InsufficientBudgetError{
			Section:   "query",
			Required:  queryTokens,
			Available: input.Budget.Query,
		}
	}

	knowledgeContent, moduleIDs := renderKnowledge(input.Modules)

	conversationContent, trimmed := c.renderConversation(input.History, input.Budget.Conversation)
	if trimmed {
		c.logger.Debug("conversation section trimmed to fit %d tokens", input.Budget.Conversation)
	}

	sections := []Section{
		{Name: budget.SectionSystem, Content: systemContent, TokenCount: systemTokens},
		{Name: budget.SectionQuery, Content: input.Query, TokenCount: queryTokens},
		{Name: budget.SectionKnowledge, Content: knowledgeContent, TokenCount: c.tokenizer.CountTokens(knowledgeContent)},
		{Name: budget.SectionConversation, Content: conversationContent, TokenCount: c.tokenizer.CountTokens(conversationContent)},
	}

	adapter := c.adapters.Resolve(input.TargetModel)
	rendered, err := adapter.Format(sections)
	if err != nil {
		return nil, fmt.Errorf("format with %s adapter: %w", adapter.Name(), err)
	}

	return &ComposedContext{
		Sections:    sections,
		Rendered:    rendered,
		TotalTokens: c.tokenizer.CountTokens(rendered),
		TargetModel: input.TargetModel,
		AdapterName: adapter.Name(),
		ModuleIDs:   moduleIDs,
		Degraded:    input.Degraded,
	}, nil
}

// renderSystem appends known profile attributes to the base instructions so
// downstream turns keep user context without consuming conversation budget.
func (c *Composer) renderSystem(systemText string, userProfile profile.Profile) string {
	if len(userProfile.Attributes) == 0 {
		return systemText
	}

	keys := make([]string, 0, len(userProfile.Attributes))
	for k := range userProfile.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(systemText)
	sb.WriteString("\n\nUser profile:")
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n- %s: %s", k, userProfile.Attributes[k])
	}
	return sb.String()
}

// renderKnowledge concatenates the selected modules, labeling each with its
// id so feedback can reference individual modules.
func renderKnowledge(modules []*registry.Module) (string, []string) {
	if len(modules) == 0 {
		return "", nil
	}
	var sb strings.Builder
	ids := make([]string, 0, len(modules))
	for i, m := range modules {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s]\n%s", m.ID, m.Content)
		ids = append(ids, m.ID)
	}
	return sb.String(), ids
}

// renderConversation fits the history into its quota, dropping the summary
// first and then the oldest exchanges. Conversation is evictable; unlike
// system and query, trimming it is never an error.
func (c *Composer) renderConversation(history conversation.History, quota int) (content string, trimmed bool) {
	if history.Empty() || quota <= 0 {
		return "", !history.Empty()
	}

	render := func(withSummary bool, exchanges []conversation.Exchange) string {
		var sb strings.Builder
		if withSummary && history.Summary != nil {
			fmt.Fprintf(&sb, "Summary of earlier conversation:\n%s\n\n", history.Summary.Text)
		}
		for _, ex := range exchanges {
			fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n\n", ex.UserMessage, ex.AssistantMessage)
		}
		return strings.TrimRight(sb.String(), "\n")
	}

	withSummary := history.Summary != nil
	exchanges := history.Exchanges
	for {
		content = render(withSummary, exchanges)
		if c.tokenizer.CountTokens(content) <= quota {
			return content, trimmed
		}
		trimmed = true
		if withSummary {
			withSummary = false
			continue
		}
		if len(exchanges) > 0 {
			exchanges = exchanges[1:]
			continue
		}
		return "", true
	}
}
