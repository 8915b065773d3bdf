// Package retrieval turns a query into a ranked, budget-fitted set of context
// modules through five ordered stages: query analysis, coarse rule/filter
// retrieval, fine-grained embedding selection, reranking, and budget-fit
// selection.
package retrieval

import (
	"sort"
	"strings"

	"weaver/internal/budget"
	"weaver/internal/ports"
)

// Intent is the coarse classification of what the query wants.
type Intent string

const (
	IntentQuestion    Intent = "question"
	IntentCommand     Intent = "command"
	IntentExploration Intent = "exploration"
)

// Analysis is the deterministic decomposition of a query. Identical queries
// always produce identical analyses; no external provider is involved.
type Analysis struct {
	Intent     Intent
	Topics     []string
	Complexity budget.Complexity
	TokenCount int
}

var questionWords = map[string]bool{
	"what": true, "why": true, "how": true, "when": true, "where": true,
	"who": true, "which": true, "can": true, "could": true, "should": true,
	"would": true, "is": true, "are": true, "does": true, "do": true,
}

var commandWords = map[string]bool{
	"add": true, "create": true, "write": true, "make": true, "build": true,
	"fix": true, "update": true, "delete": true, "remove": true, "list": true,
	"show": true, "generate": true, "rename": true, "refactor": true,
	"implement": true, "convert": true, "summarize": true,
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"of": true, "to": true, "in": true, "on": true, "for": true, "with": true,
	"is": true, "are": true, "was": true, "be": true, "it": true, "this": true,
	"that": true, "i": true, "you": true, "my": true, "me": true, "we": true,
	"please": true, "about": true, "at": true, "as": true, "by": true,
	"from": true, "not": true, "do": true, "does": true, "can": true,
	"what": true, "how": true, "why": true, "when": true, "where": true,
	"who": true, "which": true, "should": true, "could": true, "would": true,
}

// Analyze extracts intent, topic terms, and complexity from the query text.
func Analyze(query string, tokenizer ports.Tokenizer) Analysis {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)
	words := strings.Fields(lower)

	analysis := Analysis{
		Intent:     IntentExploration,
		TokenCount: tokenizer.CountTokens(trimmed),
	}

	if strings.HasSuffix(trimmed, "?") || (len(words) > 0 && questionWords[words[0]]) {
		analysis.Intent = IntentQuestion
	} else if len(words) > 0 && commandWords[strings.Trim(words[0], ".,!")] {
		analysis.Intent = IntentCommand
	}

	seen := map[string]bool{}
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()[]")
		if len(w) < 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		analysis.Topics = append(analysis.Topics, w)
	}
	sort.Strings(analysis.Topics)

	analysis.Complexity = classifyComplexity(lower, analysis.TokenCount)
	return analysis
}

// classifyComplexity buckets the query by size and clause structure.
func classifyComplexity(lower string, tokens int) budget.Complexity {
	clauses := strings.Count(lower, " and ") +
		strings.Count(lower, ";") +
		strings.Count(lower, " then ") +
		strings.Count(lower, " while ")
	switch {
	case tokens > 40 || clauses >= 2:
		return budget.ComplexityHigh
	case tokens < 12 && clauses == 0:
		return budget.ComplexityLow
	default:
		return budget.ComplexityMedium
	}
}
