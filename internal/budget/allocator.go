// Package budget computes per-section token quotas from query and
// conversation characteristics. Mandatory sections (system, query) are never
// shrunk below their configured minimums; when the total limit cannot cover
// the minimums plus the reserved response slice, allocation fails fast
// instead of silently degrading.
package budget

import (
	"weaver/internal/config"
	"weaver/internal/errors"
)

// Complexity classifies a query for allocation purposes.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Section names the budgeted parts of a composed context.
type Section string

const (
	SectionSystem       Section = "system"
	SectionQuery        Section = "query"
	SectionKnowledge    Section = "knowledge"
	SectionConversation Section = "conversation"
)

// Budget maps each section to its integer token quota. Reserved is the slice
// held back for the model response and is never handed to any section.
type Budget struct {
	System       int
	Query        int
	Knowledge    int
	Conversation int
	Reserved     int
}

// Quota returns the quota for a named section.
func (b Budget) Quota(s Section) int {
	switch s {
	case SectionSystem:
		return b.System
	case SectionQuery:
		return b.Query
	case SectionKnowledge:
		return b.Knowledge
	case SectionConversation:
		return b.Conversation
	default:
		return 0
	}
}

// SectionTotal sums the section quotas, excluding the reserved slice.
func (b Budget) SectionTotal() int {
	return b.System + b.Query + b.Knowledge + b.Conversation
}

// Allocator derives budgets from the configured ratio table.
type Allocator struct {
	cfg config.Config
}

// NewAllocator validates the configuration and returns an allocator.
func NewAllocator(cfg config.Config) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Allocator{cfg: cfg}, nil
}

// complexityShift is the fraction of the total limit moved from conversation
// toward knowledge for complex queries, and back for simple ones.
const (
	highShift = 0.10
	lowShift  = 0.05
)

// Allocate computes a budget for one compose call. Complex queries shift
// share from conversation toward knowledge; with no history at all, the
// conversation share folds into knowledge entirely.
func (a *Allocator) Allocate(complexity Complexity, hasHistory bool) (Budget, error) {
	cfg := a.cfg
	total := cfg.TotalTokenLimit
	r := cfg.Ratios

	reserved := int(float64(total) * r.Reserved)
	system := int(float64(total) * r.System)
	if system < cfg.MinSystemTokens {
		system = cfg.MinSystemTokens
	}
	query := int(float64(total) * r.Query)
	if query < cfg.MinQueryTokens {
		query = cfg.MinQueryTokens
	}

	remaining := total - reserved - system - query
	if remaining < 0 {
		return Budget{}, &errors.InsufficientBudgetError{
			Section:   "system+query",
			Required:  system + query + reserved,
			Available: total,
		}
	}

	knowledgeShare := r.Knowledge
	conversationShare := r.Conversation
	switch complexity {
	case ComplexityHigh:
		shift := min64(highShift, conversationShare)
		knowledgeShare += shift
		conversationShare -= shift
	case ComplexityLow:
		shift := min64(lowShift, knowledgeShare)
		knowledgeShare -= shift
		conversationShare += shift
	}
	if !hasHistory {
		knowledgeShare += conversationShare
		conversationShare = 0
	}

	b := Budget{
		System:   system,
		Query:    query,
		Reserved: reserved,
	}
	if share := knowledgeShare + conversationShare; share > 0 {
		b.Knowledge = int(float64(remaining) * (knowledgeShare / share))
		b.Conversation = int(float64(remaining) * (conversationShare / share))
	}
	// Integer truncation may leave a token or two unassigned; give the
	// remainder to knowledge so utilization stays high while the invariant
	// sum(quotas) + reserved <= total holds.
	if slack := remaining - b.Knowledge - b.Conversation; slack > 0 {
		b.Knowledge += slack
	}

	return b, nil
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
