package retrieval

import "sort"

// Rule marks modules as required for queries matching an intent and,
// optionally, any of a set of topic terms. Required modules are included
// ahead of semantic candidates and are exempt from budget-fit skipping as
// long as they collectively fit the knowledge budget.
type Rule struct {
	Intent    Intent   `yaml:"intent"`     // empty matches every intent
	Topics    []string `yaml:"topics"`     // empty matches every topic set
	ModuleIDs []string `yaml:"module_ids"` // modules to force-include
}

// RuleSet is an ordered collection of inclusion rules.
type RuleSet []Rule

// matches reports whether the rule applies to the analysis.
func (r Rule) matches(a Analysis) bool {
	if r.Intent != "" && r.Intent != a.Intent {
		return false
	}
	if len(r.Topics) == 0 {
		return true
	}
	topicSet := make(map[string]bool, len(a.Topics))
	for _, t := range a.Topics {
		topicSet[t] = true
	}
	for _, t := range r.Topics {
		if topicSet[t] {
			return true
		}
	}
	return false
}

// RequiredModules returns the deduplicated, id-sorted set of module ids the
// rule set demands for this analysis.
func (rs RuleSet) RequiredModules(a Analysis) []string {
	seen := map[string]bool{}
	var ids []string
	for _, rule := range rs {
		if !rule.matches(a) {
			continue
		}
		for _, id := range rule.ModuleIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}
