// Package registry stores context modules plus their derived metadata (token
// count, embedding). Reads run against an immutable snapshot while writers
// build a new snapshot and atomically swap it in, so retrieval never blocks
// on registry updates.
package registry

import (
	"sync/atomic"
	"time"
)

// Priority ranks a module's static importance.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Weight maps a priority to the static authority signal used by reranking.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityHigh:
		return 1.0
	case PriorityMedium:
		return 0.6
	case PriorityLow:
		return 0.3
	default:
		return 0.6
	}
}

// Metadata describes a module beyond its content.
type Metadata struct {
	Priority Priority `yaml:"priority" json:"priority"`
	Domain   string   `yaml:"domain" json:"domain"`
	Tags     []string `yaml:"tags" json:"tags"`
	Version  string   `yaml:"version" json:"version"`
}

// Module is a self-contained unit of reusable knowledge text. TokenCount and
// Embedding are derived at registration; Embedding may be nil when the
// embedding provider was unavailable, in which case similarity search
// degrades for this module.
type Module struct {
	ID         string
	Content    string
	Metadata   Metadata
	TokenCount int
	Embedding  []float32

	registered   time.Time
	lastAccessed atomic.Int64 // unix nanos; shared across snapshots
}

// Touch records an access. Safe for concurrent use; snapshots share the
// counter so the signal survives copy-on-write swaps.
func (m *Module) Touch(now time.Time) {
	m.lastAccessed.Store(now.UnixNano())
}

// LastAccessed returns the most recent access time, falling back to the
// registration time for modules never retrieved.
func (m *Module) LastAccessed() time.Time {
	if nanos := m.lastAccessed.Load(); nanos > 0 {
		return time.Unix(0, nanos)
	}
	return m.registered
}

// RegisteredAt returns when the current content version was registered.
func (m *Module) RegisteredAt() time.Time {
	return m.registered
}

// Filters is the typed metadata filter for Search. Zero values match
// everything: an empty Domain imposes no domain constraint, empty Tags impose
// no tag constraint, and an empty Priorities set admits every priority.
type Filters struct {
	Domain     string
	Tags       []string
	Priorities []Priority
}

// Match reports whether the module passes every populated filter field. Tag
// filtering requires all listed tags to be present on the module.
func (f Filters) Match(m *Module) bool {
	if f.Domain != "" && f.Domain != m.Metadata.Domain {
		return false
	}
	if len(f.Priorities) > 0 {
		allowed := false
		for _, p := range f.Priorities {
			if p == m.Metadata.Priority {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	for _, want := range f.Tags {
		found := false
		for _, tag := range m.Metadata.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
