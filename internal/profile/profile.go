// Package profile persists extracted user attributes across conversations.
// Profiles are created lazily on first use and updated incrementally after
// every query; they are never deleted except by explicit reset.
package profile

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Profile holds everything the engine knows about one user. Attribute keys
// are unique; values are overwritten on update. History is bounded: the
// oldest entries are pruned beyond the configured count.
type Profile struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes"`
	History    []string          `json:"history"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (p Profile) Clone() Profile {
	clone := Profile{
		ID:         p.ID,
		Attributes: make(map[string]string, len(p.Attributes)),
		History:    append([]string(nil), p.History...),
		UpdatedAt:  p.UpdatedAt,
	}
	for k, v := range p.Attributes {
		clone.Attributes[k] = v
	}
	return clone
}

// Store abstracts profile persistence.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Load(ctx context.Context, userID string) (Profile, bool, error)
	Save(ctx context.Context, profile Profile) error
	Delete(ctx context.Context, userID string) error
}

// Service provides the incremental-update operations the engine calls.
type Service struct {
	store      Store
	maxHistory int
	clock      func() time.Time
}

// NewService constructs a profile service over the given store.
func NewService(store Store, maxHistory int) *Service {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return &Service{store: store, maxHistory: maxHistory, clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Get returns the user's profile, or an empty lazily-initialized one.
func (s *Service) Get(ctx context.Context, userID string) (Profile, error) {
	if s == nil || s.store == nil {
		return Profile{ID: userID}, nil
	}
	profile, ok, err := s.store.Load(ctx, userID)
	if err != nil {
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}
	if !ok {
		return Profile{ID: userID, Attributes: map[string]string{}}, nil
	}
	return profile, nil
}

// Update records a query against the user's profile: extracted attributes
// overwrite existing keys, the query joins the bounded history, and the
// result is persisted.
func (s *Service) Update(ctx context.Context, userID, query string) (Profile, error) {
	profile, err := s.Get(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	if profile.Attributes == nil {
		profile.Attributes = map[string]string{}
	}

	for key, value := range ExtractAttributes(query) {
		profile.Attributes[key] = value
	}

	profile.History = append(profile.History, query)
	if len(profile.History) > s.maxHistory {
		profile.History = profile.History[len(profile.History)-s.maxHistory:]
	}
	profile.UpdatedAt = s.clock()

	if s.store != nil {
		if err := s.store.Save(ctx, profile); err != nil {
			return Profile{}, fmt.Errorf("save profile: %w", err)
		}
	}
	return profile, nil
}

// Reset removes all stored state for the user.
func (s *Service) Reset(ctx context.Context, userID string) error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Delete(ctx, userID)
}

// attributePatterns map a lexical prefix to the attribute key it populates.
// Matching is deliberately simple and deterministic.
var attributePatterns = []struct {
	prefix string
	key    string
}{
	{"i prefer ", "preference"},
	{"i'd prefer ", "preference"},
	{"i use ", "tooling"},
	{"i am using ", "tooling"},
	{"i'm using ", "tooling"},
	{"i work on ", "project"},
	{"i am working on ", "project"},
	{"i'm working on ", "project"},
	{"call me ", "name"},
	{"my name is ", "name"},
}

// ExtractAttributes pulls user attributes from a query via lexical rules.
// It returns an empty map when nothing matches.
func ExtractAttributes(query string) map[string]string {
	attrs := map[string]string{}
	for _, sentence := range strings.FieldsFunc(query, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == ';' || r == '\n'
	}) {
		lower := strings.ToLower(strings.TrimSpace(sentence))
		for _, pattern := range attributePatterns {
			if rest, ok := strings.CutPrefix(lower, pattern.prefix); ok {
				rest = strings.TrimSpace(rest)
				if rest != "" {
					attrs[pattern.key] = rest
				}
			}
		}
	}
	return attrs
}
