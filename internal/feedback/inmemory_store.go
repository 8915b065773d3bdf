package feedback

import (
	"context"
	"sync"
)

// InMemoryStore implements Store for tests and embedded use without a
// database file.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewInMemoryStore constructs an in-memory feedback store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// EnsureSchema is a no-op for in-memory storage.
func (s *InMemoryStore) EnsureSchema(_ context.Context) error {
	return nil
}

// Insert appends one feedback entry.
func (s *InMemoryStore) Insert(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Averages returns the mean score per module id.
func (s *InMemoryStore) Averages(_ context.Context) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := map[string]float64{}
	counts := map[string]int{}
	for _, entry := range s.entries {
		sums[entry.ModuleID] += entry.Score
		counts[entry.ModuleID]++
	}
	averages := make(map[string]float64, len(sums))
	for id, sum := range sums {
		averages[id] = sum / float64(counts[id])
	}
	return averages, nil
}

// Delete removes all entries for the module.
func (s *InMemoryStore) Delete(_ context.Context, moduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, entry := range s.entries {
		if entry.ModuleID != moduleID {
			kept = append(kept, entry)
		}
	}
	s.entries = kept
	return nil
}
