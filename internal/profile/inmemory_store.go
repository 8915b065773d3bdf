package profile

import (
	"context"
	"sync"
)

// InMemoryStore implements Store for tests and embedded use.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewInMemoryStore constructs an in-memory profile store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{profiles: make(map[string]Profile)}
}

// EnsureSchema is a no-op for in-memory storage.
func (s *InMemoryStore) EnsureSchema(_ context.Context) error {
	return nil
}

// Load returns the stored profile for the user, if any.
func (s *InMemoryStore) Load(_ context.Context, userID string) (Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return Profile{}, false, nil
	}
	return profile.Clone(), true, nil
}

// Save stores a copy of the profile.
func (s *InMemoryStore) Save(_ context.Context, profile Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.ID] = profile.Clone()
	return nil
}

// Delete removes the user's profile.
func (s *InMemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, userID)
	return nil
}
