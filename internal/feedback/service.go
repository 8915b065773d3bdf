package feedback

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Service offers recording plus a cached effectiveness lookup cheap enough
// to call from the rerank hot path.
type Service struct {
	store Store
	clock func() time.Time

	mu       sync.RWMutex
	averages map[string]float64
	loaded   bool
}

// NewService constructs a feedback service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Record stores one piece of feedback. When Score is zero and a comment is
// present, the comment's sentiment supplies the score.
func (s *Service) Record(ctx context.Context, entry Entry) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("feedback service not initialized")
	}
	entry.ModuleID = strings.TrimSpace(entry.ModuleID)
	if entry.ModuleID == "" {
		return fmt.Errorf("module_id is required")
	}
	if entry.Score == 0 && entry.Comment != "" {
		entry.Score = AnalyzeSentiment(entry.Comment)
	}
	if entry.Score < -1 || entry.Score > 1 {
		return fmt.Errorf("score %v out of range [-1, 1]", entry.Score)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock()
	}
	if err := s.store.Insert(ctx, entry); err != nil {
		return fmt.Errorf("record feedback: %w", err)
	}

	s.mu.Lock()
	s.loaded = false // recompute lazily on next lookup
	s.mu.Unlock()
	return nil
}

// Effectiveness returns the module's average feedback mapped into [0, 1],
// and whether any feedback exists. Lookup misses and store errors both
// report no score; rerank then falls back to the static priority weight.
func (s *Service) Effectiveness(moduleID string) (float64, bool) {
	if s == nil || s.store == nil {
		return 0, false
	}

	s.mu.RLock()
	loaded := s.loaded
	avg, ok := s.averages[moduleID]
	s.mu.RUnlock()

	if !loaded {
		s.refresh()
		s.mu.RLock()
		avg, ok = s.averages[moduleID]
		s.mu.RUnlock()
	}
	if !ok {
		return 0, false
	}
	// Map [-1, 1] sentiment space onto the [0, 1] authority scale.
	return (avg + 1) / 2, true
}

// Forget drops all feedback for a module, typically after re-registration
// changes its content enough that old signals no longer apply.
func (s *Service) Forget(ctx context.Context, moduleID string) error {
	if s == nil || s.store == nil {
		return nil
	}
	if err := s.store.Delete(ctx, moduleID); err != nil {
		return fmt.Errorf("forget feedback: %w", err)
	}
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
	return nil
}

func (s *Service) refresh() {
	averages, err := s.store.Averages(context.Background())
	if err != nil {
		return
	}
	s.mu.Lock()
	s.averages = averages
	s.loaded = true
	s.mu.Unlock()
}
