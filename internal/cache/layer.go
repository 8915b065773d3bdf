// Package cache memoizes the engine's expensive intermediates: embeddings
// (content-addressed), retrieval results, and final compositions. All caches
// are bounded LRUs. Any module mutation invalidates every entry transitively
// dependent on that module id: the retrieval cache is purged wholesale
// (a mutated module may newly qualify for queries it never matched before,
// which no dependency index can anticipate) while compositions are dropped
// precisely via a moduleID -> keys index. Embeddings are content-addressed
// and never go stale.
package cache

import (
	"context"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"weaver/internal/compose"
	"weaver/internal/config"
	"weaver/internal/logging"
	"weaver/internal/registry"
	"weaver/internal/retrieval"
)

// Layer bundles the three caches behind one invalidation contract.
type Layer struct {
	embeddings   *lru.Cache[string, []float32]
	retrievals   *lru.Cache[string, *retrieval.Result]
	compositions *lru.Cache[string, *compose.ComposedContext]

	group  singleflight.Group
	logger logging.Logger

	mu          sync.Mutex
	compDeps    map[string]map[string]struct{} // moduleID -> composition keys
	compKeyDeps map[string][]string            // composition key -> moduleIDs

	hits   atomic.Int64
	misses atomic.Int64
}

// New constructs the cache layer with the configured bounds.
func New(cfg config.CacheConfig, logger logging.Logger) (*Layer, error) {
	if cfg.EmbeddingEntries <= 0 {
		cfg.EmbeddingEntries = 4096
	}
	if cfg.RetrievalEntries <= 0 {
		cfg.RetrievalEntries = 512
	}
	if cfg.CompositionEntries <= 0 {
		cfg.CompositionEntries = 256
	}

	embeddings, err := lru.New[string, []float32](cfg.EmbeddingEntries)
	if err != nil {
		return nil, err
	}
	retrievals, err := lru.New[string, *retrieval.Result](cfg.RetrievalEntries)
	if err != nil {
		return nil, err
	}

	layer := &Layer{
		embeddings:  embeddings,
		retrievals:  retrievals,
		logger:      logging.OrNop(logger),
		compDeps:    map[string]map[string]struct{}{},
		compKeyDeps: map[string][]string{},
	}

	// Evictions must release the dependency index, so the composition cache
	// uses an eviction callback.
	compositions, err := lru.NewWithEvict[string, *compose.ComposedContext](cfg.CompositionEntries,
		func(key string, _ *compose.ComposedContext) {
			layer.dropCompKey(key)
		})
	if err != nil {
		return nil, err
	}
	layer.compositions = compositions
	return layer, nil
}

// Embedding returns the cached vector for text or computes it via fn.
// Concurrent identical computes collapse through singleflight, and a write
// only happens after a fully successful compute: a cancelled call never
// populates the cache with partial state.
func (l *Layer) Embedding(ctx context.Context, text string, fn registry.EmbedFunc) ([]float32, error) {
	key := HashContent(text)
	if embedding, ok := l.embeddings.Get(key); ok {
		l.hits.Add(1)
		return embedding, nil
	}
	l.misses.Add(1)

	result, err, _ := l.group.Do(key, func() (any, error) {
		embedding, err := fn(ctx, text)
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.embeddings.ContainsOrAdd(key, embedding)
		return embedding, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

// Retrieval returns the cached result for the key.
func (l *Layer) Retrieval(key string) (*retrieval.Result, bool) {
	result, ok := l.retrievals.Get(key)
	if ok {
		l.hits.Add(1)
	} else {
		l.misses.Add(1)
	}
	return result, ok
}

// PutRetrieval caches a retrieval result. Degraded results are not cached so
// provider recovery is observed on the next call.
func (l *Layer) PutRetrieval(key string, result *retrieval.Result) {
	if result == nil || result.Degraded {
		return
	}
	l.retrievals.ContainsOrAdd(key, result)
}

// Composition returns the cached composition for the key.
func (l *Layer) Composition(key string) (*compose.ComposedContext, bool) {
	composed, ok := l.compositions.Get(key)
	if ok {
		l.hits.Add(1)
	} else {
		l.misses.Add(1)
	}
	return composed, ok
}

// PutComposition caches a composition and records which modules it depends
// on. Degraded compositions are not cached.
func (l *Layer) PutComposition(key string, composed *compose.ComposedContext) {
	if composed == nil || composed.Degraded {
		return
	}

	l.mu.Lock()
	for _, id := range composed.ModuleIDs {
		deps, ok := l.compDeps[id]
		if !ok {
			deps = map[string]struct{}{}
			l.compDeps[id] = deps
		}
		deps[key] = struct{}{}
	}
	l.compKeyDeps[key] = append([]string(nil), composed.ModuleIDs...)
	l.mu.Unlock()

	l.compositions.ContainsOrAdd(key, composed)
}

// InvalidateModule drops every cache entry dependent on the module id.
func (l *Layer) InvalidateModule(moduleID string) {
	l.retrievals.Purge()

	l.mu.Lock()
	keys := l.compDeps[moduleID]
	delete(l.compDeps, moduleID)
	toDrop := make([]string, 0, len(keys))
	for key := range keys {
		toDrop = append(toDrop, key)
	}
	l.mu.Unlock()

	for _, key := range toDrop {
		l.compositions.Remove(key)
	}
	l.logger.Debug("invalidated caches for module %q (%d compositions)", moduleID, len(toDrop))
}

// Clear empties every cache. The simple alternative to precise invalidation.
func (l *Layer) Clear() {
	l.embeddings.Purge()
	l.retrievals.Purge()
	l.compositions.Purge()
	l.mu.Lock()
	l.compDeps = map[string]map[string]struct{}{}
	l.compKeyDeps = map[string][]string{}
	l.mu.Unlock()
}

// HitRate returns the fraction of lookups served from cache.
func (l *Layer) HitRate() float64 {
	hits := l.hits.Load()
	total := hits + l.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// dropCompKey removes a composition key from the dependency index.
// Called from the LRU eviction callback.
func (l *Layer) dropCompKey(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range l.compKeyDeps[key] {
		if deps, ok := l.compDeps[id]; ok {
			delete(deps, key)
			if len(deps) == 0 {
				delete(l.compDeps, id)
			}
		}
	}
	delete(l.compKeyDeps, key)
}
