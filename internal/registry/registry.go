package registry

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"weaver/internal/logging"
	"weaver/internal/ports"
)

// EmbedFunc computes an embedding for module content. The cache layer
// supplies one that memoizes by content hash; tests supply deterministic
// fakes. A nil EmbedFunc disables embeddings entirely (filter-only search).
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// snapshot is the immutable module map readers operate on.
type snapshot struct {
	modules map[string]*Module
}

// Registry owns all context modules. Mutations are serialized and build a
// fresh snapshot (copy-on-write); lookups and searches read the current
// snapshot without locking.
type Registry struct {
	tokenizer ports.Tokenizer
	embed     EmbedFunc
	onMutate  func(id string)
	logger    logging.Logger
	clock     func() time.Time

	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

// Option configures a Registry.
type Option func(*Registry)

// WithEmbedFunc sets the embedding computation used at registration.
func WithEmbedFunc(fn EmbedFunc) Option {
	return func(r *Registry) { r.embed = fn }
}

// WithOnMutate registers a hook fired after any registration or removal,
// with the affected module id. The engine wires cache invalidation here.
func WithOnMutate(fn func(id string)) Option {
	return func(r *Registry) { r.onMutate = fn }
}

// WithLogger sets the registry logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

// New constructs an empty registry.
func New(tokenizer ports.Tokenizer, opts ...Option) *Registry {
	r := &Registry{
		tokenizer: tokenizer,
		logger:    logging.Nop(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(&snapshot{modules: map[string]*Module{}})
	return r
}

// Register stores a module under id, computing its token count and embedding.
// Re-registration under the same id overwrites content and derived fields;
// the mutation hook lets dependents drop stale cache entries. An embedding
// provider failure is absorbed: the module is stored without an embedding and
// similarity search degrades for it.
func (r *Registry) Register(ctx context.Context, id, content string, metadata Metadata) (*Module, error) {
	if metadata.Priority == "" {
		metadata.Priority = PriorityMedium
	}

	module := &Module{
		ID:         id,
		Content:    content,
		Metadata:   metadata,
		TokenCount: r.tokenizer.CountTokens(content),
		registered: r.clock(),
	}

	if r.embed != nil {
		embedding, err := r.embed(ctx, content)
		if err != nil {
			r.logger.Warn("embedding unavailable for module %q, storing without vector: %v", id, err)
		} else {
			module.Embedding = embedding
		}
	}

	r.writeMu.Lock()
	old := r.current.Load()
	next := make(map[string]*Module, len(old.modules)+1)
	for k, v := range old.modules {
		next[k] = v
	}
	next[id] = module
	r.current.Store(&snapshot{modules: next})
	r.writeMu.Unlock()

	if r.onMutate != nil {
		r.onMutate(id)
	}
	return module, nil
}

// Remove deletes a module. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.writeMu.Lock()
	old := r.current.Load()
	if _, ok := old.modules[id]; !ok {
		r.writeMu.Unlock()
		return
	}
	next := make(map[string]*Module, len(old.modules))
	for k, v := range old.modules {
		if k != id {
			next[k] = v
		}
	}
	r.current.Store(&snapshot{modules: next})
	r.writeMu.Unlock()

	if r.onMutate != nil {
		r.onMutate(id)
	}
}

// Get returns the module registered under id.
func (r *Registry) Get(id string) (*Module, bool) {
	m, ok := r.current.Load().modules[id]
	return m, ok
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	return len(r.current.Load().modules)
}

// All returns every module in ascending id order.
func (r *Registry) All() []*Module {
	snap := r.current.Load()
	modules := make([]*Module, 0, len(snap.modules))
	for _, m := range snap.modules {
		modules = append(modules, m)
	}
	sort.Slice(modules, func(i, j int) bool { return modules[i].ID < modules[j].ID })
	return modules
}

// SearchResult pairs a module with its similarity to the query embedding.
// Similarity is zero when ranking was degraded to filter-only.
type SearchResult struct {
	Module     *Module
	Similarity float64
}

// Search returns the top-limit modules by cosine similarity among those
// passing the filters, ties broken by ascending module id. With a nil query
// embedding (provider unavailable) it falls back to filter-only results,
// ordered by id, and reports degraded=true. It never fails for that
// condition.
func (r *Registry) Search(queryEmbedding []float32, filters Filters, limit int) (results []SearchResult, degraded bool) {
	snap := r.current.Load()

	candidates := make([]*Module, 0, len(snap.modules))
	for _, m := range snap.modules {
		if filters.Match(m) {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	if len(queryEmbedding) == 0 {
		degraded = true
		if limit > 0 && len(candidates) > limit {
			candidates = candidates[:limit]
		}
		results = make([]SearchResult, len(candidates))
		for i, m := range candidates {
			results[i] = SearchResult{Module: m}
		}
		return results, degraded
	}

	results = make([]SearchResult, 0, len(candidates))
	for _, m := range candidates {
		if len(m.Embedding) == 0 {
			// Module registered while the provider was down; it still
			// participates, just without a similarity signal.
			degraded = true
			results = append(results, SearchResult{Module: m})
			continue
		}
		results = append(results, SearchResult{
			Module:     m,
			Similarity: CosineSimilarity(queryEmbedding, m.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Module.ID < results[j].Module.ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, degraded
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
