// Package engine wires the registry, budget allocator, retrieval pipeline,
// conversation manager, profile store, and composer into a single facade.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	promclient "github.com/prometheus/client_golang/prometheus"

	"weaver/internal/budget"
	"weaver/internal/cache"
	"weaver/internal/compose"
	"weaver/internal/config"
	"weaver/internal/conversation"
	"weaver/internal/errors"
	"weaver/internal/feedback"
	"weaver/internal/logging"
	"weaver/internal/ports"
	"weaver/internal/profile"
	"weaver/internal/registry"
	"weaver/internal/retrieval"
	"weaver/internal/tokenutil"
)

// Options carries the engine's injectable collaborators. Only the zero value
// is required: a nil Embedder runs retrieval filter-only (degraded), a nil
// Summarizer falls back to truncation, and nil stores default to in-memory.
type Options struct {
	Tokenizer      ports.Tokenizer
	Embedder       ports.EmbeddingProvider
	Summarizer     ports.Summarizer
	ProfileStore   profile.Store
	FeedbackStore  feedback.Store
	EmbeddingIndex *registry.EmbeddingIndex
	Rules          retrieval.RuleSet
	SystemText     string
	Logger         logging.Logger
	Registerer     promclient.Registerer
}

// Engine is the composition engine facade.
type Engine struct {
	cfg       config.Config
	logger    logging.Logger
	tokenizer ports.Tokenizer

	registry      *registry.Registry
	allocator     *budget.Allocator
	pipeline      *retrieval.Pipeline
	conversations *conversation.Manager
	profiles      *profile.Service
	feedback      *feedback.Service
	composer      *compose.Composer
	caches        *cache.Layer
	breaker       *errors.CircuitBreaker

	systemText string
	metrics    *metrics
	tracer     trace.Tracer

	composeCount  atomic.Int64
	degradedCount atomic.Int64
	tokensServed  atomic.Int64
}

// New builds an engine from the configuration and options. The context
// bounds store schema setup only; it is not retained.
func New(ctx context.Context, cfg config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.OrNop(opts.Logger)

	tokenizer := opts.Tokenizer
	if tokenizer == nil {
		tokenizer = tokenutil.Default()
	}

	caches, err := cache.New(cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("build cache layer: %w", err)
	}
	allocator, err := budget.NewAllocator(cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		tokenizer:  tokenizer,
		allocator:  allocator,
		caches:     caches,
		systemText: opts.SystemText,
		tracer:     otel.Tracer("weaver/engine"),
	}

	embedFunc := e.buildEmbedFunc(opts.Embedder, opts.EmbeddingIndex)
	e.registry = registry.New(tokenizer,
		registry.WithEmbedFunc(embedFunc),
		registry.WithOnMutate(caches.InvalidateModule),
		registry.WithLogger(logger),
	)

	profileStore := opts.ProfileStore
	if profileStore == nil {
		profileStore = profile.NewInMemoryStore()
	}
	if err := profileStore.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("profile store schema: %w", err)
	}
	e.profiles = profile.NewService(profileStore, cfg.Profile.MaxHistory)

	feedbackStore := opts.FeedbackStore
	if feedbackStore == nil {
		feedbackStore = feedback.NewInMemoryStore()
	}
	if err := feedbackStore.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("feedback store schema: %w", err)
	}
	e.feedback = feedback.NewService(feedbackStore)

	e.pipeline = retrieval.NewPipeline(cfg.Retrieval, cfg.Providers.Timeout, e.registry, embedFunc,
		retrieval.WithRules(opts.Rules),
		retrieval.WithEffectiveness(e.feedback.Effectiveness),
		retrieval.WithLogger(logger),
	)
	e.conversations = conversation.NewManager(cfg.Conversation, cfg.Providers.Timeout, opts.Summarizer, tokenizer,
		conversation.WithLogger(logger),
	)
	e.composer = compose.NewComposer(compose.NewAdapterRegistry(logger), tokenizer, logger)

	m, err := newMetrics("weaver", opts.Registerer)
	if err != nil {
		return nil, err
	}
	e.metrics = m

	return e, nil
}

// buildEmbedFunc chains the embedding provider behind a circuit breaker, the
// persistent content-hash index, and the in-process LRU. A nil provider
// yields a nil EmbedFunc, which downstream components treat as "run without
// embeddings".
func (e *Engine) buildEmbedFunc(provider ports.EmbeddingProvider, index *registry.EmbeddingIndex) registry.EmbedFunc {
	if provider == nil {
		return nil
	}
	e.breaker = errors.NewCircuitBreaker("embedder", errors.DefaultCircuitBreakerConfig(), e.logger)

	compute := func(ctx context.Context, text string) ([]float32, error) {
		hash := cache.HashContent(text)
		if index != nil {
			if embedding, ok := index.Lookup(ctx, hash); ok {
				return embedding, nil
			}
		}
		embedding, err := errors.ExecuteFunc(e.breaker, ctx, func(ctx context.Context) ([]float32, error) {
			return provider.Embed(ctx, text)
		})
		if err != nil {
			return nil, err
		}
		if index != nil {
			if err := index.Store(ctx, hash, embedding); err != nil {
				e.logger.Warn("persist embedding %s: %v", hash[:12], err)
			}
		}
		return embedding, nil
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.caches.Embedding(ctx, text, compute)
	}
}

// Request identifies one composition call.
type Request struct {
	Query          string
	ConversationID string
	UserID         string
	TargetModel    string
	Filters        registry.Filters
}

// Compose runs the full pipeline for a request: analyze, allocate, retrieve,
// and render. Provider failures inside retrieval degrade the result instead
// of failing it; budget violations on mandatory sections and missing
// required modules are hard errors.
func (e *Engine) Compose(ctx context.Context, req Request) (composed *compose.ComposedContext, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Compose",
		trace.WithAttributes(
			attribute.String("target_model", req.TargetModel),
			attribute.String("conversation_id", req.ConversationID),
		))
	start := time.Now()
	defer func() {
		tokens, degraded := 0, false
		if composed != nil {
			tokens, degraded = composed.TotalTokens, composed.Degraded
		}
		e.metrics.recordCompose(time.Since(start), tokens, degraded, err)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if req.Query == "" {
		return nil, fmt.Errorf("compose: query must not be empty")
	}

	analysis := retrieval.Analyze(req.Query, e.tokenizer)
	span.SetAttributes(
		attribute.String("query.intent", string(analysis.Intent)),
		attribute.String("query.complexity", string(analysis.Complexity)),
	)

	history := e.conversations.Snapshot(req.ConversationID)
	b, err := e.allocator.Allocate(analysis.Complexity, !history.Empty())
	if err != nil {
		return nil, err
	}

	userProfile, err := e.resolveProfile(ctx, req.UserID, req.Query)
	if err != nil {
		// Profile storage trouble never blocks composition.
		e.logger.Warn("profile update for %q: %v", req.UserID, err)
	}

	knowledgeQuota := b.Quota(budget.SectionKnowledge)
	retrievalKey := cache.RetrievalKey(req.Query, req.Filters, knowledgeQuota)
	result, ok := e.caches.Retrieval(retrievalKey)
	if !ok {
		result, err = e.pipeline.Retrieve(ctx, req.Query, analysis, req.Filters, knowledgeQuota)
		if err != nil {
			return nil, err
		}
		e.caches.PutRetrieval(retrievalKey, result)
	}

	modules := make([]*registry.Module, 0, len(result.Selected))
	moduleIDs := make([]string, 0, len(result.Selected))
	for _, sel := range result.Selected {
		modules = append(modules, sel.Module)
		moduleIDs = append(moduleIDs, sel.Module.ID)
	}

	compositionKey := cache.CompositionKey(moduleIDs,
		cache.ConversationHash(history),
		cache.ProfileHash(userProfile.Attributes),
		req.Query,
		req.TargetModel,
	)
	if cached, ok := e.caches.Composition(compositionKey); ok {
		e.recordServed(cached)
		return cached, nil
	}

	composed, err = e.composer.Compose(compose.Input{
		SystemText:  e.systemText,
		Query:       req.Query,
		Modules:     modules,
		History:     history,
		Profile:     userProfile,
		TargetModel: req.TargetModel,
		Budget:      b,
		Degraded:    result.Degraded,
	})
	if err != nil {
		return nil, err
	}
	e.caches.PutComposition(compositionKey, composed)
	e.recordServed(composed)
	return composed, nil
}

func (e *Engine) recordServed(composed *compose.ComposedContext) {
	e.composeCount.Add(1)
	e.tokensServed.Add(int64(composed.TotalTokens))
	if composed.Degraded {
		e.degradedCount.Add(1)
	}
}

// resolveProfile updates the profile from the query when a user id is set.
// The returned profile is usable even when err is non-nil.
func (e *Engine) resolveProfile(ctx context.Context, userID, query string) (profile.Profile, error) {
	if userID == "" {
		return profile.Profile{}, nil
	}
	updated, err := e.profiles.Update(ctx, userID, query)
	if err != nil {
		return profile.Profile{ID: userID}, err
	}
	return updated, nil
}

// RecordExchange appends a completed user/assistant exchange to the
// conversation, summarizing or truncating older turns as needed.
func (e *Engine) RecordExchange(ctx context.Context, conversationID, userMessage, assistantMessage string) (conversation.AppendResult, error) {
	return e.conversations.Append(ctx, conversationID, userMessage, assistantMessage)
}

// RegisterModule adds or replaces a knowledge module. Replacement
// invalidates every cached retrieval and any cached composition that
// included the module.
func (e *Engine) RegisterModule(ctx context.Context, id, content string, metadata registry.Metadata) (*registry.Module, error) {
	return e.registry.Register(ctx, id, content, metadata)
}

// RemoveModule deletes a module and invalidates dependent cache entries.
// Removing an unknown id is a no-op.
func (e *Engine) RemoveModule(id string) {
	e.registry.Remove(id)
}

// InvalidateModule drops every cached retrieval and composition that
// depends on the module, without removing the module itself. Useful when a
// caller knows derived state went stale out of band.
func (e *Engine) InvalidateModule(id string) {
	e.caches.InvalidateModule(id)
}

// Module returns a registered module by id.
func (e *Engine) Module(id string) (*registry.Module, bool) {
	return e.registry.Get(id)
}

// Modules returns all registered modules ordered by id.
func (e *Engine) Modules() []*registry.Module {
	return e.registry.All()
}

// RecordFeedback stores a relevance signal for a module. Feedback survives
// module re-registration: effectiveness keys on the module id, not the
// content hash.
func (e *Engine) RecordFeedback(ctx context.Context, entry feedback.Entry) error {
	if _, ok := e.registry.Get(entry.ModuleID); !ok {
		return &errors.ModuleNotFoundError{ID: entry.ModuleID}
	}
	return e.feedback.Record(ctx, entry)
}

// ResetConversation discards all state for a conversation id.
func (e *Engine) ResetConversation(conversationID string) {
	e.conversations.Reset(conversationID)
}

// ResetProfile deletes a user's stored profile.
func (e *Engine) ResetProfile(ctx context.Context, userID string) error {
	return e.profiles.Reset(ctx, userID)
}

// Stats is a point-in-time operational snapshot.
type Stats struct {
	ModuleCount   int     `json:"module_count"`
	ComposeCount  int64   `json:"compose_count"`
	DegradedCount int64   `json:"degraded_count"`
	AvgTokens     float64 `json:"avg_tokens"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	EmbedderState string  `json:"embedder_state,omitempty"`
	TotalTokenCap int     `json:"total_token_cap"`
}

// Stats reports engine counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		ModuleCount:   e.registry.Len(),
		ComposeCount:  e.composeCount.Load(),
		DegradedCount: e.degradedCount.Load(),
		CacheHitRate:  e.caches.HitRate(),
		TotalTokenCap: e.cfg.TotalTokenLimit,
	}
	if s.ComposeCount > 0 {
		s.AvgTokens = float64(e.tokensServed.Load()) / float64(s.ComposeCount)
	}
	if e.breaker != nil {
		s.EmbedderState = e.breaker.State().String()
	}
	return s
}
