package retrieval

import (
	"context"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"weaver/internal/config"
	"weaver/internal/errors"
	"weaver/internal/logging"
	"weaver/internal/registry"
)

// EffectivenessFunc supplies a feedback-derived effectiveness score in [0, 1]
// for a module id. The second return reports whether a score exists.
type EffectivenessFunc func(moduleID string) (float64, bool)

// Pipeline narrows the registry down to a relevant, budget-fitting subset.
type Pipeline struct {
	cfg           config.RetrievalConfig
	timeout       time.Duration
	reg           *registry.Registry
	embedQuery    registry.EmbedFunc
	rules         RuleSet
	effectiveness EffectivenessFunc
	logger        logging.Logger
	clock         func() time.Time
}

// PipelineOption configures optional pipeline collaborators.
type PipelineOption func(*Pipeline)

// WithRules installs the rule-based inclusion rules.
func WithRules(rules RuleSet) PipelineOption {
	return func(p *Pipeline) { p.rules = rules }
}

// WithEffectiveness wires the feedback store's per-module score into the
// rerank authority signal.
func WithEffectiveness(fn EffectivenessFunc) PipelineOption {
	return func(p *Pipeline) { p.effectiveness = fn }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger logging.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.clock = clock }
}

// NewPipeline constructs a retrieval pipeline. embedQuery may be nil, in
// which case every retrieval runs filter-only (degraded).
func NewPipeline(cfg config.RetrievalConfig, providerTimeout time.Duration, reg *registry.Registry, embedQuery registry.EmbedFunc, opts ...PipelineOption) *Pipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.RecencyHalfLife <= 0 {
		cfg.RecencyHalfLife = 24 * time.Hour
	}
	p := &Pipeline{
		cfg:        cfg,
		timeout:    providerTimeout,
		reg:        reg,
		embedQuery: embedQuery,
		logger:     logging.Nop(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// moduleFramingTokens is charged per selected module on top of its content
// tokens. The composer frames each knowledge module with an "[id]" label and
// a blank-line separator; budget-fit must leave room for that framing or the
// rendered section could overrun its quota.
const moduleFramingTokens = 8

func moduleCost(m *registry.Module) int {
	return m.TokenCount + moduleFramingTokens
}

// Selected is one module chosen for inclusion, with its scoring breakdown.
type Selected struct {
	Module   *registry.Module
	Score    float64
	Required bool
}

// Result is the outcome of one retrieval call.
type Result struct {
	Analysis   Analysis
	Selected   []Selected // required modules first, then reranked candidates
	UsedTokens int        // budget charged: content tokens plus framing per module
	Degraded   bool
}

// Retrieve runs stages two through five for a query whose analysis was
// already computed (the caller needs the complexity class for budget
// allocation before retrieval starts). Embedding the query and resolving the
// rule-based required set are independent and run concurrently; both complete
// (or the embedding degrades) before reranking proceeds. A missing required
// module or a required set that alone overflows the knowledge budget is a
// hard error; an embedding provider failure is not.
func (p *Pipeline) Retrieve(ctx context.Context, query string, analysis Analysis, filters registry.Filters, knowledgeBudget int) (*Result, error) {
	result := &Result{Analysis: analysis}

	var (
		queryEmbedding []float32
		required       []*registry.Module
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if p.embedQuery == nil {
			result.Degraded = true
			return nil
		}
		embedCtx := gctx
		if p.timeout > 0 {
			var cancel context.CancelFunc
			embedCtx, cancel = context.WithTimeout(gctx, p.timeout)
			defer cancel()
		}
		embedding, err := p.embedQuery(embedCtx, query)
		if err != nil {
			// Degrade to rule/filter-only retrieval rather than failing the
			// whole request.
			p.logger.Warn("query embedding failed, degrading retrieval: %v", err)
			result.Degraded = true
			return nil
		}
		queryEmbedding = embedding
		return nil
	})
	g.Go(func() error {
		for _, id := range p.rules.RequiredModules(analysis) {
			module, ok := p.reg.Get(id)
			if !ok {
				return &errors.ModuleNotFoundError{ID: id}
			}
			required = append(required, module)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	requiredTokens := 0
	requiredIDs := make(map[string]bool, len(required))
	for _, m := range required {
		requiredTokens += moduleCost(m)
		requiredIDs[m.ID] = true
	}
	if requiredTokens > knowledgeBudget {
		return nil, &errors.InsufficientBudgetError{
			Section:   "knowledge",
			Required:  requiredTokens,
			Available: knowledgeBudget,
		}
	}

	searchResults, searchDegraded := p.reg.Search(queryEmbedding, filters, p.cfg.TopK+len(required))
	if searchDegraded {
		result.Degraded = true
	}

	candidates := make([]Selected, 0, len(searchResults))
	for _, sr := range searchResults {
		if requiredIDs[sr.Module.ID] {
			continue
		}
		candidates = append(candidates, Selected{
			Module: sr.Module,
			Score:  p.rerankScore(sr),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Module.ID < candidates[j].Module.ID
	})
	if len(candidates) > p.cfg.TopK {
		candidates = candidates[:p.cfg.TopK]
	}

	// Budget-fit selection: required modules enter unconditionally (checked
	// above), then ranked candidates are included atomically while they fit.
	// A candidate that would overflow is skipped and iteration continues so
	// smaller modules further down can still use the remaining budget.
	now := p.clock()
	used := requiredTokens
	for _, m := range required {
		m.Touch(now)
		result.Selected = append(result.Selected, Selected{Module: m, Required: true})
	}
	for _, c := range candidates {
		if used+moduleCost(c.Module) > knowledgeBudget {
			continue
		}
		used += moduleCost(c.Module)
		c.Module.Touch(now)
		result.Selected = append(result.Selected, c)
	}
	result.UsedTokens = used

	return result, nil
}

// rerankScore combines similarity, recency decay, and authority into one
// score using the configured weights.
func (p *Pipeline) rerankScore(sr registry.SearchResult) float64 {
	age := p.clock().Sub(sr.Module.LastAccessed())
	if age < 0 {
		age = 0
	}
	recency := math.Exp(-math.Ln2 * age.Seconds() / p.cfg.RecencyHalfLife.Seconds())

	authority := sr.Module.Metadata.Priority.Weight()
	if p.effectiveness != nil {
		if score, ok := p.effectiveness(sr.Module.ID); ok {
			authority = (authority + score) / 2
		}
	}

	return p.cfg.SimilarityWeight*sr.Similarity +
		p.cfg.RecencyWeight*recency +
		p.cfg.AuthorityWeight*authority
}
