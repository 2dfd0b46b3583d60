// Package retrieval coordinates the tiered lookup path: short-term cache
// and long-term vector store are queried concurrently, merged, and handed
// to the reranker. A failed tier degrades the result instead of failing it.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memuri/internal/cache"
	"github.com/fyrsmithlabs/memuri/internal/memory"
	"github.com/fyrsmithlabs/memuri/internal/reranker"
	"github.com/fyrsmithlabs/memuri/internal/vectorstore"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/memuri/internal/retrieval")

// ErrEmptyQuery indicates a blank query string.
var ErrEmptyQuery = errors.New("query cannot be empty")

// Config holds retrieval configuration.
type Config struct {
	// InitialK is how many candidates each tier contributes before
	// reranking. Default: 20.
	InitialK int `koanf:"initial_k"`

	// DefaultK is the result size when the caller asks for none. Default: 5.
	DefaultK int `koanf:"default_k"`
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.InitialK == 0 {
		c.InitialK = 20
	}
	if c.DefaultK == 0 {
		c.DefaultK = 5
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.InitialK <= 0 {
		return errors.New("initial_k must be positive")
	}
	if c.DefaultK <= 0 {
		return errors.New("default_k must be positive")
	}
	return nil
}

// Options controls one retrieval call.
type Options struct {
	// Category filters candidates to a category (and its subcategories
	// when a bare group is given). Empty means no category filter.
	Category memory.Category

	// Scope filters candidates to an owning scope. Empty means no filter.
	Scope string

	// K is the number of results to return. Zero uses the configured
	// default.
	K int

	// InitialK overrides the per-tier candidate count. Zero uses the
	// configured default.
	InitialK int

	// SkipRerank returns merged candidates ordered by raw score.
	SkipRerank bool

	// Explain attaches score breakdowns to reranked results.
	Explain bool
}

// Result is the outcome of one retrieval.
type Result struct {
	// Items are the final ranked results.
	Items []reranker.Scored

	// Partial marks results assembled while a tier was failing or after
	// the deadline expired mid-flight.
	Partial bool

	// CacheCandidates and StoreCandidates count each tier's contribution
	// before merging.
	CacheCandidates int
	StoreCandidates int
}

// Coordinator fans a query out to both memory tiers.
type Coordinator struct {
	cfg      Config
	embedder vectorstore.Embedder
	store    vectorstore.Store
	cache    *cache.ShortTerm
	reranker *reranker.Reranker
	logger   *zap.Logger
}

// New creates a retrieval coordinator. cache and reranker may be nil; store
// and embedder are required.
func New(cfg Config, embedder vectorstore.Embedder, store vectorstore.Store, shortTerm *cache.ShortTerm, rr *reranker.Reranker, logger *zap.Logger) (*Coordinator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("retrieval config: %w", err)
	}
	if embedder == nil {
		return nil, errors.New("embedder cannot be nil")
	}
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		embedder: embedder,
		store:    store,
		cache:    shortTerm,
		reranker: rr,
		logger:   logger,
	}, nil
}

// Retrieve runs the tiered lookup. Both tiers are queried concurrently with
// the query embedding; candidates merge by item ID keeping the higher raw
// score. Tier failures and deadline expiry mark the result Partial rather
// than erroring, as long as at least the embedding succeeded.
func (c *Coordinator) Retrieve(ctx context.Context, query string, opts Options) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "retrieval.Retrieve")
	defer span.End()

	if query == "" {
		return nil, ErrEmptyQuery
	}
	k := opts.K
	if k <= 0 {
		k = c.cfg.DefaultK
	}
	initialK := opts.InitialK
	if initialK <= 0 {
		initialK = c.cfg.InitialK
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vector, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		err = fmt.Errorf("%w: embedding query: %v", memory.ErrDependencyUnavailable, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	merged, result := c.gather(ctx, vector, initialK, opts)

	ranked, err := c.rank(ctx, query, merged, k, opts)
	if err != nil {
		// Deadline expired mid-rerank: serve the merged candidates raw.
		c.logger.Warn("rerank failed, returning raw candidates", zap.Error(err))
		result.Partial = true
		ranked = rawRanked(merged, k)
	}
	result.Items = ranked

	span.SetAttributes(
		attribute.Int("retrieval.results", len(result.Items)),
		attribute.Bool("retrieval.partial", result.Partial),
	)
	observeRetrieval(time.Since(start), result)
	return result, nil
}

// gather queries both tiers concurrently and merges by item ID.
func (c *Coordinator) gather(ctx context.Context, vector []float32, initialK int, opts Options) ([]reranker.Candidate, *Result) {
	result := &Result{}

	type storeOut struct {
		cands []vectorstore.Candidate
		err   error
	}
	storeCh := make(chan storeOut, 1)
	go func() {
		cands, err := c.store.Query(ctx, vector, initialK, vectorstore.Filters{
			Category: opts.Category,
			Scope:    opts.Scope,
		})
		storeCh <- storeOut{cands: cands, err: err}
	}()

	var cacheCands []reranker.Candidate
	if c.cache != nil {
		for _, m := range c.cache.Similar(vector, initialK) {
			if !matchesFilters(m.Item, opts) {
				continue
			}
			cacheCands = append(cacheCands, reranker.Candidate{
				Item:      m.Item,
				Score:     m.Score,
				FromCache: true,
			})
		}
	}
	result.CacheCandidates = len(cacheCands)

	byID := make(map[string]reranker.Candidate, initialK*2)
	for _, cand := range cacheCands {
		byID[cand.Item.ID] = cand
	}

	select {
	case out := <-storeCh:
		if out.err != nil {
			c.logger.Warn("long-term store query failed", zap.Error(out.err))
			result.Partial = true
			break
		}
		result.StoreCandidates = len(out.cands)
		for _, sc := range out.cands {
			item := sc.Item
			if existing, ok := byID[item.ID]; ok {
				if sc.Score > existing.Score {
					existing.Score = sc.Score
					byID[item.ID] = existing
				}
				continue
			}
			byID[item.ID] = reranker.Candidate{Item: item, Score: sc.Score}
		}
	case <-ctx.Done():
		c.logger.Warn("deadline expired awaiting long-term store", zap.Error(ctx.Err()))
		result.Partial = true
	}

	merged := make([]reranker.Candidate, 0, len(byID))
	for _, cand := range byID {
		merged = append(merged, cand)
	}
	return merged, result
}

func (c *Coordinator) rank(ctx context.Context, query string, merged []reranker.Candidate, k int, opts Options) ([]reranker.Scored, error) {
	if opts.SkipRerank || c.reranker == nil {
		return rawRanked(merged, k), nil
	}
	return c.reranker.Rerank(ctx, query, merged, reranker.Options{K: k, Explain: opts.Explain})
}

// rawRanked orders candidates by raw retrieval score, ID ascending on ties.
func rawRanked(cands []reranker.Candidate, k int) []reranker.Scored {
	sorted := make([]reranker.Candidate, len(cands))
	copy(sorted, cands)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Item.ID < sorted[j].Item.ID
	})
	if k > 0 && len(sorted) > k {
		sorted = sorted[:k]
	}
	out := make([]reranker.Scored, len(sorted))
	for i, cand := range sorted {
		out[i] = reranker.Scored{Candidate: cand, Final: cand.Score, Semantic: cand.Score}
	}
	return out
}

// matchesFilters applies the same category and scope semantics to cache
// candidates that the store backends apply server-side.
func matchesFilters(item *memory.Item, opts Options) bool {
	if item == nil {
		return false
	}
	if opts.Scope != "" && item.Scope != opts.Scope {
		return false
	}
	f := vectorstore.Filters{Category: opts.Category, Scope: opts.Scope}
	return f.MatchesCategory(item.Category)
}
