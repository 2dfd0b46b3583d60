// Package reranker fuses multiple relevance signals into a final ranking
// over an already-retrieved candidate set. It never fetches new candidates;
// the retrieval coordinator owns recall, the reranker owns precision.
package reranker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memuri/internal/memory"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/memuri/internal/reranker")

// CrossEncoder scores the relevance of a text to a query, in [0,1].
type CrossEncoder interface {
	Score(ctx context.Context, query, text string) (float64, error)
}

// MetadataScorer contributes a metadata-derived score, in [0,1].
type MetadataScorer interface {
	Score(query string, item *memory.Item) (float64, error)
}

// DecayFunc maps item age to a score in [0,1], monotonically non-increasing.
type DecayFunc func(age time.Duration) float64

// ExponentialDecay returns a half-life decay function: score halves every
// halfLife. A non-positive halfLife yields constant 1.
func ExponentialDecay(halfLife time.Duration) DecayFunc {
	return func(age time.Duration) float64 {
		if halfLife <= 0 {
			return 1
		}
		if age <= 0 {
			return 1
		}
		return math.Exp2(-age.Hours() / halfLife.Hours())
	}
}

// Candidate is one retrieved item with its raw retrieval score.
type Candidate struct {
	Item *memory.Item

	// Score is the raw similarity from the retrieval tier.
	Score float64

	// FromCache marks candidates served by the short-term tier.
	FromCache bool
}

// Scored is a candidate with its fused final score.
type Scored struct {
	Candidate

	// Final is the fused ranking score.
	Final float64

	// Semantic is the cross-encoder score used in the fusion.
	Semantic float64

	// Explanation is populated only when requested.
	Explanation *memory.RerankExplanation
}

// Options controls one rerank call.
type Options struct {
	// K truncates the output. Zero keeps everything.
	K int

	// Explain attaches per-candidate score breakdowns.
	Explain bool
}

// Config holds the fusion weights and decay shape.
type Config struct {
	// Alpha weights the semantic (cross-encoder) score.
	Alpha float64 `koanf:"alpha"`

	// Beta weights the time-decay score.
	Beta float64 `koanf:"beta"`

	// Gamma weights the metadata score.
	Gamma float64 `koanf:"gamma"`

	// HalfLife shapes the default exponential decay. Default: 168h.
	HalfLife time.Duration `koanf:"half_life"`
}

// ApplyDefaults fills in zero values. A fully zero weight set gets the
// standard 0.7/0.3/0 split.
func (c *Config) ApplyDefaults() {
	if c.Alpha == 0 && c.Beta == 0 && c.Gamma == 0 {
		c.Alpha = 0.7
		c.Beta = 0.3
	}
	if c.HalfLife == 0 {
		c.HalfLife = 168 * time.Hour
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	for name, w := range map[string]float64{"alpha": c.Alpha, "beta": c.Beta, "gamma": c.Gamma} {
		if w < 0 {
			return fmt.Errorf("rerank weight %s cannot be negative", name)
		}
	}
	if c.HalfLife < 0 {
		return fmt.Errorf("rerank half_life cannot be negative")
	}
	return nil
}

// Reranker fuses semantic, recency, and metadata signals.
type Reranker struct {
	cfg      Config
	encoder  CrossEncoder
	decay    DecayFunc
	metadata MetadataScorer
	logger   *zap.Logger
	now      func() time.Time
}

// Option customizes a Reranker.
type Option func(*Reranker)

// WithDecay replaces the default exponential decay.
func WithDecay(fn DecayFunc) Option {
	return func(r *Reranker) { r.decay = fn }
}

// WithMetadataScorer replaces the default zero metadata scorer.
func WithMetadataScorer(s MetadataScorer) Option {
	return func(r *Reranker) { r.metadata = s }
}

// New creates a reranker. A nil encoder falls back to raw retrieval scores
// for the semantic component.
func New(cfg Config, encoder CrossEncoder, logger *zap.Logger, opts ...Option) (*Reranker, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rerank config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Reranker{
		cfg:     cfg,
		encoder: encoder,
		decay:   ExponentialDecay(cfg.HalfLife),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Rerank scores and orders candidates. Deterministic for identical inputs:
// ties order by descending semantic score, then ascending item ID. Failures
// of optional signals contribute zero; a cross-encoder failure falls back
// to the candidate's raw retrieval score.
func (r *Reranker) Rerank(ctx context.Context, query string, cands []Candidate, opts Options) ([]Scored, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "reranker.Rerank")
	defer span.End()
	span.SetAttributes(attribute.Int("rerank.candidates", len(cands)))

	if len(cands) == 0 {
		return []Scored{}, nil
	}

	now := r.now()
	scored := make([]Scored, 0, len(cands))
	for _, cand := range cands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if cand.Item == nil {
			continue
		}

		semantic := r.semanticScore(ctx, query, cand)
		decay := r.decayScore(cand.Item.Age(now))
		meta := r.metadataScore(query, cand.Item)

		final := r.cfg.Alpha*semantic + r.cfg.Beta*decay + r.cfg.Gamma*meta

		s := Scored{Candidate: cand, Final: final, Semantic: semantic}
		if opts.Explain {
			s.Explanation = &memory.RerankExplanation{
				Semantic: semantic,
				Decay:    decay,
				Metadata: meta,
				Final:    final,
			}
		}
		scored = append(scored, s)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Final != scored[j].Final {
			return scored[i].Final > scored[j].Final
		}
		if scored[i].Semantic != scored[j].Semantic {
			return scored[i].Semantic > scored[j].Semantic
		}
		return scored[i].Item.ID < scored[j].Item.ID
	})

	if opts.K > 0 && len(scored) > opts.K {
		scored = scored[:opts.K]
	}

	rerankDuration.Observe(time.Since(start).Seconds())
	return scored, nil
}

func (r *Reranker) semanticScore(ctx context.Context, query string, cand Candidate) float64 {
	if r.encoder == nil {
		return clamp01(cand.Score)
	}
	score, err := r.encoder.Score(ctx, query, cand.Item.Content)
	if err != nil {
		r.logger.Warn("cross-encoder failed, using retrieval score",
			zap.String("item_id", cand.Item.ID), zap.Error(err))
		return clamp01(cand.Score)
	}
	return clamp01(score)
}

func (r *Reranker) decayScore(age time.Duration) float64 {
	if r.decay == nil {
		return 0
	}
	return clamp01(r.decay(age))
}

func (r *Reranker) metadataScore(query string, item *memory.Item) float64 {
	if r.metadata == nil {
		return 0
	}
	score, err := r.metadata.Score(query, item)
	if err != nil {
		r.logger.Warn("metadata scorer failed, contributing zero",
			zap.String("item_id", item.ID), zap.Error(err))
		return 0
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
