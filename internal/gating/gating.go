// Package gating implements the write-time gating evaluator: the decision
// of whether a candidate text is worth remembering, and where it belongs.
//
// Evaluation is side-effect free. The evaluator returns a decision; the
// service layer persists (or doesn't) accordingly.
package gating

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memuri/internal/cache"
	"github.com/fyrsmithlabs/memuri/internal/classifier"
	"github.com/fyrsmithlabs/memuri/internal/memory"
	"github.com/fyrsmithlabs/memuri/internal/vectorstore"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/memuri/internal/gating")

// defaultSkipWords are standalone acknowledgements that carry no memory
// value. Matched exactly against the normalized candidate.
var defaultSkipWords = []string{
	"ok", "okay", "k", "kk", "thanks", "thank you", "thx", "ty",
	"yes", "no", "yeah", "nah", "yep", "nope", "sure",
	"hi", "hello", "hey", "bye", "goodbye",
	"lol", "haha", "hmm", "cool", "nice", "great", "got it",
}

// defaultKeepPhrases force acceptance when present anywhere in the
// candidate, regardless of redundancy or confidence.
var defaultKeepPhrases = []string{
	"remember this", "remember that", "don't forget", "important:",
	"note this", "keep in mind",
}

// Config holds gating configuration.
type Config struct {
	// MinContentLength rejects shorter candidates outright. Default: 10.
	MinContentLength int `koanf:"min_content_length"`

	// SimilarityThreshold rejects candidates whose cosine similarity to a
	// recent accepted item meets or exceeds it. Default: 0.85.
	SimilarityThreshold float64 `koanf:"similarity_threshold"`

	// SkipWords replace the built-in skip list when non-empty.
	SkipWords []string `koanf:"skip_words"`

	// KeepPhrases replace the built-in always-keep list when non-empty.
	KeepPhrases []string `koanf:"keep_phrases"`

	// RecentWindow bounds how many recent vectors the redundancy check
	// scans. Default: 64.
	RecentWindow int `koanf:"recent_window"`
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.MinContentLength == 0 {
		c.MinContentLength = 10
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.85
	}
	if len(c.SkipWords) == 0 {
		c.SkipWords = defaultSkipWords
	}
	if len(c.KeepPhrases) == 0 {
		c.KeepPhrases = defaultKeepPhrases
	}
	if c.RecentWindow == 0 {
		c.RecentWindow = 64
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MinContentLength < 0 {
		return errors.New("min_content_length cannot be negative")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold %v outside [0,1]", c.SimilarityThreshold)
	}
	if c.RecentWindow < 0 {
		return errors.New("recent_window cannot be negative")
	}
	return nil
}

// RecentWindow supplies the vectors of recently accepted items for the
// redundancy check. Satisfied by cache.ShortTerm.
type RecentWindow interface {
	RecentVectors(n int) [][]float32
}

// Context carries per-candidate evaluation inputs.
type Context struct {
	// Category, when set, wins over classification.
	Category memory.Category

	// Scope identifies the owning conversation or user.
	Scope string

	// Source of the candidate text.
	Source memory.Source
}

// Evaluator decides whether candidates are worth persisting.
type Evaluator struct {
	cfg      Config
	embedder vectorstore.Embedder
	window   RecentWindow
	models   *classifier.Ref
	rules    *memory.RuleTableRef
	logger   *zap.Logger

	skipWords   map[string]bool
	keepPhrases []string
}

// New creates a gating evaluator. embedder and window may be nil, in which
// case redundancy checking is skipped and decisions are degraded.
func New(cfg Config, embedder vectorstore.Embedder, window RecentWindow, models *classifier.Ref, rules *memory.RuleTableRef, logger *zap.Logger) (*Evaluator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gating config: %w", err)
	}
	if rules == nil {
		return nil, errors.New("rule table reference cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	skip := make(map[string]bool, len(cfg.SkipWords))
	for _, w := range cfg.SkipWords {
		skip[normalize(w)] = true
	}
	phrases := make([]string, 0, len(cfg.KeepPhrases))
	for _, p := range cfg.KeepPhrases {
		phrases = append(phrases, strings.ToLower(strings.TrimSpace(p)))
	}

	return &Evaluator{
		cfg:         cfg,
		embedder:    embedder,
		window:      window,
		models:      models,
		rules:       rules,
		logger:      logger,
		skipWords:   skip,
		keepPhrases: phrases,
	}, nil
}

// Evaluate runs the gating pipeline over one candidate. The pipeline
// short-circuits: hard filters, then redundancy, then classification, then
// the category rule. Dependency failures degrade to hard-filters-only
// rather than erroring; only caller cancellation returns an error.
func (e *Evaluator) Evaluate(ctx context.Context, candidate string, gctx Context) (*memory.GatingDecision, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "gating.Evaluate")
	defer span.End()

	decision, err := e.evaluate(ctx, candidate, gctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("gating.accepted", decision.Accepted),
		attribute.String("gating.category", string(decision.Category)),
		attribute.String("gating.reason", decision.Reason),
	)
	observeDecision(decision, time.Since(start))

	e.logger.Debug("gating decision",
		zap.String("scope", gctx.Scope),
		zap.Bool("accepted", decision.Accepted),
		zap.String("category", string(decision.Category)),
		zap.Float64("confidence", decision.Confidence),
		zap.String("reason", decision.Reason))
	return decision, nil
}

func (e *Evaluator) evaluate(ctx context.Context, candidate string, gctx Context) (*memory.GatingDecision, error) {
	trimmed := strings.TrimSpace(candidate)

	// Hard filters need no external calls.
	if len(trimmed) < e.cfg.MinContentLength {
		return memory.Reject(fallbackCategory(gctx), 0, memory.ReasonBelowMinLength), nil
	}
	if e.skipWords[normalize(trimmed)] {
		return memory.Reject(fallbackCategory(gctx), 0, memory.ReasonSkipWord), nil
	}

	keep := e.matchKeepPhrase(trimmed)

	degraded := false
	if !keep {
		redundant, checked, err := e.checkRedundancy(ctx, trimmed)
		if err != nil {
			if isCancellation(err) {
				return nil, err
			}
			e.logger.Warn("redundancy check degraded", zap.Error(err))
			degraded = true
		} else if checked && redundant {
			return memory.Reject(fallbackCategory(gctx), 0, memory.ReasonRedundant), nil
		}
	}

	category, confidence, classified := e.classify(ctx, trimmed, gctx)
	if !classified {
		degraded = true
	}

	rule := e.rules.Load().Rule(category)

	if keep {
		// Always-keep bypasses redundancy and confidence but honors a
		// short-term-only rule so chatter categories stay out of the store.
		return memory.Accept(category, confidence, placementFor(rule.Action), memory.ReasonKeepPhrase), nil
	}

	if degraded {
		return memory.Accept(category, confidence, placementFor(rule.Action), memory.ReasonDegraded), nil
	}

	switch rule.Action {
	case memory.ActionReject:
		return memory.Reject(category, confidence, memory.ReasonRuleReject), nil
	case memory.ActionShortTermOnly:
		return memory.Accept(category, confidence, memory.PlaceShortTermOnly, memory.ReasonRuleAccept), nil
	default:
		if confidence < rule.ConfidenceThreshold {
			return memory.Reject(category, confidence, memory.ReasonBelowConfidence), nil
		}
		return memory.Accept(category, confidence, memory.PlaceLongTerm, memory.ReasonRuleAccept), nil
	}
}

// checkRedundancy embeds the candidate and scans the recent window. checked
// is false when no embedder or window is wired.
func (e *Evaluator) checkRedundancy(ctx context.Context, text string) (redundant, checked bool, err error) {
	if e.embedder == nil || e.window == nil {
		return false, false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, false, err
	}

	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return false, false, fmt.Errorf("%w: embedding candidate: %v", memory.ErrDependencyUnavailable, err)
	}

	for _, recent := range e.window.RecentVectors(e.cfg.RecentWindow) {
		if cache.CosineSimilarity(vector, recent) >= e.cfg.SimilarityThreshold {
			return true, true, nil
		}
	}
	return false, true, nil
}

// classify resolves the candidate's category. Explicit categories win with
// full confidence; classified is false when no model is available.
func (e *Evaluator) classify(ctx context.Context, text string, gctx Context) (memory.Category, float64, bool) {
	if gctx.Category != "" {
		if cat, ok := memory.ParseCategory(string(gctx.Category)); ok {
			return cat, 1.0, true
		}
	}
	if e.models == nil {
		return memory.CategoryGeneral, 0, false
	}
	model := e.models.Load()
	if model == nil || ctx.Err() != nil {
		return memory.CategoryGeneral, 0, false
	}
	category, confidence := model.Classify(text)
	return category, confidence, true
}

func (e *Evaluator) matchKeepPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range e.keepPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func placementFor(action memory.GatingAction) memory.Placement {
	if action == memory.ActionShortTermOnly {
		return memory.PlaceShortTermOnly
	}
	return memory.PlaceLongTerm
}

func fallbackCategory(gctx Context) memory.Category {
	if gctx.Category != "" {
		if cat, ok := memory.ParseCategory(string(gctx.Category)); ok {
			return cat
		}
	}
	return memory.CategoryGeneral
}

// normalize lowercases and strips surrounding whitespace and terminal
// punctuation so "Thanks!!" matches the skip word "thanks".
func normalize(s string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(s)), "!.,?")
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
