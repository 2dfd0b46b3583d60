// Package retrain runs the feedback-driven adaptation loop: it snapshots
// accumulated feedback, trains candidate classifier models, evaluates them
// on a held-out slice, and publishes winners atomically. A parallel cycle
// adapts per-category gating thresholds from correction patterns.
//
// The scheduler never blocks foreground gating or retrieval: publication is
// a single atomic pointer swap and all heavy work happens in its own
// goroutine.
package retrain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memuri/internal/classifier"
	"github.com/fyrsmithlabs/memuri/internal/feedback"
	"github.com/fyrsmithlabs/memuri/internal/memory"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/memuri/internal/retrain")

// Consumer names for feedback high-water marks.
const (
	consumerRetrain = "retrain"
	consumerRules   = "rule-adaptation"
)

// holdoutFraction is the chronological tail of the snapshot reserved for
// evaluation. Deterministic so accuracy comparisons are stable.
const holdoutFraction = 0.2

// metadataTextKey is the feedback metadata key carrying the corrected text.
const metadataTextKey = "text"

// maxSnapshot bounds how many records one cycle trains on.
const maxSnapshot = 5000

// State names the scheduler's lifecycle phases.
type State string

const (
	StateIdle       State = "idle"
	StateCollecting State = "collecting"
	StateTraining   State = "training"
	StateEvaluating State = "evaluating"
	StatePublishing State = "publishing"
	StateRejected   State = "rejected"
)

// Config holds scheduler configuration.
type Config struct {
	// Interval between wall-clock retrain cycles. Default: 1h.
	Interval time.Duration `koanf:"interval"`

	// MinSamples is the unseen-feedback count that triggers an early
	// cycle. Default: 50.
	MinSamples int `koanf:"min_samples"`

	// MinImprovement is the held-out accuracy margin a candidate must
	// clear over the current model to be published. Default: 0.01.
	MinImprovement float64 `koanf:"min_improvement"`

	// RuleAdaptationInterval between threshold-adaptation cycles.
	// Default: 6h.
	RuleAdaptationInterval time.Duration `koanf:"rule_adaptation_interval"`
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = time.Hour
	}
	if c.MinSamples == 0 {
		c.MinSamples = 50
	}
	if c.MinImprovement == 0 {
		c.MinImprovement = 0.01
	}
	if c.RuleAdaptationInterval == 0 {
		c.RuleAdaptationInterval = 6 * time.Hour
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Interval < 0 || c.RuleAdaptationInterval < 0 {
		return errors.New("retrain intervals cannot be negative")
	}
	if c.MinSamples < 0 {
		return errors.New("min_samples cannot be negative")
	}
	if c.MinImprovement < 0 || c.MinImprovement > 1 {
		return fmt.Errorf("min_improvement %v outside [0,1]", c.MinImprovement)
	}
	return nil
}

// Scheduler owns model retraining and rule adaptation. Exactly one
// Scheduler publishes to the model and rule table references.
type Scheduler struct {
	cfg     Config
	store   feedback.Store
	trainer classifier.Trainer
	models  *classifier.Ref
	rules   *memory.RuleTableRef
	logger  *zap.Logger

	mu    sync.Mutex
	state State

	// kicks coalesces count-threshold triggers while a cycle runs.
	kicks chan struct{}
}

// New creates a scheduler.
func New(cfg Config, store feedback.Store, trainer classifier.Trainer, models *classifier.Ref, rules *memory.RuleTableRef, logger *zap.Logger) (*Scheduler, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("retrain config: %w", err)
	}
	if store == nil || trainer == nil || models == nil || rules == nil {
		return nil, errors.New("store, trainer, models, and rules are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:     cfg,
		store:   store,
		trainer: trainer,
		models:  models,
		rules:   rules,
		logger:  logger,
		state:   StateIdle,
		kicks:   make(chan struct{}, 1),
	}, nil
}

// State returns the current lifecycle phase.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Poke signals that feedback arrived. Non-blocking; pokes received while a
// cycle is running coalesce into at most one pending trigger.
func (s *Scheduler) Poke() {
	select {
	case s.kicks <- struct{}{}:
	default:
	}
}

// Run drives the scheduler until ctx is cancelled. Blocking; callers start
// it in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	ruleTicker := time.NewTicker(s.cfg.RuleAdaptationInterval)
	defer ruleTicker.Stop()

	s.logger.Info("retrain scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("min_samples", s.cfg.MinSamples))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retrain scheduler stopped", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		case <-s.kicks:
			if s.countTriggerMet(ctx) {
				s.RunCycle(ctx)
			}
		case <-ruleTicker.C:
			s.RunRuleAdaptation(ctx)
		}
	}
}

// countTriggerMet reports whether unseen feedback reached MinSamples.
func (s *Scheduler) countTriggerMet(ctx context.Context) bool {
	last, err := s.store.LastConsumed(ctx, consumerRetrain)
	if err != nil {
		s.logger.Warn("reading retrain offset", zap.Error(err))
		return false
	}
	count, _, err := s.store.Unseen(ctx, last)
	if err != nil {
		s.logger.Warn("counting unseen feedback", zap.Error(err))
		return false
	}
	return count >= s.cfg.MinSamples
}

// RunCycle executes one full retrain cycle. Returns immediately when the
// scheduler is not Idle, so overlapping triggers coalesce.
func (s *Scheduler) RunCycle(ctx context.Context) {
	if !s.transition(StateIdle, StateCollecting) {
		return
	}
	defer s.setState(StateIdle)

	ctx, span := tracer.Start(ctx, "retrain.RunCycle")
	defer span.End()

	result := s.cycle(ctx)
	span.SetAttributes(attribute.String("retrain.result", result))
	cyclesTotal.WithLabelValues(result).Inc()
}

func (s *Scheduler) cycle(ctx context.Context) string {
	last, err := s.store.LastConsumed(ctx, consumerRetrain)
	if err != nil {
		s.logger.Error("reading retrain offset", zap.Error(err))
		return "error"
	}
	_, records, err := s.store.Unseen(ctx, last)
	if err != nil {
		s.logger.Error("snapshotting feedback", zap.Error(err))
		return "error"
	}
	if len(records) > maxSnapshot {
		records = records[:maxSnapshot]
	}

	samples, highWater := correctionSamples(records)
	train, holdout := split(samples)
	if len(train) == 0 || len(holdout) == 0 {
		s.logger.Debug("not enough correction feedback for a cycle",
			zap.Int("samples", len(samples)))
		return "skipped"
	}

	s.setState(StateTraining)
	candidate, err := s.trainer.Train(ctx, train)
	if err != nil {
		// High-water mark untouched so the samples stay eligible.
		s.logger.Warn("training failed, keeping current model", zap.Error(err))
		return "training_failed"
	}

	s.setState(StateEvaluating)
	candidateAcc, err := s.trainer.Evaluate(ctx, candidate, holdout)
	if err != nil {
		s.logger.Warn("evaluating candidate failed", zap.Error(err))
		return "training_failed"
	}
	currentAcc := 0.0
	if current := s.models.Load(); current != nil {
		currentAcc, err = s.trainer.Evaluate(ctx, current, holdout)
		if err != nil {
			s.logger.Warn("evaluating current model failed", zap.Error(err))
			currentAcc = 0
		}
	}

	if candidateAcc < currentAcc+s.cfg.MinImprovement {
		s.setState(StateRejected)
		s.logger.Info("candidate model rejected",
			zap.Float64("candidate_accuracy", candidateAcc),
			zap.Float64("current_accuracy", currentAcc),
			zap.Float64("min_improvement", s.cfg.MinImprovement))
		s.consume(ctx, consumerRetrain, highWater)
		return "rejected"
	}

	s.setState(StatePublishing)
	s.models.Store(candidate)
	modelVersion.Set(float64(candidate.Version()))
	s.logger.Info("published new classifier model",
		zap.Uint64("version", candidate.Version()),
		zap.Float64("candidate_accuracy", candidateAcc),
		zap.Float64("current_accuracy", currentAcc),
		zap.Int("training_samples", len(train)))
	s.consume(ctx, consumerRetrain, highWater)
	return "published"
}

// RunRuleAdaptation executes one threshold-adaptation cycle over correction
// feedback. Categories accumulating corrections get their confidence
// threshold lowered so disputed phrasings start passing the gate.
func (s *Scheduler) RunRuleAdaptation(ctx context.Context) {
	if !s.transition(StateIdle, StateCollecting) {
		return
	}
	defer s.setState(StateIdle)

	ctx, span := tracer.Start(ctx, "retrain.RunRuleAdaptation")
	defer span.End()

	result := s.adaptRules(ctx)
	span.SetAttributes(attribute.String("retrain.result", result))
	ruleCyclesTotal.WithLabelValues(result).Inc()
}

// adaptationStep is how far one cycle moves a category threshold.
const adaptationStep = 0.05

// minCorrectionsPerCategory gates how much evidence a category needs
// before its threshold moves.
const minCorrectionsPerCategory = 3

func (s *Scheduler) adaptRules(ctx context.Context) string {
	last, err := s.store.LastConsumed(ctx, consumerRules)
	if err != nil {
		s.logger.Error("reading rule-adaptation offset", zap.Error(err))
		return "error"
	}
	_, records, err := s.store.Unseen(ctx, last)
	if err != nil {
		s.logger.Error("snapshotting feedback", zap.Error(err))
		return "error"
	}

	counts := make(map[memory.Category]int)
	var highWater time.Time
	for _, rec := range records {
		if rec.Timestamp.After(highWater) {
			highWater = rec.Timestamp
		}
		if rec.Kind != feedback.KindClassificationCorrection {
			continue
		}
		cat, ok := memory.ParseCategory(rec.Truth)
		if !ok {
			continue
		}
		counts[cat]++
	}

	current := s.rules.Load()
	overrides := make(map[memory.Category]float64)
	for cat, n := range counts {
		if n < minCorrectionsPerCategory {
			continue
		}
		threshold := current.Rule(cat).ConfidenceThreshold - adaptationStep
		if threshold < 0.05 {
			threshold = 0.05
		}
		overrides[cat] = threshold
	}
	if len(overrides) == 0 {
		return "skipped"
	}

	adjusted, err := current.Adjusted(overrides)
	if err != nil {
		s.logger.Error("building adjusted rule table", zap.Error(err))
		return "error"
	}

	// The config watcher publishes to the same reference, so the next
	// version derives from whatever table is current rather than a
	// private counter.
	next := current.Version() + 1
	s.rules.Store(adjusted.WithVersion(next))
	ruleTableVersion.Set(float64(next))
	for cat, threshold := range overrides {
		s.logger.Info("adapted category threshold",
			zap.String("category", string(cat)),
			zap.Float64("threshold", threshold),
			zap.Int("corrections", counts[cat]))
	}
	s.consume(ctx, consumerRules, highWater)
	return "published"
}

func (s *Scheduler) consume(ctx context.Context, consumer string, upTo time.Time) {
	if upTo.IsZero() {
		return
	}
	if err := s.store.MarkConsumed(ctx, consumer, upTo); err != nil {
		s.logger.Warn("advancing feedback offset",
			zap.String("consumer", consumer), zap.Error(err))
	}
}

func (s *Scheduler) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// correctionSamples converts classification corrections into labeled
// training samples. Records without the corrected text in metadata cannot
// train and are skipped. Returns the latest timestamp seen across the
// whole snapshot for offset advancement.
func correctionSamples(records []feedback.Record) ([]classifier.Sample, time.Time) {
	var highWater time.Time
	samples := make([]classifier.Sample, 0, len(records))
	for _, rec := range records {
		if rec.Timestamp.After(highWater) {
			highWater = rec.Timestamp
		}
		if rec.Kind != feedback.KindClassificationCorrection {
			continue
		}
		text := rec.Metadata[metadataTextKey]
		if text == "" {
			continue
		}
		cat, ok := memory.ParseCategory(rec.Truth)
		if !ok {
			continue
		}
		samples = append(samples, classifier.Sample{Text: text, Category: cat})
	}
	return samples, highWater
}

// split reserves the chronological tail of the snapshot for evaluation.
// The input is already ordered oldest first.
func split(samples []classifier.Sample) (train, holdout []classifier.Sample) {
	n := len(samples)
	if n < 2 {
		return samples, nil
	}
	holdN := int(float64(n) * holdoutFraction)
	if holdN < 1 {
		holdN = 1
	}
	return samples[:n-holdN], samples[n-holdN:]
}
