// Package service ties the memory pipeline together: gate, persist,
// retrieve, feed back. It owns persistence side effects so the gating
// evaluator and retrieval coordinator stay pure decision-makers.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memuri/internal/cache"
	"github.com/fyrsmithlabs/memuri/internal/feedback"
	"github.com/fyrsmithlabs/memuri/internal/gating"
	"github.com/fyrsmithlabs/memuri/internal/memory"
	"github.com/fyrsmithlabs/memuri/internal/retrain"
	"github.com/fyrsmithlabs/memuri/internal/retrieval"
	"github.com/fyrsmithlabs/memuri/internal/vectorstore"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/memuri/internal/service")

// metadataTextKey carries the original item text on classification
// corrections so the retrain scheduler can rebuild training samples.
const metadataTextKey = "text"

// AddOptions carries caller context for one Add call.
type AddOptions struct {
	// Category, when set, wins over classification.
	Category memory.Category

	// Scope identifies the owning conversation or user. Required.
	Scope string

	// Source of the content. Defaults to the user.
	Source memory.Source
}

// AddResult reports what happened to one candidate.
type AddResult struct {
	// Decision is the gating outcome.
	Decision *memory.GatingDecision

	// Item is the persisted item. Nil when the candidate was rejected.
	Item *memory.Item
}

// Memory is the orchestrator behind the daemon's public surface.
type Memory struct {
	gate      *gating.Evaluator
	retriever *retrieval.Coordinator
	embedder  vectorstore.Embedder
	store     vectorstore.Store
	shortTerm *cache.ShortTerm
	rules     *memory.RuleTableRef
	feedback  feedback.Store
	scheduler *retrain.Scheduler
	logger    *zap.Logger

	now func() time.Time
}

// New wires the orchestrator. gate, embedder, store, and rules are
// required; feedback and scheduler may be nil, which disables the
// adaptation path.
func New(gate *gating.Evaluator, retriever *retrieval.Coordinator, embedder vectorstore.Embedder, store vectorstore.Store, shortTerm *cache.ShortTerm, rules *memory.RuleTableRef, fb feedback.Store, scheduler *retrain.Scheduler, logger *zap.Logger) (*Memory, error) {
	if gate == nil {
		return nil, errors.New("gating evaluator is required")
	}
	if retriever == nil {
		return nil, errors.New("retrieval coordinator is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if store == nil {
		return nil, errors.New("vector store is required")
	}
	if rules == nil {
		return nil, errors.New("rule table reference is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		gate:      gate,
		retriever: retriever,
		embedder:  embedder,
		store:     store,
		shortTerm: shortTerm,
		rules:     rules,
		feedback:  fb,
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Add gates a candidate and persists it according to the decision's
// placement. Rejected candidates return a result with a nil item and no
// error; callers inspect the decision reason.
func (m *Memory) Add(ctx context.Context, content string, opts AddOptions) (*AddResult, error) {
	ctx, span := tracer.Start(ctx, "service.Add")
	defer span.End()

	decision, err := m.gate.Evaluate(ctx, content, gating.Context{
		Category: opts.Category,
		Scope:    opts.Scope,
		Source:   opts.Source,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !decision.Accepted {
		observeAdd(outcomeRejected)
		span.SetAttributes(attribute.String("outcome", outcomeRejected))
		return &AddResult{Decision: decision}, nil
	}

	item, err := memory.NewItem(content, decision.Category, opts.Scope, opts.Source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	item.Metadata.Set("gating_reason", decision.Reason)

	rule := m.rules.Load().Rule(item.Category)
	vector, embedErr := m.embedText(ctx, item.Content)

	switch decision.Placement {
	case memory.PlaceLongTerm:
		if embedErr != nil {
			span.RecordError(embedErr)
			span.SetStatus(codes.Error, embedErr.Error())
			return nil, fmt.Errorf("embedding item: %w: %v", memory.ErrDependencyUnavailable, embedErr)
		}
		if err := m.store.Upsert(ctx, []vectorstore.Record{{Item: item, Vector: vector}}); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("persisting item: %w", err)
		}
		if m.shortTerm != nil {
			m.shortTerm.Put(item, vector, rule.TTL)
		}
		observeAdd(outcomeLongTerm)
		span.SetAttributes(attribute.String("outcome", outcomeLongTerm))

	case memory.PlaceShortTermOnly:
		if m.shortTerm == nil {
			return nil, errors.New("short-term placement without a cache")
		}
		// A failed embedding still caches the item; it just won't
		// participate in similarity scans.
		if embedErr != nil {
			m.logger.Warn("caching without vector",
				zap.String("item_id", item.ID),
				zap.Error(embedErr))
			vector = nil
		}
		m.shortTerm.Put(item, vector, rule.TTL)
		observeAdd(outcomeShortTerm)
		span.SetAttributes(attribute.String("outcome", outcomeShortTerm))

	default:
		return nil, fmt.Errorf("unknown placement %q", decision.Placement)
	}

	m.logger.Debug("item added",
		zap.String("item_id", item.ID),
		zap.String("category", string(item.Category)),
		zap.String("placement", string(decision.Placement)),
		zap.String("reason", decision.Reason))
	return &AddResult{Decision: decision, Item: item}, nil
}

// Search runs tiered retrieval with reranking.
func (m *Memory) Search(ctx context.Context, query string, opts retrieval.Options) (*retrieval.Result, error) {
	return m.retriever.Retrieve(ctx, query, opts)
}

// Feedback appends a feedback record and pokes the retrain scheduler.
// Classification corrections referencing a cached item are enriched with
// the item's text so future training cycles can use it as a sample.
func (m *Memory) Feedback(ctx context.Context, rec *feedback.Record) error {
	if m.feedback == nil {
		return errors.New("feedback store is not configured")
	}
	if rec == nil {
		return feedback.ErrInvalidRecord
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now().UTC()
	}
	if rec.Kind == feedback.KindClassificationCorrection {
		if _, ok := rec.Metadata[metadataTextKey]; !ok && m.shortTerm != nil {
			if item := m.shortTerm.Get(rec.Source); item != nil {
				if rec.Metadata == nil {
					rec.Metadata = make(map[string]string)
				}
				rec.Metadata[metadataTextKey] = item.Content
			}
		}
	}
	if err := m.feedback.Record(ctx, rec); err != nil {
		return fmt.Errorf("recording feedback: %w", err)
	}
	if m.scheduler != nil {
		m.scheduler.Poke()
	}
	return nil
}

// Sweep applies retention policies to the long-term store and purges
// expired cache entries. Returns the number of long-term items removed.
// Age bounds win over count bounds when a policy sets both.
func (m *Memory) Sweep(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "service.Sweep")
	defer span.End()
	start := m.now()

	table := m.rules.Load()
	removed := 0
	var errs []error
	for _, category := range table.Categories() {
		policy := table.Retention(category)
		if policy.Unbounded() {
			continue
		}
		filters := vectorstore.Filters{Category: category}

		var (
			n   int
			err error
		)
		if policy.MaxAge > 0 {
			cutoff := start.UTC().Add(-policy.MaxAge)
			n, err = m.store.SweepAge(ctx, filters, cutoff)
		} else {
			n, err = m.store.SweepCount(ctx, filters, policy.MaxCount)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sweeping %q: %w", category, err))
			continue
		}
		removed += n
	}

	purged := 0
	if m.shortTerm != nil {
		purged = m.shortTerm.Purge()
	}

	observeSweep(removed, m.now().Sub(start))
	span.SetAttributes(
		attribute.Int("removed", removed),
		attribute.Int("cache_purged", purged),
	)
	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return removed, err
	}
	m.logger.Debug("sweep complete",
		zap.Int("removed", removed),
		zap.Int("cache_purged", purged))
	return removed, nil
}

// RunSweeper sweeps on the given interval until the context ends.
func (m *Memory) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.logger.Warn("sweep failed", zap.Error(err))
			}
		}
	}
}

func (m *Memory) embedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one text", len(vectors))
	}
	return vectors[0], nil
}
