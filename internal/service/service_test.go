package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memuri/internal/cache"
	"github.com/fyrsmithlabs/memuri/internal/classifier"
	"github.com/fyrsmithlabs/memuri/internal/feedback"
	"github.com/fyrsmithlabs/memuri/internal/gating"
	"github.com/fyrsmithlabs/memuri/internal/memory"
	"github.com/fyrsmithlabs/memuri/internal/reranker"
	"github.com/fyrsmithlabs/memuri/internal/retrieval"
	"github.com/fyrsmithlabs/memuri/internal/vectorstore"
)

// seqEmbedder hands out orthogonal one-hot vectors so no two texts ever
// look redundant to the gating evaluator.
type seqEmbedder struct {
	mu   sync.Mutex
	next int
	err  error
}

func (e *seqEmbedder) vector() []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := make([]float32, 64)
	v[e.next%64] = 1
	e.next++
	return v
}

func (e *seqEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector()
	}
	return out, nil
}

func (e *seqEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(), nil
}

type sweepCall struct {
	category memory.Category
	byAge    bool
}

type stubStore struct {
	mu       sync.Mutex
	upserts  []vectorstore.Record
	sweeps   []sweepCall
	sweepN   int
	sweepErr error
}

func (s *stubStore) Upsert(_ context.Context, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, records...)
	return nil
}

func (s *stubStore) Query(context.Context, []float32, int, vectorstore.Filters) ([]vectorstore.Candidate, error) {
	return nil, nil
}

func (s *stubStore) Delete(context.Context, []string) error { return nil }

func (s *stubStore) Count(context.Context, vectorstore.Filters) (int, error) { return 0, nil }

func (s *stubStore) SweepAge(_ context.Context, f vectorstore.Filters, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps = append(s.sweeps, sweepCall{category: f.Category, byAge: true})
	if s.sweepErr != nil {
		return 0, s.sweepErr
	}
	return s.sweepN, nil
}

func (s *stubStore) SweepCount(_ context.Context, f vectorstore.Filters, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeps = append(s.sweeps, sweepCall{category: f.Category})
	if s.sweepErr != nil {
		return 0, s.sweepErr
	}
	return s.sweepN, nil
}

func (s *stubStore) Close() error { return nil }

type fixture struct {
	mem      *Memory
	store    *stubStore
	embedder *seqEmbedder
	cache    *cache.ShortTerm
	feedback *feedback.MemStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	embedder := &seqEmbedder{}
	store := &stubStore{sweepN: 2}
	shortTerm, err := cache.New(cache.Config{})
	require.NoError(t, err)

	models := classifier.NewRef(classifier.NewKeywordModel())
	rules := memory.NewRuleTableRef(memory.DefaultRuleTable())

	gate, err := gating.New(gating.Config{}, embedder, shortTerm, models, rules, nil)
	require.NoError(t, err)

	rr, err := reranker.New(reranker.Config{}, reranker.NewTermOverlapEncoder(), nil)
	require.NoError(t, err)
	retriever, err := retrieval.New(retrieval.Config{}, embedder, store, shortTerm, rr, nil)
	require.NoError(t, err)

	fb := feedback.NewMemStore()
	mem, err := New(gate, retriever, embedder, store, shortTerm, rules, fb, nil, nil)
	require.NoError(t, err)

	return &fixture{mem: mem, store: store, embedder: embedder, cache: shortTerm, feedback: fb}
}

func TestAddLongTerm(t *testing.T) {
	f := newFixture(t)

	res, err := f.mem.Add(context.Background(), "remind me to renew my passport before the trip", AddOptions{Scope: "conv-1"})
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.True(t, res.Decision.Accepted)
	assert.Equal(t, memory.PlaceLongTerm, res.Decision.Placement)
	assert.Equal(t, memory.CategoryTask, res.Item.Category)

	require.Len(t, f.store.upserts, 1)
	assert.Equal(t, res.Item.ID, f.store.upserts[0].Item.ID)
	assert.NotNil(t, f.cache.Get(res.Item.ID), "long-term items mirror into the cache")
}

func TestAddRejected(t *testing.T) {
	f := newFixture(t)

	res, err := f.mem.Add(context.Background(), "ok", AddOptions{Scope: "conv-1"})
	require.NoError(t, err)
	assert.Nil(t, res.Item)
	assert.False(t, res.Decision.Accepted)
	assert.Empty(t, f.store.upserts)
	assert.Equal(t, 0, f.cache.Len())
}

func TestAddShortTermOnly(t *testing.T) {
	f := newFixture(t)

	res, err := f.mem.Add(context.Background(), "we were talking about the weather earlier today", AddOptions{
		Scope:    "conv-1",
		Category: memory.CategoryConversation,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.Equal(t, memory.PlaceShortTermOnly, res.Decision.Placement)
	assert.Empty(t, f.store.upserts, "short-term items never reach the store")
	assert.NotNil(t, f.cache.Get(res.Item.ID))
}

func TestAddEmbedFailureLongTerm(t *testing.T) {
	f := newFixture(t)
	f.embedder.err = errors.New("embedder down")

	_, err := f.mem.Add(context.Background(), "remind me to renew my passport before the trip", AddOptions{Scope: "conv-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrDependencyUnavailable)
	assert.Empty(t, f.store.upserts)
}

func TestAddEmbedFailureShortTerm(t *testing.T) {
	f := newFixture(t)
	f.embedder.err = errors.New("embedder down")

	res, err := f.mem.Add(context.Background(), "we were talking about the weather earlier today", AddOptions{
		Scope:    "conv-1",
		Category: memory.CategoryConversation,
	})
	require.NoError(t, err, "short-term placement tolerates a missing vector")
	assert.NotNil(t, f.cache.Get(res.Item.ID))
}

func TestFeedbackEnrichesCorrections(t *testing.T) {
	f := newFixture(t)

	res, err := f.mem.Add(context.Background(), "remind me to renew my passport before the trip", AddOptions{Scope: "conv-1"})
	require.NoError(t, err)

	rec := &feedback.Record{
		Source: res.Item.ID,
		Kind:   feedback.KindClassificationCorrection,
		Truth:  string(memory.CategoryPersonal),
	}
	require.NoError(t, f.mem.Feedback(context.Background(), rec))
	assert.False(t, rec.Timestamp.IsZero())

	stored, err := f.feedback.Samples(context.Background(), feedback.KindClassificationCorrection, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, res.Item.Content, stored[0].Metadata["text"])
}

func TestFeedbackKeepsExplicitText(t *testing.T) {
	f := newFixture(t)

	rec := &feedback.Record{
		Source:   "item-gone",
		Kind:     feedback.KindClassificationCorrection,
		Truth:    string(memory.CategoryPersonal),
		Metadata: map[string]string{"text": "the original words"},
	}
	require.NoError(t, f.mem.Feedback(context.Background(), rec))

	stored, err := f.feedback.Samples(context.Background(), feedback.KindClassificationCorrection, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "the original words", stored[0].Metadata["text"])
}

func TestSweepAppliesRetention(t *testing.T) {
	f := newFixture(t)

	removed, err := f.mem.Sweep(context.Background())
	require.NoError(t, err)

	// Default table: task and conversation carry age bounds, knowledge a
	// count bound, personal is unbounded.
	byCategory := map[memory.Category]sweepCall{}
	for _, call := range f.store.sweeps {
		byCategory[call.category] = call
	}
	require.Len(t, byCategory, 3)
	assert.True(t, byCategory[memory.CategoryTask].byAge)
	assert.True(t, byCategory[memory.CategoryConversation].byAge)
	assert.False(t, byCategory[memory.CategoryKnowledge].byAge)
	assert.NotContains(t, byCategory, memory.CategoryPersonal)
	assert.Equal(t, 2*len(byCategory), removed)
}

func TestSweepPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.store.sweepErr = errors.New("backend down")

	removed, err := f.mem.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, removed)
	assert.Len(t, f.store.sweeps, 3, "one failing category does not stop the others")
}

func TestSearchDelegates(t *testing.T) {
	f := newFixture(t)

	res, err := f.mem.Add(context.Background(), "remind me to renew my passport before the trip", AddOptions{Scope: "conv-1"})
	require.NoError(t, err)

	out, err := f.mem.Search(context.Background(), "passport renewal", retrieval.Options{Scope: "conv-1"})
	require.NoError(t, err)
	require.NotEmpty(t, out.Items)
	assert.Equal(t, res.Item.ID, out.Items[0].Item.ID)
}
