package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memuri/internal/cache"
	"github.com/fyrsmithlabs/memuri/internal/memory"
	"github.com/fyrsmithlabs/memuri/internal/reranker"
	"github.com/fyrsmithlabs/memuri/internal/vectorstore"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vector
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

// stubStore serves canned candidates or a canned error.
type stubStore struct {
	cands []vectorstore.Candidate
	err   error
	delay time.Duration
}

func (s *stubStore) Upsert(ctx context.Context, records []vectorstore.Record) error { return nil }

func (s *stubStore) Query(ctx context.Context, vector []float32, k int, f vectorstore.Filters) ([]vectorstore.Candidate, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if len(s.cands) > k {
		return s.cands[:k], nil
	}
	return s.cands, nil
}

func (s *stubStore) Delete(ctx context.Context, ids []string) error { return nil }
func (s *stubStore) Count(ctx context.Context, f vectorstore.Filters) (int, error) {
	return len(s.cands), nil
}
func (s *stubStore) SweepAge(ctx context.Context, f vectorstore.Filters, cutoff time.Time) (int, error) {
	return 0, nil
}
func (s *stubStore) SweepCount(ctx context.Context, f vectorstore.Filters, max int) (int, error) {
	return 0, nil
}
func (s *stubStore) Close() error { return nil }

func storedItem(t *testing.T, id, content string) *memory.Item {
	t.Helper()
	item, err := memory.NewItem(content, memory.CategoryGeneral, "scope-1", memory.SourceUser)
	require.NoError(t, err)
	item.ID = id
	return item
}

func newCoordinator(t *testing.T, store vectorstore.Store, shortTerm *cache.ShortTerm) *Coordinator {
	t.Helper()
	rr, err := reranker.New(reranker.Config{}, reranker.NewTermOverlapEncoder(), zap.NewNop())
	require.NoError(t, err)
	c, err := New(Config{}, &stubEmbedder{vector: []float32{1, 0}}, store, shortTerm, rr, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestRetrieveMergesTiers(t *testing.T) {
	shortTerm, err := cache.New(cache.Config{Capacity: 8})
	require.NoError(t, err)

	shared := storedItem(t, "shared", "the shared memory item")
	cacheOnly := storedItem(t, "cache-only", "a cache resident item")
	storeOnly := storedItem(t, "store-only", "a long-term resident item")

	shortTerm.Put(shared, []float32{1, 0}, 0)
	shortTerm.Put(cacheOnly, []float32{0.9, 0.1}, 0)

	store := &stubStore{cands: []vectorstore.Candidate{
		{Item: shared, Score: 0.4},
		{Item: storeOnly, Score: 0.8},
	}}

	c := newCoordinator(t, store, shortTerm)
	res, err := c.Retrieve(context.Background(), "memory item", Options{K: 10})
	require.NoError(t, err)
	assert.False(t, res.Partial)
	require.Len(t, res.Items, 3)

	byID := make(map[string]reranker.Scored)
	for _, s := range res.Items {
		byID[s.Item.ID] = s
	}
	// Cache similarity (1.0) beats the store's 0.4 for the shared item.
	assert.True(t, byID["shared"].FromCache)
	assert.InDelta(t, 1.0, byID["shared"].Score, 1e-6)
	assert.False(t, byID["store-only"].FromCache)
}

func TestRetrievePartialOnStoreFailure(t *testing.T) {
	shortTerm, err := cache.New(cache.Config{Capacity: 8})
	require.NoError(t, err)
	item := storedItem(t, "cached", "still available from cache")
	shortTerm.Put(item, []float32{1, 0}, 0)

	store := &stubStore{err: errors.New("connection refused")}

	c := newCoordinator(t, store, shortTerm)
	res, err := c.Retrieve(context.Background(), "available", Options{})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "cached", res.Items[0].Item.ID)
	assert.True(t, res.Items[0].FromCache)
}

func TestRetrievePartialOnDeadline(t *testing.T) {
	shortTerm, err := cache.New(cache.Config{Capacity: 8})
	require.NoError(t, err)
	item := storedItem(t, "cached", "cache wins the race")
	shortTerm.Put(item, []float32{1, 0}, 0)

	store := &stubStore{delay: time.Second, cands: []vectorstore.Candidate{
		{Item: storedItem(t, "slow", "too slow to matter"), Score: 0.9},
	}}

	c := newCoordinator(t, store, shortTerm)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := c.Retrieve(ctx, "cache race", Options{SkipRerank: true})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "cached", res.Items[0].Item.ID)
}

func TestRetrieveEmbedderFailureErrors(t *testing.T) {
	store := &stubStore{}
	c, err := New(Config{}, &stubEmbedder{err: errors.New("down")}, store, nil, nil, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Retrieve(context.Background(), "anything", Options{})
	assert.ErrorIs(t, err, memory.ErrDependencyUnavailable)
}

func TestRetrieveEmptyQuery(t *testing.T) {
	c := newCoordinator(t, &stubStore{}, nil)
	_, err := c.Retrieve(context.Background(), "", Options{})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestRetrieveScopeFilterOnCache(t *testing.T) {
	shortTerm, err := cache.New(cache.Config{Capacity: 8})
	require.NoError(t, err)

	mine := storedItem(t, "mine", "belongs to my scope")
	theirs, err2 := memory.NewItem("belongs to another scope", memory.CategoryGeneral, "scope-2", memory.SourceUser)
	require.NoError(t, err2)
	theirs.ID = "theirs"

	shortTerm.Put(mine, []float32{1, 0}, 0)
	shortTerm.Put(theirs, []float32{1, 0}, 0)

	c := newCoordinator(t, &stubStore{}, shortTerm)
	res, err := c.Retrieve(context.Background(), "scope", Options{Scope: "scope-1", SkipRerank: true})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "mine", res.Items[0].Item.ID)
}

func TestRetrieveCategoryGroupFilterOnCache(t *testing.T) {
	shortTerm, err := cache.New(cache.Config{Capacity: 8})
	require.NoError(t, err)

	task, err2 := memory.NewItem("book the flight on friday", "task/reminder", "scope-1", memory.SourceUser)
	require.NoError(t, err2)
	task.ID = "task-1"
	note, err3 := memory.NewItem("an unrelated general note", memory.CategoryGeneral, "scope-1", memory.SourceUser)
	require.NoError(t, err3)
	note.ID = "note-1"

	shortTerm.Put(task, []float32{1, 0}, 0)
	shortTerm.Put(note, []float32{1, 0}, 0)

	c := newCoordinator(t, &stubStore{}, shortTerm)
	res, err := c.Retrieve(context.Background(), "flight", Options{Category: memory.CategoryTask, SkipRerank: true})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "task-1", res.Items[0].Item.ID)
}

func TestRetrieveSkipRerankOrdersByRawScore(t *testing.T) {
	store := &stubStore{cands: []vectorstore.Candidate{
		{Item: storedItem(t, "low", "low score item"), Score: 0.2},
		{Item: storedItem(t, "high", "high score item"), Score: 0.9},
	}}

	c := newCoordinator(t, store, nil)
	res, err := c.Retrieve(context.Background(), "anything at all", Options{SkipRerank: true})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "high", res.Items[0].Item.ID)
	assert.Equal(t, "low", res.Items[1].Item.ID)
}

func TestRetrieveTruncatesToK(t *testing.T) {
	var cands []vectorstore.Candidate
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		cands = append(cands, vectorstore.Candidate{Item: storedItem(t, id, "item "+id), Score: 0.5})
	}
	c := newCoordinator(t, &stubStore{cands: cands}, nil)

	res, err := c.Retrieve(context.Background(), "item", Options{K: 2})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
}
