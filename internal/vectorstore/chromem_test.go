package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/memuri/internal/memory"
)

// testItem builds an item with a fixed creation time offset into the past.
func testItem(t *testing.T, content string, category memory.Category, age time.Duration) *memory.Item {
	t.Helper()
	item, err := memory.NewItem(content, category, "scope-1", memory.SourceUser)
	require.NoError(t, err)
	item.CreatedAt = time.Now().UTC().Add(-age)
	return item
}

func newTestChromem(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{VectorSize: 3}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestChromemUpsertAndQuery(t *testing.T) {
	store := newTestChromem(t)
	ctx := context.Background()

	a := testItem(t, "flight at 7am", memory.CategoryTask, time.Hour)
	b := testItem(t, "likes green tea", memory.CategoryPersonal, time.Hour)

	err := store.Upsert(ctx, []Record{
		{Item: a, Vector: []float32{1, 0, 0}},
		{Item: b, Vector: []float32{0, 1, 0}},
	})
	require.NoError(t, err)

	candidates, err := store.Query(ctx, []float32{1, 0, 0}, 2, Filters{})
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	// Nearest first.
	assert.Equal(t, a.ID, candidates[0].Item.ID)
	assert.Greater(t, candidates[0].Score, candidates[1].Score)

	// Round-trip preserves item fields.
	assert.Equal(t, "flight at 7am", candidates[0].Item.Content)
	assert.Equal(t, memory.CategoryTask, candidates[0].Item.Category)
	assert.Equal(t, "scope-1", candidates[0].Item.Scope)
	assert.WithinDuration(t, a.CreatedAt, candidates[0].Item.CreatedAt, time.Second)
}

func TestChromemQueryFilters(t *testing.T) {
	store := newTestChromem(t)
	ctx := context.Background()

	task := testItem(t, "buy milk", memory.CategoryTask, time.Hour)
	personal := testItem(t, "lives in Oslo", memory.CategoryPersonal, time.Hour)
	require.NoError(t, store.Upsert(ctx, []Record{
		{Item: task, Vector: []float32{1, 0, 0}},
		{Item: personal, Vector: []float32{0.9, 0.1, 0}},
	}))

	candidates, err := store.Query(ctx, []float32{1, 0, 0}, 5, Filters{Category: memory.CategoryTask})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, task.ID, candidates[0].Item.ID)

	// No matching category returns empty, not an error.
	candidates, err = store.Query(ctx, []float32{1, 0, 0}, 5, Filters{Category: memory.CategoryKnowledge})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestChromemDimensionMismatch(t *testing.T) {
	store := newTestChromem(t)
	item := testItem(t, "content", memory.CategoryTask, 0)

	err := store.Upsert(context.Background(), []Record{{Item: item, Vector: []float32{1, 0}}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = store.Query(context.Background(), []float32{1}, 1, Filters{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestChromemDelete(t *testing.T) {
	store := newTestChromem(t)
	ctx := context.Background()

	item := testItem(t, "temporary", memory.CategoryTask, 0)
	require.NoError(t, store.Upsert(ctx, []Record{{Item: item, Vector: []float32{1, 0, 0}}}))

	require.NoError(t, store.Delete(ctx, []string{item.ID}))

	n, err := store.Count(ctx, Filters{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChromemSweepAge(t *testing.T) {
	store := newTestChromem(t)
	ctx := context.Background()

	old := testItem(t, "old fact", memory.CategoryKnowledge, 48*time.Hour)
	fresh := testItem(t, "fresh fact", memory.CategoryKnowledge, time.Minute)
	require.NoError(t, store.Upsert(ctx, []Record{
		{Item: old, Vector: []float32{1, 0, 0}},
		{Item: fresh, Vector: []float32{0, 1, 0}},
	}))

	removed, err := store.SweepAge(ctx, Filters{Category: memory.CategoryKnowledge}, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	n, err := store.Count(ctx, Filters{Category: memory.CategoryKnowledge})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestChromemSweepCount(t *testing.T) {
	store := newTestChromem(t)
	ctx := context.Background()

	items := []*memory.Item{
		testItem(t, "oldest", memory.CategoryTask, 3*time.Hour),
		testItem(t, "middle", memory.CategoryTask, 2*time.Hour),
		testItem(t, "newest", memory.CategoryTask, time.Hour),
	}
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	for i, item := range items {
		require.NoError(t, store.Upsert(ctx, []Record{{Item: item, Vector: vectors[i]}}))
	}

	removed, err := store.SweepCount(ctx, Filters{Category: memory.CategoryTask}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// Oldest went first.
	candidates, err := store.Query(ctx, []float32{1, 0, 0}, 3, Filters{})
	require.NoError(t, err)
	for _, c := range candidates {
		assert.NotEqual(t, items[0].ID, c.Item.ID)
	}

	// Under the bound: nothing removed.
	removed, err = store.SweepCount(ctx, Filters{Category: memory.CategoryTask}, 10)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestChromemPersistentIndexRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewChromemStore(ChromemConfig{Path: dir, VectorSize: 3}, nil)
	require.NoError(t, err)

	item := testItem(t, "durable fact", memory.CategoryKnowledge, 48*time.Hour)
	require.NoError(t, store.Upsert(ctx, []Record{{Item: item, Vector: []float32{1, 0, 0}}}))
	require.NoError(t, store.Close())

	// Reopen: the sidecar index must still cover the old item for sweeps.
	reopened, err := NewChromemStore(ChromemConfig{Path: dir, VectorSize: 3}, nil)
	require.NoError(t, err)
	defer reopened.Close()

	removed, err := reopened.SweepAge(ctx, Filters{}, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestChromemGroupFilterMatchesSubcategories(t *testing.T) {
	store := newTestChromem(t)
	ctx := context.Background()

	reminder := testItem(t, "renew passport", memory.Category("task/reminder"), time.Hour)
	task := testItem(t, "buy milk", memory.CategoryTask, time.Hour)
	personal := testItem(t, "lives in Oslo", memory.CategoryPersonal, time.Hour)
	require.NoError(t, store.Upsert(ctx, []Record{
		{Item: reminder, Vector: []float32{1, 0, 0}},
		{Item: task, Vector: []float32{0, 1, 0}},
		{Item: personal, Vector: []float32{0, 0, 1}},
	}))

	// A bare group matches the group and its subcategories.
	candidates, err := store.Query(ctx, []float32{1, 0, 0}, 5, Filters{Category: memory.CategoryTask})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	ids := []string{candidates[0].Item.ID, candidates[1].Item.ID}
	assert.Contains(t, ids, reminder.ID)
	assert.Contains(t, ids, task.ID)

	// A subcategory matches exactly.
	candidates, err = store.Query(ctx, []float32{1, 0, 0}, 5, Filters{Category: memory.Category("task/reminder")})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, reminder.ID, candidates[0].Item.ID)

	// Counts and sweeps use the same semantics.
	n, err := store.Count(ctx, Filters{Category: memory.CategoryTask})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	removed, err := store.SweepAge(ctx, Filters{Category: memory.CategoryTask}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestFiltersMatchesCategory(t *testing.T) {
	tests := []struct {
		filter memory.Category
		stored memory.Category
		want   bool
	}{
		{"", "task/reminder", true},
		{"task", "task", true},
		{"task", "task/reminder", true},
		{"task/reminder", "task/reminder", true},
		{"task/reminder", "task", false},
		{"task", "personal", false},
		{"personal", "task/reminder", false},
	}
	for _, tt := range tests {
		f := Filters{Category: tt.filter}
		assert.Equal(t, tt.want, f.MatchesCategory(tt.stored),
			"filter %q stored %q", tt.filter, tt.stored)
	}
}
