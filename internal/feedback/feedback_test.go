package feedback

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories lets every test run against both backends.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "feedback.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"memory": func(t *testing.T) Store {
			s := NewMemStore()
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func validRecord(ts time.Time) *Record {
	return &Record{
		Source:    "item-123",
		Kind:      KindClassificationCorrection,
		Truth:     "task/reminder",
		Timestamp: ts,
	}
}

func TestRecordAssignsULID(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			rec := validRecord(time.Now())
			require.NoError(t, s.Record(context.Background(), rec))
			assert.Len(t, rec.ID, 26)
		})
	}
}

func TestRecordIdempotent(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			ts := time.Now()

			require.NoError(t, s.Record(ctx, validRecord(ts)))
			require.NoError(t, s.Record(ctx, validRecord(ts)))
			require.NoError(t, s.Record(ctx, validRecord(ts)))

			count, records, err := s.Unseen(ctx, time.Time{})
			require.NoError(t, err)
			assert.Equal(t, 1, count)
			assert.Len(t, records, 1)
		})
	}
}

func TestRecordDifferentKindsNotDeduplicated(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			ts := time.Now()

			correction := validRecord(ts)
			judgment := validRecord(ts)
			judgment.Kind = KindRelevanceJudgment
			judgment.Truth = "relevant"

			require.NoError(t, s.Record(ctx, correction))
			require.NoError(t, s.Record(ctx, judgment))

			count, _, err := s.Unseen(ctx, time.Time{})
			require.NoError(t, err)
			assert.Equal(t, 2, count)
		})
	}
}

func TestRecordValidation(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			tests := []*Record{
				nil,
				{Kind: KindClassificationCorrection, Truth: "x", Timestamp: time.Now()},
				{Source: "s", Kind: "bogus", Truth: "x", Timestamp: time.Now()},
				{Source: "s", Kind: KindClassificationCorrection, Timestamp: time.Now()},
				{Source: "s", Kind: KindClassificationCorrection, Truth: "x"},
			}
			for _, rec := range tests {
				assert.ErrorIs(t, s.Record(ctx, rec), ErrInvalidRecord)
			}
		})
	}
}

func TestUnseenSinceFilter(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			base := time.Now().Add(-time.Hour)

			for i := 0; i < 5; i++ {
				rec := validRecord(base.Add(time.Duration(i) * time.Minute))
				rec.Source = "item-" + string(rune('a'+i))
				require.NoError(t, s.Record(ctx, rec))
			}

			count, records, err := s.Unseen(ctx, base.Add(2*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 2, count)
			require.Len(t, records, 2)
			assert.True(t, records[0].Timestamp.Before(records[1].Timestamp))
		})
	}
}

func TestSamplesFiltersByKind(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			base := time.Now().Add(-time.Hour)

			for i := 0; i < 3; i++ {
				rec := validRecord(base.Add(time.Duration(i) * time.Second))
				require.NoError(t, s.Record(ctx, rec))
			}
			judgment := validRecord(base.Add(time.Minute))
			judgment.Kind = KindRelevanceJudgment
			judgment.Truth = "irrelevant"
			require.NoError(t, s.Record(ctx, judgment))

			corrections, err := s.Samples(ctx, KindClassificationCorrection, 10)
			require.NoError(t, err)
			assert.Len(t, corrections, 3)

			limited, err := s.Samples(ctx, KindClassificationCorrection, 2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)
		})
	}
}

func TestConsumerOffsets(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			got, err := s.LastConsumed(ctx, "retrain")
			require.NoError(t, err)
			assert.True(t, got.IsZero())

			mark := time.Now().Truncate(time.Millisecond)
			require.NoError(t, s.MarkConsumed(ctx, "retrain", mark))

			got, err = s.LastConsumed(ctx, "retrain")
			require.NoError(t, err)
			assert.True(t, got.Equal(mark))

			later := mark.Add(time.Hour)
			require.NoError(t, s.MarkConsumed(ctx, "retrain", later))
			got, err = s.LastConsumed(ctx, "retrain")
			require.NoError(t, err)
			assert.True(t, got.Equal(later))
		})
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			rec := validRecord(time.Now())
			rec.Metadata = map[string]string{"session": "abc", "model_version": "3"}
			require.NoError(t, s.Record(ctx, rec))

			_, records, err := s.Unseen(ctx, time.Time{})
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "abc", records[0].Metadata["session"])
		})
	}
}

func TestClosedStore(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			require.NoError(t, s.Close())

			err := s.Record(context.Background(), validRecord(time.Now()))
			assert.ErrorIs(t, err, ErrStoreClosed)
			_, _, err = s.Unseen(context.Background(), time.Time{})
			assert.ErrorIs(t, err, ErrStoreClosed)
		})
	}
}

func TestSQLiteReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, validRecord(time.Now())))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	count, _, err := reopened.Unseen(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUnseenSubSecondOrdering(t *testing.T) {
	// Trailing-zero fractions must not compare after longer fractions
	// of a later instant, or records become invisible to consumers.
	base := time.Date(2026, 8, 28, 12, 0, 0, 500_000_000, time.UTC)
	later := time.Date(2026, 8, 28, 12, 0, 0, 512_345_678, time.UTC)

	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			first := validRecord(base)
			require.NoError(t, s.Record(ctx, first))
			require.NoError(t, s.MarkConsumed(ctx, "retrain", base))

			second := validRecord(later)
			second.Source = "item-456"
			require.NoError(t, s.Record(ctx, second))

			offset, err := s.LastConsumed(ctx, "retrain")
			require.NoError(t, err)
			require.True(t, offset.Equal(base))

			count, records, err := s.Unseen(ctx, offset)
			require.NoError(t, err)
			require.Equal(t, 1, count)
			require.Len(t, records, 1)
			assert.Equal(t, "item-456", records[0].Source)
			assert.True(t, records[0].Timestamp.Equal(later))
		})
	}
}
