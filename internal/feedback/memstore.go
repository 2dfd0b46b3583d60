package feedback

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type dedupeKey struct {
	source string
	ts     int64
	kind   Kind
}

// MemStore is an in-memory Store used in tests and as a fallback when no
// feedback path is configured.
type MemStore struct {
	mu      sync.RWMutex
	records []Record
	seen    map[dedupeKey]bool
	offsets map[string]time.Time
	closed  bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		seen:    make(map[dedupeKey]bool),
		offsets: make(map[string]time.Time),
	}
}

func (s *MemStore) Record(ctx context.Context, rec *Record) error {
	if rec == nil {
		return ErrInvalidRecord
	}
	if err := rec.Validate(); err != nil {
		return ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	key := dedupeKey{source: rec.Source, ts: rec.Timestamp.UnixNano(), kind: rec.Kind}
	if s.seen[key] {
		return nil
	}
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	s.seen[key] = true
	s.records = append(s.records, *rec)
	observeRecord(rec.Kind)
	return nil
}

func (s *MemStore) Unseen(ctx context.Context, since time.Time) (int, []Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, nil, ErrStoreClosed
	}

	var out []Record
	for _, rec := range s.records {
		if rec.Timestamp.After(since) {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return len(out), out, nil
}

func (s *MemStore) Samples(ctx context.Context, kind Kind, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 1000
	}

	var out []Record
	for _, rec := range s.records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) MarkConsumed(ctx context.Context, consumer string, upTo time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.offsets[consumer] = upTo
	return nil
}

func (s *MemStore) LastConsumed(ctx context.Context, consumer string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return time.Time{}, ErrStoreClosed
	}
	return s.offsets[consumer], nil
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.Before(records[j].Timestamp)
		}
		return records[i].ID < records[j].ID
	})
}
