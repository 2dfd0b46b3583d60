package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memuri/internal/memory"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("memuri.vectorstore.chromem")

// metaPrefix namespaces item metadata keys inside chromem document metadata,
// keeping them apart from the reserved payload keys.
const metaPrefix = "meta."

// ChromemConfig holds configuration for the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty runs in-memory.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name. Default: "memuri_items".
	Collection string

	// VectorSize is the expected embedding dimension. Default: 384.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "memuri_items"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// indexEntry is the sidecar record chromem needs for filtered counts and
// retention sweeps, which its collection API cannot answer directly.
type indexEntry struct {
	Category  memory.Category `json:"category"`
	Scope     string          `json:"scope"`
	CreatedAt time.Time       `json:"created_at"`
}

// ChromemStore implements Store using the embedded chromem-go database.
//
// chromem-go is a pure-Go vector database with optional gob persistence.
// It cannot enumerate documents, so the store maintains a sidecar index
// (item ID to category/scope/creation time) that is persisted as JSON next
// to the database when a path is configured.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	cfg        ChromemConfig
	logger     *zap.Logger

	mu        sync.RWMutex
	index     map[string]indexEntry
	indexPath string
}

// NewChromemStore opens or creates a chromem-backed store.
func NewChromemStore(cfg ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
	}

	// Embeddings are always supplied by the caller; the collection-level
	// embedding func must never run.
	noEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("chromem: external embeddings required")
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", cfg.Collection, err)
	}

	s := &ChromemStore{
		db:         db,
		collection: collection,
		cfg:        cfg,
		logger:     logger,
		index:      make(map[string]indexEntry),
	}
	if cfg.Path != "" {
		s.indexPath = filepath.Join(cfg.Path, cfg.Collection+".index.json")
		if err := s.loadIndex(); err != nil {
			logger.Warn("failed to load sidecar index, sweeps start empty",
				zap.String("path", s.indexPath), zap.Error(err))
		}
	}

	return s, nil
}

// Upsert persists records. Duplicate IDs overwrite (last-writer-wins).
func (s *ChromemStore) Upsert(ctx context.Context, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	if len(records) == 0 {
		return ErrEmptyRecords
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, rec := range records {
		if rec.Item == nil {
			return fmt.Errorf("%w: record without item", ErrEmptyRecords)
		}
		if len(rec.Vector) != s.cfg.VectorSize {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(rec.Vector), s.cfg.VectorSize)
		}
		docs = append(docs, chromem.Document{
			ID:        rec.Item.ID,
			Content:   rec.Item.Content,
			Embedding: rec.Vector,
			Metadata:  documentMetadata(rec.Item),
		})
	}

	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	s.mu.Lock()
	for _, rec := range records {
		s.index[rec.Item.ID] = indexEntry{
			Category:  rec.Item.Category,
			Scope:     rec.Item.Scope,
			CreatedAt: rec.Item.CreatedAt,
		}
	}
	s.saveIndexLocked()
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("records", len(records)))
	return nil
}

// Query returns up to k nearest candidates by cosine similarity.
func (s *ChromemStore) Query(ctx context.Context, vector []float32, k int, f Filters) ([]Candidate, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if len(vector) != s.cfg.VectorSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.cfg.VectorSize)
	}

	// chromem rejects nResults beyond the (filtered) document count.
	where := whereClause(f)
	available := s.countMatching(f)
	if available == 0 {
		return []Candidate{}, nil
	}
	if k > available {
		k = available
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, res := range results {
		item := itemFromDocument(res.ID, res.Content, res.Metadata)
		candidates = append(candidates, Candidate{Item: item, Score: float64(res.Similarity)})
	}
	return candidates, nil
}

// Delete removes records by item ID.
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting documents: %w", err)
	}

	s.mu.Lock()
	for _, id := range ids {
		delete(s.index, id)
	}
	s.saveIndexLocked()
	s.mu.Unlock()
	return nil
}

// Count returns the number of records matching the filters.
func (s *ChromemStore) Count(ctx context.Context, f Filters) (int, error) {
	if f == (Filters{}) {
		return s.collection.Count(), nil
	}
	return s.countMatching(f), nil
}

// SweepAge deletes matching records created before cutoff.
func (s *ChromemStore) SweepAge(ctx context.Context, f Filters, cutoff time.Time) (int, error) {
	s.mu.RLock()
	var ids []string
	for id, e := range s.index {
		if matchesFilters(e, f) && e.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.Delete(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// SweepCount keeps at most max matching records, deleting oldest first.
func (s *ChromemStore) SweepCount(ctx context.Context, f Filters, max int) (int, error) {
	type aged struct {
		id        string
		createdAt time.Time
	}

	s.mu.RLock()
	var matching []aged
	for id, e := range s.index {
		if matchesFilters(e, f) {
			matching = append(matching, aged{id: id, createdAt: e.CreatedAt})
		}
	}
	s.mu.RUnlock()

	if len(matching) <= max {
		return 0, nil
	}

	sort.Slice(matching, func(i, j int) bool {
		if matching[i].createdAt.Equal(matching[j].createdAt) {
			return matching[i].id < matching[j].id
		}
		return matching[i].createdAt.Before(matching[j].createdAt)
	})

	excess := matching[:len(matching)-max]
	ids := make([]string, len(excess))
	for i, a := range excess {
		ids[i] = a.id
	}
	if err := s.Delete(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Close persists the sidecar index. The chromem DB needs no teardown.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveIndexLocked()
	return nil
}

func (s *ChromemStore) countMatching(f Filters) int {
	if f == (Filters{}) {
		return s.collection.Count()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.index {
		if matchesFilters(e, f) {
			n++
		}
	}
	return n
}

func matchesFilters(e indexEntry, f Filters) bool {
	if !f.MatchesCategory(e.Category) {
		return false
	}
	if f.Scope != "" && e.Scope != f.Scope {
		return false
	}
	return true
}

// whereClause builds the chromem metadata filter. chromem only matches
// exact values, so a bare group filters on the stored group key instead
// of the category key.
func whereClause(f Filters) map[string]string {
	if f == (Filters{}) {
		return nil
	}
	where := make(map[string]string, 2)
	if f.Category != "" {
		if f.Category.Group() == f.Category {
			where[payloadGroup] = string(f.Category)
		} else {
			where[payloadCategory] = string(f.Category)
		}
	}
	if f.Scope != "" {
		where[payloadScope] = f.Scope
	}
	return where
}

// documentMetadata flattens an item into chromem document metadata.
func documentMetadata(item *memory.Item) map[string]string {
	md := map[string]string{
		payloadCategory:  string(item.Category),
		payloadGroup:     string(item.Category.Group()),
		payloadScope:     item.Scope,
		payloadSource:    string(item.Source),
		payloadCreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
	}
	for _, k := range item.Metadata.Keys() {
		v, _ := item.Metadata.Get(k)
		md[metaPrefix+k] = v
	}
	return md
}

// itemFromDocument reverses documentMetadata.
func itemFromDocument(id, content string, md map[string]string) *memory.Item {
	item := &memory.Item{
		ID:       id,
		Content:  content,
		Category: memory.Category(md[payloadCategory]),
		Scope:    md[payloadScope],
		Source:   memory.Source(md[payloadSource]),
		Metadata: memory.NewMetadata(),
	}
	if ts, err := time.Parse(time.RFC3339Nano, md[payloadCreatedAt]); err == nil {
		item.CreatedAt = ts
	}
	metaKeys := make([]string, 0, len(md))
	for k := range md {
		if strings.HasPrefix(k, metaPrefix) {
			metaKeys = append(metaKeys, k)
		}
	}
	sort.Strings(metaKeys)
	for _, k := range metaKeys {
		item.Metadata.Set(strings.TrimPrefix(k, metaPrefix), md[k])
	}
	return item
}

// loadIndex reads the sidecar index from disk.
func (s *ChromemStore) loadIndex() error {
	data, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &s.index)
}

// saveIndexLocked writes the sidecar index. Caller holds s.mu.
func (s *ChromemStore) saveIndexLocked() {
	if s.indexPath == "" {
		return
	}
	data, err := json.Marshal(s.index)
	if err != nil {
		s.logger.Warn("failed to encode sidecar index", zap.Error(err))
		return
	}
	if err := os.WriteFile(s.indexPath, data, 0o600); err != nil {
		s.logger.Warn("failed to persist sidecar index",
			zap.String("path", s.indexPath), zap.Error(err))
	}
}
