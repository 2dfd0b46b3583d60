package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"

	"github.com/fyrsmithlabs/memuri/internal/memory"
)

// qdrantTracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("memuri.vectorstore.qdrant")

// collectionNamePattern validates collection names: lowercase letters,
// numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost".
	Host string

	// Port is the Qdrant gRPC port (not the HTTP REST port).
	// Default: 6334.
	Port int

	// Collection is the collection name. Default: "memuri_items".
	Collection string

	// VectorSize is the embedding dimension. Must match the embedder.
	// Default: 384.
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxMessageSize bounds gRPC messages. Default: 32MB.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "memuri_items"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 32 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c *QdrantConfig) Validate() error {
	if !collectionNamePattern.MatchString(c.Collection) {
		return fmt.Errorf("%w: invalid collection name %q", ErrInvalidConfig, c.Collection)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// QdrantStore implements Store using the Qdrant gRPC client.
type QdrantStore struct {
	client *qdrant.Client
	cfg    QdrantConfig
}

// NewQdrantStore connects to Qdrant and ensures the collection exists.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{client: client, cfg: cfg}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(healthCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return s, nil
}

// ensureCollection creates the collection if it does not exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.cfg.Collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.cfg.Collection, err)
	}
	return nil
}

// Upsert persists records as Qdrant points.
func (s *QdrantStore) Upsert(ctx context.Context, records []Record) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()

	if len(records) == 0 {
		return ErrEmptyRecords
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, rec := range records {
		if rec.Item == nil {
			return fmt.Errorf("%w: record without item", ErrEmptyRecords)
		}
		if uint64(len(rec.Vector)) != s.cfg.VectorSize {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(rec.Vector), s.cfg.VectorSize)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(rec.Item.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: itemPayload(rec.Item),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points: %w", err)
	}

	span.SetAttributes(attribute.Int("points", len(points)))
	return nil
}

// Query returns up to k nearest candidates by cosine similarity.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, k int, f Filters) ([]Candidate, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		Filter:         qdrantFilter(f),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying points: %w", err)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, point := range results {
		item := itemFromPayload(point.Id.GetUuid(), point.Payload)
		candidates = append(candidates, Candidate{Item: item, Score: float64(point.Score)})
	}
	return candidates, nil
}

// Delete removes points by item ID.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Delete")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting points: %w", err)
	}
	return nil
}

// Count returns the number of points matching the filters.
func (s *QdrantStore) Count(ctx context.Context, f Filters) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter:         qdrantFilter(f),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return int(n), nil
}

// SweepAge deletes matching points created before cutoff using a payload
// range condition; the whole sweep runs server-side.
func (s *QdrantStore) SweepAge(ctx context.Context, f Filters, cutoff time.Time) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.SweepAge")
	defer span.End()

	filter := qdrantFilter(f)
	if filter == nil {
		filter = &qdrant.Filter{}
	}
	filter.Must = append(filter.Must, qdrant.NewRange(payloadCreatedAt, &qdrant.Range{
		Lt: qdrant.PtrOf(float64(cutoff.UnixNano())),
	}))

	before, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting sweep candidates: %w", err)
	}
	if before == 0 {
		return 0, nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("sweeping points: %w", err)
	}
	return int(before), nil
}

// SweepCount keeps at most max matching points, deleting oldest first.
// Qdrant has no ordered delete, so the store scrolls matching point
// timestamps and deletes the excess by ID.
func (s *QdrantStore) SweepCount(ctx context.Context, f Filters, max int) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.SweepCount")
	defer span.End()

	total, err := s.Count(ctx, f)
	if err != nil {
		return 0, err
	}
	if total <= max {
		return 0, nil
	}

	type aged struct {
		id        string
		createdAt float64
	}

	var (
		points []aged
		offset *qdrant.PointId
	)
	for {
		page, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.cfg.Collection,
			Filter:         qdrantFilter(f),
			Limit:          qdrant.PtrOf(uint32(1000)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude(payloadCreatedAt),
		})
		if err != nil {
			span.RecordError(err)
			return 0, fmt.Errorf("scrolling points: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, p := range page {
			points = append(points, aged{
				id:        p.Id.GetUuid(),
				createdAt: p.Payload[payloadCreatedAt].GetDoubleValue(),
			})
		}
		if len(page) < 1000 {
			break
		}
		offset = page[len(page)-1].Id
	}

	if len(points) <= max {
		return 0, nil
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].createdAt == points[j].createdAt {
			return points[i].id < points[j].id
		}
		return points[i].createdAt < points[j].createdAt
	})

	excess := points[:len(points)-max]
	ids := make([]string, len(excess))
	for i, p := range excess {
		ids[i] = p.id
	}
	if err := s.Delete(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// qdrantFilter converts Filters into a Qdrant payload filter. Keyword
// matching is exact, so a bare group filters on the stored group key
// instead of the category key.
func qdrantFilter(f Filters) *qdrant.Filter {
	if f == (Filters{}) {
		return nil
	}
	var conditions []*qdrant.Condition
	if f.Category != "" {
		if f.Category.Group() == f.Category {
			conditions = append(conditions, qdrant.NewMatch(payloadGroup, string(f.Category)))
		} else {
			conditions = append(conditions, qdrant.NewMatch(payloadCategory, string(f.Category)))
		}
	}
	if f.Scope != "" {
		conditions = append(conditions, qdrant.NewMatch(payloadScope, f.Scope))
	}
	return &qdrant.Filter{Must: conditions}
}

// itemPayload flattens an item into a Qdrant payload. CreatedAt is stored
// as unix nanoseconds so retention sweeps can use range conditions.
func itemPayload(item *memory.Item) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		payloadContent:   qdrant.NewValueString(item.Content),
		payloadCategory:  qdrant.NewValueString(string(item.Category)),
		payloadGroup:     qdrant.NewValueString(string(item.Category.Group())),
		payloadScope:     qdrant.NewValueString(item.Scope),
		payloadSource:    qdrant.NewValueString(string(item.Source)),
		payloadCreatedAt: qdrant.NewValueDouble(float64(item.CreatedAt.UnixNano())),
	}
	for _, k := range item.Metadata.Keys() {
		v, _ := item.Metadata.Get(k)
		payload[metaPrefix+k] = qdrant.NewValueString(v)
	}
	return payload
}

// itemFromPayload reverses itemPayload.
func itemFromPayload(id string, payload map[string]*qdrant.Value) *memory.Item {
	item := &memory.Item{
		ID:       id,
		Content:  payload[payloadContent].GetStringValue(),
		Category: memory.Category(payload[payloadCategory].GetStringValue()),
		Scope:    payload[payloadScope].GetStringValue(),
		Source:   memory.Source(payload[payloadSource].GetStringValue()),
		Metadata: memory.NewMetadata(),
	}
	if ns := payload[payloadCreatedAt].GetDoubleValue(); ns > 0 {
		item.CreatedAt = time.Unix(0, int64(ns)).UTC()
	}
	metaKeys := make([]string, 0, len(payload))
	for k := range payload {
		if len(k) > len(metaPrefix) && k[:len(metaPrefix)] == metaPrefix {
			metaKeys = append(metaKeys, k)
		}
	}
	sort.Strings(metaKeys)
	for _, k := range metaKeys {
		item.Metadata.Set(k[len(metaPrefix):], payload[k].GetStringValue())
	}
	return item
}
