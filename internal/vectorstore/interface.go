// Package vectorstore defines the long-term memory store contract and its
// backends. The store holds memory items with their embedding vectors and
// answers approximate nearest-neighbor queries with cosine similarity.
//
// Backends are selected by configuration string through NewStore:
// chromem (embedded, default), qdrant (gRPC), and pgvector (Postgres).
// The core only ever depends on the Store interface.
package vectorstore

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/memuri/internal/memory"
)

// Sentinel errors for store operations.
var (
	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the backend is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrEmptyRecords indicates an upsert with no records.
	ErrEmptyRecords = errors.New("empty or nil records")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// collection's configured size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder generates vector embeddings from text.
//
// Embeddings must be deterministic for identical input within a session;
// the gating redundancy check depends on it.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query. Some models
	// optimize differently for queries vs documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Record pairs an item with its embedding for persistence.
type Record struct {
	Item   *memory.Item
	Vector []float32
}

// Candidate is one retrieval result: an item with its raw similarity score.
type Candidate struct {
	Item  *memory.Item
	Score float64
}

// Filters restricts queries and sweeps to a category and/or scope. Zero
// values match everything. A bare group key (e.g. "task") matches the
// group and all its subcategories; a subcategory key matches exactly.
type Filters struct {
	Category memory.Category
	Scope    string
}

// MatchesCategory reports whether a stored category satisfies the filter.
// Backends that filter in Go use this; SQL and payload-filter backends
// must implement the same semantics server-side.
func (f Filters) MatchesCategory(c memory.Category) bool {
	if f.Category == "" {
		return true
	}
	return c == f.Category || c.Group() == f.Category
}

// Store is the long-term memory store contract.
//
// Implementations must be safe for concurrent use. All methods honor the
// caller's context deadline.
type Store interface {
	// Upsert persists records, replacing any existing record with the same
	// item ID.
	Upsert(ctx context.Context, records []Record) error

	// Query returns up to k candidates nearest to the vector, filtered,
	// ordered by descending similarity.
	Query(ctx context.Context, vector []float32, k int, f Filters) ([]Candidate, error)

	// Delete removes records by item ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of stored records matching the filters.
	Count(ctx context.Context, f Filters) (int, error)

	// SweepAge deletes matching records created before cutoff and reports
	// how many were removed.
	SweepAge(ctx context.Context, f Filters, cutoff time.Time) (int, error)

	// SweepCount keeps at most max matching records, deleting oldest
	// first, and reports how many were removed.
	SweepCount(ctx context.Context, f Filters, max int) (int, error)

	// Close releases backend resources.
	Close() error
}

// payload keys shared by the qdrant and chromem backends.
const (
	payloadContent   = "content"
	payloadCategory  = "category"
	payloadGroup     = "category_group"
	payloadScope     = "scope"
	payloadSource    = "source"
	payloadCreatedAt = "created_at"
)
