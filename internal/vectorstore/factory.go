package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a store backend.
type Config struct {
	// Provider is the backend name: "chromem" (default), "qdrant", or
	// "pgvector".
	Provider string `koanf:"provider"`

	// Path is the storage directory for the chromem backend. Empty runs
	// chromem in-memory.
	Path string `koanf:"path"`

	// Host and Port locate the Qdrant gRPC endpoint.
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// DSN is the Postgres connection string for the pgvector backend.
	DSN string `koanf:"dsn"`

	// Collection names the collection or table.
	Collection string `koanf:"collection"`

	// VectorSize is the embedding dimension. Must match the embedder.
	VectorSize int `koanf:"vector_size"`

	// UseTLS enables TLS for gRPC backends.
	UseTLS bool `koanf:"use_tls"`

	// Compress enables compression for the chromem backend.
	Compress bool `koanf:"compress"`
}

// NewStore creates the configured store backend. Unknown providers are a
// configuration error; there is no silent fallback.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.Path,
			Compress:   cfg.Compress,
			Collection: cfg.Collection,
			VectorSize: cfg.VectorSize,
		}, logger)
	case "qdrant":
		return NewQdrantStore(ctx, QdrantConfig{
			Host:       cfg.Host,
			Port:       cfg.Port,
			Collection: cfg.Collection,
			VectorSize: uint64(cfg.VectorSize),
			UseTLS:     cfg.UseTLS,
		})
	case "pgvector":
		return NewPgStore(ctx, PgConfig{
			DSN:        cfg.DSN,
			Table:      cfg.Collection,
			VectorSize: cfg.VectorSize,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: chromem, qdrant, pgvector)", ErrInvalidConfig, cfg.Provider)
	}
}
