package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreUnknownProvider(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Provider: "milvus"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewStoreDefaultsToChromem(t *testing.T) {
	store, err := NewStore(context.Background(), Config{VectorSize: 4}, nil)
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*ChromemStore)
	assert.True(t, ok, "empty provider should select chromem")
}

func TestQdrantConfigValidation(t *testing.T) {
	cfg := QdrantConfig{Collection: "Bad Name!"}
	cfg.ApplyDefaults()
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = QdrantConfig{}
	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "memuri_items", cfg.Collection)
	assert.Equal(t, 6334, cfg.Port)
}

func TestPgConfigValidation(t *testing.T) {
	cfg := PgConfig{}
	cfg.ApplyDefaults()
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig) // missing DSN

	cfg = PgConfig{DSN: "postgres://localhost/memuri", Table: "items; DROP TABLE"}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
