// Package embeddings provides embedding generation via multiple providers.
//
// Two providers are supported: FastEmbed runs local ONNX models (requires
// CGO), TEI talks to a text-embeddings-inference HTTP server. Both are
// deterministic for identical input within a session, which the gating
// redundancy check relies on.
package embeddings

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/memuri/internal/vectorstore"
)

// Common embedding errors.
var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is the interface for embedding providers.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Config holds configuration for creating an embedding provider.
type Config struct {
	// Provider is the provider type: "fastembed" (default) or "tei".
	Provider string `koanf:"provider"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// BaseURL is the TEI server URL (TEI provider only).
	BaseURL string `koanf:"base_url"`

	// CacheDir is the model cache directory (FastEmbed provider only).
	CacheDir string `koanf:"cache_dir"`

	// RequestsPerSecond rate-limits TEI requests. Zero disables limiting.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "fastembed", "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "tei":
		return NewTEIProvider(TEIConfig{
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: fastembed, tei)", ErrInvalidConfig, cfg.Provider)
	}
}

// modelDimension returns the embedding dimension for known model names,
// falling back to 384 (bge-small class models).
func modelDimension(model string) int {
	dims := map[string]int{
		"BAAI/bge-small-en-v1.5":                 384,
		"BAAI/bge-small-en":                      384,
		"BAAI/bge-base-en-v1.5":                  768,
		"BAAI/bge-base-en":                       768,
		"BAAI/bge-small-zh-v1.5":                 512,
		"sentence-transformers/all-MiniLM-L6-v2": 384,
	}
	if dim, ok := dims[model]; ok {
		return dim
	}
	return 384
}
