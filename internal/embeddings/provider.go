// Package embeddings projects reliability events into fixed-dimension
// vectors for similarity recall.
//
// The provider is an external collaborator from the memory's point of view:
// any implementation with a stable dimension satisfies the contract. The
// default metric provider is deterministic and needs no model download;
// the fastembed provider embeds the event's text rendering with a local
// ONNX model.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/event"
)

// Sentinel errors for embedding providers.
var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embedding")
)

// Provider generates an embedding vector for a reliability event.
type Provider interface {
	// Embed returns a vector of exactly Dimension() elements.
	Embed(ctx context.Context, ev *event.Event) ([]float32, error)

	// Dimension returns the fixed embedding dimension.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// NewProvider creates a provider from configuration.
func NewProvider(cfg config.EmbeddingsConfig) (Provider, error) {
	switch cfg.Provider {
	case "metric", "":
		return NewMetricProvider(), nil
	case "fastembed":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
