// Package embedding provides text embedding via a remote embedding service,
// with caching and a deterministic mock for tests.
package embedding

import "context"

// Embedder produces vector embeddings for text. Dimensionality is fixed for
// the lifetime of an embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
