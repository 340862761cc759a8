// Package vector defines the vector-store contract consumed by the retrieval
// engine and provides a local sqlite-backed implementation with brute-force
// SIMD cosine scoring.
package vector

import (
	"context"
	"errors"

	"github.com/hyper-light/recall/core/domain"
)

var (
	// ErrDimensionMismatch indicates an embedding with the wrong dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyEmbedding indicates a missing or zero-length embedding.
	ErrEmptyEmbedding = errors.New("embedding is empty")
)

// Filter narrows a vector search to matching chunks. Zero value matches all.
type Filter struct {
	// DocumentIDs restricts results to chunks of these documents.
	DocumentIDs []string

	// Tags restricts results to chunks carrying at least one of these tags.
	Tags []string
}

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool {
	return len(f.DocumentIDs) == 0 && len(f.Tags) == 0
}

// Store is the vector search backend. The engine always reaches it through
// the resilience wrapper, so implementations may be remote-ish and flaky.
type Store interface {
	// Query returns the k nearest chunks to the embedding, best first.
	// Ordering is deterministic: score descending, chunk ID ascending.
	Query(ctx context.Context, embedding []float32, k int, filter Filter) ([]domain.RankedItem, error)

	// Add indexes chunks with their embeddings. Re-adding an existing
	// chunk ID replaces it.
	Add(ctx context.Context, chunks []domain.Chunk) error

	// Delete removes chunks by ID. Missing IDs are not an error.
	Delete(ctx context.Context, ids []string) error

	// Get fetches chunks by ID, preserving input order. Missing IDs are
	// skipped.
	Get(ctx context.Context, ids []string) ([]domain.Chunk, error)
}

// Embedder produces the query embedding. Embedding inference is owned by an
// external subsystem; the core only consumes this interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
