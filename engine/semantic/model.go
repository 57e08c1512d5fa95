// Package semantic provides the vector index: storage and nearest-neighbour
// search over embedded grant chunks. Two backends implement the same
// contract, a Qdrant-backed store for deployments and an in-memory index
// for tests and single-binary mode. Both rank by cosine similarity and
// break score ties by chunk ID ascending, so repeated searches over the
// same index state return identical orderings.
package semantic

import (
	"context"

	"github.com/fundscout/fundscout/engine/domain"
)

// SearchResult is a single ranked search hit.
type SearchResult struct {
	ChunkID string            `json:"chunk_id"`
	Score   float32           `json:"score"`
	Rank    int               `json:"rank"`
	Text    string            `json:"text"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Index is the vector index contract. Implementations must reject
// dimensionality mismatches with domain.ErrDimensionMismatch and must
// keep individual operations atomic under concurrent use.
type Index interface {
	// Upsert inserts or replaces a chunk keyed by its ID. Repeating an
	// upsert with identical content is observably a no-op; conflicting
	// concurrent upserts resolve last-writer-wins.
	Upsert(ctx context.Context, chunk domain.Chunk) error
	// UpsertBatch upserts several chunks in one call.
	UpsertBatch(ctx context.Context, chunks []domain.Chunk) error
	// Search returns at most topK results whose metadata matches every
	// filter entry, ordered by score descending then chunk ID ascending.
	Search(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]SearchResult, error)
	// Delete removes a chunk. Deleting an absent chunk is not an error.
	Delete(ctx context.Context, chunkID string) error
	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)
	// Dimensions returns the fixed embedding dimensionality D.
	Dimensions() int
}
