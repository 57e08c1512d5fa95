package semantic

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/fundscout/fundscout/engine/domain"
)

// MemoryIndex is an in-memory cosine-similarity index. It is safe for
// concurrent use; reads never observe a half-written chunk.
type MemoryIndex struct {
	mu     sync.RWMutex
	dims   int
	chunks map[string]memoryEntry
}

var _ Index = (*MemoryIndex)(nil)

type memoryEntry struct {
	chunk  domain.Chunk
	normed []float32 // unit-length copy of the embedding
}

// NewMemoryIndex creates an index with fixed dimensionality dims.
func NewMemoryIndex(dims int) *MemoryIndex {
	return &MemoryIndex{
		dims:   dims,
		chunks: make(map[string]memoryEntry),
	}
}

// Dimensions returns the fixed embedding dimensionality.
func (m *MemoryIndex) Dimensions() int { return m.dims }

// Upsert inserts or replaces a chunk. Last writer wins on conflicting IDs.
func (m *MemoryIndex) Upsert(_ context.Context, chunk domain.Chunk) error {
	if err := domain.ValidateChunk(chunk); err != nil {
		return err
	}
	if len(chunk.Embedding) != m.dims {
		return fmt.Errorf("%w: chunk %s has %d dims, index expects %d",
			domain.ErrDimensionMismatch, chunk.ID, len(chunk.Embedding), m.dims)
	}

	entry := memoryEntry{chunk: chunk, normed: normalize(chunk.Embedding)}
	m.mu.Lock()
	m.chunks[chunk.ID] = entry
	m.mu.Unlock()
	return nil
}

// UpsertBatch upserts chunks one by one, stopping at the first error.
func (m *MemoryIndex) UpsertBatch(ctx context.Context, chunks []domain.Chunk) error {
	for _, c := range chunks {
		if err := m.Upsert(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Search returns the topK nearest chunks by cosine similarity.
func (m *MemoryIndex) Search(_ context.Context, vector []float32, topK int, filters map[string]string) ([]SearchResult, error) {
	if len(vector) != m.dims {
		return nil, fmt.Errorf("%w: query has %d dims, index expects %d",
			domain.ErrDimensionMismatch, len(vector), m.dims)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrInvalidInput, topK)
	}

	q := normalize(vector)

	m.mu.RLock()
	results := make([]SearchResult, 0, len(m.chunks))
	for id, e := range m.chunks {
		if !matchesFilters(e.chunk.Meta, filters) {
			continue
		}
		results = append(results, SearchResult{
			ChunkID: id,
			Score:   dot(q, e.normed),
			Text:    e.chunk.Text,
			Meta:    e.chunk.Meta,
		})
	}
	m.mu.RUnlock()

	return rankResults(results, topK), nil
}

// Delete removes a chunk; absent IDs are a no-op.
func (m *MemoryIndex) Delete(_ context.Context, chunkID string) error {
	m.mu.Lock()
	delete(m.chunks, chunkID)
	m.mu.Unlock()
	return nil
}

// Count returns the number of stored chunks.
func (m *MemoryIndex) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
