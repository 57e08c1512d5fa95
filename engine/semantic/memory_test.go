package semantic

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fundscout/fundscout/engine/domain"
)

func chunk(id, text string, embedding []float32, meta map[string]string) domain.Chunk {
	return domain.Chunk{ID: id, Text: text, Embedding: embedding, Meta: meta}
}

func seedIndex(t *testing.T) *MemoryIndex {
	t.Helper()
	idx := NewMemoryIndex(3)
	ctx := context.Background()
	chunks := []domain.Chunk{
		chunk("a", "Horizon Europe deadlines for 2026 calls", []float32{1, 0, 0}, map[string]string{domain.MetaProgramme: domain.ProgHorizonEurope}),
		chunk("b", "Digital Europe SME digitalisation grants", []float32{0.9, 0.1, 0}, map[string]string{domain.MetaProgramme: domain.ProgDigitalEurope}),
		chunk("c", "EU4Agri rural development support", []float32{0, 1, 0}, map[string]string{domain.MetaProgramme: domain.ProgEU4Agri}),
	}
	if err := idx.UpsertBatch(ctx, chunks); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return idx
}

func TestSearchRanking(t *testing.T) {
	idx := seedIndex(t)

	results, err := idx.Search(context.Background(), []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len = %d, want 2", len(results))
	}
	if results[0].ChunkID != "a" || results[1].ChunkID != "b" {
		t.Fatalf("order = [%s %s], want [a b]", results[0].ChunkID, results[1].ChunkID)
	}
	if results[0].Rank != 1 || results[1].Rank != 2 {
		t.Fatalf("ranks = [%d %d]", results[0].Rank, results[1].Rank)
	}
	if results[0].Score < results[1].Score {
		t.Fatal("scores not non-increasing")
	}
}

func TestSearchDeterministicTieBreak(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()
	// Identical embeddings: identical scores, order must fall back to ID.
	for _, id := range []string{"z-chunk", "a-chunk", "m-chunk"} {
		if err := idx.Upsert(ctx, chunk(id, "same text", []float32{1, 1}, nil)); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	for i := 0; i < 5; i++ {
		results, err := idx.Search(ctx, []float32{1, 1}, 3, nil)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		got := []string{results[0].ChunkID, results[1].ChunkID, results[2].ChunkID}
		want := []string{"a-chunk", "m-chunk", "z-chunk"}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("iteration %d: order = %v, want %v", i, got, want)
			}
		}
	}
}

func TestSearchFilters(t *testing.T) {
	idx := seedIndex(t)

	results, err := idx.Search(context.Background(), []float32{1, 0, 0}, 5,
		map[string]string{domain.MetaProgramme: domain.ProgEU4Agri})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "c" {
		t.Fatalf("filtered results = %+v", results)
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	idx := seedIndex(t)

	_, err := idx.Search(context.Background(), []float32{1, 0}, 2, nil)
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestUpsertDimensionMismatch(t *testing.T) {
	idx := NewMemoryIndex(3)
	err := idx.Upsert(context.Background(), chunk("x", "text", []float32{1, 2}, nil))
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	idx := seedIndex(t)
	ctx := context.Background()

	before, err := idx.Search(ctx, []float32{1, 0, 0}, 3, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	same := chunk("a", "Horizon Europe deadlines for 2026 calls", []float32{1, 0, 0},
		map[string]string{domain.MetaProgramme: domain.ProgHorizonEurope})
	if err := idx.Upsert(ctx, same); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	after, err := idx.Search(ctx, []float32{1, 0, 0}, 3, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("result count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ChunkID != after[i].ChunkID || before[i].Score != after[i].Score {
			t.Fatalf("result %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	if n, _ := idx.Count(ctx); n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
}

func TestDelete(t *testing.T) {
	idx := seedIndex(t)
	ctx := context.Background()

	if err := idx.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	results, err := idx.Search(ctx, []float32{1, 0, 0}, 5, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.ChunkID == "a" {
			t.Fatal("deleted chunk surfaced in search")
		}
	}
	// Deleting an absent chunk is fine.
	if err := idx.Delete(ctx, "a"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	idx := seedIndex(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				switch i % 3 {
				case 0:
					idx.Upsert(ctx, chunk("b", "Digital Europe SME digitalisation grants", []float32{0.9, 0.1, 0}, nil))
				case 1:
					idx.Delete(ctx, "c")
				default:
					if _, err := idx.Search(ctx, []float32{1, 0, 0}, 3, nil); err != nil {
						t.Errorf("search: %v", err)
					}
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestNormalize(t *testing.T) {
	n := normalize([]float32{3, 4})
	if d := dot(n, n); d < 0.999 || d > 1.001 {
		t.Fatalf("normalized self-dot = %f, want 1", d)
	}
	zero := normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatal("zero vector should normalize to zero")
	}
}
