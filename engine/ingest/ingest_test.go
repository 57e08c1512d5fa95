package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fundscout/fundscout/engine/domain"
	"github.com/fundscout/fundscout/engine/semantic"
	"github.com/google/uuid"
)

type fakeEmbedder struct {
	dims  int
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dims)
		vec[0] = float32(len(texts[i]))
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func sampleDoc() Document {
	return Document{
		Source:   "ec.europa.eu",
		SourceID: "call-2026-042",
		Title:    "Horizon Europe call for digital SMEs",
		Content:  "Grants up to 2M EUR for deep tech startups. Deadline is in March. Consortia of three partners are required.",
		URL:      "https://ec.europa.eu/call-2026-042",
		Deadline: "2026-03-15",
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First sentence. Second one! Third?\nFourth line")
	want := []string{"First sentence.", "Second one!", "Third?", "Fourth line"}
	if len(got) != len(want) {
		t.Fatalf("sentences = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentences[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitSentencesNoFalseSplitOnAbbrev(t *testing.T) {
	// A period not followed by a space stays inside the sentence.
	got := splitSentences("Apply via ec.europa.eu portal before March.")
	if len(got) != 1 {
		t.Fatalf("expected 1 sentence, got %v", got)
	}
}

func TestChunkSentencesOverlap(t *testing.T) {
	sentences := make([]string, 20)
	for i := range sentences {
		sentences[i] = fmt.Sprintf("Sentence number %d has exactly seven words total.", i)
	}
	pieces := chunkSentences("doc-1", sentences, 30, 7)
	if len(pieces) < 2 {
		t.Fatalf("expected multiple pieces, got %d", len(pieces))
	}
	for i, p := range pieces {
		if p.DocID != "doc-1" {
			t.Fatalf("piece %d docID = %q", i, p.DocID)
		}
		if p.Index != i {
			t.Fatalf("piece %d index = %d", i, p.Index)
		}
	}
	// Overlap: last sentence of piece 0 reappears in piece 1.
	firstParts := strings.Split(pieces[0].Text, ". ")
	last := firstParts[len(firstParts)-1]
	if !strings.Contains(pieces[1].Text, strings.TrimSuffix(last, ".")) {
		t.Fatalf("no overlap between pieces:\n%q\n%q", pieces[0].Text, pieces[1].Text)
	}
}

func TestChunkSentencesForwardProgress(t *testing.T) {
	// Overlap larger than chunk size must not loop forever.
	pieces := chunkSentences("doc-1", []string{"one two three", "four five six"}, 3, 100)
	if len(pieces) == 0 {
		t.Fatal("expected pieces")
	}
}

func TestParseDocumentClassifiesProgramme(t *testing.T) {
	doc := sampleDoc()
	parsed := parseDocument(doc)
	if parsed.Programme != domain.ProgHorizonEurope {
		t.Fatalf("programme = %q, want %q", parsed.Programme, domain.ProgHorizonEurope)
	}
	if parsed.ID != "ec.europa.eu:call-2026-042" {
		t.Fatalf("id = %q", parsed.ID)
	}
	if parsed.Meta[domain.MetaProgramme] != domain.ProgHorizonEurope {
		t.Fatalf("meta programme = %q", parsed.Meta[domain.MetaProgramme])
	}
	if parsed.Meta[domain.MetaDeadline] != "2026-03-15" {
		t.Fatalf("meta deadline = %q", parsed.Meta[domain.MetaDeadline])
	}
}

func TestParseDocumentKeepsExplicitProgramme(t *testing.T) {
	doc := sampleDoc()
	doc.Programme = domain.ProgLIFE
	parsed := parseDocument(doc)
	if parsed.Programme != domain.ProgLIFE {
		t.Fatalf("programme = %q, want explicit %q", parsed.Programme, domain.ProgLIFE)
	}
}

func TestPipelineStoresChunks(t *testing.T) {
	emb := &fakeEmbedder{dims: 4}
	idx := semantic.NewMemoryIndex(4)
	pipeline := NewPipeline(Deps{Embedder: emb, Index: idx})

	docID, err := pipeline(context.Background(), sampleDoc()).Unwrap()
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if docID != "ec.europa.eu:call-2026-042" {
		t.Fatalf("docID = %q", docID)
	}
	n, err := idx.Count(context.Background())
	if err != nil || n == 0 {
		t.Fatalf("count = %d, err = %v", n, err)
	}
}

func TestPipelineDeterministicChunkIDs(t *testing.T) {
	emb := &fakeEmbedder{dims: 4}
	idx := semantic.NewMemoryIndex(4)
	pipeline := NewPipeline(Deps{Embedder: emb, Index: idx})

	if _, err := pipeline(context.Background(), sampleDoc()).Unwrap(); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, _ := idx.Count(context.Background())

	// Re-ingesting the same document replaces chunks in place.
	if _, err := pipeline(context.Background(), sampleDoc()).Unwrap(); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, _ := idx.Count(context.Background())
	if first != second {
		t.Fatalf("re-ingest grew index: %d -> %d", first, second)
	}

	wantID := uuid.NewSHA1(uuid.NameSpaceURL, []byte("ec.europa.eu:call-2026-042-0")).String()
	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 10, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	found := false
	for _, r := range results {
		if r.ChunkID == wantID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected chunk %s in %v", wantID, results)
	}
}

func TestPipelineRejectsInvalidDocument(t *testing.T) {
	pipeline := NewPipeline(Deps{Embedder: &fakeEmbedder{dims: 4}, Index: semantic.NewMemoryIndex(4)})

	_, err := pipeline(context.Background(), Document{Source: "x"}).Unwrap()
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPipelineEmbedFailure(t *testing.T) {
	emb := &fakeEmbedder{dims: 4, err: domain.ErrEmbeddingUnavailable}
	pipeline := NewPipeline(Deps{Embedder: emb, Index: semantic.NewMemoryIndex(4)})

	_, err := pipeline(context.Background(), sampleDoc()).Unwrap()
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if !domain.Retryable(err) {
		t.Fatal("embed failure should be retryable")
	}
}

func TestChunkMetaPropagated(t *testing.T) {
	emb := &fakeEmbedder{dims: 4}
	idx := semantic.NewMemoryIndex(4)
	pipeline := NewPipeline(Deps{Embedder: emb, Index: idx})

	if _, err := pipeline(context.Background(), sampleDoc()).Unwrap(); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 10,
		map[string]string{domain.MetaProgramme: domain.ProgHorizonEurope})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected programme filter to match ingested chunks")
	}
	for _, r := range results {
		if r.Meta[domain.MetaSource] != "ec.europa.eu" {
			t.Fatalf("meta source = %q", r.Meta[domain.MetaSource])
		}
	}
}
