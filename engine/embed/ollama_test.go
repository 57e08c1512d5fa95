package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fundscout/fundscout/engine/domain"
)

func embedServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req ollamaEmbedReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		vec := make([]float64, dims)
		vec[0] = float64(len(req.Prompt)) // vary by input so order is observable
		json.NewEncoder(w).Encode(ollamaEmbedResp{Embedding: vec})
	}))
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	srv := embedServer(t, 4)
	defer srv.Close()

	c := NewOllama(srv.URL, "nomic-embed-text", 4)
	vecs, err := c.Embed(context.Background(), []string{"ab", "abcd"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("len = %d", len(vecs))
	}
	if vecs[0][0] != 2 || vecs[1][0] != 4 {
		t.Fatalf("order not preserved: %v", vecs)
	}
	if len(vecs[0]) != c.Dimensions() {
		t.Fatalf("dims = %d, want %d", len(vecs[0]), c.Dimensions())
	}
}

func TestEmbedRejectsInvalidInput(t *testing.T) {
	c := NewOllama("http://unused", "m", 4)

	for name, texts := range map[string][]string{
		"empty batch": nil,
		"empty text":  {"ok", ""},
		"oversized":   {strings.Repeat("x", domain.MaxTextBytes+1)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.Embed(context.Background(), texts)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestEmbedUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "m", 4)
	_, err := c.Embed(context.Background(), []string{"query"})
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
}

func TestEmbedConnectionRefused(t *testing.T) {
	c := NewOllama("http://127.0.0.1:1", "m", 4)
	_, err := c.Embed(context.Background(), []string{"query"})
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := embedServer(t, 8)
	defer srv.Close()

	c := NewOllama(srv.URL, "m", 4) // declared 4, model returns 8
	_, err := c.Embed(context.Background(), []string{"query"})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}
