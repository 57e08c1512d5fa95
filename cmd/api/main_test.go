package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fundscout/fundscout/engine/agent"
	"github.com/fundscout/fundscout/engine/domain"
	"github.com/fundscout/fundscout/engine/genai"
	"github.com/fundscout/fundscout/engine/rag"
	"github.com/fundscout/fundscout/engine/semantic"
	"github.com/fundscout/fundscout/pkg/metrics"
)

type fixedEmbedder struct{ dims int }

func (f fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dims)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (f fixedEmbedder) Dimensions() int { return f.dims }

func newTestServer(t *testing.T) *server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	reg := metrics.New()

	index := semantic.NewMemoryIndex(4)
	err := index.Upsert(context.Background(), domain.Chunk{
		ID:        "chunk-1",
		Text:      "Horizon Europe funds research and innovation projects.",
		Embedding: []float32{1, 0, 0, 0},
		Meta:      map[string]string{domain.MetaSource: "horizon.pdf"},
	})
	if err != nil {
		t.Fatalf("seed index: %v", err)
	}

	gen := genai.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "Horizon Europe [chunk-1]", nil
	})

	opts := rag.DefaultOptions()
	opts.UseGraph = false
	ragSvc := rag.New(fixedEmbedder{dims: 4}, index, gen, nil, opts, reg, logger)

	agentOpts := agent.DefaultOptions()
	agentOpts.Retry.MaxAttempts = 1
	orch := agent.New(ragSvc, gen, nil, nil, agentOpts, reg, logger)
	t.Cleanup(orch.Close)

	return newServer(ragSvc, orch, index, "all-minilm", reg, logger)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["chunks"].(float64) != 1 {
		t.Fatalf("chunks = %v", resp["chunks"])
	}
	if resp["dimensions"].(float64) != 4 {
		t.Fatalf("dimensions = %v", resp["dimensions"])
	}
	if resp["embed_model"] != "all-minilm" {
		t.Fatalf("embed_model = %v", resp["embed_model"])
	}
}

func TestAskEndpoint(t *testing.T) {
	srv := newTestServer(t)
	body := `{"question":"what does Horizon Europe fund?","top_k":3}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/ask", bytes.NewBufferString(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp rag.Answer
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Grounded {
		t.Fatal("expected grounded answer")
	}
	if len(resp.Provenance) != 1 || resp.Provenance[0] != "chunk-1" {
		t.Fatalf("provenance = %v", resp.Provenance)
	}
}

func TestAskEndpoint_EmptyQuestion(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/ask", bytes.NewBufferString(`{"question":""}`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAskEndpoint_InvalidJSON(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/ask", bytes.NewBufferString("not json")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTaskLifecycle(t *testing.T) {
	srv := newTestServer(t)

	body := `{"goal":"which programme funds research?"}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/tasks", bytes.NewBufferString(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created agent.Task
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != agent.StatusPending && created.Status != agent.StatusRunning {
		t.Fatalf("status = %s", created.Status)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/tasks/"+created.ID, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var task agent.Task
		if err := json.NewDecoder(rec.Body).Decode(&task); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if task.Status.Terminal() {
			if task.Status != agent.StatusCompleted {
				t.Fatalf("status = %s, error = %s", task.Status, task.Error)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/tasks/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfig()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Collection != "fundscout" {
		t.Fatalf("expected default collection fundscout, got %s", cfg.Collection)
	}
	if cfg.EmbedDims != 384 {
		t.Fatalf("expected default dims 384, got %d", cfg.EmbedDims)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("TEST_ENV_VAR_XYZ", "custom")
	if v := envOr("TEST_ENV_VAR_XYZ", "default"); v != "custom" {
		t.Fatalf("expected custom, got %s", v)
	}
	if v := envOr("NONEXISTENT_VAR_ABC", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}
	t.Setenv("TEST_ENV_INT_XYZ", "42")
	if v := envInt("TEST_ENV_INT_XYZ", 7); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if v := envInt("NONEXISTENT_INT_ABC", 7); v != 7 {
		t.Fatalf("expected 7, got %d", v)
	}
}
