// Package main implements the fundscout API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fundscout/fundscout/engine/agent"
	"github.com/fundscout/fundscout/engine/domain"
	"github.com/fundscout/fundscout/engine/embed"
	"github.com/fundscout/fundscout/engine/genai"
	"github.com/fundscout/fundscout/engine/graph"
	"github.com/fundscout/fundscout/engine/rag"
	"github.com/fundscout/fundscout/engine/semantic"
	"github.com/fundscout/fundscout/pkg/metrics"
	"github.com/fundscout/fundscout/pkg/mid"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// maxRequestBody bounds POST bodies; questions and goals are short.
const maxRequestBody = 64 << 10

// Config holds all environment-based configuration.
type Config struct {
	Port         string
	OllamaURL    string
	EmbedModel   string
	EmbedDims    int
	GenProvider  string // ollama or gemini
	ChatModel    string
	GeminiKey    string
	GeminiModel  string
	IndexBackend string // qdrant or memory
	QdrantURL    string
	Collection   string
	Neo4jURL     string
	Neo4jUser    string
	Neo4jPass    string
	GraphEnabled bool
	NatsURL      string
	CORSOrigin   string
	TopK         int
	Budget       int
}

func loadConfig() Config {
	return Config{
		Port:         envOr("PORT", "8080"),
		OllamaURL:    envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:   envOr("EMBED_MODEL", "all-minilm"),
		EmbedDims:    envInt("EMBED_DIMS", 384),
		GenProvider:  envOr("GEN_PROVIDER", "ollama"),
		ChatModel:    envOr("CHAT_MODEL", "llama3.2"),
		GeminiKey:    envOr("GEMINI_API_KEY", ""),
		GeminiModel:  envOr("GEMINI_MODEL", "gemini-2.0-flash"),
		IndexBackend: envOr("INDEX_BACKEND", "qdrant"),
		QdrantURL:    envOr("QDRANT_URL", "localhost:6334"),
		Collection:   envOr("QDRANT_COLLECTION", "fundscout"),
		Neo4jURL:     envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:    envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:    envOr("NEO4J_PASS", "password"),
		GraphEnabled: envOr("GRAPH_ENABLED", "true") == "true",
		NatsURL:      envOr("NATS_URL", ""),
		CORSOrigin:   envOr("CORS_ORIGIN", "*"),
		TopK:         envInt("RAG_TOP_K", 5),
		Budget:       envInt("RAG_BUDGET", 6000),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	// --- Vector index ---
	var index semantic.Index
	switch cfg.IndexBackend {
	case "memory":
		index = semantic.NewMemoryIndex(cfg.EmbedDims)
	default:
		qdrant, err := semantic.NewQdrant(cfg.QdrantURL, cfg.Collection, cfg.EmbedDims)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer qdrant.Close()
		if err := qdrant.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant collection: %w", err)
		}
		index = qdrant
	}

	// --- Embedding gateway ---
	embedder := embed.NewOllama(cfg.OllamaURL, cfg.EmbedModel, cfg.EmbedDims)

	// --- Generation gateway ---
	var gen genai.Generator
	switch cfg.GenProvider {
	case "gemini":
		if cfg.GeminiKey == "" {
			return errors.New("GEMINI_API_KEY is required with GEN_PROVIDER=gemini")
		}
		gen = genai.NewGemini(cfg.GeminiKey, cfg.GeminiModel)
	default:
		gen = genai.NewOllamaChat(cfg.OllamaURL, cfg.ChatModel, 0.2)
	}

	// --- Programme graph (optional) ---
	var enricher rag.ProgrammeEnricher
	if cfg.GraphEnabled {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(ctx)
		gs := graph.New(driver)
		if err := gs.Seed(ctx); err != nil {
			logger.Warn("programme graph seed failed", "err", err)
		}
		enricher = gs
	}

	// --- NATS for task events (optional) ---
	var nc *nats.Conn
	if cfg.NatsURL != "" {
		var err error
		nc, err = nats.Connect(cfg.NatsURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
	}

	// --- RAG pipeline and orchestrator ---
	ragOpts := rag.DefaultOptions()
	ragOpts.TopK = cfg.TopK
	ragOpts.Budget = cfg.Budget
	ragOpts.UseGraph = enricher != nil
	ragSvc := rag.New(embedder, index, gen, enricher, ragOpts, reg, logger)

	agentOpts := agent.DefaultOptions()
	agentOpts.TopK = cfg.TopK
	orch := agent.New(ragSvc, gen, agent.SequenceSplitter{}, nc, agentOpts, reg, logger)
	defer orch.Close()

	// --- HTTP server ---
	srv := newServer(ragSvc, orch, index, cfg.EmbedModel, reg, logger)
	handler := mid.Chain(srv,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.OTel("fundscout-api"),
		mid.CORS(cfg.CORSOrigin),
		mid.MaxBody(maxRequestBody),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// server holds the HTTP handlers and their dependencies.
type server struct {
	mux        *http.ServeMux
	rag        *rag.Service
	orch       *agent.Orchestrator
	index      semantic.Index
	embedModel string
	logger     *slog.Logger
}

func newServer(ragSvc *rag.Service, orch *agent.Orchestrator, index semantic.Index, embedModel string, reg *metrics.Registry, logger *slog.Logger) *server {
	s := &server{
		mux:        http.NewServeMux(),
		rag:        ragSvc,
		orch:       orch,
		index:      index,
		embedModel: embedModel,
		logger:     logger,
	}
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("POST /api/ask", s.handleAsk)
	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleCancelTask)
	s.mux.Handle("GET /metrics", reg.Handler())
	return s
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.index.Count(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chunks":      count,
		"dimensions":  s.index.Dimensions(),
		"embed_model": s.embedModel,
	})
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	Question string            `json:"question"`
	TopK     int               `json:"top_k,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	answer, err := s.rag.Ask(r.Context(), req.Question, req.TopK, req.Filters)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// TaskRequest is the JSON body for POST /api/tasks.
type TaskRequest struct {
	Goal    string            `json:"goal"`
	TopK    int               `json:"top_k,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
}

func (s *server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	task, err := s.orch.Submit(r.Context(), req.Goal, req.TopK, req.Filters)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (s *server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.orch.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.orch.Cancel(id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// writeError maps the error taxonomy onto HTTP statuses. The failing
// stage, when attributed, is surfaced to the caller.
func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case domain.Retryable(err):
		status = http.StatusServiceUnavailable
	}

	body := map[string]string{"error": err.Error()}
	if stage := domain.StageOf(err); stage != "" {
		body["stage"] = stage
	}
	if status >= 500 {
		s.logger.Error("request failed", "err", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
