// Package main implements the fundscout ingestion worker. It consumes
// grant documents from NATS and runs them through the ingestion
// pipeline; with -file it ingests a local JSON document batch instead.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fundscout/fundscout/engine/embed"
	"github.com/fundscout/fundscout/engine/graph"
	"github.com/fundscout/fundscout/engine/ingest"
	"github.com/fundscout/fundscout/engine/semantic"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

func main() {
	file := flag.String("file", "", "ingest a JSON array of documents from this file and exit")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(*file, logger); err != nil {
		logger.Error("ingest worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(file string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	qdrantAddr := envOr("QDRANT_URL", "localhost:6334")
	collection := envOr("QDRANT_COLLECTION", "fundscout")
	ollamaURL := envOr("OLLAMA_URL", "http://localhost:11434")
	embedModel := envOr("EMBED_MODEL", "all-minilm")
	dims := envInt("EMBED_DIMS", 384)

	index, err := semantic.NewQdrant(qdrantAddr, collection, dims)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer index.Close()
	if err := index.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("qdrant collection: %w", err)
	}

	deps := ingest.Deps{
		Embedder: embed.NewOllama(ollamaURL, embedModel, dims),
		Index:    index,
		Logger:   logger,
	}

	if envOr("GRAPH_ENABLED", "true") == "true" {
		driver, err := neo4j.NewDriverWithContext(
			envOr("NEO4J_URL", "neo4j://localhost:7687"),
			neo4j.BasicAuth(envOr("NEO4J_USER", "neo4j"), envOr("NEO4J_PASS", "password"), ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(ctx)
		gs := graph.New(driver)
		if err := gs.Seed(ctx); err != nil {
			logger.Warn("programme graph seed failed", "err", err)
		}
		deps.GraphStore = gs
	}

	if file != "" {
		return ingestFile(ctx, file, deps, logger)
	}

	nc, err := nats.Connect(envOr("NATS_URL", nats.DefaultURL))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	sub, err := ingest.StartConsumer(nc, deps)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer sub.Unsubscribe()

	logger.Info("ingest worker started", "subject", ingest.IngestSubject)
	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

// ingestFile runs every document in a local JSON batch through the
// pipeline, continuing past individual failures.
func ingestFile(ctx context.Context, path string, deps ingest.Deps, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var docs []ingest.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	pipeline := ingest.NewPipeline(deps)
	ok, failed := 0, 0
	for _, doc := range docs {
		if _, err := pipeline(ctx, doc).Unwrap(); err != nil {
			logger.Error("document failed", "source_id", doc.SourceID, "err", err)
			failed++
			continue
		}
		ok++
	}
	logger.Info("file ingest finished", "ok", ok, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, ok+failed)
	}
	return nil
}
