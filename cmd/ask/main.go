// Package main implements a one-shot CLI that answers a funding
// question against the running stack and prints the answer with its
// provenance.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/fundscout/fundscout/engine/domain"
	"github.com/fundscout/fundscout/engine/embed"
	"github.com/fundscout/fundscout/engine/genai"
	"github.com/fundscout/fundscout/engine/rag"
	"github.com/fundscout/fundscout/engine/semantic"
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
	topK := flag.Int("k", 5, "retrieval fan-out")
	programme := flag.String("programme", "", "restrict to one programme tag, e.g. horizon-europe")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	question := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if question == "" {
		fmt.Fprintln(os.Stderr, "usage: ask [-k N] [-programme TAG] <question>")
		os.Exit(2)
	}

	if err := run(question, *topK, *programme, logger); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(question string, topK int, programme string, logger *slog.Logger) error {
	ctx := context.Background()

	dims := envInt("EMBED_DIMS", 384)
	index, err := semantic.NewQdrant(envOr("QDRANT_URL", "localhost:6334"), envOr("QDRANT_COLLECTION", "fundscout"), dims)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer index.Close()

	ollamaURL := envOr("OLLAMA_URL", "http://localhost:11434")
	embedder := embed.NewOllama(ollamaURL, envOr("EMBED_MODEL", "all-minilm"), dims)

	var gen genai.Generator
	if key := envOr("GEMINI_API_KEY", ""); key != "" {
		gen = genai.NewGemini(key, envOr("GEMINI_MODEL", "gemini-2.0-flash"))
	} else {
		gen = genai.NewOllamaChat(ollamaURL, envOr("CHAT_MODEL", "llama3.2"), 0.2)
	}

	opts := rag.DefaultOptions()
	opts.UseGraph = false
	svc := rag.New(embedder, index, gen, nil, opts, nil, logger)

	var filters map[string]string
	if programme != "" {
		filters = map[string]string{domain.MetaProgramme: programme}
	}

	answer, err := svc.Ask(ctx, question, topK, filters)
	if err != nil {
		return err
	}

	fmt.Println(answer.Text)
	if answer.Grounded {
		fmt.Println("\nSources:")
		for _, id := range answer.Provenance {
			fmt.Println("  -", id)
		}
	}
	return nil
}
