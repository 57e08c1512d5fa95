// Package ingest provides the ingestion pipeline that processes grant
// documents through validation, parsing, chunking, embedding, and
// indexing stages.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fundscout/fundscout/engine/domain"
	"github.com/fundscout/fundscout/engine/embed"
	"github.com/fundscout/fundscout/engine/graph"
	"github.com/fundscout/fundscout/engine/semantic"
	"github.com/fundscout/fundscout/pkg/fn"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	// IngestSubject is the NATS subject for incoming grant documents.
	IngestSubject = "grants.ingest"
	// DLQSubject is the dead letter queue subject for failed messages.
	DLQSubject = "grants.ingest.dlq"
	// MaxRetries before sending to DLQ.
	MaxRetries = 3
	// EmbedBatchSize is the max pieces per embedding request.
	EmbedBatchSize = 64
)

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Embedder   embed.Embedder
	Index      semantic.Index
	GraphStore *graph.GraphStore                                      // optional
	DedupF     func(ctx context.Context, docID string) (bool, error) // returns true if already ingested
	Logger     *slog.Logger
}

// Validate checks a Document before any work is done on it.
var Validate fn.Stage[Document, Document] = func(ctx context.Context, doc Document) fn.Result[Document] {
	if err := validateDocument(doc); err != nil {
		return fn.Err[Document](err)
	}
	return fn.Ok(doc)
}

// Parse converts a Document into a ParsedDoc.
var Parse fn.Stage[Document, ParsedDoc] = func(_ context.Context, doc Document) fn.Result[ParsedDoc] {
	return fn.Ok(parseDocument(doc))
}

// ChunkDoc splits a ParsedDoc into a ChunkedDoc.
var ChunkDoc fn.Stage[ParsedDoc, ChunkedDoc] = func(_ context.Context, doc ParsedDoc) fn.Result[ChunkedDoc] {
	pieces := chunkSentences(doc.ID, doc.Sentences, DefaultChunkSize, DefaultOverlap)
	if len(pieces) == 0 {
		// Single piece fallback for short content.
		pieces = []Piece{{Text: doc.Content, Index: 0, DocID: doc.ID}}
	}
	return fn.Ok(ChunkedDoc{ParsedDoc: doc, Pieces: pieces})
}

// NewEmbed creates an Embed stage backed by the embedding gateway.
func NewEmbed(embedder embed.Embedder) fn.Stage[ChunkedDoc, EmbeddedDoc] {
	return func(ctx context.Context, doc ChunkedDoc) fn.Result[EmbeddedDoc] {
		embeddings := make([][]float32, len(doc.Pieces))

		for i := 0; i < len(doc.Pieces); i += EmbedBatchSize {
			end := min(i+EmbedBatchSize, len(doc.Pieces))

			texts := make([]string, end-i)
			for j, p := range doc.Pieces[i:end] {
				texts[j] = p.Text
			}

			vectors, err := embedder.Embed(ctx, texts)
			if err != nil {
				return fn.Err[EmbeddedDoc](fmt.Errorf("embed batch: %w", err))
			}
			if len(vectors) != len(texts) {
				return fn.Err[EmbeddedDoc](fmt.Errorf("%w: got %d vectors for %d texts",
					domain.ErrEmbeddingUnavailable, len(vectors), len(texts)))
			}
			copy(embeddings[i:end], vectors)
		}

		return fn.Ok(EmbeddedDoc{ChunkedDoc: doc, Embeddings: embeddings})
	}
}

// NewStore creates a Store stage that writes chunks to the vector index
// and, when a graph store is present, records the call under its
// programme.
func NewStore(index semantic.Index, gs *graph.GraphStore) fn.Stage[EmbeddedDoc, string] {
	return func(ctx context.Context, doc EmbeddedDoc) fn.Result[string] {
		chunks := make([]domain.Chunk, len(doc.Pieces))
		for i, piece := range doc.Pieces {
			// Deterministic UUID from doc ID and piece index, so
			// re-ingesting a document replaces its chunks in place.
			chunkID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", doc.ID, piece.Index))).String()
			meta := make(map[string]string, len(doc.Meta))
			for k, v := range doc.Meta {
				meta[k] = v
			}
			chunks[i] = domain.Chunk{
				ID:        chunkID,
				Text:      piece.Text,
				Embedding: doc.Embeddings[i],
				Meta:      meta,
			}
			if err := domain.ValidateChunk(chunks[i]); err != nil {
				return fn.Err[string](err)
			}
		}
		if err := index.UpsertBatch(ctx, chunks); err != nil {
			return fn.Err[string](fmt.Errorf("index upsert: %w", err))
		}

		if gs != nil && doc.Programme != "" {
			call := graph.Call{
				ID:        doc.ID,
				Title:     doc.Title,
				Programme: doc.Programme,
				Deadline:  doc.Meta[domain.MetaDeadline],
				URL:       doc.Meta[domain.MetaURL],
			}
			if err := gs.SaveCall(ctx, call); err != nil {
				// Graph enrichment is best-effort; the chunks are indexed.
				slog.Warn("ingest: graph call save failed", "error", err, "doc_id", doc.ID)
			}
		}

		return fn.Ok(doc.ID)
	}
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Info("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Info("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewPipeline constructs the full ingestion pipeline with all stages wired.
func NewPipeline(deps Deps) fn.Stage[Document, string] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	// Compose: Validate → Parse → Chunk → Embed → Store
	validated := fn.Then(LoggedTap[Document]("validate", log), Validate)
	parsed := fn.Then(validated, fn.Then(LoggedTap[Document]("parse", log), Parse))
	chunked := fn.Then(parsed, fn.Then(LoggedTap[ParsedDoc]("chunk", log), ChunkDoc))
	embedded := fn.Then(chunked, fn.Then(LoggedTap[ChunkedDoc]("embed", log), NewEmbed(deps.Embedder)))
	stored := fn.Then(embedded, fn.Then(LoggedTap[EmbeddedDoc]("store", log), NewStore(deps.Index, deps.GraphStore)))

	return stored
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Document Document `json:"document"`
	Error    string   `json:"error"`
	Retries  int      `json:"retries"`
}

// StartConsumer starts a NATS consumer that runs grant documents through
// the ingestion pipeline with retry and DLQ support.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(IngestSubject, func(msg *nats.Msg) {
		var doc Document
		if err := json.Unmarshal(msg.Data, &doc); err != nil {
			log.Error("ingest: unmarshal failed", "error", err)
			return
		}

		ctx := context.Background()

		if deps.DedupF != nil {
			docID := doc.Source + ":" + doc.SourceID
			exists, err := deps.DedupF(ctx, docID)
			if err != nil {
				log.Warn("ingest: dedup check failed", "error", err)
			} else if exists {
				log.Info("ingest: skipping duplicate", "doc_id", docID)
				return
			}
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get("X-Retry-Count"); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		result := pipeline(ctx, doc)
		if result.IsErr() {
			_, pipeErr := result.Unwrap()
			retries++
			log.Error("ingest: pipeline failed",
				"error", pipeErr,
				"source_id", doc.SourceID,
				"retry", retries,
			)

			// Validation failures never recover; retrying them only
			// delays the DLQ.
			if retries >= MaxRetries || !domain.Retryable(pipeErr) {
				dlq := dlqMessage{
					Document: doc,
					Error:    pipeErr.Error(),
					Retries:  retries,
				}
				data, _ := json.Marshal(dlq)
				if err := nc.Publish(DLQSubject, data); err != nil {
					log.Error("ingest: DLQ publish failed", "error", err)
				}
			} else {
				retryMsg := nats.NewMsg(IngestSubject)
				retryMsg.Data = msg.Data
				retryMsg.Header = nats.Header{}
				retryMsg.Header.Set("X-Retry-Count", fmt.Sprintf("%d", retries))
				if err := nc.PublishMsg(retryMsg); err != nil {
					log.Error("ingest: retry publish failed", "error", err)
				}
			}
		} else {
			docID, _ := result.Unwrap()
			log.Info("ingest: success", "doc_id", docID)
		}
	})
}
