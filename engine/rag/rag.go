// Package rag orchestrates the retrieval-augmented generation pipeline.
// It accepts a question, embeds it, searches the vector index for
// relevant grant chunks, optionally enriches with the programme graph,
// assembles a budgeted context window, and calls the generation gateway
// for the final answer with provenance.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/fundscout/fundscout/engine/assemble"
	"github.com/fundscout/fundscout/engine/domain"
	"github.com/fundscout/fundscout/engine/embed"
	"github.com/fundscout/fundscout/engine/genai"
	"github.com/fundscout/fundscout/engine/graph"
	"github.com/fundscout/fundscout/engine/semantic"
	"github.com/fundscout/fundscout/pkg/fn"
	"github.com/fundscout/fundscout/pkg/metrics"
	"github.com/fundscout/fundscout/pkg/resilience"
)

// Searcher abstracts vector search over the index.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]semantic.SearchResult, error)
}

// ProgrammeEnricher optionally enriches a query with programme-graph
// context. Enrichment failures are never fatal to the pipeline.
type ProgrammeEnricher interface {
	RelatedProgrammes(ctx context.Context, keywords []string) ([]graph.Programme, error)
}

// NoGroundingAnswer is returned when retrieval produced no usable
// context. The generation gateway is not called in that case.
const NoGroundingAnswer = "No relevant information was found in the indexed funding documents for this question."

const defaultSystemPrompt = `You are FundScout, an expert on EU funding opportunities and grants.
Answer the user's question using ONLY the provided context. If the context
does not contain enough information, say so. Cite sources using [chunk_id].`

// Options configures the pipeline behaviour.
type Options struct {
	TopK            int
	Budget          int
	SystemPrompt    string
	UseGraph        bool
	EmbedTimeout    time.Duration
	SearchTimeout   time.Duration
	GenerateTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:            5,
		Budget:          assemble.DefaultBudget,
		SystemPrompt:    defaultSystemPrompt,
		UseGraph:        true,
		EmbedTimeout:    10 * time.Second,
		SearchTimeout:   5 * time.Second,
		GenerateTimeout: 60 * time.Second,
	}
}

// Service is the RAG pipeline service. It holds no per-call state; one
// Service may serve concurrent questions.
type Service struct {
	embedder embed.Embedder
	index    Searcher
	gen      genai.Generator
	graph    ProgrammeEnricher
	opts     Options
	logger   *slog.Logger

	embedBreaker *resilience.Breaker
	genBreaker   *resilience.Breaker

	queries     *metrics.Counter
	noGrounding *metrics.Counter
	latency     *metrics.Histogram
	reg         *metrics.Registry
}

// New creates a RAG Service. graph and reg may be nil.
func New(embedder embed.Embedder, index Searcher, gen genai.Generator, graphE ProgrammeEnricher, opts Options, reg *metrics.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		embedder:     embedder,
		index:        index,
		gen:          gen,
		graph:        graphE,
		opts:         opts,
		logger:       logger,
		reg:          reg,
		embedBreaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		genBreaker:   resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
	if reg != nil {
		s.queries = reg.Counter("rag_queries_total", "Questions answered by the pipeline.")
		s.noGrounding = reg.Counter("rag_no_grounding_total", "Questions answered without grounding context.")
		s.latency = reg.Histogram("rag_answer_seconds", "End-to-end answer latency.", nil)
	}
	return s
}

// Answer is the pipeline result: synthesized text plus the chunk IDs
// that actually grounded it.
type Answer struct {
	Text       string   `json:"text"`
	Provenance []string `json:"provenance"`
	Grounded   bool     `json:"grounded"`
	Retrieved  int      `json:"retrieved"`
}

// Ask runs the full pipeline for one question. Filters may be nil. Any
// stage failure surfaces as a *domain.StageError naming the stage; the
// pipeline never partially succeeds and caches nothing across calls.
func (s *Service) Ask(ctx context.Context, question string, topK int, filters map[string]string) (*Answer, error) {
	start := time.Now()
	if topK <= 0 {
		topK = s.opts.TopK
	}
	if err := domain.ValidateQuery(domain.Query{Text: question, TopK: topK, Filters: filters}); err != nil {
		return nil, err
	}
	if s.queries != nil {
		s.queries.Inc()
	}
	s.logger.Info("rag query start", "question_len", len(question), "top_k", topK)

	// 1. Embed the question.
	vectors, err := runStage(ctx, domain.StageEmbed, s.opts.EmbedTimeout, s.reg, func(ctx context.Context) ([][]float32, error) {
		return throughBreaker(s.embedBreaker, ctx, domain.ErrEmbeddingUnavailable, func(ctx context.Context) ([][]float32, error) {
			return s.embedder.Embed(ctx, []string{question})
		})
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, domain.NewStageError(domain.StageEmbed,
			fmt.Errorf("%w: got %d vectors for one text", domain.ErrEmbeddingUnavailable, len(vectors)))
	}

	// 2. Search the vector index.
	results, err := runStage(ctx, domain.StageSearch, s.opts.SearchTimeout, s.reg, func(ctx context.Context) ([]semantic.SearchResult, error) {
		return s.index.Search(ctx, vectors[0], topK, filters)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("rag search done", "results", len(results))

	// 3. Assemble the context window.
	window := assemble.Assemble(results, s.opts.Budget)

	// 4. Empty grounding is a distinct answer mode, not a generation call.
	if window.Empty() {
		if s.noGrounding != nil {
			s.noGrounding.Inc()
		}
		s.observe(start)
		return &Answer{
			Text:       NoGroundingAnswer,
			Provenance: []string{},
			Grounded:   false,
			Retrieved:  len(results),
		}, nil
	}

	// 5. Optional programme-graph enrichment; failures are logged and skipped.
	graphContext := ""
	if s.opts.UseGraph && s.graph != nil {
		graphContext = s.enrich(ctx, question)
	}

	// 6. Generate from question + context.
	prompt := buildPrompt(s.opts.SystemPrompt, question, window, graphContext)
	text, err := runStage(ctx, domain.StageGenerate, s.opts.GenerateTimeout, s.reg, func(ctx context.Context) (string, error) {
		return throughBreaker(s.genBreaker, ctx, domain.ErrGenerationUnavailable, func(ctx context.Context) (string, error) {
			return s.gen.Generate(ctx, prompt)
		})
	})
	if err != nil {
		return nil, err
	}

	provenance := append([]string(nil), window.ChunkIDs...)
	sort.Strings(provenance)
	s.observe(start)
	return &Answer{
		Text:       text,
		Provenance: provenance,
		Grounded:   true,
		Retrieved:  len(results),
	}, nil
}

func (s *Service) observe(start time.Time) {
	if s.latency != nil {
		s.latency.Since(start)
	}
}

// enrich fetches related programmes for the question's keywords.
func (s *Service) enrich(ctx context.Context, question string) string {
	keywords := extractKeywords(question)
	if len(keywords) == 0 {
		return ""
	}
	programmes, err := s.graph.RelatedProgrammes(ctx, keywords)
	if err != nil {
		s.logger.Warn("rag: programme enrichment failed, continuing without", "err", err)
		return ""
	}
	return graph.FormatProgrammes(programmes)
}

// buildPrompt joins the system prompt, grounding context, optional graph
// context, and the question.
func buildPrompt(system, question string, window assemble.Window, graphContext string) string {
	prompt := fmt.Sprintf("%s\n\nContext from the funding knowledge base:\n%s", system, window.Text())
	if graphContext != "" {
		prompt += "\n\n" + graphContext
	}
	return prompt + "\n\nUser question: " + question
}

// throughBreaker runs f behind a circuit breaker. A rejected call is
// reported as the upstream's unavailability sentinel so callers can
// classify it with the rest of the taxonomy.
func throughBreaker[T any](b *resilience.Breaker, ctx context.Context, unavailable error, f func(context.Context) (T, error)) (T, error) {
	v, err := resilience.CallResult(b, ctx, func(ctx context.Context) fn.Result[T] {
		return fn.FromPair(f(ctx))
	}).Unwrap()
	if errors.Is(err, resilience.ErrCircuitOpen) {
		err = fmt.Errorf("%w: %v", unavailable, err)
	}
	return v, err
}

// runStage executes one pipeline stage with its own timeout, an OTel
// span, and stage-labelled failure accounting.
func runStage[T any](ctx context.Context, name string, timeout time.Duration, reg *metrics.Registry, f func(context.Context) (T, error)) (T, error) {
	staged := fn.TracedStage("rag."+name, func(ctx context.Context, _ struct{}) fn.Result[T] {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return fn.FromPair(f(ctx))
	})

	v, err := staged(ctx, struct{}{}).Unwrap()
	if err != nil {
		if reg != nil {
			reg.Counter(metrics.WithLabels("rag_stage_failures_total", "stage", name),
				"Pipeline failures per stage.").Inc()
		}
		return v, domain.NewStageError(name, err)
	}
	return v, nil
}
