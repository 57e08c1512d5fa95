package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fundscout/fundscout/engine/domain"
)

// OllamaClient implements Embedder using Ollama's HTTP embeddings API.
type OllamaClient struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

var _ Embedder = (*OllamaClient)(nil)

// NewOllama creates an Ollama embedding client. dims is the declared
// dimensionality of the model's output; responses of any other length
// are rejected as a configuration error.
func NewOllama(baseURL, model string, dims int) *OllamaClient {
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{},
	}
}

// Dimensions returns the declared embedding dimensionality.
func (c *OllamaClient) Dimensions() int { return c.dims }

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed embeds each text in order. Input is validated locally before any
// network call.
func (c *OllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := domain.ValidateEmbedInput(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed [%d]: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (c *OllamaClient) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(ollamaEmbedReq{Model: c.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrEmbeddingUnavailable, resp.StatusCode)
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrEmbeddingUnavailable, err)
	}
	if len(result.Embedding) != c.dims {
		return nil, fmt.Errorf("%w: model returned %d dims, declared %d",
			domain.ErrDimensionMismatch, len(result.Embedding), c.dims)
	}

	vec := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
