// Package embed provides the embedding gateway: it converts texts into
// fixed-dimension vectors through an external embedding model. The
// gateway is stateless and never retries; retry policy belongs to the
// caller.
package embed

import "context"

// Embedder converts a batch of texts into vectors, one per input text,
// preserving order. Every vector has exactly Dimensions() entries.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
