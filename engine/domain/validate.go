package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxTextBytes is the largest text accepted for embedding or indexing.
// Longer documents must be chunked before they reach the engine.
const MaxTextBytes = 8192

// ValidateQuery checks a retrieval request before it reaches any gateway.
func ValidateQuery(q Query) error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: empty query text", ErrInvalidInput)
	}
	if len(q.Text) > MaxTextBytes {
		return fmt.Errorf("%w: query text %d bytes exceeds %d", ErrInvalidInput, len(q.Text), MaxTextBytes)
	}
	if q.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidInput, q.TopK)
	}
	for k := range q.Filters {
		if !ValidMetaKeys[k] {
			return fmt.Errorf("%w: unknown filter key %q", ErrInvalidInput, k)
		}
	}
	return nil
}

// ValidateChunk checks a chunk before ingestion or upsert.
func ValidateChunk(c Chunk) error {
	if c.ID == "" {
		return fmt.Errorf("%w: chunk id is empty", ErrInvalidInput)
	}
	if c.Text == "" {
		return fmt.Errorf("%w: chunk %s has empty text", ErrInvalidInput, c.ID)
	}
	if len(c.Text) > MaxTextBytes {
		return fmt.Errorf("%w: chunk %s text %d bytes exceeds %d", ErrInvalidInput, c.ID, len(c.Text), MaxTextBytes)
	}
	if !utf8.ValidString(c.Text) {
		return fmt.Errorf("%w: chunk %s text is not valid UTF-8", ErrInvalidInput, c.ID)
	}
	for k := range c.Meta {
		if !ValidMetaKeys[k] {
			return fmt.Errorf("%w: chunk %s has unknown metadata key %q", ErrInvalidInput, c.ID, k)
		}
	}
	if tag, ok := c.Meta[MetaProgramme]; ok && !validProgramme(tag) {
		return fmt.Errorf("%w: chunk %s has unknown programme %q", ErrInvalidInput, c.ID, tag)
	}
	return nil
}

// ValidateEmbedInput checks a batch of texts bound for the embedding
// provider. Every text must be non-empty and within the size cap.
func ValidateEmbedInput(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts to embed", ErrInvalidInput)
	}
	for i, t := range texts {
		if t == "" {
			return fmt.Errorf("%w: text [%d] is empty", ErrInvalidInput, i)
		}
		if len(t) > MaxTextBytes {
			return fmt.Errorf("%w: text [%d] %d bytes exceeds %d", ErrInvalidInput, i, len(t), MaxTextBytes)
		}
	}
	return nil
}
