package ingest

import (
	"fmt"

	"github.com/fundscout/fundscout/engine/domain"
	"github.com/fundscout/fundscout/engine/graph"
)

// Document is a grant notice as submitted for ingestion, before any
// processing.
type Document struct {
	Source    string `json:"source"`
	SourceID  string `json:"source_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	URL       string `json:"url,omitempty"`
	Programme string `json:"programme,omitempty"`
	Category  string `json:"category,omitempty"`
	Deadline  string `json:"deadline,omitempty"`
}

// ParsedDoc is a document after parsing and programme classification.
type ParsedDoc struct {
	ID        string
	Source    string
	Title     string
	Content   string
	Programme string
	Sentences []string
	Meta      map[string]string
}

// ChunkedDoc is a parsed document split into embeddable pieces.
type ChunkedDoc struct {
	ParsedDoc
	Pieces []Piece
}

// Piece is a text segment ready for embedding.
type Piece struct {
	Text  string
	Index int
	DocID string
}

// EmbeddedDoc is a chunked document with embeddings.
type EmbeddedDoc struct {
	ChunkedDoc
	Embeddings [][]float32
}

// parseDocument converts a Document into a ParsedDoc, classifying the
// programme from title and content when the producer left it unset.
func parseDocument(doc Document) ParsedDoc {
	programme := doc.Programme
	if programme == "" {
		programme = graph.ClassifyProgramme(doc.Title, doc.Content)
	}
	meta := map[string]string{
		domain.MetaSource: doc.Source,
		domain.MetaTitle:  doc.Title,
	}
	if programme != "" {
		meta[domain.MetaProgramme] = programme
	}
	if doc.Category != "" {
		meta[domain.MetaCategory] = doc.Category
	}
	if doc.Deadline != "" {
		meta[domain.MetaDeadline] = doc.Deadline
	}
	if doc.URL != "" {
		meta[domain.MetaURL] = doc.URL
	}
	return ParsedDoc{
		ID:        doc.Source + ":" + doc.SourceID,
		Source:    doc.Source,
		Title:     doc.Title,
		Content:   doc.Content,
		Programme: programme,
		Sentences: splitSentences(doc.Content),
		Meta:      meta,
	}
}

// validateDocument rejects documents the pipeline cannot process.
func validateDocument(doc Document) error {
	if doc.Source == "" || doc.SourceID == "" {
		return fmt.Errorf("%w: document needs source and source_id", domain.ErrInvalidInput)
	}
	if doc.Title == "" {
		return fmt.Errorf("%w: document %s:%s has no title", domain.ErrInvalidInput, doc.Source, doc.SourceID)
	}
	if doc.Content == "" {
		return fmt.Errorf("%w: document %s:%s has no content", domain.ErrInvalidInput, doc.Source, doc.SourceID)
	}
	return nil
}
