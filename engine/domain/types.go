// Package domain defines core domain types, the metadata vocabulary, and
// validation for the fundscout engine. It acts as the validation gate at
// pipeline entry points.
package domain

// Chunk is the unit of indexed text: a bounded piece of a grant document
// together with its embedding and metadata. Chunks are created during
// ingestion and are immutable once stored; replacement happens only by a
// fresh upsert keyed by ID.
type Chunk struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Embedding []float32         `json:"embedding,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Query is a transient retrieval request. It is never persisted.
type Query struct {
	Text    string            `json:"text"`
	TopK    int               `json:"top_k"`
	Filters map[string]string `json:"filters,omitempty"`
}

// Metadata keys accepted on a Chunk. Producers agree to this closed set.
const (
	MetaSource    = "source"
	MetaTitle     = "title"
	MetaCategory  = "category"
	MetaProgramme = "programme"
	MetaDeadline  = "deadline"
	MetaURL       = "url"
)

// ValidMetaKeys is the closed set of recognised metadata keys.
var ValidMetaKeys = map[string]bool{
	MetaSource: true, MetaTitle: true, MetaCategory: true,
	MetaProgramme: true, MetaDeadline: true, MetaURL: true,
}
