// Package graph provides Neo4j knowledge graph operations for EU funding
// programmes and their calls.
package graph

// Programme represents a funding programme node.
type Programme struct {
	Tag        string            `json:"tag"`
	Name       string            `json:"name"`
	Operator   string            `json:"operator"` // EU, national, bilateral
	Focus      string            `json:"focus"`
	Properties map[string]string `json:"properties"`
}

// Call represents a specific call for proposals under a programme.
type Call struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Programme string `json:"programme"`
	Deadline  string `json:"deadline,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Relation links two programmes that tend to fund overlapping applicants
// or topics.
type Relation struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"` // complements, succeeds, co_funds
}
