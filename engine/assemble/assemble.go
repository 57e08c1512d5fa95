// Package assemble builds the grounding context for one generation call:
// it selects ranked search hits under a byte budget, deduplicates them,
// and formats them into a single context block with provenance.
package assemble

import (
	"fmt"
	"strings"

	"github.com/fundscout/fundscout/engine/semantic"
	"github.com/fundscout/fundscout/pkg/fn"
)

// Separator joins formatted parts inside the window.
const Separator = "\n\n"

// DefaultBudget is the default context size in bytes.
const DefaultBudget = 6000

// Window is the assembled grounding context. Its total size never
// exceeds the budget it was built with, and no chunk appears twice.
type Window struct {
	Parts    []string `json:"parts"`
	ChunkIDs []string `json:"chunk_ids"`
	Size     int      `json:"size"`
	Budget   int      `json:"budget"`
}

// Empty reports whether the window holds no grounding at all.
func (w Window) Empty() bool { return len(w.Parts) == 0 }

// Text returns the parts joined by the separator.
func (w Window) Text() string { return strings.Join(w.Parts, Separator) }

// Assemble walks results in rank order and appends each formatted part
// that still fits, separator included. An oversized part is skipped, not
// fatal: a later smaller hit must not be starved by one big predecessor.
// Duplicate chunk IDs (the same chunk retrieved by several sub-queries)
// are included once. An empty window is a valid outcome, not an error.
func Assemble(results []semantic.SearchResult, budget int) Window {
	if budget <= 0 {
		budget = DefaultBudget
	}
	w := Window{Budget: budget}

	for _, r := range fn.UniqueBy(results, func(r semantic.SearchResult) string { return r.ChunkID }) {
		part := formatPart(r)
		cost := len(part) + len(Separator)
		if w.Size+cost > budget {
			continue
		}
		w.Parts = append(w.Parts, part)
		w.ChunkIDs = append(w.ChunkIDs, r.ChunkID)
		w.Size += cost
	}
	return w
}

// formatPart renders one hit with its citation header.
func formatPart(r semantic.SearchResult) string {
	source := r.Meta["source"]
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("[%s] (source: %s, score: %.3f)\n%s", r.ChunkID, source, r.Score, r.Text)
}
