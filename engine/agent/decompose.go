package agent

import (
	"context"
	"regexp"
	"strings"
)

// Decomposer splits a compound request into an ordered list of
// sub-queries. The strategy is pluggable policy, not a fixed algorithm.
type Decomposer interface {
	Decompose(ctx context.Context, goal string) ([]string, error)
}

// SingleQuery is the default decomposer: the whole request is one
// sub-query. Correct for trivially non-compound requests.
type SingleQuery struct{}

func (SingleQuery) Decompose(_ context.Context, goal string) ([]string, error) {
	return []string{goal}, nil
}

// SequenceSplitter is a rule-based decomposer for requests that chain
// steps with explicit connectives ("and then", "; then") or pose
// several questions in a row. Order is preserved; later sub-queries may
// reference earlier answers.
type SequenceSplitter struct{}

var sequenceMarkers = regexp.MustCompile(`(?i)\s*(?:;\s*then\s+|,\s*then\s+|\.\s*then\s+|\s+and then\s+)`)

func (SequenceSplitter) Decompose(_ context.Context, goal string) ([]string, error) {
	parts := sequenceMarkers.Split(goal, -1)
	if len(parts) == 1 {
		parts = splitQuestions(goal)
	}
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = []string{goal}
	}
	return out, nil
}

// splitQuestions separates "First question? Second question?" into two
// sub-queries. A single trailing question mark stays one query.
func splitQuestions(goal string) []string {
	segments := strings.SplitAfter(goal, "?")
	var out []string
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) <= 1 {
		return []string{goal}
	}
	return out
}
