package semantic

import "sort"

// rankResults sorts hits by score descending with chunk ID ascending as
// the tie-break, truncates to topK, and assigns 1-based ranks.
func rankResults(results []SearchResult, topK int) []SearchResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// matchesFilters reports whether meta satisfies every filter entry.
func matchesFilters(meta map[string]string, filters map[string]string) bool {
	for k, want := range filters {
		if meta[k] != want {
			return false
		}
	}
	return true
}
