package store

import "sort"

// topByVectorScore sorts candidates by VectorScore descending and trims to
// limit. Shared by the summary and memory vector scans.
func topByVectorScore(candidates []Scored, limit int) []Scored {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].VectorScore > candidates[j].VectorScore
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}
