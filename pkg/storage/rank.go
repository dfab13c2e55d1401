package storage

import (
	"math"
	"sort"
)

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Rank sorts memories by score descending, breaking ties with the most recent
// UpdatedAt, and truncates to limit when limit > 0.
func Rank(memories []*Memory, limit int) []*Memory {
	sort.SliceStable(memories, func(i, j int) bool {
		if memories[i].Score != memories[j].Score {
			return memories[i].Score > memories[j].Score
		}
		return memories[i].UpdatedAt.After(memories[j].UpdatedAt)
	})
	if limit > 0 && len(memories) > limit {
		return memories[:limit]
	}
	return memories
}

// SortByRecency orders memories by UpdatedAt descending.
func SortByRecency(memories []*Memory) {
	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].UpdatedAt.After(memories[j].UpdatedAt)
	})
}

// Page applies offset and limit to an already ordered slice.
func Page(memories []*Memory, offset, limit int) []*Memory {
	if offset >= len(memories) {
		return nil
	}
	if offset > 0 {
		memories = memories[offset:]
	}
	if limit > 0 && len(memories) > limit {
		memories = memories[:limit]
	}
	return memories
}
