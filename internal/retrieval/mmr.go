package retrieval

import "math"

// DefaultMMRLambda balances relevance against redundancy in diversity
// selection. Higher means "more relevance, less diversity"; at 1.0 the
// selector degenerates to relevance-only top-k.
const DefaultMMRLambda = 0.7

// VectorLookup resolves a candidate key to its embedding vector. A false
// return means no vector is available and the candidate carries no diversity
// penalty.
type VectorLookup func(key string) ([]float32, bool)

// DiversitySelector re-orders and truncates a fused ranking with Maximal
// Marginal Relevance: each slot after the first picks the unselected
// candidate maximizing
//
//	lambda*relevance - (1-lambda)*maxSimilarity(candidate, selected)
//
// where relevance is the fused score normalized to [0,1] and maxSimilarity is
// the highest cosine similarity against any already-selected candidate.
type DiversitySelector struct {
	Lambda  float64
	Vectors VectorLookup
}

// NewDiversitySelector creates a selector with the given lambda and vector
// lookup. Lambda outside [0,1] is clamped; a nil lookup disables the
// diversity penalty entirely.
func NewDiversitySelector(lambda float64, vectors VectorLookup) *DiversitySelector {
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}
	return &DiversitySelector{Lambda: lambda, Vectors: vectors}
}

// Select greedily picks exactly limit items from the fused ranking (fewer
// only if the input is smaller). The input must be sorted descending by
// fused score; rank 1 is always selected unconditionally.
//
// When limit covers the whole input the fused order is returned unchanged:
// nothing is excluded, so no penalty applies.
func (s *DiversitySelector) Select(fused []*CandidateItem, limit int) []*CandidateItem {
	if limit <= 0 || len(fused) == 0 {
		return []*CandidateItem{}
	}
	if limit >= len(fused) {
		out := make([]*CandidateItem, len(fused))
		copy(out, fused)
		return out
	}

	// Normalize relevance against the top fused score so it is comparable
	// with cosine similarity.
	maxScore := fused[0].Score
	relevance := make([]float64, len(fused))
	for i, item := range fused {
		if maxScore > 0 {
			relevance[i] = item.Score / maxScore
		}
	}

	vectors := make([][]float32, len(fused))
	if s.Vectors != nil {
		for i, item := range fused {
			if vec, ok := s.Vectors(item.Key); ok {
				vectors[i] = vec
			}
		}
	}

	selected := make([]*CandidateItem, 0, limit)
	selectedIdx := make([]int, 0, limit)
	used := make([]bool, len(fused))

	// Seed with the top-relevance candidate.
	selected = append(selected, fused[0])
	selectedIdx = append(selectedIdx, 0)
	used[0] = true

	for len(selected) < limit {
		bestIdx := -1
		bestScore := math.Inf(-1)

		for i := range fused {
			if used[i] {
				continue
			}

			penalty := 0.0
			if vectors[i] != nil {
				for _, si := range selectedIdx {
					if vectors[si] == nil {
						continue
					}
					if sim := cosineSimilarity(vectors[i], vectors[si]); sim > penalty {
						penalty = sim
					}
				}
			}

			score := s.Lambda*relevance[i] - (1-s.Lambda)*penalty
			// Strict improvement only: iteration follows fused rank, so
			// equal scores resolve to the higher-ranked candidate, then to
			// the lexically smaller key via the fused sort itself.
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		if bestIdx < 0 {
			break
		}
		selected = append(selected, fused[bestIdx])
		selectedIdx = append(selectedIdx, bestIdx)
		used[bestIdx] = true
	}

	return selected
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero-magnitude vectors yield 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
