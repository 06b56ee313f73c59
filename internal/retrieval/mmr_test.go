package retrieval

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fusedItems(n int) []*CandidateItem {
	items := make([]*CandidateItem, n)
	for i := range items {
		items[i] = &CandidateItem{
			Key:     fmt.Sprintf("k%02d", i),
			Path:    fmt.Sprintf("notes/k%02d.md", i),
			Excerpt: fmt.Sprintf("passage %d", i),
			Score:   float64(n-i) / float64(n),
			Source:  SourceFusion,
		}
	}
	return items
}

func TestDiversitySelector_LambdaOneIsTopK(t *testing.T) {
	// At lambda=1 the similarity penalty vanishes: selection must equal
	// relevance-only top-k even with adversarial vectors.
	fused := fusedItems(10)
	vectors := map[string][]float32{}
	for _, item := range fused {
		vectors[item.Key] = []float32{1, 0, 0} // everything maximally similar
	}
	selector := NewDiversitySelector(1.0, func(key string) ([]float32, bool) {
		v, ok := vectors[key]
		return v, ok
	})

	selected := selector.Select(fused, 4)
	require.Len(t, selected, 4)
	for i := 0; i < 4; i++ {
		assert.Equal(t, fused[i].Key, selected[i].Key)
	}
}

func TestDiversitySelector_Cardinality(t *testing.T) {
	for _, limit := range []int{1, 3, 7, 12} {
		fused := fusedItems(12)
		selected := NewDiversitySelector(DefaultMMRLambda, nil).Select(fused, limit)

		require.Len(t, selected, limit, "limit=%d", limit)

		seen := make(map[string]bool)
		for _, item := range selected {
			assert.False(t, seen[item.Key], "duplicate key %s", item.Key)
			seen[item.Key] = true
		}
		// Rank 1 is always relevance-only.
		assert.Equal(t, fused[0].Key, selected[0].Key)
	}
}

func TestDiversitySelector_PenalizesNearDuplicates(t *testing.T) {
	// k00 and k01 share a vector; k02 is orthogonal. With a diversity
	// penalty the orthogonal candidate displaces the near-duplicate.
	fused := []*CandidateItem{
		{Key: "k00", Score: 1.0, Source: SourceFusion},
		{Key: "k01", Score: 0.95, Source: SourceFusion},
		{Key: "k02", Score: 0.5, Source: SourceFusion},
	}
	vectors := map[string][]float32{
		"k00": {1, 0},
		"k01": {1, 0},
		"k02": {0, 1},
	}
	selector := NewDiversitySelector(0.5, func(key string) ([]float32, bool) {
		v, ok := vectors[key]
		return v, ok
	})

	selected := selector.Select(fused, 2)
	require.Len(t, selected, 2)
	assert.Equal(t, "k00", selected[0].Key)
	assert.Equal(t, "k02", selected[1].Key)
}

func TestDiversitySelector_MissingVectorsDegradeToRelevance(t *testing.T) {
	fused := fusedItems(6)
	// No lookup at all: plain relevance order.
	selected := NewDiversitySelector(0.5, nil).Select(fused, 3)
	require.Len(t, selected, 3)
	for i := range selected {
		assert.Equal(t, fused[i].Key, selected[i].Key)
	}

	// Lookup that never finds anything behaves identically.
	selected = NewDiversitySelector(0.5, func(string) ([]float32, bool) {
		return nil, false
	}).Select(fused, 3)
	require.Len(t, selected, 3)
	for i := range selected {
		assert.Equal(t, fused[i].Key, selected[i].Key)
	}
}

func TestDiversitySelector_LimitCoversInput(t *testing.T) {
	fused := fusedItems(4)
	selected := NewDiversitySelector(DefaultMMRLambda, nil).Select(fused, 10)

	require.Len(t, selected, 4)
	for i := range selected {
		assert.Equal(t, fused[i].Key, selected[i].Key, "fused order preserved")
	}
}

func TestDiversitySelector_EmptyAndZeroLimit(t *testing.T) {
	selector := NewDiversitySelector(DefaultMMRLambda, nil)
	assert.Empty(t, selector.Select(nil, 5))
	assert.Empty(t, selector.Select(fusedItems(3), 0))
}

func TestDiversitySelector_LambdaClamped(t *testing.T) {
	assert.Equal(t, 0.0, NewDiversitySelector(-0.5, nil).Lambda)
	assert.Equal(t, 1.0, NewDiversitySelector(1.5, nil).Lambda)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"dimension mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}
