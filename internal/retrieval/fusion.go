package retrieval

import "sort"

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is empirically validated across domains (used by Azure AI Search,
// OpenSearch, etc.).
const DefaultRRFConstant = 60

// RRFFusion merges independently-ranked provider buckets into one consensus
// ranking using Reciprocal Rank Fusion.
//
// Algorithm: score(d) = Σ 1 / (k + rank_i) over every bucket containing d,
// with ranks 1-indexed. Only rank position matters; provider score magnitudes
// are never compared across buckets.
type RRFFusion struct {
	K int // smoothing constant (default: 60)
}

// NewRRFFusion creates an RRF fusion instance with default k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates an RRF fusion with a custom k value.
// If k <= 0, defaults to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// fusedEntry tracks per-key accumulation state during one Fuse call.
type fusedEntry struct {
	item        *CandidateItem
	score       float64
	firstBucket int // index of the first bucket containing the key
	firstRank   int // 1-indexed rank within that bucket
}

// Fuse combines the buckets and returns at most limit items sorted descending
// by summed RRF score, each with Source = fusion.
//
// Item content comes from the first bucket encountering a key; ReasonTags are
// merged across all buckets containing it. Output is bit-for-bit reproducible
// for identical input: ties break by rank in the first containing bucket,
// then by key.
func (f *RRFFusion) Fuse(buckets []*Bucket, limit int) []*CandidateItem {
	if len(buckets) == 0 {
		return []*CandidateItem{}
	}

	entries := make(map[string]*fusedEntry)
	order := make([]string, 0) // first-seen key order for deterministic iteration

	for bi, bucket := range buckets {
		for rank, item := range bucket.Items {
			contribution := 1.0 / float64(f.K+rank+1)
			entry, ok := entries[item.Key]
			if !ok {
				entry = &fusedEntry{
					item:        item.Clone(),
					firstBucket: bi,
					firstRank:   rank + 1,
				}
				entries[item.Key] = entry
				order = append(order, item.Key)
			} else {
				for _, tag := range item.ReasonTags {
					entry.item.AddTag(tag)
				}
			}
			entry.score += contribution
		}
	}

	results := make([]*fusedEntry, 0, len(order))
	for _, key := range order {
		results = append(results, entries[key])
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.firstBucket != b.firstBucket {
			return a.firstBucket < b.firstBucket
		}
		if a.firstRank != b.firstRank {
			return a.firstRank < b.firstRank
		}
		return a.item.Key < b.item.Key
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	out := make([]*CandidateItem, len(results))
	for i, entry := range results {
		item := entry.item
		item.Score = entry.score
		item.Source = SourceFusion
		out[i] = item
	}
	return out
}
