package search

import "sort"

// DefaultRRFRank is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains (Azure AI Search, OpenSearch).
const DefaultRRFRank = 60

// RRFFusion combines any number of ranked lists using Reciprocal Rank
// Fusion.
//
// Algorithm: score(d) = Σ 1 / (k + rank_i) over the branches d appears
// in, with rank_i 1-indexed. Absent branches contribute nothing.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates an RRF fuser. k <= 0 uses DefaultRRFRank.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFRank
	}
	return &RRFFusion{K: k}
}

// Fuse merges the branch lists into one ranking.
//
// Sort order: fused score desc, then best raw branch score desc, then
// ID asc. The raw-score tiebreak only compares raw scores; it never
// feeds into the fused score itself.
func (f *RRFFusion) Fuse(branches []BranchResult) []*FusedResult {
	if len(branches) == 0 {
		return []*FusedResult{}
	}

	capacity := 0
	for _, b := range branches {
		capacity += len(b.Hits)
	}
	fused := make(map[string]*FusedResult, capacity)

	for _, branch := range branches {
		for rank, hit := range branch.Hits {
			result, ok := fused[hit.ID]
			if !ok {
				result = &FusedResult{ID: hit.ID}
				fused[hit.ID] = result
			}
			result.Score += 1.0 / float64(f.K+rank+1)
			result.Sources = append(result.Sources, SourceScore{
				Branch: branch.Branch,
				Score:  hit.Score,
				Rank:   rank + 1,
			})
			if result.Payload == nil && hit.Payload != nil {
				result.Payload = hit.Payload
			}
		}
	}

	results := make([]*FusedResult, 0, len(fused))
	for _, r := range fused {
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		ri, rj := maxRawScore(results[i]), maxRawScore(results[j])
		if ri != rj {
			return ri > rj
		}
		return results[i].ID < results[j].ID
	})
	return results
}

func maxRawScore(r *FusedResult) float64 {
	best := 0.0
	for _, s := range r.Sources {
		if s.Score > best {
			best = s.Score
		}
	}
	return best
}

// Page applies threshold, offset and limit to an already-fused list.
// The threshold compares fused scores only.
func Page(results []*FusedResult, threshold float64, offset, limit int) []*FusedResult {
	if threshold > 0 {
		kept := results[:0]
		for _, r := range results {
			if r.Score >= threshold {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	if offset >= len(results) {
		return []*FusedResult{}
	}
	results = results[offset:]
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
