package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/multivec/internal/store"
)

func branch(name string, ids ...string) BranchResult {
	hits := make([]*store.ScoredPoint, len(ids))
	for i, id := range ids {
		hits[i] = &store.ScoredPoint{ID: id, Score: 1.0 - float64(i)*0.1}
	}
	return BranchResult{Branch: name, Hits: hits}
}

func TestRRFFusion_TwoBranches(t *testing.T) {
	f := NewRRFFusion(60)

	results := f.Fuse([]BranchResult{
		branch("a", "d1", "d2", "d3"),
		branch("b", "d2", "d1", "d4"),
	})
	require.Len(t, results, 4)

	// d1 and d2 both score 1/61 + 1/62; the tie resolves by best raw
	// score, equal here too, so by ID.
	want := 1.0/61 + 1.0/62
	assert.InDelta(t, want, results[0].Score, 1e-12)
	assert.InDelta(t, want, results[1].Score, 1e-12)
	assert.Equal(t, "d1", results[0].ID)
	assert.Equal(t, "d2", results[1].ID)

	// d3 and d4 each scored 1/63 from a single branch; ID breaks the tie.
	assert.Equal(t, "d3", results[2].ID)
	assert.Equal(t, "d4", results[3].ID)
	assert.InDelta(t, 1.0/63, results[2].Score, 1e-12)
}

func TestRRFFusion_SourcesRecorded(t *testing.T) {
	f := NewRRFFusion(60)

	results := f.Fuse([]BranchResult{
		branch("a", "d1"),
		branch("b", "d2", "d1"),
	})

	var d1 *FusedResult
	for _, r := range results {
		if r.ID == "d1" {
			d1 = r
		}
	}
	require.NotNil(t, d1)
	require.Len(t, d1.Sources, 2)
	assert.Equal(t, "a", d1.Sources[0].Branch)
	assert.Equal(t, 1, d1.Sources[0].Rank)
	assert.Equal(t, "b", d1.Sources[1].Branch)
	assert.Equal(t, 2, d1.Sources[1].Rank)
}

func TestRRFFusion_MoreBranchesNeverLowerScore(t *testing.T) {
	f := NewRRFFusion(60)

	two := f.Fuse([]BranchResult{
		branch("a", "d1", "d2"),
		branch("b", "d2", "d1"),
	})
	three := f.Fuse([]BranchResult{
		branch("a", "d1", "d2"),
		branch("b", "d2", "d1"),
		branch("c", "d1"),
	})

	scoreOf := func(results []*FusedResult, id string) float64 {
		for _, r := range results {
			if r.ID == id {
				return r.Score
			}
		}
		return math.NaN()
	}
	assert.Greater(t, scoreOf(three, "d1"), scoreOf(two, "d1"))
	assert.InDelta(t, scoreOf(two, "d2"), scoreOf(three, "d2"), 1e-12)
}

func TestRRFFusion_RawScoreBreaksTies(t *testing.T) {
	f := NewRRFFusion(60)

	// Same rank in one branch each, but different raw scores.
	results := f.Fuse([]BranchResult{
		{Branch: "a", Hits: []*store.ScoredPoint{{ID: "low", Score: 0.2}}},
		{Branch: "b", Hits: []*store.ScoredPoint{{ID: "high", Score: 0.9}}},
	})
	require.Len(t, results, 2)
	assert.Equal(t, "high", results[0].ID)
	assert.Equal(t, "low", results[1].ID)
}

func TestRRFFusion_EmptyInput(t *testing.T) {
	f := NewRRFFusion(60)
	assert.Empty(t, f.Fuse(nil))
	assert.Empty(t, f.Fuse([]BranchResult{{Branch: "a"}}))
}

func TestRRFFusion_PayloadFromFirstBranch(t *testing.T) {
	f := NewRRFFusion(60)
	results := f.Fuse([]BranchResult{
		{Branch: "a", Hits: []*store.ScoredPoint{{ID: "d1"}}},
		{Branch: "b", Hits: []*store.ScoredPoint{{ID: "d1", Payload: map[string]any{"text": "x"}}}},
	})
	require.Len(t, results, 1)
	assert.Equal(t, "x", results[0].Payload["text"])
}

func TestPage(t *testing.T) {
	results := []*FusedResult{
		{ID: "a", Score: 0.5},
		{ID: "b", Score: 0.3},
		{ID: "c", Score: 0.2},
		{ID: "d", Score: 0.1},
	}

	page := Page(results, 0, 1, 2)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].ID)
	assert.Equal(t, "c", page[1].ID)
}

func TestPage_Threshold(t *testing.T) {
	results := []*FusedResult{
		{ID: "a", Score: 0.5},
		{ID: "b", Score: 0.1},
	}
	page := Page(results, 0.3, 0, 10)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)
}

func TestPage_OffsetPastEnd(t *testing.T) {
	page := Page([]*FusedResult{{ID: "a", Score: 0.5}}, 0, 5, 10)
	assert.Empty(t, page)
}
