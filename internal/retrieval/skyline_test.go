package retrieval

import (
	"fmt"
	"testing"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func ids(cs []domain.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestScores_Dominates(t *testing.T) {
	a := Scores{Vector: 1, Graph: 0.5, Hierarchy: 0.2}

	assert.True(t, a.Dominates(Scores{Vector: 0.9, Graph: 0.5, Hierarchy: 0.2}))
	assert.False(t, a.Dominates(a), "equal scores do not dominate")
	assert.False(t, a.Dominates(Scores{Vector: 0.5, Graph: 0.6, Hierarchy: 0}))
}

func TestSkyline_PaddingNeverFabricates(t *testing.T) {
	cands := []domain.Candidate{
		{ID: "a", VectorScore: 0.9},
		{ID: "b", VectorScore: 0.8},
		{ID: "c", VectorScore: 0.7},
	}

	out := Skyline(cands, nil, 5)

	assert.Len(t, out, 3)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids(out))
}

func TestSkyline_GraphRescuesLowVectorHit(t *testing.T) {
	cands := []domain.Candidate{
		{ID: "v1", VectorScore: 0.9},
		{ID: "v2", VectorScore: 0.85},
		{ID: "g1", VectorScore: 0.5},
		{ID: "weak", VectorScore: 0.4},
	}
	graph := map[string]float64{"g1": 3, "weak": 1}

	out := Skyline(cands, graph, 2)

	require.Len(t, out, 2)
	assert.Equal(t, []string{"g1", "v1"}, ids(out))
	assert.Equal(t, 3.0, out[0].GraphScore)
}

func TestSkyline_PadsWithBestVectorHits(t *testing.T) {
	cands := []domain.Candidate{
		{ID: "top", VectorScore: 1.0, HierarchyLevel: 3},
		{ID: "mid", VectorScore: 0.8},
		{ID: "low", VectorScore: 0.6},
	}

	out := Skyline(cands, nil, 2)

	assert.Equal(t, []string{"top", "mid"}, ids(out))
}

func TestSkyline_HierarchyFavoursDeeperChunks(t *testing.T) {
	cands := []domain.Candidate{
		{ID: "chapter", VectorScore: 0.9, HierarchyLevel: 1},
		{ID: "section", VectorScore: 0.9, HierarchyLevel: 3},
	}

	out := Skyline(cands, nil, 1)

	assert.Equal(t, []string{"section"}, ids(out))
}

func TestSkyline_Empty(t *testing.T) {
	assert.Empty(t, Skyline(nil, nil, 5))
	assert.Empty(t, Skyline([]domain.Candidate{{ID: "a"}}, nil, 0))
}

func TestNormalize(t *testing.T) {
	cands := []domain.Candidate{
		{ID: "a", VectorScore: 0.5, HierarchyLevel: 10},
		{ID: "b", VectorScore: 0.25, HierarchyLevel: 2},
	}
	s := Normalize(cands, map[string]float64{"b": 4, "other": 8})

	assert.Equal(t, Scores{Vector: 1, Graph: 0, Hierarchy: 1}, s[0])
	assert.Equal(t, Scores{Vector: 0.5, Graph: 0.5, Hierarchy: 0.4}, s[1])
}

func genCandidates(t *rapid.T) ([]domain.Candidate, map[string]float64) {
	n := rapid.IntRange(0, 25).Draw(t, "n")
	cands := make([]domain.Candidate, n)
	graph := make(map[string]float64)
	for i := range cands {
		id := fmt.Sprintf("c%d", i)
		cands[i] = domain.Candidate{
			ID:             id,
			VectorScore:    rapid.Float64Range(0, 1).Draw(t, "vector"),
			HierarchyLevel: rapid.IntRange(0, 6).Draw(t, "level"),
		}
		if rapid.Bool().Draw(t, "has_graph") {
			graph[id] = float64(rapid.IntRange(0, 5).Draw(t, "graph"))
		}
	}
	return cands, graph
}

func TestSkyline_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cands, graph := genCandidates(t)
		topK := rapid.IntRange(1, 10).Draw(t, "topK")

		out := Skyline(cands, graph, topK)

		// length is min(topK, len(candidates)) and ids are unique
		want := min(topK, len(cands))
		if len(out) != want {
			t.Fatalf("got %d results, want %d", len(out), want)
		}
		seen := make(map[string]bool)
		for _, c := range out {
			if seen[c.ID] {
				t.Fatalf("duplicate %s", c.ID)
			}
			seen[c.ID] = true
		}

		// every result is non-dominated unless padding was needed
		scores := Normalize(cands, graph)
		byID := make(map[string]Scores, len(cands))
		for i, c := range cands {
			byID[c.ID] = scores[i]
		}
		frontSize := 0
		for i := range cands {
			dominated := false
			for j := range cands {
				if i != j && scores[j].Dominates(scores[i]) {
					dominated = true
					break
				}
			}
			if !dominated {
				frontSize++
			}
		}
		if frontSize >= topK {
			for _, c := range out {
				for _, other := range cands {
					if other.ID != c.ID && byID[other.ID].Dominates(byID[c.ID]) {
						t.Fatalf("%s is dominated by %s", c.ID, other.ID)
					}
				}
			}
		}
	})
}

func TestSkyline_OrderIndependentMembership(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cands, graph := genCandidates(t)
		k := len(cands) + 1

		forward := Skyline(cands, graph, k)
		reversed := make([]domain.Candidate, len(cands))
		for i, c := range cands {
			reversed[len(cands)-1-i] = c
		}
		backward := Skyline(reversed, graph, k)

		a, b := map[string]bool{}, map[string]bool{}
		for _, c := range forward {
			a[c.ID] = true
		}
		for _, c := range backward {
			b[c.ID] = true
		}
		if len(a) != len(b) {
			t.Fatalf("membership differs: %v vs %v", a, b)
		}
		for id := range a {
			if !b[id] {
				t.Fatalf("%s missing after reordering", id)
			}
		}
	})
}
