// Package retrieval fuses vector and graph retrieval into one ranked evidence set.
package retrieval

import (
	"sort"

	"github.com/cloo-solutions/chimera/internal/domain"
)

// Presentation weights for the skyline ordering
const (
	WeightVector    = 0.4
	WeightGraph     = 0.4
	WeightHierarchy = 0.2

	// hierarchyDepth is the structural depth that scores a full 1.0
	hierarchyDepth = 5.0
)

// Scores are the normalized dimensions compared by the skyline
type Scores struct {
	Vector    float64
	Graph     float64
	Hierarchy float64
}

// Dominates reports whether s is at least as good as o everywhere and strictly
// better somewhere.
func (s Scores) Dominates(o Scores) bool {
	if s.Vector < o.Vector || s.Graph < o.Graph || s.Hierarchy < o.Hierarchy {
		return false
	}
	return s.Vector > o.Vector || s.Graph > o.Graph || s.Hierarchy > o.Hierarchy
}

// Combined is the weighted sum used to order the skyline
func (s Scores) Combined() float64 {
	return WeightVector*s.Vector + WeightGraph*s.Graph + WeightHierarchy*s.Hierarchy
}

// Normalize scales vector scores by the batch maximum, graph scores by the
// largest graph score and maps hierarchy level onto [0,1].
func Normalize(candidates []domain.Candidate, graphScores map[string]float64) []Scores {
	maxVector := 0.0
	for _, c := range candidates {
		if c.VectorScore > maxVector {
			maxVector = c.VectorScore
		}
	}
	if maxVector <= 0 {
		maxVector = 1
	}
	maxGraph := 0.0
	for _, g := range graphScores {
		if g > maxGraph {
			maxGraph = g
		}
	}
	if maxGraph <= 0 {
		maxGraph = 1
	}

	out := make([]Scores, len(candidates))
	for i, c := range candidates {
		out[i] = Scores{
			Vector:    clamp01(c.VectorScore / maxVector),
			Graph:     clamp01(graphScores[c.ID] / maxGraph),
			Hierarchy: clamp01(float64(c.HierarchyLevel) / hierarchyDepth),
		}
	}
	return out
}

// Skyline keeps the candidates no other candidate dominates, orders them by
// Combined and trims to topK. When fewer than topK survive, the remaining
// slots are filled with the best raw vector hits. It never returns more
// candidates than it was given.
func Skyline(candidates []domain.Candidate, graphScores map[string]float64, topK int) []domain.Candidate {
	if len(candidates) == 0 || topK <= 0 {
		return nil
	}
	scores := Normalize(candidates, graphScores)

	type ranked struct {
		idx   int
		score float64
	}
	var front []ranked
	for i := range candidates {
		dominated := false
		for j := range candidates {
			if i != j && scores[j].Dominates(scores[i]) {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, ranked{idx: i, score: scores[i].Combined()})
		}
	}
	sort.SliceStable(front, func(a, b int) bool { return front[a].score > front[b].score })
	if len(front) > topK {
		front = front[:topK]
	}

	out := make([]domain.Candidate, 0, topK)
	included := make(map[int]bool, topK)
	for _, r := range front {
		out = append(out, withGraphScore(candidates[r.idx], graphScores))
		included[r.idx] = true
	}
	if len(out) >= topK {
		return out
	}

	byVector := make([]int, len(candidates))
	for i := range byVector {
		byVector[i] = i
	}
	sort.SliceStable(byVector, func(a, b int) bool {
		return candidates[byVector[a]].VectorScore > candidates[byVector[b]].VectorScore
	})
	for _, i := range byVector {
		if len(out) >= topK {
			break
		}
		if included[i] {
			continue
		}
		out = append(out, withGraphScore(candidates[i], graphScores))
		included[i] = true
	}
	return out
}

func withGraphScore(c domain.Candidate, graphScores map[string]float64) domain.Candidate {
	c.GraphScore = graphScores[c.ID]
	return c
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
