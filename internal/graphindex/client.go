// Package graphindex persists entities, relations and chunk mention links, and
// serves the graph half of dual-channel retrieval.
package graphindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloo-solutions/chimera/internal/domain"
)

const (
	// MaxSubgraphResults bounds RetrieveSubgraph output
	MaxSubgraphResults = 30
	// MaxNeighborhoodResults bounds EntityNeighborhood output
	MaxNeighborhoodResults = 20
	// MaxSubgraphDepth caps traversal; retrieval itself uses 1 hop
	MaxSubgraphDepth = 3
)

// ChunkMeta is stored on the chunk vertex
type ChunkMeta struct {
	KBID       string
	SourceID   string
	PageNumber int
	Breadcrumb string
}

// Triplet is one src --(label)--> dst fact
type Triplet struct {
	Src   string
	Label string
	Dst   string
}

// String renders the triplet in the form prompt assembly expects
func (t Triplet) String() string {
	return fmt.Sprintf("%s --(%s)--> %s", t.Src, t.Label, t.Dst)
}

// Client is implemented by every graph backend, including the null client
type Client interface {
	// Available reports whether a real graph store backs this client
	Available() bool
	EnsureSchema(ctx context.Context) error

	UpsertEntities(ctx context.Context, entities []domain.Entity) error
	UpsertRelations(ctx context.Context, relations []domain.Relation) error
	// UpsertChunkLink creates the chunk vertex and its mention edges together
	UpsertChunkLink(ctx context.Context, chunkID string, entityVIDs []string, meta ChunkMeta) error

	// RetrieveSubgraph returns at most MaxSubgraphResults formatted facts on
	// undirected paths of up to depth hops from the named entities
	RetrieveSubgraph(ctx context.Context, entityNames []string, depth int) ([]string, error)
	EntityNeighborhood(ctx context.Context, entityName string) (string, error)
	// ChunkScores counts, per chunk, how many of the named entities it mentions
	ChunkScores(ctx context.Context, entityNames []string, kbIDs []string) (map[string]float64, error)
	// SearchEntities returns stored entities whose name approximately matches name
	SearchEntities(ctx context.Context, name string, limit int) ([]domain.Entity, error)
	Subgraph(ctx context.Context, entityNames []string) (*domain.Subgraph, error)

	Close(ctx context.Context) error
}

// Escape backslash-escapes quotes and backslashes for string literals in a query
func Escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `'`, `\'`)
	return r.Replace(s)
}

// FormatTriplets renders and caps triplets
func FormatTriplets(triplets []Triplet) []string {
	out := make([]string, 0, len(triplets))
	seen := make(map[string]bool, len(triplets))
	for _, t := range triplets {
		s := t.String()
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
		if len(out) >= MaxSubgraphResults {
			break
		}
	}
	return out
}

// FormatNeighborhood renders an entity's description and facts as a context block
func FormatNeighborhood(entity domain.Entity, facts []Triplet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Entity: %s", entity.Name)
	if entity.Type != "" {
		fmt.Fprintf(&b, " (%s)", entity.Type)
	}
	b.WriteString("\n")
	if entity.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", entity.Description)
	}
	for _, line := range FormatTriplets(facts) {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	return b.String()
}

func entityVIDs(names []string) []string {
	vids := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		vid := domain.EntityVID(n)
		if vid == "" || seen[vid] {
			continue
		}
		seen[vid] = true
		vids = append(vids, vid)
	}
	return vids
}

// clampDepth bounds a requested traversal depth to [1, MaxSubgraphDepth]
func clampDepth(depth int) int {
	return min(max(depth, 1), MaxSubgraphDepth)
}
