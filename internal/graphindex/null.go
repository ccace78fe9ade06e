package graphindex

import (
	"context"

	"github.com/cloo-solutions/chimera/internal/domain"
)

// Null is the graph client used when no graph store is provisioned.
// Writes are discarded and reads return empty results.
type Null struct{}

func (Null) Available() bool                        { return false }
func (Null) EnsureSchema(ctx context.Context) error { return nil }

func (Null) UpsertEntities(ctx context.Context, entities []domain.Entity) error { return nil }

func (Null) UpsertRelations(ctx context.Context, relations []domain.Relation) error { return nil }

func (Null) UpsertChunkLink(ctx context.Context, chunkID string, entityVIDs []string, meta ChunkMeta) error {
	return nil
}

func (Null) RetrieveSubgraph(ctx context.Context, entityNames []string, depth int) ([]string, error) {
	return nil, nil
}

func (Null) EntityNeighborhood(ctx context.Context, entityName string) (string, error) {
	return "", nil
}

func (Null) ChunkScores(ctx context.Context, entityNames []string, kbIDs []string) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (Null) SearchEntities(ctx context.Context, name string, limit int) ([]domain.Entity, error) {
	return nil, nil
}

func (Null) Subgraph(ctx context.Context, entityNames []string) (*domain.Subgraph, error) {
	return &domain.Subgraph{}, nil
}

func (Null) Close(ctx context.Context) error { return nil }
