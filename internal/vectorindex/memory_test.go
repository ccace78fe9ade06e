package vectorindex

import (
	"context"
	"testing"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPoint(id, kb string, hash string, vec ...float32) Point {
	return Point{
		ID:       id,
		Vector:   vec,
		Content:  "content " + id,
		KBID:     kb,
		SourceID: "src",
		Hash:     domain.Fingerprint(hash),
		Status:   domain.KnowledgeStatusPending,
		Metadata: map[string]any{domain.MetaLevel: 2, domain.MetaPageNumber: 4},
	}
}

func TestMemory_SearchFiltersByAnyKB(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2)
	require.NoError(t, idx.Upsert(ctx, []Point{
		testPoint("a", "kb1", "h1", 1, 0),
		testPoint("b", "kb2", "h2", 0.9, 0.1),
		testPoint("c", "kb3", "h3", 1, 0),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0}, []string{"kb1", "kb2"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "b", hits[1].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestMemory_SearchRequiresKB(t *testing.T) {
	_, err := NewMemory(2).Search(context.Background(), []float32{1, 0}, nil, 10)
	assert.ErrorIs(t, err, ErrNoKnowledgeBase)
}

func TestMemory_UpsertWrongDimensions(t *testing.T) {
	err := NewMemory(3).Upsert(context.Background(), []Point{testPoint("a", "kb1", "h", 1, 0)})
	assert.ErrorIs(t, err, ErrWrongDimensions)
}

func TestMemory_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2)
	require.NoError(t, idx.Upsert(ctx, []Point{testPoint("a", "kb1", "h", 1, 0)}))
	require.NoError(t, idx.Upsert(ctx, []Point{testPoint("a", "kb1", "h", 0, 1)}))

	assert.Equal(t, 1, idx.Len())
	p, ok := idx.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{0, 1}, p.Vector)
}

func TestMemory_FindByHashPrefersCompleted(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2)
	require.NoError(t, idx.Upsert(ctx, []Point{
		testPoint("a", "kb1", "same", 1, 0),
		testPoint("b", "kb1", "same", 1, 0),
	}))
	require.NoError(t, idx.SetKnowledgeStatus(ctx, []string{"b"}, domain.KnowledgeStatusCompleted))

	rec, err := idx.FindByHash(ctx, "kb1", "same")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "b", rec.PointID)
	assert.Equal(t, domain.KnowledgeStatusCompleted, rec.Status)

	missing, err := idx.FindByHash(ctx, "kb2", "same")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemory_ListPending(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory(2)
	require.NoError(t, idx.Upsert(ctx, []Point{
		testPoint("a", "kb1", "h1", 1, 0),
		testPoint("b", "kb1", "h2", 1, 0),
		testPoint("c", "kb2", "h3", 1, 0),
	}))
	require.NoError(t, idx.SetKnowledgeStatus(ctx, []string{"a"}, domain.KnowledgeStatusCompleted))

	pending, err := idx.ListPending(ctx, "kb1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)
}

func TestHit_Candidate(t *testing.T) {
	h := Hit{Point: testPoint("a", "kb1", "h", 1, 0), Score: 0.7}
	h.Metadata = scalarMetadata(h.Metadata)

	c := h.Candidate()
	assert.Equal(t, "a", c.ID)
	assert.Equal(t, 0.7, c.VectorScore)
	assert.Equal(t, 2, c.HierarchyLevel)
	assert.Equal(t, 4, c.PageNumber)
	assert.Equal(t, "src", c.SourceID)
}
