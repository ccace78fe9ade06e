package fingerprint

import (
	"context"
	"errors"
	"testing"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStatusIndex struct {
	mock.Mock
}

func (m *MockStatusIndex) FindByHash(ctx context.Context, kbID string, fp domain.Fingerprint) (*Record, error) {
	args := m.Called(ctx, kbID, fp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Record), args.Error(1)
}

func (m *MockStatusIndex) SetKnowledgeStatus(ctx context.Context, ids []string, status domain.KnowledgeStatus) error {
	args := m.Called(ctx, ids, status)
	return args.Error(0)
}

func TestCompute_Deterministic(t *testing.T) {
	a := Compute("The quick brown fox")
	b := Compute("  The quick brown fox\n")
	c := Compute("The quick brown fox!")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, string(a), 64)
}

func TestStore_Lookup(t *testing.T) {
	ctx := context.Background()
	fp := Compute("chunk text")

	tests := []struct {
		name      string
		record    *Record
		indexed   bool
		completed bool
	}{
		{"unknown", nil, false, false},
		{"pending", &Record{PointID: "p1", Status: domain.KnowledgeStatusPending}, true, false},
		{"completed", &Record{PointID: "p1", Status: domain.KnowledgeStatusCompleted}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := new(MockStatusIndex)
			idx.On("FindByHash", ctx, "kb1", fp).Return(tt.record, nil)

			got, err := NewStore(idx).Lookup(ctx, "kb1", fp)
			require.NoError(t, err)
			assert.Equal(t, tt.indexed, got.Indexed)
			assert.Equal(t, tt.completed, got.Completed)
			idx.AssertExpectations(t)
		})
	}
}

func TestStore_Lookup_EmptyFingerprint(t *testing.T) {
	idx := new(MockStatusIndex)

	got, err := NewStore(idx).Lookup(context.Background(), "kb1", "")
	require.NoError(t, err)
	assert.False(t, got.Indexed)
	idx.AssertNotCalled(t, "FindByHash", mock.Anything, mock.Anything, mock.Anything)
}

func TestStore_Lookup_Error(t *testing.T) {
	idx := new(MockStatusIndex)
	idx.On("FindByHash", mock.Anything, "kb1", mock.Anything).Return(nil, errors.New("timeout"))

	_, err := NewStore(idx).Lookup(context.Background(), "kb1", Compute("x"))
	assert.Error(t, err)
}

func TestStore_MarkCompleted(t *testing.T) {
	ctx := context.Background()
	idx := new(MockStatusIndex)
	idx.On("SetKnowledgeStatus", ctx, []string{"a", "b"}, domain.KnowledgeStatusCompleted).Return(nil)

	store := NewStore(idx)
	require.NoError(t, store.MarkCompleted(ctx, []string{"a", "b"}))
	require.NoError(t, store.MarkCompleted(ctx, nil))

	idx.AssertNumberOfCalls(t, "SetKnowledgeStatus", 1)
}
