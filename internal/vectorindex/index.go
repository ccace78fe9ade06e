// Package vectorindex stores chunk embeddings together with the payload fields the
// rest of the system treats as contracts: content, kb_id, source_id, content_hash
// and kg_status.
package vectorindex

import (
	"context"
	"errors"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/fingerprint"
)

// Payload field names
const (
	FieldContent     = "content"
	FieldKBID        = "kb_id"
	FieldSourceID    = "source_id"
	FieldContentHash = "content_hash"
	FieldKGStatus    = "kg_status"
)

var (
	// ErrWrongDimensions is returned when a vector does not match the collection size
	ErrWrongDimensions = errors.New("vector has wrong dimensions")
	// ErrNoKnowledgeBase is returned when a search names no knowledge base
	ErrNoKnowledgeBase = errors.New("search requires at least one kb_id")
)

// Point is one indexed chunk
type Point struct {
	ID       string
	Vector   []float32
	Content  string
	KBID     string
	SourceID string
	Hash     domain.Fingerprint
	Status   domain.KnowledgeStatus
	Metadata map[string]any
}

// Hit is a scored search result
type Hit struct {
	Point
	Score float64
}

// Candidate converts the hit into a retrieval candidate
func (h Hit) Candidate() domain.Candidate {
	chunk := domain.DocumentChunk{Content: h.Content, Metadata: h.Metadata}
	return domain.Candidate{
		ID:             h.ID,
		Content:        h.Content,
		VectorScore:    h.Score,
		HierarchyLevel: chunk.MetaInt(domain.MetaLevel),
		SourceID:       h.SourceID,
		FileName:       chunk.MetaString(domain.MetaFileName),
		PageNumber:     chunk.MetaInt(domain.MetaPageNumber),
		KBID:           h.KBID,
	}
}

// Index is implemented by every vector backend
type Index interface {
	fingerprint.StatusIndex

	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, points []Point) error
	// Search returns the nearest points whose kb_id is any of kbIDs
	Search(ctx context.Context, vector []float32, kbIDs []string, limit int) ([]Hit, error)
	// ListPending returns points of kbID still waiting for graph extraction
	ListPending(ctx context.Context, kbID string, limit int) ([]Point, error)
}

// scalarMetadata drops metadata values a payload cannot carry
func scalarMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case string, bool, int64, float64:
			out[k] = val
		case int:
			out[k] = int64(val)
		case int32:
			out[k] = int64(val)
		case float32:
			out[k] = float64(val)
		}
	}
	return out
}
