// Package fingerprint computes content hashes and answers idempotence checks
// against the records already held by the vector index.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/cloo-solutions/chimera/internal/domain"
)

// Compute hashes chunk text. Surrounding whitespace is ignored.
func Compute(text string) domain.Fingerprint {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return domain.Fingerprint(hex.EncodeToString(sum[:]))
}

// Record is what the index knows about a fingerprint within one knowledge base
type Record struct {
	PointID string
	Status  domain.KnowledgeStatus
}

// StatusIndex is the subset of the vector index the store needs
type StatusIndex interface {
	FindByHash(ctx context.Context, kbID string, fp domain.Fingerprint) (*Record, error)
	SetKnowledgeStatus(ctx context.Context, ids []string, status domain.KnowledgeStatus) error
}

// Lookup is the result of checking a fingerprint before ingestion
type Lookup struct {
	Indexed   bool
	Completed bool
	PointID   string
}

// Store persists fingerprints as fields on vector records
type Store struct {
	index StatusIndex
}

func NewStore(index StatusIndex) *Store {
	return &Store{index: index}
}

// Lookup reports whether fp is already indexed and whether extraction finished
func (s *Store) Lookup(ctx context.Context, kbID string, fp domain.Fingerprint) (Lookup, error) {
	if fp == "" {
		return Lookup{}, nil
	}
	rec, err := s.index.FindByHash(ctx, kbID, fp)
	if err != nil {
		return Lookup{}, err
	}
	if rec == nil {
		return Lookup{}, nil
	}
	return Lookup{
		Indexed:   true,
		Completed: rec.Status == domain.KnowledgeStatusCompleted,
		PointID:   rec.PointID,
	}, nil
}

// MarkCompleted flips kg_status to completed for every id in one batch update
func (s *Store) MarkCompleted(ctx context.Context, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}
	return s.index.SetKnowledgeStatus(ctx, pointIDs, domain.KnowledgeStatusCompleted)
}
