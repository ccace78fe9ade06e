package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/fingerprint"
	"github.com/cloo-solutions/chimera/internal/vectorindex"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository is the pgvector implementation of vectorindex.Index.
// Cosine distance is used for search; score is 1 - distance.
type ChunkRepository struct {
	db         dbtx
	dimensions int
}

var _ vectorindex.Index = (*ChunkRepository)(nil)

func NewChunkRepository(pool *pgxpool.Pool, dimensions int) *ChunkRepository {
	return &ChunkRepository{db: pool, dimensions: dimensions}
}

func NewChunkRepositoryWithTx(tx pgx.Tx, dimensions int) *ChunkRepository {
	return &ChunkRepository{db: tx, dimensions: dimensions}
}

// EnsureCollection checks that the migrated table is reachable
func (r *ChunkRepository) EnsureCollection(ctx context.Context) error {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM document_chunks WHERE false`).Scan(&n); err != nil {
		return fmt.Errorf("document_chunks unavailable (run migrations): %w", err)
	}
	return nil
}

func (r *ChunkRepository) Upsert(ctx context.Context, points []vectorindex.Point) error {
	if len(points) == 0 {
		return nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, p := range points {
		if r.dimensions > 0 && len(p.Vector) != r.dimensions {
			return vectorindex.ErrWrongDimensions
		}
		status := p.Status
		if status == "" {
			status = domain.KnowledgeStatusPending
		}
		meta := p.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		batch.Queue(
			`INSERT INTO document_chunks
				(id, kb_id, source_id, content, content_hash, kg_status, metadata, embedding, created_at, updated_at)
			 VALUES
				($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			 ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				content_hash = EXCLUDED.content_hash,
				kg_status = EXCLUDED.kg_status,
				metadata = EXCLUDED.metadata,
				embedding = EXCLUDED.embedding,
				updated_at = EXCLUDED.updated_at`,
			p.ID, p.KBID, p.SourceID, p.Content, string(p.Hash), string(status),
			meta, pgvector.NewVector(p.Vector), now,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range points {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *ChunkRepository) Search(ctx context.Context, vector []float32, kbIDs []string, limit int) ([]vectorindex.Hit, error) {
	if len(kbIDs) == 0 {
		return nil, vectorindex.ErrNoKnowledgeBase
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, kb_id, source_id, content, content_hash, kg_status, metadata,
			1 - (embedding <=> $1) AS score
		 FROM document_chunks
		 WHERE kb_id = ANY($2)
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		pgvector.NewVector(vector), kbIDs, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []vectorindex.Hit
	for rows.Next() {
		var h vectorindex.Hit
		var hash, status string
		if err := rows.Scan(&h.ID, &h.KBID, &h.SourceID, &h.Content, &hash, &status, &h.Metadata, &h.Score); err != nil {
			return nil, err
		}
		h.Hash = domain.Fingerprint(hash)
		h.Status = domain.KnowledgeStatus(status)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// FindByHash prefers a completed record when several points share the hash
func (r *ChunkRepository) FindByHash(ctx context.Context, kbID string, fp domain.Fingerprint) (*fingerprint.Record, error) {
	var rec fingerprint.Record
	var status string
	err := r.db.QueryRow(ctx,
		`SELECT id, kg_status FROM document_chunks
		 WHERE kb_id = $1 AND content_hash = $2
		 ORDER BY (kg_status = 'completed') DESC, created_at ASC
		 LIMIT 1`,
		kbID, string(fp),
	).Scan(&rec.PointID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Status = domain.KnowledgeStatus(status)
	return &rec, nil
}

func (r *ChunkRepository) SetKnowledgeStatus(ctx context.Context, ids []string, status domain.KnowledgeStatus) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE document_chunks SET kg_status = $1, updated_at = $2 WHERE id = ANY($3::uuid[])`,
		string(status), time.Now().UTC(), ids,
	)
	return err
}

func (r *ChunkRepository) ListPending(ctx context.Context, kbID string, limit int) ([]vectorindex.Point, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, kb_id, source_id, content, content_hash, kg_status, metadata
		 FROM document_chunks
		 WHERE kb_id = $1 AND kg_status = 'pending'
		 ORDER BY created_at ASC
		 LIMIT $2`,
		kbID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []vectorindex.Point
	for rows.Next() {
		var p vectorindex.Point
		var hash, status string
		if err := rows.Scan(&p.ID, &p.KBID, &p.SourceID, &p.Content, &hash, &status, &p.Metadata); err != nil {
			return nil, err
		}
		p.Hash = domain.Fingerprint(hash)
		p.Status = domain.KnowledgeStatus(status)
		points = append(points, p)
	}
	return points, rows.Err()
}
