package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncRunRepository records sync executions
type SyncRunRepository struct {
	db dbtx
}

func NewSyncRunRepository(pool *pgxpool.Pool) *SyncRunRepository {
	return &SyncRunRepository{db: pool}
}

func NewSyncRunRepositoryWithTx(tx pgx.Tx) *SyncRunRepository {
	return &SyncRunRepository{db: tx}
}

func (r *SyncRunRepository) Create(ctx context.Context, run *domain.SyncRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = domain.SyncRunStatusQueued
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO sync_runs (id, kb_id, source_id, source_type, status, chunks_count, page_count, error, created_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.KBID, run.SourceID, run.SourceType, string(run.Status),
		run.ChunksCount, run.PageCount, nullableString(run.Error), run.CreatedAt, run.FinishedAt,
	)
	return err
}

func (r *SyncRunRepository) MarkRunning(ctx context.Context, id string) error {
	return r.exec(ctx,
		`UPDATE sync_runs SET status = $2 WHERE id = $1`,
		id, string(domain.SyncRunStatusRunning),
	)
}

func (r *SyncRunRepository) Complete(ctx context.Context, id string, chunks, pages int) error {
	return r.exec(ctx,
		`UPDATE sync_runs SET status = $2, chunks_count = $3, page_count = $4, error = NULL, finished_at = $5 WHERE id = $1`,
		id, string(domain.SyncRunStatusCompleted), chunks, pages, time.Now().UTC(),
	)
}

func (r *SyncRunRepository) Fail(ctx context.Context, id string, chunks, pages int, errMsg string) error {
	return r.exec(ctx,
		`UPDATE sync_runs SET status = $2, chunks_count = $3, page_count = $4, error = $5, finished_at = $6 WHERE id = $1`,
		id, string(domain.SyncRunStatusFailed), chunks, pages, errMsg, time.Now().UTC(),
	)
}

// Requeue puts a run back to queued after a retryable failure
func (r *SyncRunRepository) Requeue(ctx context.Context, id string, errMsg string) error {
	return r.exec(ctx,
		`UPDATE sync_runs SET status = $2, error = $3 WHERE id = $1`,
		id, string(domain.SyncRunStatusQueued), errMsg,
	)
}

func (r *SyncRunRepository) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSyncRunNotFound
	}
	return nil
}

func (r *SyncRunRepository) GetByID(ctx context.Context, id string) (*domain.SyncRun, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, kb_id, source_id, source_type, status, chunks_count, page_count, error, created_at, finished_at
		 FROM sync_runs WHERE id = $1`,
		id,
	)
	run, err := scanSyncRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSyncRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRecent returns the newest runs of a knowledge base first
func (r *SyncRunRepository) ListRecent(ctx context.Context, kbID string, limit int) ([]*domain.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, kb_id, source_id, source_type, status, chunks_count, page_count, error, created_at, finished_at
		 FROM sync_runs WHERE kb_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		kbID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanSyncRun(row pgx.Row) (*domain.SyncRun, error) {
	var run domain.SyncRun
	var status string
	var errMsg pgtype.Text
	err := row.Scan(&run.ID, &run.KBID, &run.SourceID, &run.SourceType, &status,
		&run.ChunksCount, &run.PageCount, &errMsg, &run.CreatedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}
	run.Status = domain.SyncRunStatus(status)
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return &run, nil
}
