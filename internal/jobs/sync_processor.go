package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/ingest"
	"github.com/cloo-solutions/chimera/internal/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// MaxAttempts is how many times a job runs before its failure is final
	MaxAttempts = 3
)

// RunRecorder persists the lifecycle of a sync run
type RunRecorder interface {
	Create(ctx context.Context, run *domain.SyncRun) error
	MarkRunning(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, chunks, pages int) error
	Fail(ctx context.Context, id string, chunks, pages int, errMsg string) error
	Requeue(ctx context.Context, id string, errMsg string) error
}

// Syncer runs one data source sync to completion
type Syncer interface {
	SyncAll(ctx context.Context, req domain.SyncRequest) (domain.SyncResult, error)
}

// Enqueuer puts a job back on the queue for another attempt
type Enqueuer interface {
	Enqueue(ctx context.Context, job *domain.SyncJob) error
}

// SyncProcessor runs queued sync jobs through the ingestion manager and
// records each run. Runs and retries are optional: with a nil recorder
// nothing is persisted, with a nil requeue failures are final.
type SyncProcessor struct {
	syncer  Syncer
	runs    RunRecorder
	requeue Enqueuer
	logger  *zap.Logger
}

func NewSyncProcessor(syncer Syncer, runs RunRecorder, requeue Enqueuer, logger *zap.Logger) *SyncProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncProcessor{
		syncer:  syncer,
		runs:    runs,
		requeue: requeue,
		logger:  logger.With(zap.String("component", "sync_processor")),
	}
}

// Process implements JobProcessor
func (p *SyncProcessor) Process(ctx context.Context, job *domain.SyncJob) error {
	ctx, span := telemetry.StartSpan(ctx, "job.sync", telemetry.SpanAttributes{
		KBID:     string(job.KBID),
		SourceID: string(job.SourceID),
		Stage:    "job",
	})
	defer span.End()

	if err := p.begin(ctx, job); err != nil {
		return err
	}

	req, err := job.ToRequest()
	if err != nil {
		return p.finishFailed(ctx, job, domain.SyncResult{}, err, false)
	}

	result, err := p.syncer.SyncAll(ctx, req)
	if err != nil {
		span.SetError(err)
		return p.finishFailed(ctx, job, result, err, !ingest.IsConfigError(err))
	}
	if !result.Success {
		return p.finishFailed(ctx, job, result, errors.New(result.ErrorMsg), true)
	}

	if p.runs != nil {
		if err := p.runs.Complete(ctx, job.RunID, result.ChunksCount, result.PageCount); err != nil {
			return fmt.Errorf("failed to mark run completed: %w", err)
		}
	}
	p.logger.Info("job completed",
		zap.String("run_id", job.RunID),
		zap.Int("chunks", result.ChunksCount),
		zap.Int("pages", result.PageCount),
		zap.Int("skipped", result.SkippedChunks))
	return nil
}

// begin makes sure the job has a run record in the running state
func (p *SyncProcessor) begin(ctx context.Context, job *domain.SyncJob) error {
	if job.RunID == "" {
		job.RunID = uuid.NewString()
	}
	if p.runs == nil {
		return nil
	}
	err := p.runs.MarkRunning(ctx, job.RunID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrSyncRunNotFound) {
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	// jobs pushed by external producers arrive without a run record
	run := &domain.SyncRun{
		ID:         job.RunID,
		KBID:       string(job.KBID),
		SourceID:   string(job.SourceID),
		SourceType: job.Type,
		Status:     domain.SyncRunStatusRunning,
	}
	if err := p.runs.Create(ctx, run); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// finishFailed retries the job when allowed, otherwise records the failure
func (p *SyncProcessor) finishFailed(ctx context.Context, job *domain.SyncJob, result domain.SyncResult, jobErr error, retryable bool) error {
	log := p.logger.With(zap.String("run_id", job.RunID), zap.Int("attempt", job.Attempts+1))

	if retryable && p.requeue != nil && job.Attempts+1 < MaxAttempts {
		msg := fmt.Sprintf("attempt %d: %v", job.Attempts+1, jobErr)
		if p.runs != nil {
			if err := p.runs.Requeue(ctx, job.RunID, msg); err != nil {
				return fmt.Errorf("failed to requeue run: %w", err)
			}
		}
		retry := *job
		retry.Attempts++
		if err := p.requeue.Enqueue(ctx, &retry); err != nil {
			return fmt.Errorf("failed to requeue job: %w", err)
		}
		log.Warn("job failed, will be retried", zap.Int("max_attempts", MaxAttempts), zap.Error(jobErr))
		return jobErr
	}

	msg := jobErr.Error()
	if retryable && p.requeue != nil {
		msg = fmt.Sprintf("max attempts exceeded: %v", jobErr)
	}
	log.Error("job failed", zap.Error(jobErr))
	if p.runs != nil {
		if err := p.runs.Fail(ctx, job.RunID, result.ChunksCount, result.PageCount, msg); err != nil {
			return fmt.Errorf("failed to mark run failed: %w", err)
		}
	}
	return jobErr
}
