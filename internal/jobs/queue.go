package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultPopTimeout bounds one blocking pop so shutdown is noticed
	DefaultPopTimeout = 5 * time.Second

	deadLetterSuffix = ":dead"
)

// Queue is a Redis list of sync jobs. Producers LPUSH, consumers BRPOP, so
// jobs are taken oldest first.
type Queue struct {
	client     redis.UniversalClient
	name       string
	popTimeout time.Duration
	logger     *zap.Logger
}

func NewQueue(client redis.UniversalClient, name string, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		client:     client,
		name:       name,
		popTimeout: DefaultPopTimeout,
		logger:     logger.With(zap.String("component", "queue"), zap.String("queue", name)),
	}
}

// WithPopTimeout overrides the blocking pop timeout
func (q *Queue) WithPopTimeout(d time.Duration) *Queue {
	q.popTimeout = d
	return q
}

func (q *Queue) Name() string { return q.name }

// DeadLetterName is the list holding payloads that failed validation
func (q *Queue) DeadLetterName() string { return q.name + deadLetterSuffix }

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue pushes a validated job onto the queue
func (q *Queue) Enqueue(ctx context.Context, job *domain.SyncJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	// round trip through the consumer's parser so nothing invalid is queued
	if _, err := domain.ParseSyncJob(raw); err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.name, raw).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Dequeue blocks up to the pop timeout for the next job. It returns nil, nil
// when the timeout passes with nothing queued. Payloads that fail validation
// are moved to the dead letter list and skipped.
func (q *Queue) Dequeue(ctx context.Context) (*domain.SyncJob, error) {
	res, err := q.client.BRPop(ctx, q.popTimeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	// BRPOP replies with [key, value]
	raw := res[1]

	job, err := domain.ParseSyncJob([]byte(raw))
	if err != nil {
		q.logger.Warn("dropping invalid job payload", zap.String("payload", raw), zap.Error(err))
		if dlErr := q.client.LPush(ctx, q.DeadLetterName(), raw).Err(); dlErr != nil {
			q.logger.Error("failed to dead-letter job", zap.Error(dlErr))
		}
		return nil, nil
	}
	return job, nil
}

// Len reports how many jobs are waiting
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}
