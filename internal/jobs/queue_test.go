package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupQueue(t *testing.T) (*miniredis.Miniredis, *Queue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), ContextTimeoutEnabled: true})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewQueue(client, "chimera_etl_tasks", zap.NewNop()).WithPopTimeout(time.Second)
}

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	_, q := setupQueue(t)

	require.NoError(t, q.Enqueue(ctx, &domain.SyncJob{KBID: "kb1", SourceID: "s1", Type: "text", ConfigJSON: `{"content":"a"}`}))
	require.NoError(t, q.Enqueue(ctx, &domain.SyncJob{KBID: "kb1", SourceID: "s2", Type: "text", RunID: "run-2"}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, domain.FlexibleID("s1"), first.SourceID)
	assert.Equal(t, `{"content":"a"}`, first.ConfigJSON)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "run-2", second.RunID)
}

func TestQueue_Dequeue_EmptyTimesOut(t *testing.T) {
	_, q := setupQueue(t)

	job, err := q.Dequeue(context.Background())

	assert.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_Dequeue_ExternalProducerPayload(t *testing.T) {
	mr, q := setupQueue(t)
	mr.Lpush(q.Name(), `{"kb_id": 12, "ds_id": 7, "type": "feishu", "config_json": "{}"}`)

	job, err := q.Dequeue(context.Background())

	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, domain.FlexibleID("12"), job.KBID)
	assert.Equal(t, domain.FlexibleID("7"), job.SourceID)
}

func TestQueue_Dequeue_InvalidPayloadIsDeadLettered(t *testing.T) {
	mr, q := setupQueue(t)
	mr.Lpush(q.Name(), `{"kb_id": 1}`)

	job, err := q.Dequeue(context.Background())

	require.NoError(t, err)
	assert.Nil(t, job)
	dead, err := mr.List(q.DeadLetterName())
	require.NoError(t, err)
	assert.Equal(t, []string{`{"kb_id": 1}`}, dead)
}

func TestQueue_Enqueue_RejectsInvalidJob(t *testing.T) {
	mr, q := setupQueue(t)

	err := q.Enqueue(context.Background(), &domain.SyncJob{KBID: "kb1"})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidJob)
	assert.False(t, mr.Exists(q.Name()))
}

func TestQueue_Dequeue_ContextCancelled(t *testing.T) {
	_, q := setupQueue(t)
	q.WithPopTimeout(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := q.Dequeue(ctx)

	assert.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}
