package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockSyncer struct {
	mock.Mock
}

func (m *MockSyncer) SyncAll(ctx context.Context, req domain.SyncRequest) (domain.SyncResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.SyncResult), args.Error(1)
}

type MockRunRecorder struct {
	mock.Mock
}

func (m *MockRunRecorder) Create(ctx context.Context, run *domain.SyncRun) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockRunRecorder) MarkRunning(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRunRecorder) Complete(ctx context.Context, id string, chunks, pages int) error {
	return m.Called(ctx, id, chunks, pages).Error(0)
}

func (m *MockRunRecorder) Fail(ctx context.Context, id string, chunks, pages int, errMsg string) error {
	return m.Called(ctx, id, chunks, pages, errMsg).Error(0)
}

func (m *MockRunRecorder) Requeue(ctx context.Context, id string, errMsg string) error {
	return m.Called(ctx, id, errMsg).Error(0)
}

type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) Enqueue(ctx context.Context, job *domain.SyncJob) error {
	return m.Called(ctx, job).Error(0)
}

func textJob(runID string) *domain.SyncJob {
	return &domain.SyncJob{KBID: "kb1", SourceID: "s1", Type: "text", ConfigJSON: `{"content":"hello"}`, RunID: runID}
}

var textRequest = domain.SyncRequest{KBID: "kb1", SourceID: "s1", SourceType: "text", Config: map[string]any{"content": "hello"}}

func TestSyncProcessor_Success(t *testing.T) {
	syncer := new(MockSyncer)
	runs := new(MockRunRecorder)
	syncer.On("SyncAll", mock.Anything, textRequest).Return(domain.SyncResult{Success: true, ChunksCount: 4, PageCount: 2}, nil)
	runs.On("MarkRunning", mock.Anything, "run-1").Return(nil)
	runs.On("Complete", mock.Anything, "run-1", 4, 2).Return(nil)

	err := NewSyncProcessor(syncer, runs, nil, zap.NewNop()).Process(context.Background(), textJob("run-1"))

	assert.NoError(t, err)
	syncer.AssertExpectations(t)
	runs.AssertExpectations(t)
}

func TestSyncProcessor_CreatesRunForExternalJob(t *testing.T) {
	syncer := new(MockSyncer)
	runs := new(MockRunRecorder)
	syncer.On("SyncAll", mock.Anything, textRequest).Return(domain.SyncResult{Success: true, ChunksCount: 1}, nil)
	runs.On("MarkRunning", mock.Anything, mock.Anything).Return(domain.ErrSyncRunNotFound)
	runs.On("Create", mock.Anything, mock.MatchedBy(func(r *domain.SyncRun) bool {
		return r.ID != "" && r.KBID == "kb1" && r.SourceType == "text" && r.Status == domain.SyncRunStatusRunning
	})).Return(nil)
	runs.On("Complete", mock.Anything, mock.Anything, 1, 0).Return(nil)

	job := textJob("")
	err := NewSyncProcessor(syncer, runs, nil, zap.NewNop()).Process(context.Background(), job)

	require.NoError(t, err)
	assert.NotEmpty(t, job.RunID)
	runs.AssertExpectations(t)
}

func TestSyncProcessor_WithoutRunLog(t *testing.T) {
	syncer := new(MockSyncer)
	syncer.On("SyncAll", mock.Anything, textRequest).Return(domain.SyncResult{Success: true}, nil)

	err := NewSyncProcessor(syncer, nil, nil, zap.NewNop()).Process(context.Background(), textJob(""))

	assert.NoError(t, err)
}

func TestSyncProcessor_ConnectorFailureIsRetried(t *testing.T) {
	syncer := new(MockSyncer)
	runs := new(MockRunRecorder)
	queue := new(MockEnqueuer)
	syncer.On("SyncAll", mock.Anything, textRequest).Return(domain.SyncResult{Success: false, ChunksCount: 2, ErrorMsg: "feishu timeout"}, nil)
	runs.On("MarkRunning", mock.Anything, "run-1").Return(nil)
	runs.On("Requeue", mock.Anything, "run-1", "attempt 1: feishu timeout").Return(nil)
	queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(j *domain.SyncJob) bool {
		return j.RunID == "run-1" && j.Attempts == 1
	})).Return(nil)

	job := textJob("run-1")
	err := NewSyncProcessor(syncer, runs, queue, zap.NewNop()).Process(context.Background(), job)

	require.Error(t, err)
	assert.Equal(t, 0, job.Attempts, "the original job is not mutated")
	runs.AssertExpectations(t)
	queue.AssertExpectations(t)
}

func TestSyncProcessor_MaxAttemptsExceeded(t *testing.T) {
	syncer := new(MockSyncer)
	runs := new(MockRunRecorder)
	queue := new(MockEnqueuer)
	syncer.On("SyncAll", mock.Anything, textRequest).Return(domain.SyncResult{Success: false, ChunksCount: 2, ErrorMsg: "feishu timeout"}, nil)
	runs.On("MarkRunning", mock.Anything, "run-1").Return(nil)
	runs.On("Fail", mock.Anything, "run-1", 2, 0, "max attempts exceeded: feishu timeout").Return(nil)

	job := textJob("run-1")
	job.Attempts = MaxAttempts - 1
	err := NewSyncProcessor(syncer, runs, queue, zap.NewNop()).Process(context.Background(), job)

	require.Error(t, err)
	runs.AssertExpectations(t)
	queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestSyncProcessor_ConfigErrorIsFinal(t *testing.T) {
	tests := []struct {
		name string
		job  *domain.SyncJob
		err  error
	}{
		{"unsupported source", &domain.SyncJob{KBID: "kb1", SourceID: "s1", Type: "notion", RunID: "run-1"}, domain.ErrUnsupportedSource},
		{"bad config json", &domain.SyncJob{KBID: "kb1", SourceID: "s1", Type: "text", ConfigJSON: "{", RunID: "run-1"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := new(MockSyncer)
			runs := new(MockRunRecorder)
			queue := new(MockEnqueuer)
			if tt.err != nil {
				syncer.On("SyncAll", mock.Anything, mock.Anything).Return(domain.SyncResult{ErrorMsg: tt.err.Error()}, tt.err)
			}
			runs.On("MarkRunning", mock.Anything, "run-1").Return(nil)
			runs.On("Fail", mock.Anything, "run-1", 0, 0, mock.Anything).Return(nil)

			err := NewSyncProcessor(syncer, runs, queue, zap.NewNop()).Process(context.Background(), tt.job)

			require.Error(t, err)
			runs.AssertExpectations(t)
			queue.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
		})
	}
}

func TestSyncProcessor_RunLogError(t *testing.T) {
	runs := new(MockRunRecorder)
	runs.On("MarkRunning", mock.Anything, "run-1").Return(errors.New("database error"))

	err := NewSyncProcessor(new(MockSyncer), runs, nil, zap.NewNop()).Process(context.Background(), textJob("run-1"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to mark run running")
}
