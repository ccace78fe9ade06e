package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cloo-solutions/chimera/internal/api"
	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type JobQueue interface {
	Enqueue(ctx context.Context, job *domain.SyncJob) error
}

type RunStore interface {
	Create(ctx context.Context, run *domain.SyncRun) error
	GetByID(ctx context.Context, id string) (*domain.SyncRun, error)
	ListRecent(ctx context.Context, kbID string, limit int) ([]*domain.SyncRun, error)
}

// JobHandler enqueues asynchronous syncs and reports their runs. Either
// dependency may be nil when the deployment has no queue or no run log.
type JobHandler struct {
	queue JobQueue
	runs  RunStore
}

func NewJobHandler(queue JobQueue, runs RunStore) *JobHandler {
	return &JobHandler{queue: queue, runs: runs}
}

type EnqueueResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

type RunResponse struct {
	ID          string `json:"id"`
	KBID        string `json:"kb_id"`
	SourceID    string `json:"source_id"`
	SourceType  string `json:"source_type"`
	Status      string `json:"status"`
	ChunksCount int    `json:"chunks_count"`
	PageCount   int    `json:"page_count"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
}

type RunListResponse struct {
	Runs []*RunResponse `json:"runs"`
}

func runToResponse(run *domain.SyncRun) *RunResponse {
	resp := &RunResponse{
		ID:          run.ID,
		KBID:        run.KBID,
		SourceID:    run.SourceID,
		SourceType:  run.SourceType,
		Status:      string(run.Status),
		ChunksCount: run.ChunksCount,
		PageCount:   run.PageCount,
		Error:       run.Error,
		CreatedAt:   run.CreatedAt.UTC().Format(time.RFC3339),
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// Enqueue accepts the same body as Sync and returns the id of the queued run
func (h *JobHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		api.HandleError(w, domain.ErrQueueUnavailable)
		return
	}

	var req SyncRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}

	if req.KBID == "" || req.SourceID == "" || req.SourceType == "" {
		api.HandleError(w, domain.ErrInvalidJob)
		return
	}

	configJSON := ""
	if len(req.Config) > 0 {
		raw, err := json.Marshal(req.Config)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "invalid config")
			return
		}
		configJSON = string(raw)
	}
	job := &domain.SyncJob{
		KBID:       domain.FlexibleID(req.KBID),
		SourceID:   domain.FlexibleID(req.SourceID),
		Type:       req.SourceType,
		ConfigJSON: configJSON,
		RunID:      uuid.NewString(),
	}

	if h.runs != nil {
		run := &domain.SyncRun{
			ID:         job.RunID,
			KBID:       req.KBID,
			SourceID:   req.SourceID,
			SourceType: req.SourceType,
			Status:     domain.SyncRunStatusQueued,
		}
		if err := h.runs.Create(r.Context(), run); err != nil {
			api.HandleError(w, err)
			return
		}
	}

	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, EnqueueResponse{RunID: job.RunID, Status: string(domain.SyncRunStatusQueued)})
}

func (h *JobHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		api.HandleError(w, domain.ErrRunLogUnavailable)
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		api.HandleError(w, domain.ErrSyncRunNotFound)
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, runToResponse(run))
}

func (h *JobHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		api.HandleError(w, domain.ErrRunLogUnavailable)
		return
	}
	kbID := r.URL.Query().Get("kb_id")
	if kbID == "" {
		api.Error(w, http.StatusBadRequest, "kb_id is required")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 100)
	}

	runs, err := h.runs.ListRecent(r.Context(), kbID, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := RunListResponse{Runs: make([]*RunResponse, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, runToResponse(run))
	}
	api.Success(w, http.StatusOK, resp)
}
