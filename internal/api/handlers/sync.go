package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/chimera/internal/api"
	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/ingest"
)

type SyncService interface {
	SyncAll(ctx context.Context, req domain.SyncRequest) (domain.SyncResult, error)
	Reconcile(ctx context.Context, kbID string, limit int) (ingest.ReconcileResult, error)
}

type SyncHandler struct {
	svc SyncService
}

func NewSyncHandler(svc SyncService) *SyncHandler {
	return &SyncHandler{svc: svc}
}

type SyncRequest struct {
	KBID       string         `json:"kb_id"`
	SourceID   string         `json:"source_id"`
	SourceType string         `json:"source_type"`
	Config     map[string]any `json:"config"`
}

type ReconcileRequest struct {
	KBID  string `json:"kb_id"`
	Limit int    `json:"limit,omitempty"`
}

// Sync runs a data source sync to completion within the request. Requests
// rejected before the sync starts are 4xx; once it starts the outcome is a 200
// whose success flag reports it.
func (h *SyncHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}

	syncReq := domain.SyncRequest{
		KBID:       req.KBID,
		SourceID:   req.SourceID,
		SourceType: req.SourceType,
		Config:     req.Config,
	}
	if err := syncReq.Validate(); err != nil {
		api.HandleError(w, err)
		return
	}

	result, err := h.svc.SyncAll(r.Context(), syncReq)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, result)
}

func (h *SyncHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if req.KBID == "" {
		api.Error(w, http.StatusBadRequest, "kb_id is required")
		return
	}

	result, err := h.svc.Reconcile(r.Context(), req.KBID, req.Limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, result)
}
