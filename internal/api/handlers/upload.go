package handlers

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/cloo-solutions/chimera/internal/api"
	"github.com/google/uuid"
)

type UploadURLGenerator interface {
	GenerateUploadURL(ctx context.Context, key string, contentType string) (string, error)
}

// UploadHandler hands out presigned URLs for documents that a file source
// sync later reads back by storage path.
type UploadHandler struct {
	store UploadURLGenerator
}

func NewUploadHandler(store UploadURLGenerator) *UploadHandler {
	return &UploadHandler{store: store}
}

type InitUploadRequest struct {
	KBID     string `json:"kb_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
}

type InitUploadResponse struct {
	StoragePath string `json:"storage_path"`
	UploadURL   string `json:"upload_url"`
	// SourceConfig can be passed as the config of a file source sync
	SourceConfig map[string]any `json:"source_config"`
}

func (h *UploadHandler) InitUpload(w http.ResponseWriter, r *http.Request) {
	var req InitUploadRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}

	if req.KBID == "" {
		api.Error(w, http.StatusBadRequest, "kb_id is required")
		return
	}
	name := path.Base(strings.TrimSpace(req.FileName))
	if name == "" || name == "." || name == "/" {
		api.Error(w, http.StatusBadRequest, "file_name is required")
		return
	}
	if req.MimeType == "" {
		api.Error(w, http.StatusBadRequest, "mime_type is required")
		return
	}

	key := fmt.Sprintf("kbs/%s/%s/%s", req.KBID, uuid.NewString(), name)
	url, err := h.store.GenerateUploadURL(r.Context(), key, req.MimeType)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, InitUploadResponse{
		StoragePath: key,
		UploadURL:   url,
		SourceConfig: map[string]any{
			"storage_path": key,
			"file_name":    name,
		},
	})
}
