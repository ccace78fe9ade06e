package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// FlexibleID accepts either a JSON string or a JSON number.
// Producers of the task queue send numeric ids; the HTTP surface sends strings.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = FlexibleID(n.String())
	return nil
}

// SyncJob is the task queue payload
type SyncJob struct {
	KBID       FlexibleID `json:"kb_id" validate:"required"`
	SourceID   FlexibleID `json:"ds_id" validate:"required"`
	Type       string     `json:"type" validate:"required"`
	ConfigJSON string     `json:"config_json"`

	// RunID links the job to a sync run created at enqueue time
	RunID    string `json:"run_id,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

// ParseSyncJob decodes and validates a queue payload
func ParseSyncJob(raw []byte) (*SyncJob, error) {
	var job SyncJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, NewDomainErrorWithCause(ErrCodeValidation, ErrInvalidJob.Message, err)
	}
	if err := validate.Struct(&job); err != nil {
		return nil, NewDomainErrorWithCause(ErrCodeValidation, ErrInvalidJob.Message, err)
	}
	return &job, nil
}

// ToRequest converts the job into a sync request, decoding its config
func (j *SyncJob) ToRequest() (SyncRequest, error) {
	cfg := map[string]any{}
	if s := strings.TrimSpace(j.ConfigJSON); s != "" {
		if err := json.Unmarshal([]byte(s), &cfg); err != nil {
			return SyncRequest{}, NewDomainErrorWithCause(ErrCodeValidation, ErrInvalidConnectorConf.Message, err)
		}
	}
	return SyncRequest{
		KBID:       string(j.KBID),
		SourceID:   string(j.SourceID),
		SourceType: j.Type,
		Config:     cfg,
	}, nil
}

// SyncRequest is the input to a single data source sync
type SyncRequest struct {
	KBID       string         `json:"kb_id" validate:"required"`
	SourceID   string         `json:"source_id" validate:"required"`
	SourceType string         `json:"source_type" validate:"required"`
	Config     map[string]any `json:"config"`
}

// Validate checks required fields
func (r SyncRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return NewDomainErrorWithCause(ErrCodeValidation, ErrMissingRequiredField.Message, err)
	}
	return nil
}

// SyncProgress is one event on a sync stream. Exactly one event has Done set.
type SyncProgress struct {
	Chunks int         `json:"chunks"`
	Status string      `json:"status"`
	Done   bool        `json:"done"`
	Result *SyncResult `json:"result,omitempty"`
}

// SyncResult aggregates counts for a finished sync
type SyncResult struct {
	Success           bool   `json:"success"`
	ChunksCount       int    `json:"chunks_count"`
	PageCount         int    `json:"page_count"`
	SkippedChunks     int    `json:"skipped_chunks"`
	VectorFailures    int    `json:"vector_failures"`
	KnowledgeFailures int    `json:"knowledge_failures"`
	Entities          int    `json:"entities"`
	Relations         int    `json:"relations"`
	DurationMS        int64  `json:"duration_ms"`
	ErrorMsg          string `json:"error_msg,omitempty"`
}

// SyncRunStatus is the lifecycle of a recorded sync run
type SyncRunStatus string

const (
	SyncRunStatusQueued    SyncRunStatus = "queued"
	SyncRunStatusRunning   SyncRunStatus = "running"
	SyncRunStatusCompleted SyncRunStatus = "completed"
	SyncRunStatusFailed    SyncRunStatus = "failed"
)

// SyncRun is a persisted record of one sync execution
type SyncRun struct {
	ID          string
	KBID        string
	SourceID    string
	SourceType  string
	Status      SyncRunStatus
	ChunksCount int
	PageCount   int
	Error       string
	CreatedAt   time.Time
	FinishedAt  *time.Time
}
