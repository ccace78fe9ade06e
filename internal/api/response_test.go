package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopes(t *testing.T) {
	t.Run("success wraps data", func(t *testing.T) {
		w := httptest.NewRecorder()
		Success(w, http.StatusAccepted, map[string]string{"run_id": "r1"})

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"data":{"run_id":"r1"}}`, w.Body.String())
	})

	t.Run("error carries message only", func(t *testing.T) {
		w := httptest.NewRecorder()
		Error(w, http.StatusBadRequest, "kb_id is required")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"kb_id is required"}`, w.Body.String())
	})

	t.Run("nil data writes no body", func(t *testing.T) {
		w := httptest.NewRecorder()
		JSON(w, http.StatusNoContent, nil)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		KBID string `json:"kb_id"`
	}

	t.Run("valid body", func(t *testing.T) {
		var p payload
		w := httptest.NewRecorder()
		ok := DecodeJSON(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"kb_id":"kb1"}`)), &p)

		assert.True(t, ok)
		assert.Equal(t, "kb1", p.KBID)
	})

	t.Run("malformed body", func(t *testing.T) {
		var p payload
		w := httptest.NewRecorder()
		ok := DecodeJSON(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"kb_id":`)), &p)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("body over the cap", func(t *testing.T) {
		var p payload
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"kb_id":"a much longer knowledge base id"}`))
		r.Body = http.MaxBytesReader(w, r.Body, 10)
		ok := DecodeJSON(w, r, &p)

		assert.False(t, ok)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestDomainErrorToHTTP(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, http.StatusOK},
		{"validation error", domain.NewDomainError(domain.ErrCodeValidation, "invalid"), http.StatusBadRequest},
		{"not found error", domain.ErrSyncRunNotFound, http.StatusNotFound},
		{"unsupported source", domain.UnsupportedSourceError("notion"), http.StatusUnprocessableEntity},
		{"unauthorized error", domain.ErrInvalidAPIKey, http.StatusUnauthorized},
		{"graph not configured", domain.ErrGraphUnavailable, http.StatusServiceUnavailable},
		{"wrapped domain error", fmt.Errorf("reconcile: %w", domain.ErrQueueUnavailable), http.StatusServiceUnavailable},
		{"internal error", domain.NewDomainError(domain.ErrCodeInternalError, "internal"), http.StatusInternalServerError},
		{"unknown domain error", domain.NewDomainError("UNKNOWN", "unknown"), http.StatusInternalServerError},
		{"non-domain error", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DomainErrorToHTTP(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestHandleError(t *testing.T) {
	w := httptest.NewRecorder()

	HandleError(w, domain.ErrSyncRunNotFound)

	assert.Equal(t, http.StatusNotFound, w.Code)

	var result ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &result)
	require.NoError(t, err)
	assert.Contains(t, result.Error, "not found")
	assert.Equal(t, domain.ErrCodeNotFound, result.Code)
}
