package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloo-solutions/chimera/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressReader_ReportsProgress(t *testing.T) {
	data := []byte("hello world this is test data")
	reader := bytes.NewReader(data)

	var progressCalls []struct{ current, total int64 }
	pr := &progressReader{
		reader: reader,
		total:  int64(len(data)),
		onProgress: func(current, total int64) {
			progressCalls = append(progressCalls, struct{ current, total int64 }{current, total})
		},
	}

	result, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, data, result)

	// Progress should have been called at least once
	assert.NotEmpty(t, progressCalls)

	// Final progress should equal total
	lastCall := progressCalls[len(progressCalls)-1]
	assert.Equal(t, int64(len(data)), lastCall.current)
	assert.Equal(t, int64(len(data)), lastCall.total)
}

func TestProgressReader_NilCallback(t *testing.T) {
	data := []byte("hello world")
	reader := bytes.NewReader(data)

	pr := &progressReader{
		reader:     reader,
		total:      int64(len(data)),
		onProgress: nil, // No callback
	}

	result, err := io.ReadAll(pr)
	require.NoError(t, err)
	assert.Equal(t, data, result)
}

func TestProgressReader_SmallReads(t *testing.T) {
	data := []byte("hello world")
	reader := bytes.NewReader(data)

	var progressValues []int64
	pr := &progressReader{
		reader: reader,
		total:  int64(len(data)),
		onProgress: func(current, total int64) {
			progressValues = append(progressValues, current)
		},
	}

	// Read one byte at a time
	buf := make([]byte, 1)
	for {
		n, err := pr.Read(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	// Progress should increase monotonically
	for i := 1; i < len(progressValues); i++ {
		assert.GreaterOrEqual(t, progressValues[i], progressValues[i-1])
	}
}

func TestParseResponse(t *testing.T) {
	t.Run("data envelope", func(t *testing.T) {
		resp, err := parseResponse(http.StatusOK, []byte(`{"data":{"run_id":"r1"}}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"run_id":"r1"}`, string(resp.Data))
	})

	t.Run("error envelope", func(t *testing.T) {
		_, err := parseResponse(http.StatusNotFound, []byte(`{"error":"sync run not found","code":"NOT_FOUND"}`))
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
		assert.Equal(t, "NOT_FOUND", apiErr.Code)
		assert.Equal(t, "sync run not found", apiErr.Message)
	})

	t.Run("plain text error", func(t *testing.T) {
		_, err := parseResponse(http.StatusBadGateway, []byte("bad gateway\n"))
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "bad gateway", apiErr.Message)
	})

	t.Run("garbage on success", func(t *testing.T) {
		_, err := parseResponse(http.StatusOK, []byte("<html>"))
		assert.Error(t, err)
	})
}

func TestReadEvents(t *testing.T) {
	stream := "event: thought\n" +
		`data: {"type":"thought","thought":{"stage":"retrieve","message":"searching"}}` + "\n\n" +
		": keepalive\n\n" +
		"event: delta\n" +
		`data: {"type":"delta","delta":"Ada"}` + "\n\n" +
		"event: summary\n" +
		`data: {"type":"summary","summary":{"final_status":"success","total_tokens":12}}` + "\n\n"

	var events []domain.AgentEvent
	err := readEvents(strings.NewReader(stream), func(ev domain.AgentEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.EventThought, events[0].Type)
	assert.Equal(t, "retrieve", events[0].Thought.Stage)
	assert.Equal(t, "Ada", events[1].Delta)
	assert.Equal(t, 12, events[2].Summary.TotalTokens)
}

func TestReadEvents_CallbackErrorStops(t *testing.T) {
	stream := `data: {"type":"delta","delta":"a"}` + "\n\n" + `data: {"type":"delta","delta":"b"}` + "\n\n"
	stop := errors.New("stop")

	calls := 0
	err := readEvents(strings.NewReader(stream), func(domain.AgentEvent) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestReadEvents_MalformedData(t *testing.T) {
	err := readEvents(strings.NewReader("data: {not json}\n\n"), func(domain.AgentEvent) error { return nil })
	assert.Error(t, err)
}

func TestAPIClient_Post(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/jobs", r.URL.Path)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "kb1", body["kb_id"])

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"data":{"run_id":"r1","status":"queued"}}`))
	}))
	defer server.Close()

	api := NewAPIClientWithConfig("secret-key", server.URL+"/")
	resp, err := api.Post(context.Background(), "/v1/jobs", map[string]string{"kb_id": "kb1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"run_id":"r1","status":"queued"}`, string(resp.Data))
}

func TestAPIClient_OmitsEmptyKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	_, err := NewAPIClientWithConfig("", server.URL).Get(context.Background(), "/v1/runs?kb_id=kb1")
	require.NoError(t, err)
}

func TestAPIClient_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: delta\ndata: {\"type\":\"delta\",\"delta\":\"hi\"}\n\n"))
		_, _ = w.Write([]byte("event: summary\ndata: {\"type\":\"summary\",\"summary\":{\"final_status\":\"success\"}}\n\n"))
	}))
	defer server.Close()

	var types []domain.AgentEventType
	err := NewAPIClientWithConfig("", server.URL).Stream(context.Background(), "/v1/agent/run",
		domain.AgentRequest{Query: "q", KBIDs: []string{"kb1"}},
		func(ev domain.AgentEvent) error {
			types = append(types, ev.Type)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []domain.AgentEventType{domain.EventDelta, domain.EventSummary}, types)
}

func TestAPIClient_StreamRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key","code":"UNAUTHORIZED"}`))
	}))
	defer server.Close()

	err := NewAPIClientWithConfig("bad", server.URL).Stream(context.Background(), "/v1/agent/run",
		domain.AgentRequest{}, func(domain.AgentEvent) error { return nil })
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestAPIClient_UploadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guide.md")
	require.NoError(t, os.WriteFile(path, []byte("# Guide"), 0600))

	var got []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "text/markdown", r.Header.Get("Content-Type"))
		got, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	var last int64
	err := NewAPIClientWithConfig("", "http://unused").UploadFile(context.Background(), server.URL+"/bucket/key", path, "text/markdown",
		func(current, total int64) { last = current })
	require.NoError(t, err)
	assert.Equal(t, "# Guide", string(got))
	assert.Equal(t, int64(7), last)
}
