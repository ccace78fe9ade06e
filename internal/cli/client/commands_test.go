package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs cmd under a root carrying the persistent client flags
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	useConfigDir(t, t.TempDir())
	t.Setenv(envAPIKey, "")
	t.Setenv(envAPIURL, "")

	root := &cobra.Command{Use: "chimera", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().String("api-key", "", "")
	root.PersistentFlags().String("api-url", "", "")
	root.PersistentFlags().Bool("output", false, "")
	root.AddCommand(cmd)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{cmd.Name()}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestSourceFlags_Config(t *testing.T) {
	f := sourceFlags{
		configJSON: `{"content":"from json","keep":1}`,
		set:        []string{"content=from set", " page = 2"},
	}
	cfg, err := f.config()
	require.NoError(t, err)
	assert.Equal(t, "from set", cfg["content"])
	assert.Equal(t, float64(1), cfg["keep"])
	assert.Equal(t, " 2", cfg["page"])

	_, err = (&sourceFlags{set: []string{"novalue"}}).config()
	assert.Error(t, err)
	_, err = (&sourceFlags{configJSON: "[1,2]"}).config()
	assert.Error(t, err)
}

func TestDetectMimeType(t *testing.T) {
	assert.Equal(t, "text/markdown", detectMimeType("README.MD"))
	assert.Equal(t, "text/plain", detectMimeType("LICENSE"))
	assert.Equal(t, "application/pdf", detectMimeType("paper.pdf"))
	assert.Equal(t, "application/octet-stream", detectMimeType("blob.zzunknown"))
}

func TestSyncCmd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sync", r.URL.Path)
		var req domain.SyncRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "kb1", req.KBID)
		assert.Equal(t, "text", req.SourceType)
		assert.Equal(t, "Ada wrote programs", req.Config["content"])

		_ = json.NewEncoder(w).Encode(map[string]any{"data": domain.SyncResult{
			Success: true, ChunksCount: 2, PageCount: 1, Entities: 3, Relations: 1,
		}})
	}))
	defer server.Close()

	out, err := execute(t, SyncCmd(), "--api-url", server.URL,
		"--kb", "kb1", "--source", "notes", "--type", "text", "--set", "content=Ada wrote programs")
	require.NoError(t, err)
	assert.Contains(t, out, "Sync succeeded")
	assert.Contains(t, out, "3 entities, 1 relations")
}

func TestSyncCmd_FailedResultIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": domain.SyncResult{ErrorMsg: "fetch failed"}})
	}))
	defer server.Close()

	out, err := execute(t, SyncCmd(), "--api-url", server.URL, "--kb", "kb1", "--source", "s", "--type", "text")
	require.Error(t, err)
	assert.Contains(t, out, "fetch failed")
}

func TestSyncCmd_RequiresType(t *testing.T) {
	_, err := execute(t, SyncCmd(), "--kb", "kb1", "--source", "s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--type")
}

func TestEnqueueCmd_UploadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guide.md")
	require.NoError(t, os.WriteFile(path, []byte("# Guide"), 0600))

	var uploaded, enqueued bool
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/uploads":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "guide.md", body["file_name"])
			assert.Equal(t, "text/markdown", body["mime_type"])
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
				"storage_path":  "kbs/kb1/u/guide.md",
				"upload_url":    server.URL + "/bucket/kbs/kb1/u/guide.md",
				"source_config": map[string]any{"storage_path": "kbs/kb1/u/guide.md", "file_name": "guide.md"},
			}})
		case "/bucket/kbs/kb1/u/guide.md":
			uploaded = true
		case "/v1/jobs":
			var req domain.SyncRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "file", req.SourceType)
			assert.Equal(t, "kbs/kb1/u/guide.md", req.Config["storage_path"])
			enqueued = true
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"data":{"run_id":"run-1","status":"queued"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	out, err := execute(t, EnqueueCmd(), "--api-url", server.URL, "--kb", "kb1", "--source", "handbook", "--file", path)
	require.NoError(t, err)
	assert.True(t, uploaded)
	assert.True(t, enqueued)
	assert.Contains(t, out, "Queued run run-1")
}

func TestRunCmd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/runs/run-1":
			_, _ = w.Write([]byte(`{"data":{"id":"run-1","status":"failed","error":"boom","created_at":"2026-01-02T03:04:05Z"}}`))
		case "/v1/runs":
			assert.Equal(t, "kb1", r.URL.Query().Get("kb_id"))
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`{"data":{"runs":[{"id":"run-1","status":"succeeded","source_type":"text","source_id":"notes"}]}}`))
		}
	}))
	defer server.Close()

	out, err := execute(t, RunCmd(), "--api-url", server.URL, "run-1")
	require.NoError(t, err)
	assert.Contains(t, out, "status:   failed")
	assert.Contains(t, out, "error:    boom")

	out, err = execute(t, RunCmd(), "--api-url", server.URL, "--kb", "kb1", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "succeeded")

	_, err = execute(t, RunCmd())
	assert.Error(t, err)
}

func TestAnswerRenderer(t *testing.T) {
	var out, errOut bytes.Buffer
	r := &answerRenderer{out: &out, errOut: &errOut, verbose: true}

	events := []domain.AgentEvent{
		{Type: domain.EventThought, Thought: &domain.Thought{Stage: "retrieve", Message: "searching"}},
		{Type: domain.EventReference, Reference: &domain.Reference{SourceID: "s1", FileName: "guide.pdf", PageNumber: 4, Score: 0.9}},
		{Type: domain.EventDelta, Delta: "Ada "},
		{Type: domain.EventDelta, Delta: "Lovelace"},
		{Type: domain.EventSummary, Summary: &domain.RunSummary{FinalStatus: domain.FinalStatusSuccess, TotalTokens: 42}},
	}
	for _, ev := range events {
		require.NoError(t, r.handle(ev))
	}
	require.NoError(t, r.finish())

	assert.Contains(t, out.String(), "Ada Lovelace\n")
	assert.Contains(t, out.String(), "[1] guide.pdf p.4 (0.90)")
	assert.Contains(t, errOut.String(), "[retrieve] searching")
	assert.Contains(t, errOut.String(), "42 tokens")
}

func TestAnswerRenderer_FailedRun(t *testing.T) {
	r := &answerRenderer{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}
	require.NoError(t, r.handle(domain.AgentEvent{Type: domain.EventError, Error: "llm unavailable"}))
	require.NoError(t, r.handle(domain.AgentEvent{Type: domain.EventSummary, Summary: &domain.RunSummary{FinalStatus: domain.FinalStatusError}}))

	err := r.finish()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm unavailable")
}

func TestAnswerRenderer_MissingSummary(t *testing.T) {
	r := &answerRenderer{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}
	require.NoError(t, r.handle(domain.AgentEvent{Type: domain.EventDelta, Delta: "partial"}))
	assert.Error(t, r.finish())
}

func TestAskCmd_JSONOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.AgentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "who wrote it", req.Query)
		assert.Equal(t, []string{"kb1", "kb2"}, req.KBIDs)

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: delta\ndata: {\"type\":\"delta\",\"delta\":\"Ada\"}\n\n"))
		_, _ = w.Write([]byte("event: summary\ndata: {\"type\":\"summary\",\"summary\":{\"final_status\":\"success\"}}\n\n"))
	}))
	defer server.Close()

	out, err := execute(t, AskCmd(), "--api-url", server.URL, "--output", "--kb", "kb1", "--kb", "kb2", "who", "wrote", "it")
	require.NoError(t, err)
	assert.Contains(t, out, `"delta": "Ada"`)
	assert.Contains(t, out, `"final_status": "success"`)
}
