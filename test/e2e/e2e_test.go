//go:build e2e

package e2e

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adaText = `# Ada Lovelace

Ada Lovelace worked with Charles Babbage on the Analytical Engine.
She published the first algorithm intended to be carried out by such a machine.`

func TestE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	env := SetupE2EEnv(t)
	defer env.Cleanup()

	t.Run("health is open and reports backends", func(t *testing.T) {
		resp, err := env.Get("/health", "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var health map[string]any
		require.NoError(t, json.Unmarshal(resp.Data, &health))
		assert.Equal(t, "ok", health["status"])
	})

	t.Run("v1 routes require the static key", func(t *testing.T) {
		resp, err := env.Get("/v1/runs?kb_id=kb-e2e", "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp, err = env.Get("/v1/runs?kb_id=kb-e2e", "wrong-key")
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("text sync indexes chunks", func(t *testing.T) {
		resp, err := env.Post("/v1/sync", map[string]any{
			"kb_id":       "kb-e2e",
			"source_id":   "ada-notes",
			"source_type": "text",
			"config":      map[string]any{"content": adaText, "file_name": "ada.md"},
		}, e2eAPIKey)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, resp.Error)

		var result domain.SyncResult
		require.NoError(t, json.Unmarshal(resp.Data, &result))
		assert.True(t, result.Success, result.ErrorMsg)
		assert.Positive(t, result.ChunksCount)
		assert.Zero(t, result.VectorFailures)
	})

	t.Run("resyncing unchanged content is idempotent", func(t *testing.T) {
		resp, err := env.Post("/v1/sync", map[string]any{
			"kb_id":       "kb-e2e",
			"source_id":   "ada-notes",
			"source_type": "text",
			"config":      map[string]any{"content": adaText, "file_name": "ada.md"},
		}, e2eAPIKey)
		require.NoError(t, err)

		var result domain.SyncResult
		require.NoError(t, json.Unmarshal(resp.Data, &result))
		assert.True(t, result.Success, result.ErrorMsg)
		assert.Positive(t, result.ChunksCount)
		assert.Zero(t, result.VectorFailures)
	})

	t.Run("unknown source type is unsupported", func(t *testing.T) {
		resp, err := env.Post("/v1/sync", map[string]any{
			"kb_id":       "kb-e2e",
			"source_id":   "x",
			"source_type": "gopher",
		}, e2eAPIKey)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("agent run streams an answer with references", func(t *testing.T) {
		events, err := env.StreamAgent(domain.AgentRequest{
			Query: "Who worked on the Analytical Engine?",
			KBIDs: []string{"kb-e2e"},
		})
		require.NoError(t, err)
		require.NotEmpty(t, events)

		var answer strings.Builder
		var refs int
		for _, ev := range events {
			switch ev.Type {
			case domain.EventDelta:
				answer.WriteString(ev.Delta)
			case domain.EventReference:
				refs++
			}
		}
		assert.Equal(t, stubAnswer, answer.String())
		assert.Positive(t, refs)

		last := events[len(events)-1]
		require.Equal(t, domain.EventSummary, last.Type)
		assert.Equal(t, domain.FinalStatusSuccess, last.Summary.FinalStatus)
		assert.Positive(t, last.Summary.TotalTokens)
	})

	t.Run("uploaded file syncs from object storage", func(t *testing.T) {
		resp, err := env.Post("/v1/uploads", map[string]string{
			"kb_id":     "kb-e2e",
			"file_name": "engine.md",
			"mime_type": "text/markdown",
		}, e2eAPIKey)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, resp.Error)

		var upload struct {
			UploadURL    string         `json:"upload_url"`
			SourceConfig map[string]any `json:"source_config"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &upload))
		require.NoError(t, env.UploadFile(upload.UploadURL, []byte(adaText), "text/markdown"))

		resp, err = env.Post("/v1/sync", map[string]any{
			"kb_id":       "kb-e2e",
			"source_id":   "engine-doc",
			"source_type": "file",
			"config":      upload.SourceConfig,
		}, e2eAPIKey)
		require.NoError(t, err)

		var result domain.SyncResult
		require.NoError(t, json.Unmarshal(resp.Data, &result))
		assert.True(t, result.Success, result.ErrorMsg)
		assert.Positive(t, result.ChunksCount)
	})

	t.Run("queued job is processed by the worker", func(t *testing.T) {
		resp, err := env.Post("/v1/jobs", map[string]any{
			"kb_id":       "kb-e2e",
			"source_id":   "queued-notes",
			"source_type": "text",
			"config":      map[string]any{"content": "The Difference Engine computed polynomial tables."},
		}, e2eAPIKey)
		require.NoError(t, err)
		require.Equal(t, http.StatusAccepted, resp.StatusCode, resp.Error)

		var queued struct {
			RunID string `json:"run_id"`
		}
		require.NoError(t, json.Unmarshal(resp.Data, &queued))
		require.NotEmpty(t, queued.RunID)

		run, err := env.WaitForRun(queued.RunID, 60*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "succeeded", run["status"])
		assert.EqualValues(t, 1, run["chunks_count"])
	})
}

func TestE2E_CLIWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	env := SetupE2EEnv(t)
	defer env.Cleanup()

	docPath := filepath.Join(t.TempDir(), "lovelace.md")
	require.NoError(t, os.WriteFile(docPath, []byte(adaText), 0600))

	t.Run("chimera sync uploads and indexes a file", func(t *testing.T) {
		out, err := env.RunChimera("sync", "--kb", "kb-cli", "--source", "lovelace", "--file", docPath)
		require.NoError(t, err, out)
		assert.Contains(t, out, "Sync succeeded")
	})

	var runID string
	t.Run("chimera enqueue returns a run id", func(t *testing.T) {
		out, err := env.RunChimera("enqueue", "--output", "--kb", "kb-cli", "--source", "inline",
			"--type", "text", "--set", "content=Babbage designed the Analytical Engine.")
		require.NoError(t, err, out)

		var queued struct {
			RunID string `json:"run_id"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &queued), out)
		runID = queued.RunID
		require.NotEmpty(t, runID)

		_, err = env.WaitForRun(runID, 60*time.Second)
		require.NoError(t, err)
	})

	t.Run("chimera run shows the run", func(t *testing.T) {
		out, err := env.RunChimera("run", runID)
		require.NoError(t, err, out)
		assert.Contains(t, out, "status:   succeeded")

		out, err = env.RunChimera("run", "--kb", "kb-cli")
		require.NoError(t, err, out)
		assert.Contains(t, out, runID)
	})

	t.Run("chimera ask streams the answer", func(t *testing.T) {
		out, err := env.RunChimera("ask", "--kb", "kb-cli", "Who", "designed", "the", "engine?")
		require.NoError(t, err, out)
		assert.Contains(t, out, stubAnswer)
		assert.Contains(t, out, "References:")
	})

	t.Run("bad key is rejected", func(t *testing.T) {
		out, err := env.RunChimera("run", "--api-key", "nope", "--kb", "kb-cli")
		assert.Error(t, err)
		assert.Contains(t, out, "401")
	})
}
